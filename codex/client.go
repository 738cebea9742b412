package codex

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
)

// ThreadClient is the backend surface the adapter consumes: one streaming
// turn against an opaque thread. An empty threadID starts a new thread; the
// feed's thread.started event carries the id the backend assigned.
type ThreadClient interface {
	RunTurn(ctx context.Context, threadID, model, prompt string) (TurnSource, error)
}

// TurnSource is one in-flight turn feed.
type TurnSource interface {
	Next(ctx context.Context) (ThreadEvent, error)
	Close() error
}

// chatClient implements ThreadClient over the OpenAI chat completions API,
// holding thread transcripts client-side. Thread ids are issued here; to
// the adapter they are as opaque as a server-side id would be.
type chatClient struct {
	client openai.Client
	model  openai.ChatModel
	system string

	mu      sync.Mutex
	threads map[string][]openai.ChatCompletionMessageParamUnion
}

// ClientOption configures the chat-backed client.
type ClientOption func(*chatClient)

// WithChatModel sets the default chat model.
func WithChatModel(model string) ClientOption {
	return func(c *chatClient) { c.model = openai.ChatModel(model) }
}

// WithSystemPrompt prepends a system message to every new thread.
func WithSystemPrompt(prompt string) ClientOption {
	return func(c *chatClient) { c.system = prompt }
}

// NewChatClient builds a ThreadClient over the OpenAI API. With no request
// options the SDK reads OPENAI_API_KEY from the environment.
func NewChatClient(opts []ClientOption, requestOpts ...option.RequestOption) ThreadClient {
	c := &chatClient{
		client:  openai.NewClient(requestOpts...),
		model:   openai.ChatModelGPT4o,
		threads: make(map[string][]openai.ChatCompletionMessageParamUnion),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *chatClient) RunTurn(ctx context.Context, threadID, model, prompt string) (TurnSource, error) {
	c.mu.Lock()
	fresh := threadID == ""
	if fresh {
		threadID = uuid.NewString()
		if c.system != "" {
			c.threads[threadID] = []openai.ChatCompletionMessageParamUnion{openai.SystemMessage(c.system)}
		}
	}
	history := make([]openai.ChatCompletionMessageParamUnion, len(c.threads[threadID]))
	copy(history, c.threads[threadID])
	c.mu.Unlock()

	chatModel := c.model
	if model != "" {
		chatModel = openai.ChatModel(model)
	}

	messages := append(history, openai.UserMessage(prompt))
	stream := c.client.Chat.Completions.NewStreaming(ctx, openai.ChatCompletionNewParams{
		Model:         chatModel,
		Messages:      messages,
		StreamOptions: openai.ChatCompletionStreamOptionsParam{IncludeUsage: openai.Bool(true)},
	})

	return &chatTurn{
		client:   c,
		threadID: threadID,
		prompt:   prompt,
		stream:   stream,
		queue: []ThreadEvent{
			{Type: "thread.started", ThreadID: threadID},
			{Type: "turn.started"},
		},
	}, nil
}

// commit records one completed exchange on the thread.
func (c *chatClient) commit(threadID, prompt, reply string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	history := c.threads[threadID]
	history = append(history, openai.UserMessage(prompt))
	if reply != "" {
		history = append(history, openai.AssistantMessage(reply))
	}
	c.threads[threadID] = history
}

// chatTurn synthesizes the turn feed from a chat completions stream.
type chatTurn struct {
	client   *chatClient
	threadID string
	prompt   string
	stream   *ssestream.Stream[openai.ChatCompletionChunk]

	queue []ThreadEvent
	text  strings.Builder
	usage *TurnUsage
	done  bool
}

func (t *chatTurn) Next(ctx context.Context) (ThreadEvent, error) {
	for {
		if len(t.queue) > 0 {
			ev := t.queue[0]
			t.queue = t.queue[1:]
			return ev, nil
		}
		if t.done {
			return ThreadEvent{}, io.EOF
		}
		if err := ctx.Err(); err != nil {
			return ThreadEvent{}, err
		}

		if !t.stream.Next() {
			if err := t.stream.Err(); err != nil {
				return ThreadEvent{}, err
			}
			t.finish()
			continue
		}

		chunk := t.stream.Current()
		if chunk.Usage.TotalTokens > 0 {
			t.usage = &TurnUsage{
				InputTokens:       int(chunk.Usage.PromptTokens),
				CachedInputTokens: int(chunk.Usage.PromptTokensDetails.CachedTokens),
				OutputTokens:      int(chunk.Usage.CompletionTokens),
			}
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				t.text.WriteString(choice.Delta.Content)
				t.queue = append(t.queue, ThreadEvent{Type: "agent_message.delta", Delta: choice.Delta.Content})
			}
		}
	}
}

// finish closes out the turn: the completed message item, the usage-bearing
// completion event, and the transcript commit.
func (t *chatTurn) finish() {
	t.done = true
	reply := t.text.String()
	t.client.commit(t.threadID, t.prompt, reply)
	t.queue = append(t.queue,
		ThreadEvent{Type: "item.completed", Item: &ThreadItem{Type: "agent_message", Text: reply}},
		ThreadEvent{Type: "turn.completed", ThreadID: t.threadID, Usage: t.usage},
	)
}

func (t *chatTurn) Close() error { return t.stream.Close() }
