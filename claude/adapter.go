package claude

import (
	"context"
	"sync"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/google/uuid"

	"github.com/agentbridge/agentbridge/event"
	"github.com/agentbridge/agentbridge/provider"
	"github.com/agentbridge/agentbridge/run"
	"github.com/agentbridge/agentbridge/structured"
)

// Name is the provider identifier this adapter registers under.
const Name = "claude"

// DefaultMaxTokens caps completions when the caller does not say otherwise.
const DefaultMaxTokens = 8192

func init() {
	provider.Register(Name, func() (provider.Adapter, error) {
		return New(NewAPIClient()), nil
	})
}

// Config holds adapter-wide settings.
type Config struct {
	// DefaultModel is used when a thread does not pin one.
	DefaultModel string

	// MaxTokens is the per-turn completion cap.
	MaxTokens int

	// SystemPrompt, when set, is sent as the system block on every turn.
	SystemPrompt string
}

// Option configures the adapter.
type Option func(*Config)

// WithDefaultModel sets the fallback model.
func WithDefaultModel(model string) Option {
	return func(c *Config) { c.DefaultModel = model }
}

// WithMaxTokens sets the per-turn completion cap.
func WithMaxTokens(n int) Option {
	return func(c *Config) { c.MaxTokens = n }
}

// WithSystemPrompt sets the system block sent on every turn.
func WithSystemPrompt(prompt string) Option {
	return func(c *Config) { c.SystemPrompt = prompt }
}

// Adapter runs prompts against the Anthropic Messages streaming API.
// Conversation state is a client-side transcript keyed by a session id the
// adapter issues itself; the API is stateless across calls.
type Adapter struct {
	client StreamClient
	cfg    Config

	mu       sync.Mutex
	sessions map[string]*threadState // transcripts by session id, for resume
}

// New creates a Claude adapter over the given client.
func New(client StreamClient, opts ...Option) *Adapter {
	cfg := Config{
		DefaultModel: string(sdk.ModelClaudeSonnet4_5),
		MaxTokens:    DefaultMaxTokens,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Adapter{
		client:   client,
		cfg:      cfg,
		sessions: make(map[string]*threadState),
	}
}

// threadState is the backend-private state behind claude thread handles.
type threadState struct {
	cfg provider.ThreadConfig

	mu         sync.Mutex
	transcript []sdk.MessageParam
}

// snapshot returns a copy of the transcript for one API call.
func (s *threadState) snapshot() []sdk.MessageParam {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]sdk.MessageParam, len(s.transcript))
	copy(out, s.transcript)
	return out
}

// appendTurn records one completed exchange. A cancelled run's partial
// reply is kept so a resumed conversation sees what was actually said.
func (s *threadState) appendTurn(prompt, reply string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcript = append(s.transcript, sdk.NewUserMessage(sdk.NewTextBlock(prompt)))
	if reply != "" {
		s.transcript = append(s.transcript, sdk.NewAssistantMessage(sdk.NewTextBlock(reply)))
	}
}

func (a *Adapter) Name() string { return Name }

// StartThread creates a fresh thread. The session id is issued immediately:
// the API has no server-side sessions, so the adapter's own identifier is
// authoritative from the first turn.
func (a *Adapter) StartThread(opts ...provider.ThreadOption) (*provider.Thread, error) {
	cfg := provider.ApplyThreadOptions(opts)
	state := &threadState{cfg: cfg}
	id := uuid.NewString()

	a.mu.Lock()
	a.sessions[id] = state
	a.mu.Unlock()

	t := provider.NewThread(Name, cfg.Resume, state)
	t.AdoptSession(id)
	return t, nil
}

// ResumeThread rebinds a handle to a session this adapter served earlier.
// An unknown id gets a fresh transcript under that id: the caller keeps
// continuity of naming even when the in-memory history is gone.
func (a *Adapter) ResumeThread(id string, opts ...provider.ThreadOption) (*provider.Thread, error) {
	cfg := provider.ApplyThreadOptions(opts)

	a.mu.Lock()
	state, ok := a.sessions[id]
	if !ok {
		state = &threadState{cfg: cfg}
		a.sessions[id] = state
	}
	a.mu.Unlock()

	t := provider.NewThread(Name, id, state)
	t.AdoptSession(id)
	return t, nil
}

// ThreadID reports the session identifier.
func (a *Adapter) ThreadID(t *provider.Thread) (string, bool) { return t.ID() }

// Close drops the thread's transcript from the adapter's session table.
func (a *Adapter) Close(t *provider.Thread) error {
	if id, ok := t.ID(); ok {
		a.mu.Lock()
		delete(a.sessions, id)
		a.mu.Unlock()
	}
	return nil
}

// RunStreamed starts one streaming turn and returns its canonical events.
func (a *Adapter) RunStreamed(ctx context.Context, t *provider.Thread, prompt string, opts ...provider.RunOption) (*event.Stream, error) {
	stream, _, err := a.startRun(ctx, t, prompt, provider.ApplyRunOptions(opts))
	return stream, err
}

// Run executes one turn to completion.
func (a *Adapter) Run(ctx context.Context, t *provider.Thread, prompt string, opts ...provider.RunOption) (*event.Result, error) {
	cfg := provider.ApplyRunOptions(opts)
	stream, norm, err := a.startRun(ctx, t, prompt, cfg)
	if err != nil {
		return nil, err
	}

	result, runErr := event.Collect(ctx, stream)
	if stream.Drained() {
		// The pump goroutine has exited; the normalizer is ours to read.
		result.Raw = norm.Raw()
	}
	if result.ThreadID == "" {
		if id, ok := t.ID(); ok {
			result.ThreadID = id
		}
	}
	if runErr != nil {
		return result, runErr
	}
	result.Structured = structured.Postprocess(result.Text, cfg.Schema)
	return result, nil
}

func (a *Adapter) startRun(ctx context.Context, t *provider.Thread, prompt string, cfg provider.RunConfig) (*event.Stream, *normalizer, error) {
	if t.Provider() != Name {
		return nil, nil, provider.ErrForeignThread
	}
	state, ok := t.State().(*threadState)
	if !ok {
		return nil, nil, provider.ErrForeignThread
	}

	if cfg.Schema != nil {
		instr, err := structured.Instruction(cfg.Schema)
		if err != nil {
			return nil, nil, err
		}
		prompt = prompt + "\n\n" + instr
	}

	token, err := t.BeginRun()
	if err != nil {
		return nil, nil, err
	}
	release := run.BindContext(ctx, token)

	// The SSE stream lives on its own context so a token abort tears down
	// the network read promptly.
	streamCtx, streamCancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-token.Done():
			streamCancel()
		case <-streamCtx.Done():
		}
	}()

	model := state.cfg.Model
	if model == "" {
		model = a.cfg.DefaultModel
	}
	params := sdk.MessageNewParams{
		Model:     sdk.Model(model),
		MaxTokens: int64(a.cfg.MaxTokens),
		Messages:  append(state.snapshot(), sdk.NewUserMessage(sdk.NewTextBlock(prompt))),
	}
	if a.cfg.SystemPrompt != "" {
		params.System = []sdk.TextBlockParam{{Text: a.cfg.SystemPrompt}}
	}

	src := a.client.NewStreaming(streamCtx, params)

	sessionID, _ := t.ID()
	norm := newNormalizer(sessionID)

	stream := run.Pump(streamCtx, src, norm.Event, token, func() {
		state.appendTurn(prompt, norm.Text())
		streamCancel()
		release()
		t.EndRun(token)
	})
	return stream, norm, nil
}
