package codex

import (
	"context"
	"time"

	"github.com/agentbridge/agentbridge/event"
	"github.com/agentbridge/agentbridge/provider"
	"github.com/agentbridge/agentbridge/run"
	"github.com/agentbridge/agentbridge/structured"
)

// Name is the provider identifier this adapter registers under.
const Name = "codex"

func init() {
	provider.Register(Name, func() (provider.Adapter, error) {
		return New(NewChatClient(nil)), nil
	})
}

// Adapter runs prompts against an opaque-thread backend. The backend owns
// all conversation state; the adapter holds nothing but the thread handle
// and the identifier observed from the event feed.
type Adapter struct {
	client ThreadClient
}

// New creates a codex adapter over the given client.
func New(client ThreadClient) *Adapter {
	return &Adapter{client: client}
}

// threadState is the backend-private state behind codex thread handles.
type threadState struct {
	cfg provider.ThreadConfig
}

func (a *Adapter) Name() string { return Name }

// StartThread creates a fresh thread. The backend issues the identifier on
// the first turn; until then the handle has none.
func (a *Adapter) StartThread(opts ...provider.ThreadOption) (*provider.Thread, error) {
	cfg := provider.ApplyThreadOptions(opts)
	return provider.NewThread(Name, cfg.Resume, &threadState{cfg: cfg}), nil
}

// ResumeThread creates a handle onto an existing backend thread.
func (a *Adapter) ResumeThread(id string, opts ...provider.ThreadOption) (*provider.Thread, error) {
	t, err := a.StartThread(opts...)
	if err != nil {
		return nil, err
	}
	t.AdoptSession(id)
	return t, nil
}

// ThreadID reports the backend-issued identifier once one is observed.
func (a *Adapter) ThreadID(t *provider.Thread) (string, bool) { return t.ID() }

// Close releases thread resources. The backend owns the state.
func (a *Adapter) Close(*provider.Thread) error { return nil }

// RunStreamed starts one turn and returns its canonical events.
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

	// The turn feed lives on its own context so a token abort tears down
	// the backend read promptly.
	turnCtx, turnCancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-token.Done():
			turnCancel()
		case <-turnCtx.Done():
		}
	}()

	src, err := a.client.RunTurn(turnCtx, t.ResumeToken(), state.cfg.Model, prompt)
	if err != nil {
		turnCancel()
		release()
		t.EndRun(token)
		return nil, nil, err
	}

	norm := &normalizer{}
	stream := run.Pump(turnCtx, src, norm.Event, token, func() {
		updateCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		provider.UpdateSession(updateCtx, t, norm.threadID, nil)
		cancel()
		turnCancel()
		release()
		t.EndRun(token)
	})
	return stream, norm, nil
}
