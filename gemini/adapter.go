package gemini

import (
	"context"
	"time"

	"github.com/agentbridge/agentbridge/event"
	"github.com/agentbridge/agentbridge/provider"
	"github.com/agentbridge/agentbridge/run"
	"github.com/agentbridge/agentbridge/structured"
)

// Name is the provider identifier this adapter registers under.
const Name = "gemini"

func init() {
	provider.Register(Name, func() (provider.Adapter, error) {
		return New(), nil
	})
}

// Config holds adapter-wide settings shared by all threads.
type Config struct {
	// CLIPath is the Gemini binary ("gemini" on PATH by default).
	CLIPath string

	// Yolo enables the CLI's permissive-execution flag.
	Yolo bool

	// SoftKillDelay and HardKillDelay tune termination escalation.
	SoftKillDelay time.Duration
	HardKillDelay time.Duration
}

// Option configures the adapter.
type Option func(*Config)

// WithCLIPath overrides the binary location.
func WithCLIPath(path string) Option {
	return func(c *Config) { c.CLIPath = path }
}

// WithYolo toggles permissive execution.
func WithYolo(yolo bool) Option {
	return func(c *Config) { c.Yolo = yolo }
}

// WithKillDelays tunes the abort escalation deadlines.
func WithKillDelays(soft, hard time.Duration) Option {
	return func(c *Config) {
		c.SoftKillDelay = soft
		c.HardKillDelay = hard
	}
}

// Adapter runs prompts through the Gemini CLI subprocess.
type Adapter struct {
	cfg Config
}

// New creates a Gemini adapter.
func New(opts ...Option) *Adapter {
	cfg := Config{CLIPath: "gemini", Yolo: true}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Adapter{cfg: cfg}
}

// threadState is the backend-private state behind gemini thread handles.
type threadState struct {
	cfg provider.ThreadConfig
}

func (a *Adapter) Name() string { return Name }

// StartThread creates a fresh thread. The CLI reveals its session id only
// in run output (or, failing that, via the session listing), so a new
// thread has no identifier yet.
func (a *Adapter) StartThread(opts ...provider.ThreadOption) (*provider.Thread, error) {
	cfg := provider.ApplyThreadOptions(opts)
	return provider.NewThread(Name, cfg.Resume, &threadState{cfg: cfg}), nil
}

// ResumeThread creates a handle onto an existing CLI session.
func (a *Adapter) ResumeThread(id string, opts ...provider.ThreadOption) (*provider.Thread, error) {
	t, err := a.StartThread(opts...)
	if err != nil {
		return nil, err
	}
	t.AdoptSession(id)
	return t, nil
}

// ThreadID reports the session identifier once one has been observed.
func (a *Adapter) ThreadID(t *provider.Thread) (string, bool) { return t.ID() }

// Close releases thread resources. The CLI holds nothing between runs.
func (a *Adapter) Close(*provider.Thread) error { return nil }

// RunStreamed spawns one CLI invocation and streams canonical events.
func (a *Adapter) RunStreamed(ctx context.Context, t *provider.Thread, prompt string, opts ...provider.RunOption) (*event.Stream, error) {
	stream, _, err := a.startRun(ctx, t, prompt, provider.ApplyRunOptions(opts))
	return stream, err
}

// Run executes one prompt to completion.
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

// startRun claims the run slot, spawns the process, and wires the pump.
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

	args := buildArgs(state.cfg, formatStreamJSON, t.ResumeToken(), prompt, a.cfg.Yolo)
	proc, err := run.StartProcess(run.ProcessConfig{
		Path:          a.cfg.CLIPath,
		Args:          args,
		Dir:           state.cfg.WorkDir,
		Env:           state.cfg.Env,
		SoftKillDelay: a.cfg.SoftKillDelay,
		HardKillDelay: a.cfg.HardKillDelay,
	}, token)
	if err != nil {
		release()
		t.EndRun(token)
		return nil, nil, err
	}
	// The prompt travels in the argument vector; the CLI gets no stdin.
	proc.CloseInput()

	norm := &normalizer{}
	stream := run.PumpProcess(proc, norm.Line, token, func() {
		release()
		// Fold the observed session identifier back into the thread; fall
		// back to the session listing when the CLI revealed nothing.
		updateCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		provider.UpdateSession(updateCtx, t, norm.sessionID, a)
		cancel()
		t.EndRun(token)
	})
	return stream, norm, nil
}
