// Package provider defines the uniform adapter contract over heterogeneous
// coding-agent backends, the thread handles adapters issue, the process-wide
// adapter registry, and the session-resume resolution shared by all
// backends.
package provider

import (
	"context"
	"errors"

	"github.com/agentbridge/agentbridge/event"
)

// Sentinel errors for contract violations and lookup misses.
var (
	// ErrRunActive rejects a second run on a thread whose previous run has
	// not resolved. Runs are never queued.
	ErrRunActive = errors.New("a run is already in flight on this thread")

	// ErrNotRegistered reports an unknown provider identifier.
	ErrNotRegistered = errors.New("provider not registered")

	// ErrForeignThread rejects a thread handle issued by a different
	// adapter.
	ErrForeignThread = errors.New("thread belongs to a different provider")
)

// Adapter is the uniform contract every backend implements: process-CLI,
// streaming SDK, and opaque-thread SDK alike. Implementations own the
// backend-private state behind the Thread handle; callers never depend on
// backend internals.
type Adapter interface {
	// Name returns the provider identifier (e.g. "gemini", "claude",
	// "codex").
	Name() string

	// StartThread creates a fresh conversational thread.
	StartThread(opts ...ThreadOption) (*Thread, error)

	// ResumeThread creates a handle onto an existing backend session.
	ResumeThread(id string, opts ...ThreadOption) (*Thread, error)

	// Run executes one prompt to completion and returns the aggregated
	// result. Fails fast with ErrRunActive if a run is already in flight.
	Run(ctx context.Context, t *Thread, prompt string, opts ...RunOption) (*event.Result, error)

	// RunStreamed executes one prompt and returns the live canonical event
	// stream. The caller must drain the stream or Close it; Close aborts
	// the run. Fails fast with ErrRunActive like Run.
	RunStreamed(ctx context.Context, t *Thread, prompt string, opts ...RunOption) (*event.Stream, error)

	// ThreadID returns the backend-issued session identifier, if one has
	// been observed yet.
	ThreadID(t *Thread) (string, bool)

	// Close releases any backend resources held for the thread.
	Close(t *Thread) error
}

// ThreadConfig holds thread-level settings.
type ThreadConfig struct {
	Model       string
	WorkDir     string
	Resume      string // explicit resume token supplied by the caller
	IncludeDirs []string
	Env         map[string]string
}

// ThreadOption configures StartThread/ResumeThread.
type ThreadOption func(*ThreadConfig)

// WithModel selects the backend model.
func WithModel(model string) ThreadOption {
	return func(c *ThreadConfig) { c.Model = model }
}

// WithWorkDir sets the working directory for backend execution.
func WithWorkDir(dir string) ThreadOption {
	return func(c *ThreadConfig) { c.WorkDir = dir }
}

// WithResume supplies an explicit resume token to offer the backend when no
// session has been observed yet.
func WithResume(token string) ThreadOption {
	return func(c *ThreadConfig) { c.Resume = token }
}

// WithIncludeDirs adds extra directories the backend may read.
func WithIncludeDirs(dirs ...string) ThreadOption {
	return func(c *ThreadConfig) { c.IncludeDirs = append(c.IncludeDirs, dirs...) }
}

// WithEnv sets environment overrides for backend execution.
func WithEnv(env map[string]string) ThreadOption {
	return func(c *ThreadConfig) { c.Env = env }
}

// ApplyThreadOptions folds options over a zero config.
func ApplyThreadOptions(opts []ThreadOption) ThreadConfig {
	var cfg ThreadConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// RunConfig holds per-run settings.
type RunConfig struct {
	// Schema, when set, requests structured output conforming to it. It may
	// be a map, raw JSON schema bytes, or a Go value to reflect a schema
	// from.
	Schema any
}

// RunOption configures Run/RunStreamed.
type RunOption func(*RunConfig)

// WithOutputSchema requests schema-conformant structured output.
func WithOutputSchema(schema any) RunOption {
	return func(c *RunConfig) { c.Schema = schema }
}

// ApplyRunOptions folds options over a zero config.
func ApplyRunOptions(opts []RunOption) RunConfig {
	var cfg RunConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
