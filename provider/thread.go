package provider

import (
	"sync"

	"github.com/agentbridge/agentbridge/run"
)

// Thread is one ongoing conversation against a backend. The issuing adapter
// exclusively owns the backend-private state; everything else about the
// handle (identifier, resume bookkeeping, the current-run slot) is managed
// here so all adapters share the same concurrency and resume semantics.
type Thread struct {
	provider string

	mu             sync.Mutex
	id             string // backend-issued session id, once observed
	resumeToken    string // cached token offered on the next invocation
	explicitResume string // caller-supplied resume value from thread start
	state          any    // backend-private, owned by the issuing adapter
	current        *run.Token
}

// NewThread creates a handle owned by the named provider. state is the
// adapter's private session state; resume is the caller's explicit resume
// value, if any.
func NewThread(provider, resume string, state any) *Thread {
	return &Thread{provider: provider, explicitResume: resume, state: state}
}

// Provider returns the identifier of the adapter that issued this handle.
func (t *Thread) Provider() string { return t.provider }

// ID returns the backend-issued session identifier, if known.
func (t *Thread) ID() (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.id, t.id != ""
}

// State returns the backend-private state installed at creation.
func (t *Thread) State() any { return t.state }

// BeginRun claims the thread's single run slot and returns a fresh
// cancellation token for the new run. It fails fast with ErrRunActive while
// a previous run is unresolved; nothing is queued and no resources are
// acquired on failure.
func (t *Thread) BeginRun() (*run.Token, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current != nil {
		return nil, ErrRunActive
	}
	t.current = run.NewToken()
	return t.current, nil
}

// EndRun releases the run slot claimed by BeginRun. Only the run holding
// token may release it.
func (t *Thread) EndRun(token *run.Token) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == token {
		t.current = nil
	}
}

// Interrupt aborts the in-flight run, if any. A no-op on an idle thread.
func (t *Thread) Interrupt() {
	t.mu.Lock()
	current := t.current
	t.mu.Unlock()
	if current != nil {
		current.Abort(run.ReasonInterrupt)
	}
}

// ResumeToken resolves the value to offer the backend on the next
// invocation: the cached token, then the thread's own identifier, then the
// caller's explicit resume value. Empty means "start fresh".
func (t *Thread) ResumeToken() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.resumeToken != "" {
		return t.resumeToken
	}
	if t.id != "" {
		return t.id
	}
	return t.explicitResume
}

// AdoptSession records a backend-issued session identifier as both the
// cached resume token and the public thread id. Highest-confidence update;
// it overrides any provisional token.
func (t *Thread) AdoptSession(id string) {
	if id == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.id = id
	t.resumeToken = id
}

// SetProvisionalToken caches a backend-private positional token without
// publishing it as the thread id. Used when a backend only exposes ordinal
// handles until its first completed turn.
func (t *Thread) SetProvisionalToken(token string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resumeToken = token
}

// observed reports whether any identifier (cached, public, or explicit) is
// already known, in which case the listing fallback is unnecessary.
func (t *Thread) observed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.resumeToken != "" || t.id != "" || t.explicitResume != ""
}
