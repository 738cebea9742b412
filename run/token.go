// Package run provides the per-run execution machinery shared by all
// adapters: the cooperative cancellation token, the subprocess run
// controller with escalating termination, and the pump that adapts a
// backend event source into a canonical event stream.
package run

import (
	"sync"
	"time"
)

// Default escalation delays applied to process-backed runs after abort.
// Soft is measured from abort to the graceful termination signal; Hard is
// measured from abort to the forceful one.
const (
	DefaultSoftKillDelay = 1 * time.Second
	DefaultHardKillDelay = 5 * time.Second
)

// ReasonInterrupt is the abort reason used by Thread.Interrupt.
const ReasonInterrupt = "interrupt"

// ReasonAbandoned is the abort reason used when a streaming consumer stops
// iterating before the run completes.
const ReasonAbandoned = "stream abandoned"

// Token is a one-shot cooperative cancellation signal shared by everything
// participating in a single run. Abort may originate from an external
// context, a consumer abandoning a stream, or an explicit interrupt; all
// converge here. The transition from live to aborted happens exactly once.
type Token struct {
	mu      sync.Mutex
	done    chan struct{}
	reason  string
	aborted bool
}

// NewToken creates a live token.
func NewToken() *Token {
	return &Token{done: make(chan struct{})}
}

// Abort flips the token to aborted with the given reason. Idempotent: only
// the first call's reason is kept.
func (t *Token) Abort(reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.aborted {
		return
	}
	t.aborted = true
	t.reason = reason
	close(t.done)
}

// Done returns a channel closed when the token aborts.
func (t *Token) Done() <-chan struct{} { return t.done }

// Aborted reports whether Abort has been called.
func (t *Token) Aborted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.aborted
}

// Reason returns the abort reason, or "" if the token is live.
func (t *Token) Reason() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reason
}
