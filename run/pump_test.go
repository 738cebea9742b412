package run

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentbridge/agentbridge/event"
)

func TestProcessTerminal(t *testing.T) {
	aborted := NewToken()
	aborted.Abort("interrupt")

	tests := []struct {
		name       string
		status     ExitStatus
		token      *Token
		backendErr *event.Error
		want       []event.Event
	}{
		{
			name:   "clean exit",
			status: ExitStatus{},
			token:  NewToken(),
			want:   []event.Event{event.Done{}},
		},
		{
			name:  "aborted run",
			token: aborted,
			want: []event.Event{
				event.Cancelled{Reason: "interrupt"},
				event.Error{Code: "interrupted", Message: "run interrupted: interrupt"},
			},
		},
		{
			name:   "non-zero exit",
			status: ExitStatus{Code: 7, Stderr: "boom"},
			token:  NewToken(),
			want:   []event.Event{event.Error{Code: "7", Message: "backend process failed: boom"}},
		},
		{
			name:   "signalled exit",
			status: ExitStatus{Signal: "killed"},
			token:  NewToken(),
			want:   []event.Event{event.Error{Code: "killed", Message: "backend process terminated by signal killed"}},
		},
		{
			name:       "clean exit with backend failure",
			status:     ExitStatus{},
			token:      NewToken(),
			backendErr: &event.Error{Code: "quota", Message: "quota exhausted"},
			want:       []event.Event{event.Error{Code: "quota", Message: "quota exhausted"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, processTerminal(tt.status, tt.token, tt.backendErr))
		})
	}
}

// passthrough treats each line as one pre-encoded canonical event.
func passthrough(line []byte) ([]event.Event, bool) {
	ev, err := event.Unmarshal(line)
	if err != nil {
		return nil, false
	}
	return []event.Event{ev}, true
}

func drainStream(t *testing.T, s *event.Stream) []event.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var events []event.Event
	for {
		ev, err := s.Next(ctx)
		if err != nil {
			require.ErrorIs(t, err, io.EOF)
			return events
		}
		events = append(events, ev)
	}
}

func TestPumpProcessSuccess(t *testing.T) {
	token := NewToken()
	p := start(t, ProcessConfig{Path: script(t, `
echo '{"type":"message","role":"assistant","text":"hi"}'
echo '{"type":"done"}'
`)}, token)
	p.CloseInput()

	finished := false
	stream := PumpProcess(p, passthrough, token, func() { finished = true })
	events := drainStream(t, stream)

	require.Len(t, events, 2)
	assert.Equal(t, event.Message{Role: "assistant", Text: "hi"}, events[0])
	assert.Equal(t, event.Done{}, events[1])
	assert.True(t, finished)
}

func TestPumpProcessCrashHasNoCancelled(t *testing.T) {
	// The backend emits its success marker and then dies. The sequence must
	// end in a single Error reflecting the exit, with no Cancelled.
	token := NewToken()
	p := start(t, ProcessConfig{Path: script(t, `
echo '{"type":"done"}'
kill -9 $$
`)}, token)
	p.CloseInput()

	stream := PumpProcess(p, passthrough, token, nil)
	events := drainStream(t, stream)

	require.Len(t, events, 1)
	failure, ok := events[0].(event.Error)
	require.True(t, ok)
	assert.Equal(t, "killed", failure.Code)
	for _, ev := range events {
		assert.NotEqual(t, event.KindCancelled, ev.EventKind())
	}
}

func TestPumpProcessBackendErrorOnCleanExit(t *testing.T) {
	token := NewToken()
	p := start(t, ProcessConfig{Path: script(t, `
echo '{"type":"error","code":"quota","message":"quota exhausted"}'
`)}, token)
	p.CloseInput()

	stream := PumpProcess(p, passthrough, token, nil)
	events := drainStream(t, stream)

	require.Len(t, events, 1)
	assert.Equal(t, event.Error{Code: "quota", Message: "quota exhausted"}, events[0])
}

func TestPumpProcessMalformedLinesSkipped(t *testing.T) {
	token := NewToken()
	p := start(t, ProcessConfig{Path: script(t, `
echo 'not json'
echo '{"type":"done"}'
`)}, token)
	p.CloseInput()

	stream := PumpProcess(p, passthrough, token, nil)
	events := drainStream(t, stream)
	require.Len(t, events, 1)
	assert.Equal(t, event.Done{}, events[0])
}

func TestPumpProcessAbandonmentAbortsToken(t *testing.T) {
	token := NewToken()
	p := start(t, ProcessConfig{
		Path:          script(t, `sleep 30`),
		SoftKillDelay: 50 * time.Millisecond,
		HardKillDelay: 5 * time.Second,
	}, token)
	p.CloseInput()

	stream := PumpProcess(p, passthrough, token, nil)
	require.NoError(t, stream.Close())

	select {
	case <-token.Done():
	case <-time.After(time.Second):
		t.Fatal("abandoning the stream did not abort the token")
	}
	assert.Equal(t, ReasonAbandoned, token.Reason())

	select {
	case <-p.Exited():
	case <-time.After(5 * time.Second):
		t.Fatal("process not torn down after abandonment")
	}
}

// sliceSource feeds scripted events, then ends with err (io.EOF by default)
// or blocks until the context cancels.
type sliceSource struct {
	events []event.Event
	i      int
	err    error
	block  bool
	closed bool
}

func (s *sliceSource) Next(ctx context.Context) (event.Event, error) {
	if s.i < len(s.events) {
		ev := s.events[s.i]
		s.i++
		return ev, nil
	}
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if s.err != nil {
		return nil, s.err
	}
	return nil, io.EOF
}

func (s *sliceSource) Close() error {
	s.closed = true
	return nil
}

func identity(ev event.Event) []event.Event { return []event.Event{ev} }

func TestPumpSynthesizesDone(t *testing.T) {
	src := &sliceSource{events: []event.Event{event.Message{Role: "assistant", Text: "hi"}}}
	stream := Pump(context.Background(), src, identity, NewToken(), nil)

	events := drainStream(t, stream)
	require.Len(t, events, 2)
	assert.Equal(t, event.Done{}, events[1])
	assert.True(t, src.closed)
}

func TestPumpStopsAtTerminal(t *testing.T) {
	src := &sliceSource{events: []event.Event{
		event.Done{},
		event.Message{Role: "assistant", Text: "never seen"},
	}}
	stream := Pump(context.Background(), src, identity, NewToken(), nil)

	events := drainStream(t, stream)
	require.Len(t, events, 1)
	assert.Equal(t, event.Done{}, events[0])
}

func TestPumpIterationError(t *testing.T) {
	src := &sliceSource{err: errors.New("connection reset")}
	stream := Pump(context.Background(), src, identity, NewToken(), nil)

	events := drainStream(t, stream)
	require.Len(t, events, 1)
	failure, ok := events[0].(event.Error)
	require.True(t, ok)
	assert.Equal(t, "connection reset", failure.Message)
}

func TestPumpAbortedRun(t *testing.T) {
	token := NewToken()
	src := &sliceSource{
		events: []event.Event{event.Init{ThreadID: "s-1"}},
		block:  true,
	}
	stream := Pump(context.Background(), src, identity, token, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	first, err := stream.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, event.Init{ThreadID: "s-1"}, first)

	token.Abort(ReasonInterrupt)

	var rest []event.Event
	for {
		ev, err := stream.Next(ctx)
		if err != nil {
			break
		}
		rest = append(rest, ev)
	}
	require.Len(t, rest, 2)
	assert.Equal(t, event.Cancelled{Reason: ReasonInterrupt}, rest[0])
	assert.Equal(t, event.Error{Code: CodeInterrupted, Message: "run interrupted: interrupt"}, rest[1])
}

func TestPumpAbortBeforeSourceEOF(t *testing.T) {
	// A source that ends with a bare EOF after the abort landed must still
	// produce the interrupt pair, never a Done.
	token := NewToken()
	token.Abort(ReasonInterrupt)
	src := &sliceSource{}
	stream := Pump(context.Background(), src, identity, token, nil)

	events := drainStream(t, stream)
	require.Len(t, events, 2)
	assert.Equal(t, event.Cancelled{Reason: ReasonInterrupt}, events[0])
	assert.Equal(t, event.Error{Code: CodeInterrupted, Message: "run interrupted: interrupt"}, events[1])
}

func TestPumpAbortBeforeBackendTerminal(t *testing.T) {
	// The backend's own Done raced the abort and lost; token state decides.
	token := NewToken()
	token.Abort(ReasonInterrupt)
	src := &sliceSource{events: []event.Event{
		event.Message{Role: "assistant", Text: "partial"},
		event.Done{},
	}}
	stream := Pump(context.Background(), src, identity, token, nil)

	events := drainStream(t, stream)
	require.Len(t, events, 3)
	assert.Equal(t, event.Message{Role: "assistant", Text: "partial"}, events[0])
	assert.Equal(t, event.Cancelled{Reason: ReasonInterrupt}, events[1])
	assert.Equal(t, event.Error{Code: CodeInterrupted, Message: "run interrupted: interrupt"}, events[2])
}

func TestPumpOnFinishRunsBeforeStreamEnd(t *testing.T) {
	finished := make(chan struct{})
	src := &sliceSource{}
	stream := Pump(context.Background(), src, identity, NewToken(), func() { close(finished) })

	drainStream(t, stream)
	select {
	case <-finished:
	default:
		t.Fatal("onFinish had not run when the stream ended")
	}
}
