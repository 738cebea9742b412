package event

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
)

// ErrStreamClosed is returned by producer-side operations after the consumer
// has closed the stream.
var ErrStreamClosed = errors.New("event stream closed")

// Stream is a demand-driven sequence of canonical events. Producers block in
// Push until the consumer takes the event, so slow consumers apply
// backpressure naturally and fast producers never buffer unboundedly.
//
// Next returns io.EOF once the producer has finished and all events have
// been consumed. Close abandons the stream: it is idempotent, releases any
// blocked producer, and fires the abandonment hook installed by the run
// controller (which aborts the run's cancellation token).
type Stream struct {
	ch         chan Event
	abandoned  chan struct{} // closed by the consumer via Close
	onClose    func()
	closeOnce  sync.Once
	finishOnce sync.Once
	drained    atomic.Bool
}

// NewStream creates a stream with the given consumer-side buffer. onClose is
// invoked once if the consumer abandons the stream; it may be nil.
func NewStream(buffer int, onClose func()) *Stream {
	return &Stream{
		ch:        make(chan Event, buffer),
		abandoned: make(chan struct{}),
		onClose:   onClose,
	}
}

// Next blocks until the next event is available, the producer finishes, or
// ctx is cancelled. It returns io.EOF after the final event has been
// consumed.
func (s *Stream) Next(ctx context.Context) (Event, error) {
	select {
	case <-s.abandoned:
		return nil, ErrStreamClosed
	default:
	}

	select {
	case ev, ok := <-s.ch:
		if !ok {
			s.drained.Store(true)
			return nil, io.EOF
		}
		return ev, nil
	case <-s.abandoned:
		return nil, ErrStreamClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close abandons the stream. Safe to call multiple times and after the
// stream has finished normally.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		close(s.abandoned)
		if s.onClose != nil {
			s.onClose()
		}
	})
	return nil
}

// Abandoned reports consumer-side closure to producers.
func (s *Stream) Abandoned() <-chan struct{} { return s.abandoned }

// Drained reports whether the consumer has observed the end of the
// sequence. Once it returns true, the producer goroutine has exited and
// its state may be read without synchronization.
func (s *Stream) Drained() bool { return s.drained.Load() }

// Push delivers one event to the consumer, blocking until it is taken.
// It returns ErrStreamClosed once the consumer has abandoned the stream.
func (s *Stream) Push(ev Event) error {
	select {
	case <-s.abandoned:
		return ErrStreamClosed
	default:
	}

	select {
	case s.ch <- ev:
		return nil
	case <-s.abandoned:
		return ErrStreamClosed
	}
}

// Finish marks the producer side complete. No events may be pushed after
// Finish; Next drains any buffered events and then reports io.EOF.
func (s *Stream) Finish() {
	s.finishOnce.Do(func() { close(s.ch) })
}
