package run

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/agentbridge/agentbridge/event"
)

// CodeInterrupted is the canonical error code for aborted runs.
const CodeInterrupted = "interrupted"

// streamBuffer is the consumer-side buffer of run streams. Small on
// purpose: producers block once it fills, which is the backpressure
// mechanism.
const streamBuffer = 16

// LineNormalizer maps one raw NDJSON line from a process backend to zero or
// more canonical events. Malformed lines must be reported as (nil, false)
// and are discarded without failing the run.
type LineNormalizer func(line []byte) ([]event.Event, bool)

// PumpProcess drives a process-backed run: it feeds stdout lines through
// norm into the returned stream and decides the terminal outcome from the
// actual process exit status, never from output-stream closure alone.
//
// Terminal policy:
//   - token aborted (before or during exit): Cancelled + Error("interrupted")
//   - non-zero or signalled exit: a single Error carrying the exit detail,
//     even when the output stream closed cleanly first
//   - clean exit: the backend's own failure signal if one was observed,
//     otherwise Done
//
// Normalizer-produced Done/Error events are withheld from the stream and
// folded into that decision, so the sequence always ends in exactly one
// terminal event.
//
// Abandoning the stream aborts the token, which starts termination
// escalation; teardown is guaranteed on every path.
//
// onFinish, if non-nil, runs once after teardown on every exit path; the
// adapter uses it to release the thread's run slot and fold observed
// session state back in.
func PumpProcess(p *Process, norm LineNormalizer, token *Token, onFinish func()) *event.Stream {
	stream := event.NewStream(streamBuffer, func() {
		token.Abort(ReasonAbandoned)
	})

	go func() {
		defer stream.Finish()
		if onFinish != nil {
			defer onFinish()
		}
		defer p.Shutdown()

		var backendErr *event.Error

		for {
			line, err := p.ReadLine()
			if err != nil {
				// EOF or read failure: the output stream is gone, but the
				// run is not over until the process has exited.
				break
			}
			events, ok := norm(line)
			if !ok {
				continue
			}
			abandoned := false
			for _, ev := range events {
				switch e := ev.(type) {
				case event.Done:
					continue
				case event.Error:
					backendErr = &e
					continue
				}
				if stream.Push(ev) != nil {
					abandoned = true
					break
				}
			}
			if abandoned {
				break
			}
		}

		p.FinishReading()
		status := p.Wait()

		for _, ev := range processTerminal(status, token, backendErr) {
			if stream.Push(ev) != nil {
				return
			}
		}
	}()

	return stream
}

// interruptPair is the terminal sequence of an aborted run. fallback names
// the cause when the token carries no reason of its own.
func interruptPair(token *Token, fallback string) []event.Event {
	reason := token.Reason()
	if reason == "" {
		reason = fallback
	}
	return []event.Event{
		event.Cancelled{Reason: reason},
		event.Error{Code: CodeInterrupted, Message: "run interrupted: " + reason},
	}
}

// processTerminal derives the terminal event sequence from the exit status.
func processTerminal(status ExitStatus, token *Token, backendErr *event.Error) []event.Event {
	if token.Aborted() {
		return interruptPair(token, "")
	}

	if !status.Success() {
		msg := "backend process failed"
		code := strconv.Itoa(status.Code)
		switch {
		case status.Err != nil:
			msg = status.Err.Error()
			code = ""
		case status.Signal != "":
			msg = fmt.Sprintf("backend process terminated by signal %s", status.Signal)
			code = status.Signal
		case backendErr != nil:
			msg = backendErr.Message
		}
		if status.Stderr != "" {
			msg = msg + ": " + status.Stderr
		}
		return []event.Event{event.Error{Code: code, Message: msg}}
	}

	if backendErr != nil {
		return []event.Event{*backendErr}
	}
	return []event.Event{event.Done{}}
}

// Source is the demand-driven view of a backend SDK's native event
// sequence. Next returns io.EOF when the sequence ends; Close releases the
// backend subscription and must be safe to call more than once.
type Source[E any] interface {
	Next(ctx context.Context) (E, error)
	Close() error
}

// Pump drives a stream-backed run: it iterates src, maps each native event
// through norm, and pushes the results into the returned stream. There is
// no process to kill, so cancellation propagates by cancelling the context
// handed to src.Next.
//
// If the sequence ends without a terminal event, a Done is synthesized
// (silent success is success). Once the token is aborted the run ends with
// the Cancelled+Error("interrupted") pair no matter how the source winds
// down: iteration errors, a bare EOF, and even a backend-produced terminal
// all yield the pair. Other iteration errors become a single Error.
func Pump[E any](ctx context.Context, src Source[E], norm func(E) []event.Event, token *Token, onFinish func()) *event.Stream {
	stream := event.NewStream(streamBuffer, func() {
		token.Abort(ReasonAbandoned)
	})

	runCtx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-token.Done():
			cancel()
		case <-runCtx.Done():
		}
	}()

	go func() {
		defer stream.Finish()
		if onFinish != nil {
			defer onFinish()
		}
		defer func() { _ = src.Close() }()
		defer cancel()

		for {
			native, err := src.Next(runCtx)
			if err != nil {
				for _, ev := range sourceTerminal(err, token) {
					if stream.Push(ev) != nil {
						return
					}
				}
				return
			}
			for _, ev := range norm(native) {
				// An abort that landed while the source was mid-flight wins
				// over the backend's own terminal.
				if event.IsTerminal(ev) && token.Aborted() {
					for _, tev := range interruptPair(token, "") {
						if stream.Push(tev) != nil {
							return
						}
					}
					return
				}
				if stream.Push(ev) != nil {
					return
				}
				if event.IsTerminal(ev) {
					return
				}
			}
		}
	}()

	return stream
}

// sourceTerminal derives the terminal sequence from an iteration error. The
// token is consulted before anything else: a source that returns a bare EOF
// after the abort landed must still end with the interrupt pair.
func sourceTerminal(err error, token *Token) []event.Event {
	if token.Aborted() || errors.Is(err, context.Canceled) {
		return interruptPair(token, err.Error())
	}
	if errors.Is(err, io.EOF) {
		return []event.Event{event.Done{}}
	}
	return []event.Event{event.Error{Message: err.Error()}}
}
