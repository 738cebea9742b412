package event

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
)

// Result is the outcome of a non-streamed run, produced only after the full
// run completed or failed.
type Result struct {
	// ThreadID is the session identifier observed during the run, if any.
	ThreadID string `json:"threadId,omitempty"`

	// Text is the full assistant text, deltas concatenated in emission order.
	Text string `json:"text"`

	// Structured holds the extracted structured-output payload when the
	// caller supplied an output schema and extraction succeeded. Absence is
	// not an error.
	Structured json.RawMessage `json:"structured,omitempty"`

	// Usage is the token accounting reported by the backend, if any.
	Usage *Usage `json:"usage,omitempty"`

	// Raw is the last native payload observed, for callers that need
	// backend-specific detail.
	Raw json.RawMessage `json:"raw,omitempty"`
}

// Collect drains a stream into a Result. It reads until the producer
// finishes, so producer-side teardown (including session bookkeeping) has
// completed by the time it returns. It returns the run's terminal error for
// failed or cancelled runs; the partial Result is returned alongside the
// error.
func Collect(ctx context.Context, s *Stream) (*Result, error) {
	defer s.Close()

	res := &Result{}
	var text strings.Builder
	var runErr error

	for {
		ev, err := s.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			// Consumer-side failure (ctx cancelled): abandon the stream and
			// surface the cause.
			return res, err
		}

		switch e := ev.(type) {
		case Init:
			res.ThreadID = e.ThreadID
		case Message:
			if e.Role == "" || e.Role == "assistant" {
				text.WriteString(e.Text)
			}
		case Usage:
			u := e
			res.Usage = &u
		case Error:
			runErr = e.Err()
		case Done:
			runErr = nil
		}
	}

	res.Text = text.String()
	return res, runErr
}
