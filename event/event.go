// Package event defines the canonical, backend-agnostic event vocabulary
// emitted by every adapter during a run, plus the pull-based stream
// consumers iterate.
//
// Adapters translate their native protocols into this vocabulary; consumers
// never see backend-specific shapes. Every run's event sequence ends in
// exactly one terminal event: Done, Error, or the Cancelled+Error pair.
package event

import (
	"encoding/json"
	"fmt"
)

// Kind discriminates between canonical event variants.
type Kind string

const (
	KindInit       Kind = "init"
	KindMessage    Kind = "message"
	KindToolUse    Kind = "tool_use"
	KindToolResult Kind = "tool_result"
	KindProgress   Kind = "progress"
	KindPermission Kind = "permission"
	KindUsage      Kind = "usage"
	KindError      Kind = "error"
	KindCancelled  Kind = "cancelled"
	KindDone       Kind = "done"
)

// Event is the interface implemented by all canonical event variants.
type Event interface {
	EventKind() Kind
}

// Init announces the session backing a run. It is the first event of a run
// when the backend reveals its identity up front.
type Init struct {
	ThreadID string `json:"threadId,omitempty"`
	Model    string `json:"model,omitempty"`
}

func (Init) EventKind() Kind { return KindInit }

// Message carries assistant (or user-echo) text. Delta marks an incremental
// fragment; consumers concatenate deltas in emission order to reconstruct
// the full text.
type Message struct {
	Role  string `json:"role"`
	Text  string `json:"text"`
	Delta bool   `json:"delta,omitempty"`
}

func (Message) EventKind() Kind { return KindMessage }

// ToolUse reports a tool invocation. CallID correlates with the matching
// ToolResult.
type ToolUse struct {
	Name   string         `json:"name"`
	CallID string         `json:"callId,omitempty"`
	Args   map[string]any `json:"args,omitempty"`
}

func (ToolUse) EventKind() Kind { return KindToolUse }

// ToolResult reports the outcome of a tool invocation.
type ToolResult struct {
	Name     string `json:"name"`
	CallID   string `json:"callId,omitempty"`
	Result   any    `json:"result,omitempty"`
	ExitCode int    `json:"exitCode,omitempty"`
}

func (ToolResult) EventKind() Kind { return KindToolResult }

// Progress surfaces backend activity that has no richer canonical mapping.
// Unknown native events are reported as Progress rather than dropped so
// consumers can observe liveness.
type Progress struct {
	Label  string `json:"label"`
	Detail string `json:"detail,omitempty"`
}

func (Progress) EventKind() Kind { return KindProgress }

// Permission reports a backend permission prompt and, when known, the
// decision that resolved it.
type Permission struct {
	Request  string `json:"request"`
	Decision string `json:"decision,omitempty"`
}

func (Permission) EventKind() Kind { return KindPermission }

// Usage reports token accounting for the run. When present it is emitted
// once, before the terminal event.
type Usage struct {
	InputTokens       int     `json:"inputTokens"`
	OutputTokens      int     `json:"outputTokens"`
	CachedInputTokens int     `json:"cachedInputTokens,omitempty"`
	TotalTokens       int     `json:"totalTokens,omitempty"`
	CostUSD           float64 `json:"costUsd,omitempty"`
}

func (Usage) EventKind() Kind { return KindUsage }

// Error is a terminal failure. Code "interrupted" marks cancellation; other
// codes carry backend exit codes or failure classes.
type Error struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (Error) EventKind() Kind { return KindError }

// Err returns the event as a Go error value.
func (e Error) Err() error {
	if e.Code != "" {
		return fmt.Errorf("%s: %s", e.Code, e.Message)
	}
	return fmt.Errorf("%s", e.Message)
}

// Cancelled marks a run that was aborted through its cancellation token.
// It is always followed by Error with code "interrupted"; it never appears
// for crashes the token did not request.
type Cancelled struct {
	Reason string `json:"reason,omitempty"`
}

func (Cancelled) EventKind() Kind { return KindCancelled }

// Done is the terminal event of a successful run.
type Done struct{}

func (Done) EventKind() Kind { return KindDone }

// IsTerminal reports whether ev ends a run's event sequence. Cancelled is
// not terminal on its own: it is immediately followed by the terminal
// Error("interrupted").
func IsTerminal(ev Event) bool {
	switch ev.EventKind() {
	case KindDone, KindError:
		return true
	default:
		return false
	}
}

// Marshal encodes ev as a single JSON frame with a "type" tag, suitable for
// newline-delimited forwarding.
func Marshal(ev Event) ([]byte, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, err
	}
	fields["type"] = json.RawMessage(fmt.Sprintf("%q", ev.EventKind()))
	return json.Marshal(fields)
}

// Unmarshal decodes a JSON frame produced by Marshal back into the typed
// variant. Unknown type tags yield an error.
func Unmarshal(data []byte) (Event, error) {
	var tag struct {
		Type Kind `json:"type"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return nil, err
	}

	switch tag.Type {
	case KindInit:
		return decodeAs[Init](data)
	case KindMessage:
		return decodeAs[Message](data)
	case KindToolUse:
		return decodeAs[ToolUse](data)
	case KindToolResult:
		return decodeAs[ToolResult](data)
	case KindProgress:
		return decodeAs[Progress](data)
	case KindPermission:
		return decodeAs[Permission](data)
	case KindUsage:
		return decodeAs[Usage](data)
	case KindError:
		return decodeAs[Error](data)
	case KindCancelled:
		return decodeAs[Cancelled](data)
	case KindDone:
		return Done{}, nil
	default:
		return nil, fmt.Errorf("unknown event type %q", tag.Type)
	}
}

func decodeAs[T Event](data []byte) (Event, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}
