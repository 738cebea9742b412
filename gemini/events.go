// Package gemini adapts the Gemini CLI subprocess to the uniform provider
// contract. The CLI speaks newline-delimited JSON on stdout; each line is
// one native event, translated here into canonical events. The run's
// outcome is decided by the process exit status, never by stdout closing.
package gemini

import (
	"encoding/json"
	"log/slog"

	"github.com/agentbridge/agentbridge/event"
)

// lineEvent is the wire shape of one stream-json stdout line. Fields are
// a union across the CLI's event types; the Type tag selects which are
// meaningful.
type lineEvent struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id,omitempty"`
	Model     string          `json:"model,omitempty"`
	Role      string          `json:"role,omitempty"`
	Content   string          `json:"content,omitempty"`
	Delta     bool            `json:"delta,omitempty"`
	Name      string          `json:"name,omitempty"`
	CallID    string          `json:"call_id,omitempty"`
	Args      map[string]any  `json:"args,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	ExitCode  int             `json:"exit_code,omitempty"`
	Request   string          `json:"request,omitempty"`
	Decision  string          `json:"decision,omitempty"`
	Status    string          `json:"status,omitempty"`
	Code      string          `json:"code,omitempty"`
	Message   string          `json:"message,omitempty"`
	Stats     *lineStats      `json:"stats,omitempty"`
}

type lineStats struct {
	InputTokens       int `json:"input_tokens"`
	OutputTokens      int `json:"output_tokens"`
	CachedInputTokens int `json:"cached_input_tokens"`
	TotalTokens       int `json:"total_tokens"`
}

// normalizer translates CLI lines into canonical events, remembering the
// session identifier the CLI reveals so the adapter can fold it back into
// the thread after the run. One normalizer instance serves exactly one run
// and is only touched from the run's pump goroutine.
type normalizer struct {
	sessionID string
	lastRaw   []byte
}

// Raw returns the last well-formed native line seen.
func (n *normalizer) Raw() json.RawMessage { return n.lastRaw }

// Line maps one stdout line to canonical events. Malformed lines are
// discarded (false); a corrupt progress line must not abort the run.
// Unknown event types surface as Progress so consumers can observe
// liveness.
func (n *normalizer) Line(line []byte) ([]event.Event, bool) {
	var le lineEvent
	if err := json.Unmarshal(line, &le); err != nil || le.Type == "" {
		slog.Debug("discarding malformed gemini output line", "line", string(line))
		return nil, false
	}
	n.lastRaw = append([]byte(nil), line...)

	switch le.Type {
	case "session", "init":
		if le.SessionID != "" {
			n.sessionID = le.SessionID
		}
		return []event.Event{event.Init{ThreadID: le.SessionID, Model: le.Model}}, true

	case "message":
		role := le.Role
		if role == "" {
			role = "assistant"
		}
		return []event.Event{event.Message{Role: role, Text: le.Content, Delta: le.Delta}}, true

	case "thought":
		return []event.Event{event.Progress{Label: "thinking", Detail: le.Content}}, true

	case "tool_use":
		return []event.Event{event.ToolUse{Name: le.Name, CallID: le.CallID, Args: le.Args}}, true

	case "tool_result":
		var result any
		if len(le.Result) > 0 {
			if err := json.Unmarshal(le.Result, &result); err != nil {
				result = string(le.Result)
			}
		}
		return []event.Event{event.ToolResult{
			Name:     le.Name,
			CallID:   le.CallID,
			Result:   result,
			ExitCode: le.ExitCode,
		}}, true

	case "permission":
		return []event.Event{event.Permission{Request: le.Request, Decision: le.Decision}}, true

	case "stats":
		if le.Stats == nil {
			return nil, false
		}
		return []event.Event{event.Usage{
			InputTokens:       le.Stats.InputTokens,
			OutputTokens:      le.Stats.OutputTokens,
			CachedInputTokens: le.Stats.CachedInputTokens,
			TotalTokens:       le.Stats.TotalTokens,
		}}, true

	case "error":
		return []event.Event{event.Error{Code: le.Code, Message: le.Message}}, true

	case "result":
		if le.SessionID != "" {
			n.sessionID = le.SessionID
		}
		if le.Status != "" && le.Status != "success" {
			return []event.Event{event.Error{Message: "run finished with status " + le.Status}}, true
		}
		return []event.Event{event.Done{}}, true

	default:
		detail := le.Message
		if detail == "" {
			detail = le.Content
		}
		return []event.Event{event.Progress{Label: le.Type, Detail: detail}}, true
	}
}
