// Package codex adapts an opaque-thread agent SDK to the uniform provider
// contract. The backend owns thread state and issues thread identifiers;
// the adapter only learns the id by observing the run's event feed.
package codex

import (
	"encoding/json"

	"github.com/agentbridge/agentbridge/event"
)

// ThreadEvent is one native event from the backend's turn feed. Fields are
// a union across event types; Type selects which are meaningful.
type ThreadEvent struct {
	Type     string      `json:"type"`
	ThreadID string      `json:"thread_id,omitempty"`
	Delta    string      `json:"delta,omitempty"`
	Item     *ThreadItem `json:"item,omitempty"`
	Usage    *TurnUsage  `json:"usage,omitempty"`
	Error    *TurnError  `json:"error,omitempty"`
}

// ThreadItem is one unit of agent activity within a turn.
type ThreadItem struct {
	ID               string `json:"id,omitempty"`
	Type             string `json:"item_type"`
	Text             string `json:"text,omitempty"`
	Command          string `json:"command,omitempty"`
	AggregatedOutput string `json:"aggregated_output,omitempty"`
	ExitCode         int    `json:"exit_code,omitempty"`
}

// TurnUsage is the token accounting reported at turn completion.
type TurnUsage struct {
	InputTokens       int `json:"input_tokens"`
	CachedInputTokens int `json:"cached_input_tokens"`
	OutputTokens      int `json:"output_tokens"`
}

// TurnError is a turn-level failure.
type TurnError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// normalizer translates the turn feed into canonical events, remembering
// the thread identifier so the adapter can fold it back into the handle.
// One instance serves one run.
type normalizer struct {
	threadID string
	lastSeen *ThreadEvent
}

// Raw returns the wire form of the last native event seen.
func (n *normalizer) Raw() json.RawMessage {
	if n.lastSeen == nil {
		return nil
	}
	raw, err := json.Marshal(n.lastSeen)
	if err != nil {
		return nil
	}
	return raw
}

// Event maps one native event to canonical events. Event and item types the
// switch does not know surface as Progress so nothing vanishes from the
// feed.
//
// Agent message text is emitted from deltas only; the completed item would
// repeat the full text and is skipped for the message case.
func (n *normalizer) Event(ev ThreadEvent) []event.Event {
	seen := ev
	n.lastSeen = &seen

	switch ev.Type {
	case "thread.started":
		if ev.ThreadID != "" {
			n.threadID = ev.ThreadID
		}
		return []event.Event{event.Init{ThreadID: ev.ThreadID}}

	case "turn.started":
		return []event.Event{event.Progress{Label: "turn.started"}}

	case "item.delta", "agent_message.delta":
		if ev.Delta == "" {
			return nil
		}
		return []event.Event{event.Message{Role: "assistant", Text: ev.Delta, Delta: true}}

	case "item.started":
		if ev.Item == nil {
			return []event.Event{event.Progress{Label: ev.Type}}
		}
		if ev.Item.Type == "command_execution" {
			return []event.Event{event.ToolUse{
				Name:   ev.Item.Type,
				CallID: ev.Item.ID,
				Args:   map[string]any{"command": ev.Item.Command},
			}}
		}
		return []event.Event{event.Progress{Label: ev.Item.Type}}

	case "item.completed":
		if ev.Item == nil {
			return []event.Event{event.Progress{Label: ev.Type}}
		}
		switch ev.Item.Type {
		case "command_execution":
			return []event.Event{event.ToolResult{
				Name:     ev.Item.Type,
				CallID:   ev.Item.ID,
				Result:   ev.Item.AggregatedOutput,
				ExitCode: ev.Item.ExitCode,
			}}
		case "reasoning":
			return []event.Event{event.Progress{Label: "thinking", Detail: ev.Item.Text}}
		case "agent_message":
			return nil
		}
		return []event.Event{event.Progress{Label: ev.Item.Type, Detail: ev.Item.Text}}

	case "turn.completed":
		events := []event.Event{}
		if ev.Usage != nil {
			events = append(events, event.Usage{
				InputTokens:       ev.Usage.InputTokens,
				CachedInputTokens: ev.Usage.CachedInputTokens,
				OutputTokens:      ev.Usage.OutputTokens,
				TotalTokens:       ev.Usage.InputTokens + ev.Usage.OutputTokens,
			})
		}
		return append(events, event.Done{})

	case "turn.failed":
		if ev.Error != nil {
			return []event.Event{event.Error{Code: ev.Error.Code, Message: ev.Error.Message}}
		}
		return []event.Event{event.Error{Message: "turn failed"}}

	case "error":
		if ev.Error != nil {
			return []event.Event{event.Error{Code: ev.Error.Code, Message: ev.Error.Message}}
		}
		return []event.Event{event.Error{Message: "backend error"}}
	}

	return []event.Event{event.Progress{Label: ev.Type}}
}
