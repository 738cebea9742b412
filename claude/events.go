package claude

import (
	"encoding/json"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/agentbridge/agentbridge/event"
)

// normalizer folds the SDK's streaming event union into canonical events.
// One instance serves one run and is only touched from the pump goroutine.
// It also accumulates the assistant's full reply so the adapter can append
// it to the transcript after the run.
type normalizer struct {
	sessionID string
	text      strings.Builder
	usage     event.Usage
	lastRaw   string

	// tool input JSON arrives as partial fragments per content block index;
	// the ToolUse event is emitted once the block closes.
	toolBlocks map[int64]*toolBlock
}

type toolBlock struct {
	id        string
	name      string
	fragments []string
}

func newNormalizer(sessionID string) *normalizer {
	return &normalizer{
		sessionID:  sessionID,
		toolBlocks: make(map[int64]*toolBlock),
	}
}

// Text returns the accumulated assistant reply.
func (n *normalizer) Text() string { return n.text.String() }

// Usage returns the accumulated token accounting.
func (n *normalizer) Usage() event.Usage { return n.usage }

// Raw returns the wire form of the last event seen.
func (n *normalizer) Raw() json.RawMessage {
	if n.lastRaw == "" {
		return nil
	}
	return json.RawMessage(n.lastRaw)
}

// Event maps one SDK streaming event to canonical events. Event types the
// switch does not know surface as Progress so nothing vanishes from the
// feed; the API's periodic ping events land there.
func (n *normalizer) Event(ev sdk.MessageStreamEventUnion) []event.Event {
	n.lastRaw = ev.RawJSON()

	switch v := ev.AsAny().(type) {
	case sdk.MessageStartEvent:
		n.usage.InputTokens = int(v.Message.Usage.InputTokens)
		n.usage.CachedInputTokens = int(v.Message.Usage.CacheReadInputTokens)
		return []event.Event{event.Init{
			ThreadID: n.sessionID,
			Model:    string(v.Message.Model),
		}}

	case sdk.ContentBlockStartEvent:
		if tu, ok := v.ContentBlock.AsAny().(sdk.ToolUseBlock); ok {
			n.toolBlocks[v.Index] = &toolBlock{id: tu.ID, name: tu.Name}
		}
		return nil

	case sdk.ContentBlockDeltaEvent:
		switch d := v.Delta.AsAny().(type) {
		case sdk.TextDelta:
			if d.Text == "" {
				return nil
			}
			n.text.WriteString(d.Text)
			return []event.Event{event.Message{Role: "assistant", Text: d.Text, Delta: true}}
		case sdk.ThinkingDelta:
			if d.Thinking == "" {
				return nil
			}
			return []event.Event{event.Progress{Label: "thinking", Detail: d.Thinking}}
		case sdk.InputJSONDelta:
			if tb := n.toolBlocks[v.Index]; tb != nil && d.PartialJSON != "" {
				tb.fragments = append(tb.fragments, d.PartialJSON)
			}
			return nil
		}
		return nil

	case sdk.ContentBlockStopEvent:
		tb := n.toolBlocks[v.Index]
		if tb == nil {
			return nil
		}
		delete(n.toolBlocks, v.Index)
		var args map[string]any
		if joined := strings.Join(tb.fragments, ""); joined != "" {
			// Partial or invalid JSON is surfaced with empty args rather
			// than failing the run.
			_ = json.Unmarshal([]byte(joined), &args)
		}
		return []event.Event{event.ToolUse{Name: tb.name, CallID: tb.id, Args: args}}

	case sdk.MessageDeltaEvent:
		n.usage.OutputTokens = int(v.Usage.OutputTokens)
		n.usage.TotalTokens = n.usage.InputTokens + n.usage.OutputTokens
		u := n.usage
		return []event.Event{u}

	case sdk.MessageStopEvent:
		return []event.Event{event.Done{}}
	}

	if ev.Type != "" {
		return []event.Event{event.Progress{Label: ev.Type}}
	}
	return nil
}
