package gemini

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentbridge/agentbridge/event"
)

func TestNormalizerLine(t *testing.T) {
	tests := []struct {
		name string
		line string
		want []event.Event
		ok   bool
	}{
		{
			name: "session",
			line: `{"type":"session","session_id":"abc-123","model":"gemini-2.5-pro"}`,
			want: []event.Event{event.Init{ThreadID: "abc-123", Model: "gemini-2.5-pro"}},
			ok:   true,
		},
		{
			name: "message with default role",
			line: `{"type":"message","content":"hello","delta":true}`,
			want: []event.Event{event.Message{Role: "assistant", Text: "hello", Delta: true}},
			ok:   true,
		},
		{
			name: "thought",
			line: `{"type":"thought","content":"planning the edit"}`,
			want: []event.Event{event.Progress{Label: "thinking", Detail: "planning the edit"}},
			ok:   true,
		},
		{
			name: "tool use",
			line: `{"type":"tool_use","name":"read_file","call_id":"c1","args":{"path":"main.go"}}`,
			want: []event.Event{event.ToolUse{Name: "read_file", CallID: "c1", Args: map[string]any{"path": "main.go"}}},
			ok:   true,
		},
		{
			name: "tool result with structured payload",
			line: `{"type":"tool_result","name":"read_file","call_id":"c1","result":{"lines":3},"exit_code":0}`,
			want: []event.Event{event.ToolResult{Name: "read_file", CallID: "c1", Result: map[string]any{"lines": float64(3)}}},
			ok:   true,
		},
		{
			name: "permission",
			line: `{"type":"permission","request":"run shell command","decision":"allow"}`,
			want: []event.Event{event.Permission{Request: "run shell command", Decision: "allow"}},
			ok:   true,
		},
		{
			name: "stats",
			line: `{"type":"stats","stats":{"input_tokens":10,"output_tokens":20,"total_tokens":30}}`,
			want: []event.Event{event.Usage{InputTokens: 10, OutputTokens: 20, TotalTokens: 30}},
			ok:   true,
		},
		{
			name: "error",
			line: `{"type":"error","code":"quota","message":"quota exhausted"}`,
			want: []event.Event{event.Error{Code: "quota", Message: "quota exhausted"}},
			ok:   true,
		},
		{
			name: "successful result",
			line: `{"type":"result","status":"success"}`,
			want: []event.Event{event.Done{}},
			ok:   true,
		},
		{
			name: "failed result",
			line: `{"type":"result","status":"error"}`,
			want: []event.Event{event.Error{Message: "run finished with status error"}},
			ok:   true,
		},
		{
			name: "unknown type surfaces as progress",
			line: `{"type":"compaction","message":"trimming history"}`,
			want: []event.Event{event.Progress{Label: "compaction", Detail: "trimming history"}},
			ok:   true,
		},
		{
			name: "malformed line is discarded",
			line: `{"type":`,
			ok:   false,
		},
		{
			name: "missing type is discarded",
			line: `{"content":"stray"}`,
			ok:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := &normalizer{}
			got, ok := n.Line([]byte(tt.line))
			require.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizerCapturesSessionID(t *testing.T) {
	n := &normalizer{}

	_, ok := n.Line([]byte(`{"type":"session","session_id":"s-1"}`))
	require.True(t, ok)
	assert.Equal(t, "s-1", n.sessionID)

	// A later result line may carry a fresher identifier.
	_, ok = n.Line([]byte(`{"type":"result","status":"success","session_id":"s-2"}`))
	require.True(t, ok)
	assert.Equal(t, "s-2", n.sessionID)
}

func TestNormalizerRetainsRawLine(t *testing.T) {
	n := &normalizer{}
	assert.Nil(t, n.Raw())

	_, ok := n.Line([]byte(`{"type":"message","content":"hi"}`))
	require.True(t, ok)

	// Malformed lines never clobber the retained payload.
	_, ok = n.Line([]byte(`not json`))
	require.False(t, ok)
	assert.JSONEq(t, `{"type":"message","content":"hi"}`, string(n.Raw()))
}
