package structured

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const addressSchema = `{
  "type": "object",
  "properties": {
    "city": {"type": "string"},
    "zip": {"type": "string"}
  },
  "required": ["city"]
}`

func TestInstruction(t *testing.T) {
	instr, err := Instruction(json.RawMessage(addressSchema))
	require.NoError(t, err)
	assert.Contains(t, instr, "JSON Schema")
	assert.Contains(t, instr, `"city"`)
}

func TestInstructionFromGoValue(t *testing.T) {
	type report struct {
		Summary string `json:"summary"`
		Safe    bool   `json:"safe"`
	}
	instr, err := Instruction(report{})
	require.NoError(t, err)
	assert.Contains(t, instr, "summary")
	assert.Contains(t, instr, "safe")
}

func TestInstructionRejectsInvalid(t *testing.T) {
	_, err := Instruction(json.RawMessage(`{broken`))
	assert.Error(t, err)

	_, err = Instruction(nil)
	assert.Error(t, err)
}

func TestExtract(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
		ok   bool
	}{
		{
			name: "bare object",
			text: `{"city": "Oslo"}`,
			want: `{"city":"Oslo"}`,
			ok:   true,
		},
		{
			name: "fenced block wins over surrounding braces",
			text: "Here {not json} first.\n```json\n{\"city\": \"Oslo\"}\n```\ntrailing {also not json}",
			want: `{"city":"Oslo"}`,
			ok:   true,
		},
		{
			name: "prose around outermost braces",
			text: `The result is {"city": "Oslo", "zip": "0150"} as requested.`,
			want: `{"city":"Oslo","zip":"0150"}`,
			ok:   true,
		},
		{
			name: "no json at all",
			text: "I could not produce a structured answer.",
			ok:   false,
		},
		{
			name: "malformed braces span",
			text: "partial {\"city\": trailing",
			ok:   false,
		},
		{
			name: "empty text",
			text: "",
			ok:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Extract(tt.text)
			require.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.JSONEq(t, tt.want, string(got))
			}
		})
	}
}

func TestConforms(t *testing.T) {
	schema := json.RawMessage(addressSchema)

	assert.True(t, Conforms(json.RawMessage(`{"city":"Oslo"}`), schema))
	assert.False(t, Conforms(json.RawMessage(`{"zip":"0150"}`), schema))
	assert.False(t, Conforms(json.RawMessage(`{"city":42}`), schema))

	// An uncompilable schema skips validation rather than failing the run.
	assert.True(t, Conforms(json.RawMessage(`{"city":42}`), json.RawMessage(`{"type":"nonsense"}`)))
}

func TestPostprocess(t *testing.T) {
	schema := json.RawMessage(addressSchema)

	got := Postprocess(`Answer: {"city": "Oslo"}`, schema)
	assert.JSONEq(t, `{"city":"Oslo"}`, string(got))

	// Absence is not an error: no payload, no schema, or non-conforming
	// payload all yield nil.
	assert.Nil(t, Postprocess("no json here", schema))
	assert.Nil(t, Postprocess(`{"city": "Oslo"}`, nil))
	assert.Nil(t, Postprocess(`{"zip": "0150"}`, schema))
}
