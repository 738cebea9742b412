package gemini

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/agentbridge/agentbridge/provider"
)

func TestBuildArgs(t *testing.T) {
	tests := []struct {
		name   string
		cfg    provider.ThreadConfig
		resume string
		yolo   bool
		want   []string
	}{
		{
			name: "minimal",
			want: []string{"--output-format", "stream-json", "-p", "hi"},
		},
		{
			name: "model and yolo",
			cfg:  provider.ThreadConfig{Model: "gemini-2.5-pro"},
			yolo: true,
			want: []string{"-m", "gemini-2.5-pro", "--output-format", "stream-json", "--yolo", "-p", "hi"},
		},
		{
			name: "include directories",
			cfg:  provider.ThreadConfig{IncludeDirs: []string{"/a", "/b"}},
			want: []string{"--output-format", "stream-json", "--include-directories", "/a,/b", "-p", "hi"},
		},
		{
			name:   "resume",
			resume: "abc-123",
			want:   []string{"--output-format", "stream-json", "--resume", "abc-123", "-p", "hi"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := buildArgs(tt.cfg, formatStreamJSON, tt.resume, "hi", tt.yolo)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseSessionList(t *testing.T) {
	out := `Available sessions:

  1. Fix the flaky watcher test (2 hours ago) [a1b2c3]
  2. Untitled session
  3. Refactor [config] loading (yesterday) [d4e5f6]

Use --resume <id> to continue.
`
	refs := parseSessionList(out)
	assert.Equal(t, []provider.SessionRef{
		{Index: 1, ID: "a1b2c3"},
		{Index: 2, ID: ""},
		{Index: 3, ID: "d4e5f6"},
	}, refs)
}

func TestParseSessionListEmpty(t *testing.T) {
	assert.Empty(t, parseSessionList("No sessions found.\n"))
}
