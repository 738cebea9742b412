package gemini

import (
	"context"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/agentbridge/agentbridge/provider"
)

// outputFormat selects how the CLI renders results.
type outputFormat string

const (
	formatJSON       outputFormat = "json"        // one JSON document at the end
	formatStreamJSON outputFormat = "stream-json" // one JSON event per line
)

// buildArgs assembles the CLI argument vector for one run.
//
// Shape: [-m <model>] --output-format <fmt> [--include-directories a,b]
// [--yolo] [--resume <token>] -p <prompt>
func buildArgs(cfg provider.ThreadConfig, format outputFormat, resume, prompt string, yolo bool) []string {
	var args []string

	if cfg.Model != "" {
		args = append(args, "-m", cfg.Model)
	}

	args = append(args, "--output-format", string(format))

	if len(cfg.IncludeDirs) > 0 {
		args = append(args, "--include-directories", strings.Join(cfg.IncludeDirs, ","))
	}

	if yolo {
		args = append(args, "--yolo")
	}

	if resume != "" {
		args = append(args, "--resume", resume)
	}

	args = append(args, "-p", prompt)
	return args
}

// sessionLine matches one entry of the CLI's session listing, e.g.
//
//	1. Fix the build (2 hours ago) [a1b2c3]
//	2. Untitled session
//
// The bracketed id is optional: sessions that have not completed a turn are
// listed by position only.
var sessionLine = regexp.MustCompile(`^\s*(\d+)\.\s+(?:.*\[([^\[\]]+)\]\s*$|.*$)`)

// parseSessionList recovers (index, id) pairs from the human-readable
// listing output. Lines that do not look like entries are skipped.
func parseSessionList(out string) []provider.SessionRef {
	var refs []provider.SessionRef
	for _, line := range strings.Split(out, "\n") {
		m := sessionLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		index, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		refs = append(refs, provider.SessionRef{Index: index, ID: m[2]})
	}
	return refs
}

// ListSessions runs the companion listing invocation and parses its output.
// Most recent sessions come first in the CLI's own ordering.
func (a *Adapter) ListSessions(ctx context.Context) ([]provider.SessionRef, error) {
	cmd := exec.CommandContext(ctx, a.cfg.CLIPath, "--list-sessions")
	out, err := cmd.Output()
	if err != nil {
		return nil, err
	}
	return parseSessionList(string(out)), nil
}
