package run

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// script writes an executable shell script and returns its path.
func script(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "backend")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func start(t *testing.T, cfg ProcessConfig, token *Token) *Process {
	t.Helper()
	p, err := StartProcess(cfg, token)
	require.NoError(t, err)
	t.Cleanup(p.Shutdown)
	return p
}

// drain reads stdout to EOF and returns the lines.
func drain(t *testing.T, p *Process) [][]byte {
	t.Helper()
	var lines [][]byte
	for {
		line, err := p.ReadLine()
		if err != nil {
			require.ErrorIs(t, err, io.EOF)
			return lines
		}
		lines = append(lines, line)
	}
}

func TestProcessCleanExit(t *testing.T) {
	p := start(t, ProcessConfig{Path: script(t, `
echo '{"n":1}'
echo '{"n":2}'
`)}, NewToken())
	p.CloseInput()

	lines := drain(t, p)
	require.Len(t, lines, 2)
	assert.Equal(t, `{"n":1}`, string(lines[0]))

	p.FinishReading()
	status := p.Wait()
	assert.True(t, status.Success())
}

func TestProcessExitAfterOutputCloses(t *testing.T) {
	// stdout closes well before the process exits, and the exit is a
	// failure. The reported status must be the real one.
	p := start(t, ProcessConfig{Path: script(t, `
echo '{"n":1}'
exec 1>&-
sleep 0.2
exit 7
`)}, NewToken())
	p.CloseInput()

	lines := drain(t, p)
	require.Len(t, lines, 1)

	p.FinishReading()
	status := p.Wait()
	assert.False(t, status.Success())
	assert.Equal(t, 7, status.Code)
}

func TestProcessSignalledExit(t *testing.T) {
	p := start(t, ProcessConfig{Path: script(t, `kill -9 $$`)}, NewToken())
	p.CloseInput()

	drain(t, p)
	p.FinishReading()
	status := p.Wait()
	assert.False(t, status.Success())
	assert.Equal(t, "killed", status.Signal)
}

func TestProcessStderrTail(t *testing.T) {
	p := start(t, ProcessConfig{Path: script(t, `
echo "fatal: flag provided but not defined" >&2
exit 2
`)}, NewToken())
	p.CloseInput()

	drain(t, p)
	p.FinishReading()
	status := p.Wait()
	assert.Equal(t, 2, status.Code)
	assert.Contains(t, status.Stderr, "flag provided but not defined")
}

func TestProcessNotFound(t *testing.T) {
	_, err := StartProcess(ProcessConfig{Path: filepath.Join(t.TempDir(), "missing")}, NewToken())
	require.Error(t, err)
	var notFound *CLINotFoundError
	assert.True(t, errors.As(err, &notFound))
}

func TestAbortClosesStdinFirst(t *testing.T) {
	// The backend exits as soon as its stdin closes; with generous kill
	// delays, a prompt exit proves stdin closure alone did the job.
	token := NewToken()
	p := start(t, ProcessConfig{
		Path:          script(t, `read _ignored; exit 0`),
		SoftKillDelay: 10 * time.Second,
		HardKillDelay: 20 * time.Second,
	}, token)

	token.Abort("interrupt")

	drain(t, p)
	p.FinishReading()

	done := make(chan ExitStatus, 1)
	go func() { done <- p.Wait() }()
	select {
	case status := <-done:
		assert.True(t, status.Success())
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit after stdin closed")
	}
}

func TestAbortEscalatesToSigterm(t *testing.T) {
	token := NewToken()
	p := start(t, ProcessConfig{
		Path:          script(t, `sleep 30`),
		SoftKillDelay: 50 * time.Millisecond,
		HardKillDelay: 10 * time.Second,
	}, token)
	p.CloseInput()

	token.Abort("interrupt")

	drain(t, p)
	p.FinishReading()
	status := p.Wait()
	assert.Equal(t, "terminated", status.Signal)
}

func TestAbortEscalatesToSigkill(t *testing.T) {
	token := NewToken()
	p := start(t, ProcessConfig{
		Path: script(t, `
trap '' TERM
while true; do sleep 0.1; done
`),
		SoftKillDelay: 50 * time.Millisecond,
		HardKillDelay: 300 * time.Millisecond,
	}, token)
	p.CloseInput()

	token.Abort("interrupt")

	drain(t, p)
	p.FinishReading()
	status := p.Wait()
	assert.Equal(t, "killed", status.Signal)
}

func TestShutdownKillsLiveProcess(t *testing.T) {
	p := start(t, ProcessConfig{Path: script(t, `sleep 30`)}, NewToken())

	p.Shutdown()

	select {
	case <-p.Exited():
	case <-time.After(5 * time.Second):
		t.Fatal("process still alive after Shutdown")
	}
}
