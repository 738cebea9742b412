package run

import (
	"errors"
	"fmt"
)

// Sentinel errors for common conditions.
var (
	ErrNotStarted     = errors.New("run not started")
	ErrAlreadyStarted = errors.New("run already started")
	ErrInterrupted    = errors.New("run interrupted")
)

// ProcessError reports a subprocess that failed to start or exited
// abnormally. Stderr carries the tail of the diagnostic output.
type ProcessError struct {
	Cause    error
	Message  string
	Stderr   string
	ExitCode int
	Signal   string
}

func (e *ProcessError) Error() string {
	msg := e.Message
	switch {
	case e.Signal != "":
		msg = fmt.Sprintf("%s (signal %s)", msg, e.Signal)
	case e.ExitCode != 0:
		msg = fmt.Sprintf("%s (exit code %d)", msg, e.ExitCode)
	}
	if e.Stderr != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Stderr)
	}
	return "process error: " + msg
}

func (e *ProcessError) Unwrap() error { return e.Cause }

// CLINotFoundError indicates the backend binary was not found on PATH.
type CLINotFoundError struct {
	Path  string
	Cause error
}

func (e *CLINotFoundError) Error() string {
	return fmt.Sprintf("CLI binary not found: %s", e.Path)
}

func (e *CLINotFoundError) Unwrap() error { return e.Cause }
