package run

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/agentbridge/agentbridge/internal/ndjson"
	"github.com/agentbridge/agentbridge/internal/procattr"
)

// ProcessConfig describes one subprocess invocation.
type ProcessConfig struct {
	// Path is the binary to execute.
	Path string

	// Args is the full argument vector (not including Path).
	Args []string

	// Dir is the working directory ("" inherits).
	Dir string

	// Env holds environment overrides applied on top of the parent env.
	Env map[string]string

	// SoftKillDelay and HardKillDelay control termination escalation after
	// abort. Zero values take the package defaults.
	SoftKillDelay time.Duration
	HardKillDelay time.Duration
}

// ExitStatus is the final, authoritative outcome of a subprocess.
type ExitStatus struct {
	// Code is the exit code. Meaningless when Signal is set.
	Code int

	// Signal names the terminating signal, if the process was signalled.
	Signal string

	// Err is any wait-level error that was not an ordinary exit.
	Err error

	// Stderr is the tail of the diagnostic output.
	Stderr string
}

// Success reports a clean zero exit.
func (s ExitStatus) Success() bool {
	return s.Err == nil && s.Signal == "" && s.Code == 0
}

// Process owns one subprocess invocation end to end: spawning, NDJSON
// stdout consumption, stderr buffering, the abort escalation protocol, and
// guaranteed teardown.
//
// Escalation after the run's Token aborts: stdin is closed immediately,
// SIGTERM goes to the process group after SoftKillDelay, SIGKILL after
// HardKillDelay. Both deadlines are measured from the abort and both are
// cancelled the moment the process exits on its own.
type Process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser
	reader *ndjson.Reader
	token  *Token
	cfg    ProcessConfig

	stderrTail tailBuffer

	exited      chan struct{} // closed by waitLoop; status is valid afterwards
	readingDone chan struct{} // closed by FinishReading; gates the reaper
	status      ExitStatus

	timerMu     sync.Mutex
	softTimer   *time.Timer
	hardTimer   *time.Timer
	inputOnce   sync.Once
	readingOnce sync.Once
	shutdownWg  sync.WaitGroup
}

// StartProcess spawns the configured subprocess bound to token. The process
// runs in its own process group so escalation signals reach any children it
// spawns.
func StartProcess(cfg ProcessConfig, token *Token) (*Process, error) {
	if cfg.SoftKillDelay <= 0 {
		cfg.SoftKillDelay = DefaultSoftKillDelay
	}
	if cfg.HardKillDelay <= 0 {
		cfg.HardKillDelay = DefaultHardKillDelay
	}

	cmd := exec.Command(cfg.Path, cfg.Args...)
	cmd.Env = os.Environ()
	for k, v := range cfg.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	if cfg.Dir != "" {
		cmd.Dir = cfg.Dir
	}
	procattr.Set(cmd)

	p := &Process{
		cmd:         cmd,
		token:       token,
		cfg:         cfg,
		exited:      make(chan struct{}),
		readingDone: make(chan struct{}),
	}

	var err error
	if p.stdin, err = cmd.StdinPipe(); err != nil {
		return nil, &ProcessError{Message: "failed to create stdin pipe", Cause: err}
	}
	if p.stdout, err = cmd.StdoutPipe(); err != nil {
		return nil, &ProcessError{Message: "failed to create stdout pipe", Cause: err}
	}
	if p.stderr, err = cmd.StderrPipe(); err != nil {
		return nil, &ProcessError{Message: "failed to create stderr pipe", Cause: err}
	}
	p.reader = ndjson.NewReader(p.stdout)

	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			return nil, &CLINotFoundError{Path: cfg.Path, Cause: err}
		}
		return nil, &ProcessError{Message: "failed to start process", Cause: err}
	}

	p.shutdownWg.Add(2)
	go p.stderrLoop()
	go p.waitLoop()
	go p.escalateOnAbort()

	return p, nil
}

// ReadLine returns the next JSON line from stdout, or io.EOF once the
// output stream closes. Stream closure says nothing about process exit;
// callers must consult Wait for the run's outcome.
func (p *Process) ReadLine() ([]byte, error) {
	return p.reader.ReadLine()
}

// CloseInput closes the subprocess's stdin, signalling "no more input".
// Idempotent.
func (p *Process) CloseInput() {
	p.inputOnce.Do(func() {
		_ = p.stdin.Close()
	})
}

// FinishReading tells the controller that no further ReadLine calls will be
// made. Reaping the process is deferred until then because os/exec's Wait
// closes the stdout pipe, which would race with in-flight reads.
func (p *Process) FinishReading() {
	p.readingOnce.Do(func() { close(p.readingDone) })
}

// Wait blocks until the process has actually exited and returns its final
// status. It is safe to call from multiple goroutines.
func (p *Process) Wait() ExitStatus {
	<-p.exited
	st := p.status
	st.Stderr = p.stderrTail.String()
	return st
}

// Exited reports process exit to selects.
func (p *Process) Exited() <-chan struct{} { return p.exited }

// StderrTail returns the buffered tail of the diagnostic output.
func (p *Process) StderrTail() string { return p.stderrTail.String() }

// Shutdown releases everything the controller holds: escalation timers,
// pipes, and the process itself (a final SIGKILL if it is somehow still
// alive). It runs on every exit path and is idempotent.
func (p *Process) Shutdown() {
	p.stopTimers()
	p.CloseInput()
	p.FinishReading()

	select {
	case <-p.exited:
	default:
		_ = procattr.KillGroup(p.cmd.Process)
		// Bounded wait so Shutdown can't hang on a wedged wait(2).
		select {
		case <-p.exited:
		case <-time.After(time.Second):
		}
	}

	_ = p.stdout.Close()
	_ = p.stderr.Close()
}

// waitLoop reaps the process and records the authoritative exit status.
func (p *Process) waitLoop() {
	defer p.shutdownWg.Done()

	<-p.readingDone
	err := p.cmd.Wait()
	st := ExitStatus{}
	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			st.Signal = ws.Signal().String()
		} else {
			st.Code = exitErr.ExitCode()
		}
	default:
		st.Err = err
	}

	p.status = st
	p.stopTimers()
	close(p.exited)
}

// escalateOnAbort implements the termination protocol: input closure at
// abort, SIGTERM at the soft deadline, SIGKILL at the hard deadline. A
// process that exits on its own between deadlines never receives a signal
// it does not need.
func (p *Process) escalateOnAbort() {
	select {
	case <-p.exited:
		return
	case <-p.token.Done():
	}

	p.CloseInput()

	p.timerMu.Lock()
	p.softTimer = time.AfterFunc(p.cfg.SoftKillDelay, func() {
		_ = procattr.SignalGroup(p.cmd.Process, syscall.SIGTERM)
	})
	p.hardTimer = time.AfterFunc(p.cfg.HardKillDelay, func() {
		_ = procattr.KillGroup(p.cmd.Process)
	})
	p.timerMu.Unlock()

	// If the process exited while the timers were being set up, clear them
	// immediately rather than waiting for waitLoop.
	select {
	case <-p.exited:
		p.stopTimers()
	default:
	}
}

func (p *Process) stopTimers() {
	p.timerMu.Lock()
	defer p.timerMu.Unlock()
	if p.softTimer != nil {
		p.softTimer.Stop()
	}
	if p.hardTimer != nil {
		p.hardTimer.Stop()
	}
}

// stderrLoop drains stderr into the tail buffer for error diagnostics.
func (p *Process) stderrLoop() {
	defer p.shutdownWg.Done()

	buf := make([]byte, 4096)
	for {
		n, err := p.stderr.Read(buf)
		if n > 0 {
			p.stderrTail.Write(buf[:n])
		}
		if err != nil {
			return
		}
	}
}

// BindContext aborts the token when ctx is cancelled, translating external
// cancellation into the run's cooperative protocol. The returned release
// func detaches the binding; call it once the run has finished. A binding
// that has been released never aborts the token, even when the release and
// the cancellation land at the same time.
func BindContext(ctx context.Context, token *Token) (release func()) {
	stop := context.AfterFunc(ctx, func() {
		token.Abort(ctx.Err().Error())
	})
	return func() { stop() }
}

// tailBuffer keeps the last few kilobytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
}

const tailBufferLimit = 8 * 1024

func (b *tailBuffer) Write(data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, data...)
	if len(b.buf) > tailBufferLimit {
		b.buf = b.buf[len(b.buf)-tailBufferLimit:]
	}
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
