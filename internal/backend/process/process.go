// Package process supervises the worker subprocess: it spawns the
// executable, tracks its lifecycle, forwards its output streams to a
// logging sink line by line, and reports lifecycle events.
//
// The package never kills a process on its own. Terminate requests a
// graceful stop and WaitExit bounds the wait; escalating to Kill is an
// explicit decision left to the caller.
package process

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
)

// State represents the state of a supervised process.
type State int

const (
	// StateCreated indicates the process has been created but not started.
	StateCreated State = iota
	// StateRunning indicates the process is currently running.
	StateRunning
	// StateExited indicates the process has exited normally or with an error.
	StateExited
	// StateKilled indicates the process was terminated by a signal.
	StateKilled
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateExited:
		return "exited"
	case StateKilled:
		return "killed"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// ErrorKind classifies process-level failures reported through Events.
type ErrorKind int

const (
	// KindFailedToStart means the executable is missing or the OS
	// refused to start it.
	KindFailedToStart ErrorKind = iota
	// KindCrashed means the process terminated abnormally after a
	// successful start.
	KindCrashed
	// KindTimeout means a bounded wait on the process timed out.
	KindTimeout
	// KindWriteFailed means writing to the process failed.
	KindWriteFailed
	// KindReadFailed means reading the process output failed.
	KindReadFailed
	// KindUnknown covers everything else.
	KindUnknown
)

// String returns a human-readable kind name.
func (k ErrorKind) String() string {
	switch k {
	case KindFailedToStart:
		return "failed to start"
	case KindCrashed:
		return "crashed"
	case KindTimeout:
		return "timeout"
	case KindWriteFailed:
		return "write failed"
	case KindReadFailed:
		return "read failed"
	default:
		return "unknown"
	}
}

// Events carries lifecycle callbacks. Any field may be nil. Callbacks
// are invoked from the supervisor's internal goroutines and must not
// block.
type Events struct {
	// Started fires once the OS process is running.
	Started func()

	// Error fires on process-level failures. It may fire more than
	// once for a single process (e.g. a read failure followed by a
	// crash).
	Error func(kind ErrorKind, err error)

	// Exited fires exactly once, with the process exit code.
	Exited func(code int)
}

// Logger receives the worker's output streams, one call per complete
// line: stdout lines at info level, stderr lines at error level.
type Logger interface {
	Infof(format string, args ...any)
	Errorf(format string, args ...any)
}

// SpawnError reports that the worker executable could not be started.
type SpawnError struct {
	Path string
	Err  error
}

// Error implements the error interface.
func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s: %v", e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *SpawnError) Unwrap() error { return e.Err }

// ErrNotRunning is returned by signal operations on a process that is
// not running.
var ErrNotRunning = errors.New("process not running")

// ErrWaitTimeout is returned by WaitExit when the process does not
// exit within the given timeout.
var ErrWaitTimeout = errors.New("timed out waiting for process exit")

// Process is a supervised worker subprocess.
//
// Process is safe for concurrent use. The state field uses atomic
// operations; exitErr is protected by mu.
type Process struct {
	// ID is a unique identifier for this process instance.
	ID string

	// Name is a human-readable name, derived from the executable.
	Name string

	cmd     *exec.Cmd
	started time.Time

	done     chan struct{}
	state    atomic.Int32
	exitCode atomic.Int32

	mu      sync.RWMutex
	exitErr error

	events Events
	logWg  sync.WaitGroup
}

type spawnConfig struct {
	id     string
	dir    string
	env    map[string]string
	output Logger
	events Events
}

// Option configures Spawn.
type Option func(*spawnConfig)

// WithID sets the process identifier instead of generating one.
func WithID(id string) Option {
	return func(c *spawnConfig) { c.id = id }
}

// WithDir sets the working directory of the process.
func WithDir(dir string) Option {
	return func(c *spawnConfig) { c.dir = dir }
}

// WithEnv adds environment variables to the process environment.
func WithEnv(env map[string]string) Option {
	return func(c *spawnConfig) { c.env = env }
}

// WithOutput sets the sink receiving the process output streams.
func WithOutput(l Logger) Option {
	return func(c *spawnConfig) { c.output = l }
}

// WithEvents sets the lifecycle event callbacks.
func WithEvents(ev Events) Option {
	return func(c *spawnConfig) { c.events = ev }
}

// Spawn starts the executable at path with the given arguments and
// returns a supervised handle to it.
//
// It returns a *SpawnError if the executable does not exist or the OS
// refuses to start it; in that case no process is running.
func Spawn(path string, argv []string, opts ...Option) (*Process, error) {
	cfg := spawnConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	resolved, err := lookupExecutable(path)
	if err != nil {
		emitError(cfg.events, KindFailedToStart, err)
		return nil, &SpawnError{Path: path, Err: err}
	}

	cmd := exec.Command(resolved, argv...)
	cmd.Dir = cfg.dir
	cmd.Env = os.Environ()
	for k, v := range cfg.env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &SpawnError{Path: path, Err: fmt.Errorf("stdout pipe: %w", err)}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdout.Close()
		return nil, &SpawnError{Path: path, Err: fmt.Errorf("stderr pipe: %w", err)}
	}

	id := cfg.id
	if id == "" {
		id = uuid.New().String()
	}

	p := &Process{
		ID:     id,
		Name:   filepath.Base(path),
		cmd:    cmd,
		done:   make(chan struct{}),
		events: cfg.events,
	}
	p.state.Store(int32(StateCreated))
	p.exitCode.Store(-1) // -1 indicates not exited

	if err := cmd.Start(); err != nil {
		stdout.Close()
		stderr.Close()
		emitError(cfg.events, KindFailedToStart, err)
		return nil, &SpawnError{Path: path, Err: err}
	}

	p.started = time.Now()
	p.state.Store(int32(StateRunning))

	p.forwardOutput(stdout, stderr, cfg.output)
	go p.waitLoop()

	if cfg.events.Started != nil {
		cfg.events.Started()
	}

	return p, nil
}

// lookupExecutable resolves path the way exec.Command would, but fails
// eagerly so that a missing executable is a synchronous error.
func lookupExecutable(path string) (string, error) {
	if filepath.IsAbs(path) || filepath.Base(path) != path {
		info, err := os.Stat(path)
		if err != nil {
			return "", err
		}
		if info.IsDir() {
			return "", fmt.Errorf("%s is a directory", path)
		}
		return path, nil
	}
	return exec.LookPath(path)
}

// waitLoop waits for the process to exit and records the outcome.
func (p *Process) waitLoop() {
	// Output forwarders must drain before Wait closes the pipes.
	p.logWg.Wait()
	err := p.cmd.Wait()

	p.mu.Lock()
	p.exitErr = err
	p.mu.Unlock()

	exitCode := 0
	state := StateExited

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
			if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
				state = StateKilled
			}
		} else {
			exitCode = -1
		}
	}

	p.exitCode.Store(int32(exitCode))
	p.state.Store(int32(state))

	if state == StateKilled {
		emitError(p.events, KindCrashed, err)
	}
	if p.events.Exited != nil {
		p.events.Exited(exitCode)
	}
	close(p.done)
}

// State returns the current process state.
func (p *Process) State() State {
	return State(p.state.Load())
}

// ExitCode returns the process exit code, or -1 if it has not exited.
func (p *Process) ExitCode() int {
	return int(p.exitCode.Load())
}

// ExitError returns the error from waiting on the process, if any.
func (p *Process) ExitError() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.exitErr
}

// Done returns a channel that is closed when the process exits.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// IsRunning returns true if the process is currently running.
func (p *Process) IsRunning() bool {
	return p.State() == StateRunning
}

// HasExited returns true once the process has exited or been killed.
func (p *Process) HasExited() bool {
	state := p.State()
	return state == StateExited || state == StateKilled
}

// PID returns the OS process ID, or -1 if not started.
func (p *Process) PID() int {
	if p.cmd.Process == nil {
		return -1
	}
	return p.cmd.Process.Pid
}

// Runtime returns how long the process has been running, or its total
// runtime if it has exited.
func (p *Process) Runtime() time.Duration {
	if p.started.IsZero() {
		return 0
	}
	return time.Since(p.started)
}

// Signal sends a signal to the running process.
func (p *Process) Signal(sig os.Signal) error {
	if !p.IsRunning() || p.cmd.Process == nil {
		return ErrNotRunning
	}
	return p.cmd.Process.Signal(sig)
}

// Terminate requests graceful termination (SIGTERM). Callers that need
// a hard stop after a failed graceful shutdown escalate with Kill.
func (p *Process) Terminate() error {
	return p.Signal(syscall.SIGTERM)
}

// Kill forcibly stops the process (SIGKILL).
func (p *Process) Kill() error {
	return p.Signal(syscall.SIGKILL)
}

// WaitExit blocks until the process exits or the timeout elapses.
// On timeout it reports a KindTimeout event and returns ErrWaitTimeout;
// the process is left running for the caller to decide on escalation.
func (p *Process) WaitExit(timeout time.Duration) error {
	select {
	case <-p.done:
		return nil
	case <-time.After(timeout):
		emitError(p.events, KindTimeout, ErrWaitTimeout)
		return ErrWaitTimeout
	}
}

func emitError(ev Events, kind ErrorKind, err error) {
	if ev.Error != nil {
		ev.Error(kind, err)
	}
}
