package service

import (
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"natsvisor/internal/models"
)

// State is the lifecycle of one supervised process.
type State int

const (
	StateNotStarted State = iota
	StateRunning
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateRunning:
		return "running"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

const (
	ReasonExited = "exited"
	ReasonKilled = "killed"
)

// Handle identifies one launch. The RunID makes a handle from an earlier
// launch distinguishable from the current one even if the OS reuses the pid.
type Handle struct {
	RunID uuid.UUID `json:"run_id"`
	PID   int       `json:"pid"`
}

// Process is a spawned gnatsd instance. It is owned by the Supervisor that
// launched it; callers only observe it.
type Process struct {
	id        uuid.UUID
	pid       int
	path      string
	args      []string
	cmd       *exec.Cmd
	startedAt time.Time

	drained atomic.Int64
	done    chan struct{}

	mu       sync.Mutex
	state    State
	reason   string
	exitCode int
	reaped   bool
	endedAt  time.Time
	err      error
}

// newProcess allocates the run before spawning so its output writer can be
// attached to the command. started fills in the OS identity.
func newProcess(path string, args []string) *Process {
	return &Process{
		id:       uuid.New(),
		path:     path,
		args:     append([]string(nil), args...),
		done:     make(chan struct{}),
		state:    StateRunning,
		exitCode: -1,
	}
}

func (p *Process) started(cmd *exec.Cmd) {
	p.cmd = cmd
	p.pid = cmd.Process.Pid
	p.startedAt = time.Now()
}

func (p *Process) ID() uuid.UUID { return p.id }

func (p *Process) PID() int { return p.pid }

func (p *Process) Args() []string { return append([]string(nil), p.args...) }

func (p *Process) StartedAt() time.Time { return p.startedAt }

func (p *Process) Handle() Handle {
	return Handle{RunID: p.id, PID: p.pid}
}

func (p *Process) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// ExitCode is -1 until the process has been reaped, and for processes that
// died from a signal.
func (p *Process) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

func (p *Process) Reason() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reason
}

// Err returns the *LaunchError recorded while supervising, if any.
func (p *Process) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Done is closed once the process has been reaped.
func (p *Process) Done() <-chan struct{} { return p.done }

// Wait blocks until the process is reaped.
func (p *Process) Wait() error {
	<-p.done
	return p.Err()
}

// OutputBytes is how much stdout has been drained so far.
func (p *Process) OutputBytes() int64 { return p.drained.Load() }

// markTerminated moves the process to Terminated. Only the first caller
// wins; later calls report false.
func (p *Process) markTerminated(reason string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateTerminated {
		return false
	}
	p.state = StateTerminated
	p.reason = reason
	p.endedAt = time.Now()
	return true
}

func (p *Process) setErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err == nil {
		p.err = err
	}
}

// finish records the reaped exit status and releases waiters.
func (p *Process) finish(exitCode int) bool {
	first := p.markTerminated(ReasonExited)
	p.mu.Lock()
	p.exitCode = exitCode
	p.reaped = true
	p.mu.Unlock()
	close(p.done)
	return first
}

// output is the child's stdout. os/exec copies the pipe into it on its own
// goroutine while the child runs, so reaping never waits on a reader.
type output struct {
	p    *Process
	sink io.Writer
	fail func(*Process, error)
}

func (o *output) Write(b []byte) (int, error) {
	n, err := o.sink.Write(b)
	o.p.drained.Add(int64(n))
	if err != nil {
		o.fail(o.p, err)
	}
	return n, err
}

// Snapshot renders the process for the HTTP surface.
func (p *Process) Snapshot() models.ServerStatus {
	p.mu.Lock()

	status := models.ServerStatus{
		RunID:     p.id.String(),
		State:     p.state.String(),
		Pid:       p.pid,
		Args:      append([]string(nil), p.args...),
		Uptime:    "N/A",
		Memory:    "N/A",
		CPU:       "N/A",
		Reason:    p.reason,
		OutputLen: p.drained.Load(),
	}

	running := p.state == StateRunning
	if running {
		status.Uptime = formatDuration(time.Since(p.startedAt))
	}
	if p.reaped {
		code := p.exitCode
		status.ExitCode = &code
	}
	if p.err != nil {
		status.Error = p.err.Error()
	}
	p.mu.Unlock()

	if running {
		status.Memory = getProcessMemory(p.pid)
		status.CPU = getProcessCPU(p.pid)
	}
	return status
}

func (p *Process) run() models.Run {
	p.mu.Lock()
	defer p.mu.Unlock()

	run := models.Run{
		ID:        p.id.String(),
		Pid:       p.pid,
		Args:      joinArgs(p.args),
		StartedAt: p.startedAt.UTC().Format(time.RFC3339Nano),
		Reason:    p.reason,
	}
	if p.reaped {
		ended := p.endedAt.UTC().Format(time.RFC3339Nano)
		code := p.exitCode
		run.EndedAt = &ended
		run.ExitCode = &code
	}
	if p.err != nil {
		run.Error = p.err.Error()
	}
	return run
}
