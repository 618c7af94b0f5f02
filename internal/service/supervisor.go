package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"natsvisor/internal/models"
)

// RunRecorder persists launches. Failures are logged and never affect the
// supervised process.
type RunRecorder interface {
	RecordStart(ctx context.Context, run models.Run) error
	RecordExit(ctx context.Context, run models.Run) error
}

// DefaultWaitDelay bounds how long reaping waits for stdout to close after
// the child has exited.
const DefaultWaitDelay = 2 * time.Second

// Supervisor launches at most one gnatsd process at a time and tracks it
// until it is reaped.
type Supervisor struct {
	mu        sync.Mutex
	current   *Process
	onExit    []func(*Process)
	recorder  RunRecorder
	events    *EventLog
	logger    zerolog.Logger
	waitDelay time.Duration
	wg        sync.WaitGroup

	stdout io.Writer
	kill   func(*os.Process) error
}

type Option func(*Supervisor)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Supervisor) { s.logger = l }
}

func WithRecorder(r RunRecorder) Option {
	return func(s *Supervisor) { s.recorder = r }
}

func WithEventLog(l *EventLog) Option {
	return func(s *Supervisor) { s.events = l }
}

// WithWaitDelay sets how long a reaped child's stdout may stay open, held by
// a descendant, before it is closed and recorded as an I/O failure.
func WithWaitDelay(d time.Duration) Option {
	return func(s *Supervisor) { s.waitDelay = d }
}

func NewSupervisor(opts ...Option) *Supervisor {
	s := &Supervisor{
		events:    NewEventLog(1000),
		logger:    zerolog.Nop(),
		waitDelay: DefaultWaitDelay,
		stdout:    io.Discard,
		kill:      (*os.Process).Kill,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnExit registers fn to be called once for every process after it is reaped.
func (s *Supervisor) OnExit(fn func(*Process)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onExit = append(s.onExit, fn)
}

func (s *Supervisor) event(level, message string, p *Process) {
	runID := ""
	if p != nil {
		runID = p.id.String()
	}
	s.events.Add(level, message, runID)
}

// Launch spawns path with args and returns as soon as the process is running.
// Stdout is drained while the child runs and reaping happens on a background
// goroutine; use Process.Done or Process.Wait for the outcome. ctx scopes the
// start record only and does not bound the child's lifetime.
func (s *Supervisor) Launch(ctx context.Context, path string, args []string) (*Process, error) {
	s.mu.Lock()
	if s.current != nil && s.current.State() == StateRunning {
		s.mu.Unlock()
		return nil, ErrAlreadyRunning
	}

	p := newProcess(path, args)
	cmd := exec.Command(path, args...) //nolint:gosec // launching the staged binary is the point
	cmd.Stdout = &output{p: p, sink: s.stdout, fail: s.drainFailed}
	cmd.WaitDelay = s.waitDelay

	if err := cmd.Start(); err != nil {
		s.mu.Unlock()
		return nil, s.spawnFailed(path, "start", err)
	}

	p.started(cmd)
	s.current = p
	s.wg.Add(1)
	s.mu.Unlock()

	s.logger.Info().
		Str("run_id", p.id.String()).
		Int("pid", p.pid).
		Strs("args", args).
		Msg("Server started")
	s.event("info", fmt.Sprintf("Server started with PID %d", p.pid), p)

	if s.recorder != nil {
		if err := s.recorder.RecordStart(ctx, p.run()); err != nil {
			s.logger.Warn().Err(err).Str("run_id", p.id.String()).Msg("Failed to record run start")
		}
	}

	go s.supervise(p)

	return p, nil
}

func (s *Supervisor) spawnFailed(path, op string, err error) error {
	s.logger.Error().Err(err).Str("path", path).Str("op", op).Msg("Failed to start server")
	s.event("error", fmt.Sprintf("Failed to start server: %v", err), nil)
	return &LaunchError{Kind: SpawnFailed, Op: op, Path: path, Err: err}
}

// drainFailed records that stdout is no longer being read. The process is
// left Running until it is reaped.
func (s *Supervisor) drainFailed(p *Process, err error) {
	p.setErr(&LaunchError{Kind: IOFailure, Op: "drain", Path: p.path, Err: err})
	s.logger.Warn().Err(err).Str("run_id", p.id.String()).Msg("Stopped draining server output")
	s.event("warning", fmt.Sprintf("Output drain failed: %v", err), p)
}

// supervise reaps the child. Wait returns once the child exits, or at most
// waitDelay later if a descendant still holds stdout open.
func (s *Supervisor) supervise(p *Process) {
	defer s.wg.Done()

	waitErr := p.cmd.Wait()

	exitCode := -1
	if p.cmd.ProcessState != nil {
		exitCode = p.cmd.ProcessState.ExitCode()
	}

	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) && p.Err() == nil {
		s.drainFailed(p, waitErr)
	}

	if p.finish(exitCode) {
		s.logger.Info().Str("run_id", p.id.String()).Int("exit_code", exitCode).Msg("Server exited")
		s.event("info", fmt.Sprintf("Server exited with code %d", exitCode), p)
	} else {
		s.logger.Debug().Str("run_id", p.id.String()).Int("exit_code", exitCode).Msg("Killed server reaped")
	}

	if s.recorder != nil {
		if err := s.recorder.RecordExit(context.Background(), p.run()); err != nil {
			s.logger.Warn().Err(err).Str("run_id", p.id.String()).Msg("Failed to record run exit")
		}
	}

	s.mu.Lock()
	hooks := append([]func(*Process){}, s.onExit...)
	s.mu.Unlock()
	for _, fn := range hooks {
		fn(p)
	}
}

// Kill forcefully terminates the process identified by h. It fails fast
// with ErrStaleHandle if h does not name the current running process, so a
// handle kept across a relaunch never signals the new server. Kill does not
// wait for the process to be reaped.
func (s *Supervisor) Kill(h Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.current
	if p == nil {
		return &KillError{Pid: h.PID, Err: ErrNotLaunched}
	}
	if p.id != h.RunID || p.State() != StateRunning {
		return &KillError{Pid: h.PID, Err: ErrStaleHandle}
	}

	s.logger.Info().Str("run_id", p.id.String()).Int("pid", p.pid).Msg("Killing server")

	if err := s.kill(p.cmd.Process); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return &KillError{Pid: p.pid, Err: ErrStaleHandle}
		}
		s.logger.Error().Err(err).Int("pid", p.pid).Msg("Failed to kill server")
		s.event("error", fmt.Sprintf("Failed to kill PID %d: %v", p.pid, err), p)
		return &KillError{Pid: p.pid, Err: err}
	}

	if p.markTerminated(ReasonKilled) {
		s.event("info", fmt.Sprintf("Server PID %d killed", p.pid), p)
	}
	return nil
}

// KillPID sends SIGKILL to a bare pid. Nothing checks that pid still belongs
// to a process this supervisor started; prefer Kill with a Handle.
func (s *Supervisor) KillPID(pid int) error {
	if pid <= 0 {
		return &KillError{Pid: pid, Err: ErrInvalidPID}
	}

	s.logger.Warn().Int("pid", pid).Msg("Killing by raw pid")
	if err := syscall.Kill(pid, syscall.SIGKILL); err != nil {
		return &KillError{Pid: pid, Err: err}
	}

	s.mu.Lock()
	p := s.current
	s.mu.Unlock()
	if p != nil && p.pid == pid && p.markTerminated(ReasonKilled) {
		s.event("info", fmt.Sprintf("Server PID %d killed", pid), p)
	}
	return nil
}

// Current returns the most recently launched process, running or not.
func (s *Supervisor) Current() (*Process, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, s.current != nil
}

func (s *Supervisor) Status() models.ServerStatus {
	p, ok := s.Current()
	if !ok {
		return models.ServerStatus{
			State:  StateNotStarted.String(),
			Uptime: "N/A",
			Memory: "N/A",
			CPU:    "N/A",
		}
	}
	return p.Snapshot()
}

func (s *Supervisor) Logs(limit int) []models.LogEntry {
	return s.events.GetLast(limit)
}

func (s *Supervisor) LogsByLevel(level string, limit int) []models.LogEntry {
	return s.events.GetByLevel(level, limit)
}

// Shutdown kills a running server and waits for every supervised process to
// be reaped, up to timeout.
func (s *Supervisor) Shutdown(timeout time.Duration) error {
	if p, ok := s.Current(); ok && p.State() == StateRunning {
		if err := s.Kill(p.Handle()); err != nil && !errors.Is(err, ErrStaleHandle) {
			return err
		}
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("server not reaped within %s", timeout)
	}
}
