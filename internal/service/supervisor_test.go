package service

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"natsvisor/internal/models"
)

func waitReaped(t *testing.T, p *Process) {
	t.Helper()
	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("process %d not reaped in time", p.PID())
	}
}

func launchSh(t *testing.T, s *Supervisor, script string) *Process {
	t.Helper()
	p, err := s.Launch(context.Background(), "/bin/sh", []string{"-c", script})
	if err != nil {
		t.Fatalf("launch %q: %v", script, err)
	}
	return p
}

func TestLaunchThenKill(t *testing.T) {
	s := NewSupervisor()
	p := launchSh(t, s, "exec sleep 30")

	if p.PID() <= 0 {
		t.Fatalf("expected a pid, got %d", p.PID())
	}
	if p.State() != StateRunning {
		t.Fatalf("expected running, got %s", p.State())
	}

	if err := s.Kill(p.Handle()); err != nil {
		t.Fatalf("kill: %v", err)
	}
	if p.State() != StateTerminated {
		t.Fatalf("expected terminated right after kill, got %s", p.State())
	}

	waitReaped(t, p)
	if p.Reason() != ReasonKilled {
		t.Fatalf("expected reason %q, got %q", ReasonKilled, p.Reason())
	}
	if p.ExitCode() != -1 {
		t.Fatalf("expected -1 exit code for a signalled process, got %d", p.ExitCode())
	}
	if p.Err() != nil {
		t.Fatalf("unexpected supervise error: %v", p.Err())
	}
}

func TestKillWithoutLaunch(t *testing.T) {
	s := NewSupervisor()

	err := s.Kill(Handle{PID: 1234})
	var kerr *KillError
	if !errors.As(err, &kerr) {
		t.Fatalf("expected KillError, got %v", err)
	}
	if !errors.Is(err, ErrNotLaunched) {
		t.Fatalf("expected ErrNotLaunched, got %v", err)
	}
}

func TestNaturalExit(t *testing.T) {
	s := NewSupervisor()
	p := launchSh(t, s, "echo hello; exit 3")

	if err := p.Wait(); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if p.State() != StateTerminated {
		t.Fatalf("expected terminated, got %s", p.State())
	}
	if p.ExitCode() != 3 {
		t.Fatalf("expected exit code 3, got %d", p.ExitCode())
	}
	if p.Reason() != ReasonExited {
		t.Fatalf("expected reason %q, got %q", ReasonExited, p.Reason())
	}
	if p.OutputBytes() != int64(len("hello\n")) {
		t.Fatalf("expected 6 drained bytes, got %d", p.OutputBytes())
	}
}

func TestLargeOutputDoesNotBlock(t *testing.T) {
	s := NewSupervisor()
	p := launchSh(t, s, "head -c 1048576 /dev/zero")

	waitReaped(t, p)
	if p.ExitCode() != 0 {
		t.Fatalf("expected clean exit, got %d", p.ExitCode())
	}
	if p.OutputBytes() != 1048576 {
		t.Fatalf("expected 1 MiB drained, got %d", p.OutputBytes())
	}
}

func TestSpawnFailure(t *testing.T) {
	s := NewSupervisor()

	_, err := s.Launch(context.Background(), "/nonexistent/gnatsd", nil)
	var lerr *LaunchError
	if !errors.As(err, &lerr) {
		t.Fatalf("expected LaunchError, got %v", err)
	}
	if lerr.Kind != SpawnFailed {
		t.Fatalf("expected SpawnFailed, got %s", lerr.Kind)
	}
	if _, ok := s.Current(); ok {
		t.Fatal("failed spawn must not become the current process")
	}
	if st := s.Status(); st.State != StateNotStarted.String() {
		t.Fatalf("expected not_started, got %s", st.State)
	}
}

func TestLaunchWhileRunning(t *testing.T) {
	s := NewSupervisor()
	p := launchSh(t, s, "exec sleep 30")
	defer func() {
		_ = s.Kill(p.Handle())
		waitReaped(t, p)
	}()

	if _, err := s.Launch(context.Background(), "/bin/sh", []string{"-c", "exit 0"}); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
}

func TestStaleHandleAfterRelaunch(t *testing.T) {
	s := NewSupervisor()

	first := launchSh(t, s, "exit 0")
	waitReaped(t, first)

	second := launchSh(t, s, "exec sleep 30")

	err := s.Kill(first.Handle())
	if !errors.Is(err, ErrStaleHandle) {
		t.Fatalf("expected ErrStaleHandle, got %v", err)
	}
	if second.State() != StateRunning {
		t.Fatalf("stale kill must not touch the new process, state %s", second.State())
	}

	if err := s.Kill(second.Handle()); err != nil {
		t.Fatalf("kill second: %v", err)
	}
	waitReaped(t, second)
}

func TestKillAfterExit(t *testing.T) {
	s := NewSupervisor()
	p := launchSh(t, s, "exit 0")
	waitReaped(t, p)

	if err := s.Kill(p.Handle()); !errors.Is(err, ErrStaleHandle) {
		t.Fatalf("expected ErrStaleHandle, got %v", err)
	}
}

func TestKillRacesNaturalExit(t *testing.T) {
	s := NewSupervisor()

	var mu sync.Mutex
	exits := map[string]int{}
	s.OnExit(func(p *Process) {
		mu.Lock()
		exits[p.ID().String()]++
		mu.Unlock()
	})

	for i := 0; i < 20; i++ {
		p := launchSh(t, s, "exit 0")

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Kill(p.Handle())
			if err != nil && !errors.Is(err, ErrStaleHandle) {
				t.Errorf("kill: %v", err)
			}
		}()
		wg.Wait()
		waitReaped(t, p)

		if p.State() != StateTerminated {
			t.Fatalf("iteration %d: expected terminated, got %s", i, p.State())
		}
		if r := p.Reason(); r != ReasonExited && r != ReasonKilled {
			t.Fatalf("iteration %d: unexpected reason %q", i, r)
		}
	}

	// Hooks run after Done is closed, so give the last one a moment.
	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(exits)
		mu.Unlock()
		if n == 20 || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(exits) != 20 {
		t.Fatalf("expected 20 exit notifications, got %d", len(exits))
	}
	for id, n := range exits {
		if n != 1 {
			t.Fatalf("run %s notified %d times", id, n)
		}
	}
}

type fakeRecorder struct {
	mu     sync.Mutex
	starts []models.Run
	exits  []models.Run
}

func (f *fakeRecorder) RecordStart(_ context.Context, run models.Run) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts = append(f.starts, run)
	return nil
}

func (f *fakeRecorder) RecordExit(_ context.Context, run models.Run) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exits = append(f.exits, run)
	return nil
}

func TestRecorderSeesStartAndExit(t *testing.T) {
	rec := &fakeRecorder{}
	var exited atomic.Bool
	s := NewSupervisor(WithRecorder(rec))
	s.OnExit(func(*Process) { exited.Store(true) })

	p := launchSh(t, s, "exit 7")
	waitReaped(t, p)

	deadline := time.Now().Add(2 * time.Second)
	for !exited.Load() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.starts) != 1 || len(rec.exits) != 1 {
		t.Fatalf("expected one start and one exit, got %d/%d", len(rec.starts), len(rec.exits))
	}
	if rec.starts[0].ID != p.ID().String() || rec.starts[0].EndedAt != nil {
		t.Fatalf("unexpected start record %+v", rec.starts[0])
	}
	exit := rec.exits[0]
	if exit.ExitCode == nil || *exit.ExitCode != 7 {
		t.Fatalf("unexpected exit record %+v", exit)
	}
	if exit.Reason != ReasonExited {
		t.Fatalf("expected reason %q, got %q", ReasonExited, exit.Reason)
	}
}

func TestShutdownKillsRunning(t *testing.T) {
	s := NewSupervisor()
	p := launchSh(t, s, "exec sleep 30")

	if err := s.Shutdown(5 * time.Second); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	select {
	case <-p.Done():
	default:
		t.Fatal("shutdown returned before the process was reaped")
	}
}

func TestStatusAndLogs(t *testing.T) {
	s := NewSupervisor()
	p := launchSh(t, s, "exit 0")
	waitReaped(t, p)

	st := s.Status()
	if st.State != StateTerminated.String() || st.RunID != p.ID().String() {
		t.Fatalf("unexpected status %+v", st)
	}
	if st.ExitCode == nil || *st.ExitCode != 0 {
		t.Fatalf("expected exit code 0 in status, got %+v", st.ExitCode)
	}

	logs := s.Logs(10)
	if len(logs) < 2 {
		t.Fatalf("expected start and exit events, got %d", len(logs))
	}
	if logs[0].RunID != p.ID().String() {
		t.Fatalf("event not tagged with run id: %+v", logs[0])
	}
}

func TestExitDetectedWhileDescendantHoldsStdout(t *testing.T) {
	s := NewSupervisor(WithWaitDelay(200 * time.Millisecond))
	p := launchSh(t, s, "sleep 3 & exit 0")

	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("exit not detected while a background child held stdout")
	}

	if p.State() != StateTerminated || p.ExitCode() != 0 {
		t.Fatalf("expected terminated with code 0, got %s/%d", p.State(), p.ExitCode())
	}
	var lerr *LaunchError
	if !errors.As(p.Err(), &lerr) || lerr.Kind != IOFailure {
		t.Fatalf("expected IOFailure, got %v", p.Err())
	}
	if !errors.Is(p.Err(), exec.ErrWaitDelay) {
		t.Fatalf("expected ErrWaitDelay, got %v", p.Err())
	}

	next := launchSh(t, s, "exit 0")
	waitReaped(t, next)
}

func TestShutdownWithDescendantHoldingStdout(t *testing.T) {
	s := NewSupervisor(WithWaitDelay(200 * time.Millisecond))
	p := launchSh(t, s, "sleep 3; true")

	if err := s.Shutdown(2 * time.Second); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if p.State() != StateTerminated {
		t.Fatalf("expected terminated, got %s", p.State())
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, syscall.ENOSPC }

func TestDrainFailureLeavesProcessRunning(t *testing.T) {
	s := NewSupervisor()
	s.stdout = failingWriter{}
	p := launchSh(t, s, "echo hello; exec sleep 30")

	deadline := time.Now().Add(2 * time.Second)
	for p.Err() == nil && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	var lerr *LaunchError
	if !errors.As(p.Err(), &lerr) || lerr.Kind != IOFailure || lerr.Op != "drain" {
		t.Fatalf("expected drain IOFailure, got %v", p.Err())
	}
	if !errors.Is(p.Err(), syscall.ENOSPC) {
		t.Fatalf("expected the writer error to be wrapped, got %v", p.Err())
	}
	if p.State() != StateRunning {
		t.Fatalf("drain failure must not end the process, got %s", p.State())
	}
	if st := s.Status(); st.State != StateRunning.String() || st.Error == "" {
		t.Fatalf("status should report running with an error, got %+v", st)
	}

	if err := s.Kill(p.Handle()); err != nil {
		t.Fatalf("kill: %v", err)
	}
	waitReaped(t, p)
	if !errors.As(p.Err(), &lerr) || lerr.Op != "drain" {
		t.Fatalf("first recorded error should be kept, got %v", p.Err())
	}
}

func TestKillSignalFailureLeavesRunning(t *testing.T) {
	s := NewSupervisor()
	s.kill = func(*os.Process) error { return syscall.EPERM }
	p := launchSh(t, s, "exec sleep 30")

	err := s.Kill(p.Handle())
	var kerr *KillError
	if !errors.As(err, &kerr) || !errors.Is(err, syscall.EPERM) {
		t.Fatalf("expected KillError wrapping EPERM, got %v", err)
	}
	if kerr.Pid != p.PID() {
		t.Fatalf("expected pid %d in error, got %d", p.PID(), kerr.Pid)
	}
	if p.State() != StateRunning {
		t.Fatalf("failed kill must leave the process running, got %s", p.State())
	}

	s.kill = (*os.Process).Kill
	if err := s.Kill(p.Handle()); err != nil {
		t.Fatalf("kill: %v", err)
	}
	waitReaped(t, p)
}

func TestKillPID(t *testing.T) {
	s := NewSupervisor()

	for _, pid := range []int{0, -1} {
		if err := s.KillPID(pid); !errors.Is(err, ErrInvalidPID) {
			t.Fatalf("KillPID(%d): expected ErrInvalidPID, got %v", pid, err)
		}
	}

	p := launchSh(t, s, "exec sleep 30")
	if err := s.KillPID(p.PID()); err != nil {
		t.Fatalf("kill pid: %v", err)
	}
	if p.State() != StateTerminated {
		t.Fatalf("expected terminated right after kill, got %s", p.State())
	}
	waitReaped(t, p)
	if p.Reason() != ReasonKilled {
		t.Fatalf("expected reason %q, got %q", ReasonKilled, p.Reason())
	}
}

func TestLogsByLevel(t *testing.T) {
	s := NewSupervisor()
	if _, err := s.Launch(context.Background(), "/nonexistent/gnatsd", nil); err == nil {
		t.Fatal("expected spawn failure")
	}
	p := launchSh(t, s, "exit 0")
	waitReaped(t, p)

	errs := s.LogsByLevel("error", 10)
	if len(errs) != 1 {
		t.Fatalf("expected one error event, got %+v", errs)
	}
	for _, e := range s.LogsByLevel("info", 10) {
		if e.Level != "info" {
			t.Fatalf("unexpected level in %+v", e)
		}
	}
}

type blockingRecorder struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingRecorder) RecordStart(ctx context.Context, _ models.Run) error {
	close(b.entered)
	<-b.release
	return nil
}

func (b *blockingRecorder) RecordExit(context.Context, models.Run) error { return nil }

func TestSlowRecorderDoesNotBlockKill(t *testing.T) {
	rec := &blockingRecorder{entered: make(chan struct{}), release: make(chan struct{})}
	s := NewSupervisor(WithRecorder(rec))

	launched := make(chan *Process, 1)
	go func() {
		p, err := s.Launch(context.Background(), "/bin/sh", []string{"-c", "exec sleep 30"})
		if err != nil {
			t.Errorf("launch: %v", err)
		}
		launched <- p
	}()

	select {
	case <-rec.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("recorder never called")
	}

	killed := make(chan error, 1)
	go func() {
		p, _ := s.Current()
		if st := s.Status(); st.State != StateRunning.String() {
			t.Errorf("expected running, got %s", st.State)
		}
		killed <- s.Kill(p.Handle())
	}()

	select {
	case err := <-killed:
		if err != nil {
			t.Fatalf("kill: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("kill blocked behind the start record")
	}

	close(rec.release)
	p := <-launched
	waitReaped(t, p)
}
