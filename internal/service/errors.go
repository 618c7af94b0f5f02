package service

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyRunning = errors.New("server already running")
	ErrNotLaunched    = errors.New("server was never launched")
	ErrStaleHandle    = errors.New("process handle is stale")
	ErrPresetNotFound = errors.New("preset not found")
	ErrInvalidPID     = errors.New("invalid pid")
)

// LaunchErrorKind separates spawn failures from failures while supervising
// an already spawned process.
type LaunchErrorKind int

const (
	SpawnFailed LaunchErrorKind = iota
	IOFailure
)

func (k LaunchErrorKind) String() string {
	switch k {
	case SpawnFailed:
		return "spawn failed"
	case IOFailure:
		return "i/o failure"
	default:
		return "unknown"
	}
}

type LaunchError struct {
	Kind LaunchErrorKind
	Op   string
	Path string
	Err  error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch %s: %s (%s): %v", e.Path, e.Kind, e.Op, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// KillError reports a failed termination request. Err is ErrNotLaunched,
// ErrStaleHandle, ErrInvalidPID, or the error returned by the OS.
type KillError struct {
	Pid int
	Err error
}

func (e *KillError) Error() string {
	return fmt.Sprintf("kill pid %d: %v", e.Pid, e.Err)
}

func (e *KillError) Unwrap() error { return e.Err }
