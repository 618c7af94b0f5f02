// Package stager copies a bundled executable out of an asset filesystem into
// a private, writable directory and marks it executable.
package stager

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
)

// StagingError reports a failure while staging an executable. It is fatal for
// the first run and never retried.
type StagingError struct {
	Op   string
	Path string
	Err  error
}

func (e *StagingError) Error() string {
	return fmt.Sprintf("stage %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StagingError) Unwrap() error { return e.Err }

// StagedExecutable describes where a staged binary lives.
type StagedExecutable struct {
	AssetPath string `json:"asset_path"`
	LocalDir  string `json:"local_dir"`
	LocalPath string `json:"local_path"`
	Staged    bool   `json:"staged"`
	// Copied is true only for the call that actually performed the copy.
	Copied bool `json:"copied"`
}

// Stager stages AssetPath from Assets into Dir.
type Stager struct {
	Assets    fs.FS
	AssetPath string
	Dir       string
	// Name is the staged file name checked for existence. Defaults to the
	// base name of AssetPath.
	Name string
}

func (s *Stager) name() string {
	if s.Name != "" {
		return s.Name
	}
	return path.Base(s.AssetPath)
}

// LocalPath returns the path the executable is expected at once staged.
func (s *Stager) LocalPath() string {
	return filepath.Join(s.Dir, s.name())
}

// IsStaged reports whether the staged executable exists on disk.
func (s *Stager) IsStaged() bool {
	_, err := os.Stat(s.LocalPath())
	return err == nil
}

// EnsureStaged copies the asset into Dir unless the target already exists.
// An existing file is never refreshed, even if it is stale or truncated.
func (s *Stager) EnsureStaged() (*StagedExecutable, error) {
	staged := &StagedExecutable{
		AssetPath: s.AssetPath,
		LocalDir:  s.Dir,
		LocalPath: s.LocalPath(),
	}

	if s.IsStaged() {
		staged.Staged = true
		return staged, nil
	}

	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return nil, &StagingError{Op: "mkdir", Path: s.Dir, Err: err}
	}

	out := filepath.Join(s.Dir, path.Base(s.AssetPath))
	if err := copyAsset(s.Assets, s.AssetPath, out); err != nil {
		return nil, err
	}

	staged.LocalPath = out
	staged.Staged = true
	staged.Copied = true
	return staged, nil
}

// copyAsset leaves a partially written dst in place if the copy fails.
func copyAsset(assets fs.FS, src, dst string) (err error) {
	if assets == nil {
		return &StagingError{Op: "open", Path: src, Err: errors.New("no asset filesystem")}
	}

	in, err := assets.Open(src)
	if err != nil {
		return &StagingError{Op: "open", Path: src, Err: err}
	}
	defer in.Close()

	f, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return &StagingError{Op: "create", Path: dst, Err: err}
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = &StagingError{Op: "close", Path: dst, Err: cerr}
		}
	}()

	if _, err := io.Copy(f, in); err != nil {
		return &StagingError{Op: "copy", Path: dst, Err: err}
	}

	if err := f.Chmod(0o755); err != nil {
		return &StagingError{Op: "chmod", Path: dst, Err: err}
	}

	return nil
}
