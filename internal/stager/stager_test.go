package stager

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"testing/fstest"
)

type countingFS struct {
	fs.FS
	opens atomic.Int32
}

func (c *countingFS) Open(name string) (fs.File, error) {
	c.opens.Add(1)
	return c.FS.Open(name)
}

func newAssets() *countingFS {
	return &countingFS{FS: fstest.MapFS{
		"gnatsd-v1.0.4-linux-arm/gnatsd": &fstest.MapFile{Data: []byte("#!/bin/sh\nexit 0\n")},
	}}
}

func TestEnsureStagedCopiesOnce(t *testing.T) {
	assets := newAssets()
	dir := filepath.Join(t.TempDir(), "gnatsd-v1.0.4-linux-arm")
	s := &Stager{Assets: assets, AssetPath: "gnatsd-v1.0.4-linux-arm/gnatsd", Dir: dir}

	first, err := s.EnsureStaged()
	if err != nil {
		t.Fatalf("first stage: %v", err)
	}
	if !first.Copied || !first.Staged {
		t.Fatalf("expected first call to copy, got %+v", first)
	}
	if first.LocalPath != filepath.Join(dir, "gnatsd") {
		t.Fatalf("unexpected local path %s", first.LocalPath)
	}

	info, err := os.Stat(first.LocalPath)
	if err != nil {
		t.Fatalf("stat staged file: %v", err)
	}
	if info.Mode().Perm()&0o100 == 0 {
		t.Fatalf("staged file not executable: %v", info.Mode())
	}
	data, _ := os.ReadFile(first.LocalPath)
	if string(data) != "#!/bin/sh\nexit 0\n" {
		t.Fatalf("unexpected content %q", data)
	}

	second, err := s.EnsureStaged()
	if err != nil {
		t.Fatalf("second stage: %v", err)
	}
	if second.Copied {
		t.Fatal("second call should not copy")
	}
	if got := assets.opens.Load(); got != 1 {
		t.Fatalf("expected exactly one asset read, got %d", got)
	}
}

func TestEnsureStagedDoesNotRefreshExisting(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "gnatsd")
	if err := os.WriteFile(target, []byte("old"), 0o600); err != nil {
		t.Fatal(err)
	}

	assets := newAssets()
	s := &Stager{Assets: assets, AssetPath: "gnatsd-v1.0.4-linux-arm/gnatsd", Dir: dir}
	if _, err := s.EnsureStaged(); err != nil {
		t.Fatalf("stage: %v", err)
	}

	data, _ := os.ReadFile(target)
	if string(data) != "old" {
		t.Fatalf("existing file was rewritten: %q", data)
	}
	info, _ := os.Stat(target)
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("existing file mode changed: %v", info.Mode())
	}
	if assets.opens.Load() != 0 {
		t.Fatal("asset should not be opened when already staged")
	}
}

func TestEnsureStagedMissingAsset(t *testing.T) {
	s := &Stager{Assets: fstest.MapFS{}, AssetPath: "missing/gnatsd", Dir: t.TempDir()}

	_, err := s.EnsureStaged()
	var serr *StagingError
	if !errors.As(err, &serr) {
		t.Fatalf("expected StagingError, got %v", err)
	}
	if serr.Op != "open" {
		t.Fatalf("expected open failure, got %s", serr.Op)
	}
}

func TestEnsureStagedMkdirFailure(t *testing.T) {
	base := t.TempDir()
	blocker := filepath.Join(base, "file")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	s := &Stager{Assets: newAssets(), AssetPath: "gnatsd-v1.0.4-linux-arm/gnatsd", Dir: filepath.Join(blocker, "sub")}
	_, err := s.EnsureStaged()
	var serr *StagingError
	if !errors.As(err, &serr) || serr.Op != "mkdir" {
		t.Fatalf("expected mkdir StagingError, got %v", err)
	}
}
