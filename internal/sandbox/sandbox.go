package sandbox

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Jarvis2021/gantry-sub000/internal/manifest"
)

// Sandbox is one running, disposable container.
type Sandbox struct {
	id      string
	name    string
	image   string
	workDir string
	rt      Runtime

	destroyOnce sync.Once
	destroyErr  error
	destroyed   atomic.Bool
}

// ID returns the engine's container ID.
func (s *Sandbox) ID() string { return s.id }

// Name returns the container name.
func (s *Sandbox) Name() string { return s.name }

// Image returns the image the sandbox runs.
func (s *Sandbox) Image() string { return s.image }

// WorkDir returns the directory files are injected into.
func (s *Sandbox) WorkDir() string { return s.workDir }

// Inject writes every file into the working directory with a single
// archive copy, so the sandbox never observes a partial file set.
func (s *Sandbox) Inject(ctx context.Context, files []manifest.File) error {
	if s.destroyed.Load() {
		return ErrDestroyed
	}
	archive, err := tarFiles(files)
	if err != nil {
		return err
	}
	return s.rt.CopyArchive(ctx, s.id, s.workDir, archive)
}

// InjectFile writes a single file below the working directory.
func (s *Sandbox) InjectFile(ctx context.Context, relPath string, data []byte) error {
	return s.Inject(ctx, []manifest.File{{Path: relPath, Content: string(data)}})
}

// Exec runs command through sh -c in the working directory.
func (s *Sandbox) Exec(ctx context.Context, command string, env map[string]string) (ExecResult, error) {
	if s.destroyed.Load() {
		return ExecResult{}, ErrDestroyed
	}
	return s.rt.Exec(ctx, s.id, []string{"sh", "-c", command}, ExecOptions{WorkDir: s.workDir, Env: env})
}

// Kill stops the sandbox immediately.
func (s *Sandbox) Kill(ctx context.Context) error {
	if s.destroyed.Load() {
		return nil
	}
	return s.rt.Kill(ctx, s.id)
}

// Destroy force-removes the sandbox. Only the first call reaches the
// engine; later calls return the first result.
func (s *Sandbox) Destroy(ctx context.Context) error {
	s.destroyOnce.Do(func() {
		s.destroyed.Store(true)
		err := s.rt.Remove(ctx, s.id)
		if errors.Is(err, ErrNotFound) {
			err = nil
		}
		s.destroyErr = err
	})
	return s.destroyErr
}

// Destroyed reports whether Destroy has been called.
func (s *Sandbox) Destroyed() bool {
	return s.destroyed.Load()
}

func tarFiles(files []manifest.File) (*bytes.Buffer, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	now := time.Now()
	dirs := make(map[string]bool)

	for _, f := range files {
		name := path.Clean(f.Path)
		var parents []string
		for dir := path.Dir(name); dir != "." && dir != "/" && !dirs[dir]; dir = path.Dir(dir) {
			dirs[dir] = true
			parents = append(parents, dir)
		}
		for i := len(parents) - 1; i >= 0; i-- {
			dir := parents[i]
			if err := tw.WriteHeader(&tar.Header{
				Typeflag: tar.TypeDir,
				Name:     dir + "/",
				Mode:     0o755,
				ModTime:  now,
			}); err != nil {
				return nil, fmt.Errorf("failed to archive %s: %w", dir, err)
			}
		}
		data := []byte(f.Content)
		if err := tw.WriteHeader(&tar.Header{
			Typeflag: tar.TypeReg,
			Name:     name,
			Mode:     0o644,
			Size:     int64(len(data)),
			ModTime:  now,
		}); err != nil {
			return nil, fmt.Errorf("failed to archive %s: %w", f.Path, err)
		}
		if _, err := tw.Write(data); err != nil {
			return nil, fmt.Errorf("failed to archive %s: %w", f.Path, err)
		}
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish archive: %w", err)
	}
	return &buf, nil
}
