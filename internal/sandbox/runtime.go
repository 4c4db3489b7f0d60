// Package sandbox manages the disposable containers builds run in.
//
// A Runtime is the narrow view of the container engine gantry needs. The
// Manager resolves images (with a shared presence cache and de-duplicated
// pulls) and spawns Sandboxes; a Sandbox accepts files, runs shell commands
// and is destroyed exactly once.
package sandbox

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrNameConflict is returned by Runtime.Create when a container with
	// the requested name already exists.
	ErrNameConflict = errors.New("sandbox name already in use")

	// ErrNotFound is returned when an image or container does not exist.
	ErrNotFound = errors.New("sandbox resource not found")

	// ErrDestroyed is returned by operations on a destroyed sandbox.
	ErrDestroyed = errors.New("sandbox destroyed")
)

// Spec describes a sandbox to create.
type Spec struct {
	Name        string
	Image       string
	MemoryBytes int64
	WorkDir     string
	Cmd         []string
	Labels      map[string]string
}

// ExecOptions configures a command run inside a sandbox.
type ExecOptions struct {
	WorkDir string
	Env     map[string]string
}

// ExecResult is the outcome of a command run inside a sandbox.
type ExecResult struct {
	ExitCode int
	Output   string
}

// Runtime is the container engine.
type Runtime interface {
	ImagePresent(ctx context.Context, ref string) (bool, error)
	PullImage(ctx context.Context, ref string) error
	Create(ctx context.Context, spec Spec) (string, error)
	Start(ctx context.Context, id string) error
	CopyArchive(ctx context.Context, id, dstPath string, archive io.Reader) error
	Exec(ctx context.Context, id string, cmd []string, opts ExecOptions) (ExecResult, error)
	Kill(ctx context.Context, id string) error
	// Remove force-removes the container identified by id or name.
	Remove(ctx context.Context, idOrName string) error
}
