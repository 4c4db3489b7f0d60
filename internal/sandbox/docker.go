package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
)

// DockerRuntime implements Runtime on the Docker Engine API. The client is
// safe for concurrent use and is shared by every mission.
type DockerRuntime struct {
	cli *client.Client
}

var _ Runtime = (*DockerRuntime)(nil)

// NewDockerRuntime connects using DOCKER_HOST and friends, negotiating the
// API version with the daemon.
func NewDockerRuntime() (*DockerRuntime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &DockerRuntime{cli: cli}, nil
}

// Ping checks that the daemon is reachable.
func (d *DockerRuntime) Ping(ctx context.Context) error {
	_, err := d.cli.Ping(ctx)
	return err
}

// Close releases the client's connections.
func (d *DockerRuntime) Close() error {
	return d.cli.Close()
}

func (d *DockerRuntime) ImagePresent(ctx context.Context, ref string) (bool, error) {
	_, _, err := d.cli.ImageInspectWithRaw(ctx, ref)
	if err == nil {
		return true, nil
	}
	if errdefs.IsNotFound(err) {
		return false, nil
	}
	return false, err
}

func (d *DockerRuntime) PullImage(ctx context.Context, ref string) error {
	rc, err := d.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return err
	}
	defer rc.Close()
	// The pull only completes once the progress stream is drained.
	_, err = io.Copy(io.Discard, rc)
	return err
}

func (d *DockerRuntime) Create(ctx context.Context, spec Spec) (string, error) {
	cfg := &container.Config{
		Image:      spec.Image,
		Cmd:        spec.Cmd,
		WorkingDir: spec.WorkDir,
		Labels:     spec.Labels,
		Tty:        false,
	}
	hostCfg := &container.HostConfig{
		Resources: container.Resources{
			Memory:     spec.MemoryBytes,
			MemorySwap: spec.MemoryBytes,
		},
	}
	resp, err := d.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, spec.Name)
	if err != nil {
		if errdefs.IsConflict(err) {
			return "", fmt.Errorf("%w: %s", ErrNameConflict, spec.Name)
		}
		return "", err
	}
	return resp.ID, nil
}

func (d *DockerRuntime) Start(ctx context.Context, id string) error {
	return d.cli.ContainerStart(ctx, id, container.StartOptions{})
}

func (d *DockerRuntime) CopyArchive(ctx context.Context, id, dstPath string, archive io.Reader) error {
	return d.cli.CopyToContainer(ctx, id, dstPath, archive, container.CopyToContainerOptions{})
}

func (d *DockerRuntime) Exec(ctx context.Context, id string, cmd []string, opts ExecOptions) (ExecResult, error) {
	created, err := d.cli.ContainerExecCreate(ctx, id, container.ExecOptions{
		Cmd:          cmd,
		WorkingDir:   opts.WorkDir,
		Env:          envList(opts.Env),
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return ExecResult{}, fmt.Errorf("exec create: %w", err)
	}

	attach, err := d.cli.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return ExecResult{}, fmt.Errorf("exec attach: %w", err)
	}
	defer attach.Close()

	// The hijacked connection ignores ctx; closing it unblocks the copy.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			attach.Close()
		case <-done:
		}
	}()

	var out bytes.Buffer
	if _, err := stdcopy.StdCopy(&out, &out, attach.Reader); err != nil {
		if ctx.Err() != nil {
			return ExecResult{Output: out.String()}, ctx.Err()
		}
		return ExecResult{Output: out.String()}, fmt.Errorf("exec read: %w", err)
	}

	inspect, err := d.cli.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return ExecResult{Output: out.String()}, fmt.Errorf("exec inspect: %w", err)
	}
	return ExecResult{ExitCode: inspect.ExitCode, Output: out.String()}, nil
}

func (d *DockerRuntime) Kill(ctx context.Context, id string) error {
	err := d.cli.ContainerKill(ctx, id, "SIGKILL")
	if err != nil && (errdefs.IsNotFound(err) || errdefs.IsConflict(err)) {
		// Already gone or not running.
		return nil
	}
	return err
}

func (d *DockerRuntime) Remove(ctx context.Context, idOrName string) error {
	err := d.cli.ContainerRemove(ctx, idOrName, container.RemoveOptions{Force: true, RemoveVolumes: true})
	if err != nil && errdefs.IsNotFound(err) {
		return fmt.Errorf("%w: %s", ErrNotFound, idOrName)
	}
	return err
}

func envList(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}
