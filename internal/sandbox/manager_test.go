package sandbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Jarvis2021/gantry-sub000/internal/config"
	"github.com/Jarvis2021/gantry-sub000/internal/manifest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newManager(t *testing.T, rt Runtime) *Manager {
	t.Helper()
	m, err := NewManager(rt, Config{
		BuilderImage: "gantry/builder:latest",
		MemoryBytes:  512 * 1024 * 1024,
		WorkDir:      "/workspace",
	}, nil)
	require.NoError(t, err)
	return m
}

func TestName(t *testing.T) {
	assert.Equal(t, "gantry_6f1c2d3e_2", Name("6f1c2d3e-aaaa-bbbb-cccc-000000000000", 2))
	assert.Equal(t, "gantry_abc_1", Name("abc", 1))
}

func TestConfigFrom(t *testing.T) {
	cfg := ConfigFrom(config.SandboxConfig{
		BuilderImage: "b",
		StackImages:  map[string]string{"python": "python:3.12-slim"},
		MemoryMB:     512,
		WorkDir:      "/workspace",
		PullTimeout:  config.Duration(time.Minute),
	})
	assert.Equal(t, int64(512*1024*1024), cfg.MemoryBytes)
	assert.Equal(t, time.Minute, cfg.PullTimeout)
	assert.Equal(t, "python:3.12-slim", cfg.StackImages[manifest.StackPython])
	assert.Equal(t, "node:20-alpine", cfg.StackImages[manifest.StackNode])
}

func TestManager_ResolveImage_PrefersBuilder(t *testing.T) {
	rt := NewFakeRuntime("gantry/builder:latest")
	m := newManager(t, rt)

	img, err := m.ResolveImage(context.Background(), manifest.StackNode)
	require.NoError(t, err)
	assert.Equal(t, "gantry/builder:latest", img.Ref)
	assert.True(t, img.FullFeatured)
	assert.Zero(t, rt.Pulls("node:20-alpine"))
}

func TestManager_ResolveImage_FallsBackAndPullsOnce(t *testing.T) {
	rt := NewFakeRuntime()
	m := newManager(t, rt)
	ctx := context.Background()

	img, err := m.ResolveImage(ctx, manifest.StackPython)
	require.NoError(t, err)
	assert.Equal(t, "python:3.11-slim", img.Ref)
	assert.False(t, img.FullFeatured)

	_, err = m.ResolveImage(ctx, manifest.StackPython)
	require.NoError(t, err)
	assert.Equal(t, 1, rt.Pulls("python:3.11-slim"))
	assert.Zero(t, rt.Pulls("gantry/builder:latest"))
}

func TestManager_EnsureImage_CollapsesConcurrentPulls(t *testing.T) {
	rt := NewFakeRuntime()
	rt.PullDelay = 50 * time.Millisecond
	m := newManager(t, rt)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, m.EnsureImage(context.Background(), "node:20-alpine"))
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, rt.Pulls("node:20-alpine"))
}

func TestManager_EnsureImage_PullFailure(t *testing.T) {
	rt := NewFakeRuntime()
	rt.PullErr = errors.New("registry unreachable")
	m := newManager(t, rt)

	err := m.EnsureImage(context.Background(), "rust:1.75-slim")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "registry unreachable")
}

func TestManager_EnsureImage_WaiterCancellationLeavesPullRunning(t *testing.T) {
	rt := NewFakeRuntime()
	rt.PullDelay = 200 * time.Millisecond
	m := newManager(t, rt)

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() { errA <- m.EnsureImage(ctxA, "python:3.11-slim") }()

	errB := make(chan error, 1)
	time.Sleep(20 * time.Millisecond)
	go func() { errB <- m.EnsureImage(context.Background(), "python:3.11-slim") }()

	time.Sleep(20 * time.Millisecond)
	cancelA()

	require.ErrorIs(t, <-errA, context.Canceled)
	require.NoError(t, <-errB)
	assert.Equal(t, 1, rt.Pulls("python:3.11-slim"))

	present, err := rt.ImagePresent(context.Background(), "python:3.11-slim")
	require.NoError(t, err)
	assert.True(t, present)
}

func TestManager_EnsureImage_PullTimeout(t *testing.T) {
	rt := NewFakeRuntime()
	rt.PullDelay = time.Second
	m, err := NewManager(rt, Config{PullTimeout: 20 * time.Millisecond}, nil)
	require.NoError(t, err)

	err = m.EnsureImage(context.Background(), "node:20-alpine")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "failed to pull image node:20-alpine")
}

func TestManager_Spawn(t *testing.T) {
	rt := NewFakeRuntime()
	m := newManager(t, rt)

	sb, err := m.Spawn(context.Background(), "gantry_abc_1", "python:3.11-slim", map[string]string{"gantry.mission": "abc"})
	require.NoError(t, err)
	assert.Equal(t, "gantry_abc_1", sb.Name())
	assert.Equal(t, "/workspace", sb.WorkDir())

	specs := rt.Specs()
	require.Len(t, specs, 1)
	assert.Equal(t, int64(512*1024*1024), specs[0].MemoryBytes)
	assert.Equal(t, IdleCommand, specs[0].Cmd)
	assert.Equal(t, 1, rt.Live())
}

func TestManager_Spawn_RemovesStaleSandbox(t *testing.T) {
	rt := NewFakeRuntime()
	staleID := rt.AddStale("gantry_abc_1")
	m := newManager(t, rt)

	sb, err := m.Spawn(context.Background(), "gantry_abc_1", "python:3.11-slim", nil)
	require.NoError(t, err)
	assert.NotEqual(t, staleID, sb.ID())
	assert.Equal(t, 1, rt.Removes(staleID))
	assert.Equal(t, 1, rt.Live())
}

func TestManager_Spawn_CreateFailure(t *testing.T) {
	rt := NewFakeRuntime()
	rt.CreateErr = errors.New("out of memory")
	m := newManager(t, rt)

	_, err := m.Spawn(context.Background(), "gantry_abc_1", "python:3.11-slim", nil)
	assert.ErrorContains(t, err, "out of memory")
	assert.Zero(t, rt.Live())
}

func TestNewManager_RequiresRuntime(t *testing.T) {
	_, err := NewManager(nil, Config{}, nil)
	assert.Error(t, err)
}
