package sandbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Jarvis2021/gantry-sub000/internal/config"
	"github.com/Jarvis2021/gantry-sub000/internal/logging"
	"github.com/Jarvis2021/gantry-sub000/internal/manifest"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// IdleCommand keeps a sandbox alive between execs.
var IdleCommand = []string{"tail", "-f", "/dev/null"}

// Config configures a Manager.
type Config struct {
	// BuilderImage is the full-featured image used when present locally.
	BuilderImage string
	// StackImages maps stacks to fallback base images.
	StackImages map[manifest.Stack]string
	MemoryBytes int64
	WorkDir     string
	// ImageCacheSize bounds the image presence cache.
	ImageCacheSize int
	// PullTimeout bounds one shared image pull. Defaults to ten minutes.
	PullTimeout time.Duration
}

// DefaultStackImages returns the base image per stack.
func DefaultStackImages() map[manifest.Stack]string {
	return map[manifest.Stack]string{
		manifest.StackPython: "python:3.11-slim",
		manifest.StackNode:   "node:20-alpine",
		manifest.StackRust:   "rust:1.75-slim",
	}
}

// ConfigFrom converts the sandbox section of the application config.
func ConfigFrom(c config.SandboxConfig) Config {
	images := DefaultStackImages()
	for stack, ref := range c.StackImages {
		images[manifest.Stack(stack)] = ref
	}
	return Config{
		BuilderImage:   c.BuilderImage,
		StackImages:    images,
		MemoryBytes:    c.MemoryMB * 1024 * 1024,
		WorkDir:        c.WorkDir,
		ImageCacheSize: c.ImageCacheSize,
		PullTimeout:    c.PullTimeout.Duration(),
	}
}

// Image is a resolved execution image.
type Image struct {
	Ref string
	// FullFeatured is true for the universal builder image, which carries
	// the deployment tooling.
	FullFeatured bool
}

// Manager resolves images and spawns sandboxes. It is shared by all
// missions.
type Manager struct {
	rt     Runtime
	cfg    Config
	images *lru.Cache[string, struct{}]
	pulls  singleflight.Group
	logger *logging.Logger
}

// NewManager creates a Manager over rt.
func NewManager(rt Runtime, cfg Config, logger *logging.Logger) (*Manager, error) {
	if rt == nil {
		return nil, errors.New("sandbox runtime is required")
	}
	if cfg.StackImages == nil {
		cfg.StackImages = DefaultStackImages()
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = "/workspace"
	}
	if cfg.ImageCacheSize <= 0 {
		cfg.ImageCacheSize = 64
	}
	if cfg.PullTimeout <= 0 {
		cfg.PullTimeout = 10 * time.Minute
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	cache, err := lru.New[string, struct{}](cfg.ImageCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create image cache: %w", err)
	}
	return &Manager{rt: rt, cfg: cfg, images: cache, logger: logger}, nil
}

// WorkDir returns the working directory of spawned sandboxes.
func (m *Manager) WorkDir() string {
	return m.cfg.WorkDir
}

// ResolveImage picks the execution image for a stack. The builder image
// wins when it is present locally; it is never pulled. Otherwise the
// stack's base image is pulled if missing.
func (m *Manager) ResolveImage(ctx context.Context, stack manifest.Stack) (Image, error) {
	if m.cfg.BuilderImage != "" {
		present, err := m.present(ctx, m.cfg.BuilderImage)
		if err != nil {
			m.logger.Warn(ctx, "builder image lookup failed", zap.String("image", m.cfg.BuilderImage), zap.Error(err))
		}
		if present {
			return Image{Ref: m.cfg.BuilderImage, FullFeatured: true}, nil
		}
	}

	ref, ok := m.cfg.StackImages[stack]
	if !ok {
		return Image{}, fmt.Errorf("no image configured for stack %q", stack)
	}
	if err := m.EnsureImage(ctx, ref); err != nil {
		return Image{}, err
	}
	return Image{Ref: ref}, nil
}

func (m *Manager) present(ctx context.Context, ref string) (bool, error) {
	if m.images.Contains(ref) {
		return true, nil
	}
	present, err := m.rt.ImagePresent(ctx, ref)
	if err != nil {
		return false, err
	}
	if present {
		m.images.Add(ref, struct{}{})
	}
	return present, nil
}

// EnsureImage pulls ref unless it is known to be present. Concurrent calls
// for the same ref share one pull. The pull is detached from every caller's
// cancellation and bounded by PullTimeout instead, so a mission that gives up
// never fails the others waiting on the same image.
func (m *Manager) EnsureImage(ctx context.Context, ref string) error {
	present, err := m.present(ctx, ref)
	if err != nil {
		return fmt.Errorf("failed to inspect image %s: %w", ref, err)
	}
	if present {
		return nil
	}

	ch := m.pulls.DoChan(ref, func() (interface{}, error) {
		pullCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.PullTimeout)
		defer cancel()

		m.logger.Info(pullCtx, "pulling image", zap.String("image", ref))
		if err := m.rt.PullImage(pullCtx, ref); err != nil {
			return nil, err
		}
		m.images.Add(ref, struct{}{})
		return nil, nil
	})

	select {
	case <-ctx.Done():
		return fmt.Errorf("waiting for image %s: %w", ref, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return fmt.Errorf("failed to pull image %s: %w", ref, res.Err)
		}
		if res.Shared {
			m.logger.Debug(ctx, "joined in-flight pull", zap.String("image", ref))
		}
		return nil
	}
}

// Name returns the sandbox name for a mission attempt.
func Name(missionID string, attempt int) string {
	short := missionID
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("gantry_%s_%d", short, attempt)
}

// Spawn creates and starts a sandbox. If a stale sandbox holds the name it
// is force-removed and creation retried once.
func (m *Manager) Spawn(ctx context.Context, name, image string, labels map[string]string) (*Sandbox, error) {
	spec := Spec{
		Name:        name,
		Image:       image,
		MemoryBytes: m.cfg.MemoryBytes,
		WorkDir:     m.cfg.WorkDir,
		Cmd:         IdleCommand,
		Labels:      labels,
	}

	id, err := m.rt.Create(ctx, spec)
	if errors.Is(err, ErrNameConflict) {
		m.logger.Warn(ctx, "removing stale sandbox", zap.String("sandbox", name))
		if rmErr := m.rt.Remove(ctx, name); rmErr != nil && !errors.Is(rmErr, ErrNotFound) {
			return nil, fmt.Errorf("failed to remove stale sandbox %s: %w", name, rmErr)
		}
		id, err = m.rt.Create(ctx, spec)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create sandbox %s: %w", name, err)
	}

	sb := &Sandbox{id: id, name: name, image: image, workDir: m.cfg.WorkDir, rt: m.rt}
	if err := m.rt.Start(ctx, id); err != nil {
		_ = sb.Destroy(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("failed to start sandbox %s: %w", name, err)
	}
	return sb, nil
}
