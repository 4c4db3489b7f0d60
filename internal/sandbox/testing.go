package sandbox

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

// FakeRuntime is an in-memory Runtime for tests. It tracks containers,
// injected files and call counts.
type FakeRuntime struct {
	mu sync.Mutex

	// ExecFunc handles Exec. The default returns exit code 0.
	ExecFunc func(ctx context.Context, id string, cmd []string, opts ExecOptions) (ExecResult, error)
	// PullDelay delays every pull.
	PullDelay time.Duration
	// PullErr fails every pull.
	PullErr error
	// CreateErr fails every create.
	CreateErr error

	images     map[string]bool
	pulls      map[string]int
	containers map[string]*fakeContainer
	byName     map[string]string
	nextID     int
	kills      map[string]int
	removes    map[string]int
	specs      []Spec
}

type fakeContainer struct {
	spec    Spec
	running bool
	removed bool
	files   map[string]string
}

// NewFakeRuntime returns a FakeRuntime with the given images present.
func NewFakeRuntime(images ...string) *FakeRuntime {
	f := &FakeRuntime{
		images:     make(map[string]bool),
		pulls:      make(map[string]int),
		containers: make(map[string]*fakeContainer),
		byName:     make(map[string]string),
		kills:      make(map[string]int),
		removes:    make(map[string]int),
	}
	for _, img := range images {
		f.images[img] = true
	}
	return f
}

// AddStale registers a leftover container holding name.
func (f *FakeRuntime) AddStale(name string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.newIDLocked()
	f.containers[id] = &fakeContainer{spec: Spec{Name: name}, running: true, files: map[string]string{}}
	f.byName[name] = id
	return id
}

func (f *FakeRuntime) newIDLocked() string {
	f.nextID++
	return fmt.Sprintf("fake-%04d", f.nextID)
}

func (f *FakeRuntime) ImagePresent(_ context.Context, ref string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.images[ref], nil
}

func (f *FakeRuntime) PullImage(ctx context.Context, ref string) error {
	if f.PullDelay > 0 {
		select {
		case <-time.After(f.PullDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pulls[ref]++
	if f.PullErr != nil {
		return f.PullErr
	}
	f.images[ref] = true
	return nil
}

func (f *FakeRuntime) Create(_ context.Context, spec Spec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateErr != nil {
		return "", f.CreateErr
	}
	if _, taken := f.byName[spec.Name]; taken {
		return "", fmt.Errorf("%w: %s", ErrNameConflict, spec.Name)
	}
	id := f.newIDLocked()
	f.containers[id] = &fakeContainer{spec: spec, files: map[string]string{}}
	f.byName[spec.Name] = id
	f.specs = append(f.specs, spec)
	return id, nil
}

func (f *FakeRuntime) Start(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[id]
	if !ok || c.removed {
		return ErrNotFound
	}
	c.running = true
	return nil
}

func (f *FakeRuntime) CopyArchive(_ context.Context, id, dstPath string, archive io.Reader) error {
	f.mu.Lock()
	c, ok := f.containers[id]
	f.mu.Unlock()
	if !ok || c.removed {
		return ErrNotFound
	}

	files := make(map[string]string)
	tr := tar.NewReader(archive)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return err
		}
		files[dstPath+"/"+hdr.Name] = string(data)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for k, v := range files {
		c.files[k] = v
	}
	return nil
}

func (f *FakeRuntime) Exec(ctx context.Context, id string, cmd []string, opts ExecOptions) (ExecResult, error) {
	f.mu.Lock()
	c, ok := f.containers[id]
	alive := ok && !c.removed && c.running
	handler := f.ExecFunc
	f.mu.Unlock()
	if !alive {
		return ExecResult{}, ErrNotFound
	}
	if handler == nil {
		return ExecResult{}, nil
	}
	return handler(ctx, id, cmd, opts)
}

func (f *FakeRuntime) Kill(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kills[id]++
	if c, ok := f.containers[id]; ok {
		c.running = false
	}
	return nil
}

func (f *FakeRuntime) Remove(_ context.Context, idOrName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := idOrName
	if byName, ok := f.byName[idOrName]; ok {
		id = byName
	}
	c, ok := f.containers[id]
	if !ok || c.removed {
		return ErrNotFound
	}
	f.removes[id]++
	c.removed = true
	c.running = false
	delete(f.byName, c.spec.Name)
	return nil
}

// Pulls returns how many times ref was pulled.
func (f *FakeRuntime) Pulls(ref string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pulls[ref]
}

// Removes returns how many times the container was removed.
func (f *FakeRuntime) Removes(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.removes[id]
}

// Kills returns how many times the container was killed.
func (f *FakeRuntime) Kills(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.kills[id]
}

// Live returns the number of containers not yet removed.
func (f *FakeRuntime) Live() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.containers {
		if !c.removed {
			n++
		}
	}
	return n
}

// Files returns the files injected into a container, keyed by absolute path.
func (f *FakeRuntime) Files(id string) map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string)
	if c, ok := f.containers[id]; ok {
		for k, v := range c.files {
			out[k] = v
		}
	}
	return out
}

// Specs returns every spec passed to a successful Create.
func (f *FakeRuntime) Specs() []Spec {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Spec(nil), f.specs...)
}

var _ Runtime = (*FakeRuntime)(nil)
