package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/artpar/watchtower-agent/internal/core/agenterrors"
)

// fakeContainer is the internal bookkeeping record for one container in a
// FakeAdapter.
type fakeContainer struct {
	Detail
	running bool
}

// FakeAdapter is the in-memory test double for Adapter. Every exported
// method is safe for concurrent use. Image pulls resolve through a
// caller-seeded registry map so tests can simulate a new digest appearing
// upstream.
type FakeAdapter struct {
	mu sync.Mutex

	containers map[string]*fakeContainer
	images     map[string]string // imageRef -> current digest in the "registry"
	nextID     int

	listErr error // when set, List fails with this error
	pullErr error // when set, Pull fails with this error

	// StartDelay simulates a container taking time to report running, used
	// to exercise the Update Engine's start-timeout path.
	StartDelay time.Duration
}

// NewFakeAdapter returns an empty FakeAdapter.
func NewFakeAdapter() *FakeAdapter {
	return &FakeAdapter{
		containers: make(map[string]*fakeContainer),
		images:     make(map[string]string),
	}
}

// Seed registers a running container directly, bypassing Create, for test
// setup. Returns the assigned ID.
func (f *FakeAdapter) Seed(d Detail) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d.ID == "" {
		f.nextID++
		d.ID = fmt.Sprintf("fake-%d", f.nextID)
	}
	d.Status = "running"
	f.containers[d.ID] = &fakeContainer{Detail: d, running: true}
	if d.ImageDigest != "" {
		f.images[d.ImageRef] = d.ImageDigest
	}
	return d.ID
}

// SetImageDigest sets what Pull(imageRef) will resolve to, simulating a
// registry publishing a new version.
func (f *FakeAdapter) SetImageDigest(imageRef, digest string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.images[imageRef] = digest
}

// SetListError makes the next and all subsequent List calls fail until
// cleared with SetListError(nil), simulating a runtime outage.
func (f *FakeAdapter) SetListError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listErr = err
}

// SetPullError makes Pull fail until cleared.
func (f *FakeAdapter) SetPullError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pullErr = err
}

// RemoveBackdoor removes a container as if the runtime deleted it outside
// the agent's control, without going through Remove's idempotence.
func (f *FakeAdapter) RemoveBackdoor(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.containers, id)
}

func (f *FakeAdapter) List(ctx context.Context) ([]Summary, []ListError, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, nil, f.listErr
	}
	var out []Summary
	for _, c := range f.containers {
		out = append(out, c.Summary)
	}
	return out, nil, nil
}

func (f *FakeAdapter) Inspect(ctx context.Context, id string) (Detail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[id]
	if !ok {
		return Detail{}, agenterrors.New(agenterrors.KindNotFound, "Inspect", "container not found", nil)
	}
	return c.Detail, nil
}

func (f *FakeAdapter) Pull(ctx context.Context, imageRef string) (string, error) {
	f.mu.Lock()
	pullErr := f.pullErr
	digest := f.images[imageRef]
	f.mu.Unlock()
	if pullErr != nil {
		return "", pullErr
	}
	if digest == "" {
		digest = "sha256:" + imageRef
	}
	return digest, nil
}

func (f *FakeAdapter) Stop(ctx context.Context, id string, grace time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[id]
	if !ok {
		return nil // idempotent on missing
	}
	c.running = false
	c.Status = "exited"
	return nil
}

func (f *FakeAdapter) Start(ctx context.Context, id string) error {
	delay := f.StartDelay
	f.mu.Lock()
	c, ok := f.containers[id]
	f.mu.Unlock()
	if !ok {
		return agenterrors.New(agenterrors.KindNotFound, "Start", "container not found", nil)
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	c.running = true
	c.Status = "running"
	c.StartedAt = time.Now()
	f.mu.Unlock()
	return nil
}

func (f *FakeAdapter) Create(ctx context.Context, spec CreateSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("fake-%d", f.nextID)
	digest := f.images[spec.Image]
	if digest == "" {
		digest = "sha256:" + spec.Image
	}
	var ports []PortBinding
	ports = append(ports, spec.Ports...)
	var mounts []Mount
	mounts = append(mounts, spec.Mounts...)
	f.containers[id] = &fakeContainer{
		Detail: Detail{
			Summary: Summary{
				ID:        id,
				Name:      spec.Name,
				ImageRef:  spec.Image,
				Status:    "created",
				CreatedAt: time.Now(),
				Labels:    spec.Labels,
			},
			ImageDigest: digest,
			Ports:       ports,
			Env:         spec.Env,
			Mounts:      mounts,
		},
	}
	return id, nil
}

func (f *FakeAdapter) Remove(ctx context.Context, id string, force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.containers, id)
	return nil
}

func (f *FakeAdapter) ImageRemove(ctx context.Context, digest string) error {
	return nil
}

func (f *FakeAdapter) ListImages(ctx context.Context) ([]Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]Image, 0, len(f.images))
	for ref, digest := range f.images {
		out = append(out, Image{RepoTag: ref, Digest: digest})
	}
	return out, nil
}

func (f *FakeAdapter) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return f.listErr
	}
	return nil
}

func (f *FakeAdapter) Close() error {
	return nil
}
