// Package runtime is the sole path to the container daemon. Every other
// component consumes only the Adapter interface defined here; DockerAdapter
// is the real implementation and FakeAdapter is the in-memory test double
// used throughout the other packages' test suites.
package runtime

import (
	"context"
	"time"
)

// Summary is a lightweight container listing entry.
type Summary struct {
	ID        string
	Name      string
	ImageRef  string
	Status    string
	CreatedAt time.Time
	Labels    map[string]string
}

// Detail is the full inspection result for one container.
type Detail struct {
	Summary
	ImageDigest string
	Ports       []PortBinding
	Env         map[string]string
	Mounts      []Mount
	StartedAt   time.Time
}

// PortBinding is one published port mapping.
type PortBinding struct {
	ContainerPort int
	HostPort      int
	Protocol      string
	HostIP        string
}

// Mount is a bind or named-volume mount.
type Mount struct {
	Source   string
	Target   string
	ReadOnly bool
}

// CreateSpec is what Create needs to bring up a replacement container.
type CreateSpec struct {
	Name   string
	Image  string
	Env    map[string]string
	Labels map[string]string
	Ports  []PortBinding
	Mounts []Mount
}

// ListError is a per-entry diagnostic surfaced alongside a partially
// successful List.
type ListError struct {
	ContainerID string
	Err         error
}

// Image is one entry of the images known to the runtime's local store.
type Image struct {
	RepoTag   string
	Digest    string
	Size      int64
	CreatedAt time.Time
}

// Adapter is the interface every other component programs against. All
// methods block from the caller's perspective and are safe to call
// concurrently from multiple goroutines without external serialization.
type Adapter interface {
	List(ctx context.Context) ([]Summary, []ListError, error)
	Inspect(ctx context.Context, id string) (Detail, error)
	Pull(ctx context.Context, imageRef string) (digest string, err error)
	Stop(ctx context.Context, id string, grace time.Duration) error
	Start(ctx context.Context, id string) error
	Create(ctx context.Context, spec CreateSpec) (id string, err error)
	Remove(ctx context.Context, id string, force bool) error
	ImageRemove(ctx context.Context, digest string) error
	ListImages(ctx context.Context) ([]Image, error)
	Ping(ctx context.Context) error
	Close() error
}
