package runtime

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"

	"github.com/artpar/watchtower-agent/internal/core/agenterrors"
)

// DockerAdapter implements Adapter against a real Docker daemon using the
// Moby API client.
type DockerAdapter struct {
	cli *client.Client
}

// NewDockerAdapter connects to the daemon at endpoint. An empty endpoint
// uses the client's default resolution (DOCKER_HOST or the platform
// default socket).
func NewDockerAdapter(endpoint string) (*DockerAdapter, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if endpoint != "" {
		opts = append(opts, client.WithHost(endpoint))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, agenterrors.New(agenterrors.KindRuntimeUnavailable, "NewDockerAdapter", "failed to create docker client", err)
	}
	return &DockerAdapter{cli: cli}, nil
}

func (d *DockerAdapter) Ping(ctx context.Context) error {
	if _, err := d.cli.Ping(ctx); err != nil {
		return agenterrors.New(agenterrors.KindRuntimeUnavailable, "Ping", "docker daemon unreachable", err)
	}
	return nil
}

func (d *DockerAdapter) Close() error {
	return d.cli.Close()
}

func (d *DockerAdapter) List(ctx context.Context) ([]Summary, []ListError, error) {
	containers, err := d.cli.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		return nil, nil, agenterrors.New(agenterrors.KindRuntimeUnavailable, "List", err.Error(), err)
	}

	var (
		out  []Summary
		errs []ListError
	)
	for _, c := range containers {
		name := ""
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}
		out = append(out, Summary{
			ID:        c.ID,
			Name:      name,
			ImageRef:  c.Image,
			Status:    c.State,
			CreatedAt: time.Unix(c.Created, 0),
			Labels:    c.Labels,
		})
	}
	return out, errs, nil
}

func (d *DockerAdapter) Inspect(ctx context.Context, id string) (Detail, error) {
	resp, err := d.cli.ContainerInspect(ctx, id)
	if err != nil {
		if client.IsErrNotFound(err) {
			return Detail{}, agenterrors.New(agenterrors.KindNotFound, "Inspect", "container not found", err)
		}
		return Detail{}, agenterrors.New(agenterrors.KindRuntimeUnavailable, "Inspect", err.Error(), err)
	}

	createdAt, _ := time.Parse(time.RFC3339Nano, resp.Created)
	var startedAt time.Time
	if resp.State != nil && resp.State.StartedAt != "" && resp.State.StartedAt != "0001-01-01T00:00:00Z" {
		startedAt, _ = time.Parse(time.RFC3339Nano, resp.State.StartedAt)
	}

	var ports []PortBinding
	if resp.NetworkSettings != nil {
		for containerPort, bindings := range resp.NetworkSettings.Ports {
			port, proto := nat.Port(containerPort).Port(), nat.Port(containerPort).Proto()
			var containerPortInt int
			fmt.Sscanf(port, "%d", &containerPortInt)
			for _, binding := range bindings {
				var hostPort int
				if binding.HostPort != "" {
					fmt.Sscanf(binding.HostPort, "%d", &hostPort)
				}
				ports = append(ports, PortBinding{
					ContainerPort: containerPortInt,
					HostPort:      hostPort,
					Protocol:      proto,
					HostIP:        binding.HostIP,
				})
			}
		}
	}

	env := map[string]string{}
	if resp.Config != nil {
		for _, kv := range resp.Config.Env {
			if idx := strings.IndexByte(kv, '='); idx >= 0 {
				env[kv[:idx]] = kv[idx+1:]
			}
		}
	}

	var mounts []Mount
	for _, m := range resp.Mounts {
		mounts = append(mounts, Mount{
			Source:   m.Source,
			Target:   m.Destination,
			ReadOnly: !m.RW,
		})
	}

	imageRef := ""
	var labels map[string]string
	status := ""
	if resp.Config != nil {
		imageRef = resp.Config.Image
		labels = resp.Config.Labels
	}
	if resp.State != nil {
		status = resp.State.Status
	}

	return Detail{
		Summary: Summary{
			ID:        resp.ID,
			Name:      strings.TrimPrefix(resp.Name, "/"),
			ImageRef:  imageRef,
			Status:    status,
			CreatedAt: createdAt,
			Labels:    labels,
		},
		ImageDigest: resp.Image,
		Ports:       ports,
		Env:         env,
		Mounts:      mounts,
		StartedAt:   startedAt,
	}, nil
}

func (d *DockerAdapter) Pull(ctx context.Context, imageRef string) (string, error) {
	reader, err := d.cli.ImagePull(ctx, imageRef, image.PullOptions{})
	if err != nil {
		errStr := err.Error()
		if strings.Contains(errStr, "unauthorized") || strings.Contains(errStr, "pull access denied") {
			return "", agenterrors.New(agenterrors.KindAuthRequired, "Pull", errStr, err)
		}
		return "", agenterrors.New(agenterrors.KindRegistryUnreachable, "Pull", errStr, err)
	}
	defer reader.Close()
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return "", agenterrors.New(agenterrors.KindRegistryUnreachable, "Pull", err.Error(), err)
	}

	inspect, _, err := d.cli.ImageInspectWithRaw(ctx, imageRef)
	if err != nil {
		return "", agenterrors.New(agenterrors.KindRegistryUnreachable, "Pull", "pulled image but could not inspect it", err)
	}
	return inspect.ID, nil
}

func (d *DockerAdapter) Stop(ctx context.Context, id string, grace time.Duration) error {
	seconds := int(grace.Seconds())
	err := d.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &seconds})
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil // idempotent on missing
		}
		if strings.Contains(err.Error(), "is not running") {
			return nil // idempotent on already-stopped
		}
		return agenterrors.New(agenterrors.KindRuntimeUnavailable, "Stop", err.Error(), err)
	}
	return nil
}

func (d *DockerAdapter) Start(ctx context.Context, id string) error {
	err := d.cli.ContainerStart(ctx, id, container.StartOptions{})
	if err != nil {
		if client.IsErrNotFound(err) {
			return agenterrors.New(agenterrors.KindNotFound, "Start", "container not found", err)
		}
		if strings.Contains(err.Error(), "already running") {
			return nil // idempotent on already-running
		}
		return agenterrors.New(agenterrors.KindRuntimeUnavailable, "Start", err.Error(), err)
	}
	return nil
}

func (d *DockerAdapter) Create(ctx context.Context, spec CreateSpec) (string, error) {
	cfg := &container.Config{
		Image:  spec.Image,
		Labels: spec.Labels,
	}
	for k, v := range spec.Env {
		cfg.Env = append(cfg.Env, fmt.Sprintf("%s=%s", k, v))
	}

	hostConfig := &container.HostConfig{}
	if len(spec.Ports) > 0 {
		portBindings := nat.PortMap{}
		exposedPorts := nat.PortSet{}
		for _, p := range spec.Ports {
			proto := p.Protocol
			if proto == "" {
				proto = "tcp"
			}
			containerPort := nat.Port(fmt.Sprintf("%d/%s", p.ContainerPort, proto))
			exposedPorts[containerPort] = struct{}{}
			hostPort := ""
			if p.HostPort != 0 {
				hostPort = fmt.Sprintf("%d", p.HostPort)
			}
			portBindings[containerPort] = []nat.PortBinding{{HostIP: p.HostIP, HostPort: hostPort}}
		}
		cfg.ExposedPorts = exposedPorts
		hostConfig.PortBindings = portBindings
	}

	for _, m := range spec.Mounts {
		mountType := mount.TypeVolume
		if strings.HasPrefix(m.Source, "/") {
			mountType = mount.TypeBind
		}
		hostConfig.Mounts = append(hostConfig.Mounts, mount.Mount{
			Type:     mountType,
			Source:   m.Source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		})
	}

	resp, err := d.cli.ContainerCreate(ctx, cfg, hostConfig, nil, nil, spec.Name)
	if err != nil {
		return "", agenterrors.New(agenterrors.KindRuntimeUnavailable, "Create", err.Error(), err)
	}
	return resp.ID, nil
}

func (d *DockerAdapter) Remove(ctx context.Context, id string, force bool) error {
	err := d.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: force})
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil // idempotent on missing
		}
		return agenterrors.New(agenterrors.KindRuntimeUnavailable, "Remove", err.Error(), err)
	}
	return nil
}

func (d *DockerAdapter) ImageRemove(ctx context.Context, digest string) error {
	if digest == "" {
		return nil
	}
	_, err := d.cli.ImageRemove(ctx, digest, image.RemoveOptions{})
	if err != nil {
		// best-effort: every failure is ignored, including "still
		// referenced" and not-found
		return nil
	}
	return nil
}

func (d *DockerAdapter) ListImages(ctx context.Context) ([]Image, error) {
	images, err := d.cli.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return nil, agenterrors.New(agenterrors.KindRuntimeUnavailable, "ListImages", err.Error(), err)
	}

	var out []Image
	for _, img := range images {
		repoTag := ""
		if len(img.RepoTags) > 0 {
			repoTag = img.RepoTags[0]
		}
		out = append(out, Image{
			RepoTag:   repoTag,
			Digest:    img.ID,
			Size:      img.Size,
			CreatedAt: time.Unix(img.Created, 0),
		})
	}
	return out, nil
}
