// Package runtime is a typed wrapper over the local container engine:
// list, inspect, create, start, stop, pause, remove, pull, and raw
// logs/stats byte streams. It hides the docker/docker client's own request
// shapes behind the operations the Scheduler and Telemetry Fabric need.
package runtime

import (
	"context"
	"fmt"
	"io"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
)

// Info is the lightweight per-container summary returned by ListContainers.
type Info struct {
	Name   string
	State  string
	Labels map[string]string
}

// Inspection is the subset of container inspect state the core consults.
type Inspection struct {
	Running      bool
	StartedAt    string
	RestartCount int
	HasTTY       bool
}

// CreateSpec is the abstract container shape the Scheduler builds from a
// Server row; see spec.md §4.2.
type CreateSpec struct {
	Name                 string
	Image                string
	Env                  []string
	BindMounts           map[string]string // host path -> container path
	MemoryLimitBytes     int64
	MemoryReservationBytes int64
	NanoCPUs             int64
	Labels               map[string]string
}

const (
	memoryReservationDefault = 512 * 1024 * 1024
	logMaxSizeMB             = 50
	logMaxFiles              = 3
)

// Runtime is the Container Runtime Adapter interface the Scheduler and
// Telemetry Fabric depend on, so tests can substitute a fake engine.
type Runtime interface {
	ListContainers(ctx context.Context, includeStopped bool) ([]Info, error)
	Inspect(ctx context.Context, name string) (Inspection, error)
	Create(ctx context.Context, spec CreateSpec) error
	Start(ctx context.Context, name string) error
	Stop(ctx context.Context, name string, graceSeconds int) error
	Pause(ctx context.Context, name string) error
	Unpause(ctx context.Context, name string) error
	Remove(ctx context.Context, name string, force bool) error
	Restart(ctx context.Context, name string, graceSeconds int) error
	PullImage(ctx context.Context, image string) error
	Logs(ctx context.Context, name string, follow bool, sinceTailN int, timestamps bool) (io.ReadCloser, bool, error)
	Stats(ctx context.Context, name string, stream bool) (io.ReadCloser, error)
}

// Adapter is the docker/docker-backed Runtime implementation.
type Adapter struct {
	cli *client.Client
}

// New connects to the engine at the given unix socket/host (empty uses the
// default docker environment).
func New(host string) (*Adapter, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("container engine client: %w", err)
	}
	return &Adapter{cli: cli}, nil
}

func (a *Adapter) ListContainers(ctx context.Context, includeStopped bool) ([]Info, error) {
	containers, err := a.cli.ContainerList(ctx, container.ListOptions{All: includeStopped})
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}
	out := make([]Info, 0, len(containers))
	for _, c := range containers {
		out = append(out, Info{Name: firstName(c.Names), State: c.State, Labels: c.Labels})
	}
	return out, nil
}

// ListManagedGameContainers lists running containers whose name carries
// prefix and which lack the orchestration-service label, per I5.
func (a *Adapter) ListManagedGameContainers(ctx context.Context, prefix, orchestrationLabel string) ([]Info, error) {
	args := filters.NewArgs(filters.Arg("status", "running"))
	containers, err := a.cli.ContainerList(ctx, container.ListOptions{Filters: args})
	if err != nil {
		return nil, fmt.Errorf("list managed containers: %w", err)
	}
	out := make([]Info, 0, len(containers))
	for _, c := range containers {
		name := firstName(c.Names)
		if name == "" || len(name) < len(prefix) || name[:len(prefix)] != prefix {
			continue
		}
		if _, hasOrchLabel := c.Labels[orchestrationLabel]; hasOrchLabel {
			continue
		}
		out = append(out, Info{Name: name, State: c.State, Labels: c.Labels})
	}
	return out, nil
}

func (a *Adapter) Inspect(ctx context.Context, name string) (Inspection, error) {
	insp, err := a.cli.ContainerInspect(ctx, name)
	if err != nil {
		return Inspection{}, fmt.Errorf("inspect %s: %w", name, err)
	}
	running := insp.State != nil && insp.State.Running
	startedAt := ""
	if insp.State != nil {
		startedAt = insp.State.StartedAt
	}
	restartCount := 0
	if insp.ContainerJSONBase != nil {
		restartCount = insp.RestartCount
	}
	hasTTY := insp.Config != nil && insp.Config.Tty
	return Inspection{Running: running, StartedAt: startedAt, RestartCount: restartCount, HasTTY: hasTTY}, nil
}

func (a *Adapter) Create(ctx context.Context, spec CreateSpec) error {
	memRes := spec.MemoryReservationBytes
	if memRes <= 0 {
		memRes = memoryReservationDefault
	}
	binds := make([]string, 0, len(spec.BindMounts))
	for host, cont := range spec.BindMounts {
		binds = append(binds, host+":"+cont)
	}
	hc := &container.HostConfig{
		NetworkMode:   "host",
		Binds:         binds,
		RestartPolicy: container.RestartPolicy{Name: "unless-stopped"},
		Resources: container.Resources{
			Memory:            spec.MemoryLimitBytes,
			MemoryReservation: memRes,
			NanoCPUs:          spec.NanoCPUs,
		},
		LogConfig: container.LogConfig{
			Type: "json-file",
			Config: map[string]string{
				"max-size": fmt.Sprintf("%dm", logMaxSizeMB),
				"max-file": fmt.Sprintf("%d", logMaxFiles),
			},
		},
	}
	_, err := a.cli.ContainerCreate(ctx,
		&container.Config{Image: spec.Image, Env: spec.Env, Labels: spec.Labels},
		hc, nil, nil, spec.Name)
	if err != nil {
		return fmt.Errorf("create container %s: %w", spec.Name, err)
	}
	return nil
}

func (a *Adapter) Start(ctx context.Context, name string) error {
	if err := a.cli.ContainerStart(ctx, name, container.StartOptions{}); err != nil {
		return fmt.Errorf("start container %s: %w", name, err)
	}
	return nil
}

func (a *Adapter) Stop(ctx context.Context, name string, graceSeconds int) error {
	timeout := graceSeconds
	if err := a.cli.ContainerStop(ctx, name, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("stop container %s: %w", name, err)
	}
	return nil
}

func (a *Adapter) Pause(ctx context.Context, name string) error {
	if err := a.cli.ContainerPause(ctx, name); err != nil {
		return fmt.Errorf("pause container %s: %w", name, err)
	}
	return nil
}

func (a *Adapter) Unpause(ctx context.Context, name string) error {
	if err := a.cli.ContainerUnpause(ctx, name); err != nil {
		return fmt.Errorf("unpause container %s: %w", name, err)
	}
	return nil
}

func (a *Adapter) Remove(ctx context.Context, name string, force bool) error {
	if err := a.cli.ContainerRemove(ctx, name, container.RemoveOptions{Force: force}); err != nil {
		return fmt.Errorf("remove container %s: %w", name, err)
	}
	return nil
}

func (a *Adapter) Restart(ctx context.Context, name string, graceSeconds int) error {
	timeout := graceSeconds
	if err := a.cli.ContainerRestart(ctx, name, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("restart container %s: %w", name, err)
	}
	return nil
}

func (a *Adapter) PullImage(ctx context.Context, image string) error {
	reader, err := a.cli.ImagePull(ctx, image, types.ImagePullOptions{})
	if err != nil {
		return fmt.Errorf("pull image %s: %w", image, err)
	}
	defer reader.Close()
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("drain pull progress for %s: %w", image, err)
	}
	return nil
}

// Logs returns the raw byte stream and whether the container has a TTY
// attached (which changes how the Telemetry Fabric must decode it).
func (a *Adapter) Logs(ctx context.Context, name string, follow bool, sinceTailN int, timestamps bool) (io.ReadCloser, bool, error) {
	insp, err := a.Inspect(ctx, name)
	if err != nil {
		return nil, false, err
	}
	tail := "all"
	if sinceTailN > 0 {
		tail = fmt.Sprintf("%d", sinceTailN)
	}
	reader, err := a.cli.ContainerLogs(ctx, name, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     follow,
		Tail:       tail,
		Timestamps: timestamps,
	})
	if err != nil {
		return nil, false, fmt.Errorf("logs %s: %w", name, err)
	}
	return reader, insp.HasTTY, nil
}

func (a *Adapter) Stats(ctx context.Context, name string, stream bool) (io.ReadCloser, error) {
	resp, err := a.cli.ContainerStats(ctx, name, stream)
	if err != nil {
		return nil, fmt.Errorf("stats %s: %w", name, err)
	}
	return resp.Body, nil
}

func firstName(names []string) string {
	if len(names) == 0 {
		return ""
	}
	name := names[0]
	if len(name) > 0 && name[0] == '/' {
		return name[1:]
	}
	return name
}
