// Package container runs plugins as engine-managed containers.
package container

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	containertypes "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	imagetypes "github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"go.uber.org/zap"

	"github.com/gardenos/gardend/internal/backend"
	"github.com/gardenos/gardend/internal/errdefs"
	"github.com/gardenos/gardend/internal/plugin"
)

// Default bindings used when a plugin carries no port configuration:
// container port 80/tcp published on the host plugin port.
const (
	defaultContainerPort = "80/tcp"
	defaultHostIP        = "0.0.0.0"
	defaultHostPort      = "8081"
)

// API is the slice of the engine client the backend uses.
type API interface {
	ImagePull(ctx context.Context, refStr string, options imagetypes.PullOptions) (io.ReadCloser, error)
	ContainerList(ctx context.Context, options containertypes.ListOptions) ([]types.Container, error)
	ContainerCreate(ctx context.Context, config *containertypes.Config, hostConfig *containertypes.HostConfig,
		networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (containertypes.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options containertypes.StartOptions) error
	ContainerStop(ctx context.Context, containerID string, options containertypes.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options containertypes.RemoveOptions) error
}

// Backend drives plugin containers through the engine HTTP API.
type Backend struct {
	api API
	log *zap.Logger
}

// New returns a Backend over the given engine client.
func New(api API, log *zap.Logger) *Backend {
	return &Backend{api: api, log: log}
}

// Connect builds a Backend on the environment-configured engine socket.
func Connect(log *zap.Logger) (*Backend, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindUnavailable, "container: connect", err)
	}
	return New(cli, log), nil
}

func (b *Backend) imageRef(p plugin.Plugin) string {
	if p.Tag != "" {
		return p.Source + ":" + p.Tag
	}
	return p.Source
}

// pullProgress is the subset of the engine's pull status stream we log.
type pullProgress struct {
	Status   string `json:"status"`
	Progress string `json:"progress"`
	Error    string `json:"error"`
}

// Launch pulls the image, replaces any same-named container and starts a
// fresh one. Any failing step aborts the launch; nothing half-started stays
// observable because the entry is only registered by the caller on success.
func (b *Backend) Launch(ctx context.Context, p plugin.Plugin, entry *backend.Entry) error {
	ref := b.imageRef(p)
	b.log.Info("pulling plugin image", zap.String("plugin", p.Name), zap.String("image", ref))
	rc, err := b.api.ImagePull(ctx, ref, imagetypes.PullOptions{})
	if err != nil {
		return errdefs.Wrap(errdefs.KindUnavailable, "container: pull image", err)
	}
	b.drainPull(rc, p.Name)

	existing, err := b.findByName(ctx, p.Name)
	if err != nil {
		return errdefs.Wrap(errdefs.KindUnavailable, "container: list containers", err)
	}
	if existing != nil {
		b.log.Info("replacing existing container", zap.String("plugin", p.Name))
		if err := b.api.ContainerStop(ctx, p.Name, containertypes.StopOptions{}); err != nil {
			return errdefs.Wrap(errdefs.KindUnavailable, "container: stop existing", err)
		}
		if err := b.api.ContainerRemove(ctx, p.Name, containertypes.RemoveOptions{}); err != nil {
			return errdefs.Wrap(errdefs.KindUnavailable, "container: remove existing", err)
		}
	}

	cfg := &containertypes.Config{
		Image:        ref,
		ExposedPorts: nat.PortSet{defaultContainerPort: struct{}{}},
	}
	hostCfg := &containertypes.HostConfig{
		PortBindings: nat.PortMap{
			defaultContainerPort: []nat.PortBinding{{HostIP: defaultHostIP, HostPort: defaultHostPort}},
		},
	}
	created, err := b.api.ContainerCreate(ctx, cfg, hostCfg, nil, nil, p.Name)
	if err != nil {
		return errdefs.Wrap(errdefs.KindUnavailable, "container: create", err)
	}
	if err := b.api.ContainerStart(ctx, created.ID, containertypes.StartOptions{}); err != nil {
		return errdefs.Wrap(errdefs.KindUnavailable, "container: start", err)
	}
	entry.Handle = p.Name
	b.log.Info("container started", zap.String("plugin", p.Name), zap.String("id", created.ID))
	return nil
}

// drainPull logs pull progress. Individual message errors are observability
// events only; they never fail the launch.
func (b *Backend) drainPull(rc io.ReadCloser, name string) {
	defer rc.Close()
	dec := json.NewDecoder(rc)
	for {
		var msg pullProgress
		if err := dec.Decode(&msg); err != nil {
			if !errors.Is(err, io.EOF) {
				b.log.Warn("pull progress decode failed", zap.String("plugin", name), zap.Error(err))
			}
			return
		}
		if msg.Error != "" {
			b.log.Warn("pull progress error", zap.String("plugin", name), zap.String("error", msg.Error))
			continue
		}
		if msg.Status != "" {
			b.log.Debug("pull progress", zap.String("plugin", name), zap.String("status", msg.Status), zap.String("progress", msg.Progress))
		}
	}
}

func (b *Backend) findByName(ctx context.Context, name string) (*types.Container, error) {
	list, err := b.api.ContainerList(ctx, containertypes.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("name", name)),
	})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return &list[0], nil
}

// Stop stops then removes the plugin's container. Both steps are attempted;
// the first failure is reported so no orphaned container goes unnoticed.
func (b *Backend) Stop(ctx context.Context, p plugin.Plugin, entry *backend.Entry) error {
	b.log.Info("stopping container", zap.String("plugin", p.Name))
	stopErr := b.api.ContainerStop(ctx, p.Name, containertypes.StopOptions{})
	if stopErr != nil {
		b.log.Error("container stop failed", zap.String("plugin", p.Name), zap.Error(stopErr))
	}
	removeErr := b.api.ContainerRemove(ctx, p.Name, containertypes.RemoveOptions{})
	if removeErr != nil {
		b.log.Error("container remove failed", zap.String("plugin", p.Name), zap.Error(removeErr))
	}
	if stopErr != nil {
		return errdefs.Wrap(errdefs.KindUnavailable, "container: stop", stopErr)
	}
	return errdefs.Wrap(errdefs.KindUnavailable, "container: remove", removeErr)
}

// Status resolves the live container state by name. A missing container
// reads as not running rather than an error.
func (b *Backend) Status(ctx context.Context, p plugin.Plugin, entry *backend.Entry) (plugin.Status, error) {
	found, err := b.findByName(ctx, p.Name)
	if err != nil {
		return plugin.Status{}, errdefs.Wrap(errdefs.KindUnavailable, "container: status", err)
	}
	if found == nil {
		return plugin.Status{}, nil
	}
	shouldRun := p.Enabled
	var started *time.Time
	if entry != nil {
		shouldRun = entry.ShouldRun()
		t := entry.Started
		started = &t
	}
	return plugin.Status{
		Running:         !strings.EqualFold(found.State, "exited"),
		ShouldBeRunning: shouldRun,
		Started:         started,
	}, nil
}
