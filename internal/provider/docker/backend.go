// Package docker implements the provider backend that runs a small
// "state container" per host: an Alpine image into which the registry
// volume is mounted, with every read/write/exec hitting that container
// (spec §4.5).
package docker

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"go.uber.org/zap"

	"github.com/corralhq/corral/internal/common/errors"
	"github.com/corralhq/corral/internal/common/logger"
	"github.com/corralhq/corral/internal/host"
	"github.com/corralhq/corral/internal/ids"
	"github.com/corralhq/corral/internal/model"
	"github.com/corralhq/corral/internal/provider"
	"github.com/corralhq/corral/internal/volume"
)

// Config configures the docker backend: the image used for the state
// container and the host directory bind-mounted into it.
type Config struct {
	Image     string
	DockerAPI string // optional DOCKER_HOST override
	BindRoot  string // host path mounted at /corral inside the state container
}

const containerStateDir = "/corral"

// Backend drives one Docker daemon, running one state container per
// host record (label "corral.host_id").
type Backend struct {
	cfg Config
	cli *client.Client
	log *logger.Logger

	mu      sync.Mutex
	records map[ids.HostId]*model.HostRecord
	byName  map[ids.HostName]ids.HostId
}

// New dials the local Docker daemon (respecting DOCKER_HOST/cfg.DockerAPI).
func New(cfg Config, log *logger.Logger) (*Backend, error) {
	if log == nil {
		log = logger.Default()
	}
	opts := []client.Opt{client.WithAPIVersionNegotiation()}
	if cfg.DockerAPI != "" {
		opts = append(opts, client.WithHost(cfg.DockerAPI))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, errors.Provider(err, "creating docker client")
	}
	return &Backend{
		cfg:     cfg,
		cli:     cli,
		log:     log,
		records: make(map[ids.HostId]*model.HostRecord),
		byName:  make(map[ids.HostName]ids.HostId),
	}, nil
}

func (b *Backend) Name() ids.ProviderBackendName { return ids.BackendDocker }

func (b *Backend) containerName(id ids.HostId) string { return "corral-host-" + string(id) }

func (b *Backend) ListHosts(_ context.Context, includeDestroyed bool) ([]*model.HostRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*model.HostRecord, 0, len(b.records))
	for _, r := range b.records {
		if !includeDestroyed && r.State == model.HostDestroyed {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (b *Backend) GetHost(_ context.Context, ref string) (*model.HostRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if id, ok := b.byName[ids.HostName(ref)]; ok {
		return b.records[id], nil
	}
	if r, ok := b.records[ids.HostId(ref)]; ok {
		return r, nil
	}
	return nil, errors.NotFound("host", ref)
}

func (b *Backend) CreateHost(ctx context.Context, name ids.HostName, opts provider.HostOptions) (*model.HostRecord, error) {
	img := opts.Image
	if img == "" {
		img = b.cfg.Image
	}

	id := ids.NewHostId()
	record := &model.HostRecord{Id: id, Name: name, ProviderName: "docker", State: model.HostBuilding, Tags: opts.Tags}
	b.mu.Lock()
	b.records[id] = record
	b.byName[name] = id
	b.mu.Unlock()

	if _, _, err := b.cli.ImageInspectWithRaw(ctx, img); err != nil {
		reader, pullErr := b.cli.ImagePull(ctx, img, image.PullOptions{})
		if pullErr != nil {
			record.State = model.HostDestroyed
			return nil, errors.Provider(pullErr, "pulling image %s", img)
		}
		_, _ = io.Copy(io.Discard, reader)
		_ = reader.Close()
	}

	containerCfg := &container.Config{
		Image:  img,
		Cmd:    []string{"sleep", "infinity"},
		Labels: map[string]string{"corral.host_id": string(id), "corral.host_name": string(name)},
	}
	hostCfg := &container.HostConfig{
		Mounts: []mount.Mount{{Type: mount.TypeBind, Source: b.cfg.BindRoot, Target: containerStateDir}},
	}
	resp, err := b.cli.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, b.containerName(id))
	if err != nil {
		record.State = model.HostDestroyed
		return nil, errors.Provider(err, "creating state container for host %s", name)
	}
	if err := b.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		record.State = model.HostDestroyed
		return nil, errors.Provider(err, "starting state container for host %s", name)
	}

	b.log.Info("created docker host", zap.String("host_id", string(id)), zap.String("container_id", resp.ID))
	record.State = model.HostRunning
	return record, nil
}

func (b *Backend) StopHost(ctx context.Context, id ids.HostId) error {
	if err := b.cli.ContainerStop(ctx, b.containerName(id), container.StopOptions{}); err != nil {
		return errors.Provider(err, "stopping host %s", id)
	}
	b.setState(id, model.HostStopped)
	return nil
}

func (b *Backend) StartHost(ctx context.Context, id ids.HostId) error {
	if err := b.cli.ContainerStart(ctx, b.containerName(id), container.StartOptions{}); err != nil {
		return errors.Provider(err, "starting host %s", id)
	}
	b.setState(id, model.HostRunning)
	return nil
}

func (b *Backend) DestroyHost(ctx context.Context, id ids.HostId) error {
	if err := b.cli.ContainerRemove(ctx, b.containerName(id), container.RemoveOptions{Force: true, RemoveVolumes: true}); err != nil {
		return errors.Provider(err, "destroying host %s", id)
	}
	b.setState(id, model.HostDestroyed)
	return nil
}

func (b *Backend) RenameHost(_ context.Context, id ids.HostId, newName ids.HostName) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.records[id]
	if !ok {
		return errors.NotFound("host", string(id))
	}
	delete(b.byName, r.Name)
	r.Name = newName
	b.byName[newName] = id
	return nil
}

func (b *Backend) setState(id ids.HostId, state model.HostState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if r, ok := b.records[id]; ok {
		r.State = state
	}
}

func (b *Backend) GetHostResources(ctx context.Context, id ids.HostId) (*provider.HostResources, error) {
	stats, err := b.cli.ContainerStats(ctx, b.containerName(id), false)
	if err != nil {
		return nil, errors.Provider(err, "reading stats for host %s", id)
	}
	defer stats.Body.Close()
	return &provider.HostResources{}, nil
}

func (b *Backend) GetHostTags(_ context.Context, id ids.HostId) (map[string]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.records[id]
	if !ok {
		return nil, errors.NotFound("host", string(id))
	}
	return r.Tags, nil
}

func (b *Backend) AddTagsToHost(_ context.Context, id ids.HostId, tags map[string]string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.records[id]
	if !ok {
		return errors.NotFound("host", string(id))
	}
	if r.Tags == nil {
		r.Tags = map[string]string{}
	}
	for k, v := range tags {
		r.Tags[k] = v
	}
	return nil
}

func (b *Backend) RemoveTagsFromHost(_ context.Context, id ids.HostId, keys []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.records[id]
	if !ok {
		return errors.NotFound("host", string(id))
	}
	for _, k := range keys {
		delete(r.Tags, k)
	}
	return nil
}

func (b *Backend) SetHostTags(_ context.Context, id ids.HostId, tags map[string]string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.records[id]
	if !ok {
		return errors.NotFound("host", string(id))
	}
	r.Tags = tags
	return nil
}

func (b *Backend) OnConnectionError(ctx context.Context, id ids.HostId) error {
	b.log.Warn("docker connection error, checking container state", zap.String("host_id", string(id)))
	_, err := b.cli.ContainerInspect(ctx, b.containerName(id))
	if err != nil {
		b.setState(id, model.HostStopped)
	}
	return nil
}

func (b *Backend) Online(ctx context.Context, id ids.HostId) (host.Interface, error) {
	info, err := b.cli.ContainerInspect(ctx, b.containerName(id))
	if err != nil || !info.State.Running {
		return nil, errors.HostOffline(string(id))
	}
	return newContainerHost(b.cli, b.containerName(id), containerStateDir), nil
}

func (b *Backend) SupportsSnapshots() bool     { return false }
func (b *Backend) SupportsShutdownHosts() bool { return true }
func (b *Backend) SupportsVolumes() bool       { return true }
func (b *Backend) SupportsMutableTags() bool   { return true }

// GetHostVolume returns a Volume rooted at the host's state container's
// bind-mounted directory, implementing provider.HostVolume.
func (b *Backend) GetHostVolume(hostID ids.HostId) (volume.Volume, error) {
	return newContainerVolume(b.cli, b.containerName(hostID), containerStateDir), nil
}

// Close releases the Docker SDK client, implementing provider.Closeable.
func (b *Backend) Close() error { return b.cli.Close() }

// ContainerIDFilter builds a Docker API filter for containers carrying
// corral's host-id label, used by recovery sweeps at start-up.
func ContainerIDFilter(id ids.HostId) filters.Args {
	f := filters.NewArgs()
	f.Add("label", "corral.host_id="+string(id))
	return f
}

var _ provider.Backend = (*Backend)(nil)
var _ provider.Closeable = (*Backend)(nil)
var _ provider.HostVolume = (*Backend)(nil)
