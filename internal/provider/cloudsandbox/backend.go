// Package cloudsandbox implements the provider backend that creates
// sandboxes from a built image on a remote cloud platform (spec §4.5),
// grounded on the sprites.dev client used by the teacher's Sprites
// executor.
package cloudsandbox

import (
	"context"
	"sync"
	"time"

	sprites "github.com/superfly/sprites-go"
	"go.uber.org/zap"

	"github.com/corralhq/corral/internal/common/errors"
	"github.com/corralhq/corral/internal/common/logger"
	"github.com/corralhq/corral/internal/host"
	"github.com/corralhq/corral/internal/ids"
	"github.com/corralhq/corral/internal/model"
	"github.com/corralhq/corral/internal/provider"
	"github.com/corralhq/corral/internal/volume"
)

const namePrefix = "corral-"

// Config configures the cloud-sandbox backend.
type Config struct {
	APIToken string
	Image    string
}

// Backend drives a sprites.dev account, one sandbox per host record.
type Backend struct {
	cfg    Config
	client *sprites.Client
	log    *logger.Logger

	mu       sync.Mutex
	records  map[ids.HostId]*model.HostRecord
	byName   map[ids.HostName]ids.HostId
	sandbox  map[ids.HostId]string // host id -> sprite name
	snapshot map[ids.HostId][]model.SnapshotRef
}

// New authenticates a sprites.dev client with cfg.APIToken.
func New(cfg Config, log *logger.Logger) (*Backend, error) {
	if log == nil {
		log = logger.Default()
	}
	if cfg.APIToken == "" {
		return nil, errors.Config("cloud-sandbox backend requires an api token")
	}
	client := sprites.New(cfg.APIToken, sprites.WithDisableControl())
	return &Backend{
		cfg:      cfg,
		client:   client,
		log:      log,
		records:  make(map[ids.HostId]*model.HostRecord),
		byName:   make(map[ids.HostName]ids.HostId),
		sandbox:  make(map[ids.HostId]string),
		snapshot: make(map[ids.HostId][]model.SnapshotRef),
	}, nil
}

func (b *Backend) Name() ids.ProviderBackendName { return ids.BackendCloudSandbox }

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
	id := ids.NewHostId()
	spriteName := namePrefix + string(id)[:18]

	record := &model.HostRecord{Id: id, Name: name, ProviderName: "cloud-sandbox", State: model.HostBuilding, Tags: opts.Tags}
	b.mu.Lock()
	b.records[id] = record
	b.byName[name] = id
	b.mu.Unlock()

	if _, err := b.client.CreateSprite(ctx, spriteName, nil); err != nil {
		record.State = model.HostDestroyed
		return nil, errors.Provider(err, "creating cloud sandbox for host %s", name)
	}

	b.mu.Lock()
	b.sandbox[id] = spriteName
	b.mu.Unlock()

	record.State = model.HostRunning
	b.log.Info("created cloud sandbox host", zap.String("host_id", string(id)), zap.String("sprite", spriteName))
	return record, nil
}

func (b *Backend) sprite(id ids.HostId) (*sprites.Sprite, error) {
	b.mu.Lock()
	name, ok := b.sandbox[id]
	b.mu.Unlock()
	if !ok {
		return nil, errors.HostOffline(string(id))
	}
	return b.client.Sprite(name), nil
}

func (b *Backend) StopHost(context.Context, ids.HostId) error {
	return errors.State("cloud sandboxes do not support stop; use destroy or snapshot-and-destroy")
}

func (b *Backend) StartHost(context.Context, ids.HostId) error {
	return errors.State("cloud sandboxes do not support start once stopped; create a new one from a snapshot")
}

func (b *Backend) DestroyHost(_ context.Context, id ids.HostId) error {
	sprite, err := b.sprite(id)
	if err != nil {
		return err
	}
	if err := sprite.Destroy(); err != nil {
		return errors.Provider(err, "destroying cloud sandbox %s", id)
	}
	b.mu.Lock()
	if r, ok := b.records[id]; ok {
		r.State = model.HostDestroyed
	}
	delete(b.sandbox, id)
	b.mu.Unlock()
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

func (b *Backend) GetHostResources(context.Context, ids.HostId) (*provider.HostResources, error) {
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

func (b *Backend) OnConnectionError(_ context.Context, id ids.HostId) error {
	b.log.Warn("cloud sandbox connection error", zap.String("host_id", string(id)))
	return nil
}

func (b *Backend) Online(_ context.Context, id ids.HostId) (host.Interface, error) {
	sprite, err := b.sprite(id)
	if err != nil {
		return nil, err
	}
	return newSandboxHost(sprite, "/workspace"), nil
}

func (b *Backend) SupportsSnapshots() bool     { return true }
func (b *Backend) SupportsShutdownHosts() bool { return false }
func (b *Backend) SupportsVolumes() bool       { return true }
func (b *Backend) SupportsMutableTags() bool   { return true }

// CreateSnapshot instructs the cloud platform to snapshot the sandbox's
// filesystem and records the returned image identifier on the host
// record (spec §4.5).
func (b *Backend) CreateSnapshot(ctx context.Context, hostID ids.HostId) (*model.SnapshotRef, error) {
	sprite, err := b.sprite(hostID)
	if err != nil {
		return nil, err
	}
	snapshotID, err := sprite.SnapshotFilesystem(ctx)
	if err != nil {
		return nil, errors.Provider(err, "snapshotting cloud sandbox %s", hostID)
	}
	ref := model.SnapshotRef{Id: snapshotID, CreatedAt: time.Now()}

	b.mu.Lock()
	b.snapshot[hostID] = append(b.snapshot[hostID], ref)
	if r, ok := b.records[hostID]; ok {
		r.Snapshots = append(r.Snapshots, ref)
	}
	b.mu.Unlock()
	return &ref, nil
}

func (b *Backend) ListSnapshots(_ context.Context, hostID ids.HostId) ([]model.SnapshotRef, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshot[hostID], nil
}

func (b *Backend) DeleteSnapshot(_ context.Context, hostID ids.HostId, snapshotID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	refs := b.snapshot[hostID]
	for i, ref := range refs {
		if ref.Id == snapshotID {
			b.snapshot[hostID] = append(refs[:i], refs[i+1:]...)
			return nil
		}
	}
	return errors.NotFound("snapshot", snapshotID)
}

// GetHostVolume returns a Volume rooted at the sandbox's /workspace
// directory, implementing provider.HostVolume.
func (b *Backend) GetHostVolume(hostID ids.HostId) (volume.Volume, error) {
	sprite, err := b.sprite(hostID)
	if err != nil {
		return nil, err
	}
	return newSandboxVolume(sprite, "/workspace"), nil
}

var _ provider.Backend = (*Backend)(nil)
var _ provider.SnapshotSurface = (*Backend)(nil)
var _ provider.HostVolume = (*Backend)(nil)
