// Package local implements the provider backend that treats the
// operator's own machine as a single always-on host (spec §4.5).
package local

import (
	"context"
	"os"
	"sync"

	"github.com/corralhq/corral/internal/common/errors"
	"github.com/corralhq/corral/internal/common/logger"
	"github.com/corralhq/corral/internal/concurrency"
	"github.com/corralhq/corral/internal/host"
	"github.com/corralhq/corral/internal/ids"
	"github.com/corralhq/corral/internal/model"
	"github.com/corralhq/corral/internal/provider"
	"github.com/corralhq/corral/internal/volume"
)

const localHostName = "local"

// Backend is the "local" provider backend: exactly one host record,
// created lazily on first use, that is always RUNNING and is never
// subject to idle enforcement (spec §4.6, "local hosts are skipped for
// idle enforcement").
type Backend struct {
	baseDir string
	group   *concurrency.Group
	log     *logger.Logger

	mu   sync.Mutex
	host *model.HostRecord
}

// New returns a local backend rooted at baseDir (typically
// $HOST_DIR/providers/local).
func New(baseDir string, group *concurrency.Group, log *logger.Logger) *Backend {
	if log == nil {
		log = logger.Default()
	}
	return &Backend{baseDir: baseDir, group: group, log: log}
}

func (b *Backend) Name() ids.ProviderBackendName { return ids.BackendLocal }

func (b *Backend) ensureHost() *model.HostRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.host == nil {
		b.host = &model.HostRecord{
			Id:           ids.NewHostId(),
			Name:         localHostName,
			ProviderName: "local",
			State:        model.HostRunning,
		}
	}
	return b.host
}

func (b *Backend) ListHosts(_ context.Context, includeDestroyed bool) ([]*model.HostRecord, error) {
	h := b.ensureHost()
	if !includeDestroyed && h.State == model.HostDestroyed {
		return nil, nil
	}
	return []*model.HostRecord{h}, nil
}

func (b *Backend) GetHost(_ context.Context, ref string) (*model.HostRecord, error) {
	h := b.ensureHost()
	if ref != string(h.Id) && ref != string(h.Name) {
		return nil, errors.NotFound("host", ref)
	}
	return h, nil
}

func (b *Backend) CreateHost(_ context.Context, name ids.HostName, _ provider.HostOptions) (*model.HostRecord, error) {
	h := b.ensureHost()
	if name != "" && name != h.Name {
		return nil, errors.UserInput("the local backend supports exactly one host named %q", h.Name)
	}
	return h, nil
}

func (b *Backend) StopHost(context.Context, ids.HostId) error {
	return errors.State("the local host cannot be stopped")
}

func (b *Backend) StartHost(context.Context, ids.HostId) error { return nil }

func (b *Backend) DestroyHost(context.Context, ids.HostId) error {
	return errors.State("the local host cannot be destroyed")
}

func (b *Backend) RenameHost(context.Context, ids.HostId, ids.HostName) error {
	return errors.State("the local host cannot be renamed")
}

func (b *Backend) GetHostResources(context.Context, ids.HostId) (*provider.HostResources, error) {
	return &provider.HostResources{}, nil
}

func (b *Backend) GetHostTags(context.Context, ids.HostId) (map[string]string, error) {
	return b.ensureHost().Tags, nil
}

func (b *Backend) AddTagsToHost(_ context.Context, _ ids.HostId, tags map[string]string) error {
	h := b.ensureHost()
	b.mu.Lock()
	defer b.mu.Unlock()
	if h.Tags == nil {
		h.Tags = map[string]string{}
	}
	for k, v := range tags {
		h.Tags[k] = v
	}
	return nil
}

func (b *Backend) RemoveTagsFromHost(_ context.Context, _ ids.HostId, keys []string) error {
	h := b.ensureHost()
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, k := range keys {
		delete(h.Tags, k)
	}
	return nil
}

func (b *Backend) SetHostTags(_ context.Context, _ ids.HostId, tags map[string]string) error {
	h := b.ensureHost()
	b.mu.Lock()
	defer b.mu.Unlock()
	h.Tags = tags
	return nil
}

func (b *Backend) OnConnectionError(context.Context, ids.HostId) error {
	b.log.Warn("connection error reported against the local host; this should not happen")
	return nil
}

func (b *Backend) Online(_ context.Context, _ ids.HostId) (host.Interface, error) {
	if err := os.MkdirAll(b.baseDir, 0o755); err != nil {
		return nil, errors.Internal("", err, "creating local host directory")
	}
	return host.NewLocalHost(b.baseDir, b.group, ""), nil
}

func (b *Backend) SupportsSnapshots() bool     { return false }
func (b *Backend) SupportsShutdownHosts() bool { return false }
func (b *Backend) SupportsVolumes() bool       { return true }
func (b *Backend) SupportsMutableTags() bool   { return true }

// GetHostVolume returns a Volume rooted at the local host directory,
// implementing provider.HostVolume.
func (b *Backend) GetHostVolume(_ ids.HostId) (volume.Volume, error) {
	if err := os.MkdirAll(b.baseDir, 0o755); err != nil {
		return nil, errors.Internal("", err, "creating local host directory")
	}
	return volume.NewLocal(b.baseDir), nil
}

var _ provider.Backend = (*Backend)(nil)
var _ provider.HostVolume = (*Backend)(nil)
