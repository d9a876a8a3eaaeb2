// Package provider implements the provider-backend abstraction (spec
// §4.5, C6): a process-global registry mapping a backend name ("local",
// "docker", "ssh", "cloud-sandbox") to an implementation, and the
// capability-bit interface every backend exposes.
package provider

import (
	"context"

	"github.com/corralhq/corral/internal/host"
	"github.com/corralhq/corral/internal/ids"
	"github.com/corralhq/corral/internal/model"
	"github.com/corralhq/corral/internal/volume"
)

// HostOptions parameterizes CreateHost.
type HostOptions struct {
	Image      string
	Tags       map[string]string
	BuildArgs  map[string]string
	StartArgs  []string
	Lifecycle  string
	KnownHosts []string
}

// HostResources reports a host's current resource usage, when the
// backend can observe it.
type HostResources struct {
	CPUPercent float64
	MemoryMB   int64
	DiskMB     int64
}

// SnapshotSurface is implemented by backends whose capability bit
// SupportsSnapshots() is true.
type SnapshotSurface interface {
	CreateSnapshot(ctx context.Context, hostID ids.HostId) (*model.SnapshotRef, error)
	ListSnapshots(ctx context.Context, hostID ids.HostId) ([]model.SnapshotRef, error)
	DeleteSnapshot(ctx context.Context, hostID ids.HostId, snapshotID string) error
}

// HostVolume returns the root Volume for a host (rooted the same place
// host.Interface.HostDir names), implemented by backends whose
// capability bit SupportsVolumes() is true. store.AgentStore takes this
// root Volume as is; store.ThreadStore takes one the caller has scoped
// into agents/<AgentId>.
type HostVolume interface {
	GetHostVolume(hostID ids.HostId) (volume.Volume, error)
}

// Backend is the full interface a provider instance implements (spec
// §4.5). Each Backend is bound to one configured instance name (e.g. the
// "ssh" backend type bound to the instance name "production-cluster").
type Backend interface {
	// Name is the compiled-in backend type, e.g. ids.BackendDocker.
	Name() ids.ProviderBackendName

	ListHosts(ctx context.Context, includeDestroyed bool) ([]*model.HostRecord, error)
	GetHost(ctx context.Context, ref string) (*model.HostRecord, error)
	CreateHost(ctx context.Context, name ids.HostName, opts HostOptions) (*model.HostRecord, error)
	StopHost(ctx context.Context, id ids.HostId) error
	StartHost(ctx context.Context, id ids.HostId) error
	DestroyHost(ctx context.Context, id ids.HostId) error
	RenameHost(ctx context.Context, id ids.HostId, newName ids.HostName) error

	GetHostResources(ctx context.Context, id ids.HostId) (*HostResources, error)

	GetHostTags(ctx context.Context, id ids.HostId) (map[string]string, error)
	AddTagsToHost(ctx context.Context, id ids.HostId, tags map[string]string) error
	RemoveTagsFromHost(ctx context.Context, id ids.HostId, keys []string) error
	SetHostTags(ctx context.Context, id ids.HostId, tags map[string]string) error

	// OnConnectionError is invoked by the engine when a connector
	// operation against this host fails unexpectedly (spec §4.5), giving
	// the backend a chance to mark the host offline or attempt recovery.
	OnConnectionError(ctx context.Context, id ids.HostId) error

	// Online returns a live connector for a RUNNING host, or an error if
	// it cannot currently be reached.
	Online(ctx context.Context, id ids.HostId) (host.Interface, error)

	SupportsSnapshots() bool
	SupportsShutdownHosts() bool
	SupportsVolumes() bool
	SupportsMutableTags() bool
}

// Closeable is implemented by backends holding resources that need
// cleanup at shutdown (e.g. a Docker SDK client connection).
type Closeable interface {
	Close() error
}
