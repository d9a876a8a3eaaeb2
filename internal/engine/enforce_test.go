package engine_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corralhq/corral/internal/common/logger"
	"github.com/corralhq/corral/internal/engine"
	"github.com/corralhq/corral/internal/host"
	"github.com/corralhq/corral/internal/ids"
	"github.com/corralhq/corral/internal/model"
	"github.com/corralhq/corral/internal/provider"
	"github.com/corralhq/corral/internal/store"
	"github.com/corralhq/corral/internal/volume"
)

// fakeIdleBackend is a minimal provider.Backend + provider.HostVolume
// stand-in for exercising Enforce's idle-sweep logic without a real
// provider.
type fakeIdleBackend struct {
	name  ids.ProviderBackendName
	hosts []*model.HostRecord
	vols  map[ids.HostId]volume.Volume

	stopped   []ids.HostId
	destroyed []ids.HostId
}

func (f *fakeIdleBackend) Name() ids.ProviderBackendName { return f.name }
func (f *fakeIdleBackend) ListHosts(context.Context, bool) ([]*model.HostRecord, error) {
	return f.hosts, nil
}
func (f *fakeIdleBackend) GetHost(context.Context, string) (*model.HostRecord, error) { return nil, nil }
func (f *fakeIdleBackend) CreateHost(context.Context, ids.HostName, provider.HostOptions) (*model.HostRecord, error) {
	return nil, nil
}
func (f *fakeIdleBackend) StopHost(_ context.Context, id ids.HostId) error {
	f.stopped = append(f.stopped, id)
	return nil
}
func (f *fakeIdleBackend) StartHost(context.Context, ids.HostId) error { return nil }
func (f *fakeIdleBackend) DestroyHost(_ context.Context, id ids.HostId) error {
	f.destroyed = append(f.destroyed, id)
	return nil
}
func (f *fakeIdleBackend) RenameHost(context.Context, ids.HostId, ids.HostName) error { return nil }
func (f *fakeIdleBackend) GetHostResources(context.Context, ids.HostId) (*provider.HostResources, error) {
	return &provider.HostResources{}, nil
}
func (f *fakeIdleBackend) GetHostTags(context.Context, ids.HostId) (map[string]string, error) {
	return nil, nil
}
func (f *fakeIdleBackend) AddTagsToHost(context.Context, ids.HostId, map[string]string) error { return nil }
func (f *fakeIdleBackend) RemoveTagsFromHost(context.Context, ids.HostId, []string) error     { return nil }
func (f *fakeIdleBackend) SetHostTags(context.Context, ids.HostId, map[string]string) error   { return nil }
func (f *fakeIdleBackend) OnConnectionError(context.Context, ids.HostId) error         { return nil }
func (f *fakeIdleBackend) Online(context.Context, ids.HostId) (host.Interface, error) { return nil, nil }
func (f *fakeIdleBackend) SupportsSnapshots() bool                                     { return false }
func (f *fakeIdleBackend) SupportsShutdownHosts() bool                                 { return true }
func (f *fakeIdleBackend) SupportsVolumes() bool                                       { return true }
func (f *fakeIdleBackend) SupportsMutableTags() bool                                   { return false }
func (f *fakeIdleBackend) GetHostVolume(id ids.HostId) (volume.Volume, error) {
	return f.vols[id], nil
}

func seedIdleAgent(t *testing.T, vol volume.Volume, activityAge time.Duration) ids.AgentId {
	t.Helper()
	ctx := context.Background()
	agentStore := store.NewAgentStore(vol, nil)
	id := ids.NewAgentId()
	require.NoError(t, agentStore.WriteAgent(ctx, &model.AgentRecord{
		Id:         id,
		Name:       ids.AgentName("agent-" + string(id)),
		CreateTime: time.Now().Add(-activityAge),
		State:      model.AgentRunning,
	}))
	return id
}

// touchActivity sets the activity/ssh marker's mtime to simulate an
// attach session that was last active `age` ago.
func touchActivity(t *testing.T, baseDir string, id ids.AgentId, age time.Duration) {
	t.Helper()
	p := filepath.Join(baseDir, store.ActivityPath(id))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte{}, 0o644))
	mtime := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(p, mtime, mtime))
}

func TestEnforceDryRunReportsIdleViolationWithoutStopping(t *testing.T) {
	dir := t.TempDir()
	vol := volume.NewLocal(dir)
	hostID := ids.NewHostId()
	agentID := seedIdleAgent(t, vol, 10*time.Second)
	touchActivity(t, dir, agentID, 10*time.Second)

	backend := &fakeIdleBackend{
		name:  ids.BackendSSH,
		hosts: []*model.HostRecord{{Id: hostID, State: model.HostRunning}},
		vols:  map[ids.HostId]volume.Volume{hostID: vol},
	}
	registry := provider.NewRegistry(nil)
	registry.Register("prod", backend)

	e := engine.New(registry, nil, logger.Default(), "", nil)
	result := e.Enforce(context.Background(), engine.EnforceOptions{
		Providers: []ids.ProviderInstanceName{"prod"},
		CheckIdle: true,
		Timeouts:  engine.Timeouts{Idle: 1 * time.Second},
		DryRun:    true,
	})

	assert.Equal(t, 1, result.HostsChecked)
	assert.Equal(t, 1, result.IdleViolations)
	require.Len(t, result.Actions, 1)
	assert.Equal(t, "stop_host", result.Actions[0].Kind)
	assert.Empty(t, backend.stopped, "dry run must not mutate state")
}

func TestEnforceStopsIdleHostWhenNotDryRun(t *testing.T) {
	dir := t.TempDir()
	vol := volume.NewLocal(dir)
	hostID := ids.NewHostId()
	agentID := seedIdleAgent(t, vol, time.Minute)
	touchActivity(t, dir, agentID, time.Minute)

	backend := &fakeIdleBackend{
		name:  ids.BackendSSH,
		hosts: []*model.HostRecord{{Id: hostID, State: model.HostRunning}},
		vols:  map[ids.HostId]volume.Volume{hostID: vol},
	}
	registry := provider.NewRegistry(nil)
	registry.Register("prod", backend)

	e := engine.New(registry, nil, logger.Default(), "", nil)
	result := e.Enforce(context.Background(), engine.EnforceOptions{
		Providers: []ids.ProviderInstanceName{"prod"},
		CheckIdle: true,
		Timeouts:  engine.Timeouts{Idle: 5 * time.Second},
		DryRun:    false,
	})

	assert.Equal(t, 1, result.IdleViolations)
	assert.Equal(t, []ids.HostId{hostID}, backend.stopped)
}

func TestEnforceSkipsHostWellBelowIdleTimeout(t *testing.T) {
	dir := t.TempDir()
	vol := volume.NewLocal(dir)
	hostID := ids.NewHostId()
	agentID := seedIdleAgent(t, vol, time.Second)
	touchActivity(t, dir, agentID, time.Second)

	backend := &fakeIdleBackend{
		name:  ids.BackendSSH,
		hosts: []*model.HostRecord{{Id: hostID, State: model.HostRunning}},
		vols:  map[ids.HostId]volume.Volume{hostID: vol},
	}
	registry := provider.NewRegistry(nil)
	registry.Register("prod", backend)

	e := engine.New(registry, nil, logger.Default(), "", nil)
	result := e.Enforce(context.Background(), engine.EnforceOptions{
		Providers: []ids.ProviderInstanceName{"prod"},
		CheckIdle: true,
		Timeouts:  engine.Timeouts{Idle: time.Hour},
	})

	assert.Equal(t, 0, result.IdleViolations)
	assert.Empty(t, backend.stopped)
}

func TestEnforceSkipsLocalBackendForIdleChecks(t *testing.T) {
	backend := &fakeIdleBackend{name: ids.BackendLocal, hosts: []*model.HostRecord{{Id: ids.NewHostId(), State: model.HostRunning}}}
	registry := provider.NewRegistry(nil)
	registry.Register("default", backend)

	e := engine.New(registry, nil, logger.Default(), "", nil)
	result := e.Enforce(context.Background(), engine.EnforceOptions{
		Providers: []ids.ProviderInstanceName{"default"},
		CheckIdle: true,
		Timeouts:  engine.Timeouts{Idle: time.Millisecond},
	})

	assert.Equal(t, 0, result.HostsChecked)
	assert.Equal(t, 0, result.IdleViolations)
}
