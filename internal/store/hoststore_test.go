package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corralhq/corral/internal/common/errors"
	"github.com/corralhq/corral/internal/ids"
	"github.com/corralhq/corral/internal/model"
	"github.com/corralhq/corral/internal/volume"
)

func newTestHostStore(t *testing.T) *HostStore {
	t.Helper()
	return NewHostStore(volume.NewLocal(t.TempDir()), nil)
}

func sampleHost(id ids.HostId, name ids.HostName) *model.HostRecord {
	return &model.HostRecord{Id: id, Name: name, State: model.HostRunning}
}

func TestWriteReadHostRoundtrip(t *testing.T) {
	s := newTestHostStore(t)
	ctx := context.Background()
	id := ids.NewHostId()
	require.NoError(t, s.WriteHost(ctx, sampleHost(id, "laptop")))

	got, err := s.ReadHost(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, ids.HostName("laptop"), got.Name)
}

func TestListHostsExcludesDestroyedByDefault(t *testing.T) {
	s := newTestHostStore(t)
	ctx := context.Background()

	live := ids.NewHostId()
	require.NoError(t, s.WriteHost(ctx, sampleHost(live, "laptop")))

	dead := ids.NewHostId()
	deadRecord := sampleHost(dead, "old-box")
	deadRecord.State = model.HostDestroyed
	require.NoError(t, s.WriteHost(ctx, deadRecord))

	visible := s.ListHosts(ctx, false)
	require.Len(t, visible, 1)
	assert.Equal(t, live, visible[0].Id)

	all := s.ListHosts(ctx, true)
	assert.Len(t, all, 2)
}

func TestResolveHostByNameOrIDAmbiguous(t *testing.T) {
	s := newTestHostStore(t)
	ctx := context.Background()
	require.NoError(t, s.WriteHost(ctx, sampleHost(ids.NewHostId(), "laptop")))
	require.NoError(t, s.WriteHost(ctx, sampleHost(ids.NewHostId(), "laptop")))

	_, err := s.ResolveHostByNameOrID(ctx, "laptop")
	assert.True(t, errors.Is(err, errors.CodeUserInput))
}

func TestWriteHostPluginDataRoundtripsThroughYAMLSidecar(t *testing.T) {
	s := newTestHostStore(t)
	ctx := context.Background()
	id := ids.NewHostId()
	record := sampleHost(id, "sandbox-1")
	record.PluginData = map[string]any{"image": "ubuntu:22.04", "region": "iad"}
	require.NoError(t, s.WriteHost(ctx, record))

	got, err := s.ReadHost(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "ubuntu:22.04", got.PluginData["image"])
	assert.Equal(t, "iad", got.PluginData["region"])
}

func TestReadHostPreferHandEditedPluginDataSidecar(t *testing.T) {
	s := newTestHostStore(t)
	ctx := context.Background()
	id := ids.NewHostId()
	record := sampleHost(id, "sandbox-1")
	record.PluginData = map[string]any{"image": "ubuntu:22.04"}
	require.NoError(t, s.WriteHost(ctx, record))

	require.NoError(t, s.vol.WriteFiles(ctx, map[string][]byte{
		pluginDataPath(id): []byte("image: ubuntu:24.04\n"),
	}))

	got, err := s.ReadHost(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "ubuntu:24.04", got.PluginData["image"])
}

func TestDeleteHost(t *testing.T) {
	s := newTestHostStore(t)
	ctx := context.Background()
	id := ids.NewHostId()
	require.NoError(t, s.WriteHost(ctx, sampleHost(id, "laptop")))
	require.NoError(t, s.DeleteHost(ctx, id))
	_, err := s.ReadHost(ctx, id)
	assert.Error(t, err)
}
