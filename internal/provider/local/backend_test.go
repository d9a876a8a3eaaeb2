package local_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corralhq/corral/internal/concurrency"
	"github.com/corralhq/corral/internal/model"
	"github.com/corralhq/corral/internal/provider"
	"github.com/corralhq/corral/internal/provider/local"
)

func newTestBackend(t *testing.T) *local.Backend {
	t.Helper()
	group := concurrency.New(context.Background(), nil)
	t.Cleanup(func() { _ = group.Close() })
	return local.New(t.TempDir(), group, nil)
}

func TestLocalBackendHasExactlyOneAlwaysRunningHost(t *testing.T) {
	backend := newTestBackend(t)
	ctx := context.Background()

	hosts, err := backend.ListHosts(ctx, false)
	require.NoError(t, err)
	require.Len(t, hosts, 1)
	assert.Equal(t, model.HostRunning, hosts[0].State)
	assert.EqualValues(t, "local", hosts[0].Name)
}

func TestLocalBackendListHostsIsStableAcrossCalls(t *testing.T) {
	backend := newTestBackend(t)
	ctx := context.Background()

	first, err := backend.ListHosts(ctx, false)
	require.NoError(t, err)
	second, err := backend.ListHosts(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, first[0].Id, second[0].Id)
}

func TestLocalBackendStopStartDestroyRenameAreRejected(t *testing.T) {
	backend := newTestBackend(t)
	ctx := context.Background()
	hosts, err := backend.ListHosts(ctx, false)
	require.NoError(t, err)
	id := hosts[0].Id

	assert.Error(t, backend.StopHost(ctx, id))
	assert.Error(t, backend.DestroyHost(ctx, id))
	assert.Error(t, backend.RenameHost(ctx, id, "new-name"))
	assert.NoError(t, backend.StartHost(ctx, id))
}

func TestLocalBackendCreateHostRejectsDifferentName(t *testing.T) {
	backend := newTestBackend(t)
	ctx := context.Background()

	_, err := backend.CreateHost(ctx, "some-other-name", provider.HostOptions{})
	assert.Error(t, err)

	record, err := backend.CreateHost(ctx, "local", provider.HostOptions{})
	require.NoError(t, err)
	assert.EqualValues(t, "local", record.Name)
}

func TestLocalBackendTagMutation(t *testing.T) {
	backend := newTestBackend(t)
	ctx := context.Background()
	hosts, err := backend.ListHosts(ctx, false)
	require.NoError(t, err)
	id := hosts[0].Id

	require.NoError(t, backend.AddTagsToHost(ctx, id, map[string]string{"env": "dev"}))
	tags, err := backend.GetHostTags(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "dev", tags["env"])

	require.NoError(t, backend.RemoveTagsFromHost(ctx, id, []string{"env"}))
	tags, err = backend.GetHostTags(ctx, id)
	require.NoError(t, err)
	assert.NotContains(t, tags, "env")
}

func TestLocalBackendCapabilityBits(t *testing.T) {
	backend := newTestBackend(t)
	assert.False(t, backend.SupportsSnapshots())
	assert.False(t, backend.SupportsShutdownHosts())
	assert.True(t, backend.SupportsVolumes())
	assert.True(t, backend.SupportsMutableTags())
}

func TestLocalBackendOnlineReturnsLocalHost(t *testing.T) {
	backend := newTestBackend(t)
	ctx := context.Background()
	hosts, err := backend.ListHosts(ctx, false)
	require.NoError(t, err)

	conn, err := backend.Online(ctx, hosts[0].Id)
	require.NoError(t, err)
	assert.True(t, conn.IsLocal())
}
