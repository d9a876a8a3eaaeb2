package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corralhq/corral/internal/ids"
	"github.com/corralhq/corral/internal/volume"
)

func TestNameCacheRefreshAndComplete(t *testing.T) {
	agentStore := NewAgentStore(volume.NewLocal(t.TempDir()), nil)
	hostStore := NewHostStore(volume.NewLocal(t.TempDir()), nil)
	ctx := context.Background()

	require.NoError(t, agentStore.WriteAgent(ctx, sampleAgent(ids.NewAgentId(), "dev-1")))
	require.NoError(t, agentStore.WriteAgent(ctx, sampleAgent(ids.NewAgentId(), "dev-2")))
	require.NoError(t, agentStore.WriteAgent(ctx, sampleAgent(ids.NewAgentId(), "prod-1")))
	require.NoError(t, hostStore.WriteHost(ctx, sampleHost(ids.NewHostId(), "laptop")))

	cache := NewNameCache()
	assert.Zero(t, cache.Age())

	cache.Refresh(ctx, agentStore, hostStore)

	assert.ElementsMatch(t, []string{"dev-1", "dev-2"}, cache.CompleteAgentName("dev-"))
	assert.ElementsMatch(t, []string{"dev-1", "dev-2", "prod-1"}, cache.CompleteAgentName(""))
	assert.Equal(t, []string{"laptop"}, cache.CompleteHostName("lap"))
	assert.Empty(t, cache.CompleteAgentName("nope"))
	assert.True(t, cache.Age() >= 0)
}

func TestNameCacheRefreshWithNilHostStore(t *testing.T) {
	agentStore := NewAgentStore(volume.NewLocal(t.TempDir()), nil)
	cache := NewNameCache()
	cache.Refresh(context.Background(), agentStore, nil)
	assert.Empty(t, cache.CompleteHostName(""))
}
