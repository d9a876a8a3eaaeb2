package engine_test

import (
	"context"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corralhq/corral/internal/backendresolver"
	"github.com/corralhq/corral/internal/common/logger"
	"github.com/corralhq/corral/internal/concurrency"
	"github.com/corralhq/corral/internal/engine"
	"github.com/corralhq/corral/internal/ids"
	"github.com/corralhq/corral/internal/provider"
	"github.com/corralhq/corral/internal/provider/local"
)

func requireTmux(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("tmux"); err != nil {
		t.Skip("tmux not installed")
	}
}

func newTestEngine(t *testing.T) (*engine.Engine, ids.ProviderInstanceName) {
	t.Helper()
	requireTmux(t)
	group := concurrency.New(context.Background(), nil)
	t.Cleanup(func() { _ = group.Close() })

	backend := local.New(t.TempDir(), group, nil)
	registry := provider.NewRegistry(nil)
	registry.Register("default", backend)

	return engine.New(registry, group, logger.Default(), "corral-test-", nil), "default"
}

func TestCreateStartsSessionAndPersistsAgentRecord(t *testing.T) {
	e, instance := newTestEngine(t)
	ctx := context.Background()

	result, err := e.Create(ctx, engine.HostTarget{ProviderInstance: instance}, engine.CreateOptions{
		Name:    ids.AgentName("alpha"),
		Type:    "shell",
		Command: []string{"sleep", "30"},
	})
	require.NoError(t, err)
	assert.Equal(t, ids.AgentName("alpha"), result.Agent.Name)
	assert.NotEmpty(t, result.Agent.Id)
}

func TestCreateStopDestroyRoundTrip(t *testing.T) {
	e, instance := newTestEngine(t)
	ctx := context.Background()

	created, err := e.Create(ctx, engine.HostTarget{ProviderInstance: instance}, engine.CreateOptions{
		Name:    ids.AgentName("bravo"),
		Command: []string{"sleep", "30"},
	})
	require.NoError(t, err)

	stopped, err := e.Stop(ctx, instance, string(created.Agent.Id))
	require.NoError(t, err)
	assert.Equal(t, "STOPPED", string(stopped.State))

	resolver := backendresolver.New(t.TempDir(), nil)
	require.NoError(t, resolver.RegisterBackend(ctx, created.Agent.Id, "http://localhost:9000/"))

	require.NoError(t, e.Destroy(ctx, instance, string(created.Agent.Id), resolver))

	_, ok := resolver.GetBackendURL(ctx, created.Agent.Id)
	assert.False(t, ok, "destroy must deregister the backend URL")

	_, err = e.Stop(ctx, instance, string(created.Agent.Id))
	assert.Error(t, err, "the agent record should no longer resolve after destroy")
}

func TestRenameIsIdempotentAcrossRepeatedCalls(t *testing.T) {
	e, instance := newTestEngine(t)
	ctx := context.Background()

	created, err := e.Create(ctx, engine.HostTarget{ProviderInstance: instance}, engine.CreateOptions{
		Name:    ids.AgentName("charlie"),
		Command: []string{"sleep", "30"},
	})
	require.NoError(t, err)

	renamed, err := e.Rename(ctx, instance, string(created.Agent.Id), ids.AgentName("charlie-renamed"))
	require.NoError(t, err)
	assert.Equal(t, ids.AgentName("charlie-renamed"), renamed.Name)

	// Calling Rename again with the same target name must be a no-op, not
	// an error, even though the tmux session has already been renamed.
	again, err := e.Rename(ctx, instance, string(created.Agent.Id), ids.AgentName("charlie-renamed"))
	require.NoError(t, err)
	assert.Equal(t, ids.AgentName("charlie-renamed"), again.Name)
}
