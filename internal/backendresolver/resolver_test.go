package backendresolver_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corralhq/corral/internal/backendresolver"
)

func TestRegisterAndGetBackendURL(t *testing.T) {
	r := backendresolver.New(t.TempDir(), nil)
	ctx := context.Background()

	require.NoError(t, r.RegisterBackend(ctx, "agent-a", "http://localhost:9001/"))

	url, ok := r.GetBackendURL(ctx, "agent-a")
	require.True(t, ok)
	assert.Equal(t, "http://localhost:9001/", url)
}

func TestGetBackendURLUnknownAgent(t *testing.T) {
	r := backendresolver.New(t.TempDir(), nil)
	_, ok := r.GetBackendURL(context.Background(), "agent-missing")
	assert.False(t, ok)
}

func TestDeregisterBackendRemovesEntry(t *testing.T) {
	r := backendresolver.New(t.TempDir(), nil)
	ctx := context.Background()
	require.NoError(t, r.RegisterBackend(ctx, "agent-a", "http://localhost:9001/"))
	require.NoError(t, r.DeregisterBackend(ctx, "agent-a"))

	_, ok := r.GetBackendURL(ctx, "agent-a")
	assert.False(t, ok)
}

func TestListKnownAgentIDsSorted(t *testing.T) {
	r := backendresolver.New(t.TempDir(), nil)
	ctx := context.Background()
	require.NoError(t, r.RegisterBackend(ctx, "agent-b", "http://b/"))
	require.NoError(t, r.RegisterBackend(ctx, "agent-a", "http://a/"))

	ids := r.ListKnownAgentIDs(ctx)
	require.Len(t, ids, 2)
	assert.Equal(t, "agent-a", string(ids[0]))
	assert.Equal(t, "agent-b", string(ids[1]))
}

func TestCorruptBackendsFileYieldsEmptyView(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "backends.json"), []byte("{not json"), 0o644))

	r := backendresolver.New(dir, nil)
	assert.Empty(t, r.ListKnownAgentIDs(context.Background()))
}

func TestRegisterBackendIsIdempotent(t *testing.T) {
	r := backendresolver.New(t.TempDir(), nil)
	ctx := context.Background()
	require.NoError(t, r.RegisterBackend(ctx, "agent-a", "http://a/"))
	require.NoError(t, r.RegisterBackend(ctx, "agent-a", "http://a/"))

	ids := r.ListKnownAgentIDs(ctx)
	assert.Len(t, ids, 1)
}
