package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corralhq/corral/internal/common/errors"
	"github.com/corralhq/corral/internal/ids"
	"github.com/corralhq/corral/internal/model"
	"github.com/corralhq/corral/internal/volume"
)

func newTestAgentStore(t *testing.T) *AgentStore {
	t.Helper()
	root := t.TempDir()
	return NewAgentStore(volume.NewLocal(root), nil)
}

func sampleAgent(id ids.AgentId, name ids.AgentName) *model.AgentRecord {
	return &model.AgentRecord{
		Id:         id,
		Name:       name,
		Type:       "claude-code",
		Command:    []string{"claude"},
		CreateTime: time.Unix(0, 0).UTC(),
		State:      model.AgentRunning,
	}
}

func TestWriteReadAgentRoundtrip(t *testing.T) {
	s := newTestAgentStore(t)
	ctx := context.Background()
	id := ids.NewAgentId()
	record := sampleAgent(id, "dev-1")

	require.NoError(t, s.WriteAgent(ctx, record))
	got, err := s.ReadAgent(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, record.Name, got.Name)
	assert.Equal(t, record.State, got.State)
}

// TestWriteAgentNeverLeavesPartialContent exercises P1: a reader never
// observes a record mid-write, by rewriting a record many times and
// confirming every interleaved read parses cleanly.
func TestWriteAgentNeverLeavesPartialContent(t *testing.T) {
	s := newTestAgentStore(t)
	ctx := context.Background()
	id := ids.NewAgentId()
	record := sampleAgent(id, "dev-1")
	require.NoError(t, s.WriteAgent(ctx, record))

	for i := 0; i < 25; i++ {
		record.State = model.AgentStopping
		require.NoError(t, s.WriteAgent(ctx, record))
		got, err := s.ReadAgent(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, ids.AgentName("dev-1"), got.Name)
	}
}

func TestReadAgentNotFound(t *testing.T) {
	s := newTestAgentStore(t)
	_, err := s.ReadAgent(context.Background(), ids.NewAgentId())
	assert.True(t, errors.Is(err, errors.CodeNotFound))
}

func TestDeleteAgentRemovesDirectory(t *testing.T) {
	s := newTestAgentStore(t)
	ctx := context.Background()
	id := ids.NewAgentId()
	require.NoError(t, s.WriteAgent(ctx, sampleAgent(id, "dev-1")))
	require.NoError(t, s.DeleteAgent(ctx, id))
	_, err := s.ReadAgent(ctx, id)
	assert.Error(t, err)
}

// TestListAgentsSkipsMalformedRecords exercises P8/S8: a single
// corrupted record must not prevent listing the others.
func TestListAgentsSkipsMalformedRecords(t *testing.T) {
	s := newTestAgentStore(t)
	ctx := context.Background()

	good := ids.NewAgentId()
	require.NoError(t, s.WriteAgent(ctx, sampleAgent(good, "dev-1")))

	bad := ids.NewAgentId()
	lv := s.vol.(*volume.LocalVolume)
	require.NoError(t, lv.WriteFiles(ctx, map[string][]byte{
		filepath.ToSlash(agentDataPath(bad)): []byte("{not valid json"),
	}))

	records := s.ListAgents(ctx)
	require.Len(t, records, 1)
	assert.Equal(t, good, records[0].Id)
}

func TestResolveByNameOrIDByID(t *testing.T) {
	s := newTestAgentStore(t)
	ctx := context.Background()
	id := ids.NewAgentId()
	require.NoError(t, s.WriteAgent(ctx, sampleAgent(id, "dev-1")))

	got, err := s.ResolveByNameOrID(ctx, string(id))
	require.NoError(t, err)
	assert.Equal(t, id, got.Id)
}

func TestResolveByNameOrIDByName(t *testing.T) {
	s := newTestAgentStore(t)
	ctx := context.Background()
	id := ids.NewAgentId()
	require.NoError(t, s.WriteAgent(ctx, sampleAgent(id, "dev-1")))

	got, err := s.ResolveByNameOrID(ctx, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, id, got.Id)
}

func TestResolveByNameOrIDNotFound(t *testing.T) {
	s := newTestAgentStore(t)
	_, err := s.ResolveByNameOrID(context.Background(), "nope")
	assert.True(t, errors.Is(err, errors.CodeNotFound))
}

func TestSignalWriteConsumeIsOneShot(t *testing.T) {
	s := newTestAgentStore(t)
	ctx := context.Background()

	_, ok, err := s.ConsumeSignal(ctx, "dev-1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.WriteSignal(ctx, "dev-1", "stop"))
	action, ok, err := s.ConsumeSignal(ctx, "dev-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "stop", action)

	_, ok, err = s.ConsumeSignal(ctx, "dev-1")
	require.NoError(t, err)
	assert.False(t, ok, "signal must be consumed exactly once")
}

func TestActivityPathShape(t *testing.T) {
	id := ids.NewAgentId()
	assert.Equal(t, "agents/"+string(id)+"/activity/ssh", ActivityPath(id))
}
