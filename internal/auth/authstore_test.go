package auth_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corralhq/corral/internal/auth"
	"github.com/corralhq/corral/internal/ids"
)

func TestValidateAndConsumeCodeSucceedsOnce(t *testing.T) {
	s := auth.New(t.TempDir(), nil)
	ctx := context.Background()
	agentID := ids.NewAgentId()

	require.NoError(t, s.AddOneTimeCode(ctx, agentID, "abc123"))

	ok, err := s.ValidateAndConsumeCode(ctx, agentID, "abc123")
	require.NoError(t, err)
	assert.True(t, ok)

	// A used code cannot be consumed again.
	ok, err = s.ValidateAndConsumeCode(ctx, agentID, "abc123")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCodeDoesNotAuthenticateADifferentAgent(t *testing.T) {
	s := auth.New(t.TempDir(), nil)
	ctx := context.Background()
	owner := ids.NewAgentId()
	other := ids.NewAgentId()

	require.NoError(t, s.AddOneTimeCode(ctx, owner, "xyz789"))

	ok, err := s.ValidateAndConsumeCode(ctx, other, "xyz789")
	require.NoError(t, err)
	assert.False(t, ok, "a code bound to one agent must never authenticate another")

	ok, err = s.ValidateAndConsumeCode(ctx, owner, "xyz789")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestUnknownCodeIsRejected(t *testing.T) {
	s := auth.New(t.TempDir(), nil)
	ok, err := s.ValidateAndConsumeCode(context.Background(), ids.NewAgentId(), "nonexistent")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRevokeCodeInvalidatesOutstandingCodes(t *testing.T) {
	s := auth.New(t.TempDir(), nil)
	ctx := context.Background()
	agentID := ids.NewAgentId()
	require.NoError(t, s.AddOneTimeCode(ctx, agentID, "code1"))

	require.NoError(t, s.RevokeCode(ctx, agentID))

	ok, err := s.ValidateAndConsumeCode(ctx, agentID, "code1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListAgentIDsWithValidCodesExcludesUsedAndRevoked(t *testing.T) {
	s := auth.New(t.TempDir(), nil)
	ctx := context.Background()
	valid := ids.NewAgentId()
	used := ids.NewAgentId()

	require.NoError(t, s.AddOneTimeCode(ctx, valid, "v1"))
	require.NoError(t, s.AddOneTimeCode(ctx, used, "u1"))
	_, err := s.ValidateAndConsumeCode(ctx, used, "u1")
	require.NoError(t, err)

	list := s.ListAgentIDsWithValidCodes(ctx)
	assert.Contains(t, list, valid)
	assert.NotContains(t, list, used)
}

func TestGetSigningKeyGeneratesAndPersists(t *testing.T) {
	dir := t.TempDir()
	s := auth.New(dir, nil)

	key1, err := s.GetSigningKey()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(key1), 64)

	key2, err := s.GetSigningKey()
	require.NoError(t, err)
	assert.Equal(t, key1, key2, "the key must be stable across calls")

	info, err := os.Stat(filepath.Join(dir, "signing_key"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestGetSigningKeyRejectsEmptyFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "signing_key"), nil, 0o600))

	s := auth.New(dir, nil)
	_, err := s.GetSigningKey()
	assert.Error(t, err)
}
