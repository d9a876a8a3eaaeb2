package facade_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/corralhq/corral/internal/facade"
	"github.com/corralhq/corral/internal/ids"
)

func TestNewBuildsDefaultLocalBackendWhenNoProvidersConfigured(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(configPath, []byte(`default_host_dir = "`+filepath.Join(dir, "hostdir")+`"`+"\n"), 0o644))

	f, err := facade.New(configPath)
	require.NoError(t, err)
	defer f.Close()

	names := f.Registry.List()
	require.Len(t, names, 1)
	require.Equal(t, "default", string(names[0]))
}

func TestIssueLoginCodeIsSingleUse(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(configPath, []byte(`default_host_dir = "`+filepath.Join(dir, "hostdir")+`"`+"\n"), 0o644))

	f, err := facade.New(configPath)
	require.NoError(t, err)
	defer f.Close()

	ctx := context.Background()
	agentID := ids.AgentId("agent-test")
	path, err := f.IssueLoginCode(ctx, agentID, "codeXYZ")
	require.NoError(t, err)
	require.Equal(t, "/login/agent-test/codeXYZ", path)

	ok, err := f.AuthStore.ValidateAndConsumeCode(ctx, agentID, "codeXYZ")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = f.AuthStore.ValidateAndConsumeCode(ctx, agentID, "codeXYZ")
	require.NoError(t, err)
	require.False(t, ok)
}
