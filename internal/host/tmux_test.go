package host

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corralhq/corral/internal/concurrency"
	"github.com/corralhq/corral/internal/ids"
)

func requireTmux(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("tmux"); err != nil {
		t.Skip("tmux not installed")
	}
}

func newTestLocalHost(t *testing.T) (*LocalHost, func()) {
	t.Helper()
	requireTmux(t)
	g := concurrency.New(context.Background(), nil)
	h := NewLocalHost(t.TempDir(), g, t.TempDir())
	return h, func() { _ = g.Close() }
}

func testSessionName(t *testing.T) string {
	return "corral-test-" + string(ids.NewAgentId())[:12]
}

func TestStartTmuxSessionAndCapturePane(t *testing.T) {
	h, cleanup := newTestLocalHost(t)
	defer cleanup()
	ctx := context.Background()
	name := testSessionName(t)

	require.NoError(t, h.StartTmuxSession(ctx, name, []string{"cat"}, nil))
	defer h.KillSession(ctx, name)

	exists, err := h.HasSession(ctx, name)
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, h.SendKeys(ctx, name, "hello"))
	deadline := time.Now().Add(5 * time.Second)
	var content string
	for time.Now().Before(deadline) {
		content, _ = h.CapturePane(ctx, name)
		if content != "" {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	assert.Contains(t, content, "hello")
}

func TestStartTmuxSessionRejectsDuplicateName(t *testing.T) {
	h, cleanup := newTestLocalHost(t)
	defer cleanup()
	ctx := context.Background()
	name := testSessionName(t)

	require.NoError(t, h.StartTmuxSession(ctx, name, []string{"cat"}, nil))
	defer h.KillSession(ctx, name)

	err := h.StartTmuxSession(ctx, name, []string{"cat"}, nil)
	assert.Error(t, err)
}

func TestCapturePaneReturnsEmptyForNonexistentSession(t *testing.T) {
	h, cleanup := newTestLocalHost(t)
	defer cleanup()
	content, err := h.CapturePane(context.Background(), testSessionName(t))
	require.NoError(t, err)
	assert.Empty(t, content)
}

func TestRenameSessionIsIdempotent(t *testing.T) {
	h, cleanup := newTestLocalHost(t)
	defer cleanup()
	ctx := context.Background()
	oldName := testSessionName(t)
	newName := testSessionName(t)

	require.NoError(t, h.StartTmuxSession(ctx, oldName, []string{"cat"}, nil))
	defer h.KillSession(ctx, newName)

	require.NoError(t, h.RenameSession(ctx, oldName, newName))
	exists, err := h.HasSession(ctx, newName)
	require.NoError(t, err)
	assert.True(t, exists)

	// Re-running rename after the session already carries the new name
	// must succeed rather than erroring (spec §4.6 idempotent rename).
	require.NoError(t, h.RenameSession(ctx, oldName, newName))
}

func TestKillSessionThenHasSessionIsFalse(t *testing.T) {
	h, cleanup := newTestLocalHost(t)
	defer cleanup()
	ctx := context.Background()
	name := testSessionName(t)

	require.NoError(t, h.StartTmuxSession(ctx, name, []string{"cat"}, nil))
	require.NoError(t, h.KillSession(ctx, name))

	exists, err := h.HasSession(ctx, name)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestWaitForTimesOutWhenNeverSignaled(t *testing.T) {
	h, cleanup := newTestLocalHost(t)
	defer cleanup()
	ok, err := h.WaitFor(context.Background(), "corral-test-never-"+testSessionName(t), 300*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSendKeysToNonexistentSessionFails(t *testing.T) {
	h, cleanup := newTestLocalHost(t)
	defer cleanup()
	err := h.SendKeys(context.Background(), testSessionName(t), "hello")
	var sendErr *TmuxSendError
	assert.ErrorAs(t, err, &sendErr)
}

func TestExecuteCommandReturnsReturnCode(t *testing.T) {
	requireTmux(t)
	g := concurrency.New(context.Background(), nil)
	defer g.Close()
	h := NewLocalHost(t.TempDir(), g, t.TempDir())

	result, err := h.ExecuteCommand(context.Background(), []string{"sh", "-c", "exit 3"}, ExecOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, result.ReturnCode)
	assert.False(t, result.Success)
}
