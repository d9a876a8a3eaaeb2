package concurrency

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunToCompletionCapturesOutput(t *testing.T) {
	res, err := RunToCompletion(context.Background(), nil, ProcessSpec{
		Command: []string{"/bin/sh", "-c", "echo hello; echo oops 1>&2; exit 0"},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ReturnCode)
	assert.Contains(t, res.Stdout, "hello")
	assert.Contains(t, res.Stderr, "oops")
}

func TestRunToCompletionReturnsNonZeroExitCode(t *testing.T) {
	res, err := RunToCompletion(context.Background(), nil, ProcessSpec{
		Command: []string{"/bin/sh", "-c", "exit 7"},
	})
	require.NoError(t, err)
	assert.Equal(t, 7, res.ReturnCode)
}

func TestRunToCompletionSetupErrorOnMissingBinary(t *testing.T) {
	_, err := RunToCompletion(context.Background(), nil, ProcessSpec{
		Command: []string{"/no/such/binary-xyz"},
	})
	require.Error(t, err)
	var setupErr *ProcessSetupError
	assert.ErrorAs(t, err, &setupErr)
}

func TestRunToCompletionStreamsLinesLive(t *testing.T) {
	var lines []OutputLine
	_, err := RunToCompletion(context.Background(), nil, ProcessSpec{
		Command: []string{"/bin/sh", "-c", "echo one; echo two 1>&2"},
		OnOutput: func(line string, isStdout bool) {
			lines = append(lines, OutputLine{Line: line, IsStdout: isStdout})
		},
	})
	require.NoError(t, err)
	require.Len(t, lines, 2)
}

func TestRunInBackgroundWaitReturnsExitCode(t *testing.T) {
	bp, err := RunInBackground(context.Background(), nil, ProcessSpec{
		Command: []string{"/bin/sh", "-c", "sleep 0.05; exit 3"},
	})
	require.NoError(t, err)
	res, _ := bp.Wait()
	assert.Equal(t, 3, res.ReturnCode)
}

func TestRunInBackgroundPollBeforeExit(t *testing.T) {
	bp, err := RunInBackground(context.Background(), nil, ProcessSpec{
		Command: []string{"/bin/sh", "-c", "sleep 0.2"},
	})
	require.NoError(t, err)
	_, done := bp.Poll()
	assert.False(t, done)
	bp.Wait()
}

func TestGroupCloseTerminatesSpawnedProcess(t *testing.T) {
	g := New(context.Background(), nil)
	bp, err := g.RunProcessInBackground(ProcessSpec{Command: []string{"/bin/sh", "-c", "sleep 30"}})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		g.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("group close did not complete in time")
	}

	_, exited := bp.Poll()
	assert.True(t, exited)
	assert.True(t, g.ShutdownEvent().IsSet())
}
