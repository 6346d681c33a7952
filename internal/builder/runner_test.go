package builder

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunnerCapturesOutput(t *testing.T) {
	r := NewRunner(0)

	out, err := r.Run(context.Background(), "run-1", t.TempDir(), "echo hello", nil, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", out)
}

func TestRunnerPassesEnvironment(t *testing.T) {
	r := NewRunner(0)

	out, err := r.Run(context.Background(), "run-1", t.TempDir(), "env", []string{"NODE_ENV=production"}, 5*time.Second)
	require.NoError(t, err)
	assert.Contains(t, out, "NODE_ENV=production")
}

func TestRunnerReportsFailure(t *testing.T) {
	r := NewRunner(0)

	out, err := r.Run(context.Background(), "run-1", t.TempDir(), "false", nil, 5*time.Second)
	require.Error(t, err)
	assert.Empty(t, out)

	var cmdErr *BuildCommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, "false", cmdErr.Command)
	assert.False(t, cmdErr.TimedOut)
}

func TestRunnerEmptyCommand(t *testing.T) {
	r := NewRunner(0)

	_, err := r.Run(context.Background(), "run-1", t.TempDir(), "   ", nil, time.Second)
	assert.Error(t, err)
}

func TestRunnerTimeout(t *testing.T) {
	r := NewRunner(0)

	start := time.Now()
	_, err := r.Run(context.Background(), "run-1", t.TempDir(), "sleep 30", nil, 200*time.Millisecond)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)

	var cmdErr *BuildCommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.True(t, cmdErr.TimedOut)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRunnerOutputCap(t *testing.T) {
	r := NewRunner(64)

	out, err := r.Run(context.Background(), "run-1", t.TempDir(), "yes", nil, 5*time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, errOutputLimit)
	assert.LessOrEqual(t, len(out), 64)
}

func TestRunnerKill(t *testing.T) {
	r := NewRunner(0)

	done := make(chan error, 1)
	go func() {
		_, err := r.Run(context.Background(), "run-1", t.TempDir(), "sleep 30", nil, time.Minute)
		done <- err
	}()

	// Wait for the process to be tracked.
	deadline := time.Now().Add(5 * time.Second)
	for {
		r.mu.Lock()
		_, tracked := r.procs["run-1"]
		r.mu.Unlock()
		if tracked {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("process never tracked")
		}
		time.Sleep(10 * time.Millisecond)
	}

	assert.True(t, r.Kill("run-1"))

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after kill")
	}

	assert.False(t, r.Kill("run-1"))
}

func TestRunnerCancelledContext(t *testing.T) {
	r := NewRunner(0)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	_, err := r.Run(ctx, "run-1", t.TempDir(), "sleep 30", nil, time.Minute)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestCappedBufferRejectsAfterOverflow(t *testing.T) {
	buf := &cappedBuffer{max: 8}

	n, err := buf.Write([]byte("0123456789"))
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.True(t, buf.exceeded)
	assert.Equal(t, "01234567", buf.String())

	_, err = buf.Write([]byte("more"))
	assert.ErrorIs(t, err, errOutputLimit)
	assert.False(t, strings.Contains(buf.String(), "more"))
}
