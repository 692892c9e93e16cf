package ops

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEpochGate_ResumeBeforeWait(t *testing.T) {
	g := newEpochGate()
	g.resume()

	again, err := g.wait(context.Background())
	require.NoError(t, err)
	assert.True(t, again)
}

func TestEpochGate_ReleaseEndsAllWaits(t *testing.T) {
	g := newEpochGate()
	g.release()
	g.release() // idempotent

	for i := 0; i < 2; i++ {
		again, err := g.wait(context.Background())
		require.NoError(t, err)
		assert.False(t, again)
	}
}

func TestEpochGate_ContextEndsWait(t *testing.T) {
	g := newEpochGate()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := g.wait(ctx)
		done <- err
	}()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("wait did not observe cancellation")
	}
}

func TestEpochGate_ResumeWakesParkedWaiter(t *testing.T) {
	g := newEpochGate()

	done := make(chan bool, 1)
	go func() {
		again, err := g.wait(context.Background())
		require.NoError(t, err)
		done <- again
	}()
	g.resume()

	select {
	case again := <-done:
		assert.True(t, again)
	case <-time.After(time.Second):
		t.Fatal("resume did not wake the waiter")
	}
}
