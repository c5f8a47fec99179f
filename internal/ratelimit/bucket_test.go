package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquire_ImmediateWhileBucketsFull(t *testing.T) {
	b := NewDualBucket(60, 6000)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 10; i++ {
		require.NoError(t, b.Acquire(ctx, 1, 100))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond,
		"acquires within capacity must not sleep")
}

func TestAcquire_WaitsWhenRequestBucketEmpty(t *testing.T) {
	b := NewDualBucket(60, 0)
	var slept []time.Duration
	b.sleepFn = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		// Simulate the passage of time instead of sleeping.
		b.mu.Lock()
		b.last = b.last.Add(-d)
		b.mu.Unlock()
		return nil
	}

	require.NoError(t, b.Acquire(context.Background(), 60, 0))
	require.NoError(t, b.Acquire(context.Background(), 1, 0))
	require.NotEmpty(t, slept)
	// One request refills in a second at 60/min; sleeps stay within the
	// 50ms..2s clamp.
	for _, d := range slept {
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, 2*time.Second)
	}
}

func TestAcquire_TokenBucketGatesToo(t *testing.T) {
	b := NewDualBucket(1000, 600)
	calls := 0
	b.sleepFn = func(ctx context.Context, d time.Duration) error {
		calls++
		b.mu.Lock()
		b.last = b.last.Add(-d)
		b.mu.Unlock()
		return nil
	}

	require.NoError(t, b.Acquire(context.Background(), 1, 600))
	require.NoError(t, b.Acquire(context.Background(), 1, 300))
	assert.Greater(t, calls, 0, "token debt must force a wait")
}

func TestAcquire_CancelInterruptsWait(t *testing.T) {
	b := NewDualBucket(1, 0)
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, b.Acquire(ctx, 1, 0))
	cancel()
	err := b.Acquire(ctx, 1, 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBackoff_GrowsAndStaysBounded(t *testing.T) {
	for attempt := 0; attempt < 12; attempt++ {
		d := Backoff(attempt)
		assert.GreaterOrEqual(t, d, 250*time.Millisecond)
		assert.LessOrEqual(t, d, 20*time.Second)
	}
	// Early attempts are strictly shorter than the cap window.
	assert.Less(t, Backoff(0), time.Second)
}
