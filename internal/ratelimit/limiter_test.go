package ratelimit

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquire_UnknownProviderPassesThrough(t *testing.T) {
	l := New(map[string]BucketSpec{})

	pos, err := l.Acquire(context.Background(), "anthropic")
	require.NoError(t, err)
	assert.Equal(t, 0, pos)

	pos, err = l.Acquire(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 0, pos)
}

func TestAcquire_BlocksAtRateCeiling(t *testing.T) {
	// 600 rpm = one token every 100ms, burst 1. Three acquires must take at
	// least two refill intervals.
	l := New(map[string]BucketSpec{
		"anthropic": {RequestsPerMinute: 600, Burst: 1},
	})

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := l.Acquire(context.Background(), "anthropic")
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 180*time.Millisecond)
}

func TestAcquire_ConcurrentCallersRespectCeiling(t *testing.T) {
	// 600 rpm = one token every 100ms, burst 1. Ten goroutines racing for the
	// same bucket still admit at most burst + elapsed/interval acquires.
	l := New(map[string]BucketSpec{
		"anthropic": {RequestsPerMinute: 600, Burst: 1},
	})

	const callers = 10
	start := time.Now()
	var wg sync.WaitGroup
	elapsed := make([]time.Duration, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := l.Acquire(context.Background(), "anthropic")
			assert.NoError(t, err)
			elapsed[i] = time.Since(start)
		}(i)
	}
	wg.Wait()

	// All ten together need at least nine refill intervals after the burst.
	assert.GreaterOrEqual(t, time.Since(start), 9*100*time.Millisecond)

	// At no point did admissions run ahead of the refill schedule: the k-th
	// admission (after the burst token) cannot land before (k-1) intervals.
	sort.Slice(elapsed, func(a, b int) bool { return elapsed[a] < elapsed[b] })
	for k, d := range elapsed[1:] {
		assert.GreaterOrEqual(t, d, time.Duration(k)*100*time.Millisecond,
			"admission %d ran ahead of the bucket rate", k+2)
	}
}

func TestAcquire_ContextCancelled(t *testing.T) {
	l := New(map[string]BucketSpec{
		"anthropic": {RequestsPerMinute: 1, Burst: 1},
	})

	// Drain the single burst token so the next acquire must wait ~1 minute.
	_, err := l.Acquire(context.Background(), "anthropic")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, "anthropic")
	assert.Error(t, err)
	assert.Equal(t, 0, l.Waiting("anthropic"))
}

func TestWaiting_CountsBlockedCallers(t *testing.T) {
	l := New(map[string]BucketSpec{
		"anthropic": {RequestsPerMinute: 1, Burst: 1},
	})
	_, err := l.Acquire(context.Background(), "anthropic")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Acquire(ctx, "anthropic") //nolint:errcheck
		}()
	}

	assert.Eventually(t, func() bool {
		return l.Waiting("anthropic") == 3
	}, time.Second, 10*time.Millisecond)

	cancel()
	wg.Wait()
	assert.Equal(t, 0, l.Waiting("anthropic"))
}

func TestSetLimit_RaisesCeiling(t *testing.T) {
	l := New(map[string]BucketSpec{
		"ocr": {RequestsPerMinute: 1, Burst: 1},
	})
	_, err := l.Acquire(context.Background(), "ocr")
	require.NoError(t, err)

	// With a much higher rate the next acquire should complete quickly.
	l.SetLimit("ocr", BucketSpec{RequestsPerMinute: 60000, Burst: 10})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = l.Acquire(ctx, "ocr")
	assert.NoError(t, err)
}

func TestSetLimit_CreatesBucket(t *testing.T) {
	l := New(nil)
	l.SetLimit("embeddings", BucketSpec{RequestsPerMinute: 600, Burst: 2})

	_, err := l.Acquire(context.Background(), "embeddings")
	assert.NoError(t, err)
}
