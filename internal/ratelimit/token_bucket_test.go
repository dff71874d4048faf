package ratelimit

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tokenDelta = 1e-6

func TestNewTokenBucket(t *testing.T) {
	t.Parallel()

	tests := []struct {
		wantErr     error
		name        string
		opts        []BucketOption
		tpm         float64
		wantCap     float64
		wantTokens  float64
		wantRefillS float64
	}{
		{
			name:        "defaults start full",
			tpm:         1200,
			wantCap:     1200,
			wantTokens:  1200,
			wantRefillS: 20,
		},
		{
			name:        "explicit capacity",
			tpm:         600,
			opts:        []BucketOption{WithMaxCapacity(100)},
			wantCap:     100,
			wantTokens:  100,
			wantRefillS: 10,
		},
		{
			name:        "explicit initial tokens",
			tpm:         1200,
			opts:        []BucketOption{WithInitialTokens(30)},
			wantCap:     1200,
			wantTokens:  30,
			wantRefillS: 20,
		},
		{
			name:        "empty bucket",
			tpm:         60,
			opts:        []BucketOption{WithInitialTokens(0)},
			wantCap:     60,
			wantTokens:  0,
			wantRefillS: 1,
		},
		{name: "zero rate rejected", tpm: 0, wantErr: ErrInvalidRate},
		{name: "negative rate rejected", tpm: -10, wantErr: ErrInvalidRate},
		{name: "NaN rate rejected", tpm: math.NaN(), wantErr: ErrInvalidRate},
		{name: "infinite rate rejected", tpm: math.Inf(1), wantErr: ErrInvalidRate},
		{
			name:    "zero capacity rejected",
			tpm:     100,
			opts:    []BucketOption{WithMaxCapacity(0)},
			wantErr: ErrInvalidCapacity,
		},
		{
			name:    "initial above capacity rejected",
			tpm:     100,
			opts:    []BucketOption{WithInitialTokens(101)},
			wantErr: ErrInvalidInitialTokens,
		},
		{
			name:    "negative initial rejected",
			tpm:     100,
			opts:    []BucketOption{WithInitialTokens(-1)},
			wantErr: ErrInvalidInitialTokens,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			opts := append([]BucketOption{WithClock(newManualClock())}, tt.opts...)
			bucket, err := NewTokenBucket(tt.tpm, opts...)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, bucket)
				return
			}

			require.NoError(t, err)
			assert.InDelta(t, tt.wantCap, bucket.MaxCapacity(), tokenDelta)
			assert.InDelta(t, tt.wantTokens, bucket.StoredTokens(), tokenDelta)
			assert.InDelta(t, tt.wantRefillS, bucket.RefillRate(), tokenDelta)
			assert.InDelta(t, tt.tpm, bucket.TokensPerMinute(), tokenDelta)
		})
	}
}

func TestConsume_NoWait(t *testing.T) {
	t.Parallel()

	clock := newManualClock()
	bucket, err := NewTokenBucket(1200, WithClock(clock))
	require.NoError(t, err)

	t.Run("consumes when balance covers request", func(t *testing.T) {
		assert.True(t, bucket.Consume(500, false))
		assert.InDelta(t, 700, bucket.StoredTokens(), tokenDelta)
	})

	t.Run("denies without partial consumption", func(t *testing.T) {
		assert.False(t, bucket.Consume(800, false))
		assert.InDelta(t, 700, bucket.StoredTokens(), tokenDelta)
	})

	t.Run("never sleeps", func(t *testing.T) {
		assert.Empty(t, clock.Sleeps())
	})
}

func TestConsume_WaitOnce(t *testing.T) {
	t.Parallel()

	clock := newManualClock()
	bucket, err := NewTokenBucket(1200, WithInitialTokens(30), WithClock(clock))
	require.NoError(t, err)

	assert.True(t, bucket.Consume(50, true))

	require.Len(t, clock.Sleeps(), 1)
	assert.Equal(t, time.Second, clock.Sleeps()[0])
	assert.InDelta(t, 0, bucket.StoredTokens(), tokenDelta)
}

func TestConsume_WaitRealClock(t *testing.T) {
	t.Parallel()

	bucket, err := NewTokenBucket(1200, WithInitialTokens(30))
	require.NoError(t, err)

	start := time.Now()
	assert.True(t, bucket.Consume(50, true))
	elapsed := time.Since(start)

	// (50-30)/20 = 1s
	assert.GreaterOrEqual(t, elapsed, 900*time.Millisecond)
	assert.Less(t, elapsed, 3*time.Second)
	assert.GreaterOrEqual(t, bucket.StoredTokens(), 0.0)
	assert.Less(t, bucket.StoredTokens(), 5.0)
}

func TestConsume_DrainsAfterShortWait(t *testing.T) {
	t.Parallel()

	t.Run("timing slack", func(t *testing.T) {
		t.Parallel()

		clock := newManualClock()
		clock.SetShortfall(100 * time.Millisecond)
		bucket, err := NewTokenBucket(60, WithInitialTokens(0), WithClock(clock))
		require.NoError(t, err)

		out, err := bucket.Acquire(context.Background(), 10, true)
		require.NoError(t, err)
		assert.True(t, out.Allowed)
		assert.True(t, out.Drained)
		assert.InDelta(t, 0, bucket.StoredTokens(), tokenDelta)
		assert.Len(t, clock.Sleeps(), 1)
	})

	t.Run("competing consumer during wait", func(t *testing.T) {
		t.Parallel()

		clock := newManualClock()
		bucket, err := NewTokenBucket(60, WithInitialTokens(5), WithClock(clock))
		require.NoError(t, err)

		// Runs while the waiter sleeps; proves the lock is released.
		clock.OnSleep(func() {
			clock.OnSleep(nil)
			assert.True(t, bucket.Consume(5, false))
		})

		out, err := bucket.Acquire(context.Background(), 10, true)
		require.NoError(t, err)
		assert.True(t, out.Allowed)
		assert.True(t, out.Drained)
		assert.Equal(t, 5*time.Second, out.Waited)
		assert.InDelta(t, 0, bucket.StoredTokens(), tokenDelta)
	})

	t.Run("request above capacity", func(t *testing.T) {
		t.Parallel()

		clock := newManualClock()
		bucket, err := NewTokenBucket(60, WithClock(clock))
		require.NoError(t, err)

		out, err := bucket.Acquire(context.Background(), 100, true)
		require.NoError(t, err)
		assert.True(t, out.Allowed)
		assert.True(t, out.Drained)
		assert.Equal(t, []time.Duration{40 * time.Second}, clock.Sleeps())
		assert.InDelta(t, 0, bucket.StoredTokens(), tokenDelta)
		// Only the capped balance was handed out.
		assert.InDelta(t, 60, out.Granted, tokenDelta)
		assert.InDelta(t, 100, out.Requested, tokenDelta)
	})
}

func TestRefill(t *testing.T) {
	t.Parallel()

	t.Run("credits elapsed time", func(t *testing.T) {
		t.Parallel()

		clock := newManualClock()
		bucket, err := NewTokenBucket(1200, WithInitialTokens(100), WithClock(clock))
		require.NoError(t, err)

		clock.Advance(2500 * time.Millisecond)
		assert.InDelta(t, 150, bucket.Available(), tokenDelta)
	})

	t.Run("caps at max capacity", func(t *testing.T) {
		t.Parallel()

		clock := newManualClock()
		bucket, err := NewTokenBucket(1200, WithInitialTokens(1190), WithClock(clock))
		require.NoError(t, err)

		clock.Advance(time.Minute)
		assert.InDelta(t, 1200, bucket.Available(), tokenDelta)
	})

	t.Run("accumulates fractional tokens", func(t *testing.T) {
		t.Parallel()

		clock := newManualClock()
		bucket, err := NewTokenBucket(60, WithInitialTokens(0), WithClock(clock))
		require.NoError(t, err)

		clock.Advance(500 * time.Millisecond)
		assert.False(t, bucket.Consume(1, false))
		assert.InDelta(t, 0.5, bucket.StoredTokens(), tokenDelta)

		clock.Advance(500 * time.Millisecond)
		assert.True(t, bucket.Consume(1, false))
		assert.InDelta(t, 0, bucket.StoredTokens(), tokenDelta)
	})

	t.Run("snapshot does not mutate", func(t *testing.T) {
		t.Parallel()

		clock := newManualClock()
		bucket, err := NewTokenBucket(600, WithInitialTokens(0), WithClock(clock))
		require.NoError(t, err)

		clock.Advance(3 * time.Second)
		snap := bucket.Snapshot()
		assert.InDelta(t, 30, snap.Available, tokenDelta)
		assert.InDelta(t, 570, snap.Used, tokenDelta)
		assert.InDelta(t, 10, snap.RefillRate, tokenDelta)
		assert.InDelta(t, 0, bucket.StoredTokens(), tokenDelta)
	})
}

func TestConsumeContext(t *testing.T) {
	t.Parallel()

	t.Run("canceled context consumes nothing", func(t *testing.T) {
		t.Parallel()

		clock := newManualClock()
		bucket, err := NewTokenBucket(60, WithInitialTokens(5), WithClock(clock))
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		allowed, err := bucket.ConsumeContext(ctx, 10, true)
		assert.False(t, allowed)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrContextCancelled)
		assert.ErrorIs(t, err, context.Canceled)
		assert.InDelta(t, 5, bucket.StoredTokens(), tokenDelta)
	})

	t.Run("deadline interrupts real wait", func(t *testing.T) {
		t.Parallel()

		bucket, err := NewTokenBucket(60, WithInitialTokens(0))
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		start := time.Now()
		allowed, err := bucket.ConsumeContext(ctx, 30, true)
		assert.False(t, allowed)
		assert.True(t, errors.Is(err, context.DeadlineExceeded))
		assert.Less(t, time.Since(start), 5*time.Second)
	})

	t.Run("canceled context ignored when no wait needed", func(t *testing.T) {
		t.Parallel()

		bucket, err := NewTokenBucket(60, WithClock(newManualClock()))
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		allowed, err := bucket.ConsumeContext(ctx, 10, true)
		require.NoError(t, err)
		assert.True(t, allowed)
	})
}

func TestMaxWait(t *testing.T) {
	t.Parallel()

	clock := newManualClock()
	bucket, err := NewTokenBucket(60,
		WithInitialTokens(0),
		WithMaxWait(2*time.Second),
		WithClock(clock),
	)
	require.NoError(t, err)

	t.Run("refuses waits longer than max", func(t *testing.T) {
		allowed, err := bucket.ConsumeContext(context.Background(), 5, true)
		assert.False(t, allowed)
		assert.ErrorIs(t, err, ErrMaxWaitExceeded)
		assert.Empty(t, clock.Sleeps())
		assert.InDelta(t, 0, bucket.StoredTokens(), tokenDelta)
	})

	t.Run("waits within max", func(t *testing.T) {
		allowed, err := bucket.ConsumeContext(context.Background(), 2, true)
		require.NoError(t, err)
		assert.True(t, allowed)
		assert.Equal(t, []time.Duration{2 * time.Second}, clock.Sleeps())
	})
}

func TestConsume_NonPositiveRequest(t *testing.T) {
	t.Parallel()

	bucket, err := NewTokenBucket(100, WithInitialTokens(10), WithClock(newManualClock()))
	require.NoError(t, err)

	for _, tokens := range []float64{0, -5, math.NaN()} {
		out, err := bucket.Acquire(context.Background(), tokens, false)
		require.NoError(t, err)
		assert.True(t, out.Allowed)
		assert.Zero(t, out.Granted)
		assert.InDelta(t, 10, bucket.StoredTokens(), tokenDelta)
	}
}

func TestConsume_InfiniteRequest(t *testing.T) {
	t.Parallel()

	for _, wait := range []bool{false, true} {
		clock := newManualClock()
		bucket, err := NewTokenBucket(100, WithInitialTokens(10), WithClock(clock))
		require.NoError(t, err)

		out, err := bucket.Acquire(context.Background(), math.Inf(1), wait)
		require.ErrorIs(t, err, ErrInvalidTokens)
		assert.False(t, out.Allowed)
		assert.Zero(t, out.Granted)
		assert.Empty(t, clock.Sleeps(), "wait=%v", wait)
		assert.InDelta(t, 10, bucket.StoredTokens(), tokenDelta)
	}
}
