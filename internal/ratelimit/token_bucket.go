package ratelimit

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/samber/mo"
)

// TokenBucket is a single rate-limited token balance.
//
// Tokens refill continuously at TokensPerMinute/60 per second up to MaxCapacity.
// Balances are real numbers, so fractional tokens accumulate between calls.
//
// Thread safety: all methods are safe for concurrent use. Each bucket has its own
// mutex and no method ever holds it while sleeping.
type TokenBucket struct {
	clock           Clock
	tokensPerMinute float64
	refillRate      float64 // tokens per second
	maxCapacity     float64
	maxWait         time.Duration

	mu         sync.Mutex // Protects tokens and lastRefill
	tokens     float64
	lastRefill time.Time
}

type bucketConfig struct {
	clock         Clock
	maxCapacity   mo.Option[float64]
	initialTokens mo.Option[float64]
	maxWait       time.Duration
}

// BucketOption configures a TokenBucket.
type BucketOption func(*bucketConfig)

// WithMaxCapacity sets the upper bound on stored tokens.
// Defaults to tokens per minute.
func WithMaxCapacity(capacity float64) BucketOption {
	return func(c *bucketConfig) {
		c.maxCapacity = mo.Some(capacity)
	}
}

// WithInitialTokens seeds the bucket balance. Defaults to max capacity (full bucket).
func WithInitialTokens(tokens float64) BucketOption {
	return func(c *bucketConfig) {
		c.initialTokens = mo.Some(tokens)
	}
}

// WithClock sets the time source. Defaults to SystemClock.
func WithClock(clock Clock) BucketOption {
	return func(c *bucketConfig) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithMaxWait bounds the single wait a blocking consume may perform.
// A consume whose computed wait is longer returns false with ErrMaxWaitExceeded
// instead of sleeping. Zero or negative means unbounded.
func WithMaxWait(d time.Duration) BucketOption {
	return func(c *bucketConfig) {
		c.maxWait = d
	}
}

// NewTokenBucket creates a bucket refilling at tokensPerMinute.
//
// The bucket starts full unless WithInitialTokens is given. Construction fails with
// ErrInvalidRate when tokensPerMinute is not positive and finite, since such a bucket
// would never refill.
func NewTokenBucket(tokensPerMinute float64, opts ...BucketOption) (*TokenBucket, error) {
	if !isPositiveFinite(tokensPerMinute) {
		return nil, fmt.Errorf("%w (got %v)", ErrInvalidRate, tokensPerMinute)
	}

	cfg := bucketConfig{clock: SystemClock()}
	for _, opt := range opts {
		opt(&cfg)
	}

	maxCapacity := cfg.maxCapacity.OrElse(tokensPerMinute)
	if !isPositiveFinite(maxCapacity) {
		return nil, fmt.Errorf("%w (got %v)", ErrInvalidCapacity, maxCapacity)
	}

	initial := cfg.initialTokens.OrElse(maxCapacity)
	if math.IsNaN(initial) || initial < 0 || initial > maxCapacity {
		return nil, fmt.Errorf("%w (got %v, max %v)", ErrInvalidInitialTokens, initial, maxCapacity)
	}

	return &TokenBucket{
		clock:           cfg.clock,
		tokensPerMinute: tokensPerMinute,
		refillRate:      tokensPerMinute / 60.0,
		maxCapacity:     maxCapacity,
		maxWait:         cfg.maxWait,
		tokens:          initial,
		lastRefill:      cfg.clock.Now(),
	}, nil
}

// Consume deducts tokens from the bucket.
//
// With wait=false it returns true and deducts iff the refilled balance covers the
// request; otherwise it returns false and leaves the balance untouched.
//
// With wait=true a short balance triggers exactly one sleep of deficit/refill-rate.
// After waking, the request is deducted if covered; if timing slack left it short,
// the bucket is drained to zero and the call still returns true. A caller is never
// asked to wait twice.
//
// The wait cannot be cancelled; use ConsumeContext for that.
func (b *TokenBucket) Consume(tokens float64, wait bool) bool {
	allowed, _ := b.ConsumeContext(context.Background(), tokens, wait)
	return allowed
}

// ConsumeContext is Consume with a cancellable wait.
// If ctx ends the wait, nothing is deducted and the returned error wraps both
// ErrContextCancelled and ctx.Err().
func (b *TokenBucket) ConsumeContext(ctx context.Context, tokens float64, wait bool) (bool, error) {
	out, err := b.Acquire(ctx, tokens, wait)
	return out.Allowed, err
}

// Acquire is the detailed form of ConsumeContext, reporting how the call resolved.
// Non-positive (or NaN) amounts consume nothing and are always allowed. A +Inf amount
// is denied with ErrInvalidTokens without waiting.
func (b *TokenBucket) Acquire(ctx context.Context, tokens float64, wait bool) (Outcome, error) {
	out := Outcome{Requested: tokens}

	b.mu.Lock()
	b.refillLocked()

	if !(tokens > 0) {
		b.mu.Unlock()
		out.Allowed = true
		return out, nil
	}
	if math.IsInf(tokens, 1) {
		b.mu.Unlock()
		return out, fmt.Errorf("%w (got %v)", ErrInvalidTokens, tokens)
	}

	if b.tokens >= tokens {
		b.tokens -= tokens
		b.mu.Unlock()
		out.Allowed = true
		out.Granted = tokens
		return out, nil
	}

	if !wait {
		b.mu.Unlock()
		return out, nil
	}

	waitFor := b.waitDurationLocked(tokens)
	b.mu.Unlock()

	if b.maxWait > 0 && waitFor > b.maxWait {
		return out, fmt.Errorf("%w (need %s, max %s)", ErrMaxWaitExceeded, waitFor, b.maxWait)
	}

	start := b.clock.Now()
	err := b.clock.Sleep(ctx, waitFor)
	out.Waited = b.clock.Now().Sub(start)
	if err != nil {
		return out, fmt.Errorf("%w: %w", ErrContextCancelled, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()
	if b.tokens >= tokens {
		b.tokens -= tokens
		out.Granted = tokens
	} else {
		out.Granted = b.tokens
		b.tokens = 0
		out.Drained = true
	}
	out.Allowed = true
	return out, nil
}

// Snapshot returns the bucket state including pending refill, without mutating it.
func (b *TokenBucket) Snapshot() Snapshot {
	b.mu.Lock()
	available := b.availableLocked(b.clock.Now())
	b.mu.Unlock()

	return Snapshot{
		TokensPerMinute: b.tokensPerMinute,
		MaxCapacity:     b.maxCapacity,
		RefillRate:      b.refillRate,
		Available:       available,
		Used:            b.maxCapacity - available,
	}
}

// Available returns the current balance including pending refill.
func (b *TokenBucket) Available() float64 {
	return b.Snapshot().Available
}

// TokensPerMinute returns the nominal refill rate.
func (b *TokenBucket) TokensPerMinute() float64 {
	return b.tokensPerMinute
}

// MaxCapacity returns the upper bound on stored tokens.
func (b *TokenBucket) MaxCapacity() float64 {
	return b.maxCapacity
}

// RefillRate returns the refill rate in tokens per second.
func (b *TokenBucket) RefillRate() float64 {
	return b.refillRate
}

// refillLocked credits elapsed time and moves lastRefill forward.
// Never decreases the balance. Must be called with mu held.
func (b *TokenBucket) refillLocked() {
	now := b.clock.Now()
	if now.After(b.lastRefill) {
		b.tokens = b.availableLocked(now)
		b.lastRefill = now
	}
}

// availableLocked computes the refilled balance at now. Must be called with mu held.
func (b *TokenBucket) availableLocked(now time.Time) float64 {
	elapsed := now.Sub(b.lastRefill)
	if elapsed <= 0 {
		return b.tokens
	}
	return math.Min(b.maxCapacity, b.tokens+elapsed.Seconds()*b.refillRate)
}

// waitDurationLocked returns how long until the deficit for tokens is refilled.
// Must be called with mu held.
func (b *TokenBucket) waitDurationLocked(tokens float64) time.Duration {
	deficit := tokens - b.tokens
	nanos := math.Ceil(deficit / b.refillRate * float64(time.Second))
	if nanos >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(nanos)
}

func isPositiveFinite(v float64) bool {
	return v > 0 && !math.IsInf(v, 1)
}
