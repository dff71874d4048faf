package ratelimit

import (
	"context"
	"sync"
	"time"
)

// StoredTokens returns the balance as of the last refill, without crediting
// elapsed time (for testing).
func (b *TokenBucket) StoredTokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tokens
}

// MaxWait returns the configured max wait (for testing).
func (b *TokenBucket) MaxWait() time.Duration {
	return b.maxWait
}

// manualClock is a deterministic Clock. Sleep advances time instantly.
type manualClock struct {
	now       time.Time
	duringFn  func()
	sleeps    []time.Duration
	shortfall time.Duration
	mu        sync.Mutex
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Sleep records d, runs the optional during hook (with no bucket lock held),
// then advances time by d minus the configured shortfall.
func (c *manualClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	during := c.duringFn
	shortfall := c.shortfall
	c.mu.Unlock()

	if during != nil {
		during()
	}

	c.Advance(d - shortfall)
	return nil
}

func (c *manualClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.sleeps))
	copy(out, c.sleeps)
	return out
}

func (c *manualClock) OnSleep(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.duringFn = fn
}

func (c *manualClock) SetShortfall(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shortfall = d
}

// recordingObserver captures manager events.
type recordingObserver struct {
	created  map[string]Snapshot
	outcomes map[string][]Outcome
	errs     []error
	mu       sync.Mutex
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{
		created:  make(map[string]Snapshot),
		outcomes: make(map[string][]Outcome),
	}
}

func (o *recordingObserver) OnBucketCreated(key string, snapshot Snapshot) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.created[key] = snapshot
}

func (o *recordingObserver) OnConsume(key string, outcome Outcome, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes[key] = append(o.outcomes[key], outcome)
	if err != nil {
		o.errs = append(o.errs, err)
	}
}
