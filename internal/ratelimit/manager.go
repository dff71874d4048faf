package ratelimit

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"github.com/samber/mo"
	"golang.org/x/time/rate"
)

// denialLogInterval throttles "bucket exhausted" warnings per manager.
const denialLogInterval = 5 * time.Second

// Observer receives manager events. Implementations must be safe for concurrent use
// and must not block; they run on the caller's goroutine.
type Observer interface {
	// OnBucketCreated is called once per key, right after the bucket is registered.
	OnBucketCreated(key string, snapshot Snapshot)

	// OnConsume is called after every consume call routed through the manager.
	OnConsume(key string, outcome Outcome, err error)
}

type noopObserver struct{}

func (noopObserver) OnBucketCreated(string, Snapshot) {}
func (noopObserver) OnConsume(string, Outcome, error) {}

// KeyedSnapshot pairs a bucket snapshot with its registry key.
type KeyedSnapshot struct {
	Key string `json:"key"`
	Snapshot
}

// Manager owns at most one TokenBucket per key for its whole lifetime.
//
// Buckets are created lazily on first use; later requests for the same key get the
// existing bucket and their tokens-per-minute argument is ignored (first writer wins).
// The registry lock only guards lookup-or-insert and is never held while a bucket
// refills, consumes or sleeps.
//
// Thread safety: all methods are safe for concurrent use.
type Manager struct {
	clock     Clock
	observer  Observer
	logger    *zerolog.Logger
	buckets   map[string]*TokenBucket
	denialLog rate.Sometimes
	maxWait   time.Duration
	mu        sync.Mutex // Protects buckets
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithManagerClock sets the clock handed to every bucket the manager creates.
func WithManagerClock(clock Clock) ManagerOption {
	return func(m *Manager) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// WithObserver registers an observer for bucket creation and consume events.
func WithObserver(observer Observer) ManagerOption {
	return func(m *Manager) {
		if observer != nil {
			m.observer = observer
		}
	}
}

// WithDefaultMaxWait applies WithMaxWait to every bucket the manager creates.
func WithDefaultMaxWait(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.maxWait = d
	}
}

// WithLogger sets the logger. Defaults to the global zerolog logger.
func WithLogger(logger *zerolog.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager creates an empty registry.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		clock:     SystemClock(),
		observer:  noopObserver{},
		logger:    &log.Logger,
		buckets:   make(map[string]*TokenBucket),
		denialLog: rate.Sometimes{Interval: denialLogInterval},
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// GetBucket returns the bucket for key, creating it with tokensPerMinute if absent.
//
// For an existing key the bucket is returned unchanged and tokensPerMinute is ignored,
// even if it would be invalid. Concurrent first use of a key creates exactly one bucket.
// A construction error leaves the registry untouched.
func (m *Manager) GetBucket(key string, tokensPerMinute float64) (*TokenBucket, error) {
	m.mu.Lock()

	if bucket, ok := m.buckets[key]; ok {
		m.mu.Unlock()
		return bucket, nil
	}

	bucket, err := NewTokenBucket(tokensPerMinute, WithClock(m.clock), WithMaxWait(m.maxWait))
	if err != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("ratelimit: create bucket %q: %w", key, err)
	}
	m.buckets[key] = bucket
	m.mu.Unlock()

	snapshot := bucket.Snapshot()
	m.observer.OnBucketCreated(key, snapshot)

	m.logger.Debug().
		Str("key", key).
		Float64("tokens_per_minute", snapshot.TokensPerMinute).
		Float64("max_capacity", snapshot.MaxCapacity).
		Msg("created token bucket")

	return bucket, nil
}

// ConsumeTokens is GetBucket(key, tokensPerMinute).Consume(tokens, wait).
// A bucket that cannot be created (invalid tokensPerMinute on first use) yields false.
func (m *Manager) ConsumeTokens(key string, tokens, tokensPerMinute float64, wait bool) bool {
	allowed, err := m.ConsumeTokensContext(context.Background(), key, tokens, tokensPerMinute, wait)
	if err != nil {
		m.logger.Error().
			Err(err).
			Str("key", key).
			Float64("tokens", tokens).
			Msg("token consumption failed")
	}
	return allowed
}

// ConsumeTokensContext is ConsumeTokens with a cancellable wait.
func (m *Manager) ConsumeTokensContext(
	ctx context.Context,
	key string,
	tokens, tokensPerMinute float64,
	wait bool,
) (bool, error) {
	bucket, err := m.GetBucket(key, tokensPerMinute)
	if err != nil {
		return false, err
	}

	out, err := bucket.Acquire(ctx, tokens, wait)
	m.observer.OnConsume(key, out, err)
	m.logOutcome(key, bucket, out)

	return out.Allowed, err
}

func (m *Manager) logOutcome(key string, bucket *TokenBucket, out Outcome) {
	switch {
	case !out.Allowed:
		m.denialLog.Do(func() {
			m.logger.Warn().
				Str("key", key).
				Float64("requested", out.Requested).
				Float64("available", bucket.Available()).
				Msg("token bucket exhausted, caller must retry")
		})
	case out.Drained:
		m.logger.Debug().
			Str("key", key).
			Float64("requested", out.Requested).
			Dur("waited", out.Waited).
			Msg("token bucket drained after wait")
	case out.Waited > 0:
		m.logger.Debug().
			Str("key", key).
			Float64("requested", out.Requested).
			Dur("waited", out.Waited).
			Msg("waited for token refill")
	}
}

// Lookup returns the bucket for key if it has been created.
func (m *Manager) Lookup(key string) mo.Option[*TokenBucket] {
	m.mu.Lock()
	defer m.mu.Unlock()

	bucket, ok := m.buckets[key]
	if !ok {
		return mo.None[*TokenBucket]()
	}
	return mo.Some(bucket)
}

// Keys returns the registered keys in sorted order.
func (m *Manager) Keys() []string {
	m.mu.Lock()
	keys := lo.Keys(m.buckets)
	m.mu.Unlock()

	sort.Strings(keys)
	return keys
}

// Len returns the number of registered buckets.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buckets)
}

// Snapshots returns a snapshot of every bucket, sorted by key.
// Bucket locks are taken one at a time after the registry lock is released.
func (m *Manager) Snapshots() []KeyedSnapshot {
	m.mu.Lock()
	entries := lo.Entries(m.buckets)
	m.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Key < entries[j].Key
	})

	return lo.Map(entries, func(e lo.Entry[string, *TokenBucket], _ int) KeyedSnapshot {
		return KeyedSnapshot{Key: e.Key, Snapshot: e.Value.Snapshot()}
	})
}
