package quota

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/omarluq/tpmguard/internal/ratelimit"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"github.com/samber/mo"
)

// ErrUnknownQuota is returned for a provider/direction pair with no quota row.
var ErrUnknownQuota = errors.New("quota: unknown provider/direction")

type consumeOptions struct {
	rpm  mo.Option[float64]
	wait bool
}

// ConsumeOption adjusts a single consume call.
type ConsumeOption func(*consumeOptions)

// WithRPM passes a requests-per-minute hint. Values <= 0 are treated as no hint.
func WithRPM(rpm float64) ConsumeOption {
	return func(o *consumeOptions) {
		o.rpm = mo.Some(rpm)
	}
}

// WithoutWait makes the call return false instead of waiting for a refill.
func WithoutWait() ConsumeOption {
	return func(o *consumeOptions) {
		o.wait = false
	}
}

func resolveOptions(opts []ConsumeOption) consumeOptions {
	o := consumeOptions{rpm: mo.None[float64](), wait: true}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Limiter is the provider-facing entry point. It resolves a provider/direction pair
// to its quota row, computes the effective ceiling and charges the named bucket on
// the wrapped manager.
//
// The quota table can be swapped at runtime with SetQuotas. Buckets already created
// keep the ceiling they were created with.
type Limiter struct {
	manager *ratelimit.Manager
	table   atomic.Pointer[map[string]Quota]
}

// NewLimiter creates a Limiter over manager using the default quotas, with overrides
// replacing rows of the same key and adding new providers.
// Every override must pass Quota.Validate.
func NewLimiter(manager *ratelimit.Manager, overrides ...Quota) (*Limiter, error) {
	table, err := buildTable(overrides)
	if err != nil {
		return nil, err
	}
	l := &Limiter{manager: manager}
	l.table.Store(table)
	return l, nil
}

func buildTable(overrides []Quota) (*map[string]Quota, error) {
	table := lo.KeyBy(DefaultQuotas(), Quota.Key)
	for i, q := range overrides {
		if err := q.Validate(); err != nil {
			return nil, fmt.Errorf("override %d: %w", i, err)
		}
		table[q.Key()] = q
	}
	return &table, nil
}

// Manager returns the underlying bucket registry.
func (l *Limiter) Manager() *ratelimit.Manager {
	return l.manager
}

// ConsumeAnthropicInputTokens charges the anthropic-input bucket.
// Waits by default; see WithoutWait and WithRPM.
func (l *Limiter) ConsumeAnthropicInputTokens(tokens float64, opts ...ConsumeOption) bool {
	return l.consume(Anthropic, Input, tokens, opts)
}

// ConsumeAnthropicOutputTokens charges the anthropic-output bucket.
func (l *Limiter) ConsumeAnthropicOutputTokens(tokens float64, opts ...ConsumeOption) bool {
	return l.consume(Anthropic, Output, tokens, opts)
}

// ConsumeGoogleInputTokens charges the google-input bucket.
func (l *Limiter) ConsumeGoogleInputTokens(tokens float64, opts ...ConsumeOption) bool {
	return l.consume(Google, Input, tokens, opts)
}

// ConsumeGoogleOutputTokens charges the google-output bucket.
func (l *Limiter) ConsumeGoogleOutputTokens(tokens float64, opts ...ConsumeOption) bool {
	return l.consume(Google, Output, tokens, opts)
}

func (l *Limiter) consume(p Provider, d Direction, tokens float64, opts []ConsumeOption) bool {
	allowed, err := l.Consume(context.Background(), p, d, tokens, opts...)
	if err != nil {
		log.Error().
			Err(err).
			Str("key", Key(p, d)).
			Float64("tokens", tokens).
			Msg("quota consume failed")
	}
	return allowed
}

// Consume charges tokens against the bucket for p and d.
// Returns ErrUnknownQuota when no row exists for the pair; other errors come from
// the bucket (cancellation, max wait).
func (l *Limiter) Consume(
	ctx context.Context,
	p Provider,
	d Direction,
	tokens float64,
	opts ...ConsumeOption,
) (bool, error) {
	q, ok := l.Quota(p, d).Get()
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownQuota, Key(p, d))
	}

	o := resolveOptions(opts)
	return l.manager.ConsumeTokensContext(ctx, q.Key(), tokens, q.EffectiveTPM(o.rpm), o.wait)
}

// EffectiveTPM returns the ceiling a first call for p and d would create its bucket with.
func (l *Limiter) EffectiveTPM(p Provider, d Direction, rpm mo.Option[float64]) (float64, error) {
	q, ok := l.Quota(p, d).Get()
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownQuota, Key(p, d))
	}
	return q.EffectiveTPM(rpm), nil
}

// Quota returns the row for p and d.
func (l *Limiter) Quota(p Provider, d Direction) mo.Option[Quota] {
	q, ok := (*l.table.Load())[Key(p, d)]
	if !ok {
		return mo.None[Quota]()
	}
	return mo.Some(q)
}

// Quotas returns every row, sorted by key.
func (l *Limiter) Quotas() []Quota {
	quotas := lo.Values(*l.table.Load())
	sort.Slice(quotas, func(i, j int) bool {
		return quotas[i].Key() < quotas[j].Key()
	})
	return quotas
}

// SetQuotas rebuilds the table from the defaults plus overrides and swaps it in.
// An invalid override leaves the current table in place.
//
// It returns the keys whose row changed while a bucket for it already exists; those
// buckets keep the ceiling they were created with.
func (l *Limiter) SetQuotas(overrides ...Quota) ([]string, error) {
	table, err := buildTable(overrides)
	if err != nil {
		return nil, err
	}
	prev := *l.table.Swap(table)

	stale := lo.Filter(lo.Keys(*table), func(key string, _ int) bool {
		if old, ok := prev[key]; ok && old == (*table)[key] {
			return false
		}
		return l.manager.Lookup(key).IsPresent()
	})
	sort.Strings(stale)
	return stale, nil
}
