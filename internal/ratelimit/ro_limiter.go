// Package ratelimit provides the token-per-minute limiter shared by every LLM call site.
// This file provides reactive throttling using samber/ro.
//
// Reactive throttling is an ALTERNATIVE entry point to Manager.ConsumeTokens, not a
// separate limiter: items draw from the same named buckets as synchronous callers.
//
// When to use reactive throttling:
//   - Batch pipelines emitting many LLM requests
//   - Fan-out workflows where each item carries its own token estimate
//
// When to use Manager/quota.Limiter directly:
//   - Single request/response call sites
package ratelimit

import (
	"context"

	"github.com/samber/ro"
)

// CostFunc returns the token cost of an item.
type CostFunc[T any] func(T) float64

// ThrottleConfig holds configuration for reactive throttling.
type ThrottleConfig struct {
	// Key is the bucket key, e.g. "anthropic-input".
	Key string

	// TokensPerMinute is used only if the bucket does not exist yet.
	TokensPerMinute float64

	// Wait blocks each item until its tokens are available (backpressure).
	// When false, items that do not fit are dropped from the stream.
	Wait bool
}

// Throttle returns an operator that charges each item's cost against the manager's
// bucket before emitting it.
//
// With cfg.Wait the operator applies backpressure: an item is held for at most one
// refill wait, then emitted. Without it, items that do not fit are dropped.
// Items are also dropped if the bucket cannot be created or ctx ends a wait.
//
// Example:
//
//	limited := ro.Pipe1(
//	    prompts,
//	    ratelimit.Throttle(ctx, manager, ratelimit.ThrottleConfig{
//	        Key: "anthropic-input", TokensPerMinute: 40000, Wait: true,
//	    }, func(p Prompt) float64 { return p.EstimatedTokens }),
//	)
func Throttle[T any](
	ctx context.Context,
	manager *Manager,
	cfg ThrottleConfig,
	cost CostFunc[T],
) func(ro.Observable[T]) ro.Observable[T] {
	return ro.Filter[T](func(item T) bool {
		allowed, err := manager.ConsumeTokensContext(ctx, cfg.Key, cost(item), cfg.TokensPerMinute, cfg.Wait)
		return allowed && err == nil
	})
}

// ThrottleSlice is a convenience wrapper applying Throttle to a slice and collecting
// the admitted items in order.
func ThrottleSlice[T any](
	ctx context.Context,
	manager *Manager,
	cfg ThrottleConfig,
	items []T,
	cost CostFunc[T],
) ([]T, error) {
	return ro.Collect(ro.Pipe1(ro.FromSlice(items), Throttle(ctx, manager, cfg, cost)))
}
