// Package ratelimit provides the token-per-minute limiter shared by every LLM call site.
//
// The package has two layers:
//   - TokenBucket: a single thread-safe bucket with continuous refill and atomic consume
//   - Manager: a registry owning exactly one bucket per string key ("anthropic-input")
//
// Buckets only ever answer "may I proceed". Callers that pass wait=false and get false
// back own their retry/backoff loop.
//
// Basic usage:
//
//	manager := ratelimit.NewManager()
//
//	// Block once if needed, then proceed
//	manager.ConsumeTokens("anthropic-input", 1200, 40000, true)
//
//	// Non-blocking check
//	if !manager.ConsumeTokens("google-output", 800, 12000, false) {
//		return errRetryLater
//	}
package ratelimit

import (
	"context"
	"errors"
	"time"
)

// Common errors returned by buckets and the manager.
var (
	// ErrInvalidRate is returned when tokens per minute is not a positive, finite number.
	ErrInvalidRate = errors.New("ratelimit: tokens per minute must be positive")

	// ErrInvalidCapacity is returned when max capacity is not a positive, finite number.
	ErrInvalidCapacity = errors.New("ratelimit: max capacity must be positive")

	// ErrInvalidInitialTokens is returned when the seed balance is outside [0, max capacity].
	ErrInvalidInitialTokens = errors.New("ratelimit: initial tokens out of range")

	// ErrContextCancelled is returned when the context ends a blocking wait.
	ErrContextCancelled = errors.New("ratelimit: context canceled")

	// ErrMaxWaitExceeded is returned when the required wait is longer than the configured maximum.
	ErrMaxWaitExceeded = errors.New("ratelimit: required wait exceeds max wait")

	// ErrInvalidTokens is returned for a request of +Inf tokens, which no refill can cover.
	ErrInvalidTokens = errors.New("ratelimit: token amount must be finite")
)

// Snapshot is a point-in-time view of a bucket.
type Snapshot struct {
	// TokensPerMinute is the nominal refill rate.
	TokensPerMinute float64 `json:"tokens_per_minute"`

	// MaxCapacity is the upper bound on stored tokens.
	MaxCapacity float64 `json:"max_capacity"`

	// RefillRate is TokensPerMinute expressed per second.
	RefillRate float64 `json:"refill_rate"`

	// Available is the balance as of the snapshot, including pending refill.
	Available float64 `json:"available"`

	// Used is MaxCapacity - Available.
	Used float64 `json:"used"`
}

// Outcome describes how a single consume call was resolved.
type Outcome struct {
	// Requested is the token amount asked for.
	Requested float64 `json:"requested"`

	// Granted is the amount actually deducted. It is below Requested when the call
	// drained the bucket, and zero for denied or empty requests.
	Granted float64 `json:"granted"`

	// Waited is how long the call slept before resolving (zero if it did not wait).
	Waited time.Duration `json:"waited"`

	// Allowed reports whether the caller may proceed.
	Allowed bool `json:"allowed"`

	// Drained is true when the call waited, still found the balance short,
	// and was admitted by draining the bucket to zero.
	Drained bool `json:"drained"`
}

// Limiter is the consumption contract shared by buckets.
// All implementations must be safe for concurrent use.
type Limiter interface {
	// Consume deducts tokens if available. With wait=true it blocks at most once
	// for the computed deficit and always returns true.
	Consume(tokens float64, wait bool) bool

	// ConsumeContext behaves like Consume but the wait honors ctx.
	// Returns false and an error wrapping ErrContextCancelled if ctx ends the wait.
	ConsumeContext(ctx context.Context, tokens float64, wait bool) (bool, error)

	// Snapshot returns the current state without consuming anything.
	Snapshot() Snapshot
}

var _ Limiter = (*TokenBucket)(nil)
