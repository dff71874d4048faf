// Package quota maps LLM provider quotas onto named token buckets.
//
// Each provider/direction pair has a default tokens-per-minute ceiling and a
// per-request token estimate. A caller that knows its requests-per-minute allowance
// passes it as a hint; the effective ceiling is then the smaller of rpm*estimate and
// the default.
package quota

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/samber/mo"
)

// ErrInvalidQuota is returned for a quota row that cannot back a bucket.
var ErrInvalidQuota = errors.New("quota: invalid quota row")

// Provider names an LLM provider. Any string is accepted so custom providers
// can be added through configuration.
type Provider string

// Direction distinguishes prompt tokens from completion tokens.
type Direction string

// Known providers.
const (
	Anthropic Provider = "anthropic"
	Google    Provider = "google"
)

// Directions.
const (
	Input  Direction = "input"
	Output Direction = "output"
)

// Default ceilings in tokens per minute.
const (
	DefaultAnthropicInputTPM  = 40000
	DefaultAnthropicOutputTPM = 8000
	DefaultGoogleInputTPM     = 60000
	DefaultGoogleOutputTPM    = 12000
)

// Per-request token estimates used with an rpm hint.
const (
	AnthropicInputTokensPerRequest  = 10000
	AnthropicOutputTokensPerRequest = 2000
	GoogleInputTokensPerRequest     = 6000
	GoogleOutputTokensPerRequest    = 2000
)

// Key returns the bucket key for a provider and direction, "<provider>-<direction>".
// The format is stable; other processes and dashboards match on it.
func Key(p Provider, d Direction) string {
	return string(p) + "-" + string(d)
}

// Quota is the limiter row for one provider/direction pair.
type Quota struct {
	Provider         Provider  `json:"provider"`
	Direction        Direction `json:"direction"`
	TokensPerMinute  float64   `json:"tokens_per_minute"`
	TokensPerRequest float64   `json:"tokens_per_request"`
}

// Key returns the bucket key for q.
func (q Quota) Key() string {
	return Key(q.Provider, q.Direction)
}

// Validate reports rows that would create broken buckets: an empty or blank provider
// or direction, or a ceiling or per-request estimate that is not positive and finite.
func (q Quota) Validate() error {
	switch {
	case strings.TrimSpace(string(q.Provider)) == "":
		return fmt.Errorf("%w: provider is required", ErrInvalidQuota)
	case strings.TrimSpace(string(q.Direction)) == "":
		return fmt.Errorf("%w: %s: direction is required", ErrInvalidQuota, q.Provider)
	case !positiveFinite(q.TokensPerMinute):
		return fmt.Errorf("%w: %s: tokens per minute must be positive (got %v)",
			ErrInvalidQuota, q.Key(), q.TokensPerMinute)
	case !positiveFinite(q.TokensPerRequest):
		return fmt.Errorf("%w: %s: tokens per request must be positive (got %v)",
			ErrInvalidQuota, q.Key(), q.TokensPerRequest)
	}
	return nil
}

func positiveFinite(v float64) bool {
	return v > 0 && !math.IsInf(v, 1)
}

// EffectiveTPM returns the ceiling for a caller with the given rpm hint.
// Without a hint, or with a hint <= 0, it is the default ceiling.
// Otherwise it is min(rpm * TokensPerRequest, TokensPerMinute).
func (q Quota) EffectiveTPM(rpm mo.Option[float64]) float64 {
	r, ok := rpm.Get()
	if !ok || !(r > 0) {
		return q.TokensPerMinute
	}
	return math.Min(r*q.TokensPerRequest, q.TokensPerMinute)
}

// DefaultQuotas returns the built-in quota table.
func DefaultQuotas() []Quota {
	return []Quota{
		{
			Provider:         Anthropic,
			Direction:        Input,
			TokensPerMinute:  DefaultAnthropicInputTPM,
			TokensPerRequest: AnthropicInputTokensPerRequest,
		},
		{
			Provider:         Anthropic,
			Direction:        Output,
			TokensPerMinute:  DefaultAnthropicOutputTPM,
			TokensPerRequest: AnthropicOutputTokensPerRequest,
		},
		{
			Provider:         Google,
			Direction:        Input,
			TokensPerMinute:  DefaultGoogleInputTPM,
			TokensPerRequest: GoogleInputTokensPerRequest,
		},
		{
			Provider:         Google,
			Direction:        Output,
			TokensPerMinute:  DefaultGoogleOutputTPM,
			TokensPerRequest: GoogleOutputTokensPerRequest,
		},
	}
}
