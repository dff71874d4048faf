package quota

import (
	"math"
	"testing"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "anthropic-input", Key(Anthropic, Input))
	assert.Equal(t, "anthropic-output", Key(Anthropic, Output))
	assert.Equal(t, "google-input", Key(Google, Input))
	assert.Equal(t, "google-output", Key(Google, Output))
	assert.Equal(t, "openai-output", Key(Provider("openai"), Output))
}

func TestDefaultQuotas(t *testing.T) {
	t.Parallel()

	quotas := DefaultQuotas()
	require.Len(t, quotas, 4)

	want := map[string][2]float64{
		"anthropic-input":  {40000, 10000},
		"anthropic-output": {8000, 2000},
		"google-input":     {60000, 6000},
		"google-output":    {12000, 2000},
	}
	for _, q := range quotas {
		w, ok := want[q.Key()]
		require.True(t, ok, q.Key())
		assert.InDelta(t, w[0], q.TokensPerMinute, 1e-9, q.Key())
		assert.InDelta(t, w[1], q.TokensPerRequest, 1e-9, q.Key())
	}
}

func TestQuota_EffectiveTPM(t *testing.T) {
	t.Parallel()

	anthropicInput := Quota{
		Provider:         Anthropic,
		Direction:        Input,
		TokensPerMinute:  DefaultAnthropicInputTPM,
		TokensPerRequest: AnthropicInputTokensPerRequest,
	}

	tests := []struct {
		rpm  mo.Option[float64]
		name string
		want float64
	}{
		{name: "no hint uses default", rpm: mo.None[float64](), want: 40000},
		{name: "zero hint uses default", rpm: mo.Some(0.0), want: 40000},
		{name: "negative hint uses default", rpm: mo.Some(-3.0), want: 40000},
		{name: "hint below ceiling", rpm: mo.Some(2.0), want: 20000},
		{name: "fractional hint", rpm: mo.Some(0.5), want: 5000},
		{name: "hint at ceiling", rpm: mo.Some(4.0), want: 40000},
		{name: "hint above ceiling is capped", rpm: mo.Some(100.0), want: 40000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.InDelta(t, tt.want, anthropicInput.EffectiveTPM(tt.rpm), 1e-9)
		})
	}
}

func TestQuota_Validate(t *testing.T) {
	t.Parallel()

	for _, q := range DefaultQuotas() {
		require.NoError(t, q.Validate(), q.Key())
	}

	valid := Quota{Provider: "azure", Direction: Output, TokensPerMinute: 1000, TokensPerRequest: 100}
	tests := []struct {
		mutate func(*Quota)
		name   string
	}{
		{name: "empty provider", mutate: func(q *Quota) { q.Provider = "" }},
		{name: "blank direction", mutate: func(q *Quota) { q.Direction = " " }},
		{name: "zero tpm", mutate: func(q *Quota) { q.TokensPerMinute = 0 }},
		{name: "infinite tpm", mutate: func(q *Quota) { q.TokensPerMinute = math.Inf(1) }},
		{name: "zero tokens per request", mutate: func(q *Quota) { q.TokensPerRequest = 0 }},
		{name: "NaN tokens per request", mutate: func(q *Quota) { q.TokensPerRequest = math.NaN() }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			q := valid
			tt.mutate(&q)
			assert.ErrorIs(t, q.Validate(), ErrInvalidQuota)
		})
	}
}
