// Package metrics exports limiter activity as Prometheus metrics.
package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/omarluq/tpmguard/internal/ratelimit"
)

const namespace = "tpmguard"

// Consume results, used as the "result" label.
const (
	ResultAllowed  = "allowed"
	ResultDenied   = "denied"
	ResultDrained  = "drained"
	ResultCanceled = "canceled"
	ResultMaxWait  = "max_wait_exceeded"
)

// Recorder implements ratelimit.Observer on its own registry.
type Recorder struct {
	registry       *prometheus.Registry
	consumeTotal   *prometheus.CounterVec
	tokensConsumed *prometheus.CounterVec
	waitSeconds    *prometheus.HistogramVec
	bucketsCreated prometheus.Counter
}

// NewRecorder creates a Recorder with Go runtime and process collectors registered.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		consumeTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "consume_total",
				Help:      "Consume calls by bucket key and result",
			},
			[]string{"key", "result"},
		),
		tokensConsumed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tokens_granted_total",
				Help:      "Tokens deducted by allowed consume calls",
			},
			[]string{"key"},
		),
		waitSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "wait_seconds",
				Help:      "Time spent waiting for refill by blocking consume calls",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"key"},
		),
		bucketsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "buckets_created_total",
			Help:      "Token buckets created",
		}),
	}
}

// Registry returns the registry backing the recorder.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler returns an http.Handler that serves the recorder's registry.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// OnBucketCreated implements ratelimit.Observer.
func (r *Recorder) OnBucketCreated(string, ratelimit.Snapshot) {
	r.bucketsCreated.Inc()
}

// OnConsume implements ratelimit.Observer.
func (r *Recorder) OnConsume(key string, outcome ratelimit.Outcome, err error) {
	r.consumeTotal.WithLabelValues(key, result(outcome, err)).Inc()

	if outcome.Allowed && outcome.Granted > 0 {
		r.tokensConsumed.WithLabelValues(key).Add(outcome.Granted)
	}
	if outcome.Waited > 0 {
		r.waitSeconds.WithLabelValues(key).Observe(outcome.Waited.Seconds())
	}
}

func result(outcome ratelimit.Outcome, err error) string {
	switch {
	case errors.Is(err, ratelimit.ErrMaxWaitExceeded):
		return ResultMaxWait
	case errors.Is(err, ratelimit.ErrContextCancelled):
		return ResultCanceled
	case outcome.Drained:
		return ResultDrained
	case outcome.Allowed:
		return ResultAllowed
	default:
		return ResultDenied
	}
}

// Track exports per-bucket gauges read from manager snapshots at scrape time.
func (r *Recorder) Track(manager *ratelimit.Manager) error {
	return r.registry.Register(newBucketCollector(manager))
}

var _ ratelimit.Observer = (*Recorder)(nil)
