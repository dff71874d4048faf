package di

import (
	"github.com/samber/do/v2"

	"github.com/omarluq/tpmguard/internal/metrics"
)

// MetricsService wraps the Prometheus recorder for DI.
type MetricsService struct {
	Recorder *metrics.Recorder
}

// NewMetrics creates the recorder. It has no dependencies.
func NewMetrics(_ do.Injector) (*MetricsService, error) {
	return &MetricsService{Recorder: metrics.NewRecorder()}, nil
}
