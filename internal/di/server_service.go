package di

import (
	"context"
	"net/http"
	"time"

	"github.com/samber/do/v2"

	"github.com/omarluq/tpmguard/internal/server"
)

const serverShutdownTimeout = 5 * time.Second

// ServerService wraps the admin HTTP server for DI.
type ServerService struct {
	Server  *server.Server
	Handler http.Handler
}

// NewHTTPServer builds the admin router over the limiter and wraps it in a server
// listening on server.listen.
func NewHTTPServer(i do.Injector) (*ServerService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)
	logSvc := do.MustInvoke[*LoggerService](i)
	metricsSvc := do.MustInvoke[*MetricsService](i)
	limiterSvc := do.MustInvoke[*LimiterService](i)

	cfg := cfgSvc.Get()

	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		metricsHandler = metricsSvc.Recorder.Handler()
	}

	handler := server.NewRouter(limiterSvc.Manager, limiterSvc.Limiter, server.Options{
		Metrics:     metricsHandler,
		MetricsPath: cfg.Metrics.GetPath(),
		Logger:      logSvc.Logger,
	})

	return &ServerService{
		Server:  server.NewServer(cfg.Server.Listen, handler, cfg.Server.EnableHTTP2),
		Handler: handler,
	}, nil
}

// Shutdown implements do.Shutdowner.
func (s *ServerService) Shutdown() error {
	if s.Server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
	defer cancel()
	return s.Server.Shutdown(ctx)
}
