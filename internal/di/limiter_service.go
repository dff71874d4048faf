package di

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/do/v2"
	"github.com/samber/lo"

	"github.com/omarluq/tpmguard/internal/config"
	"github.com/omarluq/tpmguard/internal/quota"
	"github.com/omarluq/tpmguard/internal/ratelimit"
)

// LimiterService owns the bucket registry and the provider quota facade.
// There is one per container; it replaces any process-wide limiter.
type LimiterService struct {
	Manager *ratelimit.Manager
	Limiter *quota.Limiter
	logger  *zerolog.Logger
	maxWait time.Duration
	mu      sync.Mutex
}

// NewLimiter builds the manager with the metrics recorder as observer and the
// configured default max wait, then layers the quota table from config on top.
func NewLimiter(i do.Injector) (*LimiterService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)
	logSvc := do.MustInvoke[*LoggerService](i)
	metricsSvc := do.MustInvoke[*MetricsService](i)

	cfg := cfgSvc.Get()

	opts := []ratelimit.ManagerOption{
		ratelimit.WithLogger(logSvc.Logger),
		ratelimit.WithObserver(metricsSvc.Recorder),
	}
	maxWait, hasMaxWait := cfg.Limiter.GetMaxWaitOption().Get()
	if hasMaxWait {
		opts = append(opts, ratelimit.WithDefaultMaxWait(maxWait))
	}

	manager := ratelimit.NewManager(opts...)
	if err := metricsSvc.Recorder.Track(manager); err != nil {
		return nil, fmt.Errorf("failed to register bucket metrics: %w", err)
	}

	limiter, err := quota.NewLimiter(manager, QuotasFromConfig(cfg.Limiter.Quotas)...)
	if err != nil {
		return nil, fmt.Errorf("failed to build quota table: %w", err)
	}

	svc := &LimiterService{
		Manager: manager,
		Limiter: limiter,
		logger:  logSvc.Logger,
		maxWait: maxWait,
	}

	cfgSvc.OnReload(svc.reload)

	return svc, nil
}

// reload swaps the quota table. Buckets that already exist keep their ceiling
// and max wait; they are reported so an operator knows a restart is needed.
func (s *LimiterService) reload(cfg *config.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stale, err := s.Limiter.SetQuotas(QuotasFromConfig(cfg.Limiter.Quotas)...)
	if err != nil {
		return fmt.Errorf("failed to reload quota table: %w", err)
	}
	if len(stale) > 0 {
		s.logger.Warn().
			Strs("keys", stale).
			Msg("quota changed for existing buckets, new ceiling applies to buckets created after restart")
	}

	maxWait := cfg.Limiter.GetMaxWaitOption().OrEmpty()
	if maxWait != s.maxWait {
		s.logger.Warn().
			Dur("old", s.maxWait).
			Dur("new", maxWait).
			Msg("limiter.max_wait_ms changed, takes effect on restart")
		s.maxWait = maxWait
	}

	s.logger.Info().Int("quotas", len(cfg.Limiter.Quotas)).Msg("quota table reloaded")
	return nil
}

// QuotasFromConfig converts configured quota rows to limiter rows.
func QuotasFromConfig(rows []config.QuotaConfig) []quota.Quota {
	return lo.Map(rows, func(q config.QuotaConfig, _ int) quota.Quota {
		return quota.Quota{
			Provider:         quota.Provider(q.Provider),
			Direction:        quota.Direction(q.Direction),
			TokensPerMinute:  q.TPM,
			TokensPerRequest: q.TokensPerRequest,
		}
	})
}
