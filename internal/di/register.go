package di

import "github.com/samber/do/v2"

// RegisterSingletons registers all service providers as singletons.
// Services are registered in dependency order:
// 1. Config (no dependencies)
// 2. Logger (depends on Config)
// 3. Metrics (no dependencies)
// 4. Limiter (depends on Config, Logger, Metrics)
// 5. Server (depends on all above services).
func RegisterSingletons(i do.Injector) {
	do.Provide(i, NewConfig)
	do.Provide(i, NewLogger)
	do.Provide(i, NewMetrics)
	do.Provide(i, NewLimiter)
	do.Provide(i, NewHTTPServer)
}
