package di

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/samber/do/v2"

	"github.com/omarluq/tpmguard/internal/config"
)

// ConfigService holds the live configuration with hot-reload support.
// Reads go through config.Runtime, so a reload never blocks a caller.
type ConfigService struct {
	runtime *config.Runtime
	watcher *config.Watcher
	path    string
}

// Get returns the current configuration.
func (c *ConfigService) Get() *config.Config {
	return c.runtime.Get()
}

// Path returns the config file path the service was loaded from.
func (c *ConfigService) Path() string {
	return c.path
}

// OnReload registers cb to run after a reload has been stored.
// It is a no-op when the watcher could not be created.
func (c *ConfigService) OnReload(cb config.ReloadCallback) {
	if c.watcher == nil {
		return
	}
	c.watcher.OnReload(cb)
}

// Reload re-reads the config file immediately, as a file event would.
func (c *ConfigService) Reload() {
	if c.watcher == nil {
		return
	}
	c.watcher.Reload()
}

// StartWatching begins watching the config file for changes.
// The context controls the watcher lifecycle; cancel to stop watching.
func (c *ConfigService) StartWatching(ctx context.Context) {
	if c.watcher == nil {
		return
	}

	go func() {
		if err := c.watcher.Watch(ctx); err != nil {
			log.Error().Err(err).Msg("config watcher error")
		}
	}()

	log.Info().Str("path", c.path).Msg("config file watcher started")
}

// Shutdown implements do.Shutdowner for graceful watcher cleanup.
func (c *ConfigService) Shutdown() error {
	if c.watcher != nil {
		return c.watcher.Close()
	}
	return nil
}

// NewConfig loads and validates the configuration and creates a watcher.
// The watcher is created but not started; call StartWatching after container init.
func NewConfig(i do.Injector) (*ConfigService, error) {
	path := do.MustInvokeNamed[string](i, ConfigPathKey)

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	svc := &ConfigService{
		runtime: config.NewRuntime(cfg),
		path:    path,
	}

	// Hot-reload is optional; a watcher failure only disables it.
	watcher, err := config.NewWatcher(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("config watcher creation failed, hot-reload disabled")
		return svc, nil
	}
	svc.watcher = watcher

	// Registered first so later callbacks observe the new config through Get.
	watcher.OnReload(func(newCfg *config.Config) error {
		svc.runtime.Store(newCfg)
		log.Info().Str("path", path).Msg("config hot-reloaded successfully")
		return nil
	})

	return svc, nil
}
