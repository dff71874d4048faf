package config

import "sync/atomic"

// Runtime provides atomic access to configuration for hot-reload support.
// Reads are lock-free; the watcher callback calls Store after a successful reload,
// and components call Get per operation so they observe the latest table.
//
//	runtime := config.NewRuntime(initialConfig)
//	maxWait := runtime.Get().Limiter.GetMaxWaitOption()
type Runtime struct {
	ptr atomic.Pointer[Config]
}

// NewRuntime creates a new Runtime with the given initial configuration.
func NewRuntime(initial *Config) *Runtime {
	r := &Runtime{}
	r.ptr.Store(initial)
	return r
}

// Get returns the current configuration atomically.
func (r *Runtime) Get() *Config {
	return r.ptr.Load()
}

// Store atomically replaces the configuration and returns the previous one.
// Holders of the old pointer keep a consistent view.
func (r *Runtime) Store(cfg *Config) *Config {
	return r.ptr.Swap(cfg)
}

var _ RuntimeConfig = (*Runtime)(nil)
