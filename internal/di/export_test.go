package di

import "time"

// Exported for testing.
// This file provides access to unexported identifiers needed by tests in package di_test.

// HasWatcher reports whether hot-reload is active.
func (c *ConfigService) HasWatcher() bool {
	return c.watcher != nil
}

// TrackedMaxWait returns the max wait the service last saw in config.
func (s *LimiterService) TrackedMaxWait() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxWait
}
