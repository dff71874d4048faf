// Package config provides configuration loading and parsing for tpmguard.
package config

import (
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/mo"
)

// RuntimeConfig defines the interface for accessing runtime configuration that supports hot-reload.
// Components that need to observe config changes should use this interface instead of
// holding a direct *Config pointer, which would become stale after hot-reload.
type RuntimeConfig interface {
	Get() *Config
}

// Log level constants.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Defaults applied before a config file is decoded.
const (
	DefaultListen      = "127.0.0.1:8788"
	DefaultMetricsPath = "/metrics"
)

// Config represents the complete tpmguard configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server" toml:"server"`
	Logging LoggingConfig `yaml:"logging" toml:"logging"`
	Metrics MetricsConfig `yaml:"metrics" toml:"metrics"`
	Limiter LimiterConfig `yaml:"limiter" toml:"limiter"`
}

// Default returns the configuration used when a field is absent from the file.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen: DefaultListen,
		},
		Logging: LoggingConfig{
			Level:  LevelInfo,
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    DefaultMetricsPath,
		},
	}
}

// ServerConfig defines the admin server settings.
type ServerConfig struct {
	Listen      string `yaml:"listen" toml:"listen"`
	EnableHTTP2 bool   `yaml:"enable_http2" toml:"enable_http2"` // Enable HTTP/2 cleartext (h2c) support
}

// LoggingConfig defines logging behavior.
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`   // debug, info, warn, error
	Format string `yaml:"format" toml:"format"` // json, console, text, pretty
	Output string `yaml:"output" toml:"output"` // stdout, stderr, or file path
	Pretty bool   `yaml:"pretty" toml:"pretty"` // enable colored console output
}

// ParseLevel converts a string log level to zerolog.Level.
// Returns zerolog.InfoLevel if the level string is invalid.
func (l *LoggingConfig) ParseLevel() zerolog.Level {
	switch strings.ToLower(l.Level) {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelInfo:
		return zerolog.InfoLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// MetricsConfig controls the Prometheus endpoint on the admin server.
type MetricsConfig struct {
	Path    string `yaml:"path" toml:"path"`
	Enabled bool   `yaml:"enabled" toml:"enabled"`
}

// GetPath returns the metrics path with default fallback.
func (m *MetricsConfig) GetPath() string {
	if m.Path == "" {
		return DefaultMetricsPath
	}
	return m.Path
}

// LimiterConfig defines the token-per-minute limiter settings.
type LimiterConfig struct {
	// Quotas override or extend the built-in provider quotas.
	// Rows are matched on provider and direction.
	Quotas []QuotaConfig `yaml:"quotas" toml:"quotas"`

	// MaxWaitMS bounds the single refill wait of a blocking consume.
	// Zero means unbounded.
	MaxWaitMS int `yaml:"max_wait_ms" toml:"max_wait_ms"`
}

// GetMaxWaitOption returns the max wait as a duration Option.
// Returns None if MaxWaitMS is zero or negative (unbounded wait).
func (l *LimiterConfig) GetMaxWaitOption() mo.Option[time.Duration] {
	if l.MaxWaitMS <= 0 {
		return mo.None[time.Duration]()
	}
	return mo.Some(time.Duration(l.MaxWaitMS) * time.Millisecond)
}

// QuotaConfig is a single provider/direction quota row.
type QuotaConfig struct {
	Provider         string  `yaml:"provider" toml:"provider"`
	Direction        string  `yaml:"direction" toml:"direction"`
	TPM              float64 `yaml:"tpm" toml:"tpm"`                               // tokens per minute ceiling
	TokensPerRequest float64 `yaml:"tokens_per_request" toml:"tokens_per_request"` // estimate used with an rpm hint
}

// Key returns the bucket key for the row, "<provider>-<direction>".
func (q *QuotaConfig) Key() string {
	return q.Provider + "-" + q.Direction
}
