package config

import (
	"math"
	"net"
	"strconv"
	"strings"
)

// Valid logging levels.
var validLogLevels = map[string]bool{
	"":      true, // Empty defaults to info
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Valid logging formats.
var validLogFormats = map[string]bool{
	"":        true, // Empty defaults to json
	"json":    true,
	"console": true,
	"text":    true, // Alias for console
	"pretty":  true,
}

// Validate checks the configuration for errors.
// Returns a ValidationError containing all errors found, or nil if valid.
func (c *Config) Validate() error {
	errs := &ValidationError{}

	validateServer(c, errs)
	validateLogging(c, errs)
	validateMetrics(c, errs)
	validateLimiter(c, errs)

	return errs.ToError()
}

// validateServer validates the server configuration section.
func validateServer(c *Config, errs *ValidationError) {
	if c.Server.Listen == "" {
		errs.Add("server.listen is required")
		return
	}
	validateListenAddress(c.Server.Listen, errs)
}

// validateListenAddress validates a listen address in host:port format.
func validateListenAddress(addr string, errs *ValidationError) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		errs.Addf("server.listen must be in host:port format (got %q)", addr)
		return
	}

	// Host can be empty (listen on all interfaces) or a valid IP/hostname
	if host != "" && net.ParseIP(host) == nil && strings.ContainsAny(host, " \t\n") {
		errs.Add("server.listen host contains invalid characters")
	}

	if port == "" {
		errs.Add("server.listen port is required")
		return
	}
	if n, err := strconv.Atoi(port); err != nil || n < 0 || n > 65535 {
		errs.Addf("server.listen port is invalid (got %q)", port)
	}
}

// validateLogging validates the logging configuration section.
func validateLogging(c *Config, errs *ValidationError) {
	if !validLogLevels[c.Logging.Level] {
		errs.Addf("logging.level is invalid (got %q, valid: debug, info, warn, error)",
			c.Logging.Level)
	}

	if !validLogFormats[c.Logging.Format] {
		errs.Addf("logging.format is invalid (got %q, valid: json, console, text, pretty)",
			c.Logging.Format)
	}
}

// validateMetrics validates the metrics configuration section.
func validateMetrics(c *Config, errs *ValidationError) {
	if c.Metrics.Path != "" && !strings.HasPrefix(c.Metrics.Path, "/") {
		errs.Addf("metrics.path must start with / (got %q)", c.Metrics.Path)
	}
}

// validateLimiter validates the limiter section and every quota row.
func validateLimiter(c *Config, errs *ValidationError) {
	if c.Limiter.MaxWaitMS < 0 {
		errs.Add("limiter.max_wait_ms must be >= 0")
	}

	seen := make(map[string]bool)
	for i := range c.Limiter.Quotas {
		validateQuota(&c.Limiter.Quotas[i], i, seen, errs)
	}
}

// validateQuota validates a single quota row.
func validateQuota(q *QuotaConfig, index int, seen map[string]bool, errs *ValidationError) {
	if q.Provider == "" {
		errs.Addf("limiter.quotas[%d].provider is required", index)
	} else if strings.ContainsAny(q.Provider, " \t\n") {
		errs.Addf("limiter.quotas[%d].provider contains whitespace (got %q)", index, q.Provider)
	}

	if q.Direction == "" {
		errs.Addf("limiter.quotas[%d].direction is required", index)
	} else if strings.ContainsAny(q.Direction, " \t\n") {
		errs.Addf("limiter.quotas[%d].direction contains whitespace (got %q)", index, q.Direction)
	}

	if !(q.TPM > 0) || math.IsInf(q.TPM, 1) {
		errs.Addf("limiter.quotas[%d].tpm must be a positive number (got %v)", index, q.TPM)
	}

	if !(q.TokensPerRequest > 0) || math.IsInf(q.TokensPerRequest, 1) {
		errs.Addf("limiter.quotas[%d].tokens_per_request must be a positive number (got %v)",
			index, q.TokensPerRequest)
	}

	if q.Provider != "" && q.Direction != "" {
		key := q.Key()
		if seen[key] {
			errs.Addf("duplicate quota: %s", key)
		}
		seen[key] = true
	}
}
