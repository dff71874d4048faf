package config

// DetectFormat exports detectFormat for testing.
var DetectFormat = detectFormat

// MakeTestConfig returns a minimal valid Config with all fields set.
func MakeTestConfig() *Config {
	return &Config{
		Server:  MakeTestServerConfig(),
		Logging: MakeTestLoggingConfig(),
		Metrics: MakeTestMetricsConfig(),
		Limiter: MakeTestLimiterConfig(),
	}
}

// MakeTestServerConfig returns a minimal ServerConfig with all fields set.
func MakeTestServerConfig() ServerConfig {
	return ServerConfig{
		Listen:      "127.0.0.1:8788",
		EnableHTTP2: false,
	}
}

// MakeTestLoggingConfig returns a minimal LoggingConfig with all fields set.
func MakeTestLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:  LevelInfo,
		Format: "json",
		Output: "stdout",
		Pretty: false,
	}
}

// MakeTestMetricsConfig returns a minimal MetricsConfig with all fields set.
func MakeTestMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Path:    DefaultMetricsPath,
		Enabled: true,
	}
}

// MakeTestLimiterConfig returns a LimiterConfig with one quota row.
func MakeTestLimiterConfig() LimiterConfig {
	return LimiterConfig{
		Quotas:    []QuotaConfig{MakeTestQuotaConfig()},
		MaxWaitMS: 0,
	}
}

// MakeTestQuotaConfig returns a valid QuotaConfig with all fields set.
func MakeTestQuotaConfig() QuotaConfig {
	return QuotaConfig{
		Provider:         "anthropic",
		Direction:        "input",
		TPM:              40000,
		TokensPerRequest: 10000,
	}
}
