package config

import "time"

// DefaultAppConfig returns the documented defaults for every option
// (spec.md §6), mirroring router.DefaultConfig's values in their plain
// YAML/env-friendly form.
func DefaultAppConfig() *AppConfig {
	return &AppConfig{
		Router:      DefaultRouterConfig(),
		Persistence: DefaultPersistenceConfig(),
		Admin:       DefaultAdminConfig(),
		Log:         DefaultLogConfig(),
		Telemetry:   DefaultTelemetryConfig(),
	}
}

func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		InboundQueueCapacity:       10_000,
		PerAgentMailboxCapacity:    1_000,
		WorkerCount:                16,
		MaxMessageBytes:            10 * 1024 * 1024,
		ConversationIdleTimeout:    30 * time.Minute,
		ConversationSweepInterval:  1 * time.Minute,
		MaxRetries:                 5,
		RetryBaseDelay:             200 * time.Millisecond,
		RetryMaxDelay:              30 * time.Second,
		RetryBackoffFactor:         2.0,
		BreakerConsecutiveFailures: 5,
		BreakerOpenCooldown:        10 * time.Second,
		BreakerMaxCooldown:         2 * time.Minute,
		DLQCapacity:                1_000,
		DefaultSelectionPolicy:     "least_loaded",
		TraceSamplingRatio:         0.1,
	}
}

func DefaultPersistenceConfig() PersistenceConfig {
	return PersistenceConfig{
		Type:            "memory",
		CleanupEnabled:  true,
		CleanupInterval: 5 * time.Minute,
		RetentionTime:   1 * time.Hour,
	}
}

func DefaultAdminConfig() AdminConfig {
	return AdminConfig{Addr: ":8090"}
}

func DefaultLogConfig() LogConfig {
	return LogConfig{Level: "info", Format: "json"}
}

func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{ServiceName: "caxton-router"}
}
