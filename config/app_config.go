package config

import (
	"fmt"
	"time"

	"github.com/caxton-io/router/router"
	"github.com/caxton-io/router/router/persistence"
	"github.com/caxton-io/router/types"
)

// AppConfig is the full on-disk configuration for a router process: the
// routing engine itself plus the ambient concerns (persistence backend,
// admin HTTP surface, logging, tracing) cmd/router wires together.
type AppConfig struct {
	Router      RouterConfig      `yaml:"router" env:"ROUTER"`
	Persistence PersistenceConfig `yaml:"persistence" env:"PERSISTENCE"`
	Admin       AdminConfig       `yaml:"admin" env:"ADMIN"`
	Log         LogConfig         `yaml:"log" env:"LOG"`
	Telemetry   TelemetryConfig   `yaml:"telemetry" env:"TELEMETRY"`
}

// RouterConfig mirrors router.Config field for field with plain,
// YAML/env-friendly types. Build converts it into a router.Config: the
// queue, mailbox, message-size, retry-count, DLQ-capacity, sampling and
// selection-policy options pass through validating constructors, so those
// are rejected in one place whether they came from a file or an
// environment variable. The worker count, durations, backoff factor,
// breaker settings and admission rate are copied without range checks.
type RouterConfig struct {
	InboundQueueCapacity      int           `yaml:"inbound_queue_capacity" env:"INBOUND_QUEUE_CAPACITY"`
	PerAgentMailboxCapacity   int           `yaml:"per_agent_mailbox_capacity" env:"PER_AGENT_MAILBOX_CAPACITY"`
	WorkerCount               int           `yaml:"worker_count" env:"WORKER_COUNT"`
	MaxMessageBytes           int64         `yaml:"max_message_bytes" env:"MAX_MESSAGE_BYTES"`
	ConversationIdleTimeout   time.Duration `yaml:"conversation_idle_timeout" env:"CONVERSATION_IDLE_TIMEOUT"`
	ConversationSweepInterval time.Duration `yaml:"conversation_sweep_interval" env:"CONVERSATION_SWEEP_INTERVAL"`

	MaxRetries         int           `yaml:"max_retries" env:"MAX_RETRIES"`
	RetryBaseDelay     time.Duration `yaml:"retry_base_delay" env:"RETRY_BASE_DELAY"`
	RetryMaxDelay      time.Duration `yaml:"retry_max_delay" env:"RETRY_MAX_DELAY"`
	RetryBackoffFactor float64       `yaml:"retry_backoff_factor" env:"RETRY_BACKOFF_FACTOR"`

	BreakerConsecutiveFailures uint32        `yaml:"breaker_consecutive_failures" env:"BREAKER_CONSECUTIVE_FAILURES"`
	BreakerOpenCooldown        time.Duration `yaml:"breaker_open_cooldown" env:"BREAKER_OPEN_COOLDOWN"`
	BreakerMaxCooldown         time.Duration `yaml:"breaker_max_cooldown" env:"BREAKER_MAX_COOLDOWN"`

	DLQCapacity int `yaml:"dlq_capacity" env:"DLQ_CAPACITY"`

	// DefaultSelectionPolicy is one of "priority", "load_balanced",
	// "least_loaded", "fastest_response".
	DefaultSelectionPolicy string  `yaml:"default_selection_policy" env:"DEFAULT_SELECTION_POLICY"`
	TraceSamplingRatio     float64 `yaml:"trace_sampling_ratio" env:"TRACE_SAMPLING_RATIO"`

	// MaxAdmissionRate caps RouteMessage admissions per second; 0 means
	// unlimited.
	MaxAdmissionRate float64 `yaml:"max_admission_rate" env:"MAX_ADMISSION_RATE"`
}

// Build validates the capacity, size, retry-count, sampling and policy
// fields through router/types' constructors and assembles a router.Config,
// or returns the first validation error. The remaining fields are copied
// as given.
func (r RouterConfig) Build() (router.Config, error) {
	queueCap, err := types.NewQueueCapacity(r.InboundQueueCapacity)
	if err != nil {
		return router.Config{}, fmt.Errorf("inbound_queue_capacity: %w", err)
	}
	mailboxCap, err := types.NewMailboxCapacity(r.PerAgentMailboxCapacity)
	if err != nil {
		return router.Config{}, fmt.Errorf("per_agent_mailbox_capacity: %w", err)
	}
	maxBytes, err := types.NewMessageSize(r.MaxMessageBytes)
	if err != nil {
		return router.Config{}, fmt.Errorf("max_message_bytes: %w", err)
	}
	maxRetries, err := types.NewRetryCount(r.MaxRetries)
	if err != nil {
		return router.Config{}, fmt.Errorf("max_retries: %w", err)
	}
	dlqCap, err := types.NewQueueCapacity(r.DLQCapacity)
	if err != nil {
		return router.Config{}, fmt.Errorf("dlq_capacity: %w", err)
	}
	sampling, err := types.NewPercentage(r.TraceSamplingRatio)
	if err != nil {
		return router.Config{}, fmt.Errorf("trace_sampling_ratio: %w", err)
	}
	policy, err := parseSelectionPolicy(r.DefaultSelectionPolicy)
	if err != nil {
		return router.Config{}, err
	}

	return router.Config{
		InboundQueueCapacity:       queueCap,
		PerAgentMailboxCapacity:    mailboxCap,
		WorkerCount:                r.WorkerCount,
		MaxMessageBytes:            maxBytes,
		ConversationIdleTimeout:    r.ConversationIdleTimeout,
		ConversationSweepInterval:  r.ConversationSweepInterval,
		MaxRetries:                 maxRetries,
		RetryBaseDelay:             r.RetryBaseDelay,
		RetryMaxDelay:              r.RetryMaxDelay,
		RetryBackoffFactor:         r.RetryBackoffFactor,
		BreakerConsecutiveFailures: r.BreakerConsecutiveFailures,
		BreakerOpenCooldown:        r.BreakerOpenCooldown,
		BreakerMaxCooldown:         r.BreakerMaxCooldown,
		DLQCapacity:                dlqCap,
		DefaultSelectionPolicy:     policy,
		TraceSamplingRatio:         sampling,
		MaxAdmissionRate:           r.MaxAdmissionRate,
	}, nil
}

func parseSelectionPolicy(s string) (router.SelectionPolicy, error) {
	switch s {
	case "priority":
		return router.SelectPriority, nil
	case "load_balanced":
		return router.SelectLoadBalanced, nil
	case "least_loaded", "":
		return router.SelectLeastLoaded, nil
	case "fastest_response":
		return router.SelectFastestResponse, nil
	default:
		return 0, fmt.Errorf("default_selection_policy: unrecognized policy %q", s)
	}
}

// PersistenceConfig selects and configures the durable-commit backend.
type PersistenceConfig struct {
	// Type is one of "memory", "sqlite", "redis".
	Type            string        `yaml:"type" env:"TYPE"`
	SQLitePath      string        `yaml:"sqlite_path" env:"SQLITE_PATH"`
	RedisAddr       string        `yaml:"redis_addr" env:"REDIS_ADDR"`
	RedisPassword   string        `yaml:"redis_password" env:"REDIS_PASSWORD"`
	RedisDB         int           `yaml:"redis_db" env:"REDIS_DB"`
	RedisKeyPrefix  string        `yaml:"redis_key_prefix" env:"REDIS_KEY_PREFIX"`
	CleanupEnabled  bool          `yaml:"cleanup_enabled" env:"CLEANUP_ENABLED"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" env:"CLEANUP_INTERVAL"`
	RetentionTime   time.Duration `yaml:"retention_time" env:"RETENTION_TIME"`
}

func (p PersistenceConfig) Build() persistence.StoreConfig {
	return persistence.StoreConfig{
		Type: persistence.BackendType(p.Type),
		SQLite: persistence.SQLiteConfig{
			Path: p.SQLitePath,
		},
		Redis: persistence.RedisConfig{
			Addr:      p.RedisAddr,
			Password:  p.RedisPassword,
			DB:        p.RedisDB,
			KeyPrefix: p.RedisKeyPrefix,
		},
		Cleanup: persistence.CleanupConfig{
			Enabled:       p.CleanupEnabled,
			Interval:      p.CleanupInterval,
			RetentionTime: p.RetentionTime,
		},
	}
}

// AdminConfig configures the admin/inspection HTTP surface (spec.md §6).
type AdminConfig struct {
	Addr        string `yaml:"addr" env:"ADDR"`
	TLSCertFile string `yaml:"tls_cert_file" env:"TLS_CERT_FILE"`
	TLSKeyFile  string `yaml:"tls_key_file" env:"TLS_KEY_FILE"`
}

// LogConfig configures the zap logger every component logs through.
type LogConfig struct {
	Level       string `yaml:"level" env:"LEVEL"`
	Format      string `yaml:"format" env:"FORMAT"`
	Development bool   `yaml:"development" env:"DEVELOPMENT"`
}

// TelemetryConfig configures OpenTelemetry tracing (router/observability).
type TelemetryConfig struct {
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
}

// Validate runs the cross-field checks Build alone can't express: e.g. a
// sqlite backend needs a path, a redis backend needs an address.
func (c *AppConfig) Validate() error {
	switch persistence.BackendType(c.Persistence.Type) {
	case persistence.BackendMemory:
	case persistence.BackendSQLite:
		if c.Persistence.SQLitePath == "" {
			return fmt.Errorf("persistence.sqlite_path is required when persistence.type is %q", c.Persistence.Type)
		}
	case persistence.BackendRedis:
		if c.Persistence.RedisAddr == "" {
			return fmt.Errorf("persistence.redis_addr is required when persistence.type is %q", c.Persistence.Type)
		}
	default:
		return fmt.Errorf("persistence.type: unrecognized backend %q", c.Persistence.Type)
	}
	if c.Admin.Addr == "" {
		return fmt.Errorf("admin.addr is required")
	}
	if (c.Admin.TLSCertFile == "") != (c.Admin.TLSKeyFile == "") {
		return fmt.Errorf("admin.tls_cert_file and admin.tls_key_file must both be set or both empty")
	}
	return nil
}
