package router

import (
	"time"

	"go.uber.org/zap"

	"github.com/caxton-io/router/types"
)

// Config collects every recognized runtime option (spec.md §6). It is
// immutable for the lifetime of a Core: there is no hot-reload path, a
// deliberate departure from the donor config package's watcher/hotreload
// machinery (see DESIGN.md).
type Config struct {
	InboundQueueCapacity      types.QueueCapacity
	PerAgentMailboxCapacity   types.MailboxCapacity
	WorkerCount               int
	MaxMessageBytes           types.MessageSize
	ConversationIdleTimeout   time.Duration
	ConversationSweepInterval time.Duration

	MaxRetries       types.RetryCount
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration
	RetryBackoffFactor float64

	BreakerConsecutiveFailures uint32
	BreakerOpenCooldown        time.Duration
	BreakerMaxCooldown         time.Duration

	DLQCapacity types.QueueCapacity

	DefaultSelectionPolicy SelectionPolicy
	TraceSamplingRatio     types.Percentage

	// MaxAdmissionRate caps RouteMessage admissions per second across the
	// whole Core, independent of WorkerCount; zero means unlimited. This
	// guards downstream agents from a single noisy sender saturating the
	// admission pool before per-agent mailbox backpressure even applies.
	MaxAdmissionRate float64
}

// DefaultConfig returns the documented defaults for every option (spec.md
// §6), validated against the value types' own constraints — a caller that
// only wants to override a handful of fields starts here.
func DefaultConfig() (Config, error) {
	queueCap, err := types.NewQueueCapacity(10_000)
	if err != nil {
		return Config{}, err
	}
	mailboxCap, err := types.NewMailboxCapacity(1_000)
	if err != nil {
		return Config{}, err
	}
	maxBytes, err := types.NewMessageSize(types.DefaultMaxMessageBytes)
	if err != nil {
		return Config{}, err
	}
	maxRetries, err := types.NewRetryCount(5)
	if err != nil {
		return Config{}, err
	}
	dlqCap, err := types.NewQueueCapacity(1_000)
	if err != nil {
		return Config{}, err
	}
	sampling, err := types.NewPercentage(0.1)
	if err != nil {
		return Config{}, err
	}

	return Config{
		InboundQueueCapacity:       queueCap,
		PerAgentMailboxCapacity:    mailboxCap,
		WorkerCount:                16,
		MaxMessageBytes:            maxBytes,
		ConversationIdleTimeout:    30 * time.Minute,
		ConversationSweepInterval: 1 * time.Minute,
		MaxRetries:                 maxRetries,
		RetryBaseDelay:             200 * time.Millisecond,
		RetryMaxDelay:              30 * time.Second,
		RetryBackoffFactor:         2.0,
		BreakerConsecutiveFailures: 5,
		BreakerOpenCooldown:        10 * time.Second,
		BreakerMaxCooldown:         2 * time.Minute,
		DLQCapacity:                dlqCap,
		DefaultSelectionPolicy:     SelectLeastLoaded,
		TraceSamplingRatio:         sampling,
		MaxAdmissionRate:           0,
	}, nil
}

// logOrNop returns log if non-nil, else a no-op logger, the same guard
// every constructor in this package applies.
func logOrNop(log *zap.Logger) *zap.Logger {
	if log == nil {
		return zap.NewNop()
	}
	return log
}
