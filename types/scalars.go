package types

import "time"

// MailboxCapacity bounds a single agent's inbound mailbox depth. It must be
// strictly positive; a zero-capacity mailbox could never admit anything and
// a negative one is meaningless.
type MailboxCapacity struct{ value int }

func NewMailboxCapacity(n int) (MailboxCapacity, error) {
	if n <= 0 {
		return MailboxCapacity{}, newValidationError(ErrCodeOutOfRange, "mailbox_capacity", n)
	}
	return MailboxCapacity{value: n}, nil
}

func (m MailboxCapacity) Int() int { return m.value }

// QueueCapacity bounds the shared inbound queue the worker pool drains
// (spec.md §4.7).
type QueueCapacity struct{ value int }

func NewQueueCapacity(n int) (QueueCapacity, error) {
	if n <= 0 {
		return QueueCapacity{}, newValidationError(ErrCodeOutOfRange, "queue_capacity", n)
	}
	return QueueCapacity{value: n}, nil
}

func (q QueueCapacity) Int() int { return q.value }

// MessageSize bounds a message payload in bytes. The default ceiling is
// 10 MiB per spec.md §3 invariant (a); callers construct the configured
// maximum through this factory and compare against it at admission.
type MessageSize struct{ value int64 }

const DefaultMaxMessageBytes int64 = 10 * 1024 * 1024

func NewMessageSize(n int64) (MessageSize, error) {
	if n <= 0 {
		return MessageSize{}, newValidationError(ErrCodeOutOfRange, "message_size", n)
	}
	return MessageSize{value: n}, nil
}

func (m MessageSize) Bytes() int64 { return m.value }

// Percentage confines a float to the closed interval [0.0, 1.0] — used for
// trace_sampling_ratio and similar ratio-valued configuration (spec.md §6).
type Percentage struct{ value float64 }

func NewPercentage(f float64) (Percentage, error) {
	if f < 0.0 || f > 1.0 {
		return Percentage{}, newValidationError(ErrCodeOutOfRange, "percentage", f)
	}
	return Percentage{value: f}, nil
}

func (p Percentage) Float64() float64 { return p.value }

// RetryCount bounds the number of delivery attempts a failure handler will
// schedule before a message is treated as terminally failed.
type RetryCount struct{ value int }

func NewRetryCount(n int) (RetryCount, error) {
	if n < 0 {
		return RetryCount{}, newValidationError(ErrCodeOutOfRange, "retry_count", n)
	}
	return RetryCount{value: n}, nil
}

func (r RetryCount) Int() int { return r.value }

// BoundedDuration validates a duration against an inclusive [min, max]
// range, used for timeouts, backoff bounds, and sweep intervals throughout
// config.Config.
type BoundedDuration struct{ value time.Duration }

func NewBoundedDuration(d, min, max time.Duration) (BoundedDuration, error) {
	if d < min || d > max {
		return BoundedDuration{}, newValidationError(ErrCodeOutOfRange, "duration", d)
	}
	return BoundedDuration{value: d}, nil
}

func (b BoundedDuration) Duration() time.Duration { return b.value }
