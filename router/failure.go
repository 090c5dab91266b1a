package router

import (
	"context"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/caxton-io/router/types"
)

// RetryPolicy computes successive retry delays with exponential backoff
// and jitter, bounded by max_retries (spec.md §4.5). It wraps
// backoff.ExponentialBackOff rather than calling backoff.Retry, since
// retries here are scheduled asynchronously onto timers by FailureHandler
// instead of blocking the caller.
type RetryPolicy struct {
	maxRetries types.RetryCount
	baseDelay  time.Duration
	maxDelay   time.Duration
	factor     float64
}

func NewRetryPolicy(maxRetries types.RetryCount, baseDelay, maxDelay time.Duration, factor float64) *RetryPolicy {
	return &RetryPolicy{maxRetries: maxRetries, baseDelay: baseDelay, maxDelay: maxDelay, factor: factor}
}

// newBackOff builds a fresh exponential backoff generator for one
// message's retry sequence; a new one per message keeps each message's
// jitter independent rather than sharing global state across messages.
func (p *RetryPolicy) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.baseDelay
	b.Multiplier = p.factor
	b.MaxInterval = p.maxDelay
	b.RandomizationFactor = 0.2
	b.Reset()
	return b
}

// NextDelay returns the delay before attempt (0-indexed) should be
// retried, and ok=false once attempt has exhausted max_retries.
func (p *RetryPolicy) NextDelay(attempt int) (time.Duration, bool) {
	if attempt >= p.maxRetries.Int() {
		return 0, false
	}
	b := p.newBackOff()
	var d time.Duration
	for i := 0; i <= attempt; i++ {
		d = b.NextBackOff()
	}
	return d, true
}

// notifier delivers a best-effort message outside the normal shard
// dispatch path. DeliveryEngine is the only implementation; FailureHandler
// depends on the narrow interface instead so it can be unit-tested without
// a real DeliveryEngine.
type notifier interface {
	deliverBestEffort(msg *Message) error
}

// dlqPersister durably commits a dead-lettered entry — the "dlq" record
// family (spec.md §6). Core's PersistenceAdapter satisfies this directly.
type dlqPersister interface {
	CommitDLQEntry(ctx context.Context, entry DeadLetterEntry) error
}

// FailureHandler classifies delivery failures and schedules retries,
// terminal disposition (dead-lettering), or a FAILURE notification back to
// the original sender, according to FailureReason's Terminal bit, the
// retry policy's attempt budget, and the §4.5 disposition table.
type FailureHandler struct {
	retry    *RetryPolicy
	breaker  *BreakerRegistry
	dlq      *DeadLetterQueue
	sink     EventSink
	notifier notifier
	persist  dlqPersister

	scheduleTimer func(d time.Duration, fn func())
}

func NewFailureHandler(retry *RetryPolicy, breaker *BreakerRegistry, dlq *DeadLetterQueue, sink EventSink) *FailureHandler {
	return &FailureHandler{
		retry:   retry,
		breaker: breaker,
		dlq:     dlq,
		sink:    sink,
		scheduleTimer: func(d time.Duration, fn func()) {
			time.AfterFunc(d, fn)
		},
	}
}

// SetNotifier wires the DeliveryEngine used to deliver FAILURE
// notifications. NewDeliveryEngine calls this on its own FailureHandler
// argument, so callers assembling Core never need to call it themselves.
func (h *FailureHandler) SetNotifier(n notifier) {
	h.notifier = n
}

// SetPersister wires durable DLQ commits. NewCore calls this only when a
// real persistence adapter is configured; without it, dead letters live
// only in the in-memory DeadLetterQueue.
func (h *FailureHandler) SetPersister(p dlqPersister) {
	h.persist = p
}

// Handle classifies a delivery failure for msg and either schedules a
// retry via redeliver or disposes of it terminally, emitting the
// corresponding observability event either way. A message whose deadline
// has already passed is reclassified as Timeout regardless of reason,
// per spec.md §5/§8.
func (h *FailureHandler) Handle(msg *Message, reason FailureReason, cause error, redeliver func(*Message)) {
	if reason != ReasonTimeout && msg.DeadlineExceeded() {
		reason = ReasonTimeout
		cause = ErrTimeout
	}

	if reason.Terminal() {
		h.terminal(msg, reason, cause)
		return
	}

	delay, ok := h.retry.NextDelay(msg.Attempt())
	if !ok {
		h.exhausted(msg, reason, cause)
		return
	}

	msg.nextAttempt()
	h.sink.Emit(Event{
		Type:      EventRetryScheduled,
		MessageID: msg.ID,
		Reason:    reason,
		Attempt:   msg.Attempt(),
		Timestamp: time.Now(),
	})

	h.scheduleTimer(jitter(delay), func() {
		redeliver(msg)
	})
}

// terminal disposes of a failure that will never succeed on retry.
// AgentNotFound and NoCapableAgent are addressing failures rather than a
// fault of the message itself, so spec.md §4.5 withholds the DLQ entry and
// only notifies the sender. Timeout dead-letters only when the sender
// required a delivery receipt; every other terminal reason always
// dead-letters.
func (h *FailureHandler) terminal(msg *Message, reason FailureReason, cause error) {
	switch reason {
	case ReasonAgentNotFound, ReasonNoCapableAgent:
		h.notifySender(msg, reason, cause)
	case ReasonTimeout:
		if msg.Options.RequireReceipt {
			h.dlqAndNotify(msg, reason, cause)
		} else {
			h.notifySender(msg, reason, cause)
		}
	default:
		h.dlqAndNotify(msg, reason, cause)
	}
}

// exhausted disposes of a retriable failure that has run out of attempts:
// it was genuinely attempted and failed repeatedly, so it is always
// dead-lettered.
func (h *FailureHandler) exhausted(msg *Message, reason FailureReason, cause error) {
	h.dlqAndNotify(msg, reason, cause)
}

func (h *FailureHandler) dlqAndNotify(msg *Message, reason FailureReason, cause error) {
	entry := DeadLetterEntry{Message: msg, Reason: reason, Cause: cause, RetiredAt: time.Now()}
	h.dlq.Restore(entry)
	if h.persist != nil {
		_ = h.persist.CommitDLQEntry(context.Background(), entry)
	}
	h.sink.Emit(Event{
		Type:      EventDeadLettered,
		MessageID: msg.ID,
		Reason:    reason,
		Attempt:   msg.Attempt(),
		Timestamp: time.Now(),
	})
	h.notifySender(msg, reason, cause)
}

// notifySender builds and delivers a FAILURE message back to msg's
// original sender (spec.md §4.5, §6, §7). It is strictly best-effort: a
// FAILURE message is never itself retried, and a FAILURE about a FAILURE
// is never generated, which is what keeps this from recursing. A
// zero-value sender identifies a message the router itself generated —
// notifySender's own output — so that check alone also blocks recursion
// even if the performative were ever spoofed.
func (h *FailureHandler) notifySender(orig *Message, reason FailureReason, cause error) {
	if orig.Performative == types.Failure || orig.Sender.IsZero() || h.notifier == nil {
		return
	}

	failMsg, err := NewMessage(types.AgentId{}, ToAgent(orig.Sender), types.Failure, []byte(failureContent(reason, cause)), DeliveryOptions{Priority: orig.Options.Priority})
	if err != nil {
		return
	}
	failMsg.InReplyTo = orig.ID.String()
	if !orig.Conversation.IsZero() {
		failMsg.Conversation = orig.Conversation
	}

	if err := h.notifier.deliverBestEffort(failMsg); err != nil {
		// The notification itself couldn't be delivered; dead-letter it
		// directly rather than looping back through Handle, which would
		// just reach this same notifySender again.
		h.dlq.Add(failMsg, reason, err)
	}
}

func failureContent(reason FailureReason, cause error) string {
	if cause != nil {
		return string(reason) + ": " + cause.Error()
	}
	return string(reason)
}

// jitter adds up to 10% extra random delay on top of the backoff
// generator's own randomization, spreading a burst of simultaneous
// retries further apart in time.
func jitter(d time.Duration) time.Duration {
	extra := time.Duration(rand.Int63n(int64(d)/10 + 1))
	return d + extra
}
