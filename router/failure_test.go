package router

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caxton-io/router/types"
)

func mustRetryCount(t *testing.T, n int) types.RetryCount {
	t.Helper()
	rc, err := types.NewRetryCount(n)
	require.NoError(t, err)
	return rc
}

func TestRetryPolicy_ExhaustsAfterMaxRetries(t *testing.T) {
	p := NewRetryPolicy(mustRetryCount(t, 2), time.Millisecond, time.Second, 2.0)

	_, ok := p.NextDelay(0)
	assert.True(t, ok)
	_, ok = p.NextDelay(1)
	assert.True(t, ok)
	_, ok = p.NextDelay(2)
	assert.False(t, ok, "attempt at or beyond max_retries must not be retried again")
}

func TestRetryPolicy_DelayGrowsWithAttempt(t *testing.T) {
	p := NewRetryPolicy(mustRetryCount(t, 5), 10*time.Millisecond, time.Second, 2.0)
	first, _ := p.NextDelay(0)
	later, _ := p.NextDelay(3)
	assert.Greater(t, later, first)
}

// syncHandler builds a FailureHandler whose scheduleTimer runs immediately
// and synchronously, so retry tests don't need to wait on real timers.
func syncHandler(retry *RetryPolicy, breaker *BreakerRegistry, dlq *DeadLetterQueue, sink EventSink) *FailureHandler {
	h := NewFailureHandler(retry, breaker, dlq, sink)
	h.scheduleTimer = func(d time.Duration, fn func()) { fn() }
	return h
}

func TestFailureHandler_TerminalReasonDeadLettersImmediately(t *testing.T) {
	sink := &recordingSink{}
	dlq := NewDeadLetterQueue(mustQueueCapacity(t, 4))
	h := syncHandler(NewRetryPolicy(mustRetryCount(t, 5), time.Millisecond, time.Second, 2.0),
		NewBreakerRegistry(5, time.Second, time.Second), dlq, sink)

	msg := newTestMessage(t)
	var redelivered bool
	h.Handle(msg, ReasonMessageTooLarge, errors.New("too big"), func(*Message) { redelivered = true })

	assert.False(t, redelivered)
	assert.Equal(t, 1, dlq.Len())
	require.Len(t, sink.events, 1)
	assert.Equal(t, EventDeadLettered, sink.events[0].Type)
}

// fakeNotifier records every FAILURE message FailureHandler attempts to
// deliver back to a sender, standing in for DeliveryEngine.deliverBestEffort.
type fakeNotifier struct {
	mu       sync.Mutex
	sent     []*Message
	failWith error
}

func (f *fakeNotifier) deliverBestEffort(msg *Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	f.sent = append(f.sent, msg)
	return nil
}

func TestFailureHandler_AgentNotFoundNotifiesSenderWithoutDeadLettering(t *testing.T) {
	sink := &recordingSink{}
	dlq := NewDeadLetterQueue(mustQueueCapacity(t, 4))
	h := syncHandler(NewRetryPolicy(mustRetryCount(t, 5), time.Millisecond, time.Second, 2.0),
		NewBreakerRegistry(5, time.Second, time.Second), dlq, sink)
	notifier := &fakeNotifier{}
	h.SetNotifier(notifier)

	msg := newTestMessage(t)
	h.Handle(msg, ReasonAgentNotFound, ErrAgentNotFound, func(*Message) {
		t.Fatal("an addressing failure must never be redelivered")
	})

	assert.Equal(t, 0, dlq.Len(), "addressing failures are sender-notified, never dead-lettered")
	require.Len(t, notifier.sent, 1)
	failMsg := notifier.sent[0]
	assert.Equal(t, types.Failure, failMsg.Performative)
	assert.True(t, failMsg.Sender.IsZero(), "a FAILURE message is sent by the system, not an agent")
	assert.Equal(t, msg.ID.String(), failMsg.InReplyTo)
	assert.Equal(t, msg.Sender, failMsg.Destination.AgentID())
}

func TestFailureHandler_FailureMessagesAreNeverThemselvesNotified(t *testing.T) {
	sink := &recordingSink{}
	dlq := NewDeadLetterQueue(mustQueueCapacity(t, 4))
	h := syncHandler(NewRetryPolicy(mustRetryCount(t, 5), time.Millisecond, time.Second, 2.0),
		NewBreakerRegistry(5, time.Second, time.Second), dlq, sink)
	notifier := &fakeNotifier{}
	h.SetNotifier(notifier)

	msg, err := NewMessage(types.NewAgentId(), ToAgent(types.NewAgentId()), types.Failure, []byte("x"), DeliveryOptions{})
	require.NoError(t, err)
	h.Handle(msg, ReasonAgentNotFound, ErrAgentNotFound, func(*Message) {})

	assert.Empty(t, notifier.sent, "a FAILURE about a FAILURE must not be generated")
}

func TestFailureHandler_RetriableReasonSchedulesRedeliver(t *testing.T) {
	sink := &recordingSink{}
	dlq := NewDeadLetterQueue(mustQueueCapacity(t, 4))
	h := syncHandler(NewRetryPolicy(mustRetryCount(t, 5), time.Millisecond, time.Second, 2.0),
		NewBreakerRegistry(5, time.Second, time.Second), dlq, sink)

	msg := newTestMessage(t)
	var mu sync.Mutex
	var redeliveredID types.MessageId
	h.Handle(msg, ReasonQueueFull, errors.New("full"), func(m *Message) {
		mu.Lock()
		redeliveredID = m.ID
		mu.Unlock()
	})

	mu.Lock()
	assert.Equal(t, msg.ID, redeliveredID)
	mu.Unlock()
	assert.Equal(t, 0, dlq.Len())
	assert.Equal(t, 1, msg.Attempt())
	require.Len(t, sink.events, 1)
	assert.Equal(t, EventRetryScheduled, sink.events[0].Type)
}

func TestFailureHandler_RetriableReasonDeadLettersAfterExhaustion(t *testing.T) {
	sink := &recordingSink{}
	dlq := NewDeadLetterQueue(mustQueueCapacity(t, 4))
	h := syncHandler(NewRetryPolicy(mustRetryCount(t, 1), time.Millisecond, time.Second, 2.0),
		NewBreakerRegistry(5, time.Second, time.Second), dlq, sink)

	msg := newTestMessage(t)
	msg.nextAttempt() // simulate having already used the one allowed retry

	h.Handle(msg, ReasonQueueFull, errors.New("full"), func(*Message) {
		t.Fatal("must not redeliver once retries are exhausted")
	})

	assert.Equal(t, 1, dlq.Len())
}
