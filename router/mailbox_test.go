package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caxton-io/router/types"
)

func newTestMessage(t *testing.T) *Message {
	t.Helper()
	msg, err := NewMessage(types.NewAgentId(), ToAgent(types.NewAgentId()), types.Request, []byte("hi"), DeliveryOptions{})
	require.NoError(t, err)
	return msg
}

func mustMailboxCapacity(t *testing.T, n int) types.MailboxCapacity {
	t.Helper()
	cap, err := types.NewMailboxCapacity(n)
	require.NoError(t, err)
	return cap
}

func TestMailbox_EnqueueDequeueFIFOWithinPriority(t *testing.T) {
	mb := NewMailbox(mustMailboxCapacity(t, 4))

	first := newTestMessage(t)
	second := newTestMessage(t)
	ok, evicted := mb.Enqueue(first, types.PriorityNormal)
	assert.True(t, ok)
	assert.False(t, evicted)
	ok, evicted = mb.Enqueue(second, types.PriorityNormal)
	assert.True(t, ok)
	assert.False(t, evicted)

	got, _, ok := mb.Dequeue()
	require.True(t, ok)
	assert.Equal(t, first.ID, got.ID)

	got, _, ok = mb.Dequeue()
	require.True(t, ok)
	assert.Equal(t, second.ID, got.ID)
}

func TestMailbox_HigherPriorityDequeuesFirst(t *testing.T) {
	mb := NewMailbox(mustMailboxCapacity(t, 4))

	low := newTestMessage(t)
	high := newTestMessage(t)
	mb.Enqueue(low, types.PriorityLow)
	mb.Enqueue(high, types.PriorityHigh)

	got, prio, ok := mb.Dequeue()
	require.True(t, ok)
	assert.Equal(t, high.ID, got.ID)
	assert.Equal(t, types.PriorityHigh, prio)
}

func TestMailbox_RejectsWhenFullAndNotCritical(t *testing.T) {
	mb := NewMailbox(mustMailboxCapacity(t, 1))
	ok, _ := mb.Enqueue(newTestMessage(t), types.PriorityNormal)
	require.True(t, ok)

	ok, evicted := mb.Enqueue(newTestMessage(t), types.PriorityHigh)
	assert.False(t, ok)
	assert.False(t, evicted)
	assert.Equal(t, int64(1), mb.Stats().Rejected)
}

func TestMailbox_CriticalEvictsLowestPriorityOldest(t *testing.T) {
	mb := NewMailbox(mustMailboxCapacity(t, 2))
	low := newTestMessage(t)
	normal := newTestMessage(t)
	mb.Enqueue(low, types.PriorityLow)
	mb.Enqueue(normal, types.PriorityNormal)

	critical := newTestMessage(t)
	ok, evicted := mb.Enqueue(critical, types.PriorityCritical)
	require.True(t, ok)
	assert.True(t, evicted)
	assert.Equal(t, 2, mb.Len())

	got, _, _ := mb.Dequeue()
	assert.Equal(t, critical.ID, got.ID)
	got, _, _ = mb.Dequeue()
	assert.Equal(t, normal.ID, got.ID, "the lower-priority (low) message should have been evicted, not normal")
}

func TestMailbox_AllCriticalRefusesEviction(t *testing.T) {
	mb := NewMailbox(mustMailboxCapacity(t, 1))
	ok, _ := mb.Enqueue(newTestMessage(t), types.PriorityCritical)
	require.True(t, ok)

	ok, evicted := mb.Enqueue(newTestMessage(t), types.PriorityCritical)
	assert.False(t, ok)
	assert.False(t, evicted)
}

func TestMailbox_DequeueEmptyReturnsFalse(t *testing.T) {
	mb := NewMailbox(mustMailboxCapacity(t, 1))
	_, _, ok := mb.Dequeue()
	assert.False(t, ok)
}

func TestMailbox_StatsReflectActivity(t *testing.T) {
	mb := NewMailbox(mustMailboxCapacity(t, 2))
	mb.Enqueue(newTestMessage(t), types.PriorityNormal)
	mb.Enqueue(newTestMessage(t), types.PriorityNormal)
	mb.Dequeue()

	stats := mb.Stats()
	assert.Equal(t, int64(2), stats.Enqueued)
	assert.Equal(t, int64(1), stats.Dequeued)
	assert.Equal(t, 1, stats.Depth)
}
