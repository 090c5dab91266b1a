package router

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/caxton-io/router/types"
)

func newTestDeliveryEngine(t *testing.T, policy SelectionPolicy, shardCount int) (*DeliveryEngine, *Registry, *CapabilityIndex) {
	t.Helper()
	capIdx := NewCapabilityIndex()
	registry := NewRegistry(zap.NewNop(), capIdx, mustMailboxCapacity(t, 4), nil)
	convs := NewConversationManager(time.Minute)
	selector := NewSelector(policy)
	breakers := NewBreakerRegistry(5, time.Second, time.Second)
	dlq := NewDeadLetterQueue(mustQueueCapacity(t, 8))
	failures := NewFailureHandler(NewRetryPolicy(mustRetryCount(t, 0), time.Millisecond, time.Millisecond, 2.0), breakers, dlq, NopSink{})
	de := NewDeliveryEngine(zap.NewNop(), registry, capIdx, convs, selector, breakers, failures, NopSink{}, shardCount, 16)
	t.Cleanup(de.Shutdown)
	return de, registry, capIdx
}

func registerRunning(t *testing.T, reg *Registry, caps ...types.CapabilityName) types.AgentId {
	t.Helper()
	id := types.NewAgentId()
	_, err := reg.Register(id, caps)
	require.NoError(t, err)
	require.NoError(t, reg.SetState(id, StateLoaded))
	require.NoError(t, reg.SetState(id, StateRunning))
	return id
}

func TestDeliveryEngine_IdentityRoutingHappyPath(t *testing.T) {
	de, reg, _ := newTestDeliveryEngine(t, SelectLeastLoaded, 2)
	target := registerRunning(t, reg)

	msg, err := NewMessage(types.NewAgentId(), ToAgent(target), types.Request, []byte("hi"), DeliveryOptions{Priority: types.PriorityNormal})
	require.NoError(t, err)

	require.NoError(t, de.Route(msg))

	agent, _ := reg.Lookup(target)
	assert.Equal(t, 1, agent.Mailbox().Len())
}

func TestDeliveryEngine_IdentityRoutingUnknownAgent(t *testing.T) {
	de, _, _ := newTestDeliveryEngine(t, SelectLeastLoaded, 2)
	msg, err := NewMessage(types.NewAgentId(), ToAgent(types.NewAgentId()), types.Request, []byte("hi"), DeliveryOptions{})
	require.NoError(t, err)

	err = de.Route(msg)
	assert.ErrorIs(t, err, ErrAgentNotFound)
}

func TestDeliveryEngine_IdentityRoutingNonRunningAgentIsNotFound(t *testing.T) {
	de, reg, _ := newTestDeliveryEngine(t, SelectLeastLoaded, 2)
	id := types.NewAgentId()
	_, err := reg.Register(id, nil)
	require.NoError(t, err)
	require.NoError(t, reg.SetState(id, StateLoaded))
	// Deliberately left Loaded, never advanced to Running.

	msg, err := NewMessage(types.NewAgentId(), ToAgent(id), types.Request, []byte("hi"), DeliveryOptions{})
	require.NoError(t, err)

	err = de.Route(msg)
	assert.ErrorIs(t, err, ErrAgentNotFound, "an identity-addressed agent that exists but isn't Running must be terminal, not retriable")
}

func TestDeliveryEngine_CapabilityRoutingPrefersLeastLoaded(t *testing.T) {
	de, reg, _ := newTestDeliveryEngine(t, SelectLeastLoaded, 2)
	sum, err := types.NewCapabilityName("summarize")
	require.NoError(t, err)

	busy := registerRunning(t, reg, sum)
	idle := registerRunning(t, reg, sum)

	busyAgent, _ := reg.Lookup(busy)
	prefill, err := NewMessage(types.NewAgentId(), ToAgent(busy), types.Request, []byte("x"), DeliveryOptions{})
	require.NoError(t, err)
	ok, _ := busyAgent.Mailbox().Enqueue(prefill, types.PriorityNormal)
	require.True(t, ok)

	msg, err := NewMessage(types.NewAgentId(), ToCapability(sum), types.Request, []byte("hi"), DeliveryOptions{})
	require.NoError(t, err)
	require.NoError(t, de.Route(msg))

	idleAgent, _ := reg.Lookup(idle)
	assert.Equal(t, 1, idleAgent.Mailbox().Len())
	assert.Equal(t, 1, busyAgent.Mailbox().Len(), "busy agent's mailbox must be unchanged")
}

func TestDeliveryEngine_CapabilityRoutingNoProviders(t *testing.T) {
	de, _, _ := newTestDeliveryEngine(t, SelectLeastLoaded, 2)
	sum, err := types.NewCapabilityName("summarize")
	require.NoError(t, err)

	msg, err := NewMessage(types.NewAgentId(), ToCapability(sum), types.Request, []byte("hi"), DeliveryOptions{})
	require.NoError(t, err)

	err = de.Route(msg)
	assert.ErrorIs(t, err, ErrNoCapableAgent)
}

func TestDeliveryEngine_PerConversationOrderingUnderParallelism(t *testing.T) {
	de, reg, _ := newTestDeliveryEngine(t, SelectLeastLoaded, 4)
	target := registerRunning(t, reg)
	conv := types.NewConversationId()
	sender := types.NewAgentId()

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			msg, err := NewMessage(sender, ToAgent(target), types.Inform, []byte("x"), DeliveryOptions{})
			require.NoError(t, err)
			msg = msg.WithConversation(conv)
			require.NoError(t, de.Route(msg))
		}()
	}
	wg.Wait()

	agent, _ := reg.Lookup(target)
	assert.Equal(t, n, agent.Mailbox().Len())
}

func TestDeliveryEngine_QueueFullTriggersFailureHandling(t *testing.T) {
	capIdx := NewCapabilityIndex()
	reg := NewRegistry(zap.NewNop(), capIdx, mustMailboxCapacity(t, 1), nil)
	convs := NewConversationManager(time.Minute)
	selector := NewSelector(SelectLeastLoaded)
	breakers := NewBreakerRegistry(5, time.Second, time.Second)
	dlq := NewDeadLetterQueue(mustQueueCapacity(t, 8))
	failures := NewFailureHandler(NewRetryPolicy(mustRetryCount(t, 0), time.Millisecond, time.Millisecond, 2.0), breakers, dlq, NopSink{})
	de := NewDeliveryEngine(zap.NewNop(), reg, capIdx, convs, selector, breakers, failures, NopSink{}, 1, 16)
	t.Cleanup(de.Shutdown)

	target := registerRunning(t, reg)
	agent, _ := reg.Lookup(target)
	filler, err := NewMessage(types.NewAgentId(), ToAgent(target), types.Request, []byte("x"), DeliveryOptions{Priority: types.PriorityNormal})
	require.NoError(t, err)
	ok, _ := agent.Mailbox().Enqueue(filler, types.PriorityNormal)
	require.True(t, ok)

	msg, err := NewMessage(types.NewAgentId(), ToAgent(target), types.Request, []byte("x"), DeliveryOptions{Priority: types.PriorityNormal})
	require.NoError(t, err)

	err = de.Route(msg)
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, 2, dlq.Len(), "max_retries=0 means the first queue-full failure dead-letters immediately; the FAILURE notice to the unregistered sender is dead-lettered too")
}
