package router

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/caxton-io/router/router/persistence"
	"github.com/caxton-io/router/types"
)

// noopPersist is a PersistenceAdapter that never fails, for tests that
// don't exercise durability itself.
type noopPersist struct{}

func (noopPersist) Commit(context.Context, *Message) error { return nil }
func (noopPersist) Ack(context.Context, types.MessageId) error { return nil }
func (noopPersist) Pending(context.Context) ([]*Message, error) { return nil, nil }

func (noopPersist) CommitAgent(context.Context, AgentSnapshot) error { return nil }
func (noopPersist) DeleteAgent(context.Context, types.AgentId) error { return nil }
func (noopPersist) ListAgents(context.Context) ([]AgentSnapshot, error) { return nil, nil }

func (noopPersist) CommitConversation(context.Context, ConversationSummary) error { return nil }
func (noopPersist) DeleteConversation(context.Context, types.ConversationId) error { return nil }
func (noopPersist) ListConversations(context.Context) ([]ConversationSummary, error) { return nil, nil }

func (noopPersist) CommitDLQEntry(context.Context, DeadLetterEntry) error { return nil }
func (noopPersist) DeleteDLQEntry(context.Context, types.MessageId) error { return nil }
func (noopPersist) ListDLQEntries(context.Context) ([]DeadLetterEntry, error) { return nil, nil }

func (noopPersist) Close() error { return nil }

func testCoreConfig(t *testing.T) Config {
	t.Helper()
	cfg, err := DefaultConfig()
	require.NoError(t, err)
	cfg.WorkerCount = 2
	cfg.ConversationSweepInterval = time.Hour
	return cfg
}

func TestCore_RegisterAndRouteHappyPath(t *testing.T) {
	core := NewCore(testCoreConfig(t), zap.NewNop(), nil, noopPersist{})
	defer core.Shutdown(context.Background())

	id := types.NewAgentId()
	_, err := core.RegisterAgent(id, nil)
	require.NoError(t, err)
	require.NoError(t, core.UpdateAgentState(id, StateLoaded))
	require.NoError(t, core.UpdateAgentState(id, StateRunning))

	msg, err := NewMessage(types.NewAgentId(), ToAgent(id), types.Request, []byte("hi"), DeliveryOptions{})
	require.NoError(t, err)
	require.NoError(t, core.RouteMessage(msg))

	assert.Eventually(t, func() bool {
		return core.GetStats().Completed >= 1
	}, time.Second, time.Millisecond)
}

func TestCore_RejectsOversizedMessage(t *testing.T) {
	core := NewCore(testCoreConfig(t), zap.NewNop(), nil, noopPersist{})
	defer core.Shutdown(context.Background())

	huge := make([]byte, 20*1024*1024)
	msg, err := NewMessage(types.NewAgentId(), ToAgent(types.NewAgentId()), types.Request, huge, DeliveryOptions{})
	require.NoError(t, err)

	err = core.RouteMessage(msg)
	assert.ErrorIs(t, err, ErrMessageTooLarge)
}

func TestCore_HealthyAndReady(t *testing.T) {
	core := NewCore(testCoreConfig(t), zap.NewNop(), nil, noopPersist{})
	defer core.Shutdown(context.Background())

	assert.True(t, core.Healthy())
	assert.False(t, core.Ready(), "recovery has not run yet")

	require.NoError(t, core.Recover(context.Background()))
	assert.False(t, core.Ready(), "no routable agents yet")

	id := types.NewAgentId()
	_, err := core.RegisterAgent(id, nil)
	require.NoError(t, err)
	require.NoError(t, core.UpdateAgentState(id, StateLoaded))
	require.NoError(t, core.UpdateAgentState(id, StateRunning))
	assert.True(t, core.Ready())
}

func TestCore_RejectsAlreadyExpiredDeadlineWithoutAdmission(t *testing.T) {
	core := NewCore(testCoreConfig(t), zap.NewNop(), nil, noopPersist{})
	defer core.Shutdown(context.Background())

	msg, err := NewMessage(types.NewAgentId(), ToAgent(types.NewAgentId()), types.Request, []byte("hi"),
		DeliveryOptions{Timeout: time.Nanosecond})
	require.NoError(t, err)
	time.Sleep(time.Millisecond)

	err = core.RouteMessage(msg)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Zero(t, core.GetStats().Submitted, "a message past its deadline must never be admitted to the pool")
}

func TestCore_ShutdownRejectsFurtherMessages(t *testing.T) {
	core := NewCore(testCoreConfig(t), zap.NewNop(), nil, noopPersist{})
	require.NoError(t, core.Shutdown(context.Background()))
	assert.False(t, core.Healthy())

	msg, err := NewMessage(types.NewAgentId(), ToAgent(types.NewAgentId()), types.Request, []byte("hi"), DeliveryOptions{})
	require.NoError(t, err)
	assert.ErrorIs(t, core.RouteMessage(msg), ErrInternalError)
}

func TestCore_ShutdownIsIdempotent(t *testing.T) {
	core := NewCore(testCoreConfig(t), zap.NewNop(), nil, noopPersist{})
	require.NoError(t, core.Shutdown(context.Background()))
	assert.NoError(t, core.Shutdown(context.Background()))
}

func TestCore_DeadLetterProxiesReflectDLQ(t *testing.T) {
	cfg := testCoreConfig(t)
	mailboxCap, err := types.NewMailboxCapacity(1)
	require.NoError(t, err)
	cfg.PerAgentMailboxCapacity = mailboxCap
	noRetries, err := types.NewRetryCount(0)
	require.NoError(t, err)
	cfg.MaxRetries = noRetries

	core := NewCore(cfg, zap.NewNop(), nil, noopPersist{})
	defer core.Shutdown(context.Background())

	id := types.NewAgentId()
	_, err = core.RegisterAgent(id, nil)
	require.NoError(t, err)
	require.NoError(t, core.UpdateAgentState(id, StateLoaded))
	require.NoError(t, core.UpdateAgentState(id, StateRunning))

	assert.Empty(t, core.DeadLetters())

	filler, err := NewMessage(types.NewAgentId(), ToAgent(id), types.Request, []byte("hi"), DeliveryOptions{})
	require.NoError(t, err)
	require.NoError(t, core.RouteMessage(filler))

	msg, err := NewMessage(types.NewAgentId(), ToAgent(id), types.Request, []byte("hi"), DeliveryOptions{})
	require.NoError(t, err)
	require.NoError(t, core.RouteMessage(msg))

	assert.Eventually(t, func() bool {
		return len(core.DeadLetters()) == 1
	}, time.Second, time.Millisecond, "exhausted retry budget must terminally dead-letter")

	drained := core.DrainDeadLetters()
	assert.Len(t, drained, 1)
	assert.Empty(t, core.DeadLetters())
}

func TestCore_RecoverRehydratesAgentsAsLoaded(t *testing.T) {
	backend := persistence.NewMemoryAdapter()
	id := types.NewAgentId()
	// Simulate a prior process having registered and started this agent,
	// without needing a full Core lifecycle to produce the persisted record.
	require.NoError(t, backend.CommitAgent(context.Background(), persistence.AgentRecord{
		ID: id.String(), State: int(StateRunning), LastHeartbeat: time.Now(),
	}))

	core := NewCore(testCoreConfig(t), zap.NewNop(), nil, NewPersistAdapter(backend))
	defer core.Shutdown(context.Background())

	assert.False(t, core.Ready(), "recovery has not run yet")
	require.NoError(t, core.Recover(context.Background()))
	assert.False(t, core.Ready(), "a recovered Running agent restarts as Loaded, which is not routable until reactivated")

	agent, ok := core.registry.Lookup(id)
	require.True(t, ok)
	assert.Equal(t, StateLoaded, agent.State(), "a Running agent must recover as Loaded, not resume as Running")

	require.NoError(t, core.UpdateAgentState(id, StateRunning))
	assert.True(t, core.Ready())
}
