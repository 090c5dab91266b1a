package router

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/caxton-io/router/types"
)

// fakePersister is an AgentPersister whose CommitAgent call can be made to
// fail on demand, for exercising Registry's commit-before-ack rollback.
type fakePersister struct {
	failCommit bool
	committed  []AgentSnapshot
	deleted    []types.AgentId
}

func (f *fakePersister) CommitAgent(_ context.Context, snap AgentSnapshot) error {
	if f.failCommit {
		return errors.New("commit failed")
	}
	f.committed = append(f.committed, snap)
	return nil
}

func (f *fakePersister) DeleteAgent(_ context.Context, id types.AgentId) error {
	f.deleted = append(f.deleted, id)
	return nil
}

func newTestRegistry(t *testing.T) (*Registry, *CapabilityIndex) {
	t.Helper()
	idx := NewCapabilityIndex()
	return NewRegistry(zap.NewNop(), idx, mustMailboxCapacity(t, 4), nil), idx
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	reg, idx := newTestRegistry(t)
	sum, err := types.NewCapabilityName("summarize")
	require.NoError(t, err)

	id := types.NewAgentId()
	agent, err := reg.Register(id, []types.CapabilityName{sum})
	require.NoError(t, err)
	assert.Equal(t, id, agent.ID)

	got, ok := reg.Lookup(id)
	require.True(t, ok)
	assert.Equal(t, id, got.ID)
	assert.Len(t, idx.Providers(sum), 1)
}

func TestRegistry_RegisterDuplicateRejected(t *testing.T) {
	reg, _ := newTestRegistry(t)
	id := types.NewAgentId()
	_, err := reg.Register(id, nil)
	require.NoError(t, err)

	_, err = reg.Register(id, nil)
	assert.ErrorIs(t, err, ErrAgentAlreadyRegistered)
}

func TestRegistry_SetStateUnknownAgent(t *testing.T) {
	reg, _ := newTestRegistry(t)
	err := reg.SetState(types.NewAgentId(), StateLoaded)
	assert.ErrorIs(t, err, ErrAgentNotFound)
}

func TestRegistry_DeregisterRequiresStoppedUnlessForced(t *testing.T) {
	reg, idx := newTestRegistry(t)
	sum, err := types.NewCapabilityName("summarize")
	require.NoError(t, err)
	id := types.NewAgentId()
	_, err = reg.Register(id, []types.CapabilityName{sum})
	require.NoError(t, err)

	err = reg.Deregister(id, false)
	assert.Error(t, err, "graceful deregister of a non-Stopped agent must fail")

	require.NoError(t, reg.Deregister(id, true))
	_, ok := reg.Lookup(id)
	assert.False(t, ok)
	assert.Nil(t, idx.Providers(sum))
}

func TestRegistry_HeartbeatUpdatesTimestamp(t *testing.T) {
	reg, _ := newTestRegistry(t)
	id := types.NewAgentId()
	_, err := reg.Register(id, nil)
	require.NoError(t, err)

	agent, _ := reg.Lookup(id)
	before := agent.LastHeartbeat()
	time.Sleep(time.Millisecond)
	require.NoError(t, reg.Heartbeat(id))
	assert.True(t, agent.LastHeartbeat().After(before))
}

func TestRegistry_SubscribeReceivesEvents(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ch, unsubscribe := reg.Subscribe(4)
	defer unsubscribe()

	id := types.NewAgentId()
	_, err := reg.Register(id, nil)
	require.NoError(t, err)

	select {
	case evt := <-ch:
		assert.Equal(t, EventAgentRegistered, evt.Type)
		assert.Equal(t, id, evt.AgentID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for registration event")
	}
}

func TestRegistry_RegisterCommitsToPersistenceBeforeAck(t *testing.T) {
	idx := NewCapabilityIndex()
	persist := &fakePersister{}
	reg := NewRegistry(zap.NewNop(), idx, mustMailboxCapacity(t, 4), persist)

	id := types.NewAgentId()
	_, err := reg.Register(id, nil)
	require.NoError(t, err)
	require.Len(t, persist.committed, 1)
	assert.Equal(t, id, persist.committed[0].ID)
}

func TestRegistry_RegisterRollsBackOnCommitFailure(t *testing.T) {
	idx := NewCapabilityIndex()
	persist := &fakePersister{failCommit: true}
	reg := NewRegistry(zap.NewNop(), idx, mustMailboxCapacity(t, 4), persist)

	id := types.NewAgentId()
	_, err := reg.Register(id, nil)
	assert.ErrorIs(t, err, ErrPersistenceError)

	_, ok := reg.Lookup(id)
	assert.False(t, ok, "a failed commit must leave no trace of the registration")
}

func TestRegistry_DeregisterDeletesPersistedRecord(t *testing.T) {
	idx := NewCapabilityIndex()
	persist := &fakePersister{}
	reg := NewRegistry(zap.NewNop(), idx, mustMailboxCapacity(t, 4), persist)

	id := types.NewAgentId()
	_, err := reg.Register(id, nil)
	require.NoError(t, err)
	require.NoError(t, reg.Deregister(id, true))

	require.Len(t, persist.deleted, 1)
	assert.Equal(t, id, persist.deleted[0])
}

func TestRegistry_ListAgentsSnapshot(t *testing.T) {
	reg, _ := newTestRegistry(t)
	_, err := reg.Register(types.NewAgentId(), nil)
	require.NoError(t, err)
	_, err = reg.Register(types.NewAgentId(), nil)
	require.NoError(t, err)

	assert.Len(t, reg.ListAgents(), 2)
}
