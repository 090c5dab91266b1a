package router

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caxton-io/router/types"
)

// fakeConversationPersister records every commit/delete ConversationManager
// asks it to perform.
type fakeConversationPersister struct {
	committed []ConversationSummary
	deleted   []types.ConversationId
}

func (f *fakeConversationPersister) CommitConversation(_ context.Context, s ConversationSummary) error {
	f.committed = append(f.committed, s)
	return nil
}

func (f *fakeConversationPersister) DeleteConversation(_ context.Context, id types.ConversationId) error {
	f.deleted = append(f.deleted, id)
	return nil
}

func TestConversationManager_TouchTracksParticipants(t *testing.T) {
	cm := NewConversationManager(time.Minute)
	conv := types.NewConversationId()
	a := types.NewAgentId()
	b := types.NewAgentId()

	cm.Touch(conv, a)
	cm.Touch(conv, b)

	participants := cm.Participants(conv)
	assert.Len(t, participants, 2)
}

func TestConversationManager_UnknownConversationReturnsNil(t *testing.T) {
	cm := NewConversationManager(time.Minute)
	assert.Nil(t, cm.Participants(types.NewConversationId()))
}

func TestConversationManager_SweepExpiredRemovesIdleOnly(t *testing.T) {
	cm := NewConversationManager(10 * time.Millisecond)
	stale := types.NewConversationId()
	fresh := types.NewConversationId()

	cm.Touch(stale, types.NewAgentId())
	time.Sleep(20 * time.Millisecond)
	cm.Touch(fresh, types.NewAgentId())

	expired := cm.SweepExpired(time.Now())
	assert.Contains(t, expired, stale)
	assert.NotContains(t, expired, fresh)
	assert.Nil(t, cm.Participants(stale))
	assert.NotNil(t, cm.Participants(fresh))
}

func TestConversationManager_ListReflectsLiveConversations(t *testing.T) {
	cm := NewConversationManager(time.Minute)
	conv := types.NewConversationId()
	cm.Touch(conv, types.NewAgentId())

	summaries := cm.List()
	require := assert.New(t)
	require.Len(summaries, 1)
	require.Equal(conv, summaries[0].ID)
}

func TestConversationManager_TouchCommitsToPersister(t *testing.T) {
	cm := NewConversationManager(time.Minute)
	persist := &fakeConversationPersister{}
	cm.SetPersister(persist)

	conv := types.NewConversationId()
	agent := types.NewAgentId()
	cm.Touch(conv, agent)

	require.Len(t, persist.committed, 1)
	assert.Equal(t, conv, persist.committed[0].ID)
	assert.Contains(t, persist.committed[0].Participants, agent)
}

func TestConversationManager_SweepExpiredDeletesPersistedRecord(t *testing.T) {
	cm := NewConversationManager(10 * time.Millisecond)
	persist := &fakeConversationPersister{}
	cm.SetPersister(persist)

	conv := types.NewConversationId()
	cm.Touch(conv, types.NewAgentId())
	time.Sleep(20 * time.Millisecond)

	cm.SweepExpired(time.Now())
	require.Len(t, persist.deleted, 1)
	assert.Equal(t, conv, persist.deleted[0])
}

func TestConversationManager_RestorePreservesLastActivity(t *testing.T) {
	cm := NewConversationManager(time.Hour)
	conv := types.NewConversationId()
	participant := types.NewAgentId()
	past := time.Now().Add(-time.Minute)

	cm.Restore(ConversationSummary{ID: conv, Participants: []types.AgentId{participant}, LastActivity: past})

	summaries := cm.List()
	require.Len(t, summaries, 1)
	assert.Equal(t, conv, summaries[0].ID)
	assert.WithinDuration(t, past, summaries[0].LastActivity, time.Millisecond)
	assert.Contains(t, cm.Participants(conv), participant)
}

func TestConversationManager_RunSweeperStopsCleanly(t *testing.T) {
	cm := NewConversationManager(5 * time.Millisecond)
	expiredCh := make(chan types.ConversationId, 1)
	stop := cm.RunSweeper(5*time.Millisecond, func(id types.ConversationId) {
		select {
		case expiredCh <- id:
		default:
		}
	})

	conv := types.NewConversationId()
	cm.Touch(conv, types.NewAgentId())

	select {
	case got := <-expiredCh:
		assert.Equal(t, conv, got)
	case <-time.After(time.Second):
		t.Fatal("sweeper never reported expiry")
	}
	close(stop)
}
