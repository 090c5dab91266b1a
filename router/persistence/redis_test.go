package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caxton-io/router/types"
)

func newTestRedisAdapter(t *testing.T) *RedisAdapter {
	t.Helper()
	srv, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(srv.Close)

	adapter, err := NewRedisAdapter(RedisConfig{Addr: srv.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { adapter.Close() })
	return adapter
}

func TestRedisAdapter_CommitAckPending(t *testing.T) {
	adapter := newTestRedisAdapter(t)
	ctx := context.Background()
	id := types.NewMessageId()

	require.NoError(t, adapter.CommitRecord(ctx, Record{ID: id.String(), CreatedAt: time.Now()}))

	pending, err := adapter.Pending(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
	assert.Equal(t, id.String(), pending[0].ID)

	require.NoError(t, adapter.AckRecord(ctx, id))
	pending, err = adapter.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRedisAdapter_AckUnknownRecordFails(t *testing.T) {
	adapter := newTestRedisAdapter(t)
	err := adapter.AckRecord(context.Background(), types.NewMessageId())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisAdapter_AckedRecordNotCommittedToPendingSet(t *testing.T) {
	adapter := newTestRedisAdapter(t)
	ctx := context.Background()
	id := types.NewMessageId()

	require.NoError(t, adapter.CommitRecord(ctx, Record{ID: id.String(), Acked: true, CreatedAt: time.Now()}))

	pending, err := adapter.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
