package persistence

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/caxton-io/router/types"
)

// RedisAdapter is the shared/distributed production backend: every
// record is a JSON blob under keyPrefix+id, with a side-set of pending
// (unacked) ids so Pending doesn't need a full key scan, the same
// pending-index trick the donor's redis backend uses (spec.md §4.7
// durability requirement is backend-agnostic; this satisfies it via a
// real round trip to Redis rather than an in-process map).
type RedisAdapter struct {
	client *redis.Client
	prefix string
}

func NewRedisAdapter(cfg RedisConfig) (*RedisAdapter, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("persistence: redis ping: %w", err)
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "caxton:router:"
	}
	return &RedisAdapter{client: client, prefix: prefix}, nil
}

func (r *RedisAdapter) key(id string) string         { return r.prefix + "msg:" + id }
func (r *RedisAdapter) pendingSetKey() string         { return r.prefix + "pending" }
func (r *RedisAdapter) agentKey(id string) string     { return r.prefix + "agent:" + id }
func (r *RedisAdapter) agentSetKey() string           { return r.prefix + "agents" }
func (r *RedisAdapter) convKey(id string) string      { return r.prefix + "conv:" + id }
func (r *RedisAdapter) convSetKey() string            { return r.prefix + "convs" }
func (r *RedisAdapter) dlqKey(id string) string       { return r.prefix + "dlq:" + id }
func (r *RedisAdapter) dlqSetKey() string             { return r.prefix + "dlqs" }

func (r *RedisAdapter) CommitRecord(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.key(rec.ID), data, 0)
	if !rec.Acked {
		pipe.SAdd(ctx, r.pendingSetKey(), rec.ID)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisAdapter) AckRecord(ctx context.Context, id types.MessageId) error {
	data, err := r.client.Get(ctx, r.key(id.String())).Bytes()
	if err == redis.Nil {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	rec.Acked = true
	updated, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.key(id.String()), updated, 0)
	pipe.SRem(ctx, r.pendingSetKey(), id.String())
	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisAdapter) Pending(ctx context.Context) ([]Record, error) {
	ids, err := r.client.SMembers(ctx, r.pendingSetKey()).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(ids))
	for _, id := range ids {
		data, err := r.client.Get(ctx, r.key(id)).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, err
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r *RedisAdapter) CommitAgent(ctx context.Context, a AgentRecord) error {
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.agentKey(a.ID), data, 0)
	pipe.SAdd(ctx, r.agentSetKey(), a.ID)
	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisAdapter) DeleteAgent(ctx context.Context, id string) error {
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.agentKey(id))
	pipe.SRem(ctx, r.agentSetKey(), id)
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisAdapter) ListAgents(ctx context.Context) ([]AgentRecord, error) {
	ids, err := r.client.SMembers(ctx, r.agentSetKey()).Result()
	if err != nil {
		return nil, err
	}
	out := make([]AgentRecord, 0, len(ids))
	for _, id := range ids {
		data, err := r.client.Get(ctx, r.agentKey(id)).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, err
		}
		var a AgentRecord
		if err := json.Unmarshal(data, &a); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func (r *RedisAdapter) CommitConversation(ctx context.Context, c ConversationRecord) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.convKey(c.ID), data, 0)
	pipe.SAdd(ctx, r.convSetKey(), c.ID)
	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisAdapter) DeleteConversation(ctx context.Context, id string) error {
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.convKey(id))
	pipe.SRem(ctx, r.convSetKey(), id)
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisAdapter) ListConversations(ctx context.Context) ([]ConversationRecord, error) {
	ids, err := r.client.SMembers(ctx, r.convSetKey()).Result()
	if err != nil {
		return nil, err
	}
	out := make([]ConversationRecord, 0, len(ids))
	for _, id := range ids {
		data, err := r.client.Get(ctx, r.convKey(id)).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, err
		}
		var c ConversationRecord
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (r *RedisAdapter) CommitDLQEntry(ctx context.Context, d DLQRecord) error {
	data, err := json.Marshal(d)
	if err != nil {
		return err
	}
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.dlqKey(d.ID), data, 0)
	pipe.SAdd(ctx, r.dlqSetKey(), d.ID)
	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisAdapter) DeleteDLQEntry(ctx context.Context, id string) error {
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.dlqKey(id))
	pipe.SRem(ctx, r.dlqSetKey(), id)
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisAdapter) ListDLQEntries(ctx context.Context) ([]DLQRecord, error) {
	ids, err := r.client.SMembers(ctx, r.dlqSetKey()).Result()
	if err != nil {
		return nil, err
	}
	out := make([]DLQRecord, 0, len(ids))
	for _, id := range ids {
		data, err := r.client.Get(ctx, r.dlqKey(id)).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, err
		}
		var d DLQRecord
		if err := json.Unmarshal(data, &d); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func (r *RedisAdapter) Close() error {
	return r.client.Close()
}
