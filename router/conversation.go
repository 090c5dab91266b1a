package router

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/caxton-io/router/types"
)

// ConversationPersister durably commits or removes a conversation
// snapshot — the "conversations" record family (spec.md §6). Touch and
// SweepExpired call this best-effort: conversations aren't part of
// spec.md §4.1's commit-before-ack set, only the recovery-on-start read
// path (§4.6) depends on them actually landing.
type ConversationPersister interface {
	CommitConversation(ctx context.Context, snap ConversationSummary) error
	DeleteConversation(ctx context.Context, id types.ConversationId) error
}

// conversationRecord tracks a single conversation's participants and the
// time it was last touched, for idle-expiration purposes (spec.md §4.6).
type conversationRecord struct {
	id           types.ConversationId
	participants map[string]types.AgentId
	lastActivity time.Time
	elem         *list.Element // position in the LRU-style expiry list
}

// ConversationManager tracks each conversation's participants and last
// activity and expires conversations that have gone idle past a
// configured threshold; per-conversation ordering comes from
// DeliveryEngine's sharding, not from here. Expiration is tracked with an
// ordered list rather than a timer per conversation, the same
// least-recently-used bookkeeping shape the donor persistence layer uses
// for its TTL cleanup sweep (agent/persistence/memory_message_store.go).
type ConversationManager struct {
	mu          sync.Mutex
	records     map[string]*conversationRecord
	order       *list.List // front = most recently touched
	idleTimeout time.Duration
	persist     ConversationPersister
}

func NewConversationManager(idleTimeout time.Duration) *ConversationManager {
	return &ConversationManager{
		records:     make(map[string]*conversationRecord),
		order:       list.New(),
		idleTimeout: idleTimeout,
	}
}

// SetPersister wires durable conversation commits. NewCore calls this only
// when a real persistence adapter is configured.
func (cm *ConversationManager) SetPersister(p ConversationPersister) {
	cm.persist = p
}

// Touch records activity on conversation id involving participant, creating
// the record if it doesn't exist yet.
func (cm *ConversationManager) Touch(id types.ConversationId, participant types.AgentId) {
	cm.mu.Lock()
	key := id.String()
	rec, ok := cm.records[key]
	if !ok {
		rec = &conversationRecord{id: id, participants: make(map[string]types.AgentId)}
		rec.elem = cm.order.PushFront(rec)
		cm.records[key] = rec
	} else {
		cm.order.MoveToFront(rec.elem)
	}
	rec.participants[participant.String()] = participant
	rec.lastActivity = time.Now()

	var snap ConversationSummary
	if cm.persist != nil {
		participants := make([]types.AgentId, 0, len(rec.participants))
		for _, p := range rec.participants {
			participants = append(participants, p)
		}
		snap = ConversationSummary{ID: rec.id, Participants: participants, LastActivity: rec.lastActivity}
	}
	cm.mu.Unlock()

	if cm.persist != nil {
		_ = cm.persist.CommitConversation(context.Background(), snap)
	}
}

// Participants returns the set of agents that have touched this
// conversation, or nil if it is unknown or has expired.
func (cm *ConversationManager) Participants(id types.ConversationId) []types.AgentId {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	rec, ok := cm.records[id.String()]
	if !ok {
		return nil
	}
	out := make([]types.AgentId, 0, len(rec.participants))
	for _, p := range rec.participants {
		out = append(out, p)
	}
	return out
}

// ConversationSummary is a point-in-time snapshot of a conversation's
// participants and recency, for the admin inspection surface.
type ConversationSummary struct {
	ID           types.ConversationId
	Participants []types.AgentId
	LastActivity time.Time
}

// List returns a snapshot of every live conversation, most recently
// touched first.
func (cm *ConversationManager) List() []ConversationSummary {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	out := make([]ConversationSummary, 0, len(cm.records))
	for e := cm.order.Front(); e != nil; e = e.Next() {
		rec := e.Value.(*conversationRecord)
		participants := make([]types.AgentId, 0, len(rec.participants))
		for _, p := range rec.participants {
			participants = append(participants, p)
		}
		out = append(out, ConversationSummary{ID: rec.id, Participants: participants, LastActivity: rec.lastActivity})
	}
	return out
}

// Restore reinserts a conversation recovered from persistence (spec.md
// §4.6), preserving its original LastActivity instead of resetting it to
// now the way Touch does. Callers restoring a batch must do so oldest
// LastActivity first, since each call places its record at the front of
// the recency list the same way Touch does.
func (cm *ConversationManager) Restore(s ConversationSummary) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	key := s.ID.String()
	if _, exists := cm.records[key]; exists {
		return
	}
	rec := &conversationRecord{id: s.ID, participants: make(map[string]types.AgentId), lastActivity: s.LastActivity}
	for _, p := range s.Participants {
		rec.participants[p.String()] = p
	}
	rec.elem = cm.order.PushFront(rec)
	cm.records[key] = rec
}

// SweepExpired removes every conversation whose last activity is older
// than idleTimeout, returning the ids removed. It walks from the back of
// the order list (least recently touched) and stops at the first
// still-live record, since the list stays sorted by recency.
func (cm *ConversationManager) SweepExpired(now time.Time) []types.ConversationId {
	cm.mu.Lock()
	var expired []types.ConversationId
	for e := cm.order.Back(); e != nil; {
		rec := e.Value.(*conversationRecord)
		if now.Sub(rec.lastActivity) <= cm.idleTimeout {
			break
		}
		prev := e.Prev()
		cm.order.Remove(e)
		delete(cm.records, rec.id.String())
		expired = append(expired, rec.id)
		e = prev
	}
	persist := cm.persist
	cm.mu.Unlock()

	if persist != nil {
		for _, id := range expired {
			_ = persist.DeleteConversation(context.Background(), id)
		}
	}
	return expired
}

// RunSweeper starts a goroutine that sweeps every interval until stop is
// closed. It returns the stop channel for the caller to close on shutdown.
func (cm *ConversationManager) RunSweeper(interval time.Duration, onExpire func(types.ConversationId)) (stop chan struct{}) {
	stop = make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				for _, id := range cm.SweepExpired(time.Now()) {
					if onExpire != nil {
						onExpire(id)
					}
				}
			case <-stop:
				return
			}
		}
	}()
	return stop
}
