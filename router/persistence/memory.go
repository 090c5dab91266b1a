package persistence

import (
	"context"
	"sync"

	"github.com/caxton-io/router/types"
)

// MemoryAdapter is a non-durable stand-in: records live only in process
// memory and are lost on restart. It exists for tests and for local
// development, the same role the donor's memory backend plays.
type MemoryAdapter struct {
	mu      sync.Mutex
	records map[string]Record
	agents  map[string]AgentRecord
	convs   map[string]ConversationRecord
	dlq     map[string]DLQRecord
	closed  bool
}

func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{
		records: make(map[string]Record),
		agents:  make(map[string]AgentRecord),
		convs:   make(map[string]ConversationRecord),
		dlq:     make(map[string]DLQRecord),
	}
}

func (m *MemoryAdapter) CommitRecord(_ context.Context, r Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	m.records[r.ID] = r
	return nil
}

func (m *MemoryAdapter) AckRecord(_ context.Context, id types.MessageId) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	r, ok := m.records[id.String()]
	if !ok {
		return ErrNotFound
	}
	r.Acked = true
	m.records[id.String()] = r
	return nil
}

func (m *MemoryAdapter) Pending(_ context.Context) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, 0)
	for _, r := range m.records {
		if !r.Acked {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *MemoryAdapter) CommitAgent(_ context.Context, a AgentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	m.agents[a.ID] = a
	return nil
}

func (m *MemoryAdapter) DeleteAgent(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	delete(m.agents, id)
	return nil
}

func (m *MemoryAdapter) ListAgents(_ context.Context) ([]AgentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]AgentRecord, 0, len(m.agents))
	for _, a := range m.agents {
		out = append(out, a)
	}
	return out, nil
}

func (m *MemoryAdapter) CommitConversation(_ context.Context, c ConversationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	m.convs[c.ID] = c
	return nil
}

func (m *MemoryAdapter) DeleteConversation(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	delete(m.convs, id)
	return nil
}

func (m *MemoryAdapter) ListConversations(_ context.Context) ([]ConversationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ConversationRecord, 0, len(m.convs))
	for _, c := range m.convs {
		out = append(out, c)
	}
	return out, nil
}

func (m *MemoryAdapter) CommitDLQEntry(_ context.Context, d DLQRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	m.dlq[d.ID] = d
	return nil
}

func (m *MemoryAdapter) DeleteDLQEntry(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	delete(m.dlq, id)
	return nil
}

func (m *MemoryAdapter) ListDLQEntries(_ context.Context) ([]DLQRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]DLQRecord, 0, len(m.dlq))
	for _, d := range m.dlq {
		out = append(out, d)
	}
	return out, nil
}

func (m *MemoryAdapter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
