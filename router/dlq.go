package router

import (
	"context"
	"sync"
	"time"

	"github.com/caxton-io/router/types"
)

// DLQPersister durably commits or removes a dead-letter entry — the "dlq"
// record family (spec.md §6). FailureHandler commits through its own
// narrower dlqPersister; DeadLetterQueue holds this wider interface only to
// clean up entries it evicts or drains on its own.
type DLQPersister interface {
	DeleteDLQEntry(ctx context.Context, id types.MessageId) error
}

// DeadLetterEntry records a terminally undeliverable message alongside
// the reason it was retired from the active retry path.
type DeadLetterEntry struct {
	Message   *Message
	Reason    FailureReason
	Cause     error
	RetiredAt time.Time
}

// DeadLetterQueue is a bounded ring buffer of dead-lettered messages
// (spec.md §4.6): once full, the oldest entry is evicted to admit the
// newest, so the queue can never apply backpressure to the router itself.
type DeadLetterQueue struct {
	mu       sync.Mutex
	entries  []DeadLetterEntry
	capacity int
	head     int // index of the oldest entry
	size     int

	evicted int64
	persist DLQPersister
}

func NewDeadLetterQueue(capacity types.QueueCapacity) *DeadLetterQueue {
	return &DeadLetterQueue{
		entries:  make([]DeadLetterEntry, capacity.Int()),
		capacity: capacity.Int(),
	}
}

// SetPersister wires durable DLQ deletion. NewCore calls this only when a
// real persistence adapter is configured; without it, evicted/drained
// entries simply vanish from memory as before.
func (q *DeadLetterQueue) SetPersister(p DLQPersister) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.persist = p
}

func (q *DeadLetterQueue) Add(msg *Message, reason FailureReason, cause error) {
	q.Restore(DeadLetterEntry{Message: msg, Reason: reason, Cause: cause, RetiredAt: time.Now()})
}

// Restore inserts a fully-formed entry, preserving its RetiredAt rather
// than stamping a new one. Add uses this for a fresh failure; recovery
// uses it directly to reinsert entries reloaded from persistence (spec.md
// §4.6) without disturbing their original retirement time.
func (q *DeadLetterQueue) Restore(entry DeadLetterEntry) {
	q.mu.Lock()

	if q.size < q.capacity {
		idx := (q.head + q.size) % q.capacity
		q.entries[idx] = entry
		q.size++
		q.mu.Unlock()
		return
	}

	evicted := q.entries[q.head]
	q.entries[q.head] = entry
	q.head = (q.head + 1) % q.capacity
	q.evicted++
	persist := q.persist
	q.mu.Unlock()

	if persist != nil && evicted.Message != nil {
		_ = persist.DeleteDLQEntry(context.Background(), evicted.Message.ID)
	}
}

// List returns a snapshot of every currently retained entry, oldest
// first.
func (q *DeadLetterQueue) List() []DeadLetterEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]DeadLetterEntry, q.size)
	for i := 0; i < q.size; i++ {
		out[i] = q.entries[(q.head+i)%q.capacity]
	}
	return out
}

// Drain removes and returns every retained entry, leaving the queue
// empty, for the admin surface's drain operation (spec.md §6).
func (q *DeadLetterQueue) Drain() []DeadLetterEntry {
	q.mu.Lock()
	out := make([]DeadLetterEntry, q.size)
	for i := 0; i < q.size; i++ {
		out[i] = q.entries[(q.head+i)%q.capacity]
	}
	q.head = 0
	q.size = 0
	persist := q.persist
	q.mu.Unlock()

	if persist != nil {
		for _, e := range out {
			if e.Message != nil {
				_ = persist.DeleteDLQEntry(context.Background(), e.Message.ID)
			}
		}
	}
	return out
}

func (q *DeadLetterQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

func (q *DeadLetterQueue) Evicted() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.evicted
}
