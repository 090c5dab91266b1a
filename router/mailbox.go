package router

import (
	"container/heap"
	"sync"
	"sync/atomic"

	"github.com/caxton-io/router/types"
)

// mailboxItem wraps an admitted message with the sequence number that
// breaks ties between equal priorities, preserving FIFO order within a
// priority band.
type mailboxItem struct {
	msg   *Message
	prio  types.Priority
	seq   uint64
}

// mailboxHeap is a max-heap ordered first by priority (higher first), then
// by sequence (lower, i.e. older, first) — container/heap's shape, adapted
// from the channel package's buffered-channel approach but needing an
// ordered structure rather than FIFO-only delivery.
type mailboxHeap []*mailboxItem

func (h mailboxHeap) Len() int { return len(h) }
func (h mailboxHeap) Less(i, j int) bool {
	if h[i].prio != h[j].prio {
		return h[i].prio > h[j].prio
	}
	return h[i].seq < h[j].seq
}
func (h mailboxHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *mailboxHeap) Push(x any)   { *h = append(*h, x.(*mailboxItem)) }
func (h *mailboxHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// Mailbox is a bounded, priority-ordered inbound queue for a single agent
// (spec.md §4.4). When full, admitting a Critical-priority message evicts
// the single lowest-priority, oldest queued message to make room; any
// other admission attempt against a full mailbox is rejected outright.
type Mailbox struct {
	mu       sync.Mutex
	capacity types.MailboxCapacity
	items    mailboxHeap
	nextSeq  uint64

	enqueued atomic.Int64
	dequeued atomic.Int64
	evicted  atomic.Int64
	rejected atomic.Int64
}

func NewMailbox(capacity types.MailboxCapacity) *Mailbox {
	m := &Mailbox{capacity: capacity}
	heap.Init(&m.items)
	return m
}

// Enqueue admits msg at the given priority. It reports ok=false without
// mutating the mailbox when the mailbox is full and msg is not Critical;
// evicted reports whether a lower-priority message was displaced to make
// room for a Critical admission.
func (m *Mailbox) Enqueue(msg *Message, prio types.Priority) (ok bool, evicted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.items) >= m.capacity.Int() {
		if prio != types.PriorityCritical {
			m.rejected.Add(1)
			return false, false
		}
		if !m.evictLowestLocked() {
			m.rejected.Add(1)
			return false, false
		}
		evicted = true
	}

	item := &mailboxItem{msg: msg, prio: prio, seq: m.nextSeq}
	m.nextSeq++
	heap.Push(&m.items, item)
	m.enqueued.Add(1)
	return true, evicted
}

// evictLowestLocked removes the single lowest-priority, oldest item in the
// heap. It refuses to evict another Critical message — if every queued
// item is Critical, admission fails instead (spec.md §4.4 edge case).
func (m *Mailbox) evictLowestLocked() bool {
	// Linear scan for lowest priority, and among those the highest seq
	// (newest), so the oldest survives.
	worstIdx := -1
	for i, it := range m.items {
		if it.prio == types.PriorityCritical {
			continue
		}
		if worstIdx == -1 {
			worstIdx = i
			continue
		}
		w := m.items[worstIdx]
		if it.prio < w.prio || (it.prio == w.prio && it.seq > w.seq) {
			worstIdx = i
		}
	}
	if worstIdx == -1 {
		return false
	}
	heap.Remove(&m.items, worstIdx)
	m.evicted.Add(1)
	return true
}

// Dequeue removes and returns the highest-priority, oldest message, or
// ok=false if the mailbox is empty.
func (m *Mailbox) Dequeue() (msg *Message, prio types.Priority, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.items) == 0 {
		return nil, 0, false
	}
	item := heap.Pop(&m.items).(*mailboxItem)
	m.dequeued.Add(1)
	return item.msg, item.prio, true
}

func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

func (m *Mailbox) Capacity() int { return m.capacity.Int() }

// MailboxStats reports cumulative admission counters, mirroring the
// donor channel package's Stats snapshot shape.
type MailboxStats struct {
	Enqueued int64
	Dequeued int64
	Evicted  int64
	Rejected int64
	Depth    int
}

func (m *Mailbox) Stats() MailboxStats {
	return MailboxStats{
		Enqueued: m.enqueued.Load(),
		Dequeued: m.dequeued.Load(),
		Evicted:  m.evicted.Load(),
		Rejected: m.rejected.Load(),
		Depth:    m.Len(),
	}
}
