package router

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/caxton-io/router/internal/ctxkeys"
	"github.com/caxton-io/router/internal/pool"
	"github.com/caxton-io/router/types"
)

// PersistenceAdapter durably commits router state and replays it on
// restart (spec.md §4.6/§4.7). Registry commits agent records before the
// corresponding call returns; a routed message is committed by the
// admission worker, after RouteMessage has already returned. It covers
// four of the five persisted record families — outbox (Commit/Ack/Pending),
// agents, conversations, and dlq — the "routes"
// family is not separately persisted since the capability index is pure
// derived state, rebuilt from agent records on Recover. The
// router/persistence package provides memory, sqlite, and redis-backed
// implementations.
type PersistenceAdapter interface {
	Commit(ctx context.Context, msg *Message) error
	Ack(ctx context.Context, id types.MessageId) error
	Pending(ctx context.Context) ([]*Message, error)

	CommitAgent(ctx context.Context, snap AgentSnapshot) error
	DeleteAgent(ctx context.Context, id types.AgentId) error
	ListAgents(ctx context.Context) ([]AgentSnapshot, error)

	CommitConversation(ctx context.Context, snap ConversationSummary) error
	DeleteConversation(ctx context.Context, id types.ConversationId) error
	ListConversations(ctx context.Context) ([]ConversationSummary, error)

	CommitDLQEntry(ctx context.Context, entry DeadLetterEntry) error
	DeleteDLQEntry(ctx context.Context, id types.MessageId) error
	ListDLQEntries(ctx context.Context) ([]DeadLetterEntry, error)

	Close() error
}

// Core is the public entry point: message admission, agent lifecycle
// proxies, and operational introspection. Admission is fronted by a
// bounded goroutine pool (internal/pool) so the number of concurrent
// in-flight commits is capped independent of how many conversations or
// agents exist.
type Core struct {
	log *zap.Logger
	cfg Config

	registry *Registry
	capIdx   *CapabilityIndex
	convs    *ConversationManager
	delivery *DeliveryEngine
	dlq      *DeadLetterQueue
	sink     EventSink
	persist  PersistenceAdapter
	workers  *pool.GoroutinePool
	limiter  *rate.Limiter

	closed    atomic.Bool
	recovered atomic.Bool
	sweepStop chan struct{}
}

// NewCore assembles every component from cfg. A nil sink discards all
// events; a nil persist adapter runs the router without durability:
// nothing is committed and Recover returns at once.
func NewCore(cfg Config, log *zap.Logger, sink EventSink, persist PersistenceAdapter) *Core {
	log = logOrNop(log)
	if sink == nil {
		sink = NopSink{}
	}

	capIdx := NewCapabilityIndex()
	registry := NewRegistry(log, capIdx, cfg.PerAgentMailboxCapacity, persist)
	convs := NewConversationManager(cfg.ConversationIdleTimeout)
	selector := NewSelector(cfg.DefaultSelectionPolicy)
	breakers := NewBreakerRegistry(cfg.BreakerConsecutiveFailures, cfg.BreakerOpenCooldown, cfg.BreakerMaxCooldown)
	dlq := NewDeadLetterQueue(cfg.DLQCapacity)
	failures := NewFailureHandler(
		NewRetryPolicy(cfg.MaxRetries, cfg.RetryBaseDelay, cfg.RetryMaxDelay, cfg.RetryBackoffFactor),
		breakers, dlq, sink,
	)
	if persist != nil {
		failures.SetPersister(persist)
		convs.SetPersister(persist)
		dlq.SetPersister(persist)
	}
	delivery := NewDeliveryEngine(log, registry, capIdx, convs, selector, breakers, failures, sink, cfg.WorkerCount, cfg.InboundQueueCapacity.Int())

	workerPool := pool.NewGoroutinePool(pool.GoroutinePoolConfig{
		MaxWorkers: cfg.WorkerCount,
		QueueSize:  cfg.InboundQueueCapacity.Int(),
		IdleTimeout: 60 * time.Second,
		PanicHandler: func(r any) {
			log.Error("admission worker panicked", zap.Any("recovered", r))
		},
	})

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.MaxAdmissionRate > 0 {
		burst := int(cfg.MaxAdmissionRate)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.MaxAdmissionRate), burst)
	}

	c := &Core{
		log:      log,
		cfg:      cfg,
		registry: registry,
		capIdx:   capIdx,
		convs:    convs,
		delivery: delivery,
		dlq:      dlq,
		sink:     sink,
		persist:  persist,
		workers:  workerPool,
		limiter:  limiter,
	}
	c.sweepStop = convs.RunSweeper(cfg.ConversationSweepInterval, func(types.ConversationId) {})

	return c
}

// admit commits msg (if a persistence adapter is configured), routes it,
// and acknowledges the commit — the unit of work the admission pool runs
// per message.
func (c *Core) admit(ctx context.Context, msg *Message) error {
	if msg.Trace.TraceID != "" {
		ctx = ctxkeys.WithTraceID(ctx, msg.Trace.TraceID)
		ctx = ctxkeys.WithSpanID(ctx, msg.Trace.SpanID)
	}
	if !msg.Conversation.IsZero() {
		ctx = ctxkeys.WithConversationID(ctx, msg.Conversation.String())
	}

	if c.persist != nil {
		if err := c.persist.Commit(ctx, msg); err != nil {
			c.log.Error("persistence commit failed", zap.Error(err), zap.String("message_id", msg.ID.String()))
			return ErrPersistenceError.withCause(err)
		}
	}

	if err := c.delivery.Route(msg); err != nil {
		c.log.Debug("delivery did not complete synchronously", zap.Error(err), zap.String("message_id", msg.ID.String()))
	}

	if c.persist != nil {
		_ = c.persist.Ack(ctx, msg.ID)
	}
	return nil
}

// Recover loads every persisted record family and rehydrates in-memory
// state from it (spec.md §4.6): agents (a Running agent loads as Loaded,
// pending re-activation by its runtime), the capability index (a pure
// function of loaded agents' capabilities, never itself persisted),
// non-expired conversations, the outbox of still-pending messages, and
// the dead-letter queue. Core is not Ready until this completes, even
// with no persistence adapter configured at all.
func (c *Core) Recover(ctx context.Context) error {
	if c.persist == nil {
		c.recovered.Store(true)
		return nil
	}

	agents, err := c.persist.ListAgents(ctx)
	if err != nil {
		return ErrPersistenceError.withCause(err)
	}
	for _, snap := range agents {
		if snap.State == StateRunning {
			snap.State = StateLoaded
		}
		c.registry.Restore(snap)
	}

	convs, err := c.persist.ListConversations(ctx)
	if err != nil {
		return ErrPersistenceError.withCause(err)
	}
	sort.Slice(convs, func(i, j int) bool { return convs[i].LastActivity.Before(convs[j].LastActivity) })
	for _, cs := range convs {
		if time.Since(cs.LastActivity) > c.cfg.ConversationIdleTimeout {
			_ = c.persist.DeleteConversation(ctx, cs.ID)
			continue
		}
		c.convs.Restore(cs)
	}

	entries, err := c.persist.ListDLQEntries(ctx)
	if err != nil {
		return ErrPersistenceError.withCause(err)
	}
	for _, e := range entries {
		c.dlq.Restore(e)
	}

	pending, err := c.persist.Pending(ctx)
	if err != nil {
		return ErrPersistenceError.withCause(err)
	}
	for _, msg := range pending {
		if err := c.delivery.Route(msg); err != nil {
			c.log.Debug("recovery redelivery did not complete synchronously", zap.Error(err), zap.String("message_id", msg.ID.String()))
		}
	}

	c.recovered.Store(true)
	return nil
}

// RouteMessage admits msg for delivery. It validates payload size and
// performative before enqueueing, and applies backpressure
// (ErrBackpressure) rather than blocking when the admission pool's queue
// is already full and cannot spawn another worker.
func (c *Core) RouteMessage(msg *Message) error {
	if c.closed.Load() {
		return ErrInternalError
	}
	if int64(len(msg.Content)) > c.cfg.MaxMessageBytes.Bytes() {
		return ErrMessageTooLarge
	}
	if !msg.Performative.Valid() {
		return ErrInvalidMessage
	}
	if msg.DeadlineExceeded() {
		return ErrTimeout
	}
	if !c.limiter.Allow() {
		return ErrBackpressure
	}

	timeout := msg.Options.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	err := c.workers.Submit(context.Background(), func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return c.admit(ctx, msg)
	})
	if err == pool.ErrPoolFull {
		return ErrBackpressure
	}
	if err == pool.ErrPoolClosed {
		return ErrInternalError
	}
	return err
}

// RegisterAgent adds id to the registry in Unloaded state.
func (c *Core) RegisterAgent(id types.AgentId, caps []types.CapabilityName) (*Agent, error) {
	return c.registry.Register(id, caps)
}

// UpdateAgentState advances id through the lifecycle state machine.
func (c *Core) UpdateAgentState(id types.AgentId, to AgentState) error {
	return c.registry.SetState(id, to)
}

// Heartbeat refreshes id's liveness timestamp.
func (c *Core) Heartbeat(id types.AgentId) error {
	return c.registry.Heartbeat(id)
}

// DeregisterAgent removes id from the registry.
func (c *Core) DeregisterAgent(id types.AgentId, forced bool) error {
	return c.registry.Deregister(id, forced)
}

// DeadLetters returns a snapshot of every currently retained dead-lettered
// message.
func (c *Core) DeadLetters() []DeadLetterEntry {
	return c.dlq.List()
}

// DrainDeadLetters removes and returns every retained dead-lettered
// message.
func (c *Core) DrainDeadLetters() []DeadLetterEntry {
	return c.dlq.Drain()
}

// ListConversations returns a snapshot of every live conversation.
func (c *Core) ListConversations() []ConversationSummary {
	return c.convs.List()
}

// Stats is the snapshot GetStats returns for the admin surface (spec.md
// §6): cumulative admission counters plus live structural sizes.
type Stats struct {
	Submitted         int64
	Completed         int64
	Failed            int64
	Rejected          int64
	DeadLettered      int
	DeadLetterEvicted int64
	AgentCount        int
	QueueDepth        int
	ActiveWorkers     int
}

func (c *Core) GetStats() Stats {
	ps := c.workers.Stats()
	return Stats{
		Submitted:         ps.Submitted,
		Completed:         ps.Completed,
		Failed:            ps.Failed,
		Rejected:          ps.Rejected,
		DeadLettered:      c.dlq.Len(),
		DeadLetterEvicted: c.dlq.Evicted(),
		AgentCount:        len(c.registry.ListAgents()),
		QueueDepth:        ps.Queued,
		ActiveWorkers:     ps.Active,
	}
}

// Healthy reports whether Core can currently accept new messages.
func (c *Core) Healthy() bool { return !c.closed.Load() }

// Ready reports whether Core has completed recovery-on-start (spec.md
// §4.6) and has at least one routable agent registered. Both conditions
// are distinct from Healthy: a freshly started router is healthy as soon
// as it can accept calls, but isn't ready until recovery has run and
// something exists to route to.
func (c *Core) Ready() bool {
	if !c.recovered.Load() {
		return false
	}
	for _, a := range c.registry.ListAgents() {
		if a.Routable() {
			return true
		}
	}
	return false
}

// Shutdown stops admitting new messages, drains the admission pool, and
// closes every delivery shard. It blocks until in-flight work completes
// or ctx is cancelled.
func (c *Core) Shutdown(ctx context.Context) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(c.sweepStop)

	// workers.Close() must fully drain in-flight admissions before
	// delivery.Shutdown() closes the per-shard channels those admissions
	// send into, so the two steps stay ordered; errgroup only replaces the
	// raw done-channel plumbing for waiting on workers.Close() under ctx.
	g := new(errgroup.Group)
	g.Go(func() error {
		c.workers.Close()
		return nil
	})

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	c.delivery.Shutdown()
	if c.persist != nil {
		return c.persist.Close()
	}
	return nil
}
