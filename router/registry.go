package router

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/caxton-io/router/types"
)

// AgentPersister is the narrow persistence surface Registry needs: durably
// commit or remove an agent's snapshot before acknowledging the
// corresponding call, per spec.md §4.1's commit-before-ack discipline. A
// nil AgentPersister (the zero value of the interface) disables
// persistence entirely, matching the nil-sink / nil-logger conventions
// elsewhere in this package.
type AgentPersister interface {
	CommitAgent(ctx context.Context, snap AgentSnapshot) error
	DeleteAgent(ctx context.Context, id types.AgentId) error
}

// Registry is the authoritative store of agent identity and lifecycle
// state, adapted from the donor CapabilityRegistry's map-plus-RWMutex
// shape and event-emission convention (agent/discovery/registry.go), but
// scoped to identity/lifecycle only — capability indexing lives in
// CapabilityIndex so the two can be rebuilt independently.
type Registry struct {
	log *zap.Logger

	mu     sync.RWMutex
	agents map[string]*Agent

	mailboxCapacity types.MailboxCapacity

	subMu       sync.RWMutex
	subscribers map[int]chan RegistryEvent
	nextSubID   int

	capIndex *CapabilityIndex
	persist  AgentPersister
}

// RegistryEventType mirrors the donor's DiscoveryEventType enum, narrowed
// to lifecycle transitions this router cares about.
type RegistryEventType string

const (
	EventAgentRegistered   RegistryEventType = "AgentRegistered"
	EventAgentStateChanged RegistryEventType = "AgentStateChanged"
	EventAgentDeregistered RegistryEventType = "AgentDeregistered"
)

type RegistryEvent struct {
	Type      RegistryEventType
	AgentID   types.AgentId
	State     AgentState
	Timestamp time.Time
}

func NewRegistry(log *zap.Logger, capIndex *CapabilityIndex, mailboxCapacity types.MailboxCapacity, persist AgentPersister) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		log:             log,
		agents:          make(map[string]*Agent),
		mailboxCapacity: mailboxCapacity,
		subscribers:     make(map[int]chan RegistryEvent),
		capIndex:        capIndex,
		persist:         persist,
	}
}

// Register adds a new agent in Unloaded state. Registering an id already
// present is rejected; callers must Deregister first. The new agent is
// committed to persistence before the call returns (spec.md §4.1
// commit-before-ack); a commit failure rolls the in-memory registration
// back so it is never observable as having succeeded.
func (r *Registry) Register(id types.AgentId, caps []types.CapabilityName) (*Agent, error) {
	r.mu.Lock()
	if _, exists := r.agents[id.String()]; exists {
		r.mu.Unlock()
		return nil, ErrAgentAlreadyRegistered
	}
	agent := newAgent(id, caps, r.mailboxCapacity)
	r.agents[id.String()] = agent
	r.mu.Unlock()

	if r.persist != nil {
		if err := r.persist.CommitAgent(context.Background(), agent.Snapshot()); err != nil {
			r.mu.Lock()
			delete(r.agents, id.String())
			r.mu.Unlock()
			return nil, ErrPersistenceError.withCause(err)
		}
	}

	if r.capIndex != nil {
		r.capIndex.addAgent(id, caps)
	}

	r.log.Info("agent registered", zap.String("agent_id", id.String()), zap.Int("capabilities", len(caps)))
	r.emit(RegistryEvent{Type: EventAgentRegistered, AgentID: id, State: StateUnloaded, Timestamp: time.Now()})
	return agent, nil
}

// Restore reinserts an agent from a persisted AgentSnapshot during
// recovery-on-start (spec.md §4.6), placing it directly into the snapshot's
// state rather than Unloaded and rehydrating the capability index. It does
// not commit back to persistence — the record already exists, that's where
// it came from.
func (r *Registry) Restore(snap AgentSnapshot) *Agent {
	agent := newAgent(snap.ID, snap.Capabilities, r.mailboxCapacity)
	agent.forceState(snap.State)
	agent.forceHeartbeat(snap.LastHeartbeat)

	r.mu.Lock()
	r.agents[snap.ID.String()] = agent
	r.mu.Unlock()

	if r.capIndex != nil {
		r.capIndex.addAgent(snap.ID, snap.Capabilities)
	}
	return agent
}

// Lookup returns the agent record for id, or ok=false if unknown.
func (r *Registry) Lookup(id types.AgentId) (*Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id.String()]
	return a, ok
}

// SetState advances an agent through the lifecycle (spec.md §4.2),
// rejecting edges transitionAllowed does not recognize. The new state is
// committed to persistence before the call returns; a commit failure rolls
// the in-memory transition back.
func (r *Registry) SetState(id types.AgentId, to AgentState) error {
	agent, ok := r.Lookup(id)
	if !ok {
		return ErrAgentNotFound
	}
	from := agent.State()
	if err := agent.setState(to); err != nil {
		return err
	}

	if r.persist != nil {
		if err := r.persist.CommitAgent(context.Background(), agent.Snapshot()); err != nil {
			agent.forceState(from)
			return ErrPersistenceError.withCause(err)
		}
	}

	r.log.Info("agent state changed", zap.String("agent_id", id.String()), zap.String("state", to.String()))
	r.emit(RegistryEvent{Type: EventAgentStateChanged, AgentID: id, State: to, Timestamp: time.Now()})
	return nil
}

// Heartbeat refreshes an agent's liveness timestamp. It does not change
// lifecycle state; a stale Running agent is detected by the caller
// comparing LastHeartbeat against a staleness threshold, mirroring the
// donor HealthChecker's local-heartbeat branch. Heartbeats are not part of
// spec.md §4.1's commit-before-ack set (only register, set_state, and
// admission are), so this does not touch persistence on every call.
func (r *Registry) Heartbeat(id types.AgentId) error {
	agent, ok := r.Lookup(id)
	if !ok {
		return ErrAgentNotFound
	}
	agent.touchHeartbeat()
	return nil
}

// Deregister removes an agent from the registry. graceful requests the
// agent drain first (caller must have already moved it to Draining then
// Stopped); forced removes regardless of current state, used for a dead
// agent detected by heartbeat staleness. The persisted record is deleted
// before the call returns; if that fails the in-memory removal is rolled
// back so the agent remains registered rather than silently diverging
// from the durable record.
func (r *Registry) Deregister(id types.AgentId, forced bool) error {
	agent, ok := r.Lookup(id)
	if !ok {
		return ErrAgentNotFound
	}
	if !forced && agent.State() != StateStopped {
		return ErrInvalidTransition.withCause(newRouterError(ReasonInvalidMessage, "graceful deregister requires Stopped state"))
	}

	r.mu.Lock()
	delete(r.agents, id.String())
	r.mu.Unlock()

	if r.persist != nil {
		if err := r.persist.DeleteAgent(context.Background(), id); err != nil {
			r.mu.Lock()
			r.agents[id.String()] = agent
			r.mu.Unlock()
			return ErrPersistenceError.withCause(err)
		}
	}

	if r.capIndex != nil {
		r.capIndex.removeAgent(id, agent.Capabilities)
	}

	r.log.Info("agent deregistered", zap.String("agent_id", id.String()), zap.Bool("forced", forced))
	r.emit(RegistryEvent{Type: EventAgentDeregistered, AgentID: id, Timestamp: time.Now()})
	return nil
}

// ListAgents returns a snapshot slice of every currently registered agent.
func (r *Registry) ListAgents() []*Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Agent, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, a)
	}
	return out
}

// Subscribe returns a channel of lifecycle events and an unsubscribe
// function, following the donor registry's Subscribe/Unsubscribe pair.
func (r *Registry) Subscribe(buffer int) (<-chan RegistryEvent, func()) {
	ch := make(chan RegistryEvent, buffer)
	r.subMu.Lock()
	id := r.nextSubID
	r.nextSubID++
	r.subscribers[id] = ch
	r.subMu.Unlock()

	return ch, func() {
		r.subMu.Lock()
		defer r.subMu.Unlock()
		if c, ok := r.subscribers[id]; ok {
			delete(r.subscribers, id)
			close(c)
		}
	}
}

// emit fans an event out to all subscribers without blocking the caller; a
// subscriber too slow to keep up drops the event, same tradeoff the donor
// registry makes with its goroutine-plus-recover emit path.
func (r *Registry) emit(evt RegistryEvent) {
	r.subMu.RLock()
	defer r.subMu.RUnlock()
	for _, ch := range r.subscribers {
		select {
		case ch <- evt:
		default:
		}
	}
}
