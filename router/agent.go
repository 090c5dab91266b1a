package router

import (
	"sync"
	"time"

	"github.com/caxton-io/router/types"
)

// AgentState is the lifecycle a registered agent moves through (spec.md
// §4.2). Transitions are enforced by transitionAllowed; anything not
// listed there is rejected with ErrInvalidTransition.
type AgentState int

const (
	StateUnloaded AgentState = iota
	StateLoaded
	StateRunning
	StateDraining
	StateStopped
	StateFailed
)

func (s AgentState) String() string {
	switch s {
	case StateUnloaded:
		return "Unloaded"
	case StateLoaded:
		return "Loaded"
	case StateRunning:
		return "Running"
	case StateDraining:
		return "Draining"
	case StateStopped:
		return "Stopped"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// transitionTable enumerates every legal edge in the agent lifecycle.
// Loaded, Running and Draining can each reach Failed directly; every other
// advance is sequential. Stopped is terminal, and Failed leads only back to
// Unloaded.
var transitionTable = map[AgentState]map[AgentState]struct{}{
	StateUnloaded: {StateLoaded: {}},
	StateLoaded:   {StateRunning: {}, StateFailed: {}},
	StateRunning:  {StateDraining: {}, StateFailed: {}},
	StateDraining: {StateStopped: {}, StateFailed: {}},
	StateStopped:  {},
	StateFailed:   {StateUnloaded: {}},
}

func transitionAllowed(from, to AgentState) bool {
	edges, ok := transitionTable[from]
	if !ok {
		return false
	}
	_, ok = edges[to]
	return ok
}

// Agent is the registry's record of a routable participant: its identity,
// advertised capabilities, lifecycle state, and the mailbox that holds
// messages admitted for it. Fields are mutated only through Registry
// methods, which go through the Agent's own methods; those hold the
// agent's mu for the duration.
type Agent struct {
	ID           types.AgentId
	Capabilities []types.CapabilityName

	mu            sync.RWMutex
	state         AgentState
	lastHeartbeat time.Time
	mailbox       *Mailbox
}

func newAgent(id types.AgentId, caps []types.CapabilityName, mailboxCap types.MailboxCapacity) *Agent {
	return &Agent{
		ID:            id,
		Capabilities:  caps,
		state:         StateUnloaded,
		lastHeartbeat: time.Now(),
		mailbox:       NewMailbox(mailboxCap),
	}
}

func (a *Agent) State() AgentState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

func (a *Agent) setState(to AgentState) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !transitionAllowed(a.state, to) {
		return ErrInvalidTransition.withCause(newRouterError(ReasonInvalidMessage,
			a.state.String()+" -> "+to.String()))
	}
	a.state = to
	return nil
}

// Routable reports whether the agent currently accepts inbound messages.
// Only Running agents do; Draining agents finish what's already queued but
// admit nothing new (spec.md §4.2).
func (a *Agent) Routable() bool {
	return a.State() == StateRunning
}

func (a *Agent) touchHeartbeat() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastHeartbeat = time.Now()
}

func (a *Agent) LastHeartbeat() time.Time {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.lastHeartbeat
}

func (a *Agent) Mailbox() *Mailbox { return a.mailbox }

// AgentSnapshot is a durable projection of an Agent's identity and
// lifecycle, independent of its live mailbox — the "agents" record
// family persisted by Registry (spec.md §4.1/§4.6).
type AgentSnapshot struct {
	ID            types.AgentId
	Capabilities  []types.CapabilityName
	State         AgentState
	LastHeartbeat time.Time
}

// Snapshot returns a's current durable projection.
func (a *Agent) Snapshot() AgentSnapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return AgentSnapshot{ID: a.ID, Capabilities: a.Capabilities, State: a.state, LastHeartbeat: a.lastHeartbeat}
}

// forceState sets state directly, bypassing transitionAllowed. It exists
// only to roll an in-memory state change back when the matching
// persistence commit fails, since the forward edge that just succeeded
// may have no legal reverse edge in transitionTable.
func (a *Agent) forceState(s AgentState) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = s
}

// forceHeartbeat sets lastHeartbeat directly, the Heartbeat-path
// counterpart to forceState.
func (a *Agent) forceHeartbeat(t time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastHeartbeat = t
}

func (a *Agent) hasCapability(name types.CapabilityName) bool {
	for _, c := range a.Capabilities {
		if c.Equal(name) {
			return true
		}
	}
	return false
}
