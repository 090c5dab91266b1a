package router

import (
	"sync"

	"github.com/caxton-io/router/types"
)

// CapabilityIndex is the inverted index from capability name to the set
// of agents advertising it, kept in lockstep with Registry's
// register/deregister calls (spec.md §4.3). It holds no lifecycle state
// of its own — Providers returns every registered agent advertising a
// capability, whatever its lifecycle state (deregistration removes it);
// filtering to routable agents is the Delivery Engine's job.
type CapabilityIndex struct {
	mu        sync.RWMutex
	providers map[string]map[string]types.AgentId // capability -> agentID string -> AgentId
}

func NewCapabilityIndex() *CapabilityIndex {
	return &CapabilityIndex{providers: make(map[string]map[string]types.AgentId)}
}

func (c *CapabilityIndex) addAgent(id types.AgentId, caps []types.CapabilityName) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, cap := range caps {
		set, ok := c.providers[cap.String()]
		if !ok {
			set = make(map[string]types.AgentId)
			c.providers[cap.String()] = set
		}
		set[id.String()] = id
	}
}

func (c *CapabilityIndex) removeAgent(id types.AgentId, caps []types.CapabilityName) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, cap := range caps {
		set, ok := c.providers[cap.String()]
		if !ok {
			continue
		}
		delete(set, id.String())
		if len(set) == 0 {
			delete(c.providers, cap.String())
		}
	}
}

// Providers returns every agent id currently advertising name, in no
// particular order. A capability with no providers yields nil — the index
// drops a capability's set once its last provider is removed, so "no
// providers" and "never advertised" look the same here.
func (c *CapabilityIndex) Providers(name types.CapabilityName) []types.AgentId {
	c.mu.RLock()
	defer c.mu.RUnlock()
	set, ok := c.providers[name.String()]
	if !ok {
		return nil
	}
	out := make([]types.AgentId, 0, len(set))
	for _, id := range set {
		out = append(out, id)
	}
	return out
}
