package router

import (
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/caxton-io/router/types"
)

// SelectionPolicy picks one agent from a set of capability providers for a
// single message, following the donor discovery package's MatchStrategy
// enumeration (agent/discovery/types.go) but narrowed to the four policies
// spec.md §4.3 defines.
type SelectionPolicy int

const (
	SelectPriority SelectionPolicy = iota
	SelectLoadBalanced
	SelectLeastLoaded
	SelectFastestResponse
)

// Selector resolves a capability's providers to a single destination
// agent. It holds the small amount of rolling state (round-robin cursors,
// latency samples) the stateful policies need; stateless policies ignore
// it.
type Selector struct {
	policy SelectionPolicy

	rrCounter atomic.Uint64

	latencies *lru.Cache[string, time.Duration]
}

func NewSelector(policy SelectionPolicy) *Selector {
	s := &Selector{policy: policy}
	if policy == SelectFastestResponse {
		c, _ := lru.New[string, time.Duration](4096)
		s.latencies = c
	}
	return s
}

// RecordLatency feeds an observed round-trip latency for agent id back
// into the FastestResponse policy's rolling cache. Policies other than
// FastestResponse ignore this call.
func (s *Selector) RecordLatency(id types.AgentId, d time.Duration) {
	if s.latencies == nil {
		return
	}
	s.latencies.Add(id.String(), d)
}

// Select picks one candidate from candidates, which must be non-empty and
// already filtered to routable agents by the caller. Priority returns the
// first candidate as given; DeliveryEngine.resolve passes candidates sorted
// by AgentId, so for a given set of providers the choice is the same on
// every call.
func (s *Selector) Select(candidates []*Agent) (*Agent, error) {
	if len(candidates) == 0 {
		return nil, ErrNoCapableAgent
	}

	switch s.policy {
	case SelectPriority:
		return candidates[0], nil

	case SelectLoadBalanced:
		idx := s.rrCounter.Add(1) % uint64(len(candidates))
		return candidates[idx], nil

	case SelectLeastLoaded:
		best := candidates[0]
		bestDepth := best.Mailbox().Len()
		for _, c := range candidates[1:] {
			if d := c.Mailbox().Len(); d < bestDepth {
				best, bestDepth = c, d
			}
		}
		return best, nil

	case SelectFastestResponse:
		return s.selectFastest(candidates), nil

	default:
		return candidates[0], nil
	}
}

// selectFastest prefers the candidate with the lowest recorded latency
// sample; an agent with no sample yet is chosen only when no candidate has
// a recorded sample, and then the first such candidate wins.
func (s *Selector) selectFastest(candidates []*Agent) *Agent {
	var best *Agent
	bestLatency := time.Duration(-1)
	for _, c := range candidates {
		d, ok := s.latencies.Get(c.ID.String())
		if !ok {
			if best == nil {
				best = c
			}
			continue
		}
		if bestLatency == -1 || d < bestLatency {
			best, bestLatency = c, d
		}
	}
	if best == nil {
		best = candidates[0]
	}
	return best
}
