package router

import (
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// BreakerRegistry holds one circuit breaker per destination key (spec.md
// §4.5): repeated delivery failures to the same agent trip its breaker,
// short-circuiting further attempts until a cooldown elapses. The Config
// shape mirrors the donor llm/circuitbreaker package's
// Threshold/Timeout/ResetTimeout fields; the implementation itself is
// sony/gobreaker/v2 rather than the donor's hand-rolled state machine.
type BreakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[struct{}]

	consecutiveFailures uint32
	openCooldown        time.Duration
	maxCooldown         time.Duration
}

func NewBreakerRegistry(consecutiveFailures uint32, openCooldown, maxCooldown time.Duration) *BreakerRegistry {
	return &BreakerRegistry{
		breakers:            make(map[string]*gobreaker.CircuitBreaker[struct{}]),
		consecutiveFailures: consecutiveFailures,
		openCooldown:        openCooldown,
		maxCooldown:         maxCooldown,
	}
}

func (r *BreakerRegistry) forKey(key string) *gobreaker.CircuitBreaker[struct{}] {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[key]; ok {
		return cb
	}

	settings := gobreaker.Settings{
		Name:        key,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     r.openCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= r.consecutiveFailures
		},
	}
	cb := gobreaker.NewCircuitBreaker[struct{}](settings)
	r.breakers[key] = cb
	return cb
}

// Execute runs attempt through key's breaker. If the breaker is open it
// returns ErrBreakerOpen without calling attempt at all; otherwise it runs
// attempt and feeds the result back into the breaker's trip/reset
// counters.
func (r *BreakerRegistry) Execute(key string, attempt func() error) error {
	cb := r.forKey(key)
	_, err := cb.Execute(func() (struct{}, error) {
		return struct{}{}, attempt()
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return ErrBreakerOpen
	}
	return err
}

// State reports a destination's current breaker state.
func (r *BreakerRegistry) State(key string) gobreaker.State {
	return r.forKey(key).State()
}
