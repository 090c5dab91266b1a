package router

import (
	"time"

	"github.com/caxton-io/router/types"
)

// EventType enumerates the causally ordered observability events spec.md
// §6 requires: Admitted always precedes exactly one terminal outcome per
// delivery attempt, and RetryScheduled/DeadLettered bridge attempts.
type EventType string

const (
	EventAdmitted       EventType = "Admitted"
	EventDelivered      EventType = "Delivered"
	EventDeliveryFailed EventType = "DeliveryFailed"
	EventRetryScheduled EventType = "RetryScheduled"
	EventDeadLettered   EventType = "DeadLettered"
	EventRejected       EventType = "Rejected"
)

// Event is the structured record emitted for every routing decision. Only
// the fields relevant to Type are populated; the rest stay zero.
type Event struct {
	Type        EventType
	MessageID   types.MessageId
	Sender      types.AgentId
	Destination types.AgentId
	Reason      FailureReason
	Attempt     int
	Timestamp   time.Time
}

// EventSink receives every Event the router emits, in causal order per
// message. Implementations must not block the caller for long — the
// router calls Emit synchronously from the delivery path.
type EventSink interface {
	Emit(Event)
}

// NopSink discards every event; it is the zero-configuration default so
// Core never needs a nil check on its sink.
type NopSink struct{}

func (NopSink) Emit(Event) {}

// MultiSink fans an event out to every sink it wraps, same shape as the
// donor registry's multi-subscriber fan-out but synchronous since sinks
// here are expected to be cheap (metrics increments, buffered log writes).
type MultiSink []EventSink

func (m MultiSink) Emit(e Event) {
	for _, s := range m {
		s.Emit(e)
	}
}
