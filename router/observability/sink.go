package observability

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/caxton-io/router/router"
	"github.com/caxton-io/router/types"
)

// MetricsSink implements router.EventSink by feeding every Event into a
// Collector's Prometheus and OpenTelemetry metrics. The only per-message
// state it holds is the admitted-at timestamp needed to compute each
// message's terminal latency; everything else increments stateless
// counters, so it's safe to share across all of Core's goroutines.
type MetricsSink struct {
	collector *Collector
	tracer    trace.Tracer

	mu       sync.Mutex
	admitted map[types.MessageId]time.Time
}

func NewMetricsSink(collector *Collector) *MetricsSink {
	return &MetricsSink{
		collector: collector,
		tracer:    otel.Tracer("caxton-router"),
		admitted:  make(map[types.MessageId]time.Time),
	}
}

func (s *MetricsSink) Emit(e router.Event) {
	switch e.Type {
	case router.EventAdmitted:
		s.collector.messagesAdmitted.WithLabelValues().Inc()
		s.startSpan(e)
		s.mu.Lock()
		s.admitted[e.MessageID] = e.Timestamp
		s.mu.Unlock()
	case router.EventDelivered:
		s.collector.messagesDelivered.WithLabelValues().Inc()
		s.observeLatency(e)
	case router.EventDeliveryFailed, router.EventRejected:
		s.collector.messagesFailed.WithLabelValues(string(e.Reason)).Inc()
	case router.EventRetryScheduled:
		s.collector.retriesScheduled.WithLabelValues(string(e.Reason)).Inc()
	case router.EventDeadLettered:
		s.collector.deadLettered.WithLabelValues(string(e.Reason)).Inc()
		s.observeLatency(e)
	}
}

// observeLatency records the time between a message's Admitted event and
// its terminal outcome, then forgets the admission timestamp; only
// Delivered and DeadLettered are terminal in the causal ordering Events
// follow (RetryScheduled/DeliveryFailed/Rejected precede a later retry or
// are non-terminal for this purpose).
func (s *MetricsSink) observeLatency(e router.Event) {
	s.mu.Lock()
	start, ok := s.admitted[e.MessageID]
	if ok {
		delete(s.admitted, e.MessageID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	s.collector.ObserveDeliveryDuration(e.Timestamp.Sub(start).Seconds())
}

// startSpan opens a short-lived span recording the admission event; full
// span lifecycle (tying Admitted to its terminal outcome) is the sender's
// responsibility since Core does not hold spans open across retries.
func (s *MetricsSink) startSpan(e router.Event) {
	_, span := s.tracer.Start(context.Background(), "router.admit",
		trace.WithAttributes(attribute.String("message_id", e.MessageID.String())),
		trace.WithTimestamp(e.Timestamp),
	)
	span.End(trace.WithTimestamp(e.Timestamp.Add(time.Microsecond)))
}
