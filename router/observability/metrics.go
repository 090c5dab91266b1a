// Package observability wires the router's Event stream into Prometheus
// metrics and OpenTelemetry tracing.
package observability

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// Collector holds every Prometheus metric the router exposes, built with
// promauto the same way the donor's internal/metrics collector builds its
// HTTP/LLM/agent metric sets, narrowed to the router's own event
// vocabulary (admitted/delivered/failed/retried/dead-lettered, mailbox
// depth, breaker state).
type Collector struct {
	messagesAdmitted   *prometheus.CounterVec
	messagesDelivered  *prometheus.CounterVec
	messagesFailed     *prometheus.CounterVec
	retriesScheduled   *prometheus.CounterVec
	deadLettered       *prometheus.CounterVec
	mailboxDepth       *prometheus.GaugeVec
	breakerState       *prometheus.GaugeVec
	deliveryDuration   *prometheus.HistogramVec

	// otelLatency mirrors deliveryDuration through the OpenTelemetry metric
	// API (stats snapshot instrumentation, see SPEC_FULL.md's DOMAIN STACK),
	// so a process that exports via an OTel collector sees the same
	// admission-to-terminal-outcome latency Prometheus does.
	otelLatency metric.Float64Histogram

	logger *zap.Logger
}

func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{logger: logger.With(zap.String("component", "observability"))}

	c.messagesAdmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "messages_admitted_total", Help: "Total messages admitted for routing."},
		[]string{},
	)
	c.messagesDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "messages_delivered_total", Help: "Total messages successfully enqueued to a destination mailbox."},
		[]string{},
	)
	c.messagesFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "messages_failed_total", Help: "Total delivery failures by reason."},
		[]string{"reason"},
	)
	c.retriesScheduled = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "retries_scheduled_total", Help: "Total retry attempts scheduled."},
		[]string{"reason"},
	)
	c.deadLettered = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "dead_lettered_total", Help: "Total messages retired to the dead-letter queue."},
		[]string{"reason"},
	)
	c.mailboxDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{Namespace: namespace, Name: "mailbox_depth", Help: "Current depth of an agent's mailbox."},
		[]string{"agent_id"},
	)
	c.breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{Namespace: namespace, Name: "breaker_state", Help: "Circuit breaker state per destination (0=closed, 1=half-open, 2=open)."},
		[]string{"destination"},
	)
	c.deliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{Namespace: namespace, Name: "delivery_duration_seconds", Help: "Time from admission to terminal delivery outcome.", Buckets: prometheus.DefBuckets},
		[]string{},
	)

	meter := otel.Meter(namespace)
	hist, err := meter.Float64Histogram(
		namespace+".delivery_duration_seconds",
		metric.WithDescription("Time from admission to terminal delivery outcome."),
		metric.WithUnit("s"),
	)
	if err != nil {
		c.logger.Warn("failed to create otel delivery duration histogram", zap.Error(err))
		hist = noopFloat64Histogram{}
	}
	c.otelLatency = hist

	return c
}

// ObserveDeliveryDuration records d as a completed admission-to-terminal-
// outcome latency sample on both the Prometheus and OpenTelemetry
// instruments.
func (c *Collector) ObserveDeliveryDuration(seconds float64) {
	c.deliveryDuration.WithLabelValues().Observe(seconds)
	c.otelLatency.Record(context.Background(), seconds)
}

// noopFloat64Histogram stands in if the global MeterProvider rejects
// instrument creation, so a misconfigured provider degrades to
// Prometheus-only rather than panicking on every Record call.
type noopFloat64Histogram struct{ metric.Float64Histogram }

func (noopFloat64Histogram) Record(context.Context, float64, ...metric.RecordOption) {}

func (c *Collector) SetMailboxDepth(agentID string, depth int) {
	c.mailboxDepth.WithLabelValues(agentID).Set(float64(depth))
}

func (c *Collector) SetBreakerState(destination string, state int) {
	c.breakerState.WithLabelValues(destination).Set(float64(state))
}
