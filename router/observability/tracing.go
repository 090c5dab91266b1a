package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// InitTracing installs a global TracerProvider sampling at ratio (spec.md
// §6's trace_sampling_ratio), returning a shutdown function the caller
// must invoke on process exit to flush any buffered spans.
func InitTracing(serviceName string, ratio float64) (shutdown func(context.Context) error, err error) {
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// InitMetrics installs a global MeterProvider so Collector's otel
// histograms (ObserveDeliveryDuration) record into an instrument an
// external OTel collector can read, independent of the Prometheus
// exposition path on the admin server. It carries no exporter by
// default: the process is still scraped via /metrics, and this hook
// exists for deployments that additionally run an OTLP sidecar.
func InitMetrics() (shutdown func(context.Context) error, err error) {
	mp := sdkmetric.NewMeterProvider()
	otel.SetMeterProvider(mp)
	return mp.Shutdown, nil
}
