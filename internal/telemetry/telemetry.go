// Package telemetry provides OpenTelemetry tracing and Prometheus metrics
// helpers: StartCycle opens a root span per cycle, StartTransition a child
// span per state transition, and Metrics holds counters/histograms
// (RecordCycle, RecordStage) exposed on an optional local /metrics
// listener. Both sinks are no-ops when unconfigured. The `run` command
// builds the tracer and serves the registry, but the session controller
// calls none of these helpers, so no cycle or transition spans are emitted
// and the cycle/stage collectors stay at zero.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const serviceName = "gradi-mediation"

// Tracer wraps a trace.Tracer and the shutdown func for its exporter.
// Shutdown is a no-op func when no OTLP endpoint was configured.
type Tracer struct {
	tracer   trace.Tracer
	shutdown func(context.Context) error
}

// NoopTracer returns a Tracer whose spans are discarded and whose Shutdown
// does nothing, used when no OTLP endpoint is configured.
func NoopTracer() *Tracer {
	return &Tracer{tracer: otel.Tracer(serviceName), shutdown: func(context.Context) error { return nil }}
}

// NewTracer dials otlpEndpoint over insecure gRPC and installs a
// batch-exporting tracer provider, grounded on the reference OTLP wiring:
// otlptracegrpc client -> otlptrace exporter -> resource -> tracer provider.
func NewTracer(ctx context.Context, otlpEndpoint string) (*Tracer, error) {
	if otlpEndpoint == "" {
		return NoopTracer(), nil
	}

	exporter, err := otlptrace.New(
		ctx,
		otlptracegrpc.NewClient(
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithEndpoint(otlpEndpoint),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create otlp exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", serviceName),
			attribute.String("library.language", "go"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)

	return &Tracer{tracer: provider.Tracer(serviceName), shutdown: exporter.Shutdown}, nil
}

// Shutdown flushes and closes the exporter.
func (t *Tracer) Shutdown(ctx context.Context) error {
	return t.shutdown(ctx)
}

// StartCycle opens a root span for one capture-through-playback cycle.
func (t *Tracer) StartCycle(ctx context.Context, sessionID, cycleID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "cycle",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.String("cycle.id", cycleID),
		),
	)
}

// StartTransition opens a child span for one state-machine transition.
func (t *Tracer) StartTransition(ctx context.Context, state, event string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "transition",
		trace.WithAttributes(
			attribute.String("state", state),
			attribute.String("event", event),
		),
	)
}

// Metrics holds the Prometheus collectors exposed by a controller run.
type Metrics struct {
	CyclesTotal    *prometheus.CounterVec
	StageLatency   *prometheus.HistogramVec
	CycleDuration  prometheus.Histogram
	InvariantTotal prometheus.Counter
}

// NewMetrics constructs and registers the collectors against reg. Passing
// a fresh prometheus.NewRegistry (rather than the global DefaultRegisterer)
// keeps repeated test construction free of "already registered" panics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gradi_cycles_total",
			Help: "Total number of completed capture-through-playback cycles, by outcome.",
		}, []string{"outcome"}),
		StageLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gradi_stage_latency_seconds",
			Help:    "Latency of each pipeline stage.",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gradi_cycle_duration_seconds",
			Help:    "Total duration of a cycle from segment start to ack.",
			Buckets: prometheus.DefBuckets,
		}),
		InvariantTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gradi_invariant_violations_total",
			Help: "Total number of fatal resource-ledger invariant violations.",
		}),
	}
	reg.MustRegister(m.CyclesTotal, m.StageLatency, m.CycleDuration, m.InvariantTotal)
	return m
}

// RecordCycle observes one cycle's outcome and total duration.
func (m *Metrics) RecordCycle(outcome string, duration time.Duration) {
	m.CyclesTotal.WithLabelValues(outcome).Inc()
	m.CycleDuration.Observe(duration.Seconds())
}

// RecordStage observes one stage's latency.
func (m *Metrics) RecordStage(stage string, duration time.Duration) {
	m.StageLatency.WithLabelValues(stage).Observe(duration.Seconds())
}

const metricsReadHeaderTimeout = 3 * time.Second

// Serve runs a /metrics HTTP listener on addr until ctx is cancelled. It
// returns nil on a clean shutdown via ctx and any other error from
// ListenAndServe/Shutdown.
func Serve(ctx context.Context, addr string, reg *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: metricsReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
