// Package telemetry wires OpenTelemetry tracing and metrics for mcpmux:
// spans around backend calls and parallel-agents phases, counters for
// circuit-breaker transitions and backend call success/failure. Tracing
// is a no-op until Init installs a tracer provider, so importing this
// package costs nothing in tests. Init installs no meter provider: the
// meter stays a no-op, so Counter and Histogram record nothing.
package telemetry

import (
	"context"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	noopmetric "go.opentelemetry.io/otel/metric/noop"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/arcway/mcpmux"

var (
	initOnce sync.Once
	tracer   trace.Tracer = otel.Tracer(instrumentationName)
	meter    metric.Meter = noopmetric.NewMeterProvider().Meter(instrumentationName)

	counters   = map[string]metric.Float64Counter{}
	histograms = map[string]metric.Float64Histogram{}
	mu         sync.Mutex
)

// Init installs a tracer provider. With OTEL_EXPORTER_OTLP_ENDPOINT set
// spans are shipped to an OTLP collector over gRPC; with
// MCPMUX_TRACE_STDOUT=1 they are printed to stderr (handy for local
// debugging); otherwise tracing is a no-op so the stdio transport's
// stdout is never polluted.
func Init(serviceName string) func(context.Context) error {
	shutdown := func(context.Context) error { return nil }
	initOnce.Do(func() {
		exporter, err := newSpanExporter()
		if err != nil || exporter == nil {
			return
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
		otel.SetTracerProvider(tp)
		tracer = tp.Tracer(instrumentationName)
		shutdown = tp.Shutdown
	})
	return shutdown
}

func newSpanExporter() (sdktrace.SpanExporter, error) {
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		return otlptracegrpc.New(context.Background(),
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithInsecure(),
		)
	}
	if os.Getenv("MCPMUX_TRACE_STDOUT") == "1" {
		return stdouttrace.New(stdouttrace.WithWriter(os.Stderr), stdouttrace.WithPrettyPrint())
	}
	return nil, nil
}

// StartSpan starts a span named after the component/operation pair, e.g.
// "backend.call", "workflow.council".
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func counter(name string) metric.Float64Counter {
	mu.Lock()
	defer mu.Unlock()
	if c, ok := counters[name]; ok {
		return c
	}
	c, _ := meter.Float64Counter(name)
	counters[name] = c
	return c
}

func histogram(name string) metric.Float64Histogram {
	mu.Lock()
	defer mu.Unlock()
	if h, ok := histograms[name]; ok {
		return h
	}
	h, _ := meter.Float64Histogram(name)
	histograms[name] = h
	return h
}

// Counter increments a named counter by 1 with the given label pairs.
func Counter(ctx context.Context, name string, labelPairs ...string) {
	counter(name).Add(ctx, 1, metric.WithAttributes(pairsToAttrs(labelPairs)...))
}

// Histogram records a value (latency ms, queue depth, etc).
func Histogram(ctx context.Context, name string, value float64, labelPairs ...string) {
	histogram(name).Record(ctx, value, metric.WithAttributes(pairsToAttrs(labelPairs)...))
}

// Duration is a convenience wrapper recording the elapsed time since start.
func Duration(ctx context.Context, name string, start time.Time, labelPairs ...string) {
	Histogram(ctx, name, float64(time.Since(start).Milliseconds()), labelPairs...)
}

func pairsToAttrs(pairs []string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		attrs = append(attrs, attribute.String(pairs[i], pairs[i+1]))
	}
	return attrs
}
