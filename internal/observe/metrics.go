// Package observe provides application-wide observability primitives for
// Waystone: OpenTelemetry metrics and HTTP middleware that records them.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Waystone metrics.
const meterName = "github.com/emberfield/waystone"

// Metrics holds all OpenTelemetry metric instruments for the runtime.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// CommandDuration tracks end-to-end command dispatch latency. Use with
	// attribute.String("verb", ...).
	CommandDuration metric.Float64Histogram

	// StoreWriteDuration tracks state store commit latency, lock wait
	// included.
	StoreWriteDuration metric.Float64Histogram

	// AOIBuildDuration tracks area-of-interest composition latency.
	AOIBuildDuration metric.Float64Histogram

	// --- Counters ---

	// Commands counts dispatched commands. Use with attributes:
	//   attribute.String("verb", ...), attribute.String("status", ...)
	Commands metric.Int64Counter

	// BusPublishes counts world-update events handed to the bus. Use with
	//   attribute.String("status", ...)
	BusPublishes metric.Int64Counter

	// FramesSent counts outbound websocket frames by type.
	FramesSent metric.Int64Counter

	// --- Gauges ---

	// ActiveConnections tracks currently registered client sessions.
	ActiveConnections metric.Int64UpDownCounter

	// TunnelledConnections tracks connections currently relayed by the
	// gateway.
	TunnelledConnections metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// a serving loop whose writes wait on file locks and whose talk verb waits
// on an external HTTP call.
var latencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.CommandDuration, err = m.Float64Histogram("waystone.command.duration",
		metric.WithDescription("Latency of command dispatch by verb."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.StoreWriteDuration, err = m.Float64Histogram("waystone.store.write.duration",
		metric.WithDescription("Latency of state store commits, lock wait included."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AOIBuildDuration, err = m.Float64Histogram("waystone.aoi.build.duration",
		metric.WithDescription("Latency of area-of-interest composition."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Commands, err = m.Int64Counter("waystone.commands",
		metric.WithDescription("Total dispatched commands by verb and status."),
	); err != nil {
		return nil, err
	}
	if met.BusPublishes, err = m.Int64Counter("waystone.bus.publishes",
		metric.WithDescription("Total world-update publishes by status."),
	); err != nil {
		return nil, err
	}
	if met.FramesSent, err = m.Int64Counter("waystone.frames.sent",
		metric.WithDescription("Total outbound websocket frames by type."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveConnections, err = m.Int64UpDownCounter("waystone.active_connections",
		metric.WithDescription("Number of currently registered client sessions."),
	); err != nil {
		return nil, err
	}
	if met.TunnelledConnections, err = m.Int64UpDownCounter("waystone.tunnelled_connections",
		metric.WithDescription("Number of connections currently relayed by the gateway."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("waystone.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordCommand is a convenience method that records one command dispatch
// with the standard attribute set.
func (m *Metrics) RecordCommand(ctx context.Context, verb, status string, seconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("verb", verb),
		attribute.String("status", status),
	)
	m.Commands.Add(ctx, 1, attrs)
	m.CommandDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("verb", verb)))
}

// RecordBusPublish records one publish attempt outcome.
func (m *Metrics) RecordBusPublish(ctx context.Context, status string) {
	m.BusPublishes.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)))
}

// RecordFrame records one outbound frame by type.
func (m *Metrics) RecordFrame(ctx context.Context, frameType string) {
	m.FramesSent.Add(ctx, 1,
		metric.WithAttributes(attribute.String("type", frameType)))
}
