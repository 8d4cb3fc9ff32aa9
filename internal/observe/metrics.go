// Package observe wires omnillm into OpenTelemetry: metric instruments,
// spans, trace-aware logging and the HTTP middleware the gateway mounts.
//
// [InitProvider] installs the SDK with a Prometheus exporter so the
// instruments below are scraped from /metrics. Library code records through
// [DefaultMetrics]; tests build an isolated set with [NewMetrics].
package observe

import (
	"context"
	"errors"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/MrWong99/omnillm"

// Bucket boundaries in seconds. Model round trips span sub-second to
// minutes; tool calls are usually far quicker.
var (
	llmBuckets  = []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120}
	toolBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 10}
)

// Metrics is the set of instruments omnillm records into.
type Metrics struct {
	// LLMDuration: seconds per provider call, by provider and operation.
	LLMDuration metric.Float64Histogram
	// ToolExecutionDuration: seconds per tool call, by tool and status.
	ToolExecutionDuration metric.Float64Histogram
	// HTTPRequestDuration: seconds per gateway request, by method, path and status.
	HTTPRequestDuration metric.Float64Histogram

	ProviderRequests metric.Int64Counter
	ProviderErrors   metric.Int64Counter
	Tokens           metric.Int64Counter
	Cost             metric.Float64Counter
	ToolCalls        metric.Int64Counter

	// ActiveStreams is the number of completion streams still open.
	ActiveStreams metric.Int64UpDownCounter
}

// instruments creates instruments on one meter and collects their
// registration errors.
type instruments struct {
	meter metric.Meter
	errs  []error
}

func (b *instruments) histogram(name, desc string, buckets []float64) metric.Float64Histogram {
	opts := []metric.Float64HistogramOption{metric.WithDescription(desc), metric.WithUnit("s")}
	if buckets != nil {
		opts = append(opts, metric.WithExplicitBucketBoundaries(buckets...))
	}
	h, err := b.meter.Float64Histogram(name, opts...)
	b.errs = append(b.errs, err)
	return h
}

func (b *instruments) counter(name, desc, unit string) metric.Int64Counter {
	opts := []metric.Int64CounterOption{metric.WithDescription(desc)}
	if unit != "" {
		opts = append(opts, metric.WithUnit(unit))
	}
	c, err := b.meter.Int64Counter(name, opts...)
	b.errs = append(b.errs, err)
	return c
}

// NewMetrics registers every instrument on a meter from mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	b := &instruments{meter: mp.Meter(meterName)}
	m := &Metrics{
		LLMDuration:           b.histogram("omnillm.llm.duration", "Latency of LLM provider calls.", llmBuckets),
		ToolExecutionDuration: b.histogram("omnillm.tool_execution.duration", "Latency of tool execution.", toolBuckets),
		HTTPRequestDuration:   b.histogram("omnillm.http.request.duration", "Gateway request latency.", nil),

		ProviderRequests: b.counter("omnillm.provider.requests", "Provider calls by provider, operation and status.", ""),
		ProviderErrors:   b.counter("omnillm.provider.errors", "Provider failures by provider and error kind.", ""),
		Tokens:           b.counter("omnillm.llm.tokens", "Tokens by provider, model and direction.", "{token}"),
		ToolCalls:        b.counter("omnillm.tool.calls", "Tool invocations by tool and status.", ""),
	}

	var err error
	m.Cost, err = b.meter.Float64Counter("omnillm.llm.cost",
		metric.WithDescription("Estimated spend from list prices."), metric.WithUnit("USD"))
	b.errs = append(b.errs, err)
	m.ActiveStreams, err = b.meter.Int64UpDownCounter("omnillm.active_streams",
		metric.WithDescription("Open completion streams."), metric.WithUnit("{stream}"))
	b.errs = append(b.errs, err)

	if err := errors.Join(b.errs...); err != nil {
		return nil, err
	}
	return m, nil
}

var defaultMetrics = sync.OnceValue(func() *Metrics {
	m, err := NewMetrics(otel.GetMeterProvider())
	if err != nil {
		panic("observe: default metrics: " + err.Error())
	}
	return m
})

// DefaultMetrics returns the process-wide [Metrics] bound to the global
// meter provider. It is created on first use.
func DefaultMetrics() *Metrics { return defaultMetrics() }

func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, operation, status string) {
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("operation", operation),
		attribute.String("status", status),
	))
}

func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
	))
}

// RecordTokens adds input and output counts for one response. Zero counts
// are skipped.
func (m *Metrics) RecordTokens(ctx context.Context, provider, model string, input, output int) {
	for dir, n := range map[string]int{"input": input, "output": output} {
		if n <= 0 {
			continue
		}
		m.Tokens.Add(ctx, int64(n), metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("model", model),
			attribute.String("direction", dir),
		))
	}
}

// RecordCost adds usd to the spend counter. Non-positive amounts are ignored.
func (m *Metrics) RecordCost(ctx context.Context, provider, model string, usd float64) {
	if usd > 0 {
		m.Cost.Add(ctx, usd, metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("model", model),
		))
	}
}

func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("status", status),
	))
}
