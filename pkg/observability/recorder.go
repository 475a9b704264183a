package observability

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	globalMetrics Metrics = NoopMetrics{}
	metricsMu     sync.RWMutex
)

// Metrics records the service's domain instruments. Implementations must
// tolerate concurrent use.
type Metrics interface {
	RecordTurn(ctx context.Context, agent string, duration time.Duration, err error)
	RecordToolCall(ctx context.Context, tool string, duration time.Duration, err error)
	RecordLLMRequest(ctx context.Context, model string, duration time.Duration, inputTokens, outputTokens int, err error)
	RecordIndexJob(ctx context.Context, duration time.Duration, err error)
	RecordIndexDropped(ctx context.Context)
	RecordCacheLookup(ctx context.Context, docType string, hit bool)
	RecordHTTPRequest(ctx context.Context, method, path string, status int, duration time.Duration)
}

// PrometheusMetrics records onto OTel instruments backed by the prometheus
// exporter. The zero value is a valid recorder that drops everything.
type PrometheusMetrics struct {
	turnDuration metric.Float64Histogram
	turnsTotal   metric.Int64Counter
	turnErrors   metric.Int64Counter

	toolDuration metric.Float64Histogram
	toolCalls    metric.Int64Counter
	toolErrors   metric.Int64Counter

	llmDuration     metric.Float64Histogram
	llmInputTokens  metric.Int64Counter
	llmOutputTokens metric.Int64Counter
	llmErrors       metric.Int64Counter

	indexDuration metric.Float64Histogram
	indexJobs     metric.Int64Counter
	indexDropped  metric.Int64Counter

	cacheRequests metric.Int64Counter

	httpDuration metric.Float64Histogram
}

func (m *PrometheusMetrics) RecordTurn(ctx context.Context, agent string, duration time.Duration, err error) {
	if m == nil || m.turnDuration == nil || m.turnsTotal == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("agent", agent),
	}

	m.turnDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	m.turnsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))

	if err != nil && m.turnErrors != nil {
		m.turnErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

func (m *PrometheusMetrics) RecordToolCall(ctx context.Context, tool string, duration time.Duration, err error) {
	if m == nil || m.toolDuration == nil || m.toolCalls == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("tool", tool),
	}

	m.toolDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	m.toolCalls.Add(ctx, 1, metric.WithAttributes(attrs...))

	if err != nil && m.toolErrors != nil {
		m.toolErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

func (m *PrometheusMetrics) RecordLLMRequest(ctx context.Context, model string, duration time.Duration, inputTokens, outputTokens int, err error) {
	if m == nil || m.llmDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("model", model),
	}

	m.llmDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))

	if inputTokens > 0 && m.llmInputTokens != nil {
		m.llmInputTokens.Add(ctx, int64(inputTokens), metric.WithAttributes(attrs...))
	}
	if outputTokens > 0 && m.llmOutputTokens != nil {
		m.llmOutputTokens.Add(ctx, int64(outputTokens), metric.WithAttributes(attrs...))
	}

	if err != nil && m.llmErrors != nil {
		m.llmErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

func (m *PrometheusMetrics) RecordIndexJob(ctx context.Context, duration time.Duration, err error) {
	if m == nil || m.indexDuration == nil || m.indexJobs == nil {
		return
	}

	outcome := "indexed"
	if err != nil {
		outcome = "failed"
	}
	attrs := []attribute.KeyValue{
		attribute.String("outcome", outcome),
	}

	m.indexDuration.Record(ctx, duration.Seconds())
	m.indexJobs.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *PrometheusMetrics) RecordIndexDropped(ctx context.Context) {
	if m == nil || m.indexDropped == nil {
		return
	}
	m.indexDropped.Add(ctx, 1)
}

func (m *PrometheusMetrics) RecordCacheLookup(ctx context.Context, docType string, hit bool) {
	if m == nil || m.cacheRequests == nil {
		return
	}

	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("doc_type", docType),
		attribute.String("result", result),
	))
}

func (m *PrometheusMetrics) RecordHTTPRequest(ctx context.Context, method, path string, status int, duration time.Duration) {
	if m == nil || m.httpDuration == nil {
		return
	}

	m.httpDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.Int("status", status),
	))
}

// SetGlobalMetrics installs the process-wide metrics recorder.
func SetGlobalMetrics(m Metrics) {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	if m == nil {
		m = NoopMetrics{}
	}
	globalMetrics = m
}

// GetGlobalMetrics returns the process-wide metrics recorder. Never nil.
func GetGlobalMetrics() Metrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return globalMetrics
}

var _ Metrics = (*PrometheusMetrics)(nil)
