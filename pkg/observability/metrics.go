package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/tudor-baraboi/cfr-agents/pkg/config"
)

// InitMetrics builds the OTel meter and instruments behind the prometheus
// exporter. When metrics are disabled it returns an empty recorder whose
// methods are nil-safe no-ops.
func InitMetrics(ctx context.Context, cfg config.ObservabilityConfig) (*PrometheusMetrics, error) {
	if cfg.MetricsEnabled != nil && !*cfg.MetricsEnabled {
		return &PrometheusMetrics{}, nil
	}

	promExporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(promExporter),
	)

	meter := meterProvider.Meter("cfr_agents")

	m := &PrometheusMetrics{}

	m.turnDuration, err = meter.Float64Histogram(
		"cfr_agents_turn_duration_seconds",
		metric.WithDescription("Conversation turn duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create turn duration histogram: %w", err)
	}

	m.turnsTotal, err = meter.Int64Counter(
		"cfr_agents_turns_total",
		metric.WithDescription("Total conversation turns"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create turns counter: %w", err)
	}

	m.turnErrors, err = meter.Int64Counter(
		"cfr_agents_turn_errors_total",
		metric.WithDescription("Total turns ending in error"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create turn errors counter: %w", err)
	}

	m.toolDuration, err = meter.Float64Histogram(
		"cfr_agents_tool_duration_seconds",
		metric.WithDescription("Tool execution duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tool duration histogram: %w", err)
	}

	m.toolCalls, err = meter.Int64Counter(
		"cfr_agents_tool_calls_total",
		metric.WithDescription("Total tool calls"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tool calls counter: %w", err)
	}

	m.toolErrors, err = meter.Int64Counter(
		"cfr_agents_tool_errors_total",
		metric.WithDescription("Total tool errors"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tool errors counter: %w", err)
	}

	m.llmDuration, err = meter.Float64Histogram(
		"cfr_agents_llm_request_duration_seconds",
		metric.WithDescription("LLM request duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm duration histogram: %w", err)
	}

	m.llmInputTokens, err = meter.Int64Counter(
		"cfr_agents_llm_tokens_input_total",
		metric.WithDescription("Total input tokens sent to the LLM"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm input tokens counter: %w", err)
	}

	m.llmOutputTokens, err = meter.Int64Counter(
		"cfr_agents_llm_tokens_output_total",
		metric.WithDescription("Total output tokens from the LLM"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm output tokens counter: %w", err)
	}

	m.llmErrors, err = meter.Int64Counter(
		"cfr_agents_llm_errors_total",
		metric.WithDescription("Total LLM request errors"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm errors counter: %w", err)
	}

	m.indexDuration, err = meter.Float64Histogram(
		"cfr_agents_index_duration_seconds",
		metric.WithDescription("Background index job duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create index duration histogram: %w", err)
	}

	m.indexJobs, err = meter.Int64Counter(
		"cfr_agents_index_jobs_total",
		metric.WithDescription("Total index jobs by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create index jobs counter: %w", err)
	}

	m.indexDropped, err = meter.Int64Counter(
		"cfr_agents_index_jobs_dropped_total",
		metric.WithDescription("Index jobs dropped because the queue was full"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create index dropped counter: %w", err)
	}

	m.cacheRequests, err = meter.Int64Counter(
		"cfr_agents_cache_requests_total",
		metric.WithDescription("Document cache lookups by result"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache requests counter: %w", err)
	}

	m.httpDuration, err = meter.Float64Histogram(
		"cfr_agents_http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http duration histogram: %w", err)
	}

	return m, nil
}
