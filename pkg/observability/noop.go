package observability

import (
	"context"
	"time"
)

// NoopMetrics drops every recording. Used when metrics are disabled and as
// the default global recorder.
type NoopMetrics struct{}

func (NoopMetrics) RecordTurn(_ context.Context, _ string, _ time.Duration, _ error) {}

func (NoopMetrics) RecordToolCall(_ context.Context, _ string, _ time.Duration, _ error) {}

func (NoopMetrics) RecordLLMRequest(_ context.Context, _ string, _ time.Duration, _, _ int, _ error) {
}

func (NoopMetrics) RecordIndexJob(_ context.Context, _ time.Duration, _ error) {}

func (NoopMetrics) RecordIndexDropped(_ context.Context) {}

func (NoopMetrics) RecordCacheLookup(_ context.Context, _ string, _ bool) {}

func (NoopMetrics) RecordHTTPRequest(_ context.Context, _, _ string, _ int, _ time.Duration) {}

var _ Metrics = NoopMetrics{}
