package telemetry

import (
	"slices"
	"testing"

	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// TestTelemetry is a Telemetry whose spans land in memory. It leaves the
// global provider alone, so hand Tracer() to the code under test.
type TestTelemetry struct {
	*Telemetry

	SpanRecorder *tracetest.SpanRecorder
}

// NewTestTelemetry returns an enabled, healthy TestTelemetry.
func NewTestTelemetry() *TestTelemetry {
	rec := tracetest.NewSpanRecorder()
	cfg := NewDefaultConfig()
	cfg.Enabled = true

	t := &Telemetry{
		config:         cfg,
		tracerProvider: trace.NewTracerProvider(trace.WithSpanProcessor(rec)),
	}
	t.healthy.Store(true)
	return &TestTelemetry{Telemetry: t, SpanRecorder: rec}
}

// Spans returns the ended spans in end order.
func (t *TestTelemetry) Spans() []trace.ReadOnlySpan {
	return t.SpanRecorder.Ended()
}

// SpanByName returns the first ended span called name, or nil.
func (t *TestTelemetry) SpanByName(name string) trace.ReadOnlySpan {
	spans := t.Spans()
	if i := slices.IndexFunc(spans, func(s trace.ReadOnlySpan) bool { return s.Name() == name }); i >= 0 {
		return spans[i]
	}
	return nil
}

// AssertSpanExists fails tb unless a span called name has ended.
func (t *TestTelemetry) AssertSpanExists(tb testing.TB, name string) {
	tb.Helper()
	if t.SpanByName(name) != nil {
		return
	}
	names := make([]string, 0, len(t.Spans()))
	for _, s := range t.Spans() {
		names = append(names, s.Name())
	}
	tb.Errorf("no span %q among %v", name, names)
}

// AssertSpanAttribute fails tb unless span name carries key with value
// want. Values compare by their Go representation (string, int64, float64,
// bool).
func (t *TestTelemetry) AssertSpanAttribute(tb testing.TB, name, key string, want any) {
	tb.Helper()
	span := t.SpanByName(name)
	if span == nil {
		tb.Fatalf("no span %q", name)
	}
	for _, kv := range span.Attributes() {
		if string(kv.Key) != key {
			continue
		}
		if got := kv.Value.AsInterface(); got != want {
			tb.Errorf("span %q: %s = %v, want %v", name, key, got, want)
		}
		return
	}
	tb.Errorf("span %q has no attribute %q", name, key)
}
