package traces

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/streamguard/streamguard/internal/facts"
)

func recorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	return sr
}

func attrs(span sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	m := make(map[attribute.Key]attribute.Value)
	for _, kv := range span.Attributes() {
		m[kv.Key] = kv.Value
	}
	return m
}

func TestRecordJudgment(t *testing.T) {
	sr := recorder(t)

	_, span := StartSpan(context.Background(), "judgment.Judge", TransactionID("tx_mule"))
	RecordJudgment(span, &facts.JudgmentDecision{
		Decision:             facts.DecisionBlock,
		PolicyApplied:        3,
		Confidence:           95,
		RiskScore:            88,
		HumanOverrideAllowed: true,
	}, "engine")
	span.End()

	ended := sr.Ended()
	if len(ended) != 1 {
		t.Fatalf("expected 1 span, got %d", len(ended))
	}
	got := attrs(ended[0])
	if got["transaction.id"].AsString() != "tx_mule" {
		t.Errorf("transaction.id = %q", got["transaction.id"].AsString())
	}
	if got["judgment.decision"].AsString() != "BLOCK" {
		t.Errorf("judgment.decision = %q", got["judgment.decision"].AsString())
	}
	if got["judgment.policy"].AsInt64() != 3 {
		t.Errorf("judgment.policy = %d", got["judgment.policy"].AsInt64())
	}
	if got["judgment.confidence"].AsInt64() != 95 {
		t.Errorf("judgment.confidence = %d", got["judgment.confidence"].AsInt64())
	}
	if !got["judgment.override_allowed"].AsBool() {
		t.Error("judgment.override_allowed should be true")
	}
	if got["judgment.source"].AsString() != "engine" {
		t.Errorf("judgment.source = %q", got["judgment.source"].AsString())
	}
}

func TestFail(t *testing.T) {
	sr := recorder(t)

	_, span := StartSpan(context.Background(), "lookup.user_history", Tool("user_history"))
	Fail(span, errors.New("connection refused"), "lookup failed")
	span.End()

	ended := sr.Ended()[0]
	if ended.Status().Code != codes.Error {
		t.Errorf("status = %v, want Error", ended.Status().Code)
	}
	if ended.Status().Description != "lookup failed" {
		t.Errorf("status description = %q", ended.Status().Description)
	}
	if len(ended.Events()) != 1 || ended.Events()[0].Name != "exception" {
		t.Errorf("expected one exception event, got %v", ended.Events())
	}
}

func TestSampler(t *testing.T) {
	tests := []struct {
		ratio float64
		want  string
	}{
		{0, "AlwaysOnSampler"},
		{1, "AlwaysOnSampler"},
		{0.1, "TraceIDRatioBased"},
	}
	for _, tc := range tests {
		desc := Sampler(tc.ratio).Description()
		if !strings.HasPrefix(desc, "ParentBased") || !strings.Contains(desc, tc.want) {
			t.Errorf("Sampler(%v) = %s, want ParentBased with %s root", tc.ratio, desc, tc.want)
		}
	}
}

func TestInit_NoEndpointIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), Options{}, discardLogger())
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
