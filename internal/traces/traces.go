// Package traces provides OpenTelemetry tracing for the judgment pipeline.
//
// Every judgment gets a span tree: judgment.Judge at the root, one
// lookup.<tool> child per fact lookup, and the decision recorded on the root
// with RecordJudgment.
package traces

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/streamguard/streamguard/internal/facts"
)

const tracerName = "github.com/streamguard/streamguard"

// Options configures the exporter.
type Options struct {
	Endpoint    string  // OTLP gRPC collector; empty disables tracing
	Environment string  // deployment.environment resource attribute
	SampleRatio float64 // Fraction of new traces kept; <=0 or >=1 keeps all
}

// Init installs the global tracer provider and returns its shutdown func.
// With no endpoint the global no-op provider stays in place.
func Init(ctx context.Context, opts Options, logger *slog.Logger) (func(context.Context) error, error) {
	if opts.Endpoint == "" {
		logger.Info("tracing disabled (no OTEL_EXPORTER_OTLP_ENDPOINT set)")
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(opts.Endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName("streamguard"),
			semconv.ServiceVersion("0.1.0"),
			attribute.String("deployment.environment", opts.Environment),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(Sampler(opts.SampleRatio)),
	)
	otel.SetTracerProvider(tp)

	logger.Info("tracing enabled", "endpoint", opts.Endpoint, "sample_ratio", opts.SampleRatio)
	return tp.Shutdown, nil
}

// Sampler keeps ratio of root traces and follows the caller's decision for
// propagated ones, so an agent's sampled request is traced end to end.
func Sampler(ratio float64) sdktrace.Sampler {
	if ratio <= 0 || ratio >= 1 {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

// StartSpan starts a span on the streamguard tracer.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

// Fail records err on span and marks it errored with a short status.
func Fail(span trace.Span, err error, status string) {
	span.RecordError(err)
	span.SetStatus(codes.Error, status)
}

// RecordJudgment decorates span with the outcome of a judgment.
func RecordJudgment(span trace.Span, j *facts.JudgmentDecision, source string) {
	span.SetAttributes(
		attribute.String("judgment.decision", string(j.Decision)),
		attribute.Int("judgment.policy", j.PolicyApplied),
		attribute.Int("judgment.confidence", j.Confidence),
		attribute.Int("judgment.risk_score", j.RiskScore),
		attribute.Bool("judgment.override_allowed", j.HumanOverrideAllowed),
		attribute.String("judgment.source", source),
	)
}

func TransactionID(id string) attribute.KeyValue {
	return attribute.String("transaction.id", id)
}

func PolicyApplied(p int) attribute.KeyValue {
	return attribute.Int("judgment.policy", p)
}

func Decision(d string) attribute.KeyValue {
	return attribute.String("judgment.decision", d)
}

// Consistent reports whether an external judgment matched the engine.
func Consistent(ok bool) attribute.KeyValue {
	return attribute.Bool("judgment.consistent", ok)
}

func Tool(name string) attribute.KeyValue {
	return attribute.String("lookup.tool", name)
}

// LookupResult is found, not_found or error.
func LookupResult(result string) attribute.KeyValue {
	return attribute.String("lookup.result", result)
}
