package hooks

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/Skryldev/sketch/core"
	apperrors "github.com/Skryldev/sketch/errors"
)

// TracerName is the instrumentation scope of TracingHook spans.
const TracerName = "github.com/Skryldev/sketch"

// ── Tracing hook ──────────────────────────────────────────────────────────────

// TracingHook opens one span per interceptor invocation.  Nested interceptors
// become child spans because the span context travels in ctx.
type TracingHook struct {
	tracer trace.Tracer
}

// NewTracingHook uses tp, or the global provider when tp is nil.
func NewTracingHook(tp trace.TracerProvider) *TracingHook {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &TracingHook{tracer: tp.Tracer(TracerName)}
}

func (h *TracingHook) BeforeIntercept(ctx context.Context, info core.InterceptInfo) context.Context {
	ctx, _ = h.tracer.Start(ctx, StepName(info),
		trace.WithAttributes(
			attribute.String("sketch.chain", info.Chain),
			attribute.String("sketch.interceptor", info.Interceptor),
			attribute.Int("sketch.index", info.Index),
			attribute.String("sketch.request_id", info.RequestID),
		),
	)
	return ctx
}

func (h *TracingHook) AfterIntercept(ctx context.Context, _ core.InterceptInfo, _ time.Duration, err error) {
	span := trace.SpanFromContext(ctx)
	switch {
	case err == nil:
	case apperrors.IsSoft(err):
		span.SetAttributes(attribute.String("sketch.stopped", string(apperrors.CategoryOf(err))))
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// InitTracer installs a global tracer provider exporting to stdout and
// returns its shutdown function.
func InitTracer(serviceName string, logger core.Logger) (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			"",
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	logger.Info("OpenTelemetry initialized", "service", serviceName)
	return tp.Shutdown, nil
}
