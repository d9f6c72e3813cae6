package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	resilience "github.com/snel-bot/resilience"
)

// TracingMiddleware creates middleware that opens a span per call. The
// host application installs the tracer provider and exporter; with none
// installed the spans are no-ops.
func TracingMiddleware(tracerName string) resilience.Middleware {
	tracer := otel.Tracer(tracerName)

	return func(ctx context.Context, info *resilience.CallInfo, op resilience.Operation) (interface{}, error) {
		ctx, span := tracer.Start(ctx, info.Service+"."+info.Method,
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				attribute.String("rpc.service", info.Service),
				attribute.String("rpc.method", info.Method),
			))
		defer span.End()

		resp, err := op(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}

		span.SetStatus(codes.Ok, "")
		return resp, nil
	}
}
