package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

// ServiceName — имя сервиса в трейсах.
const ServiceName = "boxoffice"

// ConfigureTraceProvider регистрирует глобальный provider с экспортом в Jaeger.
// Пустой endpoint оставляет no-op provider и возвращает nil.
func ConfigureTraceProvider(jaegerEndpoint, version string) (*tracesdk.TracerProvider, error) {
	// propagator нужен даже без экспорта: trace context уходит в Kafka headers
	otel.SetTextMapPropagator(propagation.TraceContext{})

	if jaegerEndpoint == "" {
		return nil, nil
	}

	exp, err := jaeger.New(
		jaeger.WithCollectorEndpoint(
			jaeger.WithEndpoint(jaegerEndpoint),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create jaeger exporter: %w", err)
	}

	tp := tracesdk.NewTracerProvider(
		tracesdk.WithBatcher(exp),
		tracesdk.WithResource(
			resource.NewWithAttributes(
				semconv.SchemaURL,
				semconv.ServiceName(ServiceName),
				semconv.ServiceVersion(version),
			)),
	)
	otel.SetTracerProvider(tp)
	return tp, nil
}

// Shutdown сбрасывает буфер span'ов; nil provider допустим.
func Shutdown(ctx context.Context, tp *tracesdk.TracerProvider) error {
	if tp == nil {
		return nil
	}
	return tp.Shutdown(ctx)
}
