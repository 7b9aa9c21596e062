package observability

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const shutdownTimeout = 5 * time.Second

// TracingConfig управляет инициализацией трассировки.
type TracingConfig struct {
	Enabled     bool
	ServiceName string
	SampleRatio float64
	Pretty      bool
	Writer      io.Writer // по умолчанию os.Stdout
}

// InitTracing устанавливает глобальный TracerProvider. При выключенной
// трассировке ставится noop-провайдер. Возвращает функцию сброса спанов.
func InitTracing(ctx context.Context, cfg TracingConfig, logger *slog.Logger) (func(context.Context) error, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		logger.DebugContext(ctx, "tracing disabled")
		return func(context.Context) error { return nil }, nil
	}

	w := cfg.Writer
	if w == nil {
		w = os.Stdout
	}

	opts := []stdouttrace.Option{stdouttrace.WithWriter(w), stdouttrace.WithoutTimestamps()}
	if cfg.Pretty {
		opts = append(opts, stdouttrace.WithPrettyPrint())
	}

	exp, err := stdouttrace.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create stdout exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.namespace", "satkin"),
	))
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.InfoContext(ctx, "tracing enabled",
		"service_name", cfg.ServiceName,
		"sample_ratio", cfg.SampleRatio,
	)

	return tp.Shutdown, nil
}

// ShutdownWithTimeout вызывает shutdown с ограничением по времени; ошибка только логируется.
func ShutdownWithTimeout(ctx context.Context, shutdown func(context.Context) error, logger *slog.Logger) {
	if shutdown == nil {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := shutdown(ctx); err != nil {
		logger.WarnContext(ctx, "tracing shutdown failed", "error", err)
	}
}
