// Package tracing provides per-event pipeline stage spans. internal/app
// opens an enrich span and a sink-send span per event, each started
// from the app context, so one event's spans are not parented to one
// another and no demux, parse or translate spans are opened.
package tracing

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/mdzesseis/eventnorm/internal/config"
)

// Manager owns the tracer provider for the process lifetime.
type Manager struct {
	config   config.TracingConfig
	logger   *logrus.Logger
	provider *sdktrace.TracerProvider
	tracer   oteltrace.Tracer
}

func NewManager(cfg config.TracingConfig, logger *logrus.Logger) (*Manager, error) {
	if !cfg.Enabled {
		return &Manager{config: cfg, logger: logger, tracer: otel.Tracer("noop")}, nil
	}

	m := &Manager{config: cfg, logger: logger}
	if err := m.initialize(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) initialize() error {
	exporter, err := m.createExporter()
	if err != nil {
		return fmt.Errorf("tracing: create exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName("eventnorm"),
			semconv.DeploymentEnvironment(m.config.Environment),
		),
	)
	if err != nil {
		return fmt.Errorf("tracing: create resource: %w", err)
	}

	sampleRate := m.config.SampleRate
	if sampleRate <= 0 {
		sampleRate = 1.0
	}

	m.provider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(sampleRate)),
	)

	otel.SetTracerProvider(m.provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
	m.tracer = otel.Tracer("eventnorm")

	m.logger.WithFields(logrus.Fields{"exporter": m.config.Exporter, "endpoint": m.config.Endpoint}).Info("tracing: initialized")
	return nil
}

func (m *Manager) createExporter() (sdktrace.SpanExporter, error) {
	switch m.config.Exporter {
	case "jaeger":
		return jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(m.config.Endpoint)))
	case "otlp", "":
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(m.config.Endpoint)}
		return otlptrace.New(context.Background(), otlptracehttp.NewClient(opts...))
	default:
		return nil, fmt.Errorf("tracing: unsupported exporter %q", m.config.Exporter)
	}
}

func (m *Manager) Tracer() oteltrace.Tracer {
	return m.tracer
}

func (m *Manager) Shutdown(ctx context.Context) error {
	if m.provider != nil {
		return m.provider.Shutdown(ctx)
	}
	return nil
}

// StartStage opens a span for one named pipeline stage processing one
// event, tagged with the event's correlation id and source type.
func (m *Manager) StartStage(ctx context.Context, stage, eventID, sourceType string) (context.Context, oteltrace.Span) {
	return m.tracer.Start(ctx, stage,
		oteltrace.WithAttributes(
			attribute.String("event.id", eventID),
			attribute.String("event.source_type", sourceType),
		),
	)
}

// EndStage closes span, recording err (if any) and the stage's
// duration as a span attribute.
func EndStage(span oteltrace.Span, started time.Time, err error) {
	span.SetAttributes(attribute.Float64("stage.duration_ms", float64(time.Since(started).Microseconds())/1000))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
