package observability

import (
	"context"
	"fmt"

	id "coursebot/internal/utils/id"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	instrumentationName = "coursebot"
	defaultOTLPEndpoint = "localhost:4318"
)

// Span names.
const (
	SpanTaskRun     = "coursebot.task.run"
	SpanLLMStream   = "coursebot.llm.stream"
	SpanHTTPRequest = "coursebot.http.request"
)

// Span attribute keys.
const (
	AttrTaskID   = "coursebot.task_id"
	AttrUserID   = "coursebot.user_id"
	AttrModel    = "coursebot.llm.model"
	AttrOutcome  = "coursebot.outcome"
	AttrRule     = "coursebot.policy.rule"
	AttrSegments = "coursebot.segments"
)

// TracingConfig selects whether task spans are exported and where to.
// Only the OTLP/HTTP exporter is supported.
type TracingConfig struct {
	Enabled        bool    `mapstructure:"enabled" yaml:"enabled"`
	Exporter       string  `mapstructure:"exporter" yaml:"exporter"`
	OTLPEndpoint   string  `mapstructure:"otlp_endpoint" yaml:"otlp_endpoint"`
	SampleRate     float64 `mapstructure:"sample_rate" yaml:"sample_rate"`
	ServiceName    string  `mapstructure:"service_name" yaml:"service_name"`
	ServiceVersion string  `mapstructure:"service_version" yaml:"service_version"`
}

func (c TracingConfig) withDefaults() TracingConfig {
	if c.ServiceName == "" {
		c.ServiceName = instrumentationName
	}
	if c.Exporter == "" {
		c.Exporter = "otlp"
	}
	if c.OTLPEndpoint == "" {
		c.OTLPEndpoint = defaultOTLPEndpoint
	}
	if c.SampleRate <= 0 || c.SampleRate > 1 {
		c.SampleRate = 1
	}
	return c
}

// TracerProvider owns the span pipeline for task runs and HTTP requests.
// The zero provider and a nil *TracerProvider both discard spans.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NoopTracer returns a provider whose spans are discarded.
func NoopTracer() *TracerProvider {
	return &TracerProvider{tracer: noop.NewTracerProvider().Tracer(instrumentationName)}
}

// NewTracerProvider builds the exporting provider described by cfg and
// installs it as the global otel provider. A disabled config yields
// NoopTracer.
func NewTracerProvider(cfg TracingConfig) (*TracerProvider, error) {
	if !cfg.Enabled {
		return NoopTracer(), nil
	}
	cfg = cfg.withDefaults()

	exporter, err := newSpanExporter(cfg)
	if err != nil {
		return nil, err
	}
	res, err := resource.New(context.Background(), resource.WithAttributes(
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("tracing resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))),
	)
	otel.SetTracerProvider(provider)
	return &TracerProvider{provider: provider, tracer: provider.Tracer(instrumentationName)}, nil
}

func newSpanExporter(cfg TracingConfig) (sdktrace.SpanExporter, error) {
	if cfg.Exporter != "otlp" {
		return nil, fmt.Errorf("unsupported trace exporter %q", cfg.Exporter)
	}
	exporter, err := otlptracehttp.New(context.Background(),
		otlptracehttp.WithEndpoint(cfg.OTLPEndpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("otlp exporter: %w", err)
	}
	return exporter, nil
}

// NewTracerProviderWithExporter exports every span synchronously to exporter.
func NewTracerProviderWithExporter(exporter sdktrace.SpanExporter) *TracerProvider {
	provider := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	return &TracerProvider{provider: provider, tracer: provider.Tracer(instrumentationName)}
}

// Shutdown flushes buffered spans.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp == nil || tp.provider == nil {
		return nil
	}
	return tp.provider.Shutdown(ctx)
}

// StartSpan starts a span tagged with the task and user ids carried by ctx.
func (tp *TracerProvider) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := trace.Tracer(noop.NewTracerProvider().Tracer(instrumentationName))
	if tp != nil && tp.tracer != nil {
		tracer = tp.tracer
	}
	ids := id.IDsFromContext(ctx)
	if ids.TaskID != "" {
		attrs = append(attrs, attribute.String(AttrTaskID, ids.TaskID))
	}
	if ids.UserID != "" {
		attrs = append(attrs, attribute.String(AttrUserID, ids.UserID))
	}
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan records err, if any, and ends span.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
