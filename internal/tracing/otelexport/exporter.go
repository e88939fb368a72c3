// Package otelexport exports collected spans to an OpenTelemetry OTLP
// backend (Jaeger, Grafana Tempo, Datadog, etc.) over HTTP.
package otelexport

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/codelenshq/oracle/internal/tracing"
)

// Config configures the OTLP exporter.
type Config struct {
	Endpoint    string            // e.g. "localhost:4318"
	Insecure    bool              // skip TLS for local dev
	ServiceName string            // default "oracle"
	Headers     map[string]string // auth tokens, etc.
}

// Exporter converts tracing.SpanData to OTel spans and exports via
// OTLP. It implements tracing.SpanExporter.
type Exporter struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

func New(ctx context.Context, cfg Config) (*Exporter, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("OTLP endpoint is required")
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "oracle"
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion("1.0.0"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("otel resource: %w", err)
	}

	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(cfg.Headers))
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("otel exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter,
			sdktrace.WithMaxExportBatchSize(100),
			sdktrace.WithBatchTimeout(5*time.Second),
		),
		sdktrace.WithResource(res),
	)

	return &Exporter{
		provider: tp,
		tracer:   tp.Tracer("oracle"),
	}, nil
}

// ExportSpans converts collected spans to OTel spans. Called by the
// collector during flush; errors are logged, never propagated.
func (e *Exporter) ExportSpans(ctx context.Context, spans []tracing.SpanData) {
	if e == nil || len(spans) == 0 {
		return
	}
	for _, s := range spans {
		e.exportSpan(ctx, s)
	}
}

func (e *Exporter) exportSpan(ctx context.Context, s tracing.SpanData) {
	attrs := []attribute.KeyValue{
		attribute.String("oracle.span_type", s.SpanType),
	}
	if s.SessionKey != "" {
		attrs = append(attrs, attribute.String("oracle.session_key", s.SessionKey))
	}
	if s.Model != "" {
		attrs = append(attrs, attribute.String("gen_ai.request.model", s.Model))
	}
	if s.Provider != "" {
		attrs = append(attrs, attribute.String("gen_ai.system", s.Provider))
	}
	if s.InputTokens > 0 {
		attrs = append(attrs, attribute.Int("gen_ai.usage.input_tokens", s.InputTokens))
	}
	if s.OutputTokens > 0 {
		attrs = append(attrs, attribute.Int("gen_ai.usage.output_tokens", s.OutputTokens))
	}
	if s.ToolName != "" {
		attrs = append(attrs, attribute.String("oracle.tool.name", s.ToolName))
	}
	if s.ToolCallID != "" {
		attrs = append(attrs, attribute.String("oracle.tool.call_id", s.ToolCallID))
	}
	if s.DurationMS > 0 {
		attrs = append(attrs, attribute.Int("oracle.duration_ms", s.DurationMS))
	}
	if s.InputPreview != "" {
		attrs = append(attrs, attribute.String("oracle.input_preview", s.InputPreview))
	}
	if s.OutputPreview != "" {
		attrs = append(attrs, attribute.String("oracle.output_preview", s.OutputPreview))
	}

	// Correlation with the in-process trace IDs. The SDK assigns its
	// own span IDs, so ours ride along as attributes.
	attrs = append(attrs,
		attribute.String("oracle.trace_id", s.TraceID.String()),
		attribute.String("oracle.span_id", s.ID.String()),
	)

	parentCtx := ctx
	if s.ParentSpanID != nil {
		parentSpanCtx := trace.NewSpanContext(trace.SpanContextConfig{
			TraceID:    trace.TraceID(s.TraceID),
			SpanID:     uuidToSpanID(*s.ParentSpanID),
			TraceFlags: trace.FlagsSampled,
			Remote:     true,
		})
		parentCtx = trace.ContextWithRemoteSpanContext(parentCtx, parentSpanCtx)
	}

	kind := trace.SpanKindInternal
	if s.SpanType == "llm_call" {
		kind = trace.SpanKindClient
	}

	_, span := e.tracer.Start(parentCtx, s.Name,
		trace.WithTimestamp(s.StartTime),
		trace.WithSpanKind(kind),
		trace.WithAttributes(attrs...),
	)

	if s.Status == "error" {
		span.SetStatus(codes.Error, s.Error)
		if s.Error != "" {
			span.RecordError(fmt.Errorf("%s", s.Error))
		}
	} else {
		span.SetStatus(codes.Ok, "")
	}

	endTime := s.StartTime.Add(time.Duration(s.DurationMS) * time.Millisecond)
	span.End(trace.WithTimestamp(endTime))
}

// Shutdown flushes remaining spans and releases the provider.
func (e *Exporter) Shutdown(ctx context.Context) error {
	if e == nil {
		return nil
	}
	slog.Debug("otel exporter shutting down")
	return e.provider.Shutdown(ctx)
}

// uuidToSpanID maps a UUID onto an 8-byte OTel SpanID using the last
// 8 bytes.
func uuidToSpanID(id [16]byte) trace.SpanID {
	var sid trace.SpanID
	copy(sid[:], id[8:16])
	return sid
}
