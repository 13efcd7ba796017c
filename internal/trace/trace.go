package trace

import (
	"context"
	"io"
	"os"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const ServiceName = "marketsync"

var (
	tracer         trace.Tracer
	tracerProvider *sdktrace.TracerProvider
	enabled        bool
)

// Config controls the stdout exporter.
type Config struct {
	Enabled     bool
	SampleRatio float64
	Version     string
	// Writer defaults to stdout.
	Writer io.Writer
}

// LoadConfigFromEnv reads LOG_TRACING_ENABLED, TRACE_SAMPLE_RATIO and
// SERVICE_VERSION.
func LoadConfigFromEnv() Config {
	ratio, err := strconv.ParseFloat(getEnv("TRACE_SAMPLE_RATIO", "1"), 64)
	if err != nil || ratio < 0 || ratio > 1 {
		ratio = 1
	}
	return Config{
		Enabled:     getEnv("LOG_TRACING_ENABLED", "true") == "true",
		SampleRatio: ratio,
		Version:     getEnv("SERVICE_VERSION", "1.0.0"),
	}
}

func Init() error {
	return InitWithConfig(LoadConfigFromEnv())
}

func InitWithConfig(cfg Config) error {
	enabled = cfg.Enabled
	if !enabled {
		return nil
	}

	opts := []stdouttrace.Option{stdouttrace.WithPrettyPrint()}
	if cfg.Writer != nil {
		opts = append(opts, stdouttrace.WithWriter(cfg.Writer))
	}
	exporter, err := stdouttrace.New(opts...)
	if err != nil {
		enabled = false
		return err
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(ServiceName),
			semconv.ServiceVersion(cfg.Version),
		),
	)
	if err != nil {
		enabled = false
		return err
	}

	tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
	)
	otel.SetTracerProvider(tracerProvider)
	tracer = otel.Tracer(ServiceName)
	return nil
}

// Shutdown flushes pending spans. Tracing stays off until the next Init.
func Shutdown(ctx context.Context) error {
	if tracerProvider == nil {
		return nil
	}
	err := tracerProvider.Shutdown(ctx)
	tracerProvider, tracer, enabled = nil, nil, false
	return err
}

func StartSpan(ctx context.Context, spanName string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if !enabled || tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tracer.Start(ctx, spanName, opts...)
}

// StartSession opens a span covering one price-stream session. Connection
// state changes logged with the returned context are recorded on it.
func StartSession(ctx context.Context, provider, target string, session uint64) (context.Context, trace.Span) {
	return StartSpan(ctx, "stream.session",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("stream.provider", provider),
			attribute.String("stream.target", target),
			attribute.Int64("stream.session", int64(session)),
		),
	)
}

// SymbolAttrs tags a span with the market key it serves.
func SymbolAttrs(symbol, interval string, limit int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String("market.symbol", symbol)}
	if interval != "" {
		attrs = append(attrs, attribute.String("market.interval", interval))
	}
	if limit > 0 {
		attrs = append(attrs, attribute.Int("market.limit", limit))
	}
	return attrs
}

func Enabled() bool {
	return enabled && tracer != nil
}

func GetTraceFields(ctx context.Context) (traceID, spanID string, ok bool) {
	if !Enabled() {
		return "", "", false
	}
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return "", "", false
	}
	return span.SpanContext().TraceID().String(),
		span.SpanContext().SpanID().String(),
		true
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
