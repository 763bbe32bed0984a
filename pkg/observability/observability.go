// Package observability provides OpenTelemetry tracing and metrics for
// the moderation pipeline: decision rate and latency, crisis detections
// by level, oversight escalations, and audit write latency.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/havenline/triage/pkg/contracts"
)

// Config configures the OpenTelemetry providers.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string        // e.g. "localhost:4317" for gRPC
	SampleRate     float64       // 0.0 to 1.0, default 1.0
	BatchTimeout   time.Duration // how long to wait before sending batched spans
	Enabled        bool
	Insecure       bool
}

// DefaultConfig returns production-ready defaults.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "triaged",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		Enabled:        true,
		Insecure:       false,
	}
}

// Provider manages the trace and metric providers. A disabled provider
// is safe to use; every recording method becomes a no-op.
type Provider struct {
	config         *Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	logger         *slog.Logger

	decisionCounter   metric.Int64Counter
	crisisCounter     metric.Int64Counter
	escalationCounter metric.Int64Counter
	decisionDuration  metric.Float64Histogram
	auditWriteLatency metric.Float64Histogram
}

// New creates a new observability provider.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}

	p := &Provider{
		config: config,
		logger: slog.Default().With("component", "observability"),
	}

	if !config.Enabled {
		p.logger.InfoContext(ctx, "observability disabled")
		return p, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironment(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	if err := p.initTraceProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("init trace provider: %w", err)
	}
	if err := p.initMetricProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("init metric provider: %w", err)
	}

	p.tracer = otel.Tracer("havenline.triage",
		trace.WithInstrumentationVersion(config.ServiceVersion),
	)
	p.meter = otel.Meter("havenline.triage",
		metric.WithInstrumentationVersion(config.ServiceVersion),
	)

	if err := p.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	p.logger.InfoContext(ctx, "observability initialized",
		"service", config.ServiceName,
		"environment", config.Environment,
		"endpoint", config.OTLPEndpoint,
		"sample_rate", config.SampleRate,
	)
	return p, nil
}

func (p *Provider) initTraceProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(p.config.OTLPEndpoint),
	}
	if p.config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("create trace exporter: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case p.config.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case p.config.SampleRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(p.config.SampleRate)
	}

	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter,
			sdktrace.WithBatchTimeout(p.config.BatchTimeout),
		),
		sdktrace.WithSampler(sampler),
	)

	otel.SetTracerProvider(p.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return nil
}

func (p *Provider) initMetricProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(p.config.OTLPEndpoint),
	}
	if p.config.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}

	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("create metric exporter: %w", err)
	}

	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(15*time.Second),
		)),
	)
	otel.SetMeterProvider(p.meterProvider)
	return nil
}

func (p *Provider) initMetrics() error {
	var err error

	p.decisionCounter, err = p.meter.Int64Counter("triage.decisions.total",
		metric.WithDescription("Moderation decisions by action"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return err
	}

	p.crisisCounter, err = p.meter.Int64Counter("triage.crisis.detections",
		metric.WithDescription("Crisis detections by level"),
		metric.WithUnit("{detection}"),
	)
	if err != nil {
		return err
	}

	p.escalationCounter, err = p.meter.Int64Counter("triage.oversight.escalations",
		metric.WithDescription("Cases escalated to human oversight, by priority"),
		metric.WithUnit("{case}"),
	)
	if err != nil {
		return err
	}

	// The latency budget for a decision is 50ms, so the buckets
	// concentrate below 100ms.
	p.decisionDuration, err = p.meter.Float64Histogram("triage.decision.duration",
		metric.WithDescription("End-to-end moderation latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0),
	)
	if err != nil {
		return err
	}

	p.auditWriteLatency, err = p.meter.Float64Histogram("triage.audit.write_latency",
		metric.WithDescription("Audit record latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1),
	)
	return err
}

// Shutdown flushes and shuts down the providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "failed to shutdown trace provider", "error", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "failed to shutdown metric provider", "error", err)
		}
	}
	return nil
}

// Tracer returns the configured tracer.
func (p *Provider) Tracer() trace.Tracer {
	if p.tracer == nil {
		return otel.Tracer("havenline.triage")
	}
	return p.tracer
}

// StartSpan starts a new span with the given name.
func (p *Provider) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return p.Tracer().Start(ctx, name, opts...)
}

// RecordDecision records one moderation decision. It satisfies the
// engine's metrics interface.
func (p *Provider) RecordDecision(ctx context.Context, action contracts.Action, d time.Duration) {
	attrs := metric.WithAttributes(attribute.String("action", string(action)))
	if p.decisionCounter != nil {
		p.decisionCounter.Add(ctx, 1, attrs)
	}
	if p.decisionDuration != nil {
		p.decisionDuration.Record(ctx, d.Seconds(), attrs)
	}
}

// RecordCrisis records a crisis detection at the given level.
func (p *Provider) RecordCrisis(ctx context.Context, level contracts.CrisisLevel) {
	if p.crisisCounter != nil {
		p.crisisCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("level", string(level)),
		))
	}
}

// RecordEscalation records a case handed to human oversight.
func (p *Provider) RecordEscalation(ctx context.Context, priority contracts.Priority) {
	if p.escalationCounter != nil {
		p.escalationCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("priority", string(priority)),
		))
	}
}

// RecordAuditWrite records the latency of one audit persistence call.
func (p *Provider) RecordAuditWrite(ctx context.Context, d time.Duration, buffered bool) {
	if p.auditWriteLatency != nil {
		p.auditWriteLatency.Record(ctx, d.Seconds(), metric.WithAttributes(
			attribute.Bool("buffered", buffered),
		))
	}
}
