// Package observability provides OpenTelemetry-based tracing and metrics for
// the governance oracle.
//
// This package implements:
// - Distributed tracing with OTLP export, one span per oracle evaluation
// - Metrics collection with RED (Rate, Errors, Duration) pattern over rule
//   evaluations and gate outcomes
// - Semantic conventions per OpenTelemetry specification
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
)

// Config configures the OpenTelemetry providers.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string        // e.g., "localhost:4317" for gRPC
	SampleRate     float64       // 0.0 to 1.0, default 1.0 (sample all)
	BatchTimeout   time.Duration // how long to wait before sending batched spans
	Enabled        bool          // enable/disable telemetry
	Insecure       bool          // use insecure connection (dev only)
}

// DefaultConfig returns production-ready defaults.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "governance-oracle",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		Enabled:        true,
		Insecure:       false,
	}
}

// Provider manages OpenTelemetry trace and metric providers for the oracle.
type Provider struct {
	config         *Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	logger         *slog.Logger

	// RED metrics (Rate, Errors, Duration) over oracle evaluations.
	evaluationCounter  metric.Int64Counter
	outcomeCounter     metric.Int64Counter // labeled by outcome: ALLOW/WARN/BLOCK
	ruleErrorCounter   metric.Int64Counter
	suppressedCounter  metric.Int64Counter // findings dropped by FP suppression
	circuitOpenCounter metric.Int64Counter
	durationHist       metric.Float64Histogram
	activeEvaluations  metric.Int64UpDownCounter
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
			attribute.String("oracle.component", "evaluation-engine"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	if err := p.initTraceProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("failed to init trace provider: %w", err)
	}
	if err := p.initMetricProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("failed to init metric provider: %w", err)
	}

	p.tracer = otel.Tracer("governance.oracle",
		trace.WithInstrumentationVersion(config.ServiceVersion),
	)
	p.meter = otel.Meter("governance.oracle",
		metric.WithInstrumentationVersion(config.ServiceVersion),
	)

	if err := p.initREDMetrics(); err != nil {
		return nil, fmt.Errorf("failed to init RED metrics: %w", err)
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
		return fmt.Errorf("failed to create trace exporter: %w", err)
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
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(p.config.BatchTimeout)),
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
		return fmt.Errorf("failed to create metric exporter: %w", err)
	}

	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(15*time.Second))),
	)
	otel.SetMeterProvider(p.meterProvider)
	return nil
}

func (p *Provider) initREDMetrics() error {
	var err error

	p.evaluationCounter, err = p.meter.Int64Counter("oracle.evaluations.total",
		metric.WithDescription("Total number of oracle evaluations"),
		metric.WithUnit("{evaluation}"),
	)
	if err != nil {
		return err
	}

	p.outcomeCounter, err = p.meter.Int64Counter("oracle.outcomes.total",
		metric.WithDescription("Total gate outcomes, labeled by ALLOW/WARN/BLOCK"),
		metric.WithUnit("{outcome}"),
	)
	if err != nil {
		return err
	}

	p.ruleErrorCounter, err = p.meter.Int64Counter("oracle.rule_errors.total",
		metric.WithDescription("Total rule evaluation errors converted to synthetic findings"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return err
	}

	p.suppressedCounter, err = p.meter.Int64Counter("oracle.findings_suppressed.total",
		metric.WithDescription("Total findings dropped by FP suppression"),
		metric.WithUnit("{finding}"),
	)
	if err != nil {
		return err
	}

	p.circuitOpenCounter, err = p.meter.Int64Counter("oracle.circuit_open.total",
		metric.WithDescription("Total times a rule's BLOCK contribution was demoted by the circuit breaker"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return err
	}

	p.durationHist, err = p.meter.Float64Histogram("oracle.evaluation.duration",
		metric.WithDescription("Oracle evaluation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	if err != nil {
		return err
	}

	p.activeEvaluations, err = p.meter.Int64UpDownCounter("oracle.evaluations.active",
		metric.WithDescription("Number of currently in-flight oracle evaluations"),
		metric.WithUnit("{evaluation}"),
	)
	return err
}

// Shutdown gracefully shuts down the providers.
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
		return otel.Tracer("governance.oracle")
	}
	return p.tracer
}

// Meter returns the configured meter.
func (p *Provider) Meter() metric.Meter {
	if p.meter == nil {
		return otel.Meter("governance.oracle")
	}
	return p.meter
}

// StartSpan starts a new span with the given name.
func (p *Provider) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return p.Tracer().Start(ctx, name, opts...)
}

// RecordOutcome records a gate outcome (ALLOW/WARN/BLOCK) for one evaluation.
func (p *Provider) RecordOutcome(ctx context.Context, outcome string, attrs ...attribute.KeyValue) {
	if p.outcomeCounter != nil {
		allAttrs := append(attrs, attribute.String("outcome", outcome))
		p.outcomeCounter.Add(ctx, 1, metric.WithAttributes(allAttrs...))
	}
}

// RecordRuleError records a rule exception converted to a synthetic finding.
func (p *Provider) RecordRuleError(ctx context.Context, ruleID string, err error) {
	if p.ruleErrorCounter != nil {
		p.ruleErrorCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("rule_id", ruleID),
			attribute.String("error.type", fmt.Sprintf("%T", err)),
		))
	}
}

// RecordSuppressed records findings dropped because they matched a known FP.
func (p *Provider) RecordSuppressed(ctx context.Context, ruleID string, count int64) {
	if p.suppressedCounter != nil && count > 0 {
		p.suppressedCounter.Add(ctx, count, metric.WithAttributes(attribute.String("rule_id", ruleID)))
	}
}

// RecordCircuitOpen records a circuit-breaker demotion for a rule.
func (p *Provider) RecordCircuitOpen(ctx context.Context, ruleID string) {
	if p.circuitOpenCounter != nil {
		p.circuitOpenCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("rule_id", ruleID)))
	}
}

// TrackEvaluation tracks one oracle evaluation from start to finish. The
// returned function must be called when the evaluation completes.
func (p *Provider) TrackEvaluation(ctx context.Context, mode string, attrs ...attribute.KeyValue) (context.Context, func(outcome string, err error)) {
	start := time.Now()

	allAttrs := append(attrs, attribute.String("mode", mode))
	ctx, span := p.StartSpan(ctx, "oracle.evaluate",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(allAttrs...),
	)

	if p.activeEvaluations != nil {
		p.activeEvaluations.Add(ctx, 1, metric.WithAttributes(allAttrs...))
	}
	if p.evaluationCounter != nil {
		p.evaluationCounter.Add(ctx, 1, metric.WithAttributes(allAttrs...))
	}

	return ctx, func(outcome string, err error) {
		duration := time.Since(start)

		if p.activeEvaluations != nil {
			p.activeEvaluations.Add(ctx, -1, metric.WithAttributes(allAttrs...))
		}
		if p.durationHist != nil {
			p.durationHist.Record(ctx, duration.Seconds(), metric.WithAttributes(allAttrs...))
		}
		if outcome != "" {
			p.RecordOutcome(ctx, outcome, attrs...)
		}
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}
}
