// Package observability traces pipeline stages and records their RED metrics
// through OpenTelemetry.
//
// A disabled Provider is fully usable: it draws on the global tracer and
// meter, which are no-ops until something installs real providers.
package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
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

const (
	instrumentationName = "truthtag.verify"
	exportInterval      = 15 * time.Second
)

// Stage outcomes recorded on every metric point.
const (
	OutcomeOK        = "ok"
	OutcomeCancelled = "cancelled"
	OutcomeError     = "error"
)

// Config selects and addresses the OTLP collector.
type Config struct {
	ServiceName  string `yaml:"service_name"`
	Environment  string `yaml:"environment"`
	OTLPEndpoint string `yaml:"otlp_endpoint"` // host:port of a gRPC collector
	Enabled      bool   `yaml:"enabled"`
	Insecure     bool   `yaml:"insecure"`
}

// DefaultConfig leaves telemetry off.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:  "truthtag",
		Environment:  "development",
		OTLPEndpoint: "localhost:4317",
		Insecure:     true,
	}
}

// Provider owns the tracer and the stage instruments.
type Provider struct {
	tracer   trace.Tracer
	stages   metric.Int64Counter
	latency  metric.Float64Histogram
	inflight metric.Int64UpDownCounter
	logger   *slog.Logger

	shutdowns []func(context.Context) error
}

// New builds a Provider. With Enabled false nothing is exported and no
// global provider is replaced.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}
	logger := slog.Default().With("component", "observability")

	if !config.Enabled {
		logger.DebugContext(ctx, "observability disabled")
		return newProvider(otel.GetTracerProvider(), otel.GetMeterProvider(), logger)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
			semconv.DeploymentEnvironment(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("observability: resource: %w", err)
	}

	traceOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(config.OTLPEndpoint)}
	metricOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(config.OTLPEndpoint)}
	if config.Insecure {
		traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
		metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
	}

	traceExp, err := otlptracegrpc.New(ctx, traceOpts...)
	if err != nil {
		return nil, fmt.Errorf("observability: trace exporter: %w", err)
	}
	metricExp, err := otlpmetricgrpc.New(ctx, metricOpts...)
	if err != nil {
		_ = traceExp.Shutdown(ctx)
		return nil, fmt.Errorf("observability: metric exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(traceExp),
	)
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp, sdkmetric.WithInterval(exportInterval))),
	)
	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	p, err := newProvider(tp, mp, logger)
	if err != nil {
		return nil, err
	}
	p.shutdowns = []func(context.Context) error{tp.Shutdown, mp.Shutdown}

	logger.InfoContext(ctx, "observability initialized",
		"service", config.ServiceName,
		"environment", config.Environment,
		"endpoint", config.OTLPEndpoint,
	)
	return p, nil
}

func newProvider(tp trace.TracerProvider, mp metric.MeterProvider, logger *slog.Logger) (*Provider, error) {
	meter := mp.Meter(instrumentationName)
	p := &Provider{
		tracer: tp.Tracer(instrumentationName),
		logger: logger,
	}

	var err error
	if p.stages, err = meter.Int64Counter("truthtag.stage.total",
		metric.WithDescription("Pipeline stage completions by outcome"),
		metric.WithUnit("{stage}"),
	); err != nil {
		return nil, fmt.Errorf("observability: stage counter: %w", err)
	}
	if p.latency, err = meter.Float64Histogram("truthtag.stage.duration",
		metric.WithDescription("Pipeline stage duration"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.05, 0.25, 1, 2.5, 5, 10, 30, 60),
	); err != nil {
		return nil, fmt.Errorf("observability: stage histogram: %w", err)
	}
	if p.inflight, err = meter.Int64UpDownCounter("truthtag.stage.active",
		metric.WithDescription("Pipeline stages in flight"),
		metric.WithUnit("{stage}"),
	); err != nil {
		return nil, fmt.Errorf("observability: inflight counter: %w", err)
	}
	return p, nil
}

// Shutdown flushes the exporters, if any.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	var errs []error
	for _, fn := range p.shutdowns {
		if err := fn(ctx); err != nil {
			p.logger.ErrorContext(ctx, "telemetry shutdown failed", "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Outcome classifies a stage error. Cancellation by the caller is not a
// failure of the stage.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, context.Canceled):
		return OutcomeCancelled
	default:
		return OutcomeError
	}
}

// TrackOperation starts a span for one stage. Call the returned function
// with the stage's error when it completes. Safe on a nil Provider.
func (p *Provider) TrackOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	tracer := otel.Tracer(instrumentationName)
	if p != nil {
		tracer = p.tracer
	}
	ctx, span := tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
	if p == nil {
		return ctx, func(err error) {
			if Outcome(err) == OutcomeError {
				span.RecordError(err)
			}
			span.End()
		}
	}

	start := time.Now()
	set := metric.WithAttributes(attrs...)
	p.inflight.Add(ctx, 1, set)

	return ctx, func(err error) {
		p.inflight.Add(ctx, -1, set)

		outcome := Outcome(err)
		withOutcome := metric.WithAttributes(append(attrs[:len(attrs):len(attrs)], attribute.String("outcome", outcome))...)
		p.stages.Add(ctx, 1, withOutcome)
		p.latency.Record(ctx, time.Since(start).Seconds(), withOutcome)

		span.SetAttributes(attribute.String("outcome", outcome))
		if outcome == OutcomeError {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}
