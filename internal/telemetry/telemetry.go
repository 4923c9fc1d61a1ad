// Package telemetry exports traces and metrics over OTLP. A nil
// *Telemetry is valid and records nothing, so callers never guard.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/ppiankov/trustplane/internal/config"
)

type Telemetry struct {
	Tracer oteltrace.Tracer
	Meter  metric.Meter

	traceProvider *sdktrace.TracerProvider

	decisionCounter  metric.Int64Counter
	probeCounter     metric.Int64Counter
	violationCounter metric.Int64Counter
	tripCounter      metric.Int64Counter
	intentDuration   metric.Int64Histogram
}

// Setup builds the tracer and meter stack. Returns nil when telemetry
// is disabled; the nil receiver keeps all Mark calls no-ops.
func Setup(ctx context.Context, cfg config.TelemetryConfig) (*Telemetry, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "trustplane"
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build otel resource: %w", err)
	}
	sampler := sdktrace.TraceIDRatioBased(cfg.SampleRatio)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	if cfg.Endpoint != "" {
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.InsecureGRPC {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exporter, exportErr := otlptracegrpc.New(ctx, opts...)
		if exportErr != nil {
			return nil, fmt.Errorf("create otlp trace exporter: %w", exportErr)
		}
		tp = sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sampler),
		)
	} else {
		slog.Info("otel trace exporter not configured; using local tracer provider")
	}
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	meter := otel.Meter(serviceName)
	tracer := otel.Tracer(serviceName)
	decisionCounter, _ := meter.Int64Counter("trustplane_decisions_total")
	probeCounter, _ := meter.Int64Counter("trustplane_probes_total")
	violationCounter, _ := meter.Int64Counter("trustplane_trust_violations_total")
	tripCounter, _ := meter.Int64Counter("trustplane_breaker_trips_total")
	intentDuration, _ := meter.Int64Histogram("trustplane_intent_duration_ms")
	return &Telemetry{
		Tracer:           tracer,
		Meter:            meter,
		traceProvider:    tp,
		decisionCounter:  decisionCounter,
		probeCounter:     probeCounter,
		violationCounter: violationCounter,
		tripCounter:      tripCounter,
		intentDuration:   intentDuration,
	}, nil
}

// Shutdown flushes pending spans.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil || t.traceProvider == nil {
		return nil
	}
	return t.traceProvider.Shutdown(ctx)
}

// Span starts a kernel span; on a nil receiver it falls back to the
// global tracer, which is a no-op provider unless Setup ran.
func (t *Telemetry) Span(ctx context.Context, name string) (context.Context, oteltrace.Span) {
	if t == nil {
		return otel.Tracer("trustplane").Start(ctx, name)
	}
	return t.Tracer.Start(ctx, name)
}

func (t *Telemetry) MarkDecision(ctx context.Context, permitted bool, source string) {
	if t == nil {
		return
	}
	t.decisionCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("permitted", permitted),
		attribute.String("source", source),
	))
}

func (t *Telemetry) MarkProbe(ctx context.Context, category string, passed bool) {
	if t == nil {
		return
	}
	t.probeCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("category", category),
		attribute.Bool("passed", passed),
	))
}

func (t *Telemetry) MarkViolation(ctx context.Context, severity string) {
	if t == nil {
		return
	}
	t.violationCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("severity", severity)))
}

func (t *Telemetry) MarkBreakerTrip(ctx context.Context, reason string) {
	if t == nil {
		return
	}
	t.tripCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (t *Telemetry) MarkIntent(ctx context.Context, outcome string, durationMS int64) {
	if t == nil {
		return
	}
	t.intentDuration.Record(ctx, durationMS, metric.WithAttributes(
		attribute.String("outcome", outcome),
	))
}
