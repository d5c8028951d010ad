// Package telemetry wraps the OpenTelemetry API behind a small manager so
// the loop can record spans and counters without owning provider lifecycle.
// Recording is fire-and-forget: telemetry failures never surface to callers.
package telemetry

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Config carries the providers the manager instruments against. Nil
// providers degrade to no-ops; the manager never installs globals.
type Config struct {
	ServiceName    string
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

// Manager owns the tracer, meter, and instruments used across a run.
// A nil *Manager is valid and records nothing.
type Manager struct {
	tracer         trace.Tracer
	completions    metric.Int64Counter
	toolExecutions metric.Int64Counter
	toolDuration   metric.Float64Histogram
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// NewManager builds a manager from cfg.
func NewManager(cfg Config) (*Manager, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		return nil, errors.New("telemetry: service name is required")
	}

	tp := cfg.TracerProvider
	if tp == nil {
		tp = tracenoop.NewTracerProvider()
	}
	mp := cfg.MeterProvider
	if mp == nil {
		mp = metricnoop.NewMeterProvider()
	}

	meter := mp.Meter(name)
	completions, err := meter.Int64Counter("llm.completions",
		metric.WithDescription("Completion requests issued to the remote service"))
	if err != nil {
		return nil, err
	}
	toolExecutions, err := meter.Int64Counter("llm.tool_executions",
		metric.WithDescription("Tool invocations dispatched by the loop"))
	if err != nil {
		return nil, err
	}
	toolDuration, err := meter.Float64Histogram("llm.tool_duration_seconds",
		metric.WithDescription("Wall time of tool invocations"))
	if err != nil {
		return nil, err
	}

	return &Manager{
		tracer:         tp.Tracer(name),
		completions:    completions,
		toolExecutions: toolExecutions,
		toolDuration:   toolDuration,
		tracerProvider: tp,
		meterProvider:  mp,
	}, nil
}

// EndFunc closes a completion span with the observed stop reason and error.
type EndFunc func(stopReason string, err error)

// StartCompletion opens a client span around one remote completion call and
// bumps the request counter. The returned EndFunc must be called once.
func (m *Manager) StartCompletion(ctx context.Context, runID string, step int) (context.Context, EndFunc) {
	if m == nil {
		return ctx, func(string, error) {}
	}

	ctx, span := m.tracer.Start(ctx, "llm.generate",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("loop.run_id", runID),
			attribute.Int("loop.step", step),
		),
	)
	m.completions.Add(ctx, 1)

	return ctx, func(stopReason string, err error) {
		if stopReason != "" {
			span.SetAttributes(attribute.String("llm.stop_reason", stopReason))
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

// RecordToolExecution notes one tool dispatch: a child span, the execution
// counter, and the duration histogram.
func (m *Manager) RecordToolExecution(ctx context.Context, name string, d time.Duration, err error) {
	if m == nil {
		return
	}

	attrs := []attribute.KeyValue{attribute.String("tool.name", name)}
	_, span := m.tracer.Start(ctx, "tool.execute",
		trace.WithTimestamp(time.Now().Add(-d)),
		trace.WithAttributes(attrs...),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()

	m.toolExecutions.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.toolDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attrs...))
}

// Shutdown flushes and stops any providers that expose a shutdown hook.
func (m *Manager) Shutdown(ctx context.Context) error {
	if m == nil {
		return nil
	}
	var errs []error
	if s, ok := m.tracerProvider.(interface{ Shutdown(context.Context) error }); ok {
		errs = append(errs, s.Shutdown(ctx))
	}
	if s, ok := m.meterProvider.(interface{ Shutdown(context.Context) error }); ok {
		errs = append(errs, s.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
