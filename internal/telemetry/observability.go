// Package telemetry holds the observability handles (tracer, meter, log emitter) that are constructed once
// at startup and passed explicitly to the components that instrument their work.
package telemetry

import (
	"context"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// LogEmitter emits OTel log records. otellog.Logger satisfies it; tests pass a capturing implementation.
type LogEmitter interface {
	Emit(ctx context.Context, record otellog.Record)
}

// Observability bundles the tracer, meter, and log emitter for one instrumentation scope.
type Observability struct {
	Tracer trace.Tracer
	Meter  metric.Meter
	Logger LogEmitter
}

// New returns an Observability using the given handles. Nil handles are replaced with no-op implementations.
func New(tracer trace.Tracer, meter metric.Meter, logger LogEmitter) *Observability {
	if tracer == nil {
		tracer = tracenoop.NewTracerProvider().Tracer("")
	}
	if meter == nil {
		meter = metricnoop.NewMeterProvider().Meter("")
	}
	if logger == nil {
		logger = discardEmitter{}
	}
	return &Observability{Tracer: tracer, Meter: meter, Logger: logger}
}

// Noop returns an Observability that records nothing.
func Noop() *Observability {
	return New(nil, nil, nil)
}

type discardEmitter struct{}

func (discardEmitter) Emit(context.Context, otellog.Record) {}

// Info emits an INFO log record with the given body and attributes.
func (o *Observability) Info(ctx context.Context, body string, attrs ...otellog.KeyValue) {
	o.emit(ctx, otellog.SeverityInfo, "INFO", body, attrs)
}

// Error emits an ERROR log record with the given body and attributes.
func (o *Observability) Error(ctx context.Context, body string, attrs ...otellog.KeyValue) {
	o.emit(ctx, otellog.SeverityError, "ERROR", body, attrs)
}

func (o *Observability) emit(ctx context.Context, severity otellog.Severity, text, body string, attrs []otellog.KeyValue) {
	if o == nil || o.Logger == nil {
		return
	}
	rec := otellog.Record{}
	rec.SetTimestamp(time.Now().UTC())
	rec.SetSeverity(severity)
	rec.SetSeverityText(text)
	rec.SetBody(otellog.StringValue(body))
	rec.AddAttributes(attrs...)
	o.Logger.Emit(ctx, rec)
}
