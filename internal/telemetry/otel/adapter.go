package otel

import (
	"buildboard/backend/internal/telemetry"
)

// Observability returns tracer, meter, and logger handles for scope drawn from p.
// A nil p, or nil providers inside it, yield no-op handles.
func (p *Providers) Observability(scope string) *telemetry.Observability {
	if p == nil {
		return telemetry.Noop()
	}
	obs := telemetry.Noop()
	if p.TracerProvider != nil {
		obs.Tracer = p.TracerProvider.Tracer(scope)
	}
	if p.MeterProvider != nil {
		obs.Meter = p.MeterProvider.Meter(scope)
	}
	if p.LoggerProvider != nil {
		obs.Logger = p.LoggerProvider.Logger(scope)
	}
	return obs
}
