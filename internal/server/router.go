// Package server assembles the HTTP router: middleware chain, sign-in routes, pages, email diagnostics, and health checks.
package server

import (
	"net/http"
	"net/netip"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	healthhandler "buildboard/backend/internal/health/handler"
	identityhandler "buildboard/backend/internal/identity/handler"
	notificationhandler "buildboard/backend/internal/notification/handler"
	"buildboard/backend/internal/server/middleware"
	"buildboard/backend/internal/session"
)

// Deps holds the handlers and shared services the router wires together.
type Deps struct {
	// Sessions decodes the session cookie for every request. Required.
	Sessions *session.Manager
	// Auth serves /auth/* and /logout. Required.
	Auth *identityhandler.AuthHandler
	// Emails serves /emails/*. If nil, the email routes are not mounted.
	Emails *notificationhandler.EmailHandler
	// EmailLimiter rate-limits /emails/* per client IP. If nil, no limit applies.
	EmailLimiter middleware.Limiter
	// Activity backs the recent_activity list on /me. If nil, the list is omitted.
	Activity ActivityLister
	// Health serves /healthz and /readyz. If nil, the health routes are not mounted.
	Health *healthhandler.Server
	// Metrics records request counts and latency. If nil, requests are not counted.
	Metrics middleware.HTTPObserver
	// MetricsHandler serves /metrics. If nil, the route is not mounted.
	MetricsHandler http.Handler
	// TracerProvider and MeterProvider instrument the router with otelhttp. Nil uses the global providers.
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
	// SecureCookies sets the Secure attribute on flash cookies.
	SecureCookies bool
	// TrustedProxies are the peers whose X-Forwarded-For the email rate limit believes. Empty keys on the peer address.
	TrustedProxies []netip.Prefix
}

// NewRouter returns the application's HTTP handler.
//
// Middleware order: otelhttp → Recover → ClientIP → RequestLogger → Metrics → session decode.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recover)
	r.Use(middleware.ClientIP)
	r.Use(middleware.RequestLogger)
	r.Use(middleware.Metrics(d.Metrics))

	if d.Health != nil {
		r.Get("/healthz", d.Health.Live)
		r.Get("/readyz", d.Health.Ready)
	}
	if d.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", d.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		r.Use(d.Sessions.Middleware)

		pages := &pages{sessions: d.Sessions, activity: d.Activity, secureCookies: d.SecureCookies}
		r.Get("/", pages.home)
		r.Get("/me", pages.me)
		r.With(middleware.RequireUser(d.Sessions.CurrentUser, d.SecureCookies)).Get("/projects", pages.projects)

		d.Auth.Routes(r)

		if d.Emails != nil {
			d.Emails.Routes(r, middleware.RateLimit(d.EmailLimiter, "emails", middleware.PeerKey(d.TrustedProxies)))
		}
	})

	var opts []otelhttp.Option
	if d.TracerProvider != nil {
		opts = append(opts, otelhttp.WithTracerProvider(d.TracerProvider))
	}
	if d.MeterProvider != nil {
		opts = append(opts, otelhttp.WithMeterProvider(d.MeterProvider))
	}
	opts = append(opts, otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
		return r.Method + " " + r.URL.Path
	}))
	return otelhttp.NewHandler(r, "http.server", opts...)
}
