// Package metrics collects Prometheus metrics for HTTP traffic and email delivery and serves /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the service's Prometheus metrics.
type Collector struct {
	httpRequests   *prometheus.CounterVec
	httpLatency    *prometheus.HistogramVec
	emailDelivered *prometheus.CounterVec
}

// NewCollector creates the metrics and registers them with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "buildboard_http_requests_total",
			Help: "HTTP requests by method, route pattern, and status code.",
		}, []string{"method", "route", "status"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "buildboard_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		emailDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "buildboard_email_deliveries_total",
			Help: "Email delivery attempts by type and result.",
		}, []string{"type", "result"}),
	}

	reg.MustRegister(c.httpRequests, c.httpLatency, c.emailDelivered)
	return c
}

// ObserveHTTP records one finished request. route should be the router pattern, not the raw path.
func (c *Collector) ObserveHTTP(method, route string, status int, d time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpLatency.WithLabelValues(method, route).Observe(d.Seconds())
}

// ObserveDelivery records one email send attempt.
func (c *Collector) ObserveDelivery(emailType string, success bool) {
	result := "error"
	if success {
		result = "success"
	}
	c.emailDelivered.WithLabelValues(emailType, result).Inc()
}

// Handler returns the Prometheus scrape handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
