// Package metrics defines the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequestsTotal counts admin HTTP requests.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status_code"})

	// HTTPRequestDuration observes admin HTTP request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
	}, []string{"method", "path"})

	// DomainEventsTotal counts domain events published to the bus.
	DomainEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "domain_events_total",
		Help: "Total domain events published",
	}, []string{"type"})

	// MessagesTotal counts processed and sent messages.
	MessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "messages_total",
		Help: "Total messages processed or sent",
	}, []string{"direction", "channel_type", "content_type"})

	// LeadsCreatedTotal counts newly created leads.
	LeadsCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leads_created_total",
		Help: "Total leads created",
	}, []string{"channel_type"})

	// LeadsQualifiedTotal counts leads that crossed the qualification gate.
	LeadsQualifiedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "leads_qualified_total",
		Help: "Total leads qualified",
	})
)
