// Package metrics holds the bot's Prometheus collectors. They are registered on
// a private registry so tests can construct components freely without
// duplicate-registration panics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	TransportRequests = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "groupbot",
		Subsystem: "waha",
		Name:      "requests_total",
		Help:      "WAHA HTTP attempts by status class.",
	}, []string{"status"})

	TransportRetries = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "groupbot",
		Subsystem: "waha",
		Name:      "retries_total",
		Help:      "WAHA retries by the status class that triggered them.",
	}, []string{"status"})

	AuthorityDecisions = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "groupbot",
		Subsystem: "authority",
		Name:      "decisions_total",
		Help:      "Admin checks by source and reason.",
	}, []string{"source", "reason", "admin"})

	Heals = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "groupbot",
		Subsystem: "authority",
		Name:      "heals_total",
		Help:      "Background roster heals by result.",
	}, []string{"result"})

	Events = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "groupbot",
		Subsystem: "events",
		Name:      "received_total",
		Help:      "Webhook events by kind and outcome.",
	}, []string{"kind", "outcome"})

	Commands = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "groupbot",
		Subsystem: "command",
		Name:      "invocations_total",
		Help:      "Command invocations by name and outcome.",
	}, []string{"command", "outcome"})

	Reminders = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "groupbot",
		Subsystem: "reminder",
		Name:      "sent_total",
		Help:      "Prayer reminders by prayer and result.",
	}, []string{"prayer", "result"})

	HTTPDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "groupbot",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "status"})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Handler exposes the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}
