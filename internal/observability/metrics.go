package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPTotalRequests counts handled requests.
	HTTPTotalRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "support_http_requests_total",
			Help: "Total number of http requests",
		},
		[]string{"path", "method", "status_code"},
	)

	// HTTPRequestDuration is the duration of handled requests.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "support_http_request_duration_seconds",
			Help:    "Duration of the http request",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method", "status_code"},
	)

	// HTTPErrors counts error responses by domain error code.
	HTTPErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "support_http_errors_total",
			Help: "Total number of error responses",
		},
		[]string{"path", "method", "code"},
	)

	// TicketsCreated counts new tickets.
	TicketsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "support_tickets_created_total",
			Help: "Total number of tickets created",
		},
		[]string{"priority", "category"},
	)

	// TicketStatusTransitions counts status changes.
	TicketStatusTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "support_ticket_status_transitions_total",
			Help: "Total number of ticket status transitions",
		},
		[]string{"from", "to"},
	)

	// TicketSLABreaches counts breaches recorded by the sweeper.
	TicketSLABreaches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "support_ticket_sla_breaches_total",
			Help: "Total number of SLA breaches recorded",
		},
		[]string{"priority"},
	)

	// StatsCacheLookups counts dashboard stats cache hits and misses.
	StatsCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "support_stats_cache_lookups_total",
			Help: "Total number of stats cache lookups",
		},
		[]string{"result"},
	)
)

// RecordRequest observes a finished request.
func RecordRequest(path, method string, status int, duration time.Duration) {
	code := strconv.Itoa(status)
	HTTPTotalRequests.WithLabelValues(path, method, code).Inc()
	HTTPRequestDuration.WithLabelValues(path, method, code).Observe(duration.Seconds())
}

// RecordError counts an error response.
func RecordError(path, method, code string) {
	HTTPErrors.WithLabelValues(path, method, code).Inc()
}
