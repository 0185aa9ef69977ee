package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QuoteSolicitations counts solicit results by outcome (quoted, failed, superseded, expired).
	QuoteSolicitations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quote_solicitations_total",
			Help: "Quote solicitations by outcome.",
		},
		[]string{"outcome"},
	)

	// QuoteAcceptances counts accept attempts by outcome.
	QuoteAcceptances = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quote_acceptances_total",
			Help: "Quote acceptances by outcome (accepted, already_filled, rejected, duplicate, expired).",
		},
		[]string{"outcome"},
	)

	// QuoteExpirations counts quotes that lapsed while the session held them.
	QuoteExpirations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "quote_expirations_total",
			Help: "Quotes expired client-side before acceptance.",
		},
	)

	// SessionTransitions counts lifecycle state transitions.
	SessionTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quote_session_transitions_total",
			Help: "Quote session state transitions.",
		},
		[]string{"from", "to"},
	)

	// OpenSessions tracks sessions currently held by the registry.
	OpenSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "quote_sessions_open",
			Help: "Quote sessions currently open.",
		},
	)

	// ExchangeRequestDuration measures outbound exchange API calls.
	ExchangeRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "exchange_request_duration_seconds",
			Help:    "Duration of exchange API requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms → ~16s
		},
		[]string{"endpoint", "method"},
	)

	// ExchangeRequestsTotal counts outbound exchange API calls by status.
	ExchangeRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exchange_requests_total",
			Help: "Exchange API requests by endpoint, method and status.",
		},
		[]string{"endpoint", "method", "status"},
	)

	// NATSPublishErrors tracks NATS publish failures by subject.
	NATSPublishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nats_publish_errors_total",
			Help: "Number of NATS publish failures by subject.",
		},
		[]string{"subject"},
	)

	// BalanceRefreshes counts balance refetches by result.
	BalanceRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "balance_refreshes_total",
			Help: "Balance refetches by trigger and result.",
		},
		[]string{"trigger", "result"},
	)
)

func IncSolicitation(outcome string) { QuoteSolicitations.WithLabelValues(outcome).Inc() }

func IncAcceptance(outcome string) { QuoteAcceptances.WithLabelValues(outcome).Inc() }

func IncTransition(from, to string) { SessionTransitions.WithLabelValues(from, to).Inc() }

// IncExchangeRequest increments the exchange request counter.
func IncExchangeRequest(endpoint, method, status string) {
	ExchangeRequestsTotal.WithLabelValues(endpoint, method, status).Inc()
}

// ObserveDuration records elapsed time since start into a HistogramVec or SummaryVec.
func ObserveDuration(v any, start time.Time, labels ...string) {
	duration := time.Since(start).Seconds()
	switch metric := v.(type) {
	case *prometheus.HistogramVec:
		metric.WithLabelValues(labels...).Observe(duration)
	case *prometheus.SummaryVec:
		metric.WithLabelValues(labels...).Observe(duration)
	}
}

// IncNATSPublishError increments the NATS publish error counter for the given subject.
func IncNATSPublishError(subject string) {
	NATSPublishErrors.WithLabelValues(subject).Inc()
}

func IncBalanceRefresh(trigger, result string) {
	BalanceRefreshes.WithLabelValues(trigger, result).Inc()
}
