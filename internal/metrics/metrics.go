package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	UpstreamRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mpesa_request_duration_seconds",
			Help:    "Duration of Daraja API calls",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 5, 10, 15},
		},
		[]string{"operation", "status"},
	)

	TokenRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mpesa_token_requests_total",
			Help: "Access token lookups by source and outcome",
		},
		[]string{"source", "outcome"},
	)

	PushRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stk_push_requests_total",
			Help: "STK push initiations by channel and outcome",
		},
		[]string{"channel", "outcome"},
	)

	CallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mpesa_callbacks_total",
			Help: "Inbound Daraja callbacks by kind and reconciliation outcome",
		},
		[]string{"kind", "outcome"},
	)

	DisbursementsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "b2c_disbursements_total",
			Help: "Withdrawal disbursements by mode and outcome",
		},
		[]string{"mode", "outcome"},
	)

	PendingExpiredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pending_payments_expired_total",
			Help: "Pending payments expired by the sweeper",
		},
	)

	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_events_published_total",
			Help: "Payment events published to the broker",
		},
		[]string{"type", "status"},
	)
)
