package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// XMPTMessagesTotal counts XMPT messages by direction and outcome.
	XMPTMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xmpt_messages_total",
		Help: "XMPT messages processed, labeled by direction and outcome",
	}, []string{"direction", "outcome"})

	// XMPTSendDuration observes peer round trips for send and sendAndWait.
	XMPTSendDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "xmpt_send_duration_seconds",
		Help:    "Latency distribution of outbound XMPT exchanges",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"operation"})

	// PayToResolutionsTotal counts payTo resolutions by mode and outcome.
	PayToResolutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_payto_resolutions_total",
		Help: "Payment destination resolutions, labeled by mode and outcome",
	}, []string{"mode", "outcome"})

	// RateLimitRejectionsTotal counts paywall rejections per policy group.
	RateLimitRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_rate_limit_rejections_total",
		Help: "Requests rejected by the payment rate limiter",
	}, []string{"group"})

	// HTTPRequestsTotal counts HTTP requests by route and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "route", "status"})

	// HTTPRequestDuration observes handler latency per route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "route"})

	// InboxRecordsTotal counts Kafka inbox records by outcome.
	InboxRecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xmpt_inbox_records_total",
		Help: "Kafka inbox records handled, labeled by outcome",
	}, []string{"outcome"})
)
