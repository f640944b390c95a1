package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	EmailsSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "emails_sent_total",
			Help: "Total emails sent",
		},
	)

	EmailFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "email_failures_total",
			Help: "Total failed delivery attempts",
		},
	)

	ScheduledClaims = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scheduled_claims_total",
			Help: "Total scheduled email records claimed by workers",
		},
	)

	Cancellations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scheduled_cancellations_total",
			Help: "Total cancellation calls against the store",
		},
	)

	SendDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "email_send_duration_seconds",
			Help:    "Wall time of one compose-and-send attempt",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func Init() {
	prometheus.MustRegister(EmailsSent)
	prometheus.MustRegister(EmailFailures)
	prometheus.MustRegister(ScheduledClaims)
	prometheus.MustRegister(Cancellations)
	prometheus.MustRegister(SendDuration)
}
