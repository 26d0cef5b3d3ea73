package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus metrics for hook deliveries
var (
	DeliveryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "formhook_delivery_attempts_total",
			Help: "Total number of delivery attempts by format and outcome",
		},
		[]string{"format", "outcome"},
	)

	DeliveryAttemptDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "formhook_delivery_attempt_duration_seconds",
			Help:    "Duration of outbound delivery requests",
			Buckets: prometheus.DefBuckets,
		},
	)

	RetriesScheduledTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "formhook_delivery_retries_scheduled_total",
			Help: "Total number of automatic retries scheduled",
		},
	)

	SSRFBlockedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "formhook_delivery_ssrf_blocked_total",
			Help: "Total number of deliveries refused by the destination guard",
		},
	)

	HookLogsFinalTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "formhook_hook_logs_final_total",
			Help: "Total number of hook logs reaching success or exhausting their retries",
		},
		[]string{"status"},
	)
)

var registerOnce sync.Once

// Register registers all collectors with reg once per process.
func Register(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		reg.MustRegister(DeliveryAttemptsTotal)
		reg.MustRegister(DeliveryAttemptDuration)
		reg.MustRegister(RetriesScheduledTotal)
		reg.MustRegister(SSRFBlockedTotal)
		reg.MustRegister(HookLogsFinalTotal)
	})
}
