// Package metrics exposes Prometheus instrumentation for the reporting
// pipeline and the lookup store.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	instance *Metrics
	once     sync.Once
)

// Metrics holds all Prometheus collectors.
type Metrics struct {
	// Event log metrics
	EventsScheduled prometheus.Counter
	ScheduleErrors  prometheus.Counter

	// Aggregation metrics
	ReportsGenerated prometheus.Counter
	ReportsEmpty     prometheus.Counter
	RecordsSkipped   prometheus.Counter

	// Delivery metrics
	ReportsDelivered *prometheus.CounterVec
	DeliveryFailures prometheus.Counter
	DeliveryDuration prometheus.Histogram
	ReportsForfeited prometheus.Counter

	// Lookup store metrics
	RateLimitDenied prometheus.Counter
	PurgeDeleted    prometheus.Counter
	BlockedRejects  prometheus.Counter
}

// Get returns the singleton metrics instance, registering all
// collectors on first use.
func Get() *Metrics {
	once.Do(func() {
		instance = newMetrics()
	})
	return instance
}

func newMetrics() *Metrics {
	return &Metrics{
		EventsScheduled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tlsrptd_events_scheduled_total",
			Help: "Total report events appended to the event log",
		}),
		ScheduleErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tlsrptd_schedule_errors_total",
			Help: "Total failures writing report events",
		}),
		ReportsGenerated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tlsrptd_reports_generated_total",
			Help: "Total reports assembled from the event log",
		}),
		ReportsEmpty: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tlsrptd_reports_empty_total",
			Help: "Total aggregation runs discarded with no policies",
		}),
		RecordsSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tlsrptd_records_skipped_total",
			Help: "Total stored records skipped due to decode errors",
		}),
		ReportsDelivered: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tlsrptd_reports_delivered_total",
			Help: "Total reports delivered, by channel",
		}, []string{"channel"}),
		DeliveryFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tlsrptd_delivery_failures_total",
			Help: "Total failed delivery attempts across all channels",
		}),
		DeliveryDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "tlsrptd_delivery_duration_seconds",
			Help:    "Report delivery duration",
			Buckets: prometheus.DefBuckets,
		}),
		ReportsForfeited: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tlsrptd_reports_forfeited_total",
			Help: "Total reports dropped after exhausting all recipients",
		}),
		RateLimitDenied: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tlsrptd_rate_limit_denied_total",
			Help: "Total requests denied by the rate limiter",
		}),
		PurgeDeleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tlsrptd_purge_deleted_total",
			Help: "Total expired entries removed by the sweeper",
		}),
		BlockedRejects: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tlsrptd_blocked_rejects_total",
			Help: "Total connections rejected from blocked addresses",
		}),
	}
}
