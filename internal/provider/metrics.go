package provider

import "github.com/prometheus/client_golang/prometheus"

var (
	notificationsDispatched = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "place_visits",
		Subsystem: "provider",
		Name:      "notifications_dispatched_total",
		Help:      "Provider notifications forwarded to listeners.",
	}, []string{"notification"})

	notificationsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "place_visits",
		Subsystem: "provider",
		Name:      "notifications_dropped_total",
		Help:      "Provider notifications dropped before normalization, by reason.",
	}, []string{"notification", "reason"})

	recordFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "place_visits",
		Subsystem: "provider",
		Name:      "record_failures_total",
		Help:      "Crossings the event store did not record, by reason.",
	}, []string{"notification", "reason"})

	monitorRunning = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "place_visits",
		Subsystem: "provider",
		Name:      "monitor_running",
		Help:      "1 while the provider subscription is active.",
	})
)

func init() {
	prometheus.MustRegister(notificationsDispatched, notificationsDropped, recordFailures, monitorRunning)
}
