package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	visitPersistGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "place_visits",
		Subsystem: "persistence",
		Name:      "last_visit_persisted_timestamp_seconds",
		Help:      "Unix timestamp of the most recent visit upsert committed to Postgres.",
	})
	visitsClearedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "place_visits",
		Subsystem: "persistence",
		Name:      "last_visits_cleared_timestamp_seconds",
		Help:      "Unix timestamp of the most recent clear-all.",
	})
)

func init() {
	prometheus.MustRegister(visitPersistGauge, visitsClearedGauge)
}

// RecordVisitPersisted updates the persistence watermark gauge.
func RecordVisitPersisted(ts time.Time) {
	if ts.IsZero() {
		return
	}
	visitPersistGauge.Set(float64(ts.Unix()))
}

// RecordVisitsCleared updates the clear watermark gauge.
func RecordVisitsCleared(ts time.Time) {
	if ts.IsZero() {
		return
	}
	visitsClearedGauge.Set(float64(ts.Unix()))
}
