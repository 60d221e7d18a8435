package stream

import "github.com/prometheus/client_golang/prometheus"

var (
	subscriberGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "place_visits",
		Subsystem: "stream",
		Name:      "subscribers",
		Help:      "Number of active visit stream subscriptions.",
	})

	refreshErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "place_visits",
		Subsystem: "stream",
		Name:      "refresh_errors_total",
		Help:      "Number of failed snapshot reads while refreshing subscribers.",
	})
)

func init() {
	prometheus.MustRegister(subscriberGauge, refreshErrors)
}
