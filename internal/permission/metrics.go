package permission

import "github.com/prometheus/client_golang/prometheus"

var (
	sessionsFinished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "place_visits",
		Subsystem: "permission",
		Name:      "sessions_finished_total",
		Help:      "Acquisition sessions that ended, by outcome.",
	}, []string{"outcome"})

	platformRequests = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "place_visits",
		Subsystem: "permission",
		Name:      "platform_requests_total",
		Help:      "Permission batches sent to the platform.",
	})

	enableCoalesced = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "place_visits",
		Subsystem: "permission",
		Name:      "enable_coalesced_total",
		Help:      "Enable intents joined to an already active session.",
	})

	staleCallbacks = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "place_visits",
		Subsystem: "permission",
		Name:      "stale_callbacks_total",
		Help:      "Platform callbacks ignored because their session was cancelled or superseded.",
	})
)

func init() {
	prometheus.MustRegister(sessionsFinished, platformRequests, enableCoalesced, staleCallbacks)
}
