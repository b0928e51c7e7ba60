package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "maintenance",
		Subsystem: "lifecycle",
		Name:      "transitions_total",
		Help:      "Total number of applied request transitions by action and target status.",
	}, []string{"action", "to"})

	failures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "maintenance",
		Subsystem: "lifecycle",
		Name:      "failures_total",
		Help:      "Total number of refused or failed transitions by action and error kind.",
	}, []string{"action", "reason"})

	latency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "maintenance",
		Subsystem: "lifecycle",
		Name:      "transition_seconds",
		Help:      "Latency of transition calls including store round trips.",
		Buckets: []float64{
			0.001, 0.005, 0.01, 0.025,
			0.05, 0.1, 0.25, 0.5, 1,
		},
	}, []string{"action"})

	notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "maintenance",
		Subsystem: "notify",
		Name:      "deliveries_total",
		Help:      "Notification deliveries by sink and result.",
	}, []string{"sink", "result"})
)

// ObserveTransition records one applied transition.
func ObserveTransition(action, to string, took time.Duration) {
	transitions.With(prometheus.Labels{"action": action, "to": to}).Inc()
	latency.With(prometheus.Labels{"action": action}).Observe(took.Seconds())
}

// ObserveFailure records a refused or failed transition.
func ObserveFailure(action, reason string, took time.Duration) {
	failures.With(prometheus.Labels{"action": action, "reason": reason}).Inc()
	latency.With(prometheus.Labels{"action": action}).Observe(took.Seconds())
}

// ObserveDelivery records a notification sink outcome.
func ObserveDelivery(sink string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	notifications.With(prometheus.Labels{"sink": sink, "result": result}).Inc()
}

// Handler exposes the default registry for scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}
