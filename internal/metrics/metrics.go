package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/heraldhq/herald/internal/domain"
)

// Metrics groups all Prometheus instruments used across the application.
// Registered once at startup via New(); passed by pointer wherever needed.
type Metrics struct {
	StatusTransitions  *prometheus.CounterVec
	InvalidTransitions *prometheus.CounterVec
	RetriesScheduled   *prometheus.CounterVec
	DeliveryLatency    *prometheus.HistogramVec
	BusDepth           *prometheus.GaugeVec
	DLQDepth           *prometheus.GaugeVec
}

// New registers all instruments with the given Prometheus registerer and
// returns the populated Metrics struct.
// Using a custom registry (instead of prometheus.DefaultRegisterer) keeps
// tests isolated and avoids global state.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		StatusTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "herald_status_transitions_total",
			Help: "Status transitions applied by the delivery state machine, by channel and new status.",
		}, []string{"channel", "status"}),

		InvalidTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "herald_invalid_transitions_total",
			Help: "Rejected transition attempts recorded in the history stream.",
		}, []string{"channel"}),

		RetriesScheduled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "herald_retries_scheduled_total",
			Help: "Scheduled re-deliveries, by channel and failure classification.",
		}, []string{"channel", "classification"}),

		DeliveryLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "herald_delivery_seconds",
			Help:    "Adapter call latency from dequeue to provider ack.",
			Buckets: prometheus.DefBuckets,
		}, []string{"channel"}),

		BusDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "herald_bus_depth",
			Help: "Jobs waiting on the dispatch bus, by topic.",
		}, []string{"topic"}),

		DLQDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "herald_dlq_depth",
			Help: "Jobs parked on the dead-letter topic, by channel.",
		}, []string{"channel"}),
	}

	reg.MustRegister(
		m.StatusTransitions,
		m.InvalidTransitions,
		m.RetriesScheduled,
		m.DeliveryLatency,
		m.BusDepth,
		m.DLQDepth,
	)

	return m
}

// TransitionHooks returns the callbacks expected by lifecycle.Hooks.
// Centralises the prometheus observation calls so the state machine stays
// metrics-agnostic.
func (m *Metrics) TransitionHooks() (
	onTransition func(domain.Channel, domain.DeliveryStatus),
	onInvalid func(domain.Channel),
) {
	onTransition = func(ch domain.Channel, status domain.DeliveryStatus) {
		m.StatusTransitions.WithLabelValues(string(ch), string(status)).Inc()
	}
	onInvalid = func(ch domain.Channel) {
		m.InvalidTransitions.WithLabelValues(string(ch)).Inc()
	}
	return
}

// ObserveDelivery records one adapter round-trip.
func (m *Metrics) ObserveDelivery(ch domain.Channel, latency time.Duration) {
	m.DeliveryLatency.WithLabelValues(string(ch)).Observe(latency.Seconds())
}

// RetryScheduled counts one scheduled re-delivery. Rate-limit retries get
// their own series via the classification label.
func (m *Metrics) RetryScheduled(ch domain.Channel, classification string) {
	m.RetriesScheduled.WithLabelValues(string(ch), classification).Inc()
}
