// Package metrics defines the Prometheus collectors of the sync and
// delivery pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "gatesync"

// Metrics holds every pipeline collector. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	Probes            *prometheus.CounterVec
	DeviceTransitions *prometheus.CounterVec
	Polls             *prometheus.CounterVec
	EventsFetched     prometheus.Counter
	EventsIngested    *prometheus.CounterVec
	EventsDuplicate   prometheus.Counter
	Deliveries        *prometheus.CounterVec
	DeliveryAbandoned prometheus.Counter
	Notifications     *prometheus.CounterVec
	RetentionDeleted  *prometheus.CounterVec
	CycleDuration     *prometheus.HistogramVec
	CyclePanics       *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pulse", Name: "probes_total",
			Help: "Liveness probes by result.",
		}, []string{"result"}),
		DeviceTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pulse", Name: "transitions_total",
			Help: "Device health transitions by target status.",
		}, []string{"status"}),
		Polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "poller", Name: "polls_total",
			Help: "Device polls by result.",
		}, []string{"result"}),
		EventsFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "poller", Name: "events_fetched_total",
			Help: "Raw events returned by terminals.",
		}),
		EventsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ingest", Name: "events_total",
			Help: "Persisted events by initial delivery status.",
		}, []string{"status"}),
		EventsDuplicate: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ingest", Name: "duplicates_total",
			Help: "Events discarded because they were already stored.",
		}),
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "delivery", Name: "attempts_total",
			Help: "Webhook delivery attempts by result.",
		}, []string{"result"}),
		DeliveryAbandoned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "delivery", Name: "abandoned_total",
			Help: "Events that exhausted their delivery attempts.",
		}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "notify", Name: "messages_total",
			Help: "Gateway notification calls by result.",
		}, []string{"result"}),
		RetentionDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "retention", Name: "deleted_total",
			Help: "Items removed by the retention sweeper by kind.",
		}, []string{"kind"}),
		CycleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "cycle_duration_seconds",
			Help:    "Duration of one scheduling cycle by component.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"component"}),
		CyclePanics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "cycle_panics_total",
			Help: "Cycles aborted by an unexpected panic, by component.",
		}, []string{"component"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.Probes, m.DeviceTransitions, m.Polls, m.EventsFetched,
			m.EventsIngested, m.EventsDuplicate, m.Deliveries, m.DeliveryAbandoned,
			m.Notifications, m.RetentionDeleted, m.CycleDuration, m.CyclePanics,
		)
	}
	return m
}

// Probe counts one liveness probe.
func (m *Metrics) Probe(ok bool) {
	if m == nil {
		return
	}
	m.Probes.WithLabelValues(result(ok, "ok", "fail")).Inc()
}

// Transition counts a persisted health transition to status.
func (m *Metrics) Transition(status string) {
	if m == nil {
		return
	}
	m.DeviceTransitions.WithLabelValues(status).Inc()
}

// Poll counts one device poll and the raw events it returned.
func (m *Metrics) Poll(ok bool, fetched int) {
	if m == nil {
		return
	}
	m.Polls.WithLabelValues(result(ok, "ok", "error")).Inc()
	if fetched > 0 {
		m.EventsFetched.Add(float64(fetched))
	}
}

// Ingested counts a newly stored event by its initial delivery status.
func (m *Metrics) Ingested(status string) {
	if m == nil {
		return
	}
	m.EventsIngested.WithLabelValues(status).Inc()
}

// Duplicate counts an event that was already stored.
func (m *Metrics) Duplicate() {
	if m == nil {
		return
	}
	m.EventsDuplicate.Inc()
}

// Delivery counts one webhook attempt.
func (m *Metrics) Delivery(ok bool) {
	if m == nil {
		return
	}
	m.Deliveries.WithLabelValues(result(ok, "success", "failed")).Inc()
}

// Abandoned counts an event that reached the attempt cap.
func (m *Metrics) Abandoned() {
	if m == nil {
		return
	}
	m.DeliveryAbandoned.Inc()
}

// Notification counts one gateway call outcome: sent, failed or skipped.
func (m *Metrics) Notification(outcome string) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(outcome).Inc()
}

// Retained counts n items of kind removed by the retention sweeper.
func (m *Metrics) Retained(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RetentionDeleted.WithLabelValues(kind).Add(float64(n))
}

// ObserveCycle records how long one cycle of component took.
func (m *Metrics) ObserveCycle(component string, seconds float64) {
	if m == nil {
		return
	}
	m.CycleDuration.WithLabelValues(component).Observe(seconds)
}

// CyclePanicked counts a recovered panic in component's loop.
func (m *Metrics) CyclePanicked(component string) {
	if m == nil {
		return
	}
	m.CyclePanics.WithLabelValues(component).Inc()
}

func result(ok bool, yes, no string) string {
	if ok {
		return yes
	}
	return no
}
