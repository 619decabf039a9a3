package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the collectors the lending service exports. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	Transitions   *prometheus.CounterVec
	Notifications *prometheus.CounterVec
	SweepRuns     *prometheus.CounterVec
	OverdueMarked prometheus.Counter
	Subscriptions prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lending",
			Name:      "transitions_total",
			Help:      "Borrow lifecycle operations by event and outcome.",
		}, []string{"event", "outcome"}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lending",
			Name:      "notifications_delivered_total",
			Help:      "Notifications handed to sinks, by kind.",
		}, []string{"kind"}),
		SweepRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lending",
			Name:      "sweep_runs_total",
			Help:      "Periodic sweep runs by outcome.",
		}, []string{"outcome"}),
		OverdueMarked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lending",
			Name:      "overdue_marked_total",
			Help:      "Loans moved into the overdue state.",
		}),
		Subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lending",
			Name:      "notification_feeds",
			Help:      "Live notification feeds.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Transitions, m.Notifications, m.SweepRuns, m.OverdueMarked, m.Subscriptions)
	}
	return m
}

func (m *Metrics) Transition(event, outcome string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(event, outcome).Inc()
}

func (m *Metrics) Delivered(kind string) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(kind).Inc()
}

func (m *Metrics) Sweep(outcome string) {
	if m == nil {
		return
	}
	m.SweepRuns.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Overdue() {
	if m == nil {
		return
	}
	m.OverdueMarked.Inc()
}

func (m *Metrics) FeedStarted() {
	if m == nil {
		return
	}
	m.Subscriptions.Inc()
}

func (m *Metrics) FeedStopped() {
	if m == nil {
		return
	}
	m.Subscriptions.Dec()
}
