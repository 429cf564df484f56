// Package metrics holds the Prometheus collectors for the RSVP service.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	registrations *prometheus.CounterVec
	checkIns      *prometheus.CounterVec
	lookups       *prometheus.CounterVec
	dropped       *prometheus.CounterVec
	subscribers   prometheus.Gauge
	forwarded     *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rsvp",
			Name:      "registrations_total",
			Help:      "Registration attempts by outcome.",
		}, []string{"outcome"}),
		checkIns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rsvp",
			Name:      "checkins_total",
			Help:      "Check-in attempts by outcome.",
		}, []string{"outcome"}),
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rsvp",
			Name:      "lookups_total",
			Help:      "Guest lookups by method and outcome.",
		}, []string{"method", "outcome"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rsvp",
			Name:      "broadcast_dropped_total",
			Help:      "Events not delivered because a subscriber or sink was full.",
		}, []string{"target"}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rsvp",
			Name:      "broadcast_subscribers",
			Help:      "Live dashboard subscriptions.",
		}),
		forwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rsvp",
			Name:      "events_forwarded_total",
			Help:      "Outbox events forwarded downstream by result.",
		}, []string{"type", "result"}),
	}
	reg.MustRegister(m.registrations, m.checkIns, m.lookups, m.dropped, m.subscribers, m.forwarded)
	return m
}

func (m *Metrics) Registration(outcome string) {
	if m == nil {
		return
	}
	m.registrations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) CheckIn(outcome string) {
	if m == nil {
		return
	}
	m.checkIns.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Lookup(method, outcome string) {
	if m == nil {
		return
	}
	m.lookups.WithLabelValues(method, outcome).Inc()
}

// Dropped counts an event a subscriber or sink could not accept.
func (m *Metrics) Dropped(target string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(target).Inc()
}

func (m *Metrics) SubscriberAdded() {
	if m == nil {
		return
	}
	m.subscribers.Inc()
}

func (m *Metrics) SubscriberRemoved() {
	if m == nil {
		return
	}
	m.subscribers.Dec()
}

func (m *Metrics) Forwarded(eventType, result string) {
	if m == nil {
		return
	}
	m.forwarded.WithLabelValues(eventType, result).Inc()
}
