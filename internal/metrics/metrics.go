// Package metrics exposes prometheus collectors for the sync subsystem.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the sync subsystem's collectors. Construct one per
// daemon with New and share it; a nil *Metrics disables recording.
type Metrics struct {
	Registry *prometheus.Registry

	SendsTotal           *prometheus.CounterVec
	RetriesTotal         prometheus.Counter
	DrainsTotal          *prometheus.CounterVec
	QueueDepth           prometheus.Gauge
	ReconciliationsTotal *prometheus.CounterVec
}

// New creates a metrics bundle backed by its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		SendsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "safespace_sends_total",
			Help: "Message send attempts by outcome.",
		}, []string{"outcome"}), // sent, rejected, queued
		RetriesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "safespace_send_retries_total",
			Help: "Queued entries retried by the sync coordinator.",
		}),
		DrainsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "safespace_queue_drains_total",
			Help: "Queue drain passes by trigger.",
		}, []string{"trigger"}), // online, sw, manual
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "safespace_pending_queue_depth",
			Help: "Current size of the pending-outbound queue.",
		}),
		ReconciliationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "safespace_reconciliations_total",
			Help: "Realtime-push reconciliation outcomes.",
		}, []string{"outcome"}), // id_match, content_match, appended, duplicate
	}
}

// RecordSend increments the send counter when metrics are enabled.
func (m *Metrics) RecordSend(outcome string) {
	if m == nil {
		return
	}
	m.SendsTotal.WithLabelValues(outcome).Inc()
}

// RecordRetry increments the retry counter.
func (m *Metrics) RecordRetry() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// RecordDrain increments the drain counter for a trigger.
func (m *Metrics) RecordDrain(trigger string) {
	if m == nil {
		return
	}
	m.DrainsTotal.WithLabelValues(trigger).Inc()
}

// SetQueueDepth records the current queue size.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

// RecordReconciliation increments the reconciliation counter.
func (m *Metrics) RecordReconciliation(outcome string) {
	if m == nil {
		return
	}
	m.ReconciliationsTotal.WithLabelValues(outcome).Inc()
}
