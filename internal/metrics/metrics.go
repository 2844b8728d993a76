// Package metrics exposes relay counters through a private prometheus registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "relay"

// Metrics implements usecase.Recorder and records outbound send results.
type Metrics struct {
	registry      *prometheus.Registry
	messages      *prometheus.CounterVec
	sends         *prometheus.CounterVec
	evictions     *prometheus.CounterVec
	conversations prometheus.Gauge
	skipped       prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Inbound text messages by terminal outcome.",
		}, []string{"outcome"}),
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sends_total",
			Help:      "Outbound replies by delivery result.",
		}, []string{"result"}),
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_evictions_total",
			Help:      "Entries evicted by the expiry sweeper.",
		}, []string{"kind"}),
		conversations: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "conversations_active",
			Help:      "Senders with in-memory conversation state.",
		}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_skipped_total",
			Help:      "Webhook envelopes acknowledged without processing (non-text or blank).",
		}),
	}
	m.registry.MustRegister(
		m.messages,
		m.sends,
		m.evictions,
		m.conversations,
		m.skipped,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) ObserveOutcome(outcome string) {
	m.messages.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveSweep(conversations, dedupRecords int) {
	m.evictions.WithLabelValues("conversation").Add(float64(conversations))
	m.evictions.WithLabelValues("dedup").Add(float64(dedupRecords))
}

func (m *Metrics) SetActiveConversations(n int) {
	m.conversations.Set(float64(n))
}

// ObserveSend records an outbound delivery attempt.
func (m *Metrics) ObserveSend(ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	m.sends.WithLabelValues(result).Inc()
}

// ObserveSkipped records a webhook envelope dropped before the relay.
func (m *Metrics) ObserveSkipped() {
	m.skipped.Inc()
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
