package metrics

import "github.com/prometheus/client_golang/prometheus"

// ConversationMetrics exposes counters/histograms for the intake flow.
type ConversationMetrics struct {
	inboundTotal     *prometheus.CounterVec
	outboundTotal    *prometheus.CounterVec
	turnLatency      *prometheus.HistogramVec
	aiAttemptsTotal  *prometheus.CounterVec
	aiFailoverTotal  prometheus.Counter
	aiUnavailable    prometheus.Counter
	allocationsTotal *prometheus.CounterVec
}

func NewConversationMetrics(reg prometheus.Registerer) *ConversationMetrics {
	m := &ConversationMetrics{
		inboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "conversation",
			Name:      "inbound_total",
			Help:      "Total inbound chat messages",
		}, []string{"channel", "status"}),
		outboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "conversation",
			Name:      "outbound_total",
			Help:      "Total outbound chat sends",
		}, []string{"kind", "status"}),
		turnLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clinic",
			Subsystem: "conversation",
			Name:      "turn_latency_seconds",
			Help:      "Latency of handling one inbound message",
			Buckets:   prometheus.DefBuckets,
		}, []string{"step"}),
		aiAttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "ai",
			Name:      "attempts_total",
			Help:      "AI provider calls by provider and outcome",
		}, []string{"provider", "outcome"}),
		aiFailoverTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "ai",
			Name:      "failover_total",
			Help:      "Times the secondary provider was used",
		}),
		aiUnavailable: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "ai",
			Name:      "unavailable_total",
			Help:      "Times every provider failed for a turn",
		}),
		allocationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "scheduling",
			Name:      "allocations_total",
			Help:      "Allocation outcomes by request type",
		}, []string{"type", "outcome"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.inboundTotal, m.outboundTotal, m.turnLatency, m.aiAttemptsTotal,
		m.aiFailoverTotal, m.aiUnavailable, m.allocationsTotal)
	return m
}

func (m *ConversationMetrics) ObserveInbound(channel, status string) {
	if m == nil {
		return
	}
	m.inboundTotal.WithLabelValues(channel, status).Inc()
}

func (m *ConversationMetrics) ObserveOutbound(kind, status string) {
	if m == nil {
		return
	}
	m.outboundTotal.WithLabelValues(kind, status).Inc()
}

func (m *ConversationMetrics) ObserveTurnLatency(step string, seconds float64) {
	if m == nil {
		return
	}
	m.turnLatency.WithLabelValues(step).Observe(seconds)
}

func (m *ConversationMetrics) ObserveAIAttempt(provider, outcome string) {
	if m == nil {
		return
	}
	m.aiAttemptsTotal.WithLabelValues(provider, outcome).Inc()
}

func (m *ConversationMetrics) ObserveFailover() {
	if m == nil {
		return
	}
	m.aiFailoverTotal.Inc()
}

func (m *ConversationMetrics) ObserveAIUnavailable() {
	if m == nil {
		return
	}
	m.aiUnavailable.Inc()
}

func (m *ConversationMetrics) ObserveAllocation(requestType, outcome string) {
	if m == nil {
		return
	}
	m.allocationsTotal.WithLabelValues(requestType, outcome).Inc()
}
