package api

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	messagesSent     prometheus.Counter
	messagesRejected *prometheus.CounterVec
	historyReads     prometheus.Counter
	partnerReads     prometheus.Counter
}

// NewMetrics creates the chat API collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		messagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "poputka",
			Name:      "messages_sent_total",
			Help:      "Messages accepted and persisted.",
		}),
		messagesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "poputka",
			Name:      "messages_rejected_total",
			Help:      "Messages rejected before persisting, by reason.",
		}, []string{"reason"}),
		historyReads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "poputka",
			Name:      "history_reads_total",
			Help:      "Thread history requests, including polls.",
		}),
		partnerReads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "poputka",
			Name:      "partner_reads_total",
			Help:      "Partner list requests.",
		}),
	}
	reg.MustRegister(m.messagesSent, m.messagesRejected, m.historyReads, m.partnerReads)
	return m
}
