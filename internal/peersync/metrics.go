package peersync

import "github.com/prometheus/client_golang/prometheus"

var (
	sentCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tml",
		Subsystem: "sync",
		Name:      "messages_sent_total",
		Help:      "Outbound sync messages handed to a transport, by path.",
	}, []string{"path"})

	appliedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tml",
		Subsystem: "sync",
		Name:      "messages_applied_total",
		Help:      "Inbound sync messages applied to the local replica.",
	}, []string{"entity_kind", "action"})

	droppedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tml",
		Subsystem: "sync",
		Name:      "messages_dropped_total",
		Help:      "Sync messages dropped, by reason.",
	}, []string{"reason"})
)

func init() {
	prometheus.MustRegister(sentCounter, appliedCounter, droppedCounter)
}

func recordSent(path string) {
	sentCounter.WithLabelValues(path).Inc()
}

func recordApplied(m *Message) {
	appliedCounter.WithLabelValues(string(m.EntityKind), string(m.Action)).Inc()
}

func recordDropped(reason string) {
	droppedCounter.WithLabelValues(reason).Inc()
}
