package transport

import "github.com/prometheus/client_golang/prometheus"

var (
	evictedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tml",
		Subsystem: "sync",
		Name:      "queue_evicted_total",
		Help:      "Queued sync messages dropped because the queue was full.",
	})

	queueDepthGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "tml",
		Subsystem: "sync",
		Name:      "queue_depth",
		Help:      "Sync messages waiting in the durable queue.",
	})

	drainedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tml",
		Subsystem: "sync",
		Name:      "queue_drained_total",
		Help:      "Queued sync messages delivered to the peer.",
	})

	framesCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tml",
		Subsystem: "peer",
		Name:      "frames_received_total",
		Help:      "Frames received on the /sync endpoint, by type and result.",
	}, []string{"type", "result"})

	reachableGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "tml",
		Subsystem: "peer",
		Name:      "reachable",
		Help:      "1 when the last health probe of the peer succeeded.",
	})
)

func init() {
	prometheus.MustRegister(evictedCounter, queueDepthGauge, drainedCounter, framesCounter, reachableGauge)
}

func recordFrame(t FrameType, result string) {
	framesCounter.WithLabelValues(string(t), result).Inc()
}

func setPeerReachable(ok bool) {
	if ok {
		reachableGauge.Set(1)
		return
	}
	reachableGauge.Set(0)
}
