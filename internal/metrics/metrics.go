// Package metrics exposes Prometheus collectors for the sync engine.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	replayedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fitsync",
		Subsystem: "queue",
		Name:      "mutations_replayed_total",
		Help:      "Number of queued mutations acknowledged by the remote API.",
	}, []string{"entity", "action"})

	transientCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fitsync",
		Subsystem: "queue",
		Name:      "mutations_transient_failures_total",
		Help:      "Number of replay attempts that failed and stayed queued.",
	}, []string{"entity", "action"})

	discardedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fitsync",
		Subsystem: "queue",
		Name:      "mutations_discarded_total",
		Help:      "Number of queued mutations dropped after a permanent failure, labeled by reason.",
	}, []string{"entity", "reason"})

	pendingGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fitsync",
		Subsystem: "queue",
		Name:      "pending_mutations",
		Help:      "Current number of mutations waiting for replay.",
	})

	onlineGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fitsync",
		Subsystem: "network",
		Name:      "online",
		Help:      "1 while the network monitor reports connectivity, 0 otherwise.",
	})

	passDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "fitsync",
		Subsystem: "processor",
		Name:      "pass_duration_seconds",
		Help:      "Time spent draining the mutation queue in one pass.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	passCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fitsync",
		Subsystem: "processor",
		Name:      "passes_total",
		Help:      "Number of drain passes by outcome.",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(replayedCounter, transientCounter, discardedCounter, pendingGauge, onlineGauge, passDuration, passCounter)
}

// Replayed records an acknowledged mutation.
func Replayed(entity, action string) {
	replayedCounter.WithLabelValues(entity, action).Inc()
}

// Transient records a retryable replay failure.
func Transient(entity, action string) {
	transientCounter.WithLabelValues(entity, action).Inc()
}

// Discarded records a dropped mutation.
func Discarded(entity, reason string) {
	discardedCounter.WithLabelValues(entity, reason).Inc()
}

// SetPending updates the queue depth gauge.
func SetPending(n int) {
	pendingGauge.Set(float64(n))
}

// SetOnline updates the connectivity gauge.
func SetOnline(online bool) {
	if online {
		onlineGauge.Set(1)
		return
	}
	onlineGauge.Set(0)
}

// PassFinished records a completed drain pass. outcome is one of
// "ok", "skipped" or "error".
func PassFinished(outcome string, seconds float64) {
	passCounter.WithLabelValues(outcome).Inc()
	if outcome != "skipped" {
		passDuration.Observe(seconds)
	}
}
