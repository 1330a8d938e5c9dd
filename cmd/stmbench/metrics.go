package main

import (
	"time"

	"github.com/go-swisstm/stm/stm"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	commitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "stm",
		Subsystem: "engine",
		Name:      "commits_total",
		Help:      "Number of transactions that committed successfully.",
	})

	abortsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "stm",
		Subsystem: "engine",
		Name:      "aborts_total",
		Help:      "Number of Atomic calls that returned a non-retryable error.",
	})

	commitLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "stm",
		Subsystem: "engine",
		Name:      "commit_latency_seconds",
		Help:      "Wall-clock time spent inside Atomic, including any internal retries.",
		Buckets:   prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(commitsTotal, abortsTotal, commitLatency)
}

// instrumentedAtomic wraps stm.Atomic with the package's Prometheus
// metrics. Atomic already retries retry-eligible errors internally, so
// these counters see only the transaction's terminal outcome, not each
// individual restart.
func instrumentedAtomic(fn func() error) error {
	start := time.Now()
	err := stm.Atomic(fn)
	commitLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		abortsTotal.Inc()
		return err
	}
	commitsTotal.Inc()
	return nil
}
