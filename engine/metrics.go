package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "egdb"

type metrics struct {
	transactions   *prometheus.CounterVec
	conflicts      prometheus.Counter
	applied        prometheus.Counter
	pending        prometheus.Gauge
	droppedActions prometheus.Counter
	queries        *prometheus.CounterVec
	commitSeconds  prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		transactions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "transactions_total",
				Help:      "Transactions ended, by outcome.",
			},
			[]string{"outcome"},
		),
		conflicts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "commit_conflicts_total",
				Help:      "Commits which failed with a concurrent modification.",
			},
		),
		applied: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "applied_total",
				Help:      "Committed transactions applied to an entity group.",
			},
		),
		pending: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "pending_applies",
				Help:      "Committed transactions waiting to be applied to an entity group.",
			},
		),
		droppedActions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "dropped_actions_total",
				Help:      "Side effect actions which failed after commit.",
			},
		),
		queries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "queries_total",
				Help:      "Queries run, by kind of scan.",
			},
			[]string{"scan"},
		),
		commitSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "commit_seconds",
				Help:      "Time to commit a transaction, not including applying it.",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
			},
		),
	}

	for _, c := range []prometheus.Collector{m.transactions, m.conflicts, m.applied, m.pending,
		m.droppedActions, m.queries, m.commitSeconds} {

		err := reg.Register(c)
		if err != nil {
			return nil, err
		}
	}
	return m, nil
}
