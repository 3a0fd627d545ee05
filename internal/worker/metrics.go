package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	foldedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flappyjet",
		Name:      "events_folded_total",
		Help:      "Events successfully folded into an aggregate, per worker.",
	}, []string{"worker"})
	foldFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flappyjet",
		Name:      "event_fold_failures_total",
		Help:      "Per-event fold failures, per worker. Retried up to the attempt ceiling.",
	}, []string{"worker"})
	permanentFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flappyjet",
		Name:      "events_failed_permanently_total",
		Help:      "Events excluded from aggregation after exhausting the attempt ceiling.",
	}, []string{"worker"})
)
