package orchestrator

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	turnsStarted      prometheus.Counter
	turnsFailed       prometheus.Counter
	planningFailures  prometheus.Counter
	synthesisFailures prometheus.Counter
	iterationCaps     prometheus.Counter
	decisions         *prometheus.CounterVec
	stepsExecuted     *prometheus.CounterVec
	decisionWait      prometheus.Histogram
}

var (
	metricsOnce sync.Once
	m           *metrics
)

func met() *metrics {
	metricsOnce.Do(func() {
		m = &metrics{
			turnsStarted: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: "diagd",
				Subsystem: "workflow",
				Name:      "turns_started_total",
				Help:      "Diagnostic turns accepted for processing.",
			}),
			turnsFailed: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: "diagd",
				Subsystem: "workflow",
				Name:      "turns_failed_total",
				Help:      "Diagnostic turns that ended in an error report.",
			}),
			planningFailures: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: "diagd",
				Subsystem: "workflow",
				Name:      "planning_failures_total",
				Help:      "Planning invocations that produced no usable plan.",
			}),
			synthesisFailures: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: "diagd",
				Subsystem: "workflow",
				Name:      "synthesis_failures_total",
				Help:      "Synthesis invocations that produced no report.",
			}),
			iterationCaps: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: "diagd",
				Subsystem: "workflow",
				Name:      "iteration_cap_total",
				Help:      "Turns forced into synthesis by the iteration cap.",
			}),
			decisions: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "diagd",
				Subsystem: "workflow",
				Name:      "decisions_total",
				Help:      "Human checkpoint decisions by choice.",
			}, []string{"choice"}),
			stepsExecuted: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "diagd",
				Subsystem: "workflow",
				Name:      "steps_total",
				Help:      "Plan steps by tool and terminal status.",
			}, []string{"tool", "status"}),
			decisionWait: promauto.NewHistogram(prometheus.HistogramOpts{
				Namespace: "diagd",
				Subsystem: "workflow",
				Name:      "decision_wait_seconds",
				Help:      "Time spent paused at the human checkpoint.",
				Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
			}),
		}
	})
	return m
}
