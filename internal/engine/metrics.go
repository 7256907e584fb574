package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsFinishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "missions",
		Subsystem: "engine",
		Name:      "runs_finished_total",
		Help:      "Runs driven to a terminal state, by status and trigger.",
	}, []string{"status", "trigger"})

	runRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "missions",
		Subsystem: "engine",
		Name:      "run_retries_total",
		Help:      "Run-level retry attempts after transient failures.",
	})

	deadLettersTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "missions",
		Subsystem: "engine",
		Name:      "dead_letters_total",
		Help:      "Runs parked in the dead letter table after retry exhaustion.",
	})

	runDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "missions",
		Subsystem: "engine",
		Name:      "run_duration_seconds",
		Help:      "Wall-clock duration of finished runs.",
		Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600},
	}, []string{"status"})
)
