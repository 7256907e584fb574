package stream

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	observersActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "missions",
		Subsystem: "stream",
		Name:      "observers_active",
		Help:      "Trace stream observers currently connected, by transport.",
	}, []string{"transport"})

	eventsForwardedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "missions",
		Subsystem: "stream",
		Name:      "events_forwarded_total",
		Help:      "Trace events forwarded to observers, by transport.",
	}, []string{"transport"})
)
