package cmdrdata

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	usageEventsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cmdrdata_usage_events_total",
		Help: "Usage events handed to the tracker, by call outcome",
	}, []string{"outcome"})
	usageDeliveryFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cmdrdata_delivery_failures_total",
		Help: "Usage events dropped after exhausting delivery retries",
	})
	extractorFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cmdrdata_extractor_failures_total",
		Help: "Extraction-function panics absorbed by the interceptor",
	})
	trackedCallDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cmdrdata_tracked_call_duration_seconds",
		Help:    "Wall-clock duration of tracked upstream calls",
		Buckets: prometheus.DefBuckets,
	})
)
