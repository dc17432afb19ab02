package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type IngestionMetrics struct {
	runsTotal    *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
	runsInFlight prometheus.Gauge
	chunks       *prometheus.HistogramVec
}

func NewIngestionMetrics(registerer prometheus.Registerer, service string) *IngestionMetrics {
	runsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "runs_total",
			Help:      "Total ingestion runs by trigger and status.",
		},
		[]string{"service", "trigger", "status"},
	)
	runDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "run_duration_seconds",
			Help:      "Ingestion run duration in seconds by status.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"service", "status"},
	)
	runsInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "runs_in_flight",
			Help:      "Number of ingestion runs in progress.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	chunks := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "chunks",
			Help:      "Chunks produced per successful ingestion run.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		},
		[]string{"service"},
	)

	registerer.MustRegister(runsTotal, runDuration, runsInFlight, chunks)

	return &IngestionMetrics{
		runsTotal:    runsTotal,
		runDuration:  runDuration,
		runsInFlight: runsInFlight,
		chunks:       chunks,
	}
}

func (m *IngestionMetrics) StartRun() {
	m.runsInFlight.Inc()
}

func (m *IngestionMetrics) FinishRun(service, trigger string, chunkCount int, duration time.Duration, err error) {
	m.runsInFlight.Dec()

	status := "success"
	if err != nil {
		status = "error"
	}

	m.runsTotal.WithLabelValues(service, trigger, status).Inc()
	m.runDuration.WithLabelValues(service, status).Observe(duration.Seconds())
	if err == nil {
		m.chunks.WithLabelValues(service).Observe(float64(chunkCount))
	}
}
