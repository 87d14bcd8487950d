package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	pathTotal    *prometheus.CounterVec
	errorsTotal  *prometheus.CounterVec
	wrapsTotal   *prometheus.CounterVec
	sloBreaches  *prometheus.CounterVec
	stageLatency *prometheus.HistogramVec
	lastPred     *prometheus.GaugeVec
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		pathTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "barpulse_execution_path_total",
				Help: "Execution path selections per symbol",
			},
			[]string{"symbol", "path"},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "barpulse_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		wrapsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "barpulse_ring_wraps_total",
				Help: "Ring buffer wrap events per timeframe",
			},
			[]string{"timeframe"},
		),
		sloBreaches: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "barpulse_slo_breaches_total",
				Help: "Stage p95 budget breaches",
			},
			[]string{"stage"},
		),
		stageLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "barpulse_stage_duration_seconds",
				Help:    "Duration of pipeline stages in seconds",
				Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
			},
			[]string{"stage"},
		),
		lastPred: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "barpulse_last_prediction",
				Help: "Last prediction value for a symbol",
			},
			[]string{"symbol"},
		),
	}
}

// RecordPath counts one path selection.
func (r *Recorder) RecordPath(symbol, path string) {
	r.pathTotal.WithLabelValues(symbol, path).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordWrap counts one ring wrap.
func (r *Recorder) RecordWrap(timeframe string) {
	r.wrapsTotal.WithLabelValues(timeframe).Inc()
}

// RecordStageLatency records one stage timing in seconds.
func (r *Recorder) RecordStageLatency(stage string, seconds float64) {
	r.stageLatency.WithLabelValues(stage).Observe(seconds)
}

// RecordPrediction records the last prediction value for a symbol.
func (r *Recorder) RecordPrediction(symbol string, value float64) {
	r.lastPred.WithLabelValues(symbol).Set(value)
}

// RecordSLOBreach counts one p95 budget breach.
func (r *Recorder) RecordSLOBreach(stage string) {
	r.sloBreaches.WithLabelValues(stage).Inc()
}
