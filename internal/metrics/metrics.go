// Package metrics exposes scanner and tracker counters to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "volscan"

// Recorder holds every collector of the process.
type Recorder struct {
	gatherer prometheus.Gatherer

	scansTotal    *prometheus.CounterVec
	scanDuration  prometheus.Histogram
	signalsTotal  *prometheus.CounterVec
	recordedTotal *prometheus.CounterVec
	duplicates    prometheus.Counter
	resolvedTotal *prometheus.CounterVec
	pending       prometheus.Gauge
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	lastScan      prometheus.Gauge
}

// New registers the collectors on a fresh registry, so several recorders
// can coexist in one process.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return newRecorder(reg, reg)
}

func newRecorder(reg prometheus.Registerer, g prometheus.Gatherer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		gatherer: g,
		scansTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scans_total",
			Help:      "Scan cycles by result",
		}, []string{"result"}),
		scanDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scan_duration_seconds",
			Help:      "Duration of scan cycles in seconds",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		signalsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_total",
			Help:      "Signals emitted by the classifier",
		}, []string{"type", "strength"}),
		recordedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "predictions_recorded_total",
			Help:      "Predictions recorded",
		}, []string{"type"}),
		duplicates: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "predictions_duplicate_total",
			Help:      "Signals skipped as duplicates of a pending prediction",
		}),
		resolvedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "predictions_resolved_total",
			Help:      "Predictions resolved by outcome",
		}, []string{"type", "status"}),
		pending: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "predictions_pending",
			Help:      "Pending predictions as of the last statistics read",
		}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status",
		}, []string{"route", "method", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"route", "method"}),
		lastScan: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_scan_timestamp_seconds",
			Help:      "Unix time of the last finished scan",
		}),
	}
}

func (r *Recorder) RecordScan(ok bool, d time.Duration) {
	result := "ok"
	if !ok {
		result = "error"
	}
	r.scansTotal.WithLabelValues(result).Inc()
	r.scanDuration.Observe(d.Seconds())
	r.lastScan.SetToCurrentTime()
}

func (r *Recorder) RecordSignal(signalType, strength string) {
	r.signalsTotal.WithLabelValues(signalType, strength).Inc()
}

func (r *Recorder) RecordPrediction(signalType string) {
	r.recordedTotal.WithLabelValues(signalType).Inc()
}

func (r *Recorder) RecordDuplicates(n int) {
	r.duplicates.Add(float64(n))
}

func (r *Recorder) RecordResolution(signalType, status string) {
	r.resolvedTotal.WithLabelValues(signalType, status).Inc()
}

func (r *Recorder) SetPending(n int64) {
	r.pending.Set(float64(n))
}

// ObserveHTTP records one request. route should be the templated pattern,
// not the raw path.
func (r *Recorder) ObserveHTTP(route, method string, status int, d time.Duration) {
	r.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	r.httpDuration.WithLabelValues(route, method).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}
