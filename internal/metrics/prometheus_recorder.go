package metrics

import (
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "voxpipe"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	scanOutcomes     *prom.CounterVec
	normalizeSeconds *prom.HistogramVec
	providerAttempts *prom.CounterVec
	providerSeconds  *prom.HistogramVec
	requests         *prom.CounterVec
	requestSeconds   *prom.HistogramVec
	queueDepth       *prom.GaugeVec
}

// NewPrometheusRecorder constructs and registers the metrics on reg.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		scanOutcomes: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "scan_outcomes_total",
			Help:      "Watcher candidate outcomes per poll",
		}, []string{"outcome"}),
		normalizeSeconds: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "normalize_duration_seconds",
			Help:      "Time spent producing the canonical audio artifact",
			Buckets:   prom.DefBuckets,
		}, []string{"converted"}),
		providerAttempts: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "provider_attempts_total",
			Help:      "Transcription provider calls by result",
		}, []string{"provider", "result"}),
		providerSeconds: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_duration_seconds",
			Help:      "Transcription provider call latency",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"provider"}),
		requests: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Work requests handled by the daemon",
		}, []string{"action", "status"}),
		requestSeconds: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Time from claim to result for a work request",
			Buckets:   []float64{1, 5, 15, 60, 300, 900, 1800, 3600},
		}, []string{"action"}),
		queueDepth: prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_items",
			Help:      "Ingest queue items by status",
		}, []string{"status"}),
	}
	reg.MustRegister(pr.scanOutcomes, pr.normalizeSeconds, pr.providerAttempts, pr.providerSeconds, pr.requests, pr.requestSeconds, pr.queueDepth)
	return pr
}

func (p *PrometheusRecorder) IncScanOutcome(outcome ScanOutcome) {
	if p == nil {
		return
	}
	p.scanOutcomes.WithLabelValues(string(outcome)).Inc()
}

func (p *PrometheusRecorder) ObserveNormalizeDuration(converted bool, d time.Duration) {
	if p == nil {
		return
	}
	label := "false"
	if converted {
		label = "true"
	}
	p.normalizeSeconds.WithLabelValues(label).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncProviderAttempt(provider string, success bool) {
	if p == nil {
		return
	}
	p.providerAttempts.WithLabelValues(provider, resultLabel(success)).Inc()
}

func (p *PrometheusRecorder) ObserveProviderDuration(provider string, d time.Duration) {
	if p == nil {
		return
	}
	p.providerSeconds.WithLabelValues(provider).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncRequest(action, status string) {
	if p == nil {
		return
	}
	p.requests.WithLabelValues(action, status).Inc()
}

func (p *PrometheusRecorder) ObserveRequestDuration(action string, d time.Duration) {
	if p == nil {
		return
	}
	p.requestSeconds.WithLabelValues(action).Observe(d.Seconds())
}

func (p *PrometheusRecorder) SetQueueDepth(status string, n int) {
	if p == nil {
		return
	}
	p.queueDepth.WithLabelValues(status).Set(float64(n))
}

// HTTPHandler serves the metrics registered on reg.
func HTTPHandler(reg *prom.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
