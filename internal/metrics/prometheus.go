package metrics

import (
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	stageDuration *prom.HistogramVec
	buildDuration prom.Histogram
	stageResults  *prom.CounterVec
	pageResults   *prom.CounterVec
	buildOutcome  *prom.CounterVec
	pageCount     prom.Gauge
}

// NewPrometheusRecorder constructs and registers the metrics on reg.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		stageDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "toastpage",
			Name:      "stage_duration_seconds",
			Help:      "Duration of individual build stages",
			Buckets:   prom.DefBuckets,
		}, []string{"stage"}),
		buildDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: "toastpage",
			Name:      "build_duration_seconds",
			Help:      "Total build duration",
			Buckets:   prom.DefBuckets,
		}),
		stageResults: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "toastpage",
			Name:      "stage_results_total",
			Help:      "Stage result counts by outcome",
		}, []string{"stage", "result"}),
		pageResults: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "toastpage",
			Name:      "page_results_total",
			Help:      "Page generation results by outcome",
		}, []string{"result"}),
		buildOutcome: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "toastpage",
			Name:      "build_outcomes_total",
			Help:      "Build outcomes by final status",
		}, []string{"result"}),
		pageCount: prom.NewGauge(prom.GaugeOpts{
			Namespace: "toastpage",
			Name:      "pages",
			Help:      "Number of pages in the current entry set",
		}),
	}
	reg.MustRegister(pr.stageDuration, pr.buildDuration, pr.stageResults, pr.pageResults, pr.buildOutcome, pr.pageCount)
	return pr
}

func (p *PrometheusRecorder) ObserveStageDuration(stage string, d time.Duration) {
	p.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (p *PrometheusRecorder) ObserveBuildDuration(d time.Duration) {
	p.buildDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncStageResult(stage string, result ResultLabel) {
	p.stageResults.WithLabelValues(stage, string(result)).Inc()
}

func (p *PrometheusRecorder) IncPageResult(result ResultLabel) {
	p.pageResults.WithLabelValues(string(result)).Inc()
}

func (p *PrometheusRecorder) IncBuildOutcome(result ResultLabel) {
	p.buildOutcome.WithLabelValues(string(result)).Inc()
}

func (p *PrometheusRecorder) SetPageCount(n int) {
	p.pageCount.Set(float64(n))
}

// HTTPHandler returns an http.Handler that serves the metrics of reg.
func HTTPHandler(reg *prom.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
