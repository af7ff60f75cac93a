package metrics

import (
	"net/http"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "assetstage"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once              sync.Once
	registry          *prom.Registry
	stageDuration     *prom.HistogramVec
	stageResults      *prom.CounterVec
	stageOutputBytes  *prom.CounterVec
	classRebuilds     *prom.CounterVec
	reloadBroadcasts  prom.Counter
	reloadSubscribers prom.Gauge
}

// NewPrometheusRecorder constructs and registers Prometheus metrics (idempotent).
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{registry: reg}
	pr.once.Do(func() {
		pr.stageDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stages",
			Buckets:   prom.DefBuckets,
		}, []string{"stage"})
		pr.stageResults = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "stage_results_total",
			Help:      "Stage result counts by outcome",
		}, []string{"stage", "result"})
		pr.stageOutputBytes = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "stage_output_bytes_total",
			Help:      "Bytes written by each stage",
		}, []string{"stage"})
		pr.classRebuilds = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "class_rebuilds_total",
			Help:      "Dev loop rebuilds by asset class and outcome",
		}, []string{"class", "result"})
		pr.reloadBroadcasts = prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "reload_broadcasts_total",
			Help:      "Reload notifications sent to preview clients",
		})
		pr.reloadSubscribers = prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "reload_subscribers",
			Help:      "Connected preview clients",
		})
		reg.MustRegister(pr.stageDuration, pr.stageResults, pr.stageOutputBytes, pr.classRebuilds, pr.reloadBroadcasts, pr.reloadSubscribers)
	})
	return pr
}

func (p *PrometheusRecorder) ObserveStageDuration(stage string, d time.Duration) {
	if p == nil || p.stageDuration == nil {
		return
	}
	p.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncStageResult(stage string, result ResultLabel) {
	if p == nil || p.stageResults == nil {
		return
	}
	p.stageResults.WithLabelValues(stage, string(result)).Inc()
}

func (p *PrometheusRecorder) AddStageOutputBytes(stage string, n int64) {
	if p == nil || p.stageOutputBytes == nil {
		return
	}
	p.stageOutputBytes.WithLabelValues(stage).Add(float64(n))
}

func (p *PrometheusRecorder) IncClassRebuild(class string, result ResultLabel) {
	if p == nil || p.classRebuilds == nil {
		return
	}
	p.classRebuilds.WithLabelValues(class, string(result)).Inc()
}

func (p *PrometheusRecorder) IncReloadBroadcast() {
	if p == nil || p.reloadBroadcasts == nil {
		return
	}
	p.reloadBroadcasts.Inc()
}

func (p *PrometheusRecorder) SetReloadSubscribers(n int) {
	if p == nil || p.reloadSubscribers == nil {
		return
	}
	p.reloadSubscribers.Set(float64(n))
}

// Handler returns an http.Handler that serves the recorder's registry.
func (p *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
