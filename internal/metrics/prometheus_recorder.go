package metrics

import (
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"

	"envbackup/internal/backup"
	"envbackup/internal/schedule"
)

const namespace = "envbackup"

// PrometheusRecorder implements backup.Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	passes      *prom.CounterVec
	executions  *prom.CounterVec
	duration    *prom.HistogramVec
	lastSuccess *prom.GaugeVec
}

var _ backup.Recorder = (*PrometheusRecorder)(nil)

// NewPrometheusRecorder constructs the metrics and registers them with reg.
// A nil reg gets a fresh registry.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		passes: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "passes_total",
			Help:      "Scheduled passes by outcome",
		}, []string{"outcome"}),
		executions: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "cadence_executions_total",
			Help:      "Cadence backup executions by status",
		}, []string{"cadence", "status"}),
		duration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "cadence_duration_seconds",
			Help:      "Duration of a single cadence rotation",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"cadence"}),
		lastSuccess: prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful rotation per cadence",
		}, []string{"cadence"}),
	}
	reg.MustRegister(pr.passes, pr.executions, pr.duration, pr.lastSuccess)
	return pr
}

func (p *PrometheusRecorder) ObservePass(outcome string) {
	if p == nil {
		return
	}
	p.passes.WithLabelValues(outcome).Inc()
}

func (p *PrometheusRecorder) ObserveCadence(c schedule.Cadence, status backup.ExecutionStatus, d time.Duration, at time.Time) {
	if p == nil {
		return
	}
	p.executions.WithLabelValues(string(c), string(status)).Inc()
	p.duration.WithLabelValues(string(c)).Observe(d.Seconds())
	if status == backup.StatusExecuted {
		p.lastSuccess.WithLabelValues(string(c)).Set(float64(at.Unix()))
	}
}

// HTTPHandler serves the metrics of reg.
func HTTPHandler(reg *prom.Registry) http.Handler {
	if reg == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
