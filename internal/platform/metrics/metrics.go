package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rl1809/custody-ledger/internal/port"
)

var _ port.MetricsRecorder = (*Recorder)(nil)

// Recorder publishes custody metrics on its own registry so tests can build
// as many as they like without clashing on the global one.
type Recorder struct {
	registry *prometheus.Registry
	total    *prometheus.CounterVec
	retries  *prometheus.CounterVec
	duration *prometheus.HistogramVec
	drift    *prometheus.CounterVec
}

func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		total: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "custody",
			Name:      "apply_total",
			Help:      "Custody operations by action and outcome.",
		}, []string{"action", "outcome"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "custody",
			Name:      "apply_retries_total",
			Help:      "Optimistic write conflicts that triggered a retry.",
		}, []string{"operation"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "custody",
			Name:      "apply_duration_seconds",
			Help:      "Latency of custody operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"action"}),
		drift: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "custody",
			Name:      "reconcile_drift_total",
			Help:      "Holdings found to disagree with their ledger replay.",
		}, []string{"category"}),
	}
	r.registry.MustRegister(
		r.total, r.retries, r.duration, r.drift,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

func (r *Recorder) Observe(_ context.Context, operation, outcome string, d time.Duration) {
	r.total.WithLabelValues(operation, outcome).Inc()
	r.duration.WithLabelValues(operation).Observe(d.Seconds())
}

func (r *Recorder) Retry(operation string) {
	r.retries.WithLabelValues(operation).Inc()
}

func (r *Recorder) Drift(category string) {
	r.drift.WithLabelValues(category).Inc()
}

func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
