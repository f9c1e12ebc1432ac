package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tap_poller"

// Metrics holds the Prometheus collectors for poll runs.
type Metrics struct {
	RunsTotal        *prometheus.CounterVec
	RunFailures      *prometheus.CounterVec
	RunDuration      prometheus.Histogram
	RecordsEmitted   *prometheus.CounterVec
	MessagesSeen     prometheus.Counter
	WatermarkSeconds prometheus.Gauge
	LastSuccess      prometheus.Gauge
	WindowWidth      prometheus.Gauge
	AlertsSent       *prometheus.CounterVec
}

// New registers the collectors on reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		RunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Poll runs by outcome",
		}, []string{"outcome"}),
		RunFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "run_failures_total",
			Help:      "Failed poll runs by stage and error kind",
		}, []string{"stage", "kind"}),
		RunDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of poll runs in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		RecordsEmitted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_emitted_total",
			Help:      "Reputation records emitted by feed category",
		}, []string{"category"}),
		MessagesSeen: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_seen_total",
			Help:      "Message events read from the feed",
		}),
		WatermarkSeconds: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "watermark_timestamp_seconds",
			Help:      "Persisted watermark as unix seconds",
		}),
		LastSuccess: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Completion time of the last successful run",
		}),
		WindowWidth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "window_width_seconds",
			Help:      "Width of the last planned query window",
		}),
		AlertsSent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Alert notifications by result",
		}, []string{"result"}),
	}
}

// ObserveSuccess records a completed run.
func (m *Metrics) ObserveSuccess(d time.Duration, window time.Duration, messages int, perCategory map[string]int) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues("success").Inc()
	m.RunDuration.Observe(d.Seconds())
	m.WindowWidth.Set(window.Seconds())
	m.MessagesSeen.Add(float64(messages))
	for category, n := range perCategory {
		m.RecordsEmitted.WithLabelValues(category).Add(float64(n))
	}
	m.LastSuccess.SetToCurrentTime()
}

// ObserveFailure records a failed run.
func (m *Metrics) ObserveFailure(d time.Duration, stage, kind string) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues("failure").Inc()
	m.RunFailures.WithLabelValues(stage, kind).Inc()
	m.RunDuration.Observe(d.Seconds())
}

// ObserveWatermark records a persisted watermark.
func (m *Metrics) ObserveWatermark(ts time.Time) {
	if m == nil {
		return
	}
	m.WatermarkSeconds.Set(float64(ts.UnixNano()) / float64(time.Second))
}

// ObserveAlert records one notification attempt.
func (m *Metrics) ObserveAlert(err error) {
	if m == nil {
		return
	}
	result := "sent"
	if err != nil {
		result = "failed"
	}
	m.AlertsSent.WithLabelValues(result).Inc()
}
