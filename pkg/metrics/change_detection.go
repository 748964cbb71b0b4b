package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RunCounts is the subset of a change-detection run exported as counters.
type RunCounts struct {
	Scanned  int
	Skipped  int
	Changed  int
	New      int
	Tagged   int
	Errors   int
	Duration time.Duration
}

// ChangeDetectionMetrics exports order change-detection run counters.
type ChangeDetectionMetrics struct {
	orders      *prometheus.CounterVec
	runs        *prometheus.CounterVec
	running     prometheus.Gauge
	lastSuccess prometheus.Gauge
	duration    prometheus.Histogram
}

// NewChangeDetectionMetrics registers the change-detection metrics on reg.
func NewChangeDetectionMetrics(reg prometheus.Registerer) *ChangeDetectionMetrics {
	if reg == nil {
		return &ChangeDetectionMetrics{}
	}
	orders := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "opsconsole_change_detection_orders_total",
		Help: "Orders processed by change detection, by outcome.",
	}, []string{"outcome"})
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "opsconsole_change_detection_runs_total",
		Help: "Change-detection runs, by result.",
	}, []string{"result"})
	running := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "opsconsole_change_detection_running",
		Help: "1 while a change-detection run is in progress.",
	})
	lastSuccess := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "opsconsole_change_detection_last_success_timestamp_seconds",
		Help: "Unix time of the last change-detection run that completed.",
	})
	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "opsconsole_change_detection_run_duration_seconds",
		Help:    "Duration of change-detection runs in seconds.",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
	})
	reg.MustRegister(orders, runs, running, lastSuccess, duration)
	return &ChangeDetectionMetrics{
		orders:      orders,
		runs:        runs,
		running:     running,
		lastSuccess: lastSuccess,
		duration:    duration,
	}
}

// SetRunning flips the in-progress gauge.
func (m *ChangeDetectionMetrics) SetRunning(running bool) {
	if m == nil || m.running == nil {
		return
	}
	if running {
		m.running.Set(1)
		return
	}
	m.running.Set(0)
}

// ObserveRun records the outcome of a finished run. A nil err marks success.
func (m *ChangeDetectionMetrics) ObserveRun(counts RunCounts, finishedAt time.Time, err error) {
	if m == nil || m.orders == nil {
		return
	}
	m.orders.WithLabelValues("scanned").Add(float64(counts.Scanned))
	m.orders.WithLabelValues("skipped").Add(float64(counts.Skipped))
	m.orders.WithLabelValues("changed").Add(float64(counts.Changed))
	m.orders.WithLabelValues("new_change").Add(float64(counts.New))
	m.orders.WithLabelValues("tagged").Add(float64(counts.Tagged))
	m.orders.WithLabelValues("error").Add(float64(counts.Errors))
	m.duration.Observe(counts.Duration.Seconds())
	if err != nil {
		m.runs.WithLabelValues("failed").Inc()
		return
	}
	m.runs.WithLabelValues("completed").Inc()
	m.lastSuccess.Set(float64(finishedAt.Unix()))
}

// IncSkippedRun counts a trigger rejected because a run was already active.
func (m *ChangeDetectionMetrics) IncSkippedRun() {
	if m == nil || m.runs == nil {
		return
	}
	m.runs.WithLabelValues("skipped_in_progress").Inc()
}
