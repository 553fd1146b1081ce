package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	JobOutcomeSucceeded = "succeeded"
	JobOutcomeFailed    = "failed"
)

// CronJobMetrics covers the register's scheduled jobs: catalog refresh and
// receipt retention.
type CronJobMetrics struct {
	runs        *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	lastSuccess *prometheus.GaugeVec
	skipped     *prometheus.CounterVec
}

// NewCronJobMetrics registers the job collectors; a nil registerer yields a
// no-op recorder.
func NewCronJobMetrics(reg prometheus.Registerer) *CronJobMetrics {
	if reg == nil {
		return &CronJobMetrics{}
	}
	m := &CronJobMetrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pos_job_runs_total",
			Help: "Scheduled job runs by outcome.",
		}, []string{"job", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pos_job_duration_seconds",
			Help:    "Scheduled job run time in seconds.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"job"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pos_job_last_success_timestamp_seconds",
			Help: "Unix time of the last successful run per job.",
		}, []string{"job"}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pos_schedule_skipped_total",
			Help: "Schedule cycles skipped because another process held the lock.",
		}, []string{"schedule"}),
	}
	reg.MustRegister(m.runs, m.duration, m.lastSuccess, m.skipped)
	return m
}

// ObserveRun records one job run; err decides the outcome label.
func (c *CronJobMetrics) ObserveRun(job string, took time.Duration, err error, at time.Time) {
	if c == nil || c.runs == nil {
		return
	}
	job = normalizeLabel(job)
	c.duration.WithLabelValues(job).Observe(took.Seconds())
	if err != nil {
		c.runs.WithLabelValues(job, JobOutcomeFailed).Inc()
		return
	}
	c.runs.WithLabelValues(job, JobOutcomeSucceeded).Inc()
	c.lastSuccess.WithLabelValues(job).Set(float64(at.Unix()))
}

func (c *CronJobMetrics) IncSkipped(schedule string) {
	if c == nil || c.skipped == nil {
		return
	}
	c.skipped.WithLabelValues(normalizeLabel(schedule)).Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
