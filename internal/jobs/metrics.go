package jobmetrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for background jobs.
type Metrics struct {
	runs          *prometheus.CounterVec
	failures      *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	driftedLedger *prometheus.GaugeVec
	scheduled     *prometheus.CounterVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the job metrics against the provided registerer. When the
// registerer is nil the default Prometheus registerer is used.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

// Tracker provides lifecycle instrumentation helpers for a single job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track spawns a tracker for the given job name.
func (m *Metrics) Track(job string) *Tracker {
	if m == nil {
		return &Tracker{job: job, start: time.Now()}
	}
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End finalises the tracker, recording duration, success/failure counts and
// returning the provided error untouched.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	status := "success"
	if err != nil {
		status = "failure"
		t.metrics.failures.WithLabelValues(t.job).Inc()
	}
	t.metrics.runs.WithLabelValues(t.job, status).Inc()
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// SetDriftedLedgers records how many ledgers of a society failed replay in
// the latest integrity run.
func (m *Metrics) SetDriftedLedgers(societyID int64, count int) {
	if m == nil {
		return
	}
	m.driftedLedger.WithLabelValues(strconv.FormatInt(societyID, 10)).Set(float64(count))
}

// AddScheduledBills counts the outcome of one scheduled generation run.
func (m *Metrics) AddScheduledBills(created, failed int) {
	if m == nil {
		return
	}
	if created > 0 {
		m.scheduled.WithLabelValues("created").Add(float64(created))
	}
	if failed > 0 {
		m.scheduled.WithLabelValues("failed").Add(float64(failed))
	}
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "societyhub_jobs_total",
		Help: "Total job executions partitioned by job name and status.",
	}, []string{"job", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "societyhub_jobs_failures_total",
		Help: "Total failures observed for background jobs.",
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "societyhub_job_duration_seconds",
		Help:    "Duration in seconds of background job executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	drifted := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "societyhub_ledger_drift",
		Help: "Ledgers whose stored balance differs from the replayed entries, per society.",
	}, []string{"society"})
	scheduled := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "societyhub_scheduled_bills_total",
		Help: "Bills attempted by scheduled generation partitioned by outcome.",
	}, []string{"outcome"})
	registerer.MustRegister(runs, failures, duration, drifted, scheduled)
	return &Metrics{runs: runs, failures: failures, duration: duration, driftedLedger: drifted, scheduled: scheduled}
}
