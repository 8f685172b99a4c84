// Package metrics provides Prometheus metrics for ranking computation runs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names.
const (
	MetricRunsTotal         = "ranking_runs_total"
	MetricRunDuration       = "ranking_run_duration_seconds"
	MetricSnapshotsTotal    = "ranking_snapshots_total"
	MetricSnapshotRows      = "ranking_snapshot_rows_total"
	MetricBackfillMonths    = "ranking_backfill_months_total"
	MetricSettingsFallbacks = "ranking_settings_fallbacks_total"
	MetricLastSuccessfulRun = "ranking_last_successful_run_timestamp_seconds"
	MetricLiveComputeShared = "ranking_live_compute_shared_total"
	MetricJobRunsTotal      = "ranking_job_runs_total"
	MetricJobDuration       = "ranking_job_duration_seconds"
)

// Run types.
const (
	RunTypeRecalculate = "recalculate"
	RunTypeBackfill    = "backfill"
	RunTypeLive        = "live"
)

// Status values.
const (
	StatusSuccess = "success"
	StatusPartial = "partial"
	StatusFailure = "failure"
)

// Backfill month outcomes.
const (
	BackfillComputed   = "computed"
	BackfillSkipExists = "skipped_exists"
	BackfillSkipNoData = "skipped_no_data"
	BackfillFailed     = "failed"
)

// Metrics contains Prometheus metrics for ranking runs.
// All operations are thread-safe.
type Metrics struct {
	runsTotal         *prometheus.CounterVec
	runDuration       *prometheus.HistogramVec
	snapshotsTotal    *prometheus.CounterVec
	snapshotRows      *prometheus.CounterVec
	backfillMonths    *prometheus.CounterVec
	settingsFallbacks *prometheus.CounterVec
	lastSuccessfulRun *prometheus.GaugeVec
	liveComputeShared prometheus.Counter
	jobRunsTotal      *prometheus.CounterVec
	jobDuration       *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance with all collectors initialized.
// The metrics are not registered; call Register to register them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricRunsTotal,
				Help: "Total number of ranking runs by type and status",
			},
			[]string{"run_type", "status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricRunDuration,
				Help:    "Histogram of ranking run duration in seconds by run type",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"run_type"},
		),
		snapshotsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricSnapshotsTotal,
				Help: "Total number of snapshot writes by discipline, kind and status",
			},
			[]string{"discipline", "kind", "status"},
		),
		snapshotRows: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricSnapshotRows,
				Help: "Total number of snapshot rows written by discipline and kind",
			},
			[]string{"discipline", "kind"},
		),
		backfillMonths: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricBackfillMonths,
				Help: "Backfill month candidates by discipline and outcome",
			},
			[]string{"discipline", "outcome"},
		),
		settingsFallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricSettingsFallbacks,
				Help: "Number of times a settings table fell back to defaults",
			},
			[]string{"setting"},
		),
		lastSuccessfulRun: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: MetricLastSuccessfulRun,
				Help: "Unix timestamp of the last successful run by type",
			},
			[]string{"run_type"},
		),
		liveComputeShared: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: MetricLiveComputeShared,
				Help: "Number of live ranking requests served by an in-flight computation",
			},
		),
		jobRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricJobRunsTotal,
				Help: "Scheduled job executions by job and status",
			},
			[]string{"job", "status"},
		),
		jobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricJobDuration,
				Help:    "Scheduled job duration in seconds",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
			[]string{"job"},
		),
	}
}

// Register registers all metrics with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Collectors returns all Prometheus collectors.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.runsTotal,
		m.runDuration,
		m.snapshotsTotal,
		m.snapshotRows,
		m.backfillMonths,
		m.settingsFallbacks,
		m.lastSuccessfulRun,
		m.liveComputeShared,
		m.jobRunsTotal,
		m.jobDuration,
	}
}

// ObserveRun records a finished run. A nil *Metrics is a no-op.
func (m *Metrics) ObserveRun(runType, status string, seconds float64, finishedUnix float64) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(runType, status).Inc()
	m.runDuration.WithLabelValues(runType).Observe(seconds)
	if status == StatusSuccess {
		m.lastSuccessfulRun.WithLabelValues(runType).Set(finishedUnix)
	}
}

// ObserveSnapshot records one snapshot write.
func (m *Metrics) ObserveSnapshot(discipline, kind string, rows int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.snapshotsTotal.WithLabelValues(discipline, kind, StatusFailure).Inc()
		return
	}
	m.snapshotsTotal.WithLabelValues(discipline, kind, StatusSuccess).Inc()
	m.snapshotRows.WithLabelValues(discipline, kind).Add(float64(rows))
}

// IncBackfillMonth records the outcome of one backfill candidate month.
func (m *Metrics) IncBackfillMonth(discipline, outcome string) {
	if m == nil {
		return
	}
	m.backfillMonths.WithLabelValues(discipline, outcome).Inc()
}

// IncSettingsFallback records a settings table replaced by its default.
func (m *Metrics) IncSettingsFallback(setting string) {
	if m == nil {
		return
	}
	m.settingsFallbacks.WithLabelValues(setting).Inc()
}

// IncLiveComputeShared records a live request that joined an in-flight computation.
func (m *Metrics) IncLiveComputeShared() {
	if m == nil {
		return
	}
	m.liveComputeShared.Inc()
}

// ObserveJob records one scheduled job execution.
func (m *Metrics) ObserveJob(job string, seconds float64, err error) {
	if m == nil {
		return
	}
	status := StatusSuccess
	if err != nil {
		status = StatusFailure
	}
	m.jobRunsTotal.WithLabelValues(job, status).Inc()
	m.jobDuration.WithLabelValues(job).Observe(seconds)
}
