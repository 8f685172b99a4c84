package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	c, err := vec.GetMetricWithLabelValues(labels...)
	require.NoError(t, err)
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestMetrics_Register(t *testing.T) {
	m := NewMetrics()
	reg := prometheus.NewRegistry()
	require.NoError(t, m.Register(reg))

	m.ObserveRun(RunTypeRecalculate, StatusSuccess, 1.5, 1700000000)
	m.ObserveSnapshot("ENDURO", "rider", 10, nil)
	m.IncBackfillMonth("DH", BackfillComputed)
	m.IncSettingsFallback("time_decay")
	m.IncLiveComputeShared()

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		MetricRunsTotal, MetricRunDuration, MetricSnapshotsTotal, MetricSnapshotRows,
		MetricBackfillMonths, MetricSettingsFallbacks, MetricLastSuccessfulRun, MetricLiveComputeShared,
	} {
		assert.True(t, names[want], "metric %s not gathered", want)
	}
}

func TestMetrics_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, NewMetrics().Register(reg))
	assert.Error(t, NewMetrics().Register(reg))
}

func TestMetrics_ObserveSnapshot(t *testing.T) {
	m := NewMetrics()

	m.ObserveSnapshot("DH", "club", 7, nil)
	m.ObserveSnapshot("DH", "club", 3, nil)
	m.ObserveSnapshot("DH", "club", 5, errors.New("tx aborted"))

	assert.Equal(t, 10.0, counterValue(t, m.snapshotRows, "DH", "club"))
	assert.Equal(t, 2.0, counterValue(t, m.snapshotsTotal, "DH", "club", StatusSuccess))
	assert.Equal(t, 1.0, counterValue(t, m.snapshotsTotal, "DH", "club", StatusFailure))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveRun(RunTypeBackfill, StatusFailure, 1, 0)
		m.ObserveSnapshot("DH", "rider", 1, nil)
		m.IncBackfillMonth("DH", BackfillFailed)
		m.IncSettingsFallback("x")
		m.IncLiveComputeShared()
	})
}

func TestMetrics_ObserveJob(t *testing.T) {
	m := NewMetrics()

	m.ObserveJob("recalculate_rankings", 12, nil)
	m.ObserveJob("recalculate_rankings", 3, errors.New("locked"))

	assert.Equal(t, 1.0, counterValue(t, m.jobRunsTotal, "recalculate_rankings", StatusSuccess))
	assert.Equal(t, 1.0, counterValue(t, m.jobRunsTotal, "recalculate_rankings", StatusFailure))

	var nilMetrics *Metrics
	assert.NotPanics(t, func() { nilMetrics.ObserveJob("x", 1, nil) })
}
