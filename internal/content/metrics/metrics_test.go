package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusObserver(t *testing.T) {
	reg := prometheus.NewRegistry()
	o, err := NewPrometheusObserver("test", reg)
	require.NoError(t, err)

	o.ObserveRun("epub", OutcomeSuccess, 120*time.Millisecond)
	o.ObserveRun("epub", OutcomeSuccess, 80*time.Millisecond)
	o.ObserveRun("docx", OutcomeFailure, time.Second)
	o.ObserveStage("parsing", 10*time.Millisecond)
	o.ObserveAssetUpload(OutcomeSuccess, 2048, 5*time.Millisecond)
	o.ObserveAssetUpload(OutcomeFailure, 512, 5*time.Millisecond)
	o.ObserveWarning("asset_not_found")
	o.ObserveWarning("asset_not_found")

	assert.Equal(t, 2.0, testutil.ToFloat64(o.runs.WithLabelValues("epub", OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.runs.WithLabelValues("docx", OutcomeFailure)))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.uploads.WithLabelValues(OutcomeFailure)))
	assert.Equal(t, 2048.0, testutil.ToFloat64(o.uploadBytes))
	assert.Equal(t, 2.0, testutil.ToFloat64(o.warnings.WithLabelValues("asset_not_found")))
	assert.Equal(t, 1, testutil.CollectAndCount(o.stageDuration))
}

func TestPrometheusObserverReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewPrometheusObserver("", reg)
	require.NoError(t, err)
	second, err := NewPrometheusObserver("", reg)
	require.NoError(t, err)

	second.ObserveWarning("storage_unavailable")
	assert.Equal(t, 1.0, testutil.ToFloat64(first.warnings.WithLabelValues("storage_unavailable")))
}

type poolStats struct{ running, capacity int }

func (p poolStats) Running() int { return p.running }
func (p poolStats) Free() int    { return p.capacity - p.running }
func (p poolStats) Cap() int     { return p.capacity }

func TestRegisterPool(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, RegisterPool("test", reg, poolStats{running: 3, capacity: 8}))

	families, err := reg.Gather()
	require.NoError(t, err)
	got := make(map[string]float64, len(families))
	for _, mf := range families {
		got[mf.GetName()] = mf.GetMetric()[0].GetGauge().GetValue()
	}
	assert.Equal(t, map[string]float64{
		"test_pool_running_workers": 3,
		"test_pool_free_workers":    5,
		"test_pool_capacity":        8,
	}, got)
}

func TestNopObserver(t *testing.T) {
	var o Observer = NopObserver{}
	assert.NotPanics(t, func() {
		o.ObserveRun("text", OutcomeSuccess, time.Millisecond)
		o.ObserveStage("rendering", time.Millisecond)
		o.ObserveAssetUpload(OutcomeSuccess, 1, time.Millisecond)
		o.ObserveWarning("x")
	})
}
