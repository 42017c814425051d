package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gathered returns the value of the metric with the given name and labels.
// Histograms yield their sample count.
func gathered(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if labels[lp.GetName()] != lp.GetValue() {
					continue next
				}
			}
			switch {
			case m.GetCounter() != nil:
				return m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				return m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				return float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	return 0
}

func TestNAPIMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newNAPIMetrics(reg)

	m.RecordOperation("opengroup", time.Millisecond, nil)
	m.RecordOperation("opengroup", time.Millisecond, errors.New("missing"))
	m.RecordOperation("getdata", time.Millisecond, nil)
	assert.Equal(t, 1.0, gathered(t, reg, "nxfs_napi_operations_total",
		map[string]string{"operation": "opengroup", "status": "error"}))
	assert.Equal(t, 1.0, gathered(t, reg, "nxfs_napi_operations_total",
		map[string]string{"operation": "getdata", "status": "success"}))
	assert.Equal(t, 2.0, gathered(t, reg, "nxfs_napi_operation_duration_seconds",
		map[string]string{"operation": "opengroup"}))

	m.RecordOpen("kv", nil)
	m.RecordOpen("kv", nil)
	m.RecordOpen("xml", errors.New("bad"))
	m.RecordClose("kv")
	assert.Equal(t, 1.0, gathered(t, reg, "nxfs_backend_open_files", map[string]string{"family": "kv"}))
	assert.Equal(t, 1.0, gathered(t, reg, "nxfs_backend_opens_total",
		map[string]string{"family": "xml", "status": "error"}))

	m.RecordMount(nil)
	m.RecordMount(errors.New("bad url"))
	m.RecordUnmount()
	assert.Equal(t, 0.0, gathered(t, reg, "nxfs_napi_active_mounts", nil))
	assert.Equal(t, 1.0, gathered(t, reg, "nxfs_napi_mounts_total", map[string]string{"status": "error"}))

	m.RecordLockWait(time.Microsecond)
	assert.Equal(t, 1.0, gathered(t, reg, "nxfs_napi_lock_wait_seconds", nil))
}

func TestNoopWhenDisabled(t *testing.T) {
	if IsEnabled() {
		t.Skip("registry initialized by another test")
	}
	assert.IsType(t, noopNAPIMetrics{}, NewNAPIMetrics())
}
