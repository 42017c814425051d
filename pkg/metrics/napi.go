package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// NAPIMetrics provides observability for NeXus API operations.
//
// This interface is optional - if not provided to the API, a no-op
// implementation is used with zero overhead.
//
// Example usage:
//
//	metrics.InitRegistry()
//	api := napi.New(napi.Options{Metrics: metrics.NewNAPIMetrics()})
type NAPIMetrics interface {
	// RecordOperation records a completed top-level API call.
	//
	// Parameters:
	//   - op: operation name (e.g., "opengroup", "getdata")
	//   - duration: time spent in the call, lock wait included
	//   - err: error if the call failed, nil if successful
	RecordOperation(op string, duration time.Duration, err error)

	// RecordLockWait records how long a call waited for the API lock.
	RecordLockWait(duration time.Duration)

	// RecordOpen records a container open by backend family.
	RecordOpen(family string, err error)

	// RecordClose records a container close by backend family.
	RecordClose(family string)

	// RecordMount records an external mount attempt.
	RecordMount(err error)

	// RecordUnmount records a mounted file being popped off a stack.
	RecordUnmount()
}

// napiMetrics is the Prometheus implementation of NAPIMetrics.
type napiMetrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	lockWait          prometheus.Histogram
	opensTotal        *prometheus.CounterVec
	openFiles         *prometheus.GaugeVec
	mountsTotal       *prometheus.CounterVec
	activeMounts      prometheus.Gauge
}

var (
	napiShared     *napiMetrics
	napiSharedOnce sync.Once
)

// NewNAPIMetrics returns the Prometheus-backed NAPIMetrics of the global
// registry. Every call returns the same collectors, since they can only
// be registered once.
//
// Returns a no-op implementation if metrics are not enabled (InitRegistry
// not called).
func NewNAPIMetrics() NAPIMetrics {
	if !IsEnabled() {
		return NewNoopNAPIMetrics()
	}
	napiSharedOnce.Do(func() {
		napiShared = newNAPIMetrics(GetRegistry())
	})
	return napiShared
}

func newNAPIMetrics(reg prometheus.Registerer) *napiMetrics {
	return &napiMetrics{
		operationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "nxfs_napi_operations_total",
				Help: "Total number of NeXus API calls by operation and status",
			},
			[]string{"operation", "status"},
		),
		operationDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "nxfs_napi_operation_duration_seconds",
				Help: "Duration of NeXus API calls in seconds",
				Buckets: []float64{
					0.0001, // 100µs
					0.001,  // 1ms
					0.01,   // 10ms
					0.1,    // 100ms
					1,      // 1s
				},
			},
			[]string{"operation"},
		),
		lockWait: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "nxfs_napi_lock_wait_seconds",
				Help:    "Time spent waiting for the API lock",
				Buckets: []float64{0.00001, 0.0001, 0.001, 0.01, 0.1, 1},
			},
		),
		opensTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "nxfs_backend_opens_total",
				Help: "Total number of container opens by family and status",
			},
			[]string{"family", "status"},
		),
		openFiles: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "nxfs_backend_open_files",
				Help: "Current number of open containers by family",
			},
			[]string{"family"},
		),
		mountsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "nxfs_napi_mounts_total",
				Help: "Total number of external mounts by status",
			},
			[]string{"status"},
		),
		activeMounts: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "nxfs_napi_active_mounts",
				Help: "Current number of mounted files across all handles",
			},
		),
	}
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func (m *napiMetrics) RecordOperation(op string, duration time.Duration, err error) {
	m.operationsTotal.WithLabelValues(op, status(err)).Inc()
	m.operationDuration.WithLabelValues(op).Observe(duration.Seconds())
}

func (m *napiMetrics) RecordLockWait(duration time.Duration) {
	m.lockWait.Observe(duration.Seconds())
}

func (m *napiMetrics) RecordOpen(family string, err error) {
	m.opensTotal.WithLabelValues(family, status(err)).Inc()
	if err == nil {
		m.openFiles.WithLabelValues(family).Inc()
	}
}

func (m *napiMetrics) RecordClose(family string) {
	m.openFiles.WithLabelValues(family).Dec()
}

func (m *napiMetrics) RecordMount(err error) {
	m.mountsTotal.WithLabelValues(status(err)).Inc()
	if err == nil {
		m.activeMounts.Inc()
	}
}

func (m *napiMetrics) RecordUnmount() {
	m.activeMounts.Dec()
}

// noopNAPIMetrics is a no-op implementation of NAPIMetrics with zero overhead.
type noopNAPIMetrics struct{}

// NewNoopNAPIMetrics returns a NAPIMetrics that discards everything.
func NewNoopNAPIMetrics() NAPIMetrics {
	return noopNAPIMetrics{}
}

func (noopNAPIMetrics) RecordOperation(op string, duration time.Duration, err error) {}
func (noopNAPIMetrics) RecordLockWait(duration time.Duration)                        {}
func (noopNAPIMetrics) RecordOpen(family string, err error)                          {}
func (noopNAPIMetrics) RecordClose(family string)                                    {}
func (noopNAPIMetrics) RecordMount(err error)                                        {}
func (noopNAPIMetrics) RecordUnmount()                                               {}
