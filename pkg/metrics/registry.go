// Package metrics exposes Prometheus metrics of the NeXus API.
//
// Collection is off until InitRegistry is called. Before that every
// constructor returns a no-op implementation, so libraries embedding the
// API pay nothing for it.
package metrics

import (
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	registry     atomic.Pointer[prometheus.Registry]
	registryOnce sync.Once
)

// InitRegistry creates the process registry with the Go runtime and
// process collectors. Later calls do nothing.
func InitRegistry() {
	registryOnce.Do(func() {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: "nxfs"}),
		)
		registry.Store(reg)
	})
}

// GetRegistry returns the process registry, or nil while metrics are
// disabled.
func GetRegistry() *prometheus.Registry {
	return registry.Load()
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	return GetRegistry() != nil
}
