package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/nxfs/pkg/backend"
	kv "github.com/marmos91/nxfs/pkg/backend/badger"
	"github.com/marmos91/nxfs/pkg/backend/xmlfile"
	"github.com/marmos91/nxfs/pkg/backend/yamlfile"
)

// Registry manages the backend drivers known to a NeXus API instance.
// It provides thread-safe registration and lookup, and keeps drivers in
// registration order, which is the order files are sniffed in.
//
// The Registry also tracks active mounts (external files pushed onto a
// handle stack). Mount information is ephemeral and kept in-memory only.
//
// Example usage:
//
//	reg := NewRegistry()
//	reg.RegisterDriver(kv.New(kv.DefaultOptions()))
//	reg.RegisterDriver(yamlfile.New())
//
//	drv, _ := reg.DriverForFamily(backend.FamilyYAML)
type Registry struct {
	mu      sync.RWMutex
	drivers []backend.Driver
	byName  map[string]backend.Driver
	mounts  map[string]*MountInfo // key: mount id
}

// MountInfo represents an external file mounted into a handle stack.
type MountInfo struct {
	ID        string // Unique mount id
	Parent    string // File containing the gateway entity
	Gateway   string // Path of the gateway entity in Parent
	File      string // Mounted file
	Path      string // Internal path inside File
	MountTime int64  // Unix timestamp when mounted
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]backend.Driver),
		mounts: make(map[string]*MountInfo),
	}
}

// Default returns a registry with the kv, yaml and xml drivers, in that
// sniff order.
func Default(kvOpts kv.Options) *Registry {
	r := NewRegistry()
	for _, d := range []backend.Driver{kv.New(kvOpts), yamlfile.New(), xmlfile.New()} {
		// Names are distinct, registration cannot fail.
		_ = r.RegisterDriver(d)
	}
	return r
}

// RegisterDriver appends a driver to the registry.
// Returns an error if a driver with the same name already exists.
func (r *Registry) RegisterDriver(d backend.Driver) error {
	if d == nil {
		return fmt.Errorf("cannot register nil driver")
	}
	name := d.Name()
	if name == "" {
		return fmt.Errorf("cannot register driver with empty name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("driver %q already registered", name)
	}

	r.byName[name] = d
	r.drivers = append(r.drivers, d)
	return nil
}

// GetDriver retrieves a driver by name.
func (r *Registry) GetDriver(name string) (backend.Driver, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, exists := r.byName[name]
	if !exists {
		return nil, fmt.Errorf("driver %q not found", name)
	}
	return d, nil
}

// DriverForFamily returns the first registered driver of family.
func (r *Registry) DriverForFamily(family backend.Family) (backend.Driver, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, d := range r.drivers {
		if d.Family() == family {
			return d, nil
		}
	}
	return nil, fmt.Errorf("no driver for family %q", family)
}

// Drivers returns the drivers in sniff order.
// The returned slice is a copy and safe to modify.
func (r *Registry) Drivers() []backend.Driver {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]backend.Driver, len(r.drivers))
	copy(out, r.drivers)
	return out
}

// ListDrivers returns the driver names in sniff order.
func (r *Registry) ListDrivers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.drivers))
	for _, d := range r.drivers {
		names = append(names, d.Name())
	}
	return names
}

// CountDrivers returns the number of registered drivers.
func (r *Registry) CountDrivers() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.drivers)
}

// cacheSizer is implemented by drivers with a tunable block cache.
type cacheSizer interface {
	SetCacheSize(n int64)
}

// SetCacheSize forwards n to every driver with a tunable cache and returns
// how many drivers accepted it.
func (r *Registry) SetCacheSize(n int64) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, d := range r.drivers {
		if cs, ok := d.(cacheSizer); ok {
			cs.SetCacheSize(n)
			count++
		}
	}
	return count
}

// ============================================================================
// Mount Tracking
// ============================================================================

// RecordMount registers that file has been mounted at gateway inside
// parent and returns the mount id.
func (r *Registry) RecordMount(parent, gateway, file, path string) string {
	id := uuid.NewString()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.mounts[id] = &MountInfo{
		ID:        id,
		Parent:    parent,
		Gateway:   gateway,
		File:      file,
		Path:      path,
		MountTime: time.Now().Unix(),
	}
	return id
}

// RemoveMount removes a mount record.
// Returns true if a mount was removed, false if no mount existed.
func (r *Registry) RemoveMount(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.mounts[id]; exists {
		delete(r.mounts, id)
		return true
	}
	return false
}

// CountMounts returns the number of active mounts.
func (r *Registry) CountMounts() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.mounts)
}

// ListMounts returns all active mount records ordered by mount time.
// The returned slice is a copy and safe to modify.
func (r *Registry) ListMounts() []*MountInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	mounts := make([]*MountInfo, 0, len(r.mounts))
	for _, m := range r.mounts {
		cp := *m
		mounts = append(mounts, &cp)
	}
	sort.Slice(mounts, func(i, j int) bool {
		if mounts[i].MountTime != mounts[j].MountTime {
			return mounts[i].MountTime < mounts[j].MountTime
		}
		return mounts[i].ID < mounts[j].ID
	})
	return mounts
}
