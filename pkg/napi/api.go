// Package napi is the NeXus file API: a uniform group, dataset and
// attribute model over several container backends.
//
// A Handle owns a stack of open files. Opening a group or dataset that
// carries a napimount attribute pushes the referenced file onto the stack
// and every further call goes to it, until the mounted entity is closed
// again. Callers never see the second file.
//
// All backend calls made through one API are serialized by a re-entrant
// lock. Failures are returned as *Error and also reported as a text line
// to the API's report.Sink.
package napi

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/marmos91/nxfs/internal/lock"
	"github.com/marmos91/nxfs/pkg/backend"
	kv "github.com/marmos91/nxfs/pkg/backend/badger"
	"github.com/marmos91/nxfs/pkg/locate"
	"github.com/marmos91/nxfs/pkg/metrics"
	"github.com/marmos91/nxfs/pkg/registry"
	"github.com/marmos91/nxfs/pkg/report"
)

// AccessMode selects how a file is opened. The base mode may be combined
// with NoStrip and CheckNameSyntax.
type AccessMode int

const (
	Read      AccessMode = 1
	ReadWrite AccessMode = 2

	// Create makes a file of the API's default family.
	Create     AccessMode = 3
	CreateYAML AccessMode = 4
	CreateKV   AccessMode = 5
	CreateXML  AccessMode = 6

	// NoStrip keeps white space around rank-1 character data.
	NoStrip AccessMode = 128

	// CheckNameSyntax rejects invalid names on creation.
	CheckNameSyntax AccessMode = 256

	modeMask AccessMode = 0x7
)

// Options configures an API. Zero fields select defaults.
type Options struct {
	// Registry supplies the drivers. Default: kv, yaml and xml.
	Registry *registry.Registry

	// Locator resolves file names on the load path. Default: NX_LOAD_PATH.
	Locator *locate.Locator

	// Sink receives error reports. Default: report.Default().
	Sink *report.Sink

	Metrics metrics.NAPIMetrics

	// DefaultCreate is the family used by Create. Default: kv.
	DefaultCreate backend.Family

	// LockObserver is notified of every lock acquisition and release.
	LockObserver lock.Observer
}

// API is one instance of the NeXus API. Handles opened from the same API
// share its lock.
type API struct {
	registry      *registry.Registry
	locator       *locate.Locator
	sink          *report.Sink
	metrics       metrics.NAPIMetrics
	defaultCreate backend.Family
	lock          *lock.Recursive
}

// New creates an API.
func New(opts Options) *API {
	a := &API{
		registry:      opts.Registry,
		locator:       opts.Locator,
		sink:          opts.Sink,
		metrics:       opts.Metrics,
		defaultCreate: opts.DefaultCreate,
		lock:          lock.New(opts.LockObserver),
	}
	if a.registry == nil {
		a.registry = registry.Default(kv.DefaultOptions())
	}
	if a.locator == nil {
		a.locator = locate.New(locate.DefaultEnv)
	}
	if a.sink == nil {
		a.sink = report.Default()
	}
	if a.metrics == nil {
		a.metrics = metrics.NewNoopNAPIMetrics()
	}
	if a.defaultCreate == "" {
		a.defaultCreate = backend.FamilyKV
	}
	return a
}

var (
	defaultAPI     *API
	defaultAPIOnce sync.Once
)

// Default returns the process-wide API, created on first use with
// default options.
func Default() *API {
	defaultAPIOnce.Do(func() {
		defaultAPI = New(Options{})
	})
	return defaultAPI
}

// Registry returns the driver registry.
func (a *API) Registry() *registry.Registry {
	return a.registry
}

// Sink returns the error report sink.
func (a *API) Sink() *report.Sink {
	return a.sink
}

// Version returns the API version written into new files.
func (a *API) Version() string {
	return backend.Version
}

// SetCache sets the block cache size, in bytes, of containers opened
// afterwards. Only positive sizes are accepted.
func (a *API) SetCache(ctx context.Context, size int64) error {
	if size <= 0 {
		return a.reject(ctx, ErrMalformed, "setcache", "", "cache size must be positive, got %d", size)
	}
	a.registry.SetCacheSize(size)
	return nil
}

// Alloc returns a zeroed slice able to hold a dataset of the given type
// and dimensions.
func Alloc(dtype backend.DataType, dims []int64) (any, error) {
	for _, d := range dims {
		if d < 0 {
			return nil, newError(ErrMalformed, "alloc", "", "negative dimension %d", d)
		}
	}
	data, err := backend.Alloc(dtype, backend.Elements(dims))
	if err != nil {
		return nil, &Error{Code: ErrMalformed, Op: "alloc", Err: err}
	}
	return data, nil
}

// ============================================================================
// Open
// ============================================================================

// Open opens filename. Read modes search the load path and detect the
// backend from the file content; create modes select the backend from the
// mode.
func (a *API) Open(ctx context.Context, filename string, mode AccessMode) (h *Handle, err error) {
	ctx, done, err := a.begin(ctx, "open")
	if err != nil {
		return nil, err
	}
	defer done(&err)

	e, path, err := a.openEntry(ctx, filename, mode)
	if err != nil {
		return nil, err
	}
	h = &Handle{api: a}
	h.stack.push(e, path)
	return h, nil
}

func (a *API) createFamily(base AccessMode) backend.Family {
	switch base {
	case CreateYAML:
		return backend.FamilyYAML
	case CreateKV:
		return backend.FamilyKV
	case CreateXML:
		return backend.FamilyXML
	}
	return a.defaultCreate
}

// openEntry opens one file and returns it with the path it was found at.
func (a *API) openEntry(ctx context.Context, filename string, mode AccessMode) (*entry, string, error) {
	strip := mode&NoStrip == 0
	check := mode&CheckNameSyntax != 0
	base := mode &^ (NoStrip | CheckNameSyntax) & modeMask

	var (
		drv   backend.Driver
		bmode backend.Mode
		path  = filename
		err   error
	)
	switch base {
	case Create, CreateYAML, CreateKV, CreateXML:
		family := a.createFamily(base)
		drv, err = a.registry.DriverForFamily(family)
		if err != nil {
			return nil, "", a.reject(ctx, ErrUnsupported, "open", filename, "no backend for %s files", family)
		}
		bmode = backend.ModeCreate

	case Read, ReadWrite:
		path = a.locator.Find(ctx, filename)
		drv, err = locate.Detect(a.registry.Drivers(), path)
		switch {
		case errors.Is(err, locate.ErrUnreadable):
			return nil, "", a.reject(ctx, ErrNotFound, "open", filename, "failed to open %s for reading", filename)
		case err != nil:
			return nil, "", a.reject(ctx, ErrMalformed, "open", filename, "failed to determine filetype for %s", filename)
		}
		bmode = backend.ModeRead
		if base == ReadWrite {
			bmode = backend.ModeReadWrite
		}

	default:
		return nil, "", a.reject(ctx, ErrMalformed, "open", filename, "unknown access mode %d", int(mode))
	}

	f, err := drv.Open(ctx, path, bmode)
	a.metrics.RecordOpen(string(drv.Family()), err)
	if err != nil {
		return nil, "", a.failed(ctx, "open", path, err)
	}
	return &entry{file: f, driver: drv, strip: strip, checkNames: check}, path, nil
}

// ============================================================================
// Locking and Reporting
// ============================================================================

// begin takes the API lock for op. The returned context must be used for
// nested calls; done releases the lock and records the call.
func (a *API) begin(ctx context.Context, op string) (context.Context, func(*error), error) {
	nested := a.lock.Held(ctx)
	start := time.Now()

	lctx, err := a.lock.Lock(ctx)
	if err != nil {
		e := &Error{Code: ErrConcurrency, Op: op, Err: err}
		a.report(ctx, e)
		return ctx, nil, e
	}
	if !nested {
		a.metrics.RecordLockWait(time.Since(start))
	}

	return lctx, func(errp *error) {
		if uerr := a.lock.Unlock(lctx); uerr != nil {
			e := &Error{Code: ErrConcurrency, Op: op, Err: uerr}
			a.report(lctx, e)
			if errp != nil && *errp == nil {
				*errp = e
			}
		}
		if nested {
			return
		}
		var err error
		if errp != nil && !errors.Is(*errp, ErrEOD) {
			err = *errp
		}
		a.metrics.RecordOperation(op, time.Since(start), err)
	}, nil
}

func (a *API) report(ctx context.Context, e *Error) {
	a.sink.Report(ctx, "ERROR: "+e.message())
}

// reject builds an error for a failure detected by the API itself and
// reports msg verbatim.
func (a *API) reject(ctx context.Context, code ErrorCode, op, path, format string, args ...any) *Error {
	e := newError(code, op, path, format, args...)
	a.sink.Report(ctx, "ERROR: "+e.Err.Error())
	return e
}

// failed wraps and reports a backend failure. ErrEOD passes through.
func (a *API) failed(ctx context.Context, op, path string, err error) error {
	if err == nil || errors.Is(err, backend.ErrEOD) {
		return err
	}
	e := &Error{Code: codeForBackend(err), Op: op, Path: path, Err: err}
	a.report(ctx, e)
	return e
}
