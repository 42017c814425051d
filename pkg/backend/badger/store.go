// Package badger implements the kv container family on top of BadgerDB.
//
// A kv container is a directory holding a BadgerDB database plus an NXKV
// marker file. It is the richest backend: it supports reopening, native
// file inquiry and native external links.
package badger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/marmos91/nxfs/internal/logger"
	"github.com/marmos91/nxfs/pkg/backend"
)

// MarkerFile is created in every kv container directory.
const MarkerFile = "NXKV"

const markerContent = "NXKV 1\n"

// Options configures the kv driver.
type Options struct {
	// BlockCacheSize is BadgerDB's block cache size in bytes (default: 64MB)
	BlockCacheSize int64 `mapstructure:"block_cache_size"`

	// IndexCacheSize is BadgerDB's index cache size in bytes (default: 16MB)
	IndexCacheSize int64 `mapstructure:"index_cache_size"`

	// SyncWrites makes every commit durable before returning
	SyncWrites bool `mapstructure:"sync_writes"`

	// Compression enables ZSTD block compression
	Compression bool `mapstructure:"compression"`
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{
		BlockCacheSize: 64 << 20,
		IndexCacheSize: 16 << 20,
	}
}

// sharedDB is one open database and the number of Files using it.
//
// BadgerDB holds a directory lock, so every File of a process that opens the
// same container must share one *badger.DB.
type sharedDB struct {
	db   *badger.DB
	path string
	refs int
}

// Driver opens kv containers.
//
// Thread Safety: safe for concurrent use.
type Driver struct {
	opts      Options
	cacheSize atomic.Int64
	dbs       *xsync.MapOf[string, *sharedDB]
}

// New creates a kv driver. Zero option values fall back to DefaultOptions.
func New(opts Options) *Driver {
	def := DefaultOptions()
	if opts.BlockCacheSize <= 0 {
		opts.BlockCacheSize = def.BlockCacheSize
	}
	if opts.IndexCacheSize <= 0 {
		opts.IndexCacheSize = def.IndexCacheSize
	}
	d := &Driver{opts: opts, dbs: xsync.NewMapOf[string, *sharedDB]()}
	d.cacheSize.Store(opts.BlockCacheSize)
	return d
}

func (d *Driver) Family() backend.Family { return backend.FamilyKV }

func (d *Driver) Name() string { return "kv" }

// SetCacheSize changes the block cache size used for containers opened
// afterwards. Non-positive values are ignored.
func (d *Driver) SetCacheSize(n int64) {
	if n > 0 {
		d.cacheSize.Store(n)
	}
}

// CacheSize returns the block cache size for the next open.
func (d *Driver) CacheSize() int64 {
	return d.cacheSize.Load()
}

// OpenCount returns the number of databases currently held open.
func (d *Driver) OpenCount() int {
	return d.dbs.Size()
}

// Probe accepts directories holding both a BadgerDB MANIFEST and the NXKV
// marker.
func (d *Driver) Probe(path string) (bool, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	if !fi.IsDir() {
		return false, nil
	}
	return isContainer(path), nil
}

func isContainer(path string) bool {
	if _, err := os.Stat(filepath.Join(path, "MANIFEST")); err != nil {
		return false
	}
	raw, err := os.ReadFile(filepath.Join(path, MarkerFile))
	return err == nil && strings.HasPrefix(string(raw), "NXKV")
}

// Open opens or creates a container.
func (d *Driver) Open(ctx context.Context, path string, mode backend.Mode) (backend.File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, backend.NewError(backend.ErrIO, err.Error(), path)
	}

	if mode == backend.ModeCreate {
		if err := d.prepareCreate(abs); err != nil {
			return nil, err
		}
	} else if !isContainer(abs) {
		if _, err := os.Stat(abs); err != nil {
			return nil, backend.NewError(backend.ErrNotFound, "file does not exist", path)
		}
		return nil, backend.NewError(backend.ErrInvalidArgument, "not a kv container", path)
	}

	shared, err := d.acquire(abs)
	if err != nil {
		return nil, err
	}

	f := &File{driver: d, shared: shared, name: path, mode: mode}
	if mode == backend.ModeCreate {
		err = f.initialize(path)
	} else {
		err = f.loadRoot()
	}
	if err != nil {
		d.release(shared)
		return nil, err
	}
	return f, nil
}

// prepareCreate clears the target so a fresh container can be created.
// A regular file is replaced, an existing kv container is wiped, and any
// other non-empty directory is refused.
func (d *Driver) prepareCreate(abs string) error {
	if _, held := d.dbs.Load(abs); held {
		return backend.NewError(backend.ErrIO, "container is in use", abs)
	}
	fi, err := os.Stat(abs)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return backend.NewError(backend.ErrIO, err.Error(), abs)
	case !fi.IsDir():
		if err := os.Remove(abs); err != nil {
			return backend.NewError(backend.ErrIO, err.Error(), abs)
		}
	case isContainer(abs):
		if err := os.RemoveAll(abs); err != nil {
			return backend.NewError(backend.ErrIO, err.Error(), abs)
		}
	default:
		entries, err := os.ReadDir(abs)
		if err != nil {
			return backend.NewError(backend.ErrIO, err.Error(), abs)
		}
		if len(entries) > 0 {
			return backend.NewError(backend.ErrAlreadyExists, "directory is not empty", abs)
		}
	}

	if err := os.MkdirAll(abs, 0755); err != nil {
		return backend.NewError(backend.ErrIO, err.Error(), abs)
	}
	return nil
}

// acquire returns the shared database for abs, opening it on first use.
func (d *Driver) acquire(abs string) (*sharedDB, error) {
	var openErr error
	shared, _ := d.dbs.Compute(abs, func(cur *sharedDB, loaded bool) (*sharedDB, bool) {
		if loaded {
			cur.refs++
			return cur, false
		}
		db, err := badger.Open(d.badgerOptions(abs))
		if err != nil {
			openErr = err
			return nil, true
		}
		logger.Debug("kv: opened %s", abs)
		return &sharedDB{db: db, path: abs, refs: 1}, false
	})
	if openErr != nil {
		return nil, backend.NewError(backend.ErrIO, fmt.Sprintf("failed to open BadgerDB: %v", openErr), abs)
	}
	return shared, nil
}

// release drops one reference and closes the database with the last one.
func (d *Driver) release(s *sharedDB) error {
	var closeErr error
	d.dbs.Compute(s.path, func(cur *sharedDB, loaded bool) (*sharedDB, bool) {
		if !loaded {
			return nil, true
		}
		cur.refs--
		if cur.refs > 0 {
			return cur, false
		}
		closeErr = cur.db.Close()
		logger.Debug("kv: closed %s", s.path)
		return nil, true
	})
	if closeErr != nil {
		return backend.NewError(backend.ErrIO, closeErr.Error(), s.path)
	}
	return nil
}

func (d *Driver) badgerOptions(abs string) badger.Options {
	opts := badger.DefaultOptions(abs)
	opts = opts.WithLoggingLevel(badger.WARNING)
	opts = opts.WithSyncWrites(d.opts.SyncWrites)
	opts = opts.WithBlockCacheSize(d.cacheSize.Load())
	opts = opts.WithIndexCacheSize(d.opts.IndexCacheSize)
	if d.opts.Compression {
		opts = opts.WithCompression(options.ZSTD)
	} else {
		opts = opts.WithCompression(options.None)
	}
	return opts
}

// initialize writes the marker, the root node and the root attributes of a
// new container.
func (f *File) initialize(name string) error {
	marker := filepath.Join(f.shared.path, MarkerFile)
	if err := os.WriteFile(marker, []byte(markerContent), 0644); err != nil {
		return backend.NewError(backend.ErrIO, err.Error(), marker)
	}

	root := uuid.New()
	return f.update(func(txn *badger.Txn) error {
		if err := txn.Set(keyRoot(), root[:]); err != nil {
			return err
		}
		if err := putNode(txn, root, nodeRecord{Kind: kindGroup, Class: backend.RootClass}); err != nil {
			return err
		}
		for _, a := range backend.RootAttrs(name, time.Now()) {
			if err := putAttr(txn, root, a.Name, a.Type, a.Value); err != nil {
				return err
			}
		}
		f.root = root
		return nil
	})
}

// loadRoot reads the root node id of an existing container.
func (f *File) loadRoot() error {
	return f.view(func(txn *badger.Txn) error {
		item, err := txn.Get(keyRoot())
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			id, err := uuid.FromBytes(val)
			if err != nil {
				return err
			}
			f.root = id
			return nil
		})
	})
}

var _ backend.Driver = (*Driver)(nil)
