package badger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/marmos91/nxfs/pkg/backend"
)

// mountAttr is the attribute through which native external links are
// exposed to the generic mount machinery.
const mountAttr = "napimount"

type frame struct {
	name string
	id   uuid.UUID
	rec  nodeRecord
}

// File is one open kv container.
//
// Thread Safety: all methods are safe for concurrent use. Several Files may
// share one database; each keeps its own position.
type File struct {
	mu sync.Mutex

	driver *Driver
	shared *sharedDB
	name   string
	mode   backend.Mode

	root   uuid.UUID
	groups []frame
	data   *frame

	entries  []backend.Entry
	entryIdx int
	attrs    []backend.AttrInfo
	attrIdx  int

	closed bool
}

// ============================================================================
// Transaction Helpers
// ============================================================================

func (f *File) view(fn func(txn *badger.Txn) error) error {
	return mapError(f.shared.db.View(fn))
}

func (f *File) update(fn func(txn *badger.Txn) error) error {
	return mapError(f.shared.db.Update(fn))
}

// mapError converts storage errors into backend errors, leaving errors
// that already are backend errors untouched.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var be *backend.Error
	if errors.As(err, &be) {
		return err
	}
	if errors.Is(err, badger.ErrKeyNotFound) {
		return backend.NewError(backend.ErrNotFound, "no such entry", "")
	}
	return backend.NewError(backend.ErrIO, err.Error(), "")
}

func getNode(txn *badger.Txn, id uuid.UUID) (nodeRecord, error) {
	var rec nodeRecord
	item, err := txn.Get(keyNode(id))
	if err != nil {
		return rec, err
	}
	err = item.Value(func(val []byte) error {
		return unmarshal(val, &rec)
	})
	return rec, err
}

func putNode(txn *badger.Txn, id uuid.UUID, rec nodeRecord) error {
	raw, err := marshal(rec)
	if err != nil {
		return err
	}
	return txn.Set(keyNode(id), raw)
}

func getChild(txn *badger.Txn, parent uuid.UUID, name string) (uuid.UUID, error) {
	item, err := txn.Get(keyChild(parent, name))
	if err != nil {
		return uuid.Nil, err
	}
	var id uuid.UUID
	err = item.Value(func(val []byte) error {
		id, err = uuid.FromBytes(val)
		return err
	})
	return id, err
}

func putAttr(txn *badger.Txn, id uuid.UUID, name string, t backend.DataType, value any) error {
	rec, err := encodeAttr(t, value)
	if err != nil {
		return err
	}
	raw, err := marshal(rec)
	if err != nil {
		return err
	}
	return txn.Set(keyAttr(id, name), raw)
}

func getAttr(txn *badger.Txn, id uuid.UUID, name string) (backend.Attribute, error) {
	item, err := txn.Get(keyAttr(id, name))
	if err != nil {
		return backend.Attribute{}, err
	}
	var rec attrRecord
	if err := item.Value(func(val []byte) error { return unmarshal(val, &rec) }); err != nil {
		return backend.Attribute{}, err
	}
	return decodeAttr(name, rec)
}

func getPayload(txn *badger.Txn, id uuid.UUID) (any, error) {
	item, err := txn.Get(keyData(id))
	if err != nil {
		return nil, err
	}
	var p payload
	if err := item.Value(func(val []byte) error { return unmarshal(val, &p) }); err != nil {
		return nil, err
	}
	return decodePayload(p)
}

func putPayload(txn *badger.Txn, id uuid.UUID, t backend.DataType, data any) error {
	p, err := encodePayload(t, data)
	if err != nil {
		return err
	}
	raw, err := marshal(p)
	if err != nil {
		return err
	}
	return txn.Set(keyData(id), raw)
}

// scan calls fn with the key suffix and value of every key under prefix.
func scan(txn *badger.Txn, prefix []byte, fn func(suffix string, val []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()
	for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		suffix := string(bytes.TrimPrefix(item.Key(), prefix))
		if err := item.Value(func(val []byte) error { return fn(suffix, val) }); err != nil {
			return err
		}
	}
	return nil
}

// ============================================================================
// Position Helpers
// ============================================================================

func (f *File) current() uuid.UUID {
	if len(f.groups) == 0 {
		return f.root
	}
	return f.groups[len(f.groups)-1].id
}

func (f *File) groupPath() string {
	if len(f.groups) == 0 {
		return "/"
	}
	names := make([]string, len(f.groups))
	for i, g := range f.groups {
		names[i] = g.name
	}
	return "/" + strings.Join(names, "/")
}

func (f *File) childPath(name string) string {
	if len(f.groups) == 0 {
		return "/" + name
	}
	return f.groupPath() + "/" + name
}

func (f *File) attrTarget() (uuid.UUID, nodeRecord) {
	if f.data != nil {
		return f.data.id, f.data.rec
	}
	if len(f.groups) == 0 {
		return f.root, nodeRecord{Kind: kindGroup, Class: backend.RootClass}
	}
	g := f.groups[len(f.groups)-1]
	return g.id, g.rec
}

func (f *File) check(ctx context.Context, mutate bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.closed {
		return backend.NewError(backend.ErrState, "file is closed", f.name)
	}
	if mutate && !f.mode.Writable() {
		return backend.NewError(backend.ErrReadOnly, "file is opened read-only", f.name)
	}
	return nil
}

func (f *File) resetListings() {
	f.entries, f.entryIdx = nil, 0
	f.attrs, f.attrIdx = nil, 0
}

// lookup resolves an absolute path from the root.
func (f *File) lookup(txn *badger.Txn, path string) (uuid.UUID, error) {
	cur := f.root
	for _, seg := range strings.Split(strings.Trim(path, "/"), "/") {
		if seg == "" {
			continue
		}
		next, err := getChild(txn, cur, seg)
		if err != nil {
			return uuid.Nil, backend.NewError(backend.ErrNotFound, "no such entry", path)
		}
		cur = next
	}
	return cur, nil
}

// addNode creates a node and its edge in the current group.
func (f *File) addNode(ctx context.Context, name string, rec nodeRecord, data any) error {
	if name == "" {
		return backend.NewError(backend.ErrInvalidArgument, "empty name", f.groupPath())
	}
	parent := f.current()
	id := uuid.New()
	err := f.update(func(txn *badger.Txn) error {
		if _, err := txn.Get(keyChild(parent, name)); err == nil {
			return backend.NewError(backend.ErrAlreadyExists, "entry already exists", f.childPath(name))
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := putNode(txn, id, rec); err != nil {
			return err
		}
		if data != nil {
			if err := putPayload(txn, id, backend.DataType(rec.Type), data); err != nil {
				return err
			}
		}
		return txn.Set(keyChild(parent, name), id[:])
	})
	if err == nil {
		f.entries = nil
	}
	return err
}

// ============================================================================
// File Lifecycle
// ============================================================================

func (f *File) Close(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	var syncErr error
	if f.mode.Writable() {
		syncErr = mapError(f.shared.db.Sync())
	}
	if err := f.driver.release(f.shared); err != nil {
		return err
	}
	return syncErr
}

func (f *File) Flush(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(ctx, false); err != nil {
		return err
	}
	if !f.mode.Writable() {
		return nil
	}
	return mapError(f.shared.db.Sync())
}

// ============================================================================
// Groups
// ============================================================================

func (f *File) MakeGroup(ctx context.Context, name, class string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(ctx, true); err != nil {
		return err
	}
	return f.addNode(ctx, name, nodeRecord{Kind: kindGroup, Class: class}, nil)
}

func (f *File) OpenGroup(ctx context.Context, name, class string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(ctx, false); err != nil {
		return err
	}
	var next frame
	err := f.view(func(txn *badger.Txn) error {
		id, err := getChild(txn, f.current(), name)
		if err != nil {
			return backend.NewError(backend.ErrNotFound, "no such group", f.childPath(name))
		}
		rec, err := getNode(txn, id)
		if err != nil {
			return err
		}
		if rec.isData() {
			return backend.NewError(backend.ErrNotFound, "no such group", f.childPath(name))
		}
		if class != "" && rec.Class != class {
			return backend.NewError(backend.ErrNotFound,
				fmt.Sprintf("group is of class %s, not %s", rec.Class, class), f.childPath(name))
		}
		next = frame{name: name, id: id, rec: rec}
		return nil
	})
	if err != nil {
		return err
	}
	f.data = nil
	f.groups = append(f.groups, next)
	f.resetListings()
	return nil
}

func (f *File) CloseGroup(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(ctx, false); err != nil {
		return err
	}
	f.data = nil
	if len(f.groups) > 0 {
		f.groups = f.groups[:len(f.groups)-1]
	}
	f.resetListings()
	return nil
}

// ============================================================================
// Datasets
// ============================================================================

func (f *File) MakeData(ctx context.Context, name string, dtype backend.DataType, dims []int64) error {
	return f.CompMakeData(ctx, name, dtype, dims, backend.CompNone, nil)
}

func (f *File) CompMakeData(ctx context.Context, name string, dtype backend.DataType, dims []int64, comp backend.Compression, chunk []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(ctx, true); err != nil {
		return err
	}
	if !dtype.Valid() {
		return backend.NewError(backend.ErrInvalidArgument, fmt.Sprintf("invalid data type %d", int(dtype)), name)
	}
	if len(dims) < 1 || len(dims) > backend.MaxRank {
		return backend.NewError(backend.ErrInvalidArgument, fmt.Sprintf("invalid rank %d", len(dims)), name)
	}
	rec := nodeRecord{
		Kind:  kindData,
		Type:  int32(dtype),
		Dims:  append([]int64(nil), dims...),
		Comp:  int32(comp),
		Chunk: append([]int64(nil), chunk...),
	}
	for i, d := range dims {
		if i == 0 && d == backend.Unlimited {
			rec.Unlimited = true
			rec.Dims[0] = 0
			continue
		}
		if d <= 0 {
			return backend.NewError(backend.ErrInvalidArgument, fmt.Sprintf("invalid dimension %d: %d", i, d), name)
		}
	}
	data, err := backend.Alloc(dtype, backend.Elements(rec.Dims))
	if err != nil {
		return err
	}
	return f.addNode(ctx, name, rec, data)
}

func (f *File) Compress(ctx context.Context, comp backend.Compression) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(ctx, true); err != nil {
		return err
	}
	if f.data == nil {
		return backend.NewError(backend.ErrState, "no dataset open", f.groupPath())
	}
	f.data.rec.Comp = int32(comp)
	return f.update(func(txn *badger.Txn) error {
		return putNode(txn, f.data.id, f.data.rec)
	})
}

func (f *File) OpenData(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(ctx, false); err != nil {
		return err
	}
	var next frame
	err := f.view(func(txn *badger.Txn) error {
		id, err := getChild(txn, f.current(), name)
		if err != nil {
			return backend.NewError(backend.ErrNotFound, "no such dataset", f.childPath(name))
		}
		rec, err := getNode(txn, id)
		if err != nil {
			return err
		}
		if !rec.isData() {
			return backend.NewError(backend.ErrNotFound, "no such dataset", f.childPath(name))
		}
		next = frame{name: name, id: id, rec: rec}
		return nil
	})
	if err != nil {
		return err
	}
	f.data = &next
	f.attrs, f.attrIdx = nil, 0
	return nil
}

func (f *File) CloseData(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(ctx, false); err != nil {
		return err
	}
	if f.data == nil {
		return backend.NewError(backend.ErrState, "no dataset open", f.groupPath())
	}
	f.data = nil
	f.attrs, f.attrIdx = nil, 0
	return nil
}

func (f *File) PutData(ctx context.Context, data any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(ctx, true); err != nil {
		return err
	}
	if f.data == nil {
		return backend.NewError(backend.ErrState, "no dataset open", f.groupPath())
	}
	rec := f.data.rec
	t := backend.DataType(rec.Type)
	src, err := backend.Coerce(t, data)
	if err != nil {
		return err
	}

	count := int64(backend.Len(src))
	if rec.Unlimited {
		row := backend.Elements(rec.Dims[1:])
		if row == 0 || count%row != 0 {
			return backend.NewError(backend.ErrInvalidArgument,
				fmt.Sprintf("%d elements do not fill whole rows of %d", count, row), "")
		}
		rec.Dims = append([]int64(nil), rec.Dims...)
		rec.Dims[0] = count / row
	} else if want := backend.Elements(rec.Dims); count != want {
		if count > want || t != backend.Char {
			return backend.NewError(backend.ErrInvalidArgument,
				fmt.Sprintf("got %d elements, dataset holds %d", count, want), "")
		}
		src = backend.Resize(src, int(want))
	}

	id := f.data.id
	err = f.update(func(txn *badger.Txn) error {
		if err := putNode(txn, id, rec); err != nil {
			return err
		}
		return putPayload(txn, id, t, src)
	})
	if err == nil {
		f.data.rec = rec
	}
	return err
}

func (f *File) PutSlab(ctx context.Context, data any, start, size []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(ctx, true); err != nil {
		return err
	}
	if f.data == nil {
		return backend.NewError(backend.ErrState, "no dataset open", f.groupPath())
	}
	rec := f.data.rec
	t := backend.DataType(rec.Type)
	src, err := backend.Coerce(t, data)
	if err != nil {
		return err
	}
	if err := backend.CheckSlab(rec.Dims, start, size, rec.Unlimited); err != nil {
		return err
	}

	id := f.data.id
	err = f.update(func(txn *badger.Txn) error {
		cur, err := getPayload(txn, id)
		if err != nil {
			return err
		}
		if rec.Unlimited && start[0]+size[0] > rec.Dims[0] {
			cur, rec.Dims = backend.GrowFirst(cur, rec.Dims, start[0]+size[0])
			if err := putNode(txn, id, rec); err != nil {
				return err
			}
		}
		if err := backend.WriteSlab(cur, rec.Dims, src, start, size); err != nil {
			return err
		}
		return putPayload(txn, id, t, cur)
	})
	if err == nil {
		f.data.rec = rec
	}
	return err
}

func (f *File) GetData(ctx context.Context) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(ctx, false); err != nil {
		return nil, err
	}
	if f.data == nil {
		return nil, backend.NewError(backend.ErrState, "no dataset open", f.groupPath())
	}
	var out any
	err := f.view(func(txn *badger.Txn) error {
		var err error
		out, err = getPayload(txn, f.data.id)
		return err
	})
	return out, err
}

func (f *File) GetSlab(ctx context.Context, start, size []int64) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(ctx, false); err != nil {
		return nil, err
	}
	if f.data == nil {
		return nil, backend.NewError(backend.ErrState, "no dataset open", f.groupPath())
	}
	dims := f.data.rec.Dims
	if err := backend.CheckSlab(dims, start, size, false); err != nil {
		return nil, err
	}
	var out any
	err := f.view(func(txn *badger.Txn) error {
		all, err := getPayload(txn, f.data.id)
		if err != nil {
			return err
		}
		out, err = backend.ReadSlab(all, dims, start, size)
		return err
	})
	return out, err
}

func (f *File) GetInfo(ctx context.Context) ([]int64, backend.DataType, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(ctx, false); err != nil {
		return nil, 0, err
	}
	if f.data == nil {
		return nil, 0, backend.NewError(backend.ErrState, "no dataset open", f.groupPath())
	}
	return append([]int64(nil), f.data.rec.Dims...), backend.DataType(f.data.rec.Type), nil
}

// ============================================================================
// Attributes
// ============================================================================

func (f *File) PutAttr(ctx context.Context, name string, value any, dtype backend.DataType) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(ctx, true); err != nil {
		return err
	}
	if name == "" {
		return backend.NewError(backend.ErrInvalidArgument, "empty attribute name", "")
	}
	v, err := backend.Scalar(dtype, value)
	if err != nil {
		return err
	}
	id, _ := f.attrTarget()
	err = f.update(func(txn *badger.Txn) error {
		return putAttr(txn, id, name, dtype, v)
	})
	if err == nil {
		f.attrs = nil
	}
	return err
}

func (f *File) GetAttr(ctx context.Context, name string) (backend.Attribute, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(ctx, false); err != nil {
		return backend.Attribute{}, err
	}
	id, rec := f.attrTarget()
	if name == mountAttr && rec.External != "" {
		return backend.Attribute{
			AttrInfo: backend.AttrInfo{Name: name, Length: len(rec.External), Type: backend.Char},
			Value:    rec.External,
		}, nil
	}
	var out backend.Attribute
	err := f.view(func(txn *badger.Txn) error {
		a, err := getAttr(txn, id, name)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return backend.NewError(backend.ErrNotFound, "no such attribute", name)
		}
		out = a
		return err
	})
	return out, err
}

func (f *File) loadAttrs() error {
	id, _ := f.attrTarget()
	var infos []backend.AttrInfo
	err := f.view(func(txn *badger.Txn) error {
		return scan(txn, keyAttrPrefix(id), func(name string, val []byte) error {
			var rec attrRecord
			if err := unmarshal(val, &rec); err != nil {
				return err
			}
			a, err := decodeAttr(name, rec)
			if err != nil {
				return err
			}
			infos = append(infos, a.AttrInfo)
			return nil
		})
	})
	if err != nil {
		return err
	}
	f.attrs = infos
	return nil
}

func (f *File) GetNextAttr(ctx context.Context) (backend.AttrInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(ctx, false); err != nil {
		return backend.AttrInfo{}, err
	}
	if f.attrs == nil {
		if err := f.loadAttrs(); err != nil {
			return backend.AttrInfo{}, err
		}
	}
	if f.attrIdx >= len(f.attrs) {
		f.attrs, f.attrIdx = nil, 0
		return backend.AttrInfo{}, backend.ErrEOD
	}
	a := f.attrs[f.attrIdx]
	f.attrIdx++
	return a, nil
}

func (f *File) InitAttrDir(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attrs, f.attrIdx = nil, 0
	return f.check(ctx, false)
}

func (f *File) GetAttrInfo(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(ctx, false); err != nil {
		return 0, err
	}
	id, _ := f.attrTarget()
	n := 0
	err := f.view(func(txn *badger.Txn) error {
		return scan(txn, keyAttrPrefix(id), func(string, []byte) error {
			n++
			return nil
		})
	})
	return n, err
}

// ============================================================================
// Directory
// ============================================================================

func (f *File) loadEntries() error {
	parent := f.current()
	var entries []backend.Entry
	err := f.view(func(txn *badger.Txn) error {
		return scan(txn, keyChildPrefix(parent), func(name string, val []byte) error {
			id, err := uuid.FromBytes(val)
			if err != nil {
				return err
			}
			rec, err := getNode(txn, id)
			if err != nil {
				return err
			}
			if rec.isData() {
				entries = append(entries, backend.Entry{Name: name, Class: backend.DatasetClass, Type: backend.DataType(rec.Type)})
			} else {
				entries = append(entries, backend.Entry{Name: name, Class: rec.Class})
			}
			return nil
		})
	})
	if err != nil {
		return err
	}
	f.entries = entries
	return nil
}

func (f *File) GetNextEntry(ctx context.Context) (backend.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(ctx, false); err != nil {
		return backend.Entry{}, err
	}
	if f.entries == nil {
		if err := f.loadEntries(); err != nil {
			return backend.Entry{}, err
		}
	}
	if f.entryIdx >= len(f.entries) {
		f.entries, f.entryIdx = nil, 0
		return backend.Entry{}, backend.ErrEOD
	}
	e := f.entries[f.entryIdx]
	f.entryIdx++
	return e, nil
}

func (f *File) InitGroupDir(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries, f.entryIdx = nil, 0
	return f.check(ctx, false)
}

func (f *File) GetGroupInfo(ctx context.Context) (backend.GroupInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(ctx, false); err != nil {
		return backend.GroupInfo{}, err
	}
	info := backend.GroupInfo{Name: "root", Class: backend.RootClass}
	if len(f.groups) > 0 {
		g := f.groups[len(f.groups)-1]
		info.Name, info.Class = g.name, g.rec.Class
	}
	parent := f.current()
	err := f.view(func(txn *badger.Txn) error {
		return scan(txn, keyChildPrefix(parent), func(string, []byte) error {
			info.Items++
			return nil
		})
	})
	return info, err
}

// ============================================================================
// Identity and Links
// ============================================================================

func (f *File) GetGroupID(ctx context.Context) (backend.Link, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(ctx, false); err != nil {
		return backend.Link{}, err
	}
	if len(f.groups) == 0 {
		return backend.Link{}, backend.NewError(backend.ErrNotFound, "no group open", "/")
	}
	return backend.Link{Kind: backend.LinkGroup, Ref: f.current().String(), TargetPath: f.groupPath()}, nil
}

func (f *File) GetDataID(ctx context.Context) (backend.Link, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(ctx, false); err != nil {
		return backend.Link{}, err
	}
	if f.data == nil {
		return backend.Link{}, backend.NewError(backend.ErrNotFound, "no dataset open", f.groupPath())
	}
	return backend.Link{Kind: backend.LinkData, Ref: f.data.id.String(), TargetPath: f.childPath(f.data.name)}, nil
}

func (f *File) SameID(a, b backend.Link) bool {
	return a.Ref != "" && a.Ref == b.Ref
}

func (f *File) MakeLink(ctx context.Context, target backend.Link) error {
	name := target.TargetPath[strings.LastIndex(target.TargetPath, "/")+1:]
	return f.MakeNamedLink(ctx, name, target)
}

func (f *File) MakeNamedLink(ctx context.Context, name string, target backend.Link) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(ctx, true); err != nil {
		return err
	}
	if name == "" {
		return backend.NewError(backend.ErrInvalidArgument, "empty link name", f.groupPath())
	}
	id, err := uuid.Parse(target.Ref)
	if err != nil {
		return backend.NewError(backend.ErrInvalidArgument, "link does not come from a kv container", target.TargetPath)
	}
	parent := f.current()
	err = f.update(func(txn *badger.Txn) error {
		if _, err := getNode(txn, id); err != nil {
			return backend.NewError(backend.ErrNotFound, "link target does not exist", target.TargetPath)
		}
		if _, err := txn.Get(keyChild(parent, name)); err == nil {
			return backend.NewError(backend.ErrAlreadyExists, "entry already exists", f.childPath(name))
		}
		if err := txn.Set(keyChild(parent, name), id[:]); err != nil {
			return err
		}
		if _, err := txn.Get(keyAttr(id, "target")); errors.Is(err, badger.ErrKeyNotFound) {
			return putAttr(txn, id, "target", backend.Char, target.TargetPath)
		}
		return nil
	})
	if err == nil {
		f.entries = nil
	}
	return err
}

func (f *File) PrintLink(ctx context.Context, target backend.Link) (string, error) {
	return fmt.Sprintf("Link target: %s (node %s)", target.TargetPath, target.Ref), nil
}

// ============================================================================
// Optional Operations
// ============================================================================

// Reopen returns a second File on the same database, positioned at root.
func (f *File) Reopen(ctx context.Context) (backend.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(ctx, false); err != nil {
		return nil, err
	}
	shared, err := f.driver.acquire(f.shared.path)
	if err != nil {
		return nil, err
	}
	mode := f.mode
	if mode == backend.ModeCreate {
		mode = backend.ModeReadWrite
	}
	return &File{driver: f.driver, shared: shared, name: f.name, mode: mode, root: f.root}, nil
}

func (f *File) NativeInquireFile(ctx context.Context) (string, error) {
	return f.name, nil
}

func (f *File) NativeIsExternalLink(ctx context.Context, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(ctx, false); err != nil {
		return "", err
	}
	var url string
	err := f.view(func(txn *badger.Txn) error {
		id, err := getChild(txn, f.current(), name)
		if err != nil {
			return backend.NewError(backend.ErrNotFound, "no such entry", f.childPath(name))
		}
		rec, err := getNode(txn, id)
		if err != nil {
			return err
		}
		if rec.External == "" {
			return backend.NewError(backend.ErrNotFound, "not an external link", f.childPath(name))
		}
		url = rec.External
		return nil
	})
	return url, err
}

// NativeExternalLink creates a placeholder group or one-element CHAR
// dataset whose record carries the mount URL.
func (f *File) NativeExternalLink(ctx context.Context, link backend.ExternalLink) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(ctx, true); err != nil {
		return err
	}
	if link.Dataset {
		rec := nodeRecord{Kind: kindData, Type: int32(backend.Char), Dims: []int64{1}, External: link.URL()}
		return f.addNode(ctx, link.Name, rec, []byte{0})
	}
	return f.addNode(ctx, link.Name, nodeRecord{Kind: kindGroup, Class: link.Class, External: link.URL()}, nil)
}

func (f *File) SetNumberFormat(ctx context.Context, dtype backend.DataType, format string) error {
	return backend.NotSupported("number formats")
}

var _ backend.File = (*File)(nil)
