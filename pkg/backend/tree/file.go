package tree

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/marmos91/nxfs/internal/logger"
	"github.com/marmos91/nxfs/pkg/backend"
)

// Codec converts between a document and its node hierarchy.
type Codec interface {
	Encode(w io.Writer, root *Node) error
	Decode(r io.Reader) (*Node, error)
}

// NumberFormatter is implemented by codecs that render numbers as text and
// let callers choose the format per type.
type NumberFormatter interface {
	SetNumberFormat(dtype backend.DataType, format string) error
}

type frame struct {
	name string
	node *Node
}

// File is a backend.File over a document loaded into memory.
//
// Thread Safety: all methods are safe for concurrent use, although the
// NeXus core already serializes every call.
type File struct {
	mu sync.Mutex

	path  string
	mode  backend.Mode
	codec Codec

	root   *Node
	groups []frame
	data   *frame
	seq    int

	entryIdx int
	attrIdx  int

	dirty  bool
	closed bool
}

// Open loads the document at path, or creates it when mode is
// backend.ModeCreate.
func Open(path string, mode backend.Mode, codec Codec) (*File, error) {
	f := &File{path: path, mode: mode, codec: codec}

	if mode == backend.ModeCreate {
		f.root = NewGroup(backend.RootClass)
		for _, a := range backend.RootAttrs(path, time.Now()) {
			f.root.SetAttr(&Attr{Name: a.Name, Type: a.Type, Value: a.Value})
		}
		f.seq, _ = prepare(f.root)
		f.dirty = true
		if err := f.save(); err != nil {
			return nil, err
		}
		return f, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, backend.NewError(backend.ErrNotFound, "file does not exist", path)
		}
		return nil, backend.NewError(backend.ErrIO, err.Error(), path)
	}
	root, err := codec.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, backend.NewError(backend.ErrIO, fmt.Sprintf("decode: %v", err), path)
	}
	if root.Class == "" {
		root.Class = backend.RootClass
	}
	f.root = root
	if f.seq, err = prepare(root); err != nil {
		return nil, err
	}
	return f, nil
}

// Root returns the root node. Intended for codecs and tests.
func (f *File) Root() *Node {
	return f.root
}

// save writes the document through a temporary file and a rename so a
// crash never leaves a truncated document behind.
func (f *File) save() error {
	var buf bytes.Buffer
	if err := f.codec.Encode(&buf, f.root); err != nil {
		return backend.NewError(backend.ErrIO, fmt.Sprintf("encode: %v", err), f.path)
	}

	dir := filepath.Dir(f.path)
	tmp, err := os.CreateTemp(dir, ".nxfs-*")
	if err != nil {
		return backend.NewError(backend.ErrIO, err.Error(), f.path)
	}
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return backend.NewError(backend.ErrIO, err.Error(), f.path)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return backend.NewError(backend.ErrIO, err.Error(), f.path)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		_ = os.Remove(tmp.Name())
		return backend.NewError(backend.ErrIO, err.Error(), f.path)
	}
	f.dirty = false
	logger.Debug("tree: saved %s (%d bytes)", f.path, buf.Len())
	return nil
}

// ============================================================================
// Position Helpers
// ============================================================================

func (f *File) current() *Node {
	if len(f.groups) == 0 {
		return f.root
	}
	return f.groups[len(f.groups)-1].node
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
	p := f.groupPath()
	if p == "/" {
		return "/" + name
	}
	return p + "/" + name
}

func (f *File) attrTarget() *Node {
	if f.data != nil {
		return f.data.node
	}
	return f.current()
}

func (f *File) check(mutate bool) error {
	if f.closed {
		return backend.NewError(backend.ErrState, "file is closed", f.path)
	}
	if mutate && !f.mode.Writable() {
		return backend.NewError(backend.ErrReadOnly, "file is opened read-only", f.path)
	}
	return nil
}

func (f *File) openData() (*Node, error) {
	if f.data == nil {
		return nil, backend.NewError(backend.ErrState, "no dataset open", f.groupPath())
	}
	return f.data.node, nil
}

func (f *File) nextID() string {
	f.seq++
	return fmt.Sprintf("n%d", f.seq)
}

func (f *File) addChild(name string, n *Node, link string) error {
	cur := f.current()
	if name == "" {
		return backend.NewError(backend.ErrInvalidArgument, "empty name", f.groupPath())
	}
	if cur.Child(name) != nil {
		return backend.NewError(backend.ErrAlreadyExists, "entry already exists", f.childPath(name))
	}
	if n.ID == "" {
		n.ID = f.nextID()
	}
	cur.Children = append(cur.Children, &Child{Name: name, Node: n, Link: link})
	f.dirty = true
	return nil
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
	var err error
	if f.mode.Writable() && f.dirty {
		err = f.save()
	}
	f.closed = true
	return err
}

func (f *File) Flush(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(false); err != nil {
		return err
	}
	if !f.mode.Writable() || !f.dirty {
		return nil
	}
	return f.save()
}

// ============================================================================
// Groups
// ============================================================================

func (f *File) MakeGroup(ctx context.Context, name, class string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(true); err != nil {
		return err
	}
	return f.addChild(name, NewGroup(class), "")
}

func (f *File) OpenGroup(ctx context.Context, name, class string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(false); err != nil {
		return err
	}
	c := f.current().Child(name)
	if c == nil || c.Node.IsData {
		return backend.NewError(backend.ErrNotFound, "no such group", f.childPath(name))
	}
	if class != "" && c.Node.Class != class {
		return backend.NewError(backend.ErrNotFound,
			fmt.Sprintf("group is of class %s, not %s", c.Node.Class, class), f.childPath(name))
	}
	f.data = nil
	f.groups = append(f.groups, frame{name: name, node: c.Node})
	f.entryIdx, f.attrIdx = 0, 0
	return nil
}

func (f *File) CloseGroup(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(false); err != nil {
		return err
	}
	f.data = nil
	if len(f.groups) > 0 {
		f.groups = f.groups[:len(f.groups)-1]
	}
	f.entryIdx, f.attrIdx = 0, 0
	return nil
}

// ============================================================================
// Datasets
// ============================================================================

func validateShape(dtype backend.DataType, dims []int64) error {
	if !dtype.Valid() {
		return backend.NewError(backend.ErrInvalidArgument, fmt.Sprintf("invalid data type %d", int(dtype)), "")
	}
	if len(dims) < 1 || len(dims) > backend.MaxRank {
		return backend.NewError(backend.ErrInvalidArgument, fmt.Sprintf("invalid rank %d", len(dims)), "")
	}
	for i, d := range dims {
		if d == backend.Unlimited && i == 0 {
			continue
		}
		if d <= 0 {
			return backend.NewError(backend.ErrInvalidArgument, fmt.Sprintf("invalid dimension %d: %d", i, d), "")
		}
	}
	return nil
}

func (f *File) MakeData(ctx context.Context, name string, dtype backend.DataType, dims []int64) error {
	return f.CompMakeData(ctx, name, dtype, dims, backend.CompNone, nil)
}

func (f *File) CompMakeData(ctx context.Context, name string, dtype backend.DataType, dims []int64, comp backend.Compression, chunk []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(true); err != nil {
		return err
	}
	if err := validateShape(dtype, dims); err != nil {
		return err
	}
	n, err := NewData(dtype, dims)
	if err != nil {
		return err
	}
	n.Comp = comp
	n.Chunk = append([]int64(nil), chunk...)
	return f.addChild(name, n, "")
}

func (f *File) Compress(ctx context.Context, comp backend.Compression) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(true); err != nil {
		return err
	}
	n, err := f.openData()
	if err != nil {
		return err
	}
	n.Comp = comp
	f.dirty = true
	return nil
}

func (f *File) OpenData(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(false); err != nil {
		return err
	}
	c := f.current().Child(name)
	if c == nil || !c.Node.IsData {
		return backend.NewError(backend.ErrNotFound, "no such dataset", f.childPath(name))
	}
	f.data = &frame{name: name, node: c.Node}
	f.attrIdx = 0
	return nil
}

func (f *File) CloseData(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(false); err != nil {
		return err
	}
	if f.data == nil {
		return backend.NewError(backend.ErrState, "no dataset open", f.groupPath())
	}
	f.data = nil
	f.attrIdx = 0
	return nil
}

func (f *File) PutData(ctx context.Context, data any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(true); err != nil {
		return err
	}
	n, err := f.openData()
	if err != nil {
		return err
	}
	src, err := backend.Coerce(n.Type, data)
	if err != nil {
		return err
	}

	count := int64(backend.Len(src))
	if n.Unlimited {
		row := backend.Elements(n.Dims[1:])
		if row == 0 || count%row != 0 {
			return backend.NewError(backend.ErrInvalidArgument,
				fmt.Sprintf("%d elements do not fill whole rows of %d", count, row), "")
		}
		n.Dims[0] = count / row
		n.Data = backend.Clone(src)
		f.dirty = true
		return nil
	}

	want := backend.Elements(n.Dims)
	switch {
	case count == want:
		n.Data = backend.Clone(src)
	case count < want && n.Type == backend.Char:
		n.Data = backend.Resize(src, int(want))
	default:
		return backend.NewError(backend.ErrInvalidArgument,
			fmt.Sprintf("got %d elements, dataset holds %d", count, want), "")
	}
	f.dirty = true
	return nil
}

func (f *File) PutSlab(ctx context.Context, data any, start, size []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(true); err != nil {
		return err
	}
	n, err := f.openData()
	if err != nil {
		return err
	}
	src, err := backend.Coerce(n.Type, data)
	if err != nil {
		return err
	}
	if err := backend.CheckSlab(n.Dims, start, size, n.Unlimited); err != nil {
		return err
	}
	if n.Unlimited && start[0]+size[0] > n.Dims[0] {
		n.Data, n.Dims = backend.GrowFirst(n.Data, n.Dims, start[0]+size[0])
	}
	if err := backend.WriteSlab(n.Data, n.Dims, src, start, size); err != nil {
		return err
	}
	f.dirty = true
	return nil
}

func (f *File) GetData(ctx context.Context) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(false); err != nil {
		return nil, err
	}
	n, err := f.openData()
	if err != nil {
		return nil, err
	}
	return backend.Clone(n.Data), nil
}

func (f *File) GetSlab(ctx context.Context, start, size []int64) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(false); err != nil {
		return nil, err
	}
	n, err := f.openData()
	if err != nil {
		return nil, err
	}
	if err := backend.CheckSlab(n.Dims, start, size, false); err != nil {
		return nil, err
	}
	return backend.ReadSlab(n.Data, n.Dims, start, size)
}

func (f *File) GetInfo(ctx context.Context) ([]int64, backend.DataType, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(false); err != nil {
		return nil, 0, err
	}
	n, err := f.openData()
	if err != nil {
		return nil, 0, err
	}
	return append([]int64(nil), n.Dims...), n.Type, nil
}

// ============================================================================
// Attributes
// ============================================================================

func (f *File) PutAttr(ctx context.Context, name string, value any, dtype backend.DataType) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(true); err != nil {
		return err
	}
	if name == "" {
		return backend.NewError(backend.ErrInvalidArgument, "empty attribute name", "")
	}
	v, err := backend.Scalar(dtype, value)
	if err != nil {
		return err
	}
	f.attrTarget().SetAttr(&Attr{Name: name, Type: dtype, Value: v})
	f.dirty = true
	return nil
}

func (f *File) GetAttr(ctx context.Context, name string) (backend.Attribute, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(false); err != nil {
		return backend.Attribute{}, err
	}
	a := f.attrTarget().Attr(name)
	if a == nil {
		return backend.Attribute{}, backend.NewError(backend.ErrNotFound, "no such attribute", name)
	}
	return backend.Attribute{
		AttrInfo: backend.AttrInfo{Name: a.Name, Length: a.Length(), Type: a.Type},
		Value:    a.Value,
	}, nil
}

func (f *File) GetNextAttr(ctx context.Context) (backend.AttrInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(false); err != nil {
		return backend.AttrInfo{}, err
	}
	attrs := f.attrTarget().Attrs
	if f.attrIdx >= len(attrs) {
		f.attrIdx = 0
		return backend.AttrInfo{}, backend.ErrEOD
	}
	a := attrs[f.attrIdx]
	f.attrIdx++
	return backend.AttrInfo{Name: a.Name, Length: a.Length(), Type: a.Type}, nil
}

func (f *File) InitAttrDir(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attrIdx = 0
	return f.check(false)
}

func (f *File) GetAttrInfo(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(false); err != nil {
		return 0, err
	}
	return len(f.attrTarget().Attrs), nil
}

// ============================================================================
// Directory
// ============================================================================

func (f *File) GetNextEntry(ctx context.Context) (backend.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(false); err != nil {
		return backend.Entry{}, err
	}
	children := f.current().Children
	if f.entryIdx >= len(children) {
		f.entryIdx = 0
		return backend.Entry{}, backend.ErrEOD
	}
	c := children[f.entryIdx]
	f.entryIdx++
	if c.Node.IsData {
		return backend.Entry{Name: c.Name, Class: backend.DatasetClass, Type: c.Node.Type}, nil
	}
	return backend.Entry{Name: c.Name, Class: c.Node.Class}, nil
}

func (f *File) InitGroupDir(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entryIdx = 0
	return f.check(false)
}

func (f *File) GetGroupInfo(ctx context.Context) (backend.GroupInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(false); err != nil {
		return backend.GroupInfo{}, err
	}
	cur := f.current()
	info := backend.GroupInfo{Items: len(cur.Children), Name: "root", Class: cur.Class}
	if len(f.groups) > 0 {
		info.Name = f.groups[len(f.groups)-1].name
	}
	return info, nil
}

// ============================================================================
// Identity and Links
// ============================================================================

func (f *File) GetGroupID(ctx context.Context) (backend.Link, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(false); err != nil {
		return backend.Link{}, err
	}
	if len(f.groups) == 0 {
		return backend.Link{}, backend.NewError(backend.ErrNotFound, "no group open", "/")
	}
	return backend.Link{Kind: backend.LinkGroup, Ref: f.current().ID, TargetPath: f.groupPath()}, nil
}

func (f *File) GetDataID(ctx context.Context) (backend.Link, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(false); err != nil {
		return backend.Link{}, err
	}
	if f.data == nil {
		return backend.Link{}, backend.NewError(backend.ErrNotFound, "no dataset open", f.groupPath())
	}
	return backend.Link{Kind: backend.LinkData, Ref: f.data.node.ID, TargetPath: f.childPath(f.data.name)}, nil
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
	if err := f.check(true); err != nil {
		return err
	}
	n, err := f.root.Lookup(target.TargetPath)
	if err != nil {
		return err
	}
	if n.ID != target.Ref {
		return backend.NewError(backend.ErrInvalidArgument, "link identity does not match its path", target.TargetPath)
	}
	if err := f.addChild(name, n, target.TargetPath); err != nil {
		return err
	}
	if n.Attr("target") == nil {
		n.SetAttr(&Attr{Name: "target", Type: backend.Char, Value: target.TargetPath})
	}
	return nil
}

func (f *File) PrintLink(ctx context.Context, target backend.Link) (string, error) {
	return fmt.Sprintf("Link target: %s (%s)", target.TargetPath, target.Ref), nil
}

// ============================================================================
// Optional Operations
// ============================================================================

func (f *File) Reopen(ctx context.Context) (backend.File, error) {
	return nil, backend.NotSupported("reopen")
}

func (f *File) NativeInquireFile(ctx context.Context) (string, error) {
	return "", backend.NotSupported("native inquire")
}

func (f *File) NativeIsExternalLink(ctx context.Context, name string) (string, error) {
	return "", backend.NotSupported("native external links")
}

func (f *File) NativeExternalLink(ctx context.Context, link backend.ExternalLink) error {
	return backend.NotSupported("native external links")
}

func (f *File) SetNumberFormat(ctx context.Context, dtype backend.DataType, format string) error {
	nf, ok := f.codec.(NumberFormatter)
	if !ok {
		return backend.NotSupported("number formats")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(false); err != nil {
		return err
	}
	return nf.SetNumberFormat(dtype, format)
}

var _ backend.File = (*File)(nil)
