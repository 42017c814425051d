package napi

import (
	"context"

	"github.com/marmos91/nxfs/pkg/backend"
)

// Handle is an open NeXus file together with any files mounted into it.
//
// Thread Safety: every method takes the API lock, so a Handle may be
// shared between goroutines. Calls made with a context returned by the
// lock re-enter it.
type Handle struct {
	api    *API
	stack  fileStack
	closed bool
}

// begin takes the lock and returns the entry of the top frame.
func (h *Handle) begin(ctx context.Context, op string) (context.Context, *entry, func(*error), error) {
	ctx, done, err := h.api.begin(ctx, op)
	if err != nil {
		return ctx, nil, nil, err
	}
	if h.closed || h.stack.peek() == nil {
		var cerr error = h.api.reject(ctx, ErrClosed, op, "", "handle is closed")
		done(&cerr)
		return ctx, nil, nil, cerr
	}
	return ctx, h.stack.peek(), done, nil
}

// closeFrame closes the file of a frame that is already off the stack.
func (h *Handle) closeFrame(ctx context.Context, f *frame) error {
	err := f.entry.file.Close(ctx)
	h.api.metrics.RecordClose(f.entry.family())
	if f.mountID != "" {
		h.api.registry.RemoveMount(f.mountID)
		h.api.metrics.RecordUnmount()
	}
	if err != nil {
		return h.api.failed(ctx, "close", f.filename, err)
	}
	return nil
}

// ============================================================================
// File Lifecycle
// ============================================================================

// Close closes the file on top of the stack. The handle stays usable
// while files remain below it, which is the case when Close is called
// inside a mounted file.
func (h *Handle) Close(ctx context.Context) (err error) {
	ctx, _, done, err := h.begin(ctx, "close")
	if err != nil {
		return err
	}
	defer done(&err)

	err = h.closeFrame(ctx, h.stack.pop())
	if h.stack.depth() < 0 {
		h.closed = true
	}
	return err
}

// Closed reports whether every file of the handle has been closed.
func (h *Handle) Closed() bool {
	return h.closed
}

// Depth returns the number of mounted files on the stack, or -1 when the
// lock could not be taken before ctx was done.
func (h *Handle) Depth(ctx context.Context) int {
	ctx, err := h.api.lock.Lock(ctx)
	if err != nil {
		h.api.report(ctx, &Error{Code: ErrConcurrency, Op: "depth", Err: err})
		return -1
	}
	defer func() { _ = h.api.lock.Unlock(ctx) }()
	return h.stack.depth()
}

func (h *Handle) Flush(ctx context.Context) (err error) {
	ctx, e, done, err := h.begin(ctx, "flush")
	if err != nil {
		return err
	}
	defer done(&err)
	return h.api.failed(ctx, "flush", "", e.file.Flush(ctx))
}

// Reopen returns a second handle on the same file. Handles with mounted
// files cannot be reopened.
func (h *Handle) Reopen(ctx context.Context) (nh *Handle, err error) {
	ctx, e, done, err := h.begin(ctx, "reopen")
	if err != nil {
		return nil, err
	}
	defer done(&err)

	if h.stack.depth() > 0 {
		return nil, h.api.reject(ctx, ErrUnsupported, "reopen", "", "cannot reopen a handle with mounted files")
	}
	f, err := e.file.Reopen(ctx)
	h.api.metrics.RecordOpen(e.family(), err)
	if err != nil {
		return nil, h.api.failed(ctx, "reopen", h.stack.top().filename, err)
	}
	nh = &Handle{api: h.api}
	nh.stack.push(&entry{file: f, driver: e.driver, strip: e.strip, checkNames: e.checkNames}, h.stack.top().filename)
	return nh, nil
}

// InquireFile returns the name of the file currently addressed.
func (h *Handle) InquireFile(ctx context.Context) (name string, err error) {
	ctx, e, done, err := h.begin(ctx, "inquirefile")
	if err != nil {
		return "", err
	}
	defer done(&err)

	name, err = e.file.NativeInquireFile(ctx)
	if backend.IsNotSupported(err) {
		return h.stack.top().filename, nil
	}
	if err != nil {
		return "", h.api.failed(ctx, "inquirefile", "", err)
	}
	return name, nil
}

// Family returns the container format of the file currently addressed.
func (h *Handle) Family(ctx context.Context) (family backend.Family, err error) {
	_, e, done, err := h.begin(ctx, "family")
	if err != nil {
		return "", err
	}
	defer done(&err)
	return e.driver.Family(), nil
}

// SetNumberFormat sets the text format of numbers of dtype. Backends that
// store binary data ignore it.
func (h *Handle) SetNumberFormat(ctx context.Context, dtype backend.DataType, format string) (err error) {
	ctx, e, done, err := h.begin(ctx, "setnumberformat")
	if err != nil {
		return err
	}
	defer done(&err)

	err = e.file.SetNumberFormat(ctx, dtype, format)
	if backend.IsNotSupported(err) {
		return nil
	}
	return h.api.failed(ctx, "setnumberformat", dtype.String(), err)
}

// ============================================================================
// Groups
// ============================================================================

// MakeGroup creates a group in the current group. With name checking on,
// the name is validated when a class is given.
func (h *Handle) MakeGroup(ctx context.Context, name, class string) (err error) {
	ctx, e, done, err := h.begin(ctx, "makegroup")
	if err != nil {
		return err
	}
	defer done(&err)

	if e.checkNames && class != "" && !ValidName(name, false) {
		return h.api.reject(ctx, ErrMalformed, "makegroup", name, "invalid characters in group name %q", name)
	}
	return h.api.failed(ctx, "makegroup", name, e.file.MakeGroup(ctx, name, class))
}

// OpenGroup enters a child group, following a mount if the group has one.
func (h *Handle) OpenGroup(ctx context.Context, name, class string) (err error) {
	ctx, e, done, err := h.begin(ctx, "opengroup")
	if err != nil {
		return err
	}
	defer done(&err)

	if err := e.file.OpenGroup(ctx, name, class); err != nil {
		return h.api.failed(ctx, "opengroup", name, err)
	}
	h.stack.pushPath(name)
	return h.resolveMount(ctx, "opengroup", false)
}

// CloseGroup leaves the current group. Closing the group a file was
// mounted at pops the mounted file and closes the group in the parent.
func (h *Handle) CloseGroup(ctx context.Context) (err error) {
	ctx, e, done, err := h.begin(ctx, "closegroup")
	if err != nil {
		return err
	}
	defer done(&err)

	if h.stack.depth() > 0 && h.atBoundary(ctx, e, false) {
		if err := h.closeFrame(ctx, h.stack.pop()); err != nil {
			return err
		}
		return h.CloseGroup(ctx)
	}
	if err := e.file.CloseGroup(ctx); err != nil {
		return h.api.failed(ctx, "closegroup", "", err)
	}
	h.stack.popPath()
	return nil
}

// GetGroupInfo describes the current group.
func (h *Handle) GetGroupInfo(ctx context.Context) (info backend.GroupInfo, err error) {
	ctx, e, done, err := h.begin(ctx, "getgroupinfo")
	if err != nil {
		return info, err
	}
	defer done(&err)

	info, err = e.file.GetGroupInfo(ctx)
	return info, h.api.failed(ctx, "getgroupinfo", "", err)
}

// InitGroupDir restarts the listing of the current group.
func (h *Handle) InitGroupDir(ctx context.Context) (err error) {
	ctx, e, done, err := h.begin(ctx, "initgroupdir")
	if err != nil {
		return err
	}
	defer done(&err)
	return h.api.failed(ctx, "initgroupdir", "", e.file.InitGroupDir(ctx))
}

// GetNextEntry returns the next child of the current group, or ErrEOD.
func (h *Handle) GetNextEntry(ctx context.Context) (ent backend.Entry, err error) {
	ctx, e, done, err := h.begin(ctx, "getnextentry")
	if err != nil {
		return ent, err
	}
	defer done(&err)

	ent, err = e.file.GetNextEntry(ctx)
	return ent, h.api.failed(ctx, "getnextentry", "", err)
}

// ============================================================================
// Datasets
// ============================================================================

func (h *Handle) MakeData(ctx context.Context, name string, dtype backend.DataType, dims []int64) (err error) {
	ctx, e, done, err := h.begin(ctx, "makedata")
	if err != nil {
		return err
	}
	defer done(&err)

	if e.checkNames && !ValidName(name, false) {
		return h.api.reject(ctx, ErrMalformed, "makedata", name, "invalid characters in dataset name %q", name)
	}
	return h.api.failed(ctx, "makedata", name, e.file.MakeData(ctx, name, dtype, dims))
}

// CompMakeData creates a dataset with a compression request and a chunk
// shape.
func (h *Handle) CompMakeData(ctx context.Context, name string, dtype backend.DataType, dims []int64, comp backend.Compression, chunk []int64) (err error) {
	ctx, e, done, err := h.begin(ctx, "compmakedata")
	if err != nil {
		return err
	}
	defer done(&err)

	if e.checkNames && !ValidName(name, false) {
		return h.api.reject(ctx, ErrMalformed, "compmakedata", name, "invalid characters in dataset name %q", name)
	}
	return h.api.failed(ctx, "compmakedata", name, e.file.CompMakeData(ctx, name, dtype, dims, comp, chunk))
}

// Compress sets the compression of the open dataset.
func (h *Handle) Compress(ctx context.Context, comp backend.Compression) (err error) {
	ctx, e, done, err := h.begin(ctx, "compress")
	if err != nil {
		return err
	}
	defer done(&err)
	return h.api.failed(ctx, "compress", "", e.file.Compress(ctx, comp))
}

// OpenData opens a dataset of the current group, following a mount if
// the dataset has one.
func (h *Handle) OpenData(ctx context.Context, name string) (err error) {
	ctx, e, done, err := h.begin(ctx, "opendata")
	if err != nil {
		return err
	}
	defer done(&err)

	if err := e.file.OpenData(ctx, name); err != nil {
		return h.api.failed(ctx, "opendata", name, err)
	}
	h.stack.pushPath(name)
	return h.resolveMount(ctx, "opendata", true)
}

// CloseData closes the open dataset. Closing the dataset a file was
// mounted at pops the mounted file and closes the dataset in the parent.
func (h *Handle) CloseData(ctx context.Context) (err error) {
	ctx, e, done, err := h.begin(ctx, "closedata")
	if err != nil {
		return err
	}
	defer done(&err)

	if h.stack.depth() > 0 && h.atBoundary(ctx, e, true) {
		if err := h.closeFrame(ctx, h.stack.pop()); err != nil {
			return err
		}
		return h.CloseData(ctx)
	}
	if err := e.file.CloseData(ctx); err != nil {
		return h.api.failed(ctx, "closedata", "", err)
	}
	h.stack.popPath()
	return nil
}

// PutData writes the whole open dataset.
func (h *Handle) PutData(ctx context.Context, data any) (err error) {
	ctx, e, done, err := h.begin(ctx, "putdata")
	if err != nil {
		return err
	}
	defer done(&err)
	return h.api.failed(ctx, "putdata", "", e.file.PutData(ctx, data))
}

// PutSlab writes a hyperslab of the open dataset.
func (h *Handle) PutSlab(ctx context.Context, data any, start, size []int64) (err error) {
	ctx, e, done, err := h.begin(ctx, "putslab")
	if err != nil {
		return err
	}
	defer done(&err)
	return h.api.failed(ctx, "putslab", "", e.file.PutSlab(ctx, data, start, size))
}

// GetData reads the whole open dataset. Rank-1 character data is returned
// without surrounding white space unless the file was opened with
// NoStrip.
func (h *Handle) GetData(ctx context.Context) (data any, err error) {
	ctx, e, done, err := h.begin(ctx, "getdata")
	if err != nil {
		return nil, err
	}
	defer done(&err)

	dims, dtype, err := e.file.GetInfo(ctx)
	if err != nil {
		return nil, h.api.failed(ctx, "getdata", "", err)
	}
	data, err = e.file.GetData(ctx)
	if err != nil {
		return nil, h.api.failed(ctx, "getdata", "", err)
	}
	if e.strip && dtype == backend.Char && len(dims) == 1 {
		if raw, ok := data.([]byte); ok {
			return append([]byte{}, trimChars(raw)...), nil
		}
	}
	return data, nil
}

// GetSlab reads a hyperslab of the open dataset.
func (h *Handle) GetSlab(ctx context.Context, start, size []int64) (data any, err error) {
	ctx, e, done, err := h.begin(ctx, "getslab")
	if err != nil {
		return nil, err
	}
	defer done(&err)

	data, err = e.file.GetSlab(ctx, start, size)
	if err != nil {
		return nil, h.api.failed(ctx, "getslab", "", err)
	}
	return data, nil
}

// GetInfo returns the dimensions and type of the open dataset. For
// stripped rank-1 character data the dimension is the trimmed length, so
// it matches what GetData returns.
func (h *Handle) GetInfo(ctx context.Context) (dims []int64, dtype backend.DataType, err error) {
	ctx, e, done, err := h.begin(ctx, "getinfo")
	if err != nil {
		return nil, 0, err
	}
	defer done(&err)

	dims, dtype, err = e.file.GetInfo(ctx)
	if err != nil {
		return nil, 0, h.api.failed(ctx, "getinfo", "", err)
	}
	if e.strip && dtype == backend.Char && len(dims) == 1 {
		data, err := e.file.GetData(ctx)
		if err != nil {
			return nil, 0, h.api.failed(ctx, "getinfo", "", err)
		}
		if raw, ok := data.([]byte); ok {
			dims = []int64{int64(len(trimChars(raw)))}
		}
	}
	return dims, dtype, nil
}

// GetRawInfo is GetInfo without trimming.
func (h *Handle) GetRawInfo(ctx context.Context) (dims []int64, dtype backend.DataType, err error) {
	ctx, e, done, err := h.begin(ctx, "getrawinfo")
	if err != nil {
		return nil, 0, err
	}
	defer done(&err)

	dims, dtype, err = e.file.GetInfo(ctx)
	if err != nil {
		return nil, 0, h.api.failed(ctx, "getrawinfo", "", err)
	}
	return dims, dtype, nil
}

// ============================================================================
// Attributes
// ============================================================================

// PutAttr writes an attribute of the open dataset, or of the current
// group when no dataset is open. value is a string for CHAR and a single
// number otherwise.
func (h *Handle) PutAttr(ctx context.Context, name string, value any, dtype backend.DataType) (err error) {
	ctx, e, done, err := h.begin(ctx, "putattr")
	if err != nil {
		return err
	}
	defer done(&err)

	if dtype != backend.Char && backend.Len(value) > 1 {
		return h.api.reject(ctx, ErrMalformed, "putattr", name,
			"numeric arrays are not allowed as attributes, only character strings and single numbers")
	}
	if e.checkNames && !ValidName(name, false) {
		return h.api.reject(ctx, ErrMalformed, "putattr", name, "invalid characters in attribute name %q", name)
	}
	return h.api.failed(ctx, "putattr", name, e.file.PutAttr(ctx, name, value, dtype))
}

// GetAttr reads an attribute. Character values end at the first NUL.
func (h *Handle) GetAttr(ctx context.Context, name string) (attr backend.Attribute, err error) {
	ctx, e, done, err := h.begin(ctx, "getattr")
	if err != nil {
		return attr, err
	}
	defer done(&err)

	attr, err = e.file.GetAttr(ctx, name)
	if err != nil {
		return attr, h.api.failed(ctx, "getattr", name, err)
	}
	if s, ok := attr.Value.(string); ok {
		s = cutString(s)
		attr.Value = s
		attr.Length = len(s)
	}
	return attr, nil
}

// GetNextAttr returns the next attribute, or ErrEOD.
func (h *Handle) GetNextAttr(ctx context.Context) (info backend.AttrInfo, err error) {
	ctx, e, done, err := h.begin(ctx, "getnextattr")
	if err != nil {
		return info, err
	}
	defer done(&err)

	info, err = e.file.GetNextAttr(ctx)
	return info, h.api.failed(ctx, "getnextattr", "", err)
}

// InitAttrDir restarts the attribute listing.
func (h *Handle) InitAttrDir(ctx context.Context) (err error) {
	ctx, e, done, err := h.begin(ctx, "initattrdir")
	if err != nil {
		return err
	}
	defer done(&err)
	return h.api.failed(ctx, "initattrdir", "", e.file.InitAttrDir(ctx))
}

// GetAttrInfo returns the number of attributes.
func (h *Handle) GetAttrInfo(ctx context.Context) (n int, err error) {
	ctx, e, done, err := h.begin(ctx, "getattrinfo")
	if err != nil {
		return 0, err
	}
	defer done(&err)

	n, err = e.file.GetAttrInfo(ctx)
	return n, h.api.failed(ctx, "getattrinfo", "", err)
}

// ============================================================================
// Identity and Links
// ============================================================================

// GetGroupID returns the identity of the current group. At root it fails
// with ErrNotFound, which is not reported.
func (h *Handle) GetGroupID(ctx context.Context) (id backend.Link, err error) {
	ctx, e, done, err := h.begin(ctx, "getgroupid")
	if err != nil {
		return id, err
	}
	defer done(&err)

	id, err = e.file.GetGroupID(ctx)
	if backend.IsNotFound(err) {
		return id, &Error{Code: ErrNotFound, Op: "getgroupid", Err: err}
	}
	return id, h.api.failed(ctx, "getgroupid", "", err)
}

// GetDataID returns the identity of the open dataset. Without one it
// fails with ErrNotFound, which is not reported.
func (h *Handle) GetDataID(ctx context.Context) (id backend.Link, err error) {
	ctx, e, done, err := h.begin(ctx, "getdataid")
	if err != nil {
		return id, err
	}
	defer done(&err)

	id, err = e.file.GetDataID(ctx)
	if backend.IsNotFound(err) {
		return id, &Error{Code: ErrNotFound, Op: "getdataid", Err: err}
	}
	return id, h.api.failed(ctx, "getdataid", "", err)
}

// SameID reports whether two identities name the same entity.
func (h *Handle) SameID(ctx context.Context, a, b backend.Link) bool {
	ctx, e, done, err := h.begin(ctx, "sameid")
	if err != nil {
		return false
	}
	defer done(nil)
	return e.file.SameID(a, b)
}

// MakeLink links target into the current group under its own name.
func (h *Handle) MakeLink(ctx context.Context, target backend.Link) (err error) {
	ctx, e, done, err := h.begin(ctx, "makelink")
	if err != nil {
		return err
	}
	defer done(&err)
	return h.api.failed(ctx, "makelink", target.TargetPath, e.file.MakeLink(ctx, target))
}

// MakeNamedLink links target into the current group under name.
func (h *Handle) MakeNamedLink(ctx context.Context, name string, target backend.Link) (err error) {
	ctx, e, done, err := h.begin(ctx, "makenamedlink")
	if err != nil {
		return err
	}
	defer done(&err)

	if e.checkNames && !ValidName(name, false) {
		return h.api.reject(ctx, ErrMalformed, "makenamedlink", name, "invalid characters in link name %q", name)
	}
	return h.api.failed(ctx, "makenamedlink", name, e.file.MakeNamedLink(ctx, name, target))
}

// PrintLink describes a link.
func (h *Handle) PrintLink(ctx context.Context, target backend.Link) (s string, err error) {
	ctx, e, done, err := h.begin(ctx, "printlink")
	if err != nil {
		return "", err
	}
	defer done(&err)

	s, err = e.file.PrintLink(ctx, target)
	return s, h.api.failed(ctx, "printlink", target.TargetPath, err)
}

// OpenSourceGroup moves to the group holding the original of the linked
// item currently open, as recorded in its target attribute.
func (h *Handle) OpenSourceGroup(ctx context.Context) (err error) {
	ctx, _, done, err := h.begin(ctx, "opensourcegroup")
	if err != nil {
		return err
	}
	defer done(&err)

	attr, aerr := h.GetAttr(h.api.sink.Suppress(ctx), "target")
	target, ok := attr.Value.(string)
	if aerr != nil || !ok {
		return h.api.reject(ctx, ErrNotFound, "opensourcegroup", "", "item not linked")
	}
	return h.OpenGroupPath(ctx, target)
}
