package napi

import (
	"context"
	"fmt"
	"strings"

	"github.com/marmos91/nxfs/pkg/backend"
)

const (
	// MountAttr is the attribute holding the mount URL of a gateway.
	MountAttr = "napimount"

	mountScheme = "nxfile://"
)

// ParseMountURL splits "nxfile://<file>[#<path>]" into the file and the
// path inside it. The split happens at the last '#'; a missing or empty
// path means "/". URLs without the nxfile:// marker fail with ErrBadURL.
func ParseMountURL(url string) (file, path string, err error) {
	i := strings.Index(url, mountScheme)
	if i < 0 {
		return "", "", fmt.Errorf("%w: unknown external addressing scheme in %q", ErrBadURL, url)
	}
	rest := url[i+len(mountScheme):]
	file, path = rest, "/"
	if j := strings.LastIndexByte(rest, '#'); j >= 0 {
		file = rest[:j]
		if p := rest[j+1:]; p != "" {
			path = p
		}
	}
	return file, path, nil
}

// probeMount returns the mount URL of the entity just opened, if any.
func (h *Handle) probeMount(ctx context.Context) (string, bool) {
	attr, err := h.GetAttr(h.api.sink.Suppress(ctx), MountAttr)
	if err != nil {
		return "", false
	}
	url, ok := attr.Value.(string)
	return url, ok && url != ""
}

// undoOpen closes the entity opened in the top file before a mount
// failed, so the caller's position is unchanged.
func (h *Handle) undoOpen(ctx context.Context, dataset bool) {
	e := h.stack.peek()
	if dataset {
		_ = e.file.CloseData(ctx)
	} else {
		_ = e.file.CloseGroup(ctx)
	}
	h.stack.popPath()
}

// unwindTo pops and closes frames until n remain. Close failures are
// dropped since the caller already reports the failure that caused the
// unwind.
func (h *Handle) unwindTo(ctx context.Context, n int) {
	ctx = h.api.sink.Suppress(ctx)
	for len(h.stack.frames) > n {
		_ = h.closeFrame(ctx, h.stack.pop())
	}
}

// resolveMount follows the mount of the group or dataset just opened: the
// external file is pushed onto the stack, the internal path is opened in
// it, and the entity reached becomes the close boundary of the new frame.
func (h *Handle) resolveMount(ctx context.Context, op string, dataset bool) (err error) {
	url, ok := h.probeMount(ctx)
	if !ok {
		return nil
	}
	defer func() { h.api.metrics.RecordMount(err) }()

	file, ipath, err := ParseMountURL(url)
	if err != nil {
		h.undoOpen(ctx, dataset)
		e := &Error{Code: ErrMalformed, Op: op, Path: url, Err: err}
		h.api.report(ctx, e)
		return e
	}

	parent := h.stack.top().filename
	gateway, _ := h.stack.buildPath()
	base := len(h.stack.frames)

	e, located, err := h.api.openEntry(ctx, file, Read)
	if err != nil {
		h.undoOpen(ctx, dataset)
		return err
	}
	h.stack.push(e, located)
	mounted := h.stack.top()

	fail := func(err error) error {
		h.unwindTo(ctx, base)
		h.undoOpen(ctx, dataset)
		return err
	}

	if err := h.walk(ctx, "openpath", ipath, false); err != nil {
		return fail(err)
	}

	// The mounted file keeps its own position even when the walk
	// crossed further mounts, so the boundary is read from it directly.
	var id backend.Link
	_, dataErr := e.file.GetDataID(ctx)
	switch {
	case dataset && dataErr != nil:
		return fail(h.api.reject(ctx, ErrMalformed, op, url, "mount target %s in %s is not a dataset", ipath, file))
	case dataset:
		id, err = e.file.GetDataID(ctx)
	case dataErr == nil:
		return fail(h.api.reject(ctx, ErrMalformed, op, url, "mount target %s in %s is not a group", ipath, file))
	default:
		id, err = e.file.GetGroupID(ctx)
		if backend.IsNotFound(err) {
			id, err = backend.Link{Kind: backend.LinkRoot}, nil
		}
	}
	if err != nil {
		return fail(h.api.failed(ctx, op, url, err))
	}

	mounted.closeID = id
	mounted.mountID = h.api.registry.RecordMount(parent, gateway, located, ipath)
	return nil
}

// atBoundary reports whether closing the current group (or dataset) of e
// leaves the file mounted on top of the stack.
func (h *Handle) atBoundary(ctx context.Context, e *entry, dataset bool) bool {
	closeID := h.stack.peekID()
	if closeID.IsZero() {
		return false
	}
	if dataset {
		if closeID.Kind != backend.LinkData {
			return false
		}
		cur, err := e.file.GetDataID(ctx)
		return err == nil && e.file.SameID(closeID, cur)
	}
	cur, err := e.file.GetGroupID(ctx)
	if closeID.Kind == backend.LinkRoot {
		return err != nil
	}
	return err == nil && e.file.SameID(closeID, cur)
}

// ============================================================================
// External Links
// ============================================================================

// IsExternalGroup returns the mount URL of the child group name, and
// false when the group is not a gateway.
func (h *Handle) IsExternalGroup(ctx context.Context, name, class string) (url string, ok bool, err error) {
	return h.isExternal(ctx, "isexternalgroup", name, class, false)
}

// IsExternalDataset returns the mount URL of the child dataset name, and
// false when the dataset is not a gateway.
func (h *Handle) IsExternalDataset(ctx context.Context, name string) (url string, ok bool, err error) {
	return h.isExternal(ctx, "isexternaldataset", name, "", true)
}

func (h *Handle) isExternal(ctx context.Context, op, name, class string, dataset bool) (url string, ok bool, err error) {
	ctx, e, done, err := h.begin(ctx, op)
	if err != nil {
		return "", false, err
	}
	defer done(&err)

	url, err = e.file.NativeIsExternalLink(ctx, name)
	if err == nil {
		return url, true, nil
	}
	if !backend.IsNotFound(err) && !backend.IsNotSupported(err) {
		return "", false, h.api.failed(ctx, op, name, err)
	}

	// Not a native link; it may still carry a mount attribute.
	if dataset {
		err = e.file.OpenData(ctx, name)
	} else {
		err = e.file.OpenGroup(ctx, name, class)
	}
	if err != nil {
		return "", false, h.api.failed(ctx, op, name, err)
	}

	attr, aerr := h.GetAttr(h.api.sink.Suppress(ctx), MountAttr)

	if dataset {
		_ = e.file.CloseData(ctx)
	} else {
		_ = e.file.CloseGroup(ctx)
	}
	if aerr != nil {
		return "", false, nil
	}
	url, ok = attr.Value.(string)
	return url, ok && url != "", nil
}

// LinkExternal creates the group name as a gateway to url.
func (h *Handle) LinkExternal(ctx context.Context, name, class, url string) error {
	return h.linkExternal(ctx, "linkexternal", name, class, url, false)
}

// LinkExternalDataset creates the dataset name as a gateway to url.
func (h *Handle) LinkExternalDataset(ctx context.Context, name, url string) error {
	return h.linkExternal(ctx, "linkexternaldataset", name, "", url, true)
}

func (h *Handle) linkExternal(ctx context.Context, op, name, class, url string, dataset bool) (err error) {
	ctx, e, done, err := h.begin(ctx, op)
	if err != nil {
		return err
	}
	defer done(&err)

	file, ipath, perr := ParseMountURL(url)
	if perr != nil {
		err := &Error{Code: ErrMalformed, Op: op, Path: url, Err: perr}
		h.api.report(ctx, err)
		return err
	}

	link := backend.ExternalLink{Name: name, Class: class, Dataset: dataset, File: file, Path: ipath}
	err = e.file.NativeExternalLink(ctx, link)
	if !backend.IsNotSupported(err) {
		return h.api.failed(ctx, op, name, err)
	}

	if dataset {
		if err := e.file.MakeData(ctx, name, backend.Char, []int64{1}); err != nil {
			return h.api.failed(ctx, op, name, err)
		}
		if err := e.file.OpenData(ctx, name); err != nil {
			return h.api.failed(ctx, op, name, err)
		}
	} else {
		// The group may exist already.
		_ = e.file.MakeGroup(ctx, name, class)
		if err := e.file.OpenGroup(ctx, name, class); err != nil {
			return h.api.failed(ctx, op, name, err)
		}
	}

	err = h.PutAttr(ctx, MountAttr, url, backend.Char)
	if dataset {
		_ = e.file.CloseData(ctx)
	} else {
		_ = e.file.CloseGroup(ctx)
	}
	return err
}
