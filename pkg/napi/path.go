package napi

import (
	"context"
	"strings"

	"github.com/marmos91/nxfs/pkg/backend"
)

// GetPath returns the absolute path of the current position in the file
// on top of the stack.
func (h *Handle) GetPath(ctx context.Context) (p string, err error) {
	ctx, _, done, err := h.begin(ctx, "getpath")
	if err != nil {
		return "", err
	}
	defer done(&err)

	p, err = h.stack.buildPath()
	if err != nil {
		return "", h.api.reject(ctx, ErrClosed, "getpath", "", "%v", err)
	}
	return p, nil
}

// OpenPath moves to path, which may end at a dataset. An absolute path
// starts from the root of the file, each leading "../" closes one level.
func (h *Handle) OpenPath(ctx context.Context, path string) (err error) {
	ctx, _, done, err := h.begin(ctx, "openpath")
	if err != nil {
		return err
	}
	defer done(&err)
	return h.walk(ctx, "openpath", path, false)
}

// OpenGroupPath is OpenPath, except that it stops in front of a dataset
// and leaves it unopened.
func (h *Handle) OpenGroupPath(ctx context.Context, path string) (err error) {
	ctx, _, done, err := h.begin(ctx, "opengrouppath")
	if err != nil {
		return err
	}
	defer done(&err)
	return h.walk(ctx, "opengrouppath", path, true)
}

func (h *Handle) walk(ctx context.Context, op, path string, groupsOnly bool) error {
	rest, err := h.moveUp(ctx, path)
	if err != nil {
		return err
	}
	for {
		name, next, more := nextElement(rest)
		stop, err := h.stepDown(ctx, op, name, groupsOnly)
		if err != nil {
			return err
		}
		if !more || stop {
			return nil
		}
		rest = next
	}
}

// moveUp consumes the absolute or relative prefix of path and returns the
// remainder.
func (h *Handle) moveUp(ctx context.Context, path string) (string, error) {
	if strings.HasPrefix(path, "/") {
		return path, h.gotoRoot(ctx)
	}
	for isRelative(path) {
		var err error
		if h.isDataSetOpen(ctx) {
			err = h.CloseData(ctx)
		} else {
			err = h.CloseGroup(ctx)
		}
		if err != nil {
			return path, err
		}
		if len(path) > 3 {
			path = path[3:]
		} else {
			path = ""
		}
	}
	return path, nil
}

func isRelative(path string) bool {
	return path == ".." || strings.HasPrefix(path, "../")
}

// nextElement splits the first name off path.
func nextElement(path string) (name, rest string, more bool) {
	path = strings.TrimPrefix(path, "/")
	name, rest, more = strings.Cut(path, "/")
	return name, rest, more
}

// stepDown opens the child called name. With groupsOnly, a dataset child
// ends the walk without being opened.
func (h *Handle) stepDown(ctx context.Context, op, name string, groupsOnly bool) (stop bool, err error) {
	if name == "" {
		return false, nil
	}

	e := h.stack.peek()
	if err := e.file.InitGroupDir(ctx); err != nil {
		return false, h.api.failed(ctx, op, name, err)
	}
	for {
		ent, err := e.file.GetNextEntry(ctx)
		if err == backend.ErrEOD {
			break
		}
		if err != nil {
			return false, h.api.failed(ctx, op, name, err)
		}
		if ent.Name != name {
			continue
		}
		if ent.IsDataset() {
			if groupsOnly {
				return true, nil
			}
			return false, h.OpenData(ctx, name)
		}
		return false, h.OpenGroup(ctx, name, ent.Class)
	}
	return false, h.api.reject(ctx, ErrNotFound, op, name, "%s cannot step into %s", op, name)
}

func (h *Handle) isDataSetOpen(ctx context.Context) bool {
	_, err := h.stack.peek().file.GetDataID(ctx)
	return err == nil
}

// isRoot reports whether the current group is the root of the logical
// tree. The root of a file mounted at "/" is not, since closing it leads
// back into the parent file.
func (h *Handle) isRoot(ctx context.Context) bool {
	if _, err := h.stack.peek().file.GetGroupID(ctx); err == nil {
		return false
	}
	return !(h.stack.depth() > 0 && h.stack.peekID().Kind == backend.LinkRoot)
}

func (h *Handle) gotoRoot(ctx context.Context) error {
	if h.isDataSetOpen(ctx) {
		if err := h.CloseData(ctx); err != nil {
			return err
		}
	}
	for !h.isRoot(ctx) {
		if err := h.CloseGroup(ctx); err != nil {
			return err
		}
	}
	return nil
}
