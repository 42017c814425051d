// Package backend defines the operation table every container format
// implements and the types shared between the NeXus core and its backends.
//
// A Driver recognizes and opens files of one family; the File it returns
// is the per-open-file operation table. The core never looks inside a File:
// it only dispatches through the interface and compares identities with
// SameID.
package backend

import "context"

// Driver opens containers of one family.
type Driver interface {
	// Family returns the container family handled by this driver.
	Family() Family

	// Name returns a human-readable name used in logs and errors.
	Name() string

	// Probe reports whether the file at path belongs to this family.
	// An error means the file could not be inspected at all.
	Probe(path string) (bool, error)

	// Open opens or creates the container at path.
	Open(ctx context.Context, path string, mode Mode) (File, error)
}

// GroupInfo describes the current group.
type GroupInfo struct {
	// Items is the number of children of the group.
	Items int
	Name  string
	Class string
}

// ExternalLink describes a link from the current group into another file.
type ExternalLink struct {
	Name string

	// Class is the group class of the placeholder. Unused for datasets.
	Class string

	// Dataset tells whether the placeholder is a dataset rather than a
	// group.
	Dataset bool

	File string
	Path string
}

// URL returns the mount URL for the link.
func (l ExternalLink) URL() string {
	p := l.Path
	if p == "" {
		p = "/"
	}
	return "nxfile://" + l.File + "#" + p
}

// File is the operation table of one open container.
//
// Position model: a File has a current group (root after open) and at most
// one open dataset inside it. Attribute calls address the open dataset if
// there is one, else the current group.
//
// Optional operations (Reopen, NativeInquireFile, NativeIsExternalLink,
// NativeExternalLink, SetNumberFormat) return an *Error with code
// ErrNotSupported when the backend has no native implementation; callers
// fall back to the generic behavior.
type File interface {
	// ========================================================================
	// File Lifecycle
	// ========================================================================

	// Close flushes pending changes and releases the container.
	Close(ctx context.Context) error

	// Flush persists pending changes without closing.
	Flush(ctx context.Context) error

	// ========================================================================
	// Groups
	// ========================================================================

	MakeGroup(ctx context.Context, name, class string) error

	// OpenGroup enters the named child group. An empty class matches any
	// class.
	OpenGroup(ctx context.Context, name, class string) error

	// CloseGroup returns to the parent group. Closing at root is a no-op.
	CloseGroup(ctx context.Context) error

	// ========================================================================
	// Datasets
	// ========================================================================

	// MakeData creates a dataset in the current group. dims[0] may be
	// Unlimited.
	MakeData(ctx context.Context, name string, dtype DataType, dims []int64) error

	// CompMakeData is MakeData with a compression request and chunk shape.
	CompMakeData(ctx context.Context, name string, dtype DataType, dims []int64, comp Compression, chunk []int64) error

	// Compress sets the compression of the open dataset.
	Compress(ctx context.Context, comp Compression) error

	OpenData(ctx context.Context, name string) error
	CloseData(ctx context.Context) error

	// PutData writes the whole open dataset. data must be a typed slice
	// matching the dataset type; CHAR datasets also accept a string.
	PutData(ctx context.Context, data any) error

	// PutSlab writes a hyperslab. For unlimited datasets the first
	// dimension grows to fit.
	PutSlab(ctx context.Context, data any, start, size []int64) error

	// GetData returns the whole open dataset as a typed slice.
	GetData(ctx context.Context) (any, error)

	GetSlab(ctx context.Context, start, size []int64) (any, error)

	// GetInfo returns the current dimensions and type of the open dataset.
	GetInfo(ctx context.Context) ([]int64, DataType, error)

	// ========================================================================
	// Attributes
	// ========================================================================

	// PutAttr writes an attribute. value is a string for CHAR and a single
	// scalar otherwise.
	PutAttr(ctx context.Context, name string, value any, dtype DataType) error

	// GetAttr reads an attribute. Missing attributes yield ErrNotFound.
	GetAttr(ctx context.Context, name string) (Attribute, error)

	// GetNextAttr iterates attributes; ErrEOD ends the listing and rewinds.
	GetNextAttr(ctx context.Context) (AttrInfo, error)

	InitAttrDir(ctx context.Context) error

	// GetAttrInfo returns the number of attributes.
	GetAttrInfo(ctx context.Context) (int, error)

	// ========================================================================
	// Directory
	// ========================================================================

	// GetNextEntry iterates the current group; ErrEOD ends the listing and
	// rewinds.
	GetNextEntry(ctx context.Context) (Entry, error)

	InitGroupDir(ctx context.Context) error

	GetGroupInfo(ctx context.Context) (GroupInfo, error)

	// ========================================================================
	// Identity and Links
	// ========================================================================

	// GetGroupID returns the identity of the current group. Fails with
	// ErrNotFound at root.
	GetGroupID(ctx context.Context) (Link, error)

	// GetDataID returns the identity of the open dataset. Fails with
	// ErrNotFound when no dataset is open.
	GetDataID(ctx context.Context) (Link, error)

	// SameID reports whether two identities name the same entity.
	SameID(a, b Link) bool

	// MakeLink adds target to the current group under its own name.
	MakeLink(ctx context.Context, target Link) error

	// MakeNamedLink adds target to the current group under name.
	MakeNamedLink(ctx context.Context, name string, target Link) error

	// PrintLink describes a link for diagnostics.
	PrintLink(ctx context.Context, target Link) (string, error)

	// ========================================================================
	// Optional Operations
	// ========================================================================

	// Reopen returns an independent File on the same container.
	Reopen(ctx context.Context) (File, error)

	// NativeInquireFile returns the name of the container.
	NativeInquireFile(ctx context.Context) (string, error)

	// NativeIsExternalLink returns the mount URL of the named child if it
	// is a native external link; ErrNotFound if it is not.
	NativeIsExternalLink(ctx context.Context, name string) (string, error)

	// NativeExternalLink records an external link in the current group
	// using the backend's own schema instead of a napimount attribute.
	NativeExternalLink(ctx context.Context, link ExternalLink) error

	// SetNumberFormat sets the textual format of a number type.
	SetNumberFormat(ctx context.Context, dtype DataType, format string) error
}
