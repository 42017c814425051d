package backend

import (
	"fmt"
	"strings"
)

// ============================================================================
// Data Types
// ============================================================================

// DataType identifies the element type of a dataset or attribute.
//
// The numeric values are the NeXus type codes so that files and tools
// exchanging raw type numbers stay compatible.
type DataType int

const (
	Char    DataType = 4
	Float32 DataType = 5
	Float64 DataType = 6
	Int8    DataType = 20
	Uint8   DataType = 21
	Int16   DataType = 22
	Uint16  DataType = 23
	Int32   DataType = 24
	Uint32  DataType = 25
	Int64   DataType = 26
	Uint64  DataType = 27

	// Binary is an alias of Uint8 used for opaque byte payloads.
	Binary = Uint8
)

func (t DataType) String() string {
	switch t {
	case Char:
		return "CHAR"
	case Float32:
		return "FLOAT32"
	case Float64:
		return "FLOAT64"
	case Int8:
		return "INT8"
	case Uint8:
		return "UINT8"
	case Int16:
		return "INT16"
	case Uint16:
		return "UINT16"
	case Int32:
		return "INT32"
	case Uint32:
		return "UINT32"
	case Int64:
		return "INT64"
	case Uint64:
		return "UINT64"
	default:
		return fmt.Sprintf("TYPE(%d)", int(t))
	}
}

// Valid reports whether t is a known type code.
func (t DataType) Valid() bool {
	return t.Size() > 0
}

// Size returns the size in bytes of one element, or 0 for unknown types.
func (t DataType) Size() int {
	switch t {
	case Char, Int8, Uint8:
		return 1
	case Int16, Uint16:
		return 2
	case Int32, Uint32, Float32:
		return 4
	case Int64, Uint64, Float64:
		return 8
	default:
		return 0
	}
}

// ParseDataType converts a type name such as "INT32", "float64" or
// "NX_UINT16" into a DataType.
func ParseDataType(name string) (DataType, error) {
	switch strings.TrimPrefix(strings.ToUpper(name), "NX_") {
	case "CHAR":
		return Char, nil
	case "FLOAT32":
		return Float32, nil
	case "FLOAT64":
		return Float64, nil
	case "INT8":
		return Int8, nil
	case "UINT8", "BINARY":
		return Uint8, nil
	case "INT16":
		return Int16, nil
	case "UINT16":
		return Uint16, nil
	case "INT32":
		return Int32, nil
	case "UINT32":
		return Uint32, nil
	case "INT64":
		return Int64, nil
	case "UINT64":
		return Uint64, nil
	}
	return 0, fmt.Errorf("unknown data type %q", name)
}

// ============================================================================
// Limits and Markers
// ============================================================================

const (
	// MaxRank is the maximum number of dimensions of a dataset.
	MaxRank = 32

	// MaxNameLen is the maximum length of a group, dataset or attribute name.
	MaxNameLen = 64

	// Unlimited marks the first dimension of a dataset as growable.
	Unlimited int64 = -1

	// DatasetClass is the class reported by GetNextEntry for datasets.
	DatasetClass = "SDS"

	// RootClass is the class reported by GetGroupInfo at file root.
	RootClass = "NXroot"

	// Version is the API version written into new files.
	Version = "4.3.0"
)

// Compression identifies a compression scheme requested for a dataset.
// Backends record it; whether bytes are actually compressed is up to them.
type Compression int

const (
	CompNone Compression = 100
	CompLZW  Compression = 200
	CompRLE  Compression = 300
	CompHUF  Compression = 400
)

// ============================================================================
// Open Modes and Families
// ============================================================================

// Mode is the access mode a backend file is opened with, after the
// core has consumed its flag bits.
type Mode int

const (
	ModeRead Mode = iota + 1
	ModeReadWrite
	ModeCreate
)

func (m Mode) String() string {
	switch m {
	case ModeRead:
		return "read"
	case ModeReadWrite:
		return "read-write"
	case ModeCreate:
		return "create"
	default:
		return "unknown"
	}
}

// Writable reports whether the mode allows mutations.
func (m Mode) Writable() bool {
	return m == ModeReadWrite || m == ModeCreate
}

// Family names a container format.
type Family string

const (
	FamilyKV   Family = "kv"
	FamilyYAML Family = "yaml"
	FamilyXML  Family = "xml"
)

// ============================================================================
// Directory Entries, Attributes and Links
// ============================================================================

// Entry is one child of a group as returned by GetNextEntry.
type Entry struct {
	Name  string
	Class string
	// Type is the data type for datasets and 0 for groups.
	Type DataType
}

// IsDataset reports whether the entry names a dataset.
func (e Entry) IsDataset() bool {
	return e.Class == DatasetClass
}

// AttrInfo describes one attribute as returned by GetNextAttr.
type AttrInfo struct {
	Name   string
	Length int
	Type   DataType
}

// Attribute is an attribute value. Value is a string for Char
// attributes and a single Go scalar otherwise.
type Attribute struct {
	AttrInfo
	Value any
}

// String returns the attribute value as text.
func (a Attribute) String() string {
	if s, ok := a.Value.(string); ok {
		return s
	}
	return fmt.Sprint(a.Value)
}

// LinkKind tells what a Link identifies.
type LinkKind int

const (
	LinkGroup LinkKind = iota + 1
	LinkData
	// LinkRoot marks the root of a file. It never comes from a backend;
	// the core uses it as the close boundary of a mount onto "/".
	LinkRoot
)

// Link identifies an open group or dataset. Ref is backend specific and
// opaque to callers; identities must only be compared with File.SameID.
type Link struct {
	Kind       LinkKind
	Ref        string
	TargetPath string
}

// IsZero reports whether l is unset.
func (l Link) IsZero() bool {
	return l.Kind == 0 && l.Ref == "" && l.TargetPath == ""
}
