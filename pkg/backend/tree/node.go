// Package tree implements backend.File over an in-memory hierarchy that is
// loaded from and saved to a single document by a Codec.
//
// The YAML and XML backends are codecs over this package: they only
// translate between bytes and *Node, all navigation and mutation logic
// lives here.
package tree

import (
	"fmt"
	"strings"

	"github.com/marmos91/nxfs/pkg/backend"
)

// Node is a group or a dataset.
type Node struct {
	// ID is assigned when the node enters a File and identifies it for
	// SameID. Codecs leave it empty.
	ID string

	// Class is the NeXus class of a group. Empty for datasets.
	Class string

	// Dataset fields. IsData distinguishes datasets from groups.
	IsData    bool
	Type      backend.DataType
	Dims      []int64
	Unlimited bool
	Comp      backend.Compression
	Chunk     []int64
	Data      any

	Attrs    []*Attr
	Children []*Child
}

// Child is a named edge from a group to a node.
type Child struct {
	Name string

	// Node is the child. For links decoded from a document it is nil until
	// the File resolves Link.
	Node *Node

	// Link is the absolute path of the original node when this edge is a
	// hard link. Empty for ordinary children.
	Link string
}

// Attr is an attribute value: a string for CHAR, a single scalar otherwise.
type Attr struct {
	Name  string
	Type  backend.DataType
	Value any
}

// Length returns the attribute length as reported by GetAttr.
func (a *Attr) Length() int {
	if s, ok := a.Value.(string); ok {
		return len(s)
	}
	return 1
}

// NewGroup returns an empty group node.
func NewGroup(class string) *Node {
	return &Node{Class: class}
}

// NewData returns a dataset node with zeroed storage.
func NewData(dtype backend.DataType, dims []int64) (*Node, error) {
	n := &Node{IsData: true, Type: dtype, Dims: append([]int64(nil), dims...)}
	if len(dims) > 0 && dims[0] == backend.Unlimited {
		n.Unlimited = true
		n.Dims[0] = 0
	}
	data, err := backend.Alloc(dtype, backend.Elements(n.Dims))
	if err != nil {
		return nil, err
	}
	n.Data = data
	return n, nil
}

// Child returns the named child edge, or nil.
func (n *Node) Child(name string) *Child {
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Attr returns the named attribute, or nil.
func (n *Node) Attr(name string) *Attr {
	for _, a := range n.Attrs {
		if a.Name == name {
			return a
		}
	}
	return nil
}

// SetAttr adds or replaces an attribute.
func (n *Node) SetAttr(a *Attr) {
	for i, cur := range n.Attrs {
		if cur.Name == a.Name {
			n.Attrs[i] = a
			return
		}
	}
	n.Attrs = append(n.Attrs, a)
}

// Lookup walks an absolute path from n.
func (n *Node) Lookup(path string) (*Node, error) {
	cur := n
	for _, seg := range strings.Split(strings.Trim(path, "/"), "/") {
		if seg == "" {
			continue
		}
		c := cur.Child(seg)
		if c == nil || c.Node == nil {
			return nil, backend.NewError(backend.ErrNotFound, "no such entry", path)
		}
		cur = c.Node
	}
	return cur, nil
}

// prepare resolves decoded links and assigns node ids. It returns the last
// id sequence number used.
func prepare(root *Node) (int, error) {
	var resolve func(n *Node) error
	resolve = func(n *Node) error {
		for _, c := range n.Children {
			if c.Node == nil {
				target, err := root.Lookup(c.Link)
				if err != nil {
					return backend.NewError(backend.ErrIO, fmt.Sprintf("dangling link %q", c.Name), c.Link)
				}
				c.Node = target
				continue
			}
			if c.Link != "" {
				continue
			}
			if err := resolve(c.Node); err != nil {
				return err
			}
		}
		return nil
	}
	if err := resolve(root); err != nil {
		return 0, err
	}

	seq := 0
	var assign func(n *Node)
	assign = func(n *Node) {
		if n.ID != "" {
			return
		}
		seq++
		n.ID = fmt.Sprintf("n%d", seq)
		for _, c := range n.Children {
			assign(c.Node)
		}
	}
	assign(root)
	return seq, nil
}
