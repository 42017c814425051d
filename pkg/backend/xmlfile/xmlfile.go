// Package xmlfile stores NeXus trees as XML documents.
//
//	<?xml version="1.0" encoding="UTF-8"?>
//	<NXroot>
//	  <attr name="NeXus_version" type="CHAR">4.3.0</attr>
//	  <group name="entry" class="NXentry">
//	    <SDS name="counts" type="INT32" dims="3"><values>1 2 3</values></SDS>
//	    <link name="alias" target="/entry/counts"></link>
//	  </group>
//	</NXroot>
package xmlfile

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/marmos91/nxfs/pkg/backend"
	"github.com/marmos91/nxfs/pkg/backend/tree"
)

const (
	elemRoot  = "NXroot"
	elemGroup = "group"
	elemData  = "SDS"
	elemLink  = "link"
)

// Driver opens XML containers.
type Driver struct{}

func New() *Driver {
	return &Driver{}
}

func (d *Driver) Family() backend.Family { return backend.FamilyXML }

func (d *Driver) Name() string { return "xml" }

// Probe accepts files whose first line contains "?xml".
func (d *Driver) Probe(path string) (bool, error) {
	line, err := backend.FirstLine(path)
	if err != nil {
		return false, err
	}
	return strings.Contains(line, "?xml"), nil
}

func (d *Driver) Open(ctx context.Context, path string, mode backend.Mode) (backend.File, error) {
	return tree.Open(path, mode, NewCodec())
}

// ============================================================================
// Document Schema
// ============================================================================

type xmlAttr struct {
	Name  string `xml:"name,attr"`
	Type  string `xml:"type,attr"`
	Value string `xml:",chardata"`
}

type xmlValues struct {
	Text string `xml:",chardata"`
}

// xmlEntry is any element of the document. The element name tells which
// fields are meaningful.
type xmlEntry struct {
	XMLName   xml.Name
	Name      string     `xml:"name,attr,omitempty"`
	Class     string     `xml:"class,attr,omitempty"`
	Type      string     `xml:"type,attr,omitempty"`
	Dims      string     `xml:"dims,attr,omitempty"`
	Unlimited bool       `xml:"unlimited,attr,omitempty"`
	Compress  int        `xml:"compress,attr,omitempty"`
	Chunk     string     `xml:"chunk,attr,omitempty"`
	Target    string     `xml:"target,attr,omitempty"`
	Attrs     []xmlAttr  `xml:"attr"`
	Values    *xmlValues `xml:"values"`
	Entries   []xmlEntry `xml:",any"`
}

// ============================================================================
// Codec
// ============================================================================

// Codec is the tree.Codec for XML documents. Numbers are written with %v
// unless a format was set for their type.
type Codec struct {
	mu      sync.RWMutex
	formats map[backend.DataType]string
}

func NewCodec() *Codec {
	return &Codec{formats: make(map[backend.DataType]string)}
}

// SetNumberFormat sets a fmt verb used when writing values of dtype. The
// format must produce text that parses back as the same type.
func (c *Codec) SetNumberFormat(dtype backend.DataType, format string) error {
	if !dtype.Valid() || dtype == backend.Char {
		return backend.NewError(backend.ErrInvalidArgument, fmt.Sprintf("no number format for %s", dtype), "")
	}
	if !strings.Contains(format, "%") {
		return backend.NewError(backend.ErrInvalidArgument, fmt.Sprintf("bad number format %q", format), "")
	}
	c.mu.Lock()
	c.formats[dtype] = format
	c.mu.Unlock()
	return nil
}

func (c *Codec) Encode(w io.Writer, root *tree.Node) error {
	doc := c.encodeNode(elemRoot, "", root)
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}

func (c *Codec) Decode(r io.Reader) (*tree.Node, error) {
	var doc xmlEntry
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, err
	}
	if doc.XMLName.Local != elemRoot {
		return nil, fmt.Errorf("root element is %s, want %s", doc.XMLName.Local, elemRoot)
	}
	root, err := decodeNode(doc)
	if err != nil {
		return nil, err
	}
	root.Class = backend.RootClass
	return root, nil
}

func (c *Codec) encodeNode(elem, name string, n *tree.Node) xmlEntry {
	e := xmlEntry{XMLName: xml.Name{Local: elem}, Name: name}
	for _, a := range n.Attrs {
		e.Attrs = append(e.Attrs, xmlAttr{Name: a.Name, Type: a.Type.String(), Value: c.formatScalar(a.Type, a.Value)})
	}

	if n.IsData {
		e.Type = n.Type.String()
		e.Dims = joinInts(n.Dims)
		e.Unlimited = n.Unlimited
		if n.Comp != backend.CompNone {
			e.Compress = int(n.Comp)
		}
		e.Chunk = joinInts(n.Chunk)
		e.Values = &xmlValues{Text: c.formatValues(n.Type, n.Data)}
		return e
	}

	if elem != elemRoot {
		e.Class = n.Class
	}
	for _, ch := range n.Children {
		switch {
		case ch.Link != "":
			e.Entries = append(e.Entries, xmlEntry{XMLName: xml.Name{Local: elemLink}, Name: ch.Name, Target: ch.Link})
		case ch.Node.IsData:
			e.Entries = append(e.Entries, c.encodeNode(elemData, ch.Name, ch.Node))
		default:
			e.Entries = append(e.Entries, c.encodeNode(elemGroup, ch.Name, ch.Node))
		}
	}
	return e
}

func (c *Codec) format(t backend.DataType) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.formats[t]
}

func (c *Codec) formatScalar(t backend.DataType, v any) string {
	if f := c.format(t); f != "" && t != backend.Char {
		return fmt.Sprintf(f, v)
	}
	return fmt.Sprint(v)
}

func (c *Codec) formatValues(t backend.DataType, data any) string {
	if t == backend.Char {
		b, _ := data.([]byte)
		return strings.TrimRight(string(b), "\x00")
	}
	f := c.format(t)
	if f == "" {
		return strings.Join(backend.FormatValues(t, data), " ")
	}
	v := reflect.ValueOf(data)
	parts := make([]string, v.Len())
	for i := range parts {
		parts[i] = fmt.Sprintf(f, v.Index(i).Interface())
	}
	return strings.Join(parts, " ")
}

func decodeNode(e xmlEntry) (*tree.Node, error) {
	var n *tree.Node
	if e.XMLName.Local == elemData {
		t, err := backend.ParseDataType(e.Type)
		if err != nil {
			return nil, err
		}
		dims, err := splitInts(e.Dims)
		if err != nil {
			return nil, fmt.Errorf("dataset %s dims: %w", e.Name, err)
		}
		chunk, err := splitInts(e.Chunk)
		if err != nil {
			return nil, fmt.Errorf("dataset %s chunk: %w", e.Name, err)
		}
		n = &tree.Node{IsData: true, Type: t, Dims: dims, Unlimited: e.Unlimited, Comp: backend.CompNone, Chunk: chunk}
		if e.Compress != 0 {
			n.Comp = backend.Compression(e.Compress)
		}
		text := ""
		if e.Values != nil {
			text = e.Values.Text
		}
		var data any
		if t == backend.Char {
			data = []byte(text)
		} else if data, err = backend.ParseValues(t, strings.Fields(text)); err != nil {
			return nil, fmt.Errorf("dataset %s: %w", e.Name, err)
		}
		if want := int(backend.Elements(dims)); backend.Len(data) != want {
			data = backend.Resize(data, want)
		}
		n.Data = data
	} else {
		n = tree.NewGroup(e.Class)
	}

	for _, a := range e.Attrs {
		t, err := backend.ParseDataType(a.Type)
		if err != nil {
			return nil, err
		}
		text := a.Value
		if t != backend.Char {
			text = strings.TrimSpace(text)
		}
		v, err := backend.ParseScalar(t, text)
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %w", a.Name, err)
		}
		n.Attrs = append(n.Attrs, &tree.Attr{Name: a.Name, Type: t, Value: v})
	}

	for _, ce := range e.Entries {
		switch ce.XMLName.Local {
		case elemLink:
			n.Children = append(n.Children, &tree.Child{Name: ce.Name, Link: ce.Target})
		case elemGroup, elemData:
			c, err := decodeNode(ce)
			if err != nil {
				return nil, err
			}
			n.Children = append(n.Children, &tree.Child{Name: ce.Name, Node: c})
		default:
			return nil, fmt.Errorf("unexpected element <%s>", ce.XMLName.Local)
		}
	}
	return n, nil
}

func joinInts(v []int64) string {
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = strconv.FormatInt(x, 10)
	}
	return strings.Join(parts, ",")
}

func splitInts(s string) ([]int64, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int64, len(parts))
	for i, p := range parts {
		x, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return nil, err
		}
		out[i] = x
	}
	return out, nil
}

var _ backend.Driver = (*Driver)(nil)
var _ tree.NumberFormatter = (*Codec)(nil)
