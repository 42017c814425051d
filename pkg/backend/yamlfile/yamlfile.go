// Package yamlfile stores NeXus trees as YAML documents.
//
// Layout:
//
//	#NXYAML 1.0
//	class: NXroot
//	attributes:
//	  - {name: NeXus_version, type: CHAR, value: 4.3.0}
//	children:
//	  - name: entry
//	    class: NXentry
//	    children:
//	      - {name: counts, type: INT32, dims: [3], values: [1, 2, 3]}
//	      - {name: alias, link: /entry/counts}
//
// Groups carry class and children, datasets carry type, dims and values,
// links carry the absolute path of the linked node.
package yamlfile

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/marmos91/nxfs/pkg/backend"
	"github.com/marmos91/nxfs/pkg/backend/tree"
)

// Marker is the first line written to every document.
const Marker = "#NXYAML 1.0"

// ============================================================================
// Driver
// ============================================================================

// Driver opens YAML containers.
type Driver struct{}

// New returns the YAML driver.
func New() *Driver {
	return &Driver{}
}

func (d *Driver) Family() backend.Family { return backend.FamilyYAML }

func (d *Driver) Name() string { return "yaml" }

// Probe accepts files whose first line is a %YAML directive or the marker.
func (d *Driver) Probe(path string) (bool, error) {
	line, err := backend.FirstLine(path)
	if err != nil {
		return false, err
	}
	return strings.HasPrefix(line, "%YAML") || strings.HasPrefix(line, "#NXYAML"), nil
}

func (d *Driver) Open(ctx context.Context, path string, mode backend.Mode) (backend.File, error) {
	return tree.Open(path, mode, Codec{})
}

// ============================================================================
// Document Schema
// ============================================================================

type attrDoc struct {
	Name  string    `yaml:"name"`
	Type  string    `yaml:"type"`
	Value yaml.Node `yaml:"value"`
}

type nodeDoc struct {
	Name        string     `yaml:"name,omitempty"`
	Class       string     `yaml:"class,omitempty"`
	Link        string     `yaml:"link,omitempty"`
	Type        string     `yaml:"type,omitempty"`
	Dims        []int64    `yaml:"dims,omitempty,flow"`
	Unlimited   bool       `yaml:"unlimited,omitempty"`
	Compression int        `yaml:"compression,omitempty"`
	Chunk       []int64    `yaml:"chunk,omitempty,flow"`
	Attributes  []attrDoc  `yaml:"attributes,omitempty"`
	Values      yaml.Node  `yaml:"values,omitempty"`
	Children    []nodeDoc  `yaml:"children,omitempty"`
}

// Codec is the tree.Codec for YAML documents.
type Codec struct{}

// Encode writes the marker line followed by the document.
func (Codec) Encode(w io.Writer, root *tree.Node) error {
	doc, err := encodeNode("", root)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(w, Marker+"\n"); err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return err
	}
	return enc.Close()
}

// Decode parses a document. The marker line is a YAML comment and needs no
// special handling.
func (Codec) Decode(r io.Reader) (*tree.Node, error) {
	var doc nodeDoc
	if err := yaml.NewDecoder(bufio.NewReader(r)).Decode(&doc); err != nil {
		return nil, err
	}
	return decodeNode(doc)
}

func encodeNode(name string, n *tree.Node) (nodeDoc, error) {
	doc := nodeDoc{Name: name}
	for _, a := range n.Attrs {
		ad := attrDoc{Name: a.Name, Type: a.Type.String()}
		if err := ad.Value.Encode(a.Value); err != nil {
			return doc, fmt.Errorf("attribute %s: %w", a.Name, err)
		}
		doc.Attributes = append(doc.Attributes, ad)
	}

	if n.IsData {
		doc.Type = n.Type.String()
		doc.Dims = n.Dims
		doc.Unlimited = n.Unlimited
		if n.Comp != backend.CompNone {
			doc.Compression = int(n.Comp)
		}
		doc.Chunk = n.Chunk
		doc.Values = encodeValues(n.Type, n.Data)
		return doc, nil
	}

	doc.Class = n.Class
	for _, c := range n.Children {
		if c.Link != "" {
			doc.Children = append(doc.Children, nodeDoc{Name: c.Name, Link: c.Link})
			continue
		}
		cd, err := encodeNode(c.Name, c.Node)
		if err != nil {
			return doc, err
		}
		doc.Children = append(doc.Children, cd)
	}
	return doc, nil
}

func encodeValues(t backend.DataType, data any) yaml.Node {
	if t == backend.Char {
		b, _ := data.([]byte)
		return yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: strings.TrimRight(string(b), "\x00")}
	}
	seq := yaml.Node{Kind: yaml.SequenceNode, Style: yaml.FlowStyle}
	for _, v := range backend.FormatValues(t, data) {
		seq.Content = append(seq.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: yamlNumber(v)})
	}
	return seq
}

func decodeNode(doc nodeDoc) (*tree.Node, error) {
	var n *tree.Node
	if doc.Type != "" {
		t, err := backend.ParseDataType(doc.Type)
		if err != nil {
			return nil, err
		}
		n = &tree.Node{
			IsData:    true,
			Type:      t,
			Dims:      doc.Dims,
			Unlimited: doc.Unlimited,
			Comp:      backend.CompNone,
			Chunk:     doc.Chunk,
		}
		if doc.Compression != 0 {
			n.Comp = backend.Compression(doc.Compression)
		}
		if n.Data, err = decodeValues(t, doc.Dims, doc.Values); err != nil {
			return nil, fmt.Errorf("dataset %s: %w", doc.Name, err)
		}
	} else {
		n = tree.NewGroup(doc.Class)
	}

	for _, ad := range doc.Attributes {
		t, err := backend.ParseDataType(ad.Type)
		if err != nil {
			return nil, err
		}
		text := ad.Value.Value
		if t != backend.Char {
			text = goNumber(text)
		}
		v, err := backend.ParseScalar(t, text)
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %w", ad.Name, err)
		}
		n.Attrs = append(n.Attrs, &tree.Attr{Name: ad.Name, Type: t, Value: v})
	}

	for _, cd := range doc.Children {
		if cd.Link != "" {
			n.Children = append(n.Children, &tree.Child{Name: cd.Name, Link: cd.Link})
			continue
		}
		c, err := decodeNode(cd)
		if err != nil {
			return nil, err
		}
		n.Children = append(n.Children, &tree.Child{Name: cd.Name, Node: c})
	}
	return n, nil
}

// decodeValues reads the values of a dataset. A missing values key leaves
// node zero (Kind 0) and yields zeroed data.
func decodeValues(t backend.DataType, dims []int64, node yaml.Node) (any, error) {
	want := int(backend.Elements(dims))
	if node.Kind == 0 {
		return backend.Alloc(t, int64(want))
	}
	var data any
	var err error
	if t == backend.Char {
		data = []byte(node.Value)
	} else {
		fields := make([]string, 0, len(node.Content))
		for _, c := range node.Content {
			fields = append(fields, goNumber(c.Value))
		}
		if data, err = backend.ParseValues(t, fields); err != nil {
			return nil, err
		}
	}
	if backend.Len(data) != want {
		data = backend.Resize(data, want)
	}
	return data, nil
}

// yamlNumber maps Go float spellings of non-finite values to YAML ones.
func yamlNumber(v string) string {
	switch v {
	case "NaN":
		return ".nan"
	case "+Inf":
		return ".inf"
	case "-Inf":
		return "-.inf"
	}
	return v
}

func goNumber(v string) string {
	switch strings.ToLower(v) {
	case ".nan":
		return "NaN"
	case ".inf", "+.inf":
		return fmt.Sprint(math.Inf(1))
	case "-.inf":
		return fmt.Sprint(math.Inf(-1))
	}
	return v
}

var _ backend.Driver = (*Driver)(nil)
