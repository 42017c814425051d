package badger

import (
	"bytes"
	"fmt"
	"reflect"

	xdr "github.com/rasky/go-xdr/xdr2"

	"github.com/marmos91/nxfs/pkg/backend"
)

// Serialization Strategy
// ======================
//
// Records are XDR encoded. XDR has no 8 or 16 bit integers, so payloads are
// widened to 32 bits on write and narrowed back on read; bytes (CHAR, UINT8)
// travel as opaque data. The declared data type is stored with every payload
// so the narrowing is unambiguous.

const (
	kindGroup uint32 = 1
	kindData  uint32 = 2
)

// nodeRecord describes a group or dataset.
type nodeRecord struct {
	Kind      uint32
	Class     string
	Type      int32
	Dims      []int64
	Unlimited bool
	Comp      int32
	Chunk     []int64

	// External holds the mount URL of a native external link placeholder.
	External string
}

func (r nodeRecord) isData() bool {
	return r.Kind == kindData
}

// payload holds a typed array. Exactly one of the slices is used,
// depending on Type.
type payload struct {
	Type  int32
	I32   []int32
	U32   []uint32
	I64   []int64
	U64   []uint64
	F32   []float32
	F64   []float64
	Bytes []byte
}

// attrRecord is an attribute; numeric values are one-element payloads.
type attrRecord struct {
	Value payload
}

func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func unmarshal(data []byte, v any) error {
	_, err := xdr.Unmarshal(bytes.NewReader(data), v)
	return err
}

// encodePayload widens a typed slice into a payload.
func encodePayload(t backend.DataType, data any) (payload, error) {
	p := payload{Type: int32(t)}
	switch d := data.(type) {
	case []byte:
		p.Bytes = d
	case []int8:
		p.I32 = widen[int8, int32](d)
	case []int16:
		p.I32 = widen[int16, int32](d)
	case []int32:
		p.I32 = d
	case []uint16:
		p.U32 = widen[uint16, uint32](d)
	case []uint32:
		p.U32 = d
	case []int64:
		p.I64 = d
	case []uint64:
		p.U64 = d
	case []float32:
		p.F32 = d
	case []float64:
		p.F64 = d
	default:
		return p, fmt.Errorf("cannot store %T", data)
	}
	return p, nil
}

// decodePayload narrows a payload back into the typed slice of its type.
func decodePayload(p payload) (any, error) {
	switch backend.DataType(p.Type) {
	case backend.Char, backend.Uint8:
		if p.Bytes == nil {
			return []byte{}, nil
		}
		return p.Bytes, nil
	case backend.Int8:
		return narrow[int32, int8](p.I32), nil
	case backend.Int16:
		return narrow[int32, int16](p.I32), nil
	case backend.Int32:
		return orEmpty(p.I32), nil
	case backend.Uint16:
		return narrow[uint32, uint16](p.U32), nil
	case backend.Uint32:
		return orEmpty(p.U32), nil
	case backend.Int64:
		return orEmpty(p.I64), nil
	case backend.Uint64:
		return orEmpty(p.U64), nil
	case backend.Float32:
		return orEmpty(p.F32), nil
	case backend.Float64:
		return orEmpty(p.F64), nil
	}
	return nil, fmt.Errorf("unknown payload type %d", p.Type)
}

type integer interface {
	~int8 | ~int16 | ~int32 | ~uint16 | ~uint32
}

func widen[S, D integer](in []S) []D {
	out := make([]D, len(in))
	for i, v := range in {
		out[i] = D(v)
	}
	return out
}

func narrow[S, D integer](in []S) []D {
	return widen[S, D](in)
}

func orEmpty[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

// encodeAttr stores a scalar or string attribute value.
func encodeAttr(t backend.DataType, value any) (attrRecord, error) {
	if s, ok := value.(string); ok {
		p, err := encodePayload(t, []byte(s))
		return attrRecord{Value: p}, err
	}
	one := reflect.MakeSlice(reflect.SliceOf(reflect.TypeOf(value)), 1, 1)
	one.Index(0).Set(reflect.ValueOf(value))
	p, err := encodePayload(t, one.Interface())
	return attrRecord{Value: p}, err
}

// decodeAttr returns the attribute value and length.
func decodeAttr(name string, rec attrRecord) (backend.Attribute, error) {
	t := backend.DataType(rec.Value.Type)
	data, err := decodePayload(rec.Value)
	if err != nil {
		return backend.Attribute{}, err
	}
	if t == backend.Char {
		s := string(data.([]byte))
		return backend.Attribute{AttrInfo: backend.AttrInfo{Name: name, Length: len(s), Type: t}, Value: s}, nil
	}
	v := reflect.ValueOf(data)
	if v.Len() != 1 {
		return backend.Attribute{}, fmt.Errorf("attribute %s holds %d values", name, v.Len())
	}
	return backend.Attribute{AttrInfo: backend.AttrInfo{Name: name, Length: 1, Type: t}, Value: v.Index(0).Interface()}, nil
}
