package backend

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

var goTypes = map[DataType]reflect.Type{
	Char:    reflect.TypeOf(byte(0)),
	Float32: reflect.TypeOf(float32(0)),
	Float64: reflect.TypeOf(float64(0)),
	Int8:    reflect.TypeOf(int8(0)),
	Uint8:   reflect.TypeOf(uint8(0)),
	Int16:   reflect.TypeOf(int16(0)),
	Uint16:  reflect.TypeOf(uint16(0)),
	Int32:   reflect.TypeOf(int32(0)),
	Uint32:  reflect.TypeOf(uint32(0)),
	Int64:   reflect.TypeOf(int64(0)),
	Uint64:  reflect.TypeOf(uint64(0)),
}

// GoType returns the Go element type used to hold values of t.
func GoType(t DataType) (reflect.Type, bool) {
	rt, ok := goTypes[t]
	return rt, ok
}

// Elements returns the number of elements of an array with the given
// dimensions. Unlimited dimensions count as zero.
func Elements(dims []int64) int64 {
	n := int64(1)
	for _, d := range dims {
		if d <= 0 {
			return 0
		}
		n *= d
	}
	return n
}

// Alloc returns a zeroed typed slice of n elements for t.
func Alloc(t DataType, n int64) (any, error) {
	rt, ok := goTypes[t]
	if !ok {
		return nil, NewError(ErrInvalidArgument, fmt.Sprintf("unknown data type %d", int(t)), "")
	}
	if n < 0 {
		return nil, NewError(ErrInvalidArgument, "negative element count", "")
	}
	return reflect.MakeSlice(reflect.SliceOf(rt), int(n), int(n)).Interface(), nil
}

// Coerce checks that data is a typed slice holding values of t and
// returns it in canonical form. CHAR data may be given as a string.
func Coerce(t DataType, data any) (any, error) {
	if s, ok := data.(string); ok && t == Char {
		return []byte(s), nil
	}
	rt, ok := goTypes[t]
	if !ok {
		return nil, NewError(ErrInvalidArgument, fmt.Sprintf("unknown data type %d", int(t)), "")
	}
	v := reflect.ValueOf(data)
	if v.Kind() != reflect.Slice || v.Type().Elem() != rt {
		return nil, NewError(ErrInvalidArgument,
			fmt.Sprintf("%T does not hold %s values", data, t), "")
	}
	return data, nil
}

// Len returns the length of a typed slice.
func Len(data any) int {
	v := reflect.ValueOf(data)
	if v.Kind() != reflect.Slice {
		return 0
	}
	return v.Len()
}

// Clone returns a copy of a typed slice.
func Clone(data any) any {
	v := reflect.ValueOf(data)
	if v.Kind() != reflect.Slice {
		return data
	}
	out := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
	reflect.Copy(out, v)
	return out.Interface()
}

// Resize returns a slice of n elements holding the first elements of data,
// zero-padded when growing.
func Resize(data any, n int) any {
	v := reflect.ValueOf(data)
	out := reflect.MakeSlice(v.Type(), n, n)
	reflect.Copy(out, v)
	return out.Interface()
}

// Scalar converts a numeric Go value into the canonical scalar type for t.
// CHAR values are returned as strings.
func Scalar(t DataType, value any) (any, error) {
	if t == Char {
		switch v := value.(type) {
		case string:
			return v, nil
		case []byte:
			return string(v), nil
		}
		return nil, NewError(ErrInvalidArgument, fmt.Sprintf("%T is not a CHAR value", value), "")
	}
	rt, ok := goTypes[t]
	if !ok {
		return nil, NewError(ErrInvalidArgument, fmt.Sprintf("unknown data type %d", int(t)), "")
	}
	v := reflect.ValueOf(value)
	if v.Kind() == reflect.Slice {
		if v.Len() != 1 {
			return nil, NewError(ErrInvalidArgument, "numeric attributes hold exactly one value", "")
		}
		v = v.Index(0)
	}
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return v.Convert(rt).Interface(), nil
	}
	return nil, NewError(ErrInvalidArgument, fmt.Sprintf("%T is not a numeric value", value), "")
}

// ============================================================================
// Hyperslabs
// ============================================================================

// CheckSlab validates a hyperslab against dims. When grow is set the first
// dimension may be exceeded (unlimited datasets).
func CheckSlab(dims, start, size []int64, grow bool) error {
	if len(start) != len(dims) || len(size) != len(dims) {
		return NewError(ErrInvalidArgument,
			fmt.Sprintf("slab rank %d/%d does not match dataset rank %d", len(start), len(size), len(dims)), "")
	}
	for i := range dims {
		if start[i] < 0 || size[i] <= 0 {
			return NewError(ErrInvalidArgument, fmt.Sprintf("bad slab extent in dimension %d", i), "")
		}
		if i == 0 && grow {
			continue
		}
		if start[i]+size[i] > dims[i] {
			return NewError(ErrInvalidArgument,
				fmt.Sprintf("slab exceeds dimension %d (%d > %d)", i, start[i]+size[i], dims[i]), "")
		}
	}
	return nil
}

// slabRuns calls fn for every contiguous run of the slab, passing the
// offset in the full array, the offset in the slab buffer and the run
// length. Arrays are row major.
func slabRuns(dims, start, size []int64, fn func(full, part, n int64)) {
	rank := len(dims)
	if rank == 0 {
		fn(0, 0, 1)
		return
	}
	run := size[rank-1]
	idx := make([]int64, rank-1)
	var part int64
	for {
		var full int64
		for i := 0; i < rank; i++ {
			var at int64
			if i < rank-1 {
				at = start[i] + idx[i]
			} else {
				at = start[i]
			}
			full = full*dims[i] + at
		}
		fn(full, part, run)
		part += run

		i := rank - 2
		for ; i >= 0; i-- {
			idx[i]++
			if idx[i] < size[i] {
				break
			}
			idx[i] = 0
		}
		if i < 0 {
			return
		}
	}
}

// WriteSlab copies src into the hyperslab (start, size) of dst, whose
// shape is dims.
func WriteSlab(dst any, dims []int64, src any, start, size []int64) error {
	dv, sv := reflect.ValueOf(dst), reflect.ValueOf(src)
	if dv.Type() != sv.Type() {
		return NewError(ErrInvalidArgument, fmt.Sprintf("slab of %T written to %T", src, dst), "")
	}
	if int64(sv.Len()) < Elements(size) {
		return NewError(ErrInvalidArgument,
			fmt.Sprintf("slab buffer holds %d elements, need %d", sv.Len(), Elements(size)), "")
	}
	slabRuns(dims, start, size, func(full, part, n int64) {
		reflect.Copy(dv.Slice(int(full), int(full+n)), sv.Slice(int(part), int(part+n)))
	})
	return nil
}

// ReadSlab returns a new slice holding the hyperslab (start, size) of src,
// whose shape is dims.
func ReadSlab(src any, dims []int64, start, size []int64) (any, error) {
	sv := reflect.ValueOf(src)
	if sv.Kind() != reflect.Slice {
		return nil, NewError(ErrInvalidArgument, fmt.Sprintf("%T is not an array", src), "")
	}
	n := Elements(size)
	out := reflect.MakeSlice(sv.Type(), int(n), int(n))
	slabRuns(dims, start, size, func(full, part, n int64) {
		reflect.Copy(out.Slice(int(part), int(part+n)), sv.Slice(int(full), int(full+n)))
	})
	return out.Interface(), nil
}

// GrowFirst returns data reshaped for a first dimension of n, keeping the
// existing rows.
func GrowFirst(data any, dims []int64, n int64) (any, []int64) {
	next := append([]int64{n}, dims[1:]...)
	return Resize(data, int(Elements(next))), next
}

// ============================================================================
// Text Form
// ============================================================================

// FormatValues renders a typed slice of type t as one string per element.
// CHAR data is rendered as a single string; UINT8 data, which shares the
// []byte representation, is rendered element by element.
func FormatValues(t DataType, data any) []string {
	if b, ok := data.([]byte); ok && t == Char {
		return []string{string(b)}
	}
	v := reflect.ValueOf(data)
	if v.Kind() != reflect.Slice {
		return []string{fmt.Sprint(data)}
	}
	out := make([]string, v.Len())
	for i := range out {
		e := v.Index(i)
		switch e.Kind() {
		case reflect.Float32:
			out[i] = strconv.FormatFloat(e.Float(), 'g', -1, 32)
		case reflect.Float64:
			out[i] = strconv.FormatFloat(e.Float(), 'g', -1, 64)
		case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			out[i] = strconv.FormatInt(e.Int(), 10)
		default:
			out[i] = strconv.FormatUint(e.Uint(), 10)
		}
	}
	return out
}

// ParseValues is the inverse of FormatValues for numeric types.
func ParseValues(t DataType, fields []string) (any, error) {
	if t == Char {
		return []byte(strings.Join(fields, " ")), nil
	}
	out, err := Alloc(t, int64(len(fields)))
	if err != nil {
		return nil, err
	}
	v := reflect.ValueOf(out)
	bits := t.Size() * 8
	for i, f := range fields {
		e := v.Index(i)
		switch e.Kind() {
		case reflect.Float32, reflect.Float64:
			x, err := strconv.ParseFloat(f, bits)
			if err != nil {
				return nil, NewError(ErrInvalidArgument, err.Error(), "")
			}
			e.SetFloat(x)
		case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			x, err := strconv.ParseInt(f, 10, bits)
			if err != nil {
				return nil, NewError(ErrInvalidArgument, err.Error(), "")
			}
			e.SetInt(x)
		default:
			x, err := strconv.ParseUint(f, 10, bits)
			if err != nil {
				return nil, NewError(ErrInvalidArgument, err.Error(), "")
			}
			e.SetUint(x)
		}
	}
	return out, nil
}

// ParseScalar parses a single attribute value of type t.
func ParseScalar(t DataType, s string) (any, error) {
	if t == Char {
		return s, nil
	}
	vals, err := ParseValues(t, []string{s})
	if err != nil {
		return nil, err
	}
	return reflect.ValueOf(vals).Index(0).Interface(), nil
}
