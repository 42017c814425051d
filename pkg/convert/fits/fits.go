// Package fits converts between FITS images and NeXus datasets.
//
// FITS stores the fastest varying axis first (NAXIS1), NeXus stores it
// last, so dimensions are reversed in both directions. Integer images
// with the standard unsigned offsets (BZERO 32768 for 16 bit, 2^31 for
// 32 bit) map to unsigned NeXus types; any other BZERO/BSCALE turns the
// image into FLOAT64.
package fits

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/astrogo/fitsio"

	"github.com/marmos91/nxfs/internal/logger"
	"github.com/marmos91/nxfs/pkg/backend"
	"github.com/marmos91/nxfs/pkg/napi"
)

// ErrUnsupportedType is returned when a dataset type has no FITS image
// equivalent.
var ErrUnsupportedType = errors.New("fits: unsupported data type")

// structural cards are implied by the image itself and not copied.
var structural = map[string]bool{
	"SIMPLE": true, "BITPIX": true, "NAXIS": true, "EXTEND": true,
	"BZERO": true, "BSCALE": true, "END": true, "XTENSION": true,
	"PCOUNT": true, "GCOUNT": true, "COMMENT": true, "HISTORY": true,
}

// Options controls an import.
type Options struct {
	// Entry is the NXentry group created at the file root.
	// Default: "entry"
	Entry string

	// SkipHeader leaves FITS header cards out of the group attributes.
	SkipHeader bool
}

// Summary reports what an import wrote.
type Summary struct {
	// Images lists the NXdata groups created, one per image HDU.
	Images []string

	// Skipped counts HDUs without image data, including tables.
	Skipped int
}

// Import reads every image HDU of r into h. Each image becomes an NXdata
// group under /<entry> holding a "data" dataset. Header cards become
// attributes of the group.
func Import(ctx context.Context, h *napi.Handle, r io.Reader, opts Options) (*Summary, error) {
	if opts.Entry == "" {
		opts.Entry = "entry"
	}

	f, err := fitsio.Open(r)
	if err != nil {
		return nil, fmt.Errorf("fits: open: %w", err)
	}
	defer f.Close()

	if err := h.OpenPath(ctx, "/"); err != nil {
		return nil, err
	}
	if err := h.MakeGroup(ctx, opts.Entry, "NXentry"); err != nil {
		return nil, err
	}
	if err := h.OpenGroup(ctx, opts.Entry, "NXentry"); err != nil {
		return nil, err
	}

	sum := &Summary{}
	for i, hdu := range f.HDUs() {
		img, ok := hdu.(fitsio.Image)
		if !ok || len(hdu.Header().Axes()) == 0 {
			logger.Debug("fits: skipping HDU %d (%v)", i, hdu.Type())
			sum.Skipped++
			continue
		}
		name := fmt.Sprintf("image%d", len(sum.Images))
		if err := importImage(ctx, h, name, img, opts); err != nil {
			return sum, fmt.Errorf("fits: HDU %d: %w", i, err)
		}
		sum.Images = append(sum.Images, "/"+opts.Entry+"/"+name)
	}
	return sum, h.CloseGroup(ctx)
}

func importImage(ctx context.Context, h *napi.Handle, name string, img fitsio.Image, opts Options) error {
	hdr := img.Header()
	axes := hdr.Axes()

	data, err := readPixels(img, hdr.Bitpix(), elements(axes))
	if err != nil {
		return err
	}
	data, dtype := applyScaling(data, cardFloat(hdr, "BZERO", 0), cardFloat(hdr, "BSCALE", 1))

	dims := make([]int64, len(axes))
	for i, n := range axes {
		dims[len(axes)-1-i] = int64(n)
	}

	if err := h.MakeGroup(ctx, name, "NXdata"); err != nil {
		return err
	}
	if err := h.OpenGroup(ctx, name, "NXdata"); err != nil {
		return err
	}
	if err := h.PutAttr(ctx, "signal", "data", backend.Char); err != nil {
		return err
	}
	if !opts.SkipHeader {
		if err := copyHeader(ctx, h, hdr); err != nil {
			return err
		}
	}
	if err := h.MakeData(ctx, "data", dtype, dims); err != nil {
		return err
	}
	if err := h.OpenData(ctx, "data"); err != nil {
		return err
	}
	if err := h.PutData(ctx, data); err != nil {
		return err
	}
	if err := h.CloseData(ctx); err != nil {
		return err
	}
	return h.CloseGroup(ctx)
}

func elements(axes []int) int {
	n := 1
	for _, a := range axes {
		n *= a
	}
	return n
}

// readPixels reads the raw image values in the Go type fitsio uses for
// bitpix.
func readPixels(img fitsio.Image, bitpix, n int) (any, error) {
	var err error
	switch bitpix {
	case 8:
		v := make([]uint8, n)
		err = img.Read(&v)
		return v, err
	case 16:
		v := make([]int16, n)
		err = img.Read(&v)
		return v, err
	case 32:
		v := make([]int32, n)
		err = img.Read(&v)
		return v, err
	case 64:
		v := make([]int64, n)
		err = img.Read(&v)
		return v, err
	case -32:
		v := make([]float32, n)
		err = img.Read(&v)
		return v, err
	case -64:
		v := make([]float64, n)
		err = img.Read(&v)
		return v, err
	}
	return nil, fmt.Errorf("unknown BITPIX %d", bitpix)
}

// applyScaling converts raw values to physical ones.
func applyScaling(raw any, bzero, bscale float64) (any, backend.DataType) {
	switch v := raw.(type) {
	case []int16:
		if bzero == 1<<15 && bscale == 1 {
			out := make([]uint16, len(v))
			for i, x := range v {
				out[i] = uint16(x) ^ 0x8000
			}
			return out, backend.Uint16
		}
	case []int32:
		if bzero == 1<<31 && bscale == 1 {
			out := make([]uint32, len(v))
			for i, x := range v {
				out[i] = uint32(x) ^ 0x80000000
			}
			return out, backend.Uint32
		}
	}

	dtype := typeOf(raw)
	if bzero == 0 && bscale == 1 {
		return raw, dtype
	}
	out := floats(raw)
	for i, x := range out {
		out[i] = bzero + bscale*x
	}
	return out, backend.Float64
}

func typeOf(raw any) backend.DataType {
	switch raw.(type) {
	case []uint8:
		return backend.Uint8
	case []int16:
		return backend.Int16
	case []int32:
		return backend.Int32
	case []int64:
		return backend.Int64
	case []float32:
		return backend.Float32
	}
	return backend.Float64
}

// copyHeader writes the non-structural cards of hdr as attributes of the
// current group.
func copyHeader(ctx context.Context, h *napi.Handle, hdr *fitsio.Header) error {
	for _, key := range hdr.Keys() {
		if key == "" || structural[key] || strings.HasPrefix(key, "NAXIS") {
			continue
		}
		card := hdr.Get(key)
		if card == nil {
			continue
		}
		value, dtype, ok := attrValue(card.Value)
		if !ok {
			logger.Debug("fits: skipping card %s of type %T", key, card.Value)
			continue
		}
		if err := h.PutAttr(ctx, AttrName(key), value, dtype); err != nil {
			return err
		}
	}
	return nil
}

func attrValue(v any) (any, backend.DataType, bool) {
	switch x := v.(type) {
	case string:
		return x, backend.Char, true
	case bool:
		if x {
			return "T", backend.Char, true
		}
		return "F", backend.Char, true
	case int:
		return int64(x), backend.Int64, true
	case int64:
		return x, backend.Int64, true
	case float64:
		return x, backend.Float64, true
	case float32:
		return float64(x), backend.Float64, true
	}
	return nil, 0, false
}

// AttrName maps a FITS keyword to a valid NeXus name: "DATE-OBS" becomes
// "DATE_OBS".
func AttrName(key string) string {
	b := []byte(key)
	for i, c := range b {
		if !napi.ValidName(string(c), false) {
			b[i] = '_'
		}
	}
	if len(b) > backend.MaxNameLen {
		b = b[:backend.MaxNameLen]
	}
	return string(b)
}

func cardFloat(hdr *fitsio.Header, key string, def float64) float64 {
	card := hdr.Get(key)
	if card == nil {
		return def
	}
	if f, ok := numeric(card.Value); ok {
		return f
	}
	return def
}

func numeric(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case float64:
		return x, true
	case float32:
		return float64(x), true
	}
	return 0, false
}

func floats(raw any) []float64 {
	switch v := raw.(type) {
	case []uint8:
		return convert(v)
	case []int16:
		return convert(v)
	case []int32:
		return convert(v)
	case []int64:
		return convert(v)
	case []float32:
		return convert(v)
	case []float64:
		return append([]float64(nil), v...)
	}
	return nil
}

func convert[T uint8 | int16 | int32 | int64 | float32](v []T) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
