package fits

import (
	"context"
	"fmt"
	"io"

	"github.com/astrogo/fitsio"

	"github.com/marmos91/nxfs/pkg/backend"
	"github.com/marmos91/nxfs/pkg/napi"
)

// Export writes the dataset at path as the primary image of a new FITS
// stream. Character and 64-bit unsigned datasets cannot be exported.
func Export(ctx context.Context, h *napi.Handle, path string, w io.Writer) error {
	if err := h.OpenPath(ctx, path); err != nil {
		return err
	}
	dims, dtype, err := h.GetRawInfo(ctx)
	if err != nil {
		return err
	}
	if dtype == backend.Char || dtype == backend.Uint64 {
		return fmt.Errorf("%w: %s at %s", ErrUnsupportedType, dtype, path)
	}
	data, err := h.GetData(ctx)
	if err != nil {
		return err
	}

	bitpix, pixels, cards, err := toImage(data)
	if err != nil {
		return fmt.Errorf("%w: %T at %s", err, data, path)
	}

	axes := make([]int, len(dims))
	for i, n := range dims {
		axes[len(dims)-1-i] = int(n)
	}

	f, err := fitsio.Create(w)
	if err != nil {
		return fmt.Errorf("fits: create: %w", err)
	}
	defer f.Close()

	img := fitsio.NewImage(bitpix, axes)
	defer img.Close()

	cards = append(cards, fitsio.Card{Name: "EXTNAME", Value: path, Comment: "NeXus dataset"})
	if err := img.Header().Append(cards...); err != nil {
		return fmt.Errorf("fits: header: %w", err)
	}
	if err := img.Write(pixels); err != nil {
		return fmt.Errorf("fits: write: %w", err)
	}
	return f.Write(img)
}

// toImage picks the FITS representation of data. Unsigned 16 and 32 bit
// values are stored signed with the matching BZERO offset.
func toImage(data any) (int, any, []fitsio.Card, error) {
	switch v := data.(type) {
	case []uint8:
		return 8, v, nil, nil
	case []int8:
		return 16, widen(v), nil, nil
	case []int16:
		return 16, v, nil, nil
	case []uint16:
		out := make([]int16, len(v))
		for i, x := range v {
			out[i] = int16(x ^ 0x8000)
		}
		return 16, out, []fitsio.Card{{Name: "BZERO", Value: 32768}, {Name: "BSCALE", Value: 1.0}}, nil
	case []int32:
		return 32, v, nil, nil
	case []uint32:
		out := make([]int32, len(v))
		for i, x := range v {
			out[i] = int32(x ^ 0x80000000)
		}
		return 32, out, []fitsio.Card{{Name: "BZERO", Value: 2147483648}, {Name: "BSCALE", Value: 1.0}}, nil
	case []int64:
		return 64, v, nil, nil
	case []float32:
		return -32, v, nil, nil
	case []float64:
		return -64, v, nil, nil
	}
	return 0, nil, nil, ErrUnsupportedType
}

func widen(v []int8) []int16 {
	out := make([]int16, len(v))
	for i, x := range v {
		out[i] = int16(x)
	}
	return out
}
