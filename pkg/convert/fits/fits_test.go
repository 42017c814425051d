package fits

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/astrogo/fitsio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/nxfs/pkg/backend"
	kv "github.com/marmos91/nxfs/pkg/backend/badger"
	"github.com/marmos91/nxfs/pkg/napi"
	"github.com/marmos91/nxfs/pkg/registry"
	"github.com/marmos91/nxfs/pkg/report"
)

func newHandle(t *testing.T) *napi.Handle {
	t.Helper()
	api := napi.New(napi.Options{
		Registry: registry.Default(kv.Options{BlockCacheSize: 1 << 20, IndexCacheSize: 1 << 20}),
		Sink:     report.NewSink(report.Discard),
	})
	h, err := api.Open(context.Background(), filepath.Join(t.TempDir(), "out.yaml"), napi.CreateYAML)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close(context.Background()) })
	return h
}

// writeImage builds a single-image FITS stream.
func writeImage(t *testing.T, bitpix int, axes []int, pixels any, cards ...fitsio.Card) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	f, err := fitsio.Create(&buf)
	require.NoError(t, err)
	img := fitsio.NewImage(bitpix, axes)
	require.NoError(t, img.Header().Append(cards...))
	require.NoError(t, img.Write(pixels))
	require.NoError(t, f.Write(img))
	require.NoError(t, img.Close())
	require.NoError(t, f.Close())
	return &buf
}

func TestImportReversesAxes(t *testing.T) {
	ctx := context.Background()
	h := newHandle(t)
	src := writeImage(t, -32, []int{3, 2}, []float32{1, 2, 3, 4, 5, 6},
		fitsio.Card{Name: "DATE-OBS", Value: "2024-01-02"},
		fitsio.Card{Name: "EXPTIME", Value: 1.5},
		fitsio.Card{Name: "NCOMBINE", Value: 4},
	)

	sum, err := Import(ctx, h, src, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"/entry/image0"}, sum.Images)

	require.NoError(t, h.OpenPath(ctx, "/entry/image0/data"))
	dims, dtype, err := h.GetInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3}, dims)
	assert.Equal(t, backend.Float32, dtype)

	data, err := h.GetData(ctx)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6}, data)

	require.NoError(t, h.OpenPath(ctx, ".."))
	a, err := h.GetAttr(ctx, "DATE_OBS")
	require.NoError(t, err)
	assert.Equal(t, "2024-01-02", a.Value)
	a, err = h.GetAttr(ctx, "EXPTIME")
	require.NoError(t, err)
	assert.Equal(t, 1.5, a.Value)
	a, err = h.GetAttr(ctx, "signal")
	require.NoError(t, err)
	assert.Equal(t, "data", a.Value)

	_, err = h.GetAttr(ctx, "BITPIX")
	assert.Error(t, err, "structural cards are not copied")
}

func TestImportScaling(t *testing.T) {
	ctx := context.Background()

	t.Run("UnsignedOffset", func(t *testing.T) {
		h := newHandle(t)
		src := writeImage(t, 16, []int{3}, []int16{-32768, 0, 32767},
			fitsio.Card{Name: "BZERO", Value: 32768}, fitsio.Card{Name: "BSCALE", Value: 1.0})
		_, err := Import(ctx, h, src, Options{Entry: "scan"})
		require.NoError(t, err)

		require.NoError(t, h.OpenPath(ctx, "/scan/image0/data"))
		data, err := h.GetData(ctx)
		require.NoError(t, err)
		assert.Equal(t, []uint16{0, 32768, 65535}, data)
	})

	t.Run("Linear", func(t *testing.T) {
		h := newHandle(t)
		src := writeImage(t, 16, []int{2}, []int16{1, 2},
			fitsio.Card{Name: "BZERO", Value: 10}, fitsio.Card{Name: "BSCALE", Value: 0.5})
		_, err := Import(ctx, h, src, Options{SkipHeader: true})
		require.NoError(t, err)

		require.NoError(t, h.OpenPath(ctx, "/entry/image0/data"))
		data, err := h.GetData(ctx)
		require.NoError(t, err)
		assert.Equal(t, []float64{10.5, 11}, data)
	})
}

func TestExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := newHandle(t)
	require.NoError(t, src.MakeGroup(ctx, "entry", "NXentry"))
	require.NoError(t, src.OpenGroup(ctx, "entry", ""))
	require.NoError(t, src.MakeData(ctx, "counts", backend.Uint16, []int64{2, 3}))
	require.NoError(t, src.OpenData(ctx, "counts"))
	require.NoError(t, src.PutData(ctx, []uint16{0, 1, 2, 40000, 50000, 65535}))

	var buf bytes.Buffer
	require.NoError(t, Export(ctx, src, "/entry/counts", &buf))

	dst := newHandle(t)
	sum, err := Import(ctx, dst, &buf, Options{})
	require.NoError(t, err)
	require.Len(t, sum.Images, 1)

	require.NoError(t, dst.OpenPath(ctx, sum.Images[0]+"/data"))
	dims, dtype, err := dst.GetInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3}, dims)
	assert.Equal(t, backend.Uint16, dtype)
	data, err := dst.GetData(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint16{0, 1, 2, 40000, 50000, 65535}, data)

	require.NoError(t, dst.OpenPath(ctx, sum.Images[0]))
	a, err := dst.GetAttr(ctx, "EXTNAME")
	require.NoError(t, err)
	assert.Equal(t, "/entry/counts", a.Value)
}

func TestExportRejectsCharacterData(t *testing.T) {
	ctx := context.Background()
	h := newHandle(t)
	require.NoError(t, h.MakeData(ctx, "title", backend.Char, []int64{8}))
	require.NoError(t, h.OpenData(ctx, "title"))
	require.NoError(t, h.PutData(ctx, "run"))

	var buf bytes.Buffer
	assert.ErrorIs(t, Export(ctx, h, "/title", &buf), ErrUnsupportedType)
}

func TestAttrName(t *testing.T) {
	assert.Equal(t, "DATE_OBS", AttrName("DATE-OBS"))
	assert.Equal(t, "EXPTIME", AttrName("EXPTIME"))
	assert.Equal(t, "HIERARCH_ESO_DET", AttrName("HIERARCH ESO.DET"))
}
