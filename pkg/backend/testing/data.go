package testing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/nxfs/pkg/backend"
)

// RunDataTests covers dataset creation, whole and slab I/O.
func (suite *DriverTestSuite) RunDataTests(test *testing.T) {
	test.Run("RoundTripAllTypes", func(t *testing.T) {
		drv, f, path := suite.create(t)
		ctx := context.Background()

		values := map[string]struct {
			dtype backend.DataType
			data  any
		}{
			"i8":  {backend.Int8, []int8{-1, 2, 3}},
			"u8":  {backend.Uint8, []uint8{1, 2, 255}},
			"i16": {backend.Int16, []int16{-300, 0, 300}},
			"u16": {backend.Uint16, []uint16{0, 1, 65535}},
			"i32": {backend.Int32, []int32{-70000, 1, 70000}},
			"u32": {backend.Uint32, []uint32{0, 1, 4000000000}},
			"i64": {backend.Int64, []int64{-1 << 40, 0, 1 << 40}},
			"u64": {backend.Uint64, []uint64{0, 1, 1 << 63}},
			"f32": {backend.Float32, []float32{-1.5, 0, 2.25}},
			"f64": {backend.Float64, []float64{-1e-9, 0, 3.14159}},
			"chr": {backend.Char, []byte("abc")},
		}
		for name, v := range values {
			require.NoError(t, f.MakeData(ctx, name, v.dtype, []int64{3}), name)
			require.NoError(t, f.OpenData(ctx, name))
			require.NoError(t, f.PutData(ctx, v.data), name)
			require.NoError(t, f.CloseData(ctx))
		}

		g := reopen(t, drv, f, path, backend.ModeRead)
		for name, v := range values {
			require.NoError(t, g.OpenData(ctx, name))
			got, err := g.GetData(ctx)
			require.NoError(t, err, name)
			assert.Equal(t, v.data, got, name)

			dims, dtype, err := g.GetInfo(ctx)
			require.NoError(t, err)
			assert.Equal(t, []int64{3}, dims)
			assert.Equal(t, v.dtype, dtype)
			require.NoError(t, g.CloseData(ctx))
		}
	})

	test.Run("CharDataPaddedToDeclaredLength", func(t *testing.T) {
		_, f, _ := suite.create(t)
		ctx := context.Background()
		require.NoError(t, f.MakeData(ctx, "title", backend.Char, []int64{20}))
		require.NoError(t, f.OpenData(ctx, "title"))
		require.NoError(t, f.PutData(ctx, "  hello   "))

		got, err := f.GetData(ctx)
		require.NoError(t, err)
		b := got.([]byte)
		require.Len(t, b, 20)
		assert.Equal(t, "  hello   ", string(b[:10]))
	})

	test.Run("WrongSliceType", func(t *testing.T) {
		_, f, _ := suite.create(t)
		ctx := context.Background()
		require.NoError(t, f.MakeData(ctx, "d", backend.Int32, []int64{2}))
		require.NoError(t, f.OpenData(ctx, "d"))
		AssertErrorCode(t, backend.ErrInvalidArgument, f.PutData(ctx, []float64{1, 2}))
	})

	test.Run("InvalidShape", func(t *testing.T) {
		_, f, _ := suite.create(t)
		ctx := context.Background()
		AssertErrorCode(t, backend.ErrInvalidArgument, f.MakeData(ctx, "d", backend.Int32, nil))
		AssertErrorCode(t, backend.ErrInvalidArgument, f.MakeData(ctx, "d", backend.Int32, []int64{2, -1}))
		AssertErrorCode(t, backend.ErrInvalidArgument, f.MakeData(ctx, "d", backend.DataType(99), []int64{2}))
	})

	test.Run("SlabReadWrite", func(t *testing.T) {
		_, f, _ := suite.create(t)
		ctx := context.Background()
		require.NoError(t, f.MakeData(ctx, "m", backend.Int32, []int64{3, 4}))
		require.NoError(t, f.OpenData(ctx, "m"))

		require.NoError(t, f.PutSlab(ctx, []int32{1, 2, 3, 4}, []int64{1, 1}, []int64{2, 2}))

		all, err := f.GetData(ctx)
		require.NoError(t, err)
		assert.Equal(t, []int32{
			0, 0, 0, 0,
			0, 1, 2, 0,
			0, 3, 4, 0,
		}, all)

		part, err := f.GetSlab(ctx, []int64{2, 0}, []int64{1, 3})
		require.NoError(t, err)
		assert.Equal(t, []int32{0, 3, 4}, part)

		_, err = f.GetSlab(ctx, []int64{2, 0}, []int64{2, 1})
		AssertErrorCode(t, backend.ErrInvalidArgument, err)
	})

	test.Run("UnlimitedDimensionGrows", func(t *testing.T) {
		_, f, _ := suite.create(t)
		ctx := context.Background()
		require.NoError(t, f.MakeData(ctx, "scan", backend.Float64, []int64{backend.Unlimited, 2}))
		require.NoError(t, f.OpenData(ctx, "scan"))

		dims, _, err := f.GetInfo(ctx)
		require.NoError(t, err)
		assert.Equal(t, []int64{0, 2}, dims)

		for i := int64(0); i < 3; i++ {
			row := []float64{float64(i), float64(i) * 10}
			require.NoError(t, f.PutSlab(ctx, row, []int64{i, 0}, []int64{1, 2}))
		}

		dims, _, err = f.GetInfo(ctx)
		require.NoError(t, err)
		assert.Equal(t, []int64{3, 2}, dims)

		all, err := f.GetData(ctx)
		require.NoError(t, err)
		assert.Equal(t, []float64{0, 0, 1, 10, 2, 20}, all)
	})

	test.Run("CompressionIsRecorded", func(t *testing.T) {
		_, f, _ := suite.create(t)
		ctx := context.Background()
		require.NoError(t, f.CompMakeData(ctx, "c", backend.Uint16, []int64{4, 4}, backend.CompLZW, []int64{2, 4}))
		require.NoError(t, f.OpenData(ctx, "c"))
		require.NoError(t, f.Compress(ctx, backend.CompHUF))
		require.NoError(t, f.PutData(ctx, make([]uint16, 16)))
	})

	test.Run("DataIDRequiresOpenDataset", func(t *testing.T) {
		_, f, _ := suite.create(t)
		ctx := context.Background()
		_, err := f.GetDataID(ctx)
		AssertErrorCode(t, backend.ErrNotFound, err)

		require.NoError(t, f.MakeData(ctx, "d", backend.Int8, []int64{1}))
		require.NoError(t, f.OpenData(ctx, "d"))
		id, err := f.GetDataID(ctx)
		require.NoError(t, err)
		assert.Equal(t, backend.LinkData, id.Kind)
		assert.Equal(t, "/d", id.TargetPath)
	})

	test.Run("CloseDataWithoutOpen", func(t *testing.T) {
		_, f, _ := suite.create(t)
		AssertErrorCode(t, backend.ErrState, f.CloseData(context.Background()))
	})
}
