package testing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/nxfs/pkg/backend"
)

// RunAttributeTests covers attribute storage and iteration.
func (suite *DriverTestSuite) RunAttributeTests(test *testing.T) {
	test.Run("GroupAndDatasetAttributes", func(t *testing.T) {
		drv, f, path := suite.create(t)
		ctx := context.Background()

		require.NoError(t, f.MakeGroup(ctx, "entry", "NXentry"))
		require.NoError(t, f.OpenGroup(ctx, "entry", ""))
		require.NoError(t, f.PutAttr(ctx, "title", "run 42", backend.Char))
		require.NoError(t, f.MakeData(ctx, "counts", backend.Int32, []int64{1}))
		require.NoError(t, f.OpenData(ctx, "counts"))
		require.NoError(t, f.PutAttr(ctx, "signal", 1, backend.Int32))
		require.NoError(t, f.PutAttr(ctx, "scale", 0.5, backend.Float64))

		g := reopen(t, drv, f, path, backend.ModeRead)
		require.NoError(t, g.OpenGroup(ctx, "entry", ""))
		a, err := g.GetAttr(ctx, "title")
		require.NoError(t, err)
		assert.Equal(t, "run 42", a.Value)
		assert.Equal(t, 6, a.Length)

		require.NoError(t, g.OpenData(ctx, "counts"))
		a, err = g.GetAttr(ctx, "signal")
		require.NoError(t, err)
		assert.Equal(t, int32(1), a.Value)
		assert.Equal(t, backend.Int32, a.Type)
		assert.Equal(t, 1, a.Length)

		a, err = g.GetAttr(ctx, "scale")
		require.NoError(t, err)
		assert.Equal(t, 0.5, a.Value)

		n, err := g.GetAttrInfo(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		assert.Equal(t, []string{"scale", "signal"}, listAttrs(t, g))
	})

	test.Run("MissingAttribute", func(t *testing.T) {
		_, f, _ := suite.create(t)
		_, err := f.GetAttr(context.Background(), "napimount")
		AssertErrorCode(t, backend.ErrNotFound, err)
	})

	test.Run("OverwriteAttribute", func(t *testing.T) {
		_, f, _ := suite.create(t)
		ctx := context.Background()
		require.NoError(t, f.PutAttr(ctx, "units", "mm", backend.Char))
		require.NoError(t, f.PutAttr(ctx, "units", "cm", backend.Char))
		a, err := f.GetAttr(ctx, "units")
		require.NoError(t, err)
		assert.Equal(t, "cm", a.Value)
	})

	test.Run("RootAttributeListing", func(t *testing.T) {
		_, f, _ := suite.create(t)
		assert.Equal(t, []string{"NeXus_version", "file_name", "file_time"}, listAttrs(t, f))
	})

	test.Run("RejectsArrays", func(t *testing.T) {
		_, f, _ := suite.create(t)
		err := f.PutAttr(context.Background(), "pair", []int32{1, 2}, backend.Int32)
		AssertErrorCode(t, backend.ErrInvalidArgument, err)
	})
}
