package testing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/nxfs/pkg/backend"
)

// RunLinkTests covers internal links.
func (suite *DriverTestSuite) RunLinkTests(test *testing.T) {
	test.Run("LinkDataset", func(t *testing.T) {
		drv, f, path := suite.create(t)
		ctx := context.Background()

		require.NoError(t, f.MakeGroup(ctx, "entry", "NXentry"))
		require.NoError(t, f.OpenGroup(ctx, "entry", ""))
		require.NoError(t, f.MakeData(ctx, "counts", backend.Int32, []int64{2}))
		require.NoError(t, f.OpenData(ctx, "counts"))
		require.NoError(t, f.PutData(ctx, []int32{7, 8}))
		target, err := f.GetDataID(ctx)
		require.NoError(t, err)
		require.NoError(t, f.CloseData(ctx))

		require.NoError(t, f.MakeGroup(ctx, "data", "NXdata"))
		require.NoError(t, f.OpenGroup(ctx, "data", ""))
		require.NoError(t, f.MakeLink(ctx, target))
		require.NoError(t, f.MakeNamedLink(ctx, "alias", target))
		AssertErrorCode(t, backend.ErrAlreadyExists, f.MakeNamedLink(ctx, "alias", target))

		g := reopen(t, drv, f, path, backend.ModeRead)
		require.NoError(t, g.OpenGroup(ctx, "entry", ""))
		require.NoError(t, g.OpenGroup(ctx, "data", ""))
		assert.Len(t, listEntries(t, g), 2)

		require.NoError(t, g.OpenData(ctx, "alias"))
		got, err := g.GetData(ctx)
		require.NoError(t, err)
		assert.Equal(t, []int32{7, 8}, got)

		a, err := g.GetAttr(ctx, "target")
		require.NoError(t, err)
		assert.Equal(t, "/entry/counts", a.Value)

		viaLink, err := g.GetDataID(ctx)
		require.NoError(t, err)
		require.NoError(t, g.CloseData(ctx))
		require.NoError(t, g.OpenData(ctx, "counts"))
		viaName, err := g.GetDataID(ctx)
		require.NoError(t, err)
		assert.True(t, g.SameID(viaLink, viaName))
	})

	test.Run("LinkGroup", func(t *testing.T) {
		_, f, _ := suite.create(t)
		ctx := context.Background()

		require.NoError(t, f.MakeGroup(ctx, "sample", "NXsample"))
		require.NoError(t, f.OpenGroup(ctx, "sample", ""))
		target, err := f.GetGroupID(ctx)
		require.NoError(t, err)
		require.NoError(t, f.CloseGroup(ctx))

		require.NoError(t, f.MakeGroup(ctx, "entry", "NXentry"))
		require.NoError(t, f.OpenGroup(ctx, "entry", ""))
		require.NoError(t, f.MakeLink(ctx, target))
		require.NoError(t, f.OpenGroup(ctx, "sample", "NXsample"))

		a, err := f.GetAttr(ctx, "target")
		require.NoError(t, err)
		assert.Equal(t, "/sample", a.Value)

		s, err := f.PrintLink(ctx, target)
		require.NoError(t, err)
		assert.Contains(t, s, "/sample")
	})
}

// RunOptionalTests checks that optional operations either work or report
// ErrNotSupported.
func (suite *DriverTestSuite) RunOptionalTests(test *testing.T) {
	test.Run("Reopen", func(t *testing.T) {
		_, f, _ := suite.create(t)
		ctx := context.Background()
		g, err := f.Reopen(ctx)
		if !suite.Native {
			AssertErrorCode(t, backend.ErrNotSupported, err)
			return
		}
		require.NoError(t, err)
		defer func() { _ = g.Close(ctx) }()

		require.NoError(t, f.MakeGroup(ctx, "entry", "NXentry"))
		require.NoError(t, g.OpenGroup(ctx, "entry", ""))
	})

	test.Run("NativeInquireFile", func(t *testing.T) {
		_, f, path := suite.create(t)
		name, err := f.NativeInquireFile(context.Background())
		if !suite.Native {
			AssertErrorCode(t, backend.ErrNotSupported, err)
			return
		}
		require.NoError(t, err)
		assert.Equal(t, path, name)
	})

	test.Run("NativeExternalLink", func(t *testing.T) {
		_, f, _ := suite.create(t)
		ctx := context.Background()
		link := backend.ExternalLink{Name: "ext", Class: "NXentry", File: "other.nxs", Path: "/entry"}
		err := f.NativeExternalLink(ctx, link)
		if !suite.Native {
			AssertErrorCode(t, backend.ErrNotSupported, err)
			_, err = f.NativeIsExternalLink(ctx, "ext")
			AssertErrorCode(t, backend.ErrNotSupported, err)
			return
		}
		require.NoError(t, err)

		url, err := f.NativeIsExternalLink(ctx, "ext")
		require.NoError(t, err)
		assert.Equal(t, "nxfile://other.nxs#/entry", url)

		require.NoError(t, f.OpenGroup(ctx, "ext", "NXentry"))
		a, err := f.GetAttr(ctx, "napimount")
		require.NoError(t, err)
		assert.Equal(t, url, a.Value)
		require.NoError(t, f.CloseGroup(ctx))

		require.NoError(t, f.MakeGroup(ctx, "plain", "NXentry"))
		_, err = f.NativeIsExternalLink(ctx, "plain")
		AssertErrorCode(t, backend.ErrNotFound, err)
	})
}
