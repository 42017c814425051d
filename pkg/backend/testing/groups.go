package testing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/nxfs/pkg/backend"
)

// RunLifecycleTests covers create, probe, reopen and read-only behavior.
func (suite *DriverTestSuite) RunLifecycleTests(test *testing.T) {
	test.Run("CreateWritesRootAttributes", func(t *testing.T) {
		_, f, path := suite.create(t)
		ctx := context.Background()

		a, err := f.GetAttr(ctx, "NeXus_version")
		require.NoError(t, err)
		assert.Equal(t, backend.Char, a.Type)
		assert.Equal(t, backend.Version, a.Value)

		a, err = f.GetAttr(ctx, "file_name")
		require.NoError(t, err)
		assert.Equal(t, path, a.Value)

		a, err = f.GetAttr(ctx, "file_time")
		require.NoError(t, err)
		assert.Regexp(t, `^\d{4}-\d\d-\d\dT\d\d:\d\d:\d\d[+-]\d\d:\d\d$`, a.Value)
	})

	test.Run("ProbeRecognizesOwnFiles", func(t *testing.T) {
		drv, f, path := suite.create(t)
		require.NoError(t, f.Flush(context.Background()))

		ok, err := drv.Probe(path)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	test.Run("ProbeMissingFile", func(t *testing.T) {
		drv := suite.NewDriver()
		_, err := drv.Probe(suite.path(t))
		assert.Error(t, err)
	})

	test.Run("OpenMissingFile", func(t *testing.T) {
		drv := suite.NewDriver()
		_, err := drv.Open(context.Background(), suite.path(t), backend.ModeRead)
		AssertErrorCode(t, backend.ErrNotFound, err)
	})

	test.Run("ContentSurvivesReopen", func(t *testing.T) {
		drv, f, path := suite.create(t)
		ctx := context.Background()
		require.NoError(t, f.MakeGroup(ctx, "entry", "NXentry"))

		g := reopen(t, drv, f, path, backend.ModeRead)
		entries := listEntries(t, g)
		require.Len(t, entries, 1)
		assert.Equal(t, backend.Entry{Name: "entry", Class: "NXentry"}, entries[0])
	})

	test.Run("ReadOnlyRejectsMutations", func(t *testing.T) {
		drv, f, path := suite.create(t)
		ctx := context.Background()
		require.NoError(t, f.MakeGroup(ctx, "entry", "NXentry"))

		g := reopen(t, drv, f, path, backend.ModeRead)
		AssertErrorCode(t, backend.ErrReadOnly, g.MakeGroup(ctx, "other", "NXentry"))
		AssertErrorCode(t, backend.ErrReadOnly, g.MakeData(ctx, "d", backend.Int32, []int64{1}))
		AssertErrorCode(t, backend.ErrReadOnly, g.PutAttr(ctx, "x", "y", backend.Char))
	})

	test.Run("OperationsAfterClose", func(t *testing.T) {
		_, f, _ := suite.create(t)
		ctx := context.Background()
		require.NoError(t, f.Close(ctx))
		AssertErrorCode(t, backend.ErrState, f.MakeGroup(ctx, "entry", "NXentry"))
	})
}

// RunGroupTests covers group creation, navigation and listing.
func (suite *DriverTestSuite) RunGroupTests(test *testing.T) {
	test.Run("MakeAndOpenGroup", func(t *testing.T) {
		_, f, _ := suite.create(t)
		ctx := context.Background()

		require.NoError(t, f.MakeGroup(ctx, "entry", "NXentry"))
		require.NoError(t, f.OpenGroup(ctx, "entry", "NXentry"))
		require.NoError(t, f.MakeGroup(ctx, "data", "NXdata"))

		info, err := f.GetGroupInfo(ctx)
		require.NoError(t, err)
		assert.Equal(t, backend.GroupInfo{Items: 1, Name: "entry", Class: "NXentry"}, info)

		require.NoError(t, f.CloseGroup(ctx))
		info, err = f.GetGroupInfo(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, info.Items)
		assert.Equal(t, backend.RootClass, info.Class)
	})

	test.Run("DuplicateGroup", func(t *testing.T) {
		_, f, _ := suite.create(t)
		ctx := context.Background()
		require.NoError(t, f.MakeGroup(ctx, "entry", "NXentry"))
		AssertErrorCode(t, backend.ErrAlreadyExists, f.MakeGroup(ctx, "entry", "NXentry"))
	})

	test.Run("OpenGroupWrongClass", func(t *testing.T) {
		_, f, _ := suite.create(t)
		ctx := context.Background()
		require.NoError(t, f.MakeGroup(ctx, "entry", "NXentry"))
		AssertErrorCode(t, backend.ErrNotFound, f.OpenGroup(ctx, "entry", "NXdata"))
		require.NoError(t, f.OpenGroup(ctx, "entry", ""))
	})

	test.Run("OpenMissingGroup", func(t *testing.T) {
		_, f, _ := suite.create(t)
		AssertErrorCode(t, backend.ErrNotFound, f.OpenGroup(context.Background(), "nope", ""))
	})

	test.Run("CloseGroupAtRoot", func(t *testing.T) {
		_, f, _ := suite.create(t)
		require.NoError(t, f.CloseGroup(context.Background()))
	})

	test.Run("ListingEndsWithEOD", func(t *testing.T) {
		_, f, _ := suite.create(t)
		ctx := context.Background()
		require.NoError(t, f.MakeGroup(ctx, "b", "NXdata"))
		require.NoError(t, f.MakeGroup(ctx, "a", "NXentry"))
		require.NoError(t, f.MakeData(ctx, "c", backend.Float64, []int64{2}))

		entries := listEntries(t, f)
		assert.Equal(t, []backend.Entry{
			{Name: "a", Class: "NXentry"},
			{Name: "b", Class: "NXdata"},
			{Name: "c", Class: backend.DatasetClass, Type: backend.Float64},
		}, entries)

		// After EOD the listing starts over.
		again := listEntries(t, f)
		assert.Equal(t, entries, again)
	})

	test.Run("GroupIDAtRoot", func(t *testing.T) {
		_, f, _ := suite.create(t)
		_, err := f.GetGroupID(context.Background())
		AssertErrorCode(t, backend.ErrNotFound, err)
	})

	test.Run("GroupIdentity", func(t *testing.T) {
		_, f, _ := suite.create(t)
		ctx := context.Background()
		require.NoError(t, f.MakeGroup(ctx, "a", "NXentry"))
		require.NoError(t, f.MakeGroup(ctx, "b", "NXentry"))

		require.NoError(t, f.OpenGroup(ctx, "a", ""))
		a1, err := f.GetGroupID(ctx)
		require.NoError(t, err)
		assert.Equal(t, "/a", a1.TargetPath)
		require.NoError(t, f.CloseGroup(ctx))

		require.NoError(t, f.OpenGroup(ctx, "b", ""))
		b, err := f.GetGroupID(ctx)
		require.NoError(t, err)
		require.NoError(t, f.CloseGroup(ctx))

		require.NoError(t, f.OpenGroup(ctx, "a", ""))
		a2, err := f.GetGroupID(ctx)
		require.NoError(t, err)

		assert.True(t, f.SameID(a1, a2))
		assert.False(t, f.SameID(a1, b))
	})
}
