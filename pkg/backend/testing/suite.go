package testing

import (
	"context"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/marmos91/nxfs/pkg/backend"
)

// DriverTestSuite is a conformance suite for backend.Driver implementations.
// It tests the operation table contract the NeXus core relies on, not
// implementation details, so every container family runs the same tests.
type DriverTestSuite struct {
	// NewDriver creates a fresh driver for each test.
	NewDriver func() backend.Driver

	// FileName is the container name used inside each test's temp dir.
	FileName string

	// Native is set for drivers implementing Reopen, NativeInquireFile and
	// native external links.
	Native bool
}

// Run executes all tests in the suite.
func (suite *DriverTestSuite) Run(test *testing.T) {
	test.Run("Lifecycle", suite.RunLifecycleTests)
	test.Run("Groups", suite.RunGroupTests)
	test.Run("Data", suite.RunDataTests)
	test.Run("Attributes", suite.RunAttributeTests)
	test.Run("Links", suite.RunLinkTests)
	test.Run("Optional", suite.RunOptionalTests)
}

// ============================================================================
// Helpers
// ============================================================================

func (suite *DriverTestSuite) path(t *testing.T) string {
	name := suite.FileName
	if name == "" {
		name = "test.nxs"
	}
	return filepath.Join(t.TempDir(), name)
}

// create makes a new container and closes it when the test ends.
func (suite *DriverTestSuite) create(t *testing.T) (backend.Driver, backend.File, string) {
	t.Helper()
	drv := suite.NewDriver()
	path := suite.path(t)
	f, err := drv.Open(context.Background(), path, backend.ModeCreate)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close(context.Background()) })
	return drv, f, path
}

// reopen closes f and opens path again with mode.
func reopen(t *testing.T, drv backend.Driver, f backend.File, path string, mode backend.Mode) backend.File {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.Close(ctx))
	g, err := drv.Open(ctx, path, mode)
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Close(context.Background()) })
	return g
}

// listEntries drains GetNextEntry and returns the entries sorted by name.
func listEntries(t *testing.T, f backend.File) []backend.Entry {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.InitGroupDir(ctx))
	var out []backend.Entry
	for {
		e, err := f.GetNextEntry(ctx)
		if err == backend.ErrEOD {
			break
		}
		require.NoError(t, err)
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// listAttrs drains GetNextAttr and returns the names sorted.
func listAttrs(t *testing.T, f backend.File) []string {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.InitAttrDir(ctx))
	var out []string
	for {
		a, err := f.GetNextAttr(ctx)
		if err == backend.ErrEOD {
			break
		}
		require.NoError(t, err)
		out = append(out, a.Name)
	}
	sort.Strings(out)
	return out
}

// AssertErrorCode checks that err is a backend error with the given code.
func AssertErrorCode(t *testing.T, expected backend.ErrorCode, err error, msgAndArgs ...any) {
	t.Helper()
	require.Error(t, err, msgAndArgs...)
	require.Equal(t, expected, backend.CodeOf(err), "unexpected error %v", err)
}
