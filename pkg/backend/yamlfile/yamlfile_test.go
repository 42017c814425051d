package yamlfile_test

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/nxfs/pkg/backend"
	backendtesting "github.com/marmos91/nxfs/pkg/backend/testing"
	"github.com/marmos91/nxfs/pkg/backend/yamlfile"
)

func TestDriver(t *testing.T) {
	suite := &backendtesting.DriverTestSuite{
		NewDriver: func() backend.Driver { return yamlfile.New() },
		FileName:  "test.yaml",
	}
	suite.Run(t)
}

func TestProbe(t *testing.T) {
	dir := t.TempDir()
	drv := yamlfile.New()

	cases := map[string]struct {
		content string
		want    bool
	}{
		"directive": {"%YAML 1.2\n---\nclass: NXroot\n", true},
		"marker":    {yamlfile.Marker + "\nclass: NXroot\n", true},
		"xml":       {"<?xml version=\"1.0\"?>\n<NXroot/>\n", false},
		"empty":     {"", false},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			require.NoError(t, os.WriteFile(path, []byte(tc.content), 0o644))
			ok, err := drv.Probe(path)
			require.NoError(t, err)
			assert.Equal(t, tc.want, ok)
		})
	}
}

func TestNonFiniteValuesRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nan.yaml")
	drv := yamlfile.New()

	f, err := drv.Open(ctx, path, backend.ModeCreate)
	require.NoError(t, err)
	require.NoError(t, f.MakeData(ctx, "v", backend.Float64, []int64{3}))
	require.NoError(t, f.OpenData(ctx, "v"))
	require.NoError(t, f.PutData(ctx, []float64{math.NaN(), math.Inf(1), math.Inf(-1)}))
	require.NoError(t, f.PutAttr(ctx, "note", ".nan", backend.Char))
	require.NoError(t, f.Close(ctx))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "[.nan, .inf, -.inf]")

	f, err = drv.Open(ctx, path, backend.ModeRead)
	require.NoError(t, err)
	defer func() { _ = f.Close(ctx) }()
	require.NoError(t, f.OpenData(ctx, "v"))
	got, err := f.GetData(ctx)
	require.NoError(t, err)
	v := got.([]float64)
	assert.True(t, math.IsNaN(v[0]))
	assert.True(t, math.IsInf(v[1], 1))
	assert.True(t, math.IsInf(v[2], -1))

	a, err := f.GetAttr(ctx, "note")
	require.NoError(t, err)
	assert.Equal(t, ".nan", a.Value)
}

func TestHandWrittenDocument(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "hand.yaml")
	doc := `%YAML 1.2
---
class: NXroot
children:
  - name: entry
    class: NXentry
    children:
      - {name: counts, type: INT32, dims: [3], values: [1, 2, 3]}
      - {name: alias, link: /entry/counts}
      - {name: short, type: FLOAT32, dims: [4], values: [1.5]}
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	f, err := yamlfile.New().Open(ctx, path, backend.ModeRead)
	require.NoError(t, err)
	defer func() { _ = f.Close(ctx) }()

	require.NoError(t, f.OpenGroup(ctx, "entry", "NXentry"))
	require.NoError(t, f.OpenData(ctx, "alias"))
	got, err := f.GetData(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int32{1, 2, 3}, got)

	require.NoError(t, f.OpenData(ctx, "short"))
	got, err = f.GetData(ctx)
	require.NoError(t, err)
	assert.Equal(t, []float32{1.5, 0, 0, 0}, got)
}

func TestDanglingLink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	doc := "#NXYAML 1.0\nclass: NXroot\nchildren:\n  - {name: alias, link: /nowhere}\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	_, err := yamlfile.New().Open(context.Background(), path, backend.ModeRead)
	backendtesting.AssertErrorCode(t, backend.ErrIO, err)
}

func TestValuesSurviveReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "reopen.yaml")
	drv := yamlfile.New()

	f, err := drv.Open(ctx, path, backend.ModeCreate)
	require.NoError(t, err)
	require.NoError(t, f.MakeGroup(ctx, "entry", "NXentry"))
	require.NoError(t, f.OpenGroup(ctx, "entry", "NXentry"))
	require.NoError(t, f.PutAttr(ctx, "title", "run 7", backend.Char))

	put := func(name string, dtype backend.DataType, dims []int64, data any) {
		require.NoError(t, f.MakeData(ctx, name, dtype, dims))
		require.NoError(t, f.OpenData(ctx, name))
		require.NoError(t, f.PutData(ctx, data))
		require.NoError(t, f.CloseData(ctx))
	}
	put("counts", backend.Int32, []int64{2}, []int32{1, 2})
	put("mask", backend.Uint8, []int64{3}, []uint8{1, 2, 250})
	put("label", backend.Char, []int64{5}, []byte("hello"))
	require.NoError(t, f.MakeData(ctx, "empty", backend.Int16, []int64{2}))
	require.NoError(t, f.Close(ctx))

	f, err = drv.Open(ctx, path, backend.ModeRead)
	require.NoError(t, err)
	defer func() { _ = f.Close(ctx) }()

	require.NoError(t, f.OpenGroup(ctx, "entry", "NXentry"))
	a, err := f.GetAttr(ctx, "title")
	require.NoError(t, err)
	assert.Equal(t, "run 7", a.Value)

	get := func(name string) any {
		require.NoError(t, f.OpenData(ctx, name))
		defer func() { require.NoError(t, f.CloseData(ctx)) }()
		got, err := f.GetData(ctx)
		require.NoError(t, err)
		return got
	}
	assert.Equal(t, []int32{1, 2}, get("counts"))
	assert.Equal(t, []uint8{1, 2, 250}, get("mask"))
	assert.Equal(t, []byte("hello"), get("label"))
	assert.Equal(t, []int16{0, 0}, get("empty"))
}
