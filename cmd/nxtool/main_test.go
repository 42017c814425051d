package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/nxfs/pkg/backend"
	kv "github.com/marmos91/nxfs/pkg/backend/badger"
	"github.com/marmos91/nxfs/pkg/config"
	"github.com/marmos91/nxfs/pkg/locate"
	"github.com/marmos91/nxfs/pkg/napi"
	"github.com/marmos91/nxfs/pkg/registry"
	"github.com/marmos91/nxfs/pkg/report"
)

func newTestEnv(t *testing.T) (*env, *bytes.Buffer) {
	t.Helper()
	api := napi.New(napi.Options{
		Registry:      registry.Default(kv.Options{BlockCacheSize: 1 << 20, IndexCacheSize: 1 << 20}),
		Locator:       locate.New("NXFS_TEST_UNSET_LOAD_PATH"),
		Sink:          report.NewSink(report.Discard),
		DefaultCreate: backend.FamilyYAML,
	})
	out := &bytes.Buffer{}
	return &env{api: api, cfg: config.GetDefaultConfig(), out: out}, out
}

// writeSample creates /entry(NXentry)/data(NXdata)/counts[2][3]int32.
func writeSample(t *testing.T, e *env, path string) {
	t.Helper()
	ctx := context.Background()
	h, err := e.api.Open(ctx, path, napi.CreateYAML)
	require.NoError(t, err)
	require.NoError(t, h.MakeGroup(ctx, "entry", "NXentry"))
	require.NoError(t, h.OpenGroup(ctx, "entry", "NXentry"))
	require.NoError(t, h.MakeGroup(ctx, "data", "NXdata"))
	require.NoError(t, h.OpenGroup(ctx, "data", "NXdata"))
	require.NoError(t, h.MakeData(ctx, "counts", backend.Int32, []int64{2, 3}))
	require.NoError(t, h.OpenData(ctx, "counts"))
	require.NoError(t, h.PutData(ctx, []int32{1, 2, 3, 4, 5, 6}))
	require.NoError(t, h.PutAttr(ctx, "units", "counts", backend.Char))
	require.NoError(t, h.Close(ctx))
}

func TestMkfileAndInfo(t *testing.T) {
	e, out := newTestEnv(t)
	ctx := context.Background()
	dir := t.TempDir()

	for _, format := range []string{"kv", "yaml", "xml"} {
		t.Run(format, func(t *testing.T) {
			out.Reset()
			path := filepath.Join(dir, "empty."+format)
			require.NoError(t, runMkfile(ctx, e, []string{"-format", format, path}))
			require.NoError(t, runInfo(ctx, e, []string{path}))
			assert.Contains(t, out.String(), "backend: "+format)
			assert.Contains(t, out.String(), "entries: 0")
			assert.Contains(t, out.String(), "NeXus_version = ")
		})
	}

	err := runMkfile(ctx, e, []string{"-format", "hdf4", filepath.Join(dir, "x")})
	assert.ErrorContains(t, err, "unknown format")
}

func TestLsAndCat(t *testing.T) {
	e, out := newTestEnv(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sample.yaml")
	writeSample(t, e, path)

	require.NoError(t, runLs(ctx, e, []string{path}))
	assert.Equal(t, "entry/\tNXentry\n", out.String())

	out.Reset()
	require.NoError(t, runLs(ctx, e, []string{"-r", path}))
	assert.Equal(t, "entry/\tNXentry\n  data/\tNXdata\n    counts\tINT32\n", out.String())

	out.Reset()
	require.NoError(t, runLs(ctx, e, []string{path, "/entry/data"}))
	assert.Equal(t, "counts\tINT32\n", out.String())

	out.Reset()
	require.NoError(t, runCat(ctx, e, []string{path, "/entry/data/counts"}))
	assert.Equal(t, "INT32 [2 3]\n@units = counts\n[1 2 3 4 5 6]\n", out.String())

	err := runCat(ctx, e, []string{path, "/entry/nothing"})
	assert.Error(t, err)
}

func TestLinkFollowsMount(t *testing.T) {
	e, out := newTestEnv(t)
	ctx := context.Background()
	dir := t.TempDir()
	ext := filepath.Join(dir, "ext.yaml")
	top := filepath.Join(dir, "main.yaml")
	writeSample(t, e, ext)

	require.NoError(t, runMkfile(ctx, e, []string{top}))
	require.NoError(t, runLink(ctx, e, []string{top, "/", "scan", "nxfile://" + ext + "#/entry"}))
	require.NoError(t, runLink(ctx, e, []string{"-dataset", top, "/", "counts", "nxfile://" + ext + "#/entry/data/counts"}))

	require.NoError(t, runLs(ctx, e, []string{"-r", top}))
	assert.Contains(t, out.String(), "scan/\tNXentry\n  (mounted)\n  data/\tNXdata\n    counts\tINT32\n")

	out.Reset()
	require.NoError(t, runCat(ctx, e, []string{top, "/counts"}))
	assert.Contains(t, out.String(), "[1 2 3 4 5 6]")

	err := runLink(ctx, e, []string{top, "/", "bad", "http://elsewhere"})
	assert.ErrorIs(t, err, napi.ErrBadURL)
}

func TestFITSCommands(t *testing.T) {
	e, out := newTestEnv(t)
	ctx := context.Background()
	dir := t.TempDir()
	src := filepath.Join(dir, "sample.yaml")
	img := filepath.Join(dir, "counts.fits")
	dst := filepath.Join(dir, "copy.nxs")
	writeSample(t, e, src)

	require.NoError(t, runExportFITS(ctx, e, []string{src, "/entry/data/counts", img}))
	info, err := os.Stat(img)
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	require.NoError(t, runImportFITS(ctx, e, []string{"-format", "kv", "-skip-header", img, dst}))
	assert.Equal(t, "/entry/image0\n", out.String())

	out.Reset()
	require.NoError(t, runCat(ctx, e, []string{dst, "/entry/image0/data"}))
	assert.Contains(t, out.String(), "INT32 [2 3]")
	assert.Contains(t, out.String(), "[1 2 3 4 5 6]")
}

func TestInitCommand(t *testing.T) {
	e, out := newTestEnv(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nxfs", "config.yaml")

	require.NoError(t, runInit(ctx, e, []string{"-path", path}))
	assert.Contains(t, out.String(), path)
	_, err := config.Load(path)
	require.NoError(t, err)

	assert.Error(t, runInit(ctx, e, []string{"-path", path}))
	require.NoError(t, runInit(ctx, e, []string{"-force", "-path", path}))
}

func TestArgumentCounts(t *testing.T) {
	e, _ := newTestEnv(t)
	ctx := context.Background()
	for name, cmd := range commands {
		if name == "init" {
			continue
		}
		assert.ErrorIs(t, cmd.run(ctx, e, nil), errUsage, name)
	}
}
