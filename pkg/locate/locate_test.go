package locate

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/nxfs/pkg/backend"
	"github.com/marmos91/nxfs/pkg/backend/xmlfile"
	"github.com/marmos91/nxfs/pkg/backend/yamlfile"
)

func withEnv(l *Locator, env map[string]string) *Locator {
	l.lookupEnv = func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
	return l
}

func touch(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

type fakeRemote struct {
	files map[string]string
	err   error
	calls []string
}

func (f *fakeRemote) Resolve(_ context.Context, entry, name string) (string, bool, error) {
	f.calls = append(f.calls, entry+"|"+name)
	if f.err != nil {
		return "", false, f.err
	}
	p, ok := f.files[name]
	return p, ok, nil
}

func TestFindPrefersNameAsGiven(t *testing.T) {
	dir := t.TempDir()
	name := filepath.Join(dir, "direct.nxs")
	touch(t, name, "x")

	l := withEnv(New(""), map[string]string{DefaultEnv: t.TempDir()})
	assert.Equal(t, name, l.Find(context.Background(), name))
}

func TestFindSearchesLoadPathInOrder(t *testing.T) {
	first, second := t.TempDir(), t.TempDir()
	touch(t, filepath.Join(second, "scan.nxs"), "x")
	touch(t, filepath.Join(first, "other.nxs"), "x")

	path := first + string(os.PathListSeparator) + string(os.PathListSeparator) + second
	l := withEnv(New("MY_PATH"), map[string]string{"MY_PATH": path})
	assert.Equal(t, "MY_PATH", l.Env())
	assert.Equal(t, filepath.Join(second, "scan.nxs"), l.Find(context.Background(), "scan.nxs"))
	assert.Equal(t, filepath.Join(first, "other.nxs"), l.Find(context.Background(), "other.nxs"))
}

func TestFindReturnsNameUnchangedOnMiss(t *testing.T) {
	l := withEnv(New(""), map[string]string{DefaultEnv: t.TempDir()})
	assert.Equal(t, "missing.nxs", l.Find(context.Background(), "missing.nxs"))

	l = withEnv(New(""), nil)
	assert.Equal(t, "missing.nxs", l.Find(context.Background(), "missing.nxs"))
}

func TestFindConsultsRemotes(t *testing.T) {
	cached := filepath.Join(t.TempDir(), "remote.nxs")
	remote := &fakeRemote{files: map[string]string{"remote.nxs": cached}}

	path := "s3://bucket/runs" + string(os.PathListSeparator) + "ftp://nowhere"
	l := withEnv(New(""), map[string]string{DefaultEnv: path})
	l.AddRemote("S3", remote)

	assert.Equal(t, cached, l.Find(context.Background(), "remote.nxs"))
	assert.Equal(t, "absent.nxs", l.Find(context.Background(), "absent.nxs"))
	assert.Equal(t, []string{"s3://bucket/runs|remote.nxs", "s3://bucket/runs|absent.nxs"}, remote.calls)

	remote.err = errors.New("boom")
	assert.Equal(t, "remote.nxs", l.Find(context.Background(), "remote.nxs"))
}

func TestSplitLoadPath(t *testing.T) {
	sep := string(os.PathListSeparator)
	got := SplitLoadPath("/data" + sep + "s3://bucket/runs" + sep + "" + sep + "ftp://host/x" + sep + "/more")
	assert.Equal(t, []string{"/data", "s3://bucket/runs", "", "ftp://host/x", "/more"}, got)

	if os.PathListSeparator == ':' {
		// A plain directory named like a scheme stays a directory.
		assert.Equal(t, []string{"s3", "/abs"}, SplitLoadPath("s3:/abs"))
	}
}

func TestDetect(t *testing.T) {
	dir := t.TempDir()
	drivers := []backend.Driver{yamlfile.New(), xmlfile.New()}

	y := filepath.Join(dir, "a.yaml")
	touch(t, y, "%YAML 1.2\n---\n")
	d, err := Detect(drivers, y)
	require.NoError(t, err)
	assert.Equal(t, backend.FamilyYAML, d.Family())

	x := filepath.Join(dir, "a.xml")
	touch(t, x, "<?xml version=\"1.0\"?>\n<NXroot/>\n")
	d, err = Detect(drivers, x)
	require.NoError(t, err)
	assert.Equal(t, backend.FamilyXML, d.Family())

	txt := filepath.Join(dir, "notes.txt")
	touch(t, txt, "hello\n")
	_, err = Detect(drivers, txt)
	assert.ErrorIs(t, err, ErrUnrecognized)

	_, err = Detect(drivers, filepath.Join(dir, "none"))
	assert.ErrorIs(t, err, ErrUnreadable)
}
