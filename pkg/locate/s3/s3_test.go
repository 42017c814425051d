package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/nxfs/pkg/locate"
)

type fakeClient struct {
	objects map[string][]byte
	gets    int
	headErr error
}

func (c *fakeClient) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if c.headErr != nil {
		return nil, c.headErr
	}
	data, ok := c.objects[*in.Bucket+"/"+*in.Key]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(data)))}, nil
}

func (c *fakeClient) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	c.gets++
	data, ok := c.objects[*in.Bucket+"/"+*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func TestParseEntry(t *testing.T) {
	b, p, err := ParseEntry("s3://runs/2024/cycle1/")
	require.NoError(t, err)
	assert.Equal(t, "runs", b)
	assert.Equal(t, "2024/cycle1", p)

	b, p, err = ParseEntry("s3://runs")
	require.NoError(t, err)
	assert.Equal(t, "runs", b)
	assert.Empty(t, p)

	_, _, err = ParseEntry("s3:///x")
	assert.Error(t, err)
	_, _, err = ParseEntry("/local/dir")
	assert.Error(t, err)
}

func TestResolveDownloadsOnHit(t *testing.T) {
	content := []byte("%YAML 1.2\n---\n")
	client := &fakeClient{objects: map[string][]byte{"runs/cycle1/scan.yaml": content}}
	cache := t.TempDir()
	f := NewFetcher(client, cache)

	p, ok, err := f.Resolve(context.Background(), "s3://runs/cycle1", "scan.yaml")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(cache, "runs", "cycle1", "scan.yaml"), p)

	got, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	// Second resolve hits the cache.
	_, ok, err = f.Resolve(context.Background(), "s3://runs/cycle1", "scan.yaml")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, client.gets)
}

func TestResolveMiss(t *testing.T) {
	f := NewFetcher(&fakeClient{objects: map[string][]byte{}}, t.TempDir())
	_, ok, err := f.Resolve(context.Background(), "s3://runs", "absent.yaml")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResolveFailure(t *testing.T) {
	f := NewFetcher(&fakeClient{headErr: errors.New("access denied")}, t.TempDir())
	_, ok, err := f.Resolve(context.Background(), "s3://runs", "scan.yaml")
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestLocatorIntegration(t *testing.T) {
	client := &fakeClient{objects: map[string][]byte{"runs/scan.xml": []byte("<?xml version=\"1.0\"?>\n")}}
	f := NewFetcher(client, t.TempDir())

	t.Setenv("NXFS_TEST_LOAD_PATH", "s3://runs")
	l := locate.New("NXFS_TEST_LOAD_PATH")
	l.AddRemote(Scheme, f)

	p := l.Find(context.Background(), "scan.xml")
	assert.Equal(t, filepath.Join(f.CacheDir(), "runs", "scan.xml"), p)
}

func TestResolveRateLimited(t *testing.T) {
	client := &fakeClient{objects: map[string][]byte{"runs/scan.yaml": []byte("x")}}
	f := NewFetcher(client, t.TempDir())
	f.SetRateLimit(0.01, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, ok, err := f.Resolve(ctx, "s3://runs", "scan.yaml")
	assert.Error(t, err)
	assert.False(t, ok)
	assert.Zero(t, client.gets)

	f.SetRateLimit(0, 0)
	_, ok, err = f.Resolve(context.Background(), "s3://runs", "scan.yaml")
	require.NoError(t, err)
	assert.True(t, ok)
}
