package napi

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/nxfs/pkg/backend"
)

func TestStripCharacterData(t *testing.T) {
	api, _ := newTestAPI(t, Options{})
	path := writeFile(t, api, "strip.yaml", CreateYAML)
	ctx := context.Background()

	t.Run("Default", func(t *testing.T) {
		h := create(t, api, path, Read)
		require.NoError(t, h.OpenPath(ctx, "/entry/title"))

		got, err := h.GetData(ctx)
		require.NoError(t, err)
		assert.Equal(t, []byte("hello"), got)

		dims, dtype, err := h.GetInfo(ctx)
		require.NoError(t, err)
		assert.Equal(t, backend.Char, dtype)
		assert.Equal(t, []int64{5}, dims)

		raw, _, err := h.GetRawInfo(ctx)
		require.NoError(t, err)
		assert.Equal(t, []int64{20}, raw)
	})

	t.Run("NoStrip", func(t *testing.T) {
		h := create(t, api, path, Read|NoStrip)
		require.NoError(t, h.OpenPath(ctx, "/entry/title"))

		got, err := h.GetData(ctx)
		require.NoError(t, err)
		b := got.([]byte)
		require.Len(t, b, 20)
		assert.Equal(t, "  hello   ", string(b[:10]))

		dims, _, err := h.GetInfo(ctx)
		require.NoError(t, err)
		assert.Equal(t, []int64{20}, dims)
	})
}

func TestNameChecking(t *testing.T) {
	api, msgs := newTestAPI(t, Options{})
	ctx := context.Background()

	t.Run("Enabled", func(t *testing.T) {
		h := create(t, api, filepath.Join(t.TempDir(), "strict.yaml"), CreateYAML|CheckNameSyntax)
		msgs.reset()

		assertCode(t, ErrMalformed, h.MakeGroup(ctx, "bad name!", "NXentry"))
		assert.Equal(t, []string{`ERROR: invalid characters in group name "bad name!"`}, msgs.all())
		assertCode(t, ErrMalformed, h.MakeData(ctx, "two-theta", backend.Int32, []int64{1}))
		assertCode(t, ErrMalformed, h.CompMakeData(ctx, "a-b", backend.Int32, []int64{1}, backend.CompLZW, []int64{1}))
		assertCode(t, ErrMalformed, h.PutAttr(ctx, "x y", "v", backend.Char))

		// Nothing was created.
		info, err := h.GetGroupInfo(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, info.Items)

		// A group without a class is not checked.
		require.NoError(t, h.MakeGroup(ctx, "free form", ""))
		require.NoError(t, h.MakeGroup(ctx, "_ok9", "NXentry"))
	})

	t.Run("Disabled", func(t *testing.T) {
		h := create(t, api, filepath.Join(t.TempDir(), "lax.yaml"), CreateYAML)
		require.NoError(t, h.MakeGroup(ctx, "bad name!", "NXentry"))
	})
}

func TestPutAttrRejectsNumericArrays(t *testing.T) {
	api, msgs := newTestAPI(t, Options{})
	h := create(t, api, filepath.Join(t.TempDir(), "attrs.yaml"), CreateYAML)
	ctx := context.Background()
	msgs.reset()

	assertCode(t, ErrMalformed, h.PutAttr(ctx, "pair", []int32{1, 2}, backend.Int32))
	assert.Equal(t, []string{"ERROR: numeric arrays are not allowed as attributes, only character strings and single numbers"}, msgs.all())

	require.NoError(t, h.PutAttr(ctx, "one", []int32{7}, backend.Int32))
	require.NoError(t, h.PutAttr(ctx, "units", "mm", backend.Char))
}

func TestGetAttrCutsAtNUL(t *testing.T) {
	api, _ := newTestAPI(t, Options{})
	h := create(t, api, filepath.Join(t.TempDir(), "nul.yaml"), CreateYAML)
	ctx := context.Background()

	require.NoError(t, h.PutAttr(ctx, "label", "abc\x00junk", backend.Char))
	a, err := h.GetAttr(ctx, "label")
	require.NoError(t, err)
	assert.Equal(t, "abc", a.Value)
	assert.Equal(t, 3, a.Length)
}

func TestListingReturnsEOD(t *testing.T) {
	api, msgs := newTestAPI(t, Options{})
	path := writeFile(t, api, "list.yaml", CreateYAML)
	h := create(t, api, path, Read)
	ctx := context.Background()
	msgs.reset()

	require.NoError(t, h.OpenPath(ctx, "/entry"))
	require.NoError(t, h.InitGroupDir(ctx))
	var names []string
	for {
		ent, err := h.GetNextEntry(ctx)
		if errors.Is(err, ErrEOD) {
			break
		}
		require.NoError(t, err)
		names = append(names, ent.Name)
	}
	assert.Equal(t, []string{"data", "sample", "title"}, names)

	require.NoError(t, h.InitAttrDir(ctx))
	for {
		_, err := h.GetNextAttr(ctx)
		if errors.Is(err, ErrEOD) {
			break
		}
		require.NoError(t, err)
	}
	assert.Empty(t, msgs.all(), "end of listing is not an error")
}

func TestGroupIDAtRootIsNotReported(t *testing.T) {
	api, msgs := newTestAPI(t, Options{})
	h := create(t, api, filepath.Join(t.TempDir(), "ids.yaml"), CreateYAML)
	ctx := context.Background()
	msgs.reset()

	_, err := h.GetGroupID(ctx)
	assertCode(t, ErrNotFound, err)
	_, err = h.GetDataID(ctx)
	assertCode(t, ErrNotFound, err)
	assert.Empty(t, msgs.all())

	require.NoError(t, h.MakeGroup(ctx, "a", "NXentry"))
	require.NoError(t, h.OpenGroup(ctx, "a", ""))
	a1, err := h.GetGroupID(ctx)
	require.NoError(t, err)
	require.NoError(t, h.OpenPath(ctx, "/a"))
	a2, err := h.GetGroupID(ctx)
	require.NoError(t, err)
	assert.True(t, h.SameID(ctx, a1, a2))

	s, err := h.PrintLink(ctx, a1)
	require.NoError(t, err)
	assert.Contains(t, s, "/a")
}

func TestCloseMarksHandleClosed(t *testing.T) {
	api, msgs := newTestAPI(t, Options{})
	h, err := api.Open(context.Background(), filepath.Join(t.TempDir(), "c.yaml"), CreateYAML)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, h.Close(ctx))
	assert.True(t, h.Closed())
	assert.Equal(t, -1, h.Depth(ctx))

	msgs.reset()
	assertCode(t, ErrClosed, h.MakeGroup(ctx, "x", "NXentry"))
	assertCode(t, ErrClosed, h.Close(ctx))
	_, err = h.GetPath(ctx)
	assertCode(t, ErrClosed, err)
	assert.Equal(t, "ERROR: handle is closed", msgs.all()[0])
}

func TestDepthWhenLockUnavailable(t *testing.T) {
	api, msgs := newTestAPI(t, Options{})
	ctx := context.Background()
	h := create(t, api, filepath.Join(t.TempDir(), "d.yaml"), CreateYAML)
	require.NoError(t, h.MakeGroup(ctx, "entry", "NXentry"))
	require.NoError(t, h.OpenGroup(ctx, "entry", "NXentry"))

	held, err := api.lock.Lock(ctx)
	require.NoError(t, err)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	msgs.reset()
	assert.Equal(t, -1, h.Depth(cancelled))
	require.Len(t, msgs.all(), 1)
	assert.Contains(t, msgs.all()[0], "depth")

	require.NoError(t, api.lock.Unlock(held))
	assert.Equal(t, 1, h.Depth(ctx))
}

func TestInquireFile(t *testing.T) {
	api, _ := newTestAPI(t, Options{})
	ctx := context.Background()

	yamlPath := filepath.Join(t.TempDir(), "q.yaml")
	h := create(t, api, yamlPath, CreateYAML)
	name, err := h.InquireFile(ctx)
	require.NoError(t, err)
	assert.Equal(t, yamlPath, name)

	kvPath := filepath.Join(t.TempDir(), "q.nxkv")
	k := create(t, api, kvPath, CreateKV)
	name, err = k.InquireFile(ctx)
	require.NoError(t, err)
	assert.Equal(t, kvPath, name)
}

func TestSetNumberFormat(t *testing.T) {
	api, msgs := newTestAPI(t, Options{})
	ctx := context.Background()
	msgs.reset()

	y := create(t, api, filepath.Join(t.TempDir(), "n.yaml"), CreateYAML)
	require.NoError(t, y.SetNumberFormat(ctx, backend.Float64, "%.3f"), "ignored by backends without text numbers")

	x := create(t, api, filepath.Join(t.TempDir(), "n.xml"), CreateXML)
	require.NoError(t, x.SetNumberFormat(ctx, backend.Float64, "%.3f"))
	assert.Empty(t, msgs.all())
}

func TestReopen(t *testing.T) {
	api, _ := newTestAPI(t, Options{})
	ctx := context.Background()

	k := create(t, api, filepath.Join(t.TempDir(), "r.nxkv"), CreateKV)
	k2, err := k.Reopen(ctx)
	require.NoError(t, err)
	defer func() { _ = k2.Close(ctx) }()

	require.NoError(t, k.MakeGroup(ctx, "entry", "NXentry"))
	require.NoError(t, k2.OpenGroup(ctx, "entry", ""))
	got, err := k2.GetPath(ctx)
	require.NoError(t, err)
	assert.Equal(t, "/entry", got)
	other, err := k.GetPath(ctx)
	require.NoError(t, err)
	assert.Equal(t, "/", other, "handles keep separate positions")

	y := create(t, api, filepath.Join(t.TempDir(), "r.yaml"), CreateYAML)
	_, err = y.Reopen(ctx)
	assertCode(t, ErrUnsupported, err)
}

func TestFlushPersists(t *testing.T) {
	api, _ := newTestAPI(t, Options{})
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "f.yaml")

	h := create(t, api, path, CreateYAML)
	require.NoError(t, h.MakeGroup(ctx, "entry", "NXentry"))
	require.NoError(t, h.Flush(ctx))

	r := create(t, api, path, Read)
	require.NoError(t, r.OpenGroup(ctx, "entry", "NXentry"))
}

func TestConcurrentHandles(t *testing.T) {
	obs := &lockCounter{}
	api, _ := newTestAPI(t, Options{LockObserver: obs})
	path := writeFile(t, api, "shared.yaml", CreateYAML)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := api.Open(ctx, path, Read)
			if err != nil {
				errs <- err
				return
			}
			defer func() { _ = h.Close(ctx) }()
			for j := 0; j < 10; j++ {
				if err := h.OpenPath(ctx, "/entry/data/counts"); err != nil {
					errs <- err
					return
				}
				if _, err := h.GetData(ctx); err != nil {
					errs <- err
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Equal(t, 0, obs.held)
	assert.LessOrEqual(t, obs.maxOwners, 1)
	assert.Greater(t, obs.acquired, 0)
}

// lockCounter checks that one owner holds the API lock at a time.
type lockCounter struct {
	mu        sync.Mutex
	held      int
	owners    int
	maxOwners int
	acquired  int
}

func (c *lockCounter) Acquired(_ uint64, depth int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.acquired++
	if depth == 1 {
		c.owners++
		c.maxOwners = max(c.maxOwners, c.owners)
	}
	c.held++
}

func (c *lockCounter) Released(_ uint64, depth int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if depth == 0 {
		c.owners--
	}
	c.held--
}
