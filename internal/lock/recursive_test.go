package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingObserver struct {
	mu       sync.Mutex
	holders  map[uint64]int
	overlaps int
	maxDepth int
}

func (o *countingObserver) Acquired(owner uint64, depth int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.holders == nil {
		o.holders = make(map[uint64]int)
	}
	o.holders[owner] = depth
	if len(o.holders) > 1 {
		o.overlaps++
	}
	if depth > o.maxDepth {
		o.maxDepth = depth
	}
}

func (o *countingObserver) Released(owner uint64, depth int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if depth == 0 {
		delete(o.holders, owner)
		return
	}
	o.holders[owner] = depth
}

func TestReentrantLock(t *testing.T) {
	obs := &countingObserver{}
	l := New(obs)

	ctx, err := l.Lock(context.Background())
	require.NoError(t, err)
	assert.True(t, l.Held(ctx))

	inner, err := l.Lock(ctx)
	require.NoError(t, err)
	assert.Equal(t, ctx, inner)

	require.NoError(t, l.Unlock(inner))
	assert.True(t, l.Held(ctx))
	require.NoError(t, l.Unlock(ctx))
	assert.False(t, l.Held(ctx))
	assert.Equal(t, 2, obs.maxDepth)

	assert.ErrorIs(t, l.Unlock(ctx), ErrNotOwner)
}

func TestUnlockWithoutOwnership(t *testing.T) {
	var l Recursive
	assert.ErrorIs(t, l.Unlock(context.Background()), ErrNotOwner)

	ctx, err := l.Lock(context.Background())
	require.NoError(t, err)
	assert.ErrorIs(t, l.Unlock(context.Background()), ErrNotOwner)
	require.NoError(t, l.Unlock(ctx))
}

func TestLockBlocksOtherContexts(t *testing.T) {
	var l Recursive
	ctx, err := l.Lock(context.Background())
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(waitCtx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	acquired := make(chan struct{})
	go func() {
		c, err := l.Lock(context.Background())
		if err == nil {
			close(acquired)
			_ = l.Unlock(c)
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second context acquired a held lock")
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, l.Unlock(ctx))
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired the released lock")
	}
}

func TestDerivedContextReenters(t *testing.T) {
	var l Recursive
	ctx, err := l.Lock(context.Background())
	require.NoError(t, err)

	child, cancel := context.WithCancel(ctx)
	defer cancel()
	_, err = l.Lock(child)
	require.NoError(t, err)
	require.NoError(t, l.Unlock(child))
	require.NoError(t, l.Unlock(ctx))
}

func TestConcurrentOwnersNeverOverlap(t *testing.T) {
	obs := &countingObserver{}
	l := New(obs)

	var inside atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				ctx, err := l.Lock(context.Background())
				if !assert.NoError(t, err) {
					return
				}
				assert.Equal(t, int32(1), inside.Add(1))
				nested, _ := l.Lock(ctx)
				_ = l.Unlock(nested)
				inside.Add(-1)
				assert.NoError(t, l.Unlock(ctx))
			}
		}()
	}
	wg.Wait()
	assert.Zero(t, obs.overlaps)
}
