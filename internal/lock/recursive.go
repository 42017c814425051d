// Package lock provides the re-entrant lock that serializes every backend
// call of a NeXus API instance.
//
// Go has no goroutine identity, so ownership travels in the context: Lock
// returns a context carrying an owner token, and any call made with that
// context (or one derived from it) re-enters without blocking. A context
// without the token waits for the current owner to release the lock.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

var (
	// ErrNotOwner is returned by Unlock when the context does not hold the lock.
	ErrNotOwner = errors.New("lock: unlock by a context that does not own the lock")

	// ErrUnbalanced is returned by Unlock when the owner already released
	// every acquisition.
	ErrUnbalanced = errors.New("lock: unlock without matching lock")
)

// Observer receives acquisition events. Owner identifies the token holding
// the lock, depth is the re-entrance depth after the event.
type Observer interface {
	Acquired(owner uint64, depth int)
	Released(owner uint64, depth int)
}

type token struct {
	id uint64
}

type ctxKey struct {
	l *Recursive
}

// Recursive is a re-entrant mutual exclusion lock. The zero value is ready
// to use; its internal state is created on first use.
//
// Thread Safety: safe for concurrent use.
type Recursive struct {
	once sync.Once
	sem  chan struct{}

	mu       sync.Mutex
	owner    *token
	depth    int
	observer Observer

	nextID atomic.Uint64
}

// New returns a lock reporting to observer, which may be nil.
func New(observer Observer) *Recursive {
	return &Recursive{observer: observer}
}

func (l *Recursive) init() {
	l.once.Do(func() {
		l.sem = make(chan struct{}, 1)
	})
}

// SetObserver replaces the observer.
func (l *Recursive) SetObserver(o Observer) {
	l.mu.Lock()
	l.observer = o
	l.mu.Unlock()
}

// Lock acquires the lock, or re-enters it when ctx already owns it. The
// returned context must be passed to Unlock and to nested calls. Waiting
// stops with an error when ctx is cancelled.
func (l *Recursive) Lock(ctx context.Context) (context.Context, error) {
	l.init()

	if tok, ok := ctx.Value(ctxKey{l}).(*token); ok {
		l.mu.Lock()
		if l.owner == tok {
			l.depth++
			depth, obs := l.depth, l.observer
			l.mu.Unlock()
			if obs != nil {
				obs.Acquired(tok.id, depth)
			}
			return ctx, nil
		}
		l.mu.Unlock()
	}

	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx, fmt.Errorf("lock: %w", ctx.Err())
	}

	tok := &token{id: l.nextID.Add(1)}
	l.mu.Lock()
	l.owner = tok
	l.depth = 1
	obs := l.observer
	l.mu.Unlock()
	if obs != nil {
		obs.Acquired(tok.id, 1)
	}
	return context.WithValue(ctx, ctxKey{l}, tok), nil
}

// Unlock releases one acquisition made with ctx.
func (l *Recursive) Unlock(ctx context.Context) error {
	l.init()

	tok, _ := ctx.Value(ctxKey{l}).(*token)
	l.mu.Lock()
	if tok == nil || l.owner != tok {
		l.mu.Unlock()
		return ErrNotOwner
	}
	if l.depth <= 0 {
		l.mu.Unlock()
		return ErrUnbalanced
	}
	l.depth--
	depth, obs := l.depth, l.observer
	if depth == 0 {
		l.owner = nil
	}
	l.mu.Unlock()

	if obs != nil {
		obs.Released(tok.id, depth)
	}
	if depth == 0 {
		<-l.sem
	}
	return nil
}

// Held reports whether ctx owns the lock.
func (l *Recursive) Held(ctx context.Context) bool {
	tok, _ := ctx.Value(ctxKey{l}).(*token)
	l.mu.Lock()
	defer l.mu.Unlock()
	return tok != nil && l.owner == tok
}
