// Package report implements the error reporting side channel of the NeXus
// API.
//
// Failures are returned as errors and additionally handed to a Reporter as
// a human-readable line. A Sink has one global Channel and honors a
// per-context override installed with WithChannel, so a caller can route
// the messages of its own calls elsewhere without affecting other
// goroutines.
package report

import (
	"context"
	"fmt"
	"sync"

	"github.com/marmos91/nxfs/internal/logger"
)

// Reporter receives error messages.
type Reporter interface {
	Report(msg string)
}

// Func adapts a plain function to Reporter.
type Func func(msg string)

// Report calls f(msg).
func (f Func) Report(msg string) { f(msg) }

// Discard drops every message.
var Discard Reporter = Func(func(string) {})

// Log writes messages through the process logger at error level.
var Log Reporter = Func(func(msg string) {
	logger.Error("%s", msg)
})

// ============================================================================
// Channel
// ============================================================================

// Channel holds the active reporter and a single save slot used by
// Disable and Enable.
//
// Thread Safety: safe for concurrent use.
type Channel struct {
	mu      sync.Mutex
	current Reporter
	saved   Reporter
}

// NewChannel returns a channel delivering to r. A nil r discards.
func NewChannel(r Reporter) *Channel {
	if r == nil {
		r = Discard
	}
	return &Channel{current: r}
}

// Set installs r as the active reporter.
func (c *Channel) Set(r Reporter) {
	if r == nil {
		r = Discard
	}
	c.mu.Lock()
	c.current = r
	c.mu.Unlock()
}

// Reporter returns the active reporter.
func (c *Channel) Reporter() Reporter {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Report delivers msg to the active reporter. The reporter runs without
// the channel's mutex held.
func (c *Channel) Report(msg string) {
	c.Reporter().Report(msg)
}

// Disable saves the active reporter and installs Discard. A second Disable
// overwrites the save slot.
func (c *Channel) Disable() {
	c.mu.Lock()
	c.saved = c.current
	c.current = Discard
	c.mu.Unlock()
}

// Enable restores the reporter saved by the last Disable.
func (c *Channel) Enable() {
	c.mu.Lock()
	if c.saved != nil {
		c.current = c.saved
		c.saved = nil
	}
	c.mu.Unlock()
}

// Suppress silences the channel until the returned function is called.
// Unlike Disable it keeps its own save slot, so guards nest:
//
//	defer ch.Suppress()()
func (c *Channel) Suppress() (restore func()) {
	c.mu.Lock()
	prev := c.current
	c.current = Discard
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			c.current = prev
			c.mu.Unlock()
		})
	}
}

// ============================================================================
// Sink
// ============================================================================

type ctxKey struct{}

// WithChannel returns a context whose reports go to ch instead of the
// sink's global channel.
func WithChannel(ctx context.Context, ch *Channel) context.Context {
	return context.WithValue(ctx, ctxKey{}, ch)
}

// Sink dispatches reports to the context-local channel when one is set and
// to the global channel otherwise.
type Sink struct {
	global *Channel
}

// NewSink returns a sink whose global channel delivers to r.
func NewSink(r Reporter) *Sink {
	return &Sink{global: NewChannel(r)}
}

var defaultSink = NewSink(Log)

// Default returns the process-wide sink, which logs through the process
// logger.
func Default() *Sink {
	return defaultSink
}

// Global returns the sink's global channel.
func (s *Sink) Global() *Channel {
	return s.global
}

// Channel returns the channel that reports made with ctx go to.
func (s *Sink) Channel(ctx context.Context) *Channel {
	if ch, ok := ctx.Value(ctxKey{}).(*Channel); ok && ch != nil {
		return ch
	}
	return s.global
}

func (s *Sink) Report(ctx context.Context, msg string) {
	s.Channel(ctx).Report(msg)
}

func (s *Sink) Reportf(ctx context.Context, format string, args ...any) {
	s.Channel(ctx).Report(fmt.Sprintf(format, args...))
}

// discard is the channel behind Sink.Suppress. It never changes.
var discard = NewChannel(Discard)

// Suppress returns a context whose reports are dropped. Only calls made
// with the returned context are silenced; the sink's channels are left
// untouched, so concurrent callers sharing the sink keep reporting.
func (s *Sink) Suppress(ctx context.Context) context.Context {
	return WithChannel(ctx, discard)
}
