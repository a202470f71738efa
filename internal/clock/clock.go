// Package clock supplies the millisecond clock the rdp package depends on
// through its [rdp.Clock] interface: a real, wall-clock implementation for
// production and a virtual one a test can step by hand, the same pattern
// lneto/ntp uses to measure offsets against an injected reference rather
// than calling time.Now directly.
package clock

import "time"

// Wall reports elapsed milliseconds since it was constructed, backed by
// the real monotonic clock.
type Wall struct {
	start time.Time
}

// NewWall returns a Wall clock epoched at the current instant.
func NewWall() *Wall { return &Wall{start: time.Now()} }

// NowMs implements rdp.Clock.
func (w *Wall) NowMs() uint32 { return uint32(time.Since(w.start).Milliseconds()) }

// Virtual is a test clock advanced explicitly by calls to Advance, rather
// than by wall-clock time passing.
type Virtual struct {
	nowMs uint32
}

// NowMs implements rdp.Clock.
func (v *Virtual) NowMs() uint32 { return v.nowMs }

// Advance moves the virtual clock forward by deltaMs milliseconds.
func (v *Virtual) Advance(deltaMs uint32) { v.nowMs += deltaMs }

// Set pins the virtual clock to an absolute millisecond value, useful for
// constructing a test's initial conditions.
func (v *Virtual) Set(ms uint32) { v.nowMs = ms }
