package rdp

// Value is a 16-bit RDP sequence number. Comparisons are unsigned modular
// (see DESIGN.md for the wraparound caveat this carries).
type Value uint16

// Size is a difference between two [Value]s, or a window size measured in
// sequence-number units.
type Size uint16

// Add returns v+sz with wraparound.
func Add(v Value, sz Size) Value { return v + Value(sz) }

// Sizeof returns the number of sequence numbers between a (exclusive) and b
// (inclusive), i.e. how many units must be added to a to reach b.
func Sizeof(a, b Value) Size { return Size(b - a) }

// LessThan returns true if v comes strictly before w in sequence space,
// using unsigned modular distance (half the sequence space is "behind").
func (v Value) LessThan(w Value) bool {
	return int16(v-w) < 0
}

// LessThanEq returns true if v comes at or before w in sequence space.
func (v Value) LessThanEq(w Value) bool {
	return v == w || v.LessThan(w)
}

// InWindow reports whether v lies in (start, start+wnd], the half-open-on-
// the-low-end acceptance window used for the sequence-number acceptance
// check (the ack-number check uses [Value.InRange]).
func (v Value) InWindow(start Value, wnd Size) bool {
	if wnd == 0 {
		return false
	}
	offset := Size(v - start)
	return offset > 0 && offset <= wnd
}

// InRange reports whether v lies in [lo, hi), the half-open range used for
// the ack-number acceptance check
// (`sndUna - 1 - 2·windowSize ≤ ack_nr < sndNxt`), where lo and hi may
// themselves wrap. Only meaningful for ranges spanning under half the
// sequence space, same caveat as [Value.LessThan].
func (v Value) InRange(lo, hi Value) bool {
	return Size(v-lo) < Size(hi-lo)
}
