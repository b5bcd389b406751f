package appendbuf

import "unicode/utf8"

// Slice is (owner, start, end) with start <= end <= owner.Len(). The
// byte range it addresses must be valid UTF-8. A Slice is cheap to
// copy and remains valid after the owner grows, since reads resolve
// through the owner rather than a captured byte slice.
type Slice struct {
	owner *Buf
	start int
	end   int
}

// Empty returns a zero-length Slice bound to owner at its current end.
func Empty(owner *Buf) Slice {
	n := owner.Len()
	return Slice{owner: owner, start: n, end: n}
}

// Start returns the slice's starting byte offset in the owner.
func (s Slice) Start() int { return s.start }

// End returns the slice's ending byte offset in the owner.
func (s Slice) End() int { return s.end }

// Len returns the slice's length in bytes.
func (s Slice) Len() int { return s.end - s.start }

// IsEmpty reports whether the slice addresses zero bytes.
func (s Slice) IsEmpty() bool { return s.start == s.end }

// Owner returns the Buf this slice was constructed from.
func (s Slice) Owner() *Buf { return s.owner }

// AsBytes resolves the slice against the owner's current storage.
func (s Slice) AsBytes() []byte {
	if s.owner == nil {
		return nil
	}
	return s.owner.bytes(s.start, s.end)
}

// AsString resolves the slice and reinterprets it as a string. The
// UTF-8 validity of the range is a structural invariant maintained by
// callers (piecetable never constructs a Slice that splits a code
// point).
func (s Slice) AsString() string {
	return string(s.AsBytes())
}

// WithEnd returns a copy of s with a new end offset. Used by editor.Client
// to extend or shrink its own active piece.
func (s Slice) WithEnd(end int) Slice {
	s.end = end
	return s
}

// Subslice returns the sub-range [start,end) of s, measured relative
// to s.start.
func (s Slice) Subslice(start, end int) Slice {
	return Slice{owner: s.owner, start: s.start + start, end: s.start + end}
}

// Chars returns a finite, restartable iterator over the Unicode code
// points in s. Cloning the returned CharIter (it is a plain value
// type) yields an independent cursor over the same snapshot.
func (s Slice) Chars() CharIter {
	return CharIter{data: s.AsBytes()}
}

// CharIter walks the code points of a decoded byte snapshot. It
// advances by the UTF-8 length of each decoded rune.
type CharIter struct {
	data []byte
	pos  int
}

// Next returns the next code point and true, or (0, false) at the end
// of the snapshot.
func (c *CharIter) Next() (rune, bool) {
	if c.pos >= len(c.data) {
		return 0, false
	}
	r, size := utf8.DecodeRune(c.data[c.pos:])
	c.pos += size
	return r, true
}
