// Package piecetable implements the ordered piece list that backs a
// document: a sequence of (buffer, byte range) references that
// together concatenate into the document's current text. Pieces
// referencing the original buffer are read-only; pieces referencing a
// client buffer grow in place while that client is in insert mode.
package piecetable

import (
	"errors"
	"sync"
	"unicode/utf8"

	"github.com/pieceserver/pieceserver/internal/appendbuf"
)

// ErrOutOfRange is returned when a requested logical offset exceeds
// the document's current character length.
var ErrOutOfRange = errors.New("piecetable: offset out of range")

// BufferID identifies which AppendBuf a piece's text is drawn from.
// 0 is reserved for the original (server-seeded) buffer; every client
// is assigned a distinct non-zero id when it joins the document.
type BufferID uint64

// OriginalBuffer is the reserved id of the read-only seed buffer.
const OriginalBuffer BufferID = 0

// Piece is one contiguous run of text, all drawn from a single
// buffer. Owner is nil for pieces in the original buffer; otherwise
// it names the client whose buffer backs the piece, which is also the
// only client allowed to extend it.
type Piece struct {
	ID    uint64
	Buf   BufferID
	Text  appendbuf.Slice
	Owner *uint64

	lock lock
}

// CharLen returns the piece's length measured in Unicode code points.
func (p *Piece) CharLen() int {
	return utf8.RuneCount(p.Text.AsBytes())
}

// TryRead acquires the piece's shared lock, per spec.md's per-piece
// reader/writer discipline. Use this (rather than reading Text
// directly) when a reader must not observe a torn write from a
// concurrently extending owner.
func (p *Piece) TryRead() (unlock func(), err error) { return p.lock.TryRead() }

// TryWrite acquires the piece's exclusive lock. editor.Client does not
// take it; its edits are serialized by the document mutex instead.
func (p *Piece) TryWrite() (unlock func(), err error) { return p.lock.TryWrite() }

// Table is the ordered piece list for one document. Structural
// changes (split, insert, swap) are serialized by Table's own mutex;
// this is a narrower lock than the document-wide edit mutex held by
// internal/session.Hub, kept here so the type is safe to unit-test in
// isolation. Piece content mutation is additionally governed by each
// Piece's own lock.
type Table struct {
	mu     sync.Mutex
	pieces []*Piece
	nextID uint64
}

// New returns a Table whose sole initial piece spans all of original
// (BufferID 0). If original is empty, the table starts with zero
// pieces.
func New(original *appendbuf.Buf) *Table {
	t := &Table{}
	n := original.Len()
	if n == 0 {
		return t
	}
	s, _ := original.Slice(0, n)
	t.pieces = append(t.pieces, &Piece{ID: t.allocID(), Buf: OriginalBuffer, Text: s})
	return t
}

func (t *Table) allocID() uint64 {
	t.nextID++
	return t.nextID
}

// Pieces returns a snapshot of the current piece list. Zero-length
// pieces are included; callers that walk document content (see
// internal/document) skip them, per spec.md's elision rule.
func (t *Table) Pieces() []*Piece {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Piece, len(t.pieces))
	copy(out, t.pieces)
	return out
}

// CharLen returns the document's total length in code points.
func (t *Table) CharLen() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	total := 0
	for _, p := range t.pieces {
		total += p.CharLen()
	}
	return total
}

// locus pinpoints a logical character offset: the piece containing it
// (or the position just past the last piece, with idx == len(pieces)
// and local == 0) along with the local character offset within that
// piece.
type locus struct {
	idx   int
	local int
}

// Locate reports the piece index and local character offset
// addressed by the given document-wide character offset. Only valid
// positions 0..CharLen() resolve; offset == CharLen() resolves to the
// position just after the final piece (idx == len(pieces)).
func (t *Table) Locate(offset int) (pieceIdx, localOffset int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	lc, err := t.locateLocked(offset)
	if err != nil {
		return 0, 0, err
	}
	return lc.idx, lc.local, nil
}

// InsertAt creates a new, initially empty piece owned by client (drawn
// from buf, which must already contain client's appended bytes up to
// its current length) positioned so that it sits at character offset
// in the document, and returns it. This implements spec.md §4.3's
// split procedure:
//
//   - offset falls at the start of a piece (or the document is empty):
//     the new piece is inserted before it.
//   - offset falls at the end of a piece: the new piece is inserted
//     after it.
//   - offset falls strictly inside a piece: that piece is split in
//     two and the new piece is inserted between the halves.
func (t *Table) InsertAt(offset int, buf BufferID, owner uint64, appbuf *appendbuf.Buf) (*Piece, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	lc, err := t.locateLocked(offset)
	if err != nil {
		return nil, err
	}

	fresh := appendbuf.Empty(appbuf)
	np := &Piece{ID: t.allocID(), Buf: buf, Text: fresh, Owner: &owner}

	switch {
	case lc.idx >= len(t.pieces):
		t.pieces = append(t.pieces, np)
	case lc.local == 0:
		t.pieces = insertPiece(t.pieces, lc.idx, np)
	case lc.local == t.pieces[lc.idx].CharLen():
		t.pieces = insertPiece(t.pieces, lc.idx+1, np)
	default:
		orig := t.pieces[lc.idx]
		byteOff := runeByteOffset(orig.Text.AsBytes(), lc.local)
		left := orig.Text.WithEnd(orig.Text.Start() + byteOff)
		right := orig.Text.Subslice(byteOff, orig.Text.Len())
		leftPiece := &Piece{ID: orig.ID, Buf: orig.Buf, Text: left, Owner: orig.Owner}
		rightPiece := &Piece{ID: t.allocID(), Buf: orig.Buf, Text: right, Owner: orig.Owner}

		replacement := make([]*Piece, 0, len(t.pieces)+2)
		replacement = append(replacement, t.pieces[:lc.idx]...)
		replacement = append(replacement, leftPiece, np, rightPiece)
		replacement = append(replacement, t.pieces[lc.idx+1:]...)
		t.pieces = replacement
	}
	return np, nil
}

func (t *Table) locateLocked(offset int) (locus, error) {
	if offset < 0 {
		return locus{}, ErrOutOfRange
	}
	remaining := offset
	for i, p := range t.pieces {
		l := p.CharLen()
		if remaining <= l {
			return locus{idx: i, local: remaining}, nil
		}
		remaining -= l
	}
	if remaining == 0 {
		return locus{idx: len(t.pieces), local: 0}, nil
	}
	return locus{}, ErrOutOfRange
}

func insertPiece(pieces []*Piece, at int, p *Piece) []*Piece {
	out := make([]*Piece, 0, len(pieces)+1)
	out = append(out, pieces[:at]...)
	out = append(out, p)
	out = append(out, pieces[at:]...)
	return out
}

// NextIDHint returns the table's current piece-id allocation counter,
// for snapshot serialization.
func (t *Table) NextIDHint() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.nextID
}

// Restore replaces the table's piece list wholesale and advances its
// id counter to at least nextID, so future InsertAt calls never
// collide with a restored piece's id. Used only when reconstructing a
// Table from a wire snapshot.
func (t *Table) Restore(pieces []*Piece, nextID uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pieces = pieces
	if nextID > t.nextID {
		t.nextID = nextID
	}
}

// At returns the piece currently at idx.
func (t *Table) At(idx int) (*Piece, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if idx < 0 || idx >= len(t.pieces) {
		return nil, ErrOutOfRange
	}
	return t.pieces[idx], nil
}

// Count returns the current number of pieces.
func (t *Table) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pieces)
}

// IndexOf returns the current index of the piece with the given id,
// or -1 if it is no longer present.
func (t *Table) IndexOf(id uint64) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, p := range t.pieces {
		if p.ID == id {
			return i
		}
	}
	return -1
}

// PieceBefore returns the piece immediately preceding idx, and true,
// or (nil, false) if idx is the first piece.
func (t *Table) PieceBefore(idx int) (*Piece, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if idx <= 0 || idx > len(t.pieces) {
		return nil, false
	}
	return t.pieces[idx-1], true
}

// SwapBack exchanges the piece at idx with its predecessor at idx-1,
// implementing the swap step of spec.md §4.4's backspace-across-owner
// algorithm: the two pieces trade places and neither piece's text
// changes. Returns the piece's new index (idx-1).
func (t *Table) SwapBack(idx int) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if idx <= 0 || idx >= len(t.pieces) {
		return 0, ErrOutOfRange
	}
	t.pieces[idx-1], t.pieces[idx] = t.pieces[idx], t.pieces[idx-1]
	return idx - 1, nil
}

// SetEnd grows or shrinks the piece at idx's addressed range to end at
// byte offset end within its owning buffer. Used by editor.Client to
// extend its active piece as it pushes characters.
func (t *Table) SetEnd(idx int, end int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if idx < 0 || idx >= len(t.pieces) {
		return ErrOutOfRange
	}
	t.pieces[idx].Text = t.pieces[idx].Text.WithEnd(end)
	return nil
}

// runeByteOffset returns the byte offset of the nth code point
// (0-indexed) in b, or len(b) if b contains fewer than n code points.
func runeByteOffset(b []byte, n int) int {
	count := 0
	for i := 0; i < len(b); {
		if count == n {
			return i
		}
		_, size := utf8.DecodeRune(b[i:])
		i += size
		count++
	}
	return len(b)
}
