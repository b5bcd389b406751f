// Package document provides Text, the facade combining a shared
// piece table with the set of clients editing it. It is the unit of
// state owned by one document session in internal/session.
package document

import (
	"strings"

	"github.com/pieceserver/pieceserver/internal/appendbuf"
	"github.com/pieceserver/pieceserver/internal/editor"
	"github.com/pieceserver/pieceserver/internal/piecetable"
)

// Text wraps a piecetable.Table and the ClientEditors currently
// attached to it. Client ids are dense integers handed out by
// AddClient, starting at 0, matching the index a caller uses with
// Client.
type Text struct {
	original *appendbuf.Buf
	table    *piecetable.Table
	clients  []*editor.Client
}

// New returns an empty Text: no seed content, no clients.
func New() *Text {
	original := appendbuf.New()
	return &Text{original: original, table: piecetable.New(original)}
}

// FromString returns a Text whose original buffer is seeded with s.
func FromString(s string) *Text {
	return FromBytes([]byte(s))
}

// FromBytes returns a Text whose original buffer is seeded with b.
func FromBytes(b []byte) *Text {
	original := appendbuf.New()
	original.PushBytes(b)
	return &Text{original: original, table: piecetable.New(original)}
}

// AddClient allocates a fresh append-buf and ClientEditor, returning
// its integer id (also its index into Client).
func (t *Text) AddClient() uint64 {
	id := uint64(len(t.clients))
	bufID := piecetable.BufferID(id + 1) // 0 is reserved for the original buffer
	t.clients = append(t.clients, editor.New(id, bufID, t.table))
	return id
}

// Client returns the ClientEditor for id, or nil if id is unknown.
func (t *Text) Client(id uint64) *editor.Client {
	if id >= uint64(len(t.clients)) {
		return nil
	}
	return t.clients[id]
}

// ClientCount returns the number of attached clients.
func (t *Text) ClientCount() int { return len(t.clients) }

// concat walks the piece list in order, skipping zero-length pieces,
// and returns the document's full text.
func (t *Text) concat() string {
	var b strings.Builder
	for _, p := range t.table.Pieces() {
		if p.Text.IsEmpty() {
			continue
		}
		b.Write(p.Text.AsBytes())
	}
	return b.String()
}

// Lines returns the document split on '\n', with terminators removed
// from each yielded line (matching Rust's str::lines semantics: a
// trailing newline does not produce an extra empty final line, but an
// embedded run of consecutive newlines does produce empty lines
// between them).
func (t *Text) Lines() []string {
	full := t.concat()
	if full == "" {
		return nil
	}
	full = strings.TrimSuffix(full, "\n")
	return strings.Split(full, "\n")
}

// Chars returns every code point in the document, in order.
func (t *Text) Chars() []rune {
	return []rune(t.concat())
}

// Content returns the full document text, matching spec.md §6's Save
// definition: bufs().map(piece -> piece.text).concat().
func (t *Text) Content() string {
	return t.concat()
}

// Bufs returns a snapshot of the piece list in document order,
// including zero-length pieces, for renderers that key coloring by
// owner and need to find active-insertion markers.
func (t *Text) Bufs() []*piecetable.Piece {
	return t.table.Pieces()
}

// Table exposes the underlying piece table for wire encode/decode and
// for tests that need to assert on structural shape directly.
func (t *Text) Table() *piecetable.Table { return t.table }

// Original exposes the read-only seed buffer.
func (t *Text) Original() *appendbuf.Buf { return t.original }
