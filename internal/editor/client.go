// Package editor implements the per-client insertion/backspace state
// machine that sits on top of a piecetable.Table: Normal and
// Insert(active_piece). Each client owns exactly one append-buf and
// may only ever extend or shrink pieces it owns; reaching into
// another client's text is done by reordering the piece list
// (swapping), never by mutation.
package editor

import (
	"unicode/utf8"

	"github.com/pieceserver/pieceserver/internal/appendbuf"
	"github.com/pieceserver/pieceserver/internal/piecetable"
)

// Client is one participant's editing cursor into a shared
// piecetable.Table. It holds no direct pointers into the table's
// internal piece list — only an integer id and, while in insert
// mode, the id of its active piece. Every mutation is routed through
// the table using that id, per the component+index discipline.
type Client struct {
	ID     uint64
	buf    *appendbuf.Buf
	bufID  piecetable.BufferID
	table  *piecetable.Table
	active *uint64
}

// New returns a Client bound to its own fresh append-buf and the
// given shared table, in the Normal state.
func New(id uint64, bufID piecetable.BufferID, table *piecetable.Table) *Client {
	return &Client{ID: id, buf: appendbuf.New(), bufID: bufID, table: table}
}

// Buf returns the client's append-buf, for snapshot serialization.
func (c *Client) Buf() *appendbuf.Buf { return c.buf }

// RestoreBuf seeds a freshly constructed client's append-buf with
// previously captured content. Used only when reconstructing a
// Client from a wire snapshot, before its buffer has ever been
// written to.
func (c *Client) RestoreBuf(data []byte) { c.buf.PushBytes(data) }

// Inserting reports whether the client currently holds an active
// piece.
func (c *Client) Inserting() bool { return c.active != nil }

// ActivePieceID returns the id of the client's active piece and true,
// or (0, false) in the Normal state.
func (c *Client) ActivePieceID() (uint64, bool) {
	if c.active == nil {
		return 0, false
	}
	return *c.active, true
}

// SetActivePieceID restores a client's active piece reference, used
// when reconstructing a Client from a serialized snapshot.
func (c *Client) SetActivePieceID(id uint64) { c.active = &id }

// ClearActive forces the client back to Normal without touching the
// piece table; used during snapshot load when no active reference was
// recorded.
func (c *Client) ClearActive() { c.active = nil }

// EnterInsert transitions Normal -> Insert, locating the logical
// character offset and materializing (or reusing) an empty piece
// this client owns at that position.
func (c *Client) EnterInsert(offset int) error {
	if c.active != nil {
		return ErrAlreadyInserting
	}
	idx, _, err := c.table.Locate(offset)
	if err != nil {
		return err
	}

	if idx < c.table.Count() {
		if p, err := c.table.At(idx); err == nil && p.CharLen() == 0 && p.Owner != nil && *p.Owner == c.ID {
			c.active = &p.ID
			return nil
		}
	}

	p, err := c.table.InsertAt(offset, c.bufID, c.ID, c.buf)
	if err != nil {
		return err
	}
	c.active = &p.ID
	return nil
}

// ExitInsert transitions Insert -> Normal. The active piece remains
// in the table, possibly zero-length, for later reuse by EnterInsert
// at the same offset.
func (c *Client) ExitInsert() error {
	if c.active == nil {
		return ErrNotInserting
	}
	c.active = nil
	return nil
}

// PushChar appends r to the client's buffer and extends its active
// piece to cover the new byte.
func (c *Client) PushChar(r rune) error {
	if c.active == nil {
		return ErrNotInserting
	}
	idx := c.table.IndexOf(*c.active)
	if idx < 0 {
		return ErrDanglingPieceRef
	}
	c.buf.PushRune(r)
	return c.table.SetEnd(idx, c.buf.Len())
}

// Backspace implements spec's swap-through deletion. It returns
// whether a character was actually removed and how many adjacent
// swaps were performed reaching it; the swap count is what the wire
// Backspace message carries to peers (see ApplyBackspace) so they
// reproduce the reordering.
func (c *Client) Backspace() (deleted bool, swaps uint64, err error) {
	if c.active == nil {
		return false, 0, ErrNotInserting
	}

	idx := c.table.IndexOf(*c.active)
	if idx < 0 {
		return false, 0, ErrDanglingPieceRef
	}
	active, err := c.table.At(idx)
	if err != nil {
		return false, 0, err
	}

	if active.Text.Len() > 0 {
		if err := c.shrinkEnd(idx, active.Text); err != nil {
			return false, 0, err
		}
		return true, 0, nil
	}

	curID := *c.active
	for {
		idx := c.table.IndexOf(curID)
		if idx < 0 {
			return false, swaps, ErrDanglingPieceRef
		}
		prev, ok := c.table.PieceBefore(idx)
		if !ok {
			return false, swaps, nil
		}
		if prev.Owner != nil && *prev.Owner == c.ID {
			return c.shrinkOrRecurse(prev, swaps)
		}
		if _, err := c.table.SwapBack(idx); err != nil {
			return false, swaps, err
		}
		swaps++
	}
}

// ApplyBackspace replays a Backspace result reported by its
// originating client (see the wire Backspace opcode). It performs
// exactly swaps adjacent swaps starting from this client's active
// piece, then applies the same terminal shrink-or-no-op rule as
// Backspace. Causal delivery guarantees this client's table replica
// is in the same state the originator saw, so replaying the same
// swap count reproduces an identical result without re-deriving
// ownership from scratch.
func (c *Client) ApplyBackspace(swaps uint64) (deleted bool, err error) {
	if c.active == nil {
		return false, ErrNotInserting
	}

	idx := c.table.IndexOf(*c.active)
	if idx < 0 {
		return false, ErrDanglingPieceRef
	}
	active, err := c.table.At(idx)
	if err != nil {
		return false, err
	}
	if swaps == 0 && active.Text.Len() > 0 {
		if err := c.shrinkEnd(idx, active.Text); err != nil {
			return false, err
		}
		return true, nil
	}

	curID := *c.active
	for i := uint64(0); i < swaps; i++ {
		idx := c.table.IndexOf(curID)
		if idx < 0 {
			return false, ErrDanglingPieceRef
		}
		if _, err := c.table.SwapBack(idx); err != nil {
			return false, err
		}
	}

	idx = c.table.IndexOf(curID)
	if idx < 0 {
		return false, ErrDanglingPieceRef
	}
	prev, ok := c.table.PieceBefore(idx)
	if !ok {
		return false, nil
	}
	deleted, _, err = c.shrinkOrRecurse(prev, 0)
	return deleted, err
}

// shrinkOrRecurse implements the "reached an own piece" tail of the
// backspace algorithm: shrink it if non-empty, or, in the rare case
// that piece is itself empty, continue the walk from its position.
func (c *Client) shrinkOrRecurse(owned *piecetable.Piece, swaps uint64) (bool, uint64, error) {
	if owned.Text.Len() > 0 {
		idx := c.table.IndexOf(owned.ID)
		if idx < 0 {
			return false, swaps, ErrDanglingPieceRef
		}
		if err := c.shrinkEnd(idx, owned.Text); err != nil {
			return false, swaps, err
		}
		return true, swaps, nil
	}

	curID := owned.ID
	for {
		idx := c.table.IndexOf(curID)
		if idx < 0 {
			return false, swaps, ErrDanglingPieceRef
		}
		prev, ok := c.table.PieceBefore(idx)
		if !ok {
			return false, swaps, nil
		}
		if prev.Owner != nil && *prev.Owner == c.ID {
			return c.shrinkOrRecurse(prev, swaps)
		}
		if _, err := c.table.SwapBack(idx); err != nil {
			return false, swaps, err
		}
		swaps++
	}
}

// shrinkEnd removes the final code point from a piece's addressed
// range by narrowing its end offset by one UTF-8 encoded length. When
// the piece is the client's active piece and its end sits at the
// buffer's current tail, the discarded bytes are also retracted from
// the buffer itself. That keeps the buffer length and the active
// piece's end in lockstep, so a later PushChar resumes writing exactly
// where the piece left off. An earlier piece of the client's own is
// only narrowed: the active piece starts at or past that piece's old
// end, so the buffer keeps those bytes.
func (c *Client) shrinkEnd(idx int, text appendbuf.Slice) error {
	b := text.AsBytes()
	if len(b) == 0 {
		return nil
	}
	_, size := utf8.DecodeLastRune(b)
	newEnd := text.End() - size
	isActive := c.active != nil && c.table.IndexOf(*c.active) == idx
	if isActive && text.End() == c.buf.Len() {
		c.buf.Truncate(newEnd)
	}
	return c.table.SetEnd(idx, newEnd)
}
