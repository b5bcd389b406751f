package wire

import (
	"bytes"

	"github.com/pieceserver/pieceserver/internal/document"
	"github.com/pieceserver/pieceserver/internal/piecetable"
)

// EncodeSnapshot serializes t per spec.md §4.6's Text snapshot
// format: an inner-length prefix, the original buffer, each client's
// append-buf plus a shared piece-id counter, the full piece list, and
// finally each client's active-piece reference (by buffer start/end,
// resolved against the decoded piece list on the other end).
func EncodeSnapshot(t *document.Text) []byte {
	var body bytes.Buffer

	original := t.Original().Bytes()
	writeU64(&body, uint64(len(original)))
	body.Write(original)

	n := t.ClientCount()
	writeU64(&body, uint64(n))
	idCounter := t.Table().NextIDHint()
	for i := 0; i < n; i++ {
		buf := t.Client(uint64(i)).Buf().Bytes()
		writeU64(&body, uint64(len(buf)))
		body.Write(buf)
		writeU64(&body, idCounter)
	}

	pieces := t.Bufs()
	writeU64(&body, uint64(len(pieces)))
	for _, p := range pieces {
		writeU64(&body, uint64(p.Buf))
		writeU64(&body, uint64(p.Text.Start()))
		writeU64(&body, uint64(p.Text.End()))
		writeU64(&body, p.ID)
		if p.Owner != nil {
			body.WriteByte(1)
			writeU64(&body, *p.Owner)
		} else {
			body.WriteByte(0)
		}
	}

	for i := 0; i < n; i++ {
		c := t.Client(uint64(i))
		pid, ok := c.ActivePieceID()
		if !ok {
			body.WriteByte(0)
			continue
		}
		p := findPiece(pieces, pid)
		if p == nil {
			body.WriteByte(0)
			continue
		}
		body.WriteByte(1)
		writeU64(&body, uint64(p.Text.Start()))
		writeU64(&body, uint64(p.Text.End()))
	}

	var out bytes.Buffer
	writeU64(&out, uint64(body.Len()))
	out.Write(body.Bytes())
	return out.Bytes()
}

func findPiece(pieces []*piecetable.Piece, id uint64) *piecetable.Piece {
	for _, p := range pieces {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// DecodeSnapshot reconstructs a Text from bytes produced by
// EncodeSnapshot.
func DecodeSnapshot(data []byte) (*document.Text, error) {
	innerLen, rest, err := readU64Prefix(data)
	if err != nil {
		return nil, err
	}
	if uint64(len(rest)) < innerLen {
		return nil, ErrTruncatedFrame
	}
	rest = rest[:innerLen]

	originalLen, rest, err := readU64Prefix(rest)
	if err != nil {
		return nil, err
	}
	if uint64(len(rest)) < originalLen {
		return nil, ErrTruncatedFrame
	}
	original := rest[:originalLen]
	rest = rest[originalLen:]

	text := document.FromBytes(original)

	clientCount, rest, err := readU64Prefix(rest)
	if err != nil {
		return nil, err
	}
	var maxCounter uint64
	for i := uint64(0); i < clientCount; i++ {
		bufLen, r, err := readU64Prefix(rest)
		if err != nil {
			return nil, err
		}
		if uint64(len(r)) < bufLen {
			return nil, ErrTruncatedFrame
		}
		bufBytes := r[:bufLen]
		rest = r[bufLen:]

		counter, r2, err := readU64Prefix(rest)
		if err != nil {
			return nil, err
		}
		rest = r2
		if counter > maxCounter {
			maxCounter = counter
		}

		id := text.AddClient()
		text.Client(id).RestoreBuf(bufBytes)
	}

	pieceCount, rest, err := readU64Prefix(rest)
	if err != nil {
		return nil, err
	}
	pieces := make([]*piecetable.Piece, 0, pieceCount)
	for i := uint64(0); i < pieceCount; i++ {
		bufID, r, err := readU64Prefix(rest)
		if err != nil {
			return nil, err
		}
		start, r, err := readU64Prefix(r)
		if err != nil {
			return nil, err
		}
		end, r, err := readU64Prefix(r)
		if err != nil {
			return nil, err
		}
		pieceID, r, err := readU64Prefix(r)
		if err != nil {
			return nil, err
		}
		if len(r) < 1 {
			return nil, ErrTruncatedFrame
		}
		hasOwner := r[0] == 1
		r = r[1:]

		var owner *uint64
		if hasOwner {
			ownerID, r2, err := readU64Prefix(r)
			if err != nil {
				return nil, err
			}
			owner = &ownerID
			r = r2
		}
		rest = r

		srcBuf := text.Original()
		if piecetable.BufferID(bufID) != piecetable.OriginalBuffer {
			c := text.Client(bufID - 1)
			if c == nil {
				return nil, ErrDanglingPieceRef
			}
			srcBuf = c.Buf()
		}
		slice, err := srcBuf.Slice(int(start), int(end))
		if err != nil {
			return nil, ErrDanglingPieceRef
		}
		pieces = append(pieces, &piecetable.Piece{
			ID:    pieceID,
			Buf:   piecetable.BufferID(bufID),
			Text:  slice,
			Owner: owner,
		})
		if pieceID > maxCounter {
			maxCounter = pieceID
		}
	}
	text.Table().Restore(pieces, maxCounter+1)

	for i := uint64(0); i < clientCount; i++ {
		if len(rest) < 1 {
			return nil, ErrTruncatedFrame
		}
		present := rest[0] == 1
		rest = rest[1:]
		if !present {
			continue
		}
		start, r, err := readU64Prefix(rest)
		if err != nil {
			return nil, err
		}
		end, r, err := readU64Prefix(r)
		if err != nil {
			return nil, err
		}
		rest = r

		client := text.Client(i)
		found := false
		for _, p := range pieces {
			if uint64(p.Buf) == i+1 && uint64(p.Text.Start()) == start && uint64(p.Text.End()) == end {
				client.SetActivePieceID(p.ID)
				found = true
				break
			}
		}
		if !found {
			return nil, ErrDanglingPieceRef
		}
	}

	return text, nil
}
