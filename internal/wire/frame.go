package wire

import (
	"encoding/binary"
	"io"
)

// MaxFrameSize bounds a single frame's payload so a malformed or
// hostile length prefix can't force an unbounded allocation.
const MaxFrameSize = 64 << 20 // 64 MiB

// WriteFrame writes payload to w as a big-endian u32 length prefix
// followed by the payload bytes. This is the raw-stream framing
// spec.md §4.6 describes; internal/transport does not use it. Over
// WebSocket, each message already arrives as one discrete frame, so
// internal/transport decodes its payload directly without this prefix.
func WriteFrame(w io.Writer, payload []byte) error {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// ReadFrame reads one length-prefixed frame from r.
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			return nil, ErrTruncatedFrame
		}
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > MaxFrameSize {
		return nil, ErrTruncatedFrame
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			return nil, ErrTruncatedFrame
		}
		return nil, err
	}
	return payload, nil
}
