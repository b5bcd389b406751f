package wire

import "bytes"

// S2C is any server-to-client message.
type S2C interface {
	s2c()
}

// Full carries a complete Text snapshot, sent on join and whenever a
// client needs to resynchronize.
type Full struct{ Snapshot []byte }

// Update relays a C2S edit, originating from ClientID, to every other
// connection on the same document.
type Update struct {
	ClientID uint64
	Inner    C2S
}

// Folder carries a directory listing. Its semantics are out of core
// scope (spec.md §4.6): the opcode exists for protocol completeness,
// but this server never originates one (internal/session serves
// single documents, not directory browsing).
type Folder struct{ Entries []string }

// NewClient announces a peer's display identity.
type NewClient struct {
	Username string
	R, G, B  byte
}

func (Full) s2c()      {}
func (Update) s2c()    {}
func (Folder) s2c()    {}
func (NewClient) s2c() {}

// EncodeS2C writes msg's opcode-tagged binary payload.
func EncodeS2C(msg S2C) ([]byte, error) {
	var buf bytes.Buffer
	switch m := msg.(type) {
	case Full:
		buf.WriteByte(byte(OpFull))
		buf.Write(m.Snapshot)
	case Update:
		buf.WriteByte(byte(OpUpdate))
		writeU64(&buf, m.ClientID)
		inner, err := EncodeC2S(m.Inner)
		if err != nil {
			return nil, err
		}
		buf.Write(inner)
	case Folder:
		buf.WriteByte(byte(OpFolder))
		writeU64(&buf, uint64(len(m.Entries)))
		for _, e := range m.Entries {
			writePrefixedString(&buf, e)
		}
	case NewClient:
		buf.WriteByte(byte(OpNewClient))
		writePrefixedString(&buf, m.Username)
		buf.WriteByte(m.R)
		buf.WriteByte(m.G)
		buf.WriteByte(m.B)
	default:
		return nil, ErrUnknownOpcode
	}
	return buf.Bytes(), nil
}

// DecodeS2C parses an opcode-tagged S2C payload.
func DecodeS2C(data []byte) (S2C, error) {
	if len(data) < 1 {
		return nil, ErrTruncatedFrame
	}
	op := Opcode(data[0])
	rest := data[1:]
	switch op {
	case OpFull:
		snap := make([]byte, len(rest))
		copy(snap, rest)
		return Full{Snapshot: snap}, nil
	case OpUpdate:
		id, rest, err := readU64Prefix(rest)
		if err != nil {
			return nil, err
		}
		inner, err := DecodeC2S(rest)
		if err != nil {
			return nil, err
		}
		return Update{ClientID: id, Inner: inner}, nil
	case OpFolder:
		n, rest, err := readU64Prefix(rest)
		if err != nil {
			return nil, err
		}
		entries := make([]string, 0, n)
		for i := uint64(0); i < n; i++ {
			var s string
			s, rest, err = readPrefixedStringAdv(rest)
			if err != nil {
				return nil, err
			}
			entries = append(entries, s)
		}
		return Folder{Entries: entries}, nil
	case OpNewClient:
		username, rest, err := readPrefixedStringAdv(rest)
		if err != nil {
			return nil, err
		}
		if len(rest) < 3 {
			return nil, ErrTruncatedFrame
		}
		return NewClient{Username: username, R: rest[0], G: rest[1], B: rest[2]}, nil
	default:
		return nil, ErrUnknownOpcode
	}
}
