package wire

import (
	"bytes"
	"encoding/binary"
	"unicode/utf8"
)

// Opcode tags the variant of a C2S or S2C payload.
type Opcode byte

const (
	OpChar        Opcode = 1
	OpEnterInsert Opcode = 2
	OpSave        Opcode = 3
	OpExitInsert  Opcode = 4
	OpPath        Opcode = 5
	OpBackspace   Opcode = 8
	OpEnter       Opcode = 10

	OpFull      Opcode = 0
	OpUpdate    Opcode = 1
	OpFolder    Opcode = 2
	OpNewClient Opcode = 3
)

// C2S is any client-to-server message. Concrete types below
// implement it as a closed set (the c2s marker method is
// unexported), matching the fixed opcode table in spec.md §4.6.
type C2S interface {
	c2s()
}

// Char is a single inserted code point.
type Char struct{ Rune rune }

// EnterInsert requests a cursor split/reuse at (Row, Col).
type EnterInsert struct{ Row, Col uint64 }

// Save requests the server persist the document to its backing path.
type Save struct{}

// ExitInsert releases the sender's active piece.
type ExitInsert struct{}

// Path announces (or changes) the document path this connection
// wants to edit.
type Path struct{ Path string }

// Backspace reports a deletion that required Swaps adjacent
// reorderings to reach deletable content.
type Backspace struct{ Swaps uint64 }

// Enter is a literal newline keystroke, kept distinct from Char('\n')
// on the wire for symmetry with the original protocol even though
// the server applies it identically (see DESIGN.md).
type Enter struct{}

func (Char) c2s()        {}
func (EnterInsert) c2s() {}
func (Save) c2s()        {}
func (ExitInsert) c2s()  {}
func (Path) c2s()        {}
func (Backspace) c2s()   {}
func (Enter) c2s()       {}

// EncodeC2S writes msg's opcode-tagged binary payload.
func EncodeC2S(msg C2S) ([]byte, error) {
	var buf bytes.Buffer
	switch m := msg.(type) {
	case Char:
		buf.WriteByte(byte(OpChar))
		writeU32(&buf, uint32(m.Rune))
	case EnterInsert:
		buf.WriteByte(byte(OpEnterInsert))
		writeU64(&buf, m.Row)
		writeU64(&buf, m.Col)
	case Save:
		buf.WriteByte(byte(OpSave))
	case ExitInsert:
		buf.WriteByte(byte(OpExitInsert))
	case Path:
		buf.WriteByte(byte(OpPath))
		writePrefixedString(&buf, m.Path)
	case Backspace:
		buf.WriteByte(byte(OpBackspace))
		writeU64(&buf, m.Swaps)
	case Enter:
		buf.WriteByte(byte(OpEnter))
	default:
		return nil, ErrUnknownOpcode
	}
	return buf.Bytes(), nil
}

// DecodeC2S parses an opcode-tagged C2S payload.
func DecodeC2S(data []byte) (C2S, error) {
	if len(data) < 1 {
		return nil, ErrTruncatedFrame
	}
	op := Opcode(data[0])
	rest := data[1:]
	switch op {
	case OpChar:
		r, err := readU32(rest)
		if err != nil {
			return nil, err
		}
		if !utf8.ValidRune(rune(r)) {
			return nil, ErrInvalidChar
		}
		return Char{Rune: rune(r)}, nil
	case OpEnterInsert:
		row, rest, err := readU64Prefix(rest)
		if err != nil {
			return nil, err
		}
		col, _, err := readU64Prefix(rest)
		if err != nil {
			return nil, err
		}
		return EnterInsert{Row: row, Col: col}, nil
	case OpSave:
		return Save{}, nil
	case OpExitInsert:
		return ExitInsert{}, nil
	case OpPath:
		s, err := readPrefixedString(rest)
		if err != nil {
			return nil, err
		}
		return Path{Path: s}, nil
	case OpBackspace:
		n, err := readU64(rest)
		if err != nil {
			return nil, err
		}
		return Backspace{Swaps: n}, nil
	case OpEnter:
		return Enter{}, nil
	default:
		return nil, ErrUnknownOpcode
	}
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeU64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func writePrefixedString(buf *bytes.Buffer, s string) {
	writeU64(buf, uint64(len(s)))
	buf.WriteString(s)
}

func readU32(b []byte) (uint32, error) {
	if len(b) < 4 {
		return 0, ErrTruncatedFrame
	}
	return binary.BigEndian.Uint32(b[:4]), nil
}

func readU64(b []byte) (uint64, error) {
	if len(b) < 8 {
		return 0, ErrTruncatedFrame
	}
	return binary.BigEndian.Uint64(b[:8]), nil
}

// readU64Prefix reads one u64 from the front of b and returns the
// remaining bytes alongside it, for sequential field decoding.
func readU64Prefix(b []byte) (uint64, []byte, error) {
	v, err := readU64(b)
	if err != nil {
		return 0, nil, err
	}
	return v, b[8:], nil
}

func readPrefixedString(b []byte) (string, error) {
	s, _, err := readPrefixedStringAdv(b)
	return s, err
}

// readPrefixedStringAdv reads a u64-length-prefixed UTF-8 string from
// the front of b and returns the remaining bytes alongside it.
func readPrefixedStringAdv(b []byte) (string, []byte, error) {
	n, rest, err := readU64Prefix(b)
	if err != nil {
		return "", nil, err
	}
	if uint64(len(rest)) < n {
		return "", nil, ErrTruncatedFrame
	}
	s := rest[:n]
	if !utf8.Valid(s) {
		return "", nil, ErrInvalidUTF8
	}
	return string(s), rest[n:], nil
}
