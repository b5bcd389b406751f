package wire

import "errors"

// Decode error kinds from spec's protocol error taxonomy. Any of
// these terminates the offending connection without affecting
// document state or other peers.
var (
	ErrTruncatedFrame  = errors.New("wire: truncated frame")
	ErrUnknownOpcode   = errors.New("wire: unknown opcode")
	ErrInvalidUTF8     = errors.New("wire: invalid utf-8")
	ErrInvalidChar     = errors.New("wire: invalid unicode scalar value")
	ErrDanglingPieceRef = errors.New("wire: active piece reference does not resolve against its buffer")
)
