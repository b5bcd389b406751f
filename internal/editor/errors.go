package editor

import "errors"

// ErrNotInserting is returned by operations that require the client
// to hold an active piece (PushChar, Backspace, ExitInsert) when the
// client is in the Normal state.
var ErrNotInserting = errors.New("editor: client is not in insert mode")

// ErrAlreadyInserting is returned by EnterInsert when the client
// already holds an active piece.
var ErrAlreadyInserting = errors.New("editor: client already has an active piece")

// ErrDanglingPieceRef is returned when a client's active piece
// reference no longer resolves against the piece table. This
// indicates the table was mutated outside the client/table
// ownership discipline and is treated as a fatal assertion, per the
// protocol error kind of the same name.
var ErrDanglingPieceRef = errors.New("editor: active piece reference is dangling")
