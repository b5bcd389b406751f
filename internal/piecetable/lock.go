package piecetable

import (
	"errors"
	"sync"
)

// ErrContended is returned when a lock cannot be acquired immediately.
// Callers (the per-document edit loop) never block on it; they
// serialize through the outer document mutex instead (see
// internal/session.Hub).
var ErrContended = errors.New("piecetable: lock contended")

// lock implements the per-piece reader/writer discipline described in
// spec.md §4.3: Unshared, Shared(n), Exclusive. It is a thin,
// non-blocking wrapper over sync.RWMutex's Try variants, which model
// the same three states.
type lock struct {
	mu sync.RWMutex
}

// TryRead acquires a shared (reader) lock, failing with ErrContended
// if the piece is currently exclusively locked.
func (l *lock) TryRead() (unlock func(), err error) {
	if !l.mu.TryRLock() {
		return nil, ErrContended
	}
	return l.mu.RUnlock, nil
}

// TryWrite acquires an exclusive lock, failing with ErrContended if
// the piece is shared or already exclusively locked.
func (l *lock) TryWrite() (unlock func(), err error) {
	if !l.mu.TryLock() {
		return nil, ErrContended
	}
	return l.mu.Unlock, nil
}
