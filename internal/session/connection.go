// Package session owns the per-document Hub: the authoritative
// document.Text plus the ClientEditors attached to it, and the
// connection bookkeeping a transport.Server drives. Grounded on the
// teacher's internal/shared/connection.go and go-server-3's
// internal/session/hub.go, adapted from a flat connection registry to
// the piece-table document model (one Hub per edited path rather than
// one flat broadcast domain).
package session

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/google/uuid"
)

// palette assigns each joining client a stable display color, cycled
// by ClientID, mirroring the (username, color) pair spec.md §4.6's
// NewClient opcode carries.
var palette = [][3]byte{
	{230, 25, 75}, {60, 180, 75}, {255, 225, 25}, {0, 130, 200},
	{245, 130, 48}, {145, 30, 180}, {70, 240, 240}, {240, 50, 230},
}

// Connection is one accepted socket's session-scoped state: its
// document-local ClientID, its outbound queue, and the rate limiter
// internal/transport consults before decoding each frame.
type Connection struct {
	ConnID   uuid.UUID
	ClientID uint64
	Username string
	Color    [3]byte

	Send    chan []byte
	Limiter *rate.Limiter

	closeOnce sync.Once
	doneCh    chan struct{}
}

// newConnection allocates a Connection for clientID with a
// freshly seeded per-connection token bucket.
func newConnection(clientID uint64, username string, msgsPerSec float64, burst int) *Connection {
	return &Connection{
		ConnID:   uuid.New(),
		ClientID: clientID,
		Username: username,
		Color:    palette[int(clientID)%len(palette)],
		Send:     make(chan []byte, 64),
		Limiter:  rate.NewLimiter(rate.Limit(msgsPerSec), burst),
		doneCh:   make(chan struct{}),
	}
}

// Done returns a channel closed once the connection's read pump has
// exited, signalling its write pump to stop as well.
func (c *Connection) Done() <-chan struct{} { return c.doneCh }

// SignalDone closes Done's channel. Safe to call more than once.
func (c *Connection) SignalDone() { c.closeOnce.Do(func() { close(c.doneCh) }) }
