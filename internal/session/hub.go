package session

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pieceserver/pieceserver/internal/broker"
	"github.com/pieceserver/pieceserver/internal/config"
	"github.com/pieceserver/pieceserver/internal/document"
	"github.com/pieceserver/pieceserver/internal/metrics"
	"github.com/pieceserver/pieceserver/internal/resource"
	"github.com/pieceserver/pieceserver/internal/wire"
)

// Hub is the owning goroutine's state for one document: the
// authoritative document.Text, the connections currently editing it,
// and the single mutex spec.md §5 prescribes as the per-document
// serialization point ("document mutex -> piece locks, left-to-right
// in list order"). All exported methods lock internally; callers
// never hold the mutex across a call.
type Hub struct {
	path     string
	diskPath string

	mu      sync.Mutex
	text    *document.Text
	conns   map[uint64]*Connection

	logger  zerolog.Logger
	metrics *metrics.Registry
	broker  *broker.Broker
	guard   *resource.Guard

	unsubPresence func()
	unsubSnapshot func()
}

// Open loads or creates the Hub for path: it first asks the cluster
// broker whether another instance already has this document open (so
// a client landing on a different instance than existing editors
// converges to live state, not the last save on disk); only on a
// miss does it fall back to reading diskPath.
func Open(path, docsRoot string, logger zerolog.Logger, reg *metrics.Registry, brk *broker.Broker, guard *resource.Guard) (*Hub, error) {
	diskPath := filepath.Join(docsRoot, filepath.Clean("/"+path))

	h := &Hub{
		path:     path,
		diskPath: diskPath,
		conns:    make(map[uint64]*Connection),
		logger:   logger.With().Str("doc", path).Logger(),
		metrics:  reg,
		broker:   brk,
		guard:    guard,
	}

	if brk != nil && brk.Enabled() {
		if snap, ok, err := brk.RequestSnapshot(path, 300*time.Millisecond); err != nil {
			h.logger.Warn().Err(err).Msg("snapshot handoff request failed")
		} else if ok {
			text, err := wire.DecodeSnapshot(snap)
			if err != nil {
				h.logger.Warn().Err(err).Msg("snapshot handoff payload invalid, loading from disk instead")
			} else {
				h.text = text
			}
		}
	}

	if h.text == nil {
		seed, err := os.ReadFile(diskPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("open %s: %w", diskPath, err)
			}
			h.text = document.New()
		} else {
			h.text = document.FromBytes(seed)
		}
	}

	if brk != nil && brk.Enabled() {
		unsubSnap, err := brk.RespondToSnapshotRequests(path, h.snapshotLocked)
		if err != nil {
			h.logger.Warn().Err(err).Msg("could not register snapshot responder")
		} else {
			h.unsubSnapshot = unsubSnap
		}
		unsubPres, err := brk.Subscribe(path, h.relayRemotePresence)
		if err != nil {
			h.logger.Warn().Err(err).Msg("could not subscribe to presence fan-out")
		} else {
			h.unsubPresence = unsubPres
		}
	}

	return h, nil
}

func (h *Hub) snapshotLocked() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return wire.EncodeSnapshot(h.text)
}

// relayRemotePresence forwards a sibling instance's NewClient
// announcement to every connection local to this instance. Edits
// (Update frames) from siblings are not replicated here — see
// DESIGN.md's "cross-instance convergence" entry for the scope
// decision.
func (h *Hub) relayRemotePresence(frame []byte) {
	msg, err := wire.DecodeS2C(frame)
	if err != nil {
		return
	}
	if _, ok := msg.(wire.NewClient); !ok {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.conns {
		select {
		case c.Send <- frame:
		default:
			if h.metrics != nil {
				h.metrics.BroadcastDropped.Inc()
			}
		}
	}
}

// Path returns the document path this Hub serves.
func (h *Hub) Path() string { return h.path }

// Join registers a new connection, assigns it a document-local
// ClientID, and returns the Full snapshot plus the NewClient
// announcements for every peer already present (spec.md §6's
// handshake sequence, steps 2-3 folded into one call since both are
// sent to the joiner before anything else).
func (h *Hub) Join(username string, cfg *config.Config) (conn *Connection, full []byte, peers [][]byte, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.text.AddClient()
	conn = newConnection(id, username, cfg.MaxMessagesPerSec, cfg.MessageBurst)
	h.conns[id] = conn

	if h.metrics != nil {
		h.metrics.ActiveConnections.Inc()
		if len(h.conns) == 1 {
			h.metrics.ActiveDocuments.Inc()
		}
	}

	fullPayload, err := wire.EncodeS2C(wire.Full{Snapshot: wire.EncodeSnapshot(h.text)})
	if err != nil {
		return nil, nil, nil, err
	}

	for otherID, other := range h.conns {
		if otherID == id {
			continue
		}
		p, err := wire.EncodeS2C(wire.NewClient{Username: other.Username, R: other.Color[0], G: other.Color[1], B: other.Color[2]})
		if err == nil {
			peers = append(peers, p)
		}
	}

	announce, err := wire.EncodeS2C(wire.NewClient{Username: username, R: conn.Color[0], G: conn.Color[1], B: conn.Color[2]})
	if err == nil {
		for otherID, other := range h.conns {
			if otherID == id {
				continue
			}
			select {
			case other.Send <- announce:
			default:
				if h.metrics != nil {
					h.metrics.BroadcastDropped.Inc()
				}
			}
		}
		if h.broker != nil {
			_ = h.broker.Publish(h.path, announce)
		}
	}

	return conn, fullPayload, peers, nil
}

// Leave removes a connection. Its ClientEditor, append-buf and any
// zero-length active piece remain in the table per spec.md §4.4's
// lifecycle (a piece is destroyed only by becoming zero-length while
// unattended, not by its client disconnecting).
func (h *Hub) Leave(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[conn.ClientID]; !ok {
		return
	}
	delete(h.conns, conn.ClientID)
	close(conn.Send)
	if h.metrics != nil {
		h.metrics.ActiveConnections.Dec()
		if len(h.conns) == 0 {
			h.metrics.ActiveDocuments.Dec()
		}
	}
}

// ApplyC2S applies msg (originating from clientID) to the canonical
// Text and broadcasts the resulting Update to every other local
// connection. Updates are not published to sibling instances. A
// clientID whose connection has left is rejected. spec.md §9
// collapses Enter into Char('\n') here, before it reaches
// editor.Client.
func (h *Hub) ApplyC2S(clientID uint64, msg wire.C2S) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[clientID]; !ok {
		return fmt.Errorf("session: client %d has no live connection", clientID)
	}

	if _, ok := msg.(wire.Enter); ok {
		msg = wire.Char{Rune: '\n'}
	}

	client := h.text.Client(clientID)
	if client == nil {
		return fmt.Errorf("session: unknown client %d", clientID)
	}

	var outbound wire.C2S = msg
	switch m := msg.(type) {
	case wire.Char:
		if err := client.PushChar(m.Rune); err != nil {
			return err
		}
	case wire.EnterInsert:
		offset := offsetFromRowCol(h.text, m.Row, m.Col)
		if err := client.EnterInsert(offset); err != nil {
			return err
		}
	case wire.ExitInsert:
		if err := client.ExitInsert(); err != nil {
			return err
		}
	case wire.Backspace:
		deleted, err := client.ApplyBackspace(m.Swaps)
		if err != nil {
			return err
		}
		_ = deleted
		if h.metrics != nil {
			h.metrics.BackspaceSwaps.Add(float64(m.Swaps))
		}
	case wire.Save:
		if err := h.saveLocked(); err != nil {
			h.logger.Warn().Err(err).Msg("save failed")
			if h.metrics != nil {
				h.metrics.SavesFailed.Inc()
			}
		} else if h.metrics != nil {
			h.metrics.SavesSucceeded.Inc()
		}
	default:
		return fmt.Errorf("session: unexpected C2S message %T", msg)
	}

	if h.metrics != nil {
		h.metrics.EditOpsApplied.Inc()
	}

	h.broadcastLocked(clientID, outbound)
	return nil
}

// broadcastLocked must be called with h.mu held. When the resource
// guard reports the host is past its CPU pause threshold, the fan-out
// is skipped entirely for this edit: the Update is neither queued nor
// resent later, so peers see that edit only in the Full snapshot they
// receive on their next join.
func (h *Hub) broadcastLocked(originID uint64, msg wire.C2S) {
	if h.guard != nil && h.guard.ShouldPauseBroadcast() {
		if h.metrics != nil {
			h.metrics.BroadcastDropped.Add(float64(len(h.conns) - 1))
		}
		return
	}

	payload, err := wire.EncodeS2C(wire.Update{ClientID: originID, Inner: msg})
	if err != nil {
		h.logger.Warn().Err(err).Msg("encode update failed")
		return
	}
	for id, c := range h.conns {
		if id == originID {
			continue
		}
		select {
		case c.Send <- payload:
		default:
			if h.metrics != nil {
				h.metrics.BroadcastDropped.Inc()
			}
		}
	}
}

// saveLocked must be called with h.mu held. It writes the current
// document content to diskPath atomically (write-then-rename), per
// spec.md §6, snapshotting under the same mutex the edit-application
// path holds so no edit can be half-applied when the save is taken
// (resolving spec.md §9's open question about Save sequencing).
func (h *Hub) saveLocked() error {
	dir := filepath.Dir(h.diskPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".pieceserver-save-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.WriteString(h.text.Content()); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, h.diskPath)
}

// Close releases any cluster subscriptions this Hub registered.
func (h *Hub) Close() {
	if h.unsubPresence != nil {
		h.unsubPresence()
	}
	if h.unsubSnapshot != nil {
		h.unsubSnapshot()
	}
}

// offsetFromRowCol walks the document's characters counting newlines
// as row separators, translating the cursor-oriented (row, col) the
// wire protocol's EnterInsert carries into the character offset
// piecetable.Table.Locate expects. Positions past the end of the
// document clamp to the document's length, matching "enter_insert at
// end-of-document appends" (spec.md §8 boundary behaviors).
func offsetFromRowCol(t *document.Text, row, col uint64) int {
	chars := t.Chars()
	var r, c uint64
	for i, ch := range chars {
		if r == row && c == col {
			return i
		}
		if ch == '\n' {
			r++
			c = 0
		} else {
			c++
		}
	}
	return len(chars)
}
