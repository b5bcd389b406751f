// Package broker relays S2C frames between pieceserver instances over
// NATS and serves snapshot handoff requests, grounded on
// adred-codev-ws_poc/go-server/pkg/nats and the teacher ws/go.mod's
// nats.go dependency (held there for exactly this purpose but never
// wired in the single-process ws/ server). A Broker with a nil
// connection is a no-op: the single-process default behavior
// described in spec.md is unchanged when PS_NATS_URL is unset.
// internal/session publishes only NewClient announcements through it;
// edit Update frames are not replicated across instances.
package broker

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Broker fans frames for a document path out to other pieceserver
// instances subscribed to the same path.
type Broker struct {
	conn   *nats.Conn
	logger zerolog.Logger
}

// Connect dials url and returns a Broker. An empty url yields a
// disabled Broker whose methods are no-ops.
func Connect(url string, logger zerolog.Logger) (*Broker, error) {
	if url == "" {
		return &Broker{logger: logger}, nil
	}
	conn, err := nats.Connect(url, nats.Name("pieceserver"), nats.NoEcho())
	if err != nil {
		return nil, fmt.Errorf("broker: connect %s: %w", url, err)
	}
	return &Broker{conn: conn, logger: logger}, nil
}

// Enabled reports whether this Broker holds a live NATS connection.
func (b *Broker) Enabled() bool { return b.conn != nil }

func subject(docPath string) string {
	return "pieceserver.doc." + docPath
}

// Publish republishes an encoded S2C frame for docPath to every other
// instance subscribed to it. A disabled Broker silently drops it.
func (b *Broker) Publish(docPath string, frame []byte) error {
	if b.conn == nil {
		return nil
	}
	if err := b.conn.Publish(subject(docPath), frame); err != nil {
		b.logger.Warn().Err(err).Str("path", docPath).Msg("broker publish failed")
		return err
	}
	return nil
}

// Subscribe registers handler for every frame another instance
// publishes for docPath. The returned unsubscribe func is a no-op
// when the Broker is disabled.
func (b *Broker) Subscribe(docPath string, handler func(frame []byte)) (unsubscribe func(), err error) {
	if b.conn == nil {
		return func() {}, nil
	}
	sub, err := b.conn.Subscribe(subject(docPath), func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("broker: subscribe %s: %w", docPath, err)
	}
	return func() { _ = sub.Unsubscribe() }, nil
}

func snapshotSubject(docPath string) string {
	return "pieceserver.doc." + docPath + ".snapshot"
}

// RequestSnapshot asks whichever other instance is already serving
// docPath for its current Text snapshot, so a freshly opened Hub on
// this instance converges to live in-memory state instead of the
// last save on disk. ok is false when disabled, when no instance
// answers within timeout, or on any transport error.
func (b *Broker) RequestSnapshot(docPath string, timeout time.Duration) (snapshot []byte, ok bool, err error) {
	if b.conn == nil {
		return nil, false, nil
	}
	msg, err := b.conn.Request(snapshotSubject(docPath), nil, timeout)
	if err != nil {
		if err == nats.ErrTimeout || err == nats.ErrNoResponders {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("broker: request snapshot %s: %w", docPath, err)
	}
	return msg.Data, true, nil
}

// RespondToSnapshotRequests answers RequestSnapshot calls from other
// instances with whatever provider returns at call time (the caller
// is expected to snapshot under its own document mutex).
func (b *Broker) RespondToSnapshotRequests(docPath string, provider func() []byte) (unsubscribe func(), err error) {
	if b.conn == nil {
		return func() {}, nil
	}
	sub, err := b.conn.Subscribe(snapshotSubject(docPath), func(msg *nats.Msg) {
		_ = msg.Respond(provider())
	})
	if err != nil {
		return nil, fmt.Errorf("broker: respond snapshot %s: %w", docPath, err)
	}
	return func() { _ = sub.Unsubscribe() }, nil
}

// Close drains and closes the underlying NATS connection, if any.
func (b *Broker) Close() {
	if b.conn != nil {
		b.conn.Close()
	}
}
