// Package transport owns the TCP listener and WebSocket upgrade,
// carrying spec.md §4.6's framed binary messages as WebSocket binary
// frames (one wire message per WS frame). Grounded on
// go-server-3/internal/transport/server.go's accept-loop/read-loop
// split and the teacher ws/internal/shared/pump_read.go /
// pump_write.go's per-connection goroutine pair.
package transport

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/rs/zerolog"

	"github.com/pieceserver/pieceserver/internal/auth"
	"github.com/pieceserver/pieceserver/internal/config"
	"github.com/pieceserver/pieceserver/internal/metrics"
	"github.com/pieceserver/pieceserver/internal/resource"
	"github.com/pieceserver/pieceserver/internal/session"
	"github.com/pieceserver/pieceserver/internal/wire"
)

const (
	handshakeTimeout = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = (pongWait * 9) / 10
	writeWait        = 10 * time.Second
)

// Server accepts TCP connections, performs the WebSocket upgrade and
// spec.md §6 handshake sequence, then hands each connection's frames
// to its document Hub.
type Server struct {
	cfg     *config.Config
	logger  zerolog.Logger
	reg     *session.Registry
	guard   *resource.Guard
	auth    auth.Authenticator
	metrics *metrics.Registry

	listener net.Listener
	wg       sync.WaitGroup
}

// NewServer wires a Server's collaborators.
func NewServer(cfg *config.Config, logger zerolog.Logger, reg *session.Registry, guard *resource.Guard, authenticator auth.Authenticator, metricsReg *metrics.Registry) *Server {
	return &Server{cfg: cfg, logger: logger, reg: reg, guard: guard, auth: authenticator, metrics: metricsReg}
}

// Start begins listening and accepting connections in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	s.listener = ln
	s.logger.Info().Str("addr", s.cfg.Addr).Msg("transport listening")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop()
	}()
	return nil
}

// Stop closes the listener and waits for in-flight connections to unwind.
func (s *Server) Stop() {
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Error().Err(err).Msg("accept error")
			return
		}

		if accept, reason := s.guard.ShouldAcceptConnection(); !accept {
			s.logger.Debug().Str("reason", reason).Msg("connection rejected")
			conn.Close()
			continue
		}
		if !s.guard.AcquireGoroutine() {
			conn.Close()
			continue
		}

		s.guard.ConnectionOpened()
		s.wg.Add(1)
		go func(c net.Conn) {
			defer s.wg.Done()
			defer s.guard.ConnectionClosed()
			defer s.guard.ReleaseGoroutine()
			s.handleConnection(c)
		}(conn)
	}
}

// handleConnection performs the WS upgrade, the optional auth frame,
// the Path handshake, and then runs the read/write pumps until either
// side closes. Any protocol-level error here terminates only this
// connection (spec.md §7's per-connection-island policy); the
// document's Hub and every other connection are unaffected.
func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Msg("connection handler panicked, closing connection")
		}
	}()

	_ = conn.SetDeadline(time.Now().Add(handshakeTimeout))
	if _, err := ws.Upgrade(conn); err != nil {
		s.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	username := "anonymous"
	if s.cfg.RequireAuth {
		token, _, err := wsutil.ReadClientData(conn)
		if err != nil {
			s.logger.Debug().Err(err).Msg("failed to read auth frame")
			return
		}
		subject, err := s.auth.Verify(string(token))
		if err != nil {
			s.logger.Debug().Err(err).Msg("authentication rejected")
			return
		}
		username = subject
	}

	pathFrame, _, err := wsutil.ReadClientData(conn)
	if err != nil {
		s.logger.Debug().Err(err).Msg("failed to read path frame")
		return
	}
	pathMsg, err := wire.DecodeC2S(pathFrame)
	if err != nil {
		s.logger.Debug().Err(err).Msg("invalid path frame")
		return
	}
	pathReq, ok := pathMsg.(wire.Path)
	if !ok {
		s.logger.Debug().Msg("first message was not Path")
		return
	}

	_ = conn.SetDeadline(time.Time{})

	hub, err := s.reg.GetOrOpen(pathReq.Path)
	if err != nil {
		s.logger.Warn().Err(err).Str("path", pathReq.Path).Msg("failed to open document")
		return
	}

	sconn, full, peers, err := hub.Join(username, s.cfg)
	if err != nil {
		s.logger.Warn().Err(err).Msg("join failed")
		return
	}
	defer func() {
		hub.Leave(sconn)
		s.reg.CloseIdle(hub)
	}()

	if err := wsutil.WriteServerMessage(conn, ws.OpBinary, full); err != nil {
		return
	}
	for _, p := range peers {
		if err := wsutil.WriteServerMessage(conn, ws.OpBinary, p); err != nil {
			return
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.writePump(conn, sconn)
	}()

	s.readPump(conn, hub, sconn)
	sconn.SignalDone()
	<-done
}

func (s *Server) readPump(conn net.Conn, hub *session.Hub, sconn *session.Connection) {
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	for {
		msg, op, err := wsutil.ReadClientData(conn)
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		if op == ws.OpClose {
			return
		}
		if op != ws.OpBinary && op != ws.OpText {
			continue
		}

		if s.metrics != nil {
			s.metrics.MessagesReceived.Inc()
			s.metrics.BytesReceived.Add(float64(len(msg)))
		}

		if !sconn.Limiter.Allow() {
			if s.metrics != nil {
				s.metrics.RateLimited.Inc()
			}
			continue
		}

		c2s, err := wire.DecodeC2S(msg)
		if err != nil {
			s.logger.Debug().Err(err).Msg("decode error, closing connection")
			return
		}
		if err := hub.ApplyC2S(sconn.ClientID, c2s); err != nil {
			s.logger.Debug().Err(err).Msg("apply error, closing connection")
			return
		}
	}
}

func (s *Server) writePump(conn net.Conn, sconn *session.Connection) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case payload, ok := <-sconn.Send:
			if !ok {
				_ = wsutil.WriteServerMessage(conn, ws.OpClose, nil)
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsutil.WriteServerMessage(conn, ws.OpBinary, payload); err != nil {
				return
			}
			if s.metrics != nil {
				s.metrics.MessagesSent.Inc()
				s.metrics.BytesSent.Add(float64(len(payload)))
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsutil.WriteServerMessage(conn, ws.OpPing, nil); err != nil {
				return
			}
		case <-sconn.Done():
			return
		}
	}
}
