// Package server is the WebSocket transport: it authenticates connections,
// upgrades them, and bridges raw frames to the per-client session. The
// read/write/ping loops run as separate goroutines per connection with a done
// channel, draining outstanding messages on close.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/vocata-ai/vocata/internal/config"
	"github.com/vocata-ai/vocata/internal/observe"
	"github.com/vocata-ai/vocata/internal/protocol"
	"github.com/vocata-ai/vocata/internal/session"
)

// Connection tuning.
const (
	// writeTimeout bounds a single outbound frame write.
	writeTimeout = 10 * time.Second

	// readLimit bounds one inbound frame; generous enough for several seconds
	// of PCM16 in a single binary frame.
	readLimit = 1 << 20

	// missedPongLimit closes the connection after this many consecutive
	// failed pings.
	missedPongLimit = 2
)

// Server accepts WebSocket connections and runs one session per client.
type Server struct {
	cfg     *config.Config
	auth    *Authenticator
	deps    session.Deps
	manager *session.Manager
	logger  *slog.Logger
	metrics *observe.Metrics
}

// Option is a functional option for configuring a Server.
type Option func(*Server)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithMetrics sets the metrics sink. Defaults to observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// New creates a Server. It fails when the auth configuration is unusable
// (bad PEM, malformed allow-list).
func New(cfg *config.Config, deps session.Deps, opts ...Option) (*Server, error) {
	auth, err := NewAuthenticator(cfg.Auth)
	if err != nil {
		return nil, err
	}
	s := &Server{
		cfg:     cfg,
		auth:    auth,
		deps:    deps,
		logger:  slog.Default(),
		metrics: observe.DefaultMetrics(),
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = s.logger.With("component", "server")
	s.manager = session.NewManager(s.logger, s.metrics)
	return s, nil
}

// Manager returns the live-session registry.
func (s *Server) Manager() *session.Manager { return s.manager }

// Handler returns the WebSocket upgrade handler.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.handleUpgrade)
}

// Run listens on the configured address until ctx is cancelled, then closes
// every session and shuts the listener down.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	httpSrv := &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("websocket server listening", "addr", addr)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen on %s: %w", addr, err)
	case <-ctx.Done():
	}

	s.manager.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

// handleUpgrade authenticates and upgrades one connection. The IP allow-list
// is enforced before the upgrade; token validation happens after so the
// client receives the 4401 close code the protocol promises.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if err := s.auth.AllowIP(r.RemoteAddr); err != nil {
		s.logger.Warn("connection refused by allow-list", "remote", r.RemoteAddr)
		s.metrics.RecordWireError(r.Context(), string(protocol.ErrUnauthorized))
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Clients are devices and native apps, not browsers; origin checks
		// do not apply.
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	conn.SetReadLimit(readLimit)

	if err := s.auth.ValidateToken(clientToken(r)); err != nil {
		s.logger.Warn("authentication failed", "remote", r.RemoteAddr)
		s.metrics.RecordWireError(r.Context(), string(protocol.ErrUnauthorized))
		conn.Close(websocket.StatusCode(protocol.CloseUnauthorized), "unauthorized")
		return
	}

	s.serveConn(r.Context(), conn, r.RemoteAddr)
}

// serveConn runs the session for one authenticated connection and blocks
// until it ends.
func (s *Server) serveConn(ctx context.Context, conn *websocket.Conn, remote string) {
	sess := session.New(uuid.NewString(), s.cfg, s.deps,
		session.WithLogger(s.logger), session.WithMetrics(s.metrics))
	s.manager.Add(sess)
	defer s.manager.Remove(sess.ID())

	s.logger.Info("client connected", "session_id", sess.ID(), "remote", remote)

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go s.writeLoop(connCtx, conn, sess)
	go s.pingLoop(connCtx, conn, sess)
	s.readLoop(connCtx, conn, sess)

	<-sess.Done()
	sess.Wait()
	s.logger.Info("client disconnected", "session_id", sess.ID())
}

// readLoop decodes inbound frames until the connection or session ends.
func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, sess *session.Session) {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			// Client went away, closed cleanly, or the session ended.
			sess.Close()
			return
		}

		switch typ {
		case websocket.MessageText:
			msg, perr := protocol.ParseClientMessage(data)
			if perr != nil {
				s.metrics.RecordWireError(ctx, string(protocol.ErrInvalidMessage))
				sess.Emit(protocol.NewError(protocol.ErrInvalidMessage, "malformed message"))
				continue
			}
			sess.HandleControl(msg)

		case websocket.MessageBinary:
			if !sess.Features().BinaryAudio {
				s.metrics.RecordDropped(ctx, "binary_not_negotiated")
				continue
			}
			frame, derr := protocol.DecodeBinaryFrame(data)
			if derr != nil {
				s.metrics.RecordDropped(ctx, "malformed_binary_frame")
				continue
			}
			sess.HandleAudioFrame(frame.StreamID, frame.Sequence, frame.PCM)
		}
	}
}

// writeLoop drains the session's outbound queue onto the wire. When the
// session ends it flushes what is queued, then sends the close frame.
func (s *Server) writeLoop(ctx context.Context, conn *websocket.Conn, sess *session.Session) {
	write := func(msg any) error {
		data, err := json.Marshal(msg)
		if err != nil {
			s.logger.Error("marshal outbound message", "error", err)
			return nil
		}
		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		defer cancel()
		return conn.Write(wctx, websocket.MessageText, data)
	}

	for {
		select {
		case msg := <-sess.Outbound():
			if err := write(msg); err != nil {
				sess.Close()
				return
			}
		case <-sess.Done():
			for {
				select {
				case msg := <-sess.Outbound():
					if err := write(msg); err != nil {
						return
					}
				default:
					code, reason := sess.CloseStatus()
					conn.Close(websocket.StatusCode(code), reason)
					return
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

// pingLoop enforces liveness; missedPongLimit consecutive failed pings close
// the connection with a server-error code.
func (s *Server) pingLoop(ctx context.Context, conn *websocket.Conn, sess *session.Session) {
	interval := s.cfg.Server.PingInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	missed := 0
	for {
		select {
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, interval)
			err := conn.Ping(pctx)
			cancel()
			if err == nil {
				missed = 0
				continue
			}
			if errors.Is(ctx.Err(), context.Canceled) {
				return
			}
			missed++
			if missed >= missedPongLimit {
				s.logger.Warn("ping timeout, closing connection", "session_id", sess.ID())
				sess.CloseWithStatus(protocol.CloseServerError, "ping timeout")
				return
			}
		case <-sess.Done():
			return
		case <-ctx.Done():
			return
		}
	}
}
