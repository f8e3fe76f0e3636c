package tunnel

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"github.com/tunnelforge/tunneld/internal/frame"
	"github.com/tunnelforge/tunneld/internal/registry"
	"github.com/tunnelforge/tunneld/internal/session"
)

// Server handles the inbound WebSocket upgrade at
// /api/tunnel/connect/{id}: it performs the attach handshake and then
// runs the resulting Session to completion.
type Server struct {
	reg *registry.Registry
	log *slog.Logger

	heartbeatInterval   time.Duration
	heartbeatMissThresh int
	maxFrameBytes       int
	onHeartbeatMiss     func()
}

// ServerOption configures a Server at construction time.
type ServerOption func(*Server)

func WithServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.log = l }
}

func WithServerHeartbeat(interval time.Duration, missThreshold int) ServerOption {
	return func(s *Server) {
		s.heartbeatInterval = interval
		s.heartbeatMissThresh = missThreshold
	}
}

func WithServerMaxFrameBytes(n int) ServerOption {
	return func(s *Server) { s.maxFrameBytes = n }
}

// WithServerHeartbeatMissHook registers a callback invoked once per
// missed heartbeat interval on every session this Server runs, the
// mechanism by which metrics.HeartbeatMiss is wired without this
// package importing metrics.
func WithServerHeartbeatMissHook(f func()) ServerOption {
	return func(s *Server) { s.onHeartbeatMiss = f }
}

func NewServer(reg *registry.Registry, opts ...ServerOption) *Server {
	s := &Server{
		reg:                 reg,
		log:                 slog.New(slog.DiscardHandler),
		heartbeatInterval:   10 * time.Second,
		heartbeatMissThresh: 3,
		maxFrameBytes:       frame.DefaultMaxBytes,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("component", "tunnel.server")
	return s
}

// ServeHTTP upgrades the request to a WebSocket, runs the attach
// handshake, and then blocks running the session until it terminates.
// id is the tunnel identifier extracted from the request path by the
// caller's router.
func (s *Server) ServeHTTP(id string, w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		s.log.Warn("websocket accept failed", "tunnel_id", id, "error", err)
		return
	}

	ctx := r.Context()
	conn := newWSConn(ws, s.maxFrameBytes)

	first, err := conn.ReadFrame(ctx)
	if err != nil {
		s.log.Warn("attach handshake read failed", "tunnel_id", id, "error", err)
		_ = ws.Close(websocket.StatusProtocolError, "expected attach frame")
		return
	}
	if first.Type != frame.TypeAttach {
		s.log.Warn("first frame was not attach", "tunnel_id", id, "type", first.Type)
		_ = conn.WriteFrame(ctx, &frame.Frame{Type: frame.TypeError, Kind: frame.KindProtocol, Message: "first frame must be attach"})
		_ = ws.Close(websocket.StatusProtocolError, "expected attach frame")
		return
	}

	sessOpts := []session.Option{
		session.WithHeartbeat(s.heartbeatInterval, s.heartbeatMissThresh),
		session.WithActivityHook(func() { s.reg.Touch(id) }),
		session.WithDroppedLateHook(func() { s.reg.IncrDroppedLate(id) }),
		session.WithLogger(s.log.With("tunnel_id", id)),
	}
	if s.onHeartbeatMiss != nil {
		sessOpts = append(sessOpts, session.WithHeartbeatMissHook(s.onHeartbeatMiss))
	}
	sess := session.New(conn, sessOpts...)

	if err := s.reg.Attach(id, first.AuthToken, sess); err != nil {
		kind := attachErrorKind(err)
		_ = conn.WriteFrame(ctx, &frame.Frame{Type: frame.TypeError, Kind: kind, Message: err.Error()})
		_ = ws.Close(websocket.StatusPolicyViolation, kind)
		s.log.Info("attach rejected", "tunnel_id", id, "kind", kind)
		return
	}

	if err := conn.WriteFrame(ctx, &frame.Frame{Type: frame.TypeAck}); err != nil {
		s.reg.Detach(id, sess)
		return
	}

	s.log.Info("session attached", "tunnel_id", id)
	_ = sess.Run(ctx)
	s.reg.Detach(id, sess)
	s.log.Info("session ended", "tunnel_id", id)
}

func attachErrorKind(err error) string {
	var domainErr *registry.DomainError
	if errors.As(err, &domainErr) {
		switch domainErr.Code {
		case registry.CodeNotFound:
			return frame.KindUnknownID
		case registry.CodeBadToken:
			return frame.KindBadToken
		case registry.CodeAlreadyAttached:
			return frame.KindAlreadyAttached
		case registry.CodeCapacityExceeded:
			return frame.KindCapacity
		}
	}
	return frame.KindProtocol
}

// TunnelIDFromPath extracts the {id} segment from a connect path of
// the form /api/tunnel/connect/{id}.
func TunnelIDFromPath(prefix, path string) (string, bool) {
	rest, ok := strings.CutPrefix(path, prefix)
	if !ok || rest == "" {
		return "", false
	}
	return strings.Trim(rest, "/"), true
}
