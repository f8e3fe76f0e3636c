package tunnel

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"nhooyr.io/websocket"

	"github.com/tunnelforge/tunneld/internal/frame"
	"github.com/tunnelforge/tunneld/internal/session"
)

// DialAndAttach dials the server's connect endpoint for id, sends the
// attach handshake with token, and returns a Session ready to Run
// once CONTROL(ack) is observed. Handler is installed on the returned
// session so inbound HTTP_REQUEST frames reach the agent's local
// dispatcher.
func DialAndAttach(ctx context.Context, serverURL, id, token string, handler session.Handler, opts ...ClientOption) (*session.Session, error) {
	c := &clientConfig{
		heartbeatInterval:   10 * time.Second,
		heartbeatMissThresh: 3,
		maxFrameBytes:       frame.DefaultMaxBytes,
		log:                 slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}

	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("tunnel: parse server url: %w", err)
	}
	u.Path = fmt.Sprintf("/api/tunnel/connect/%s", id)

	ws, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("tunnel: dial: %w", err)
	}

	conn := newWSConn(ws, c.maxFrameBytes)

	if err := conn.WriteFrame(ctx, &frame.Frame{Type: frame.TypeAttach, AuthToken: token}); err != nil {
		_ = ws.Close(websocket.StatusInternalError, "attach write failed")
		return nil, fmt.Errorf("tunnel: send attach: %w", err)
	}

	reply, err := conn.ReadFrame(ctx)
	if err != nil {
		_ = ws.Close(websocket.StatusInternalError, "attach reply read failed")
		return nil, fmt.Errorf("tunnel: read attach reply: %w", err)
	}
	switch reply.Type {
	case frame.TypeAck:
		// proceed
	case frame.TypeError:
		_ = ws.Close(websocket.StatusPolicyViolation, reply.Kind)
		return nil, fmt.Errorf("tunnel: attach rejected: %s: %s", reply.Kind, reply.Message)
	default:
		_ = ws.Close(websocket.StatusProtocolError, "unexpected reply")
		return nil, fmt.Errorf("tunnel: unexpected attach reply type %q", reply.Type)
	}

	sessOpts := []session.Option{
		session.WithHandler(handler),
		session.WithHeartbeat(c.heartbeatInterval, c.heartbeatMissThresh),
		session.WithLogger(c.log),
	}
	if c.onHeartbeatMiss != nil {
		sessOpts = append(sessOpts, session.WithHeartbeatMissHook(c.onHeartbeatMiss))
	}
	if c.drainTimeout > 0 {
		sessOpts = append(sessOpts, session.WithDrainTimeout(c.drainTimeout))
	}
	sess := session.New(conn, sessOpts...)
	return sess, nil
}

type clientConfig struct {
	heartbeatInterval   time.Duration
	heartbeatMissThresh int
	maxFrameBytes       int
	drainTimeout        time.Duration
	log                 *slog.Logger
	onHeartbeatMiss     func()
}

// ClientOption configures DialAndAttach.
type ClientOption func(*clientConfig)

func WithClientHeartbeat(interval time.Duration, missThreshold int) ClientOption {
	return func(c *clientConfig) {
		c.heartbeatInterval = interval
		c.heartbeatMissThresh = missThreshold
	}
}

func WithClientMaxFrameBytes(n int) ClientOption {
	return func(c *clientConfig) { c.maxFrameBytes = n }
}

func WithClientLogger(l *slog.Logger) ClientOption {
	return func(c *clientConfig) { c.log = l }
}

// WithClientHeartbeatMissHook registers a callback invoked once per
// missed heartbeat interval.
func WithClientHeartbeatMissHook(f func()) ClientOption {
	return func(c *clientConfig) { c.onHeartbeatMiss = f }
}

// WithClientDrainTimeout bounds how long the session waits, once its
// Run context is canceled, for in-flight local dispatch calls to
// finish before the transport is torn down.
func WithClientDrainTimeout(d time.Duration) ClientOption {
	return func(c *clientConfig) { c.drainTimeout = d }
}
