// Package tunnel implements the bidirectional transport endpoint: a
// WebSocket connection carrying the JSON frame wire format, on both
// the server's accept side and the agent's dial side. It is the sole
// concrete implementation of session.Conn in this repository.
package tunnel

import (
	"context"
	"fmt"

	"nhooyr.io/websocket"

	"github.com/tunnelforge/tunneld/internal/frame"
)

// wsConn adapts a *websocket.Conn to session.Conn, encoding and
// decoding the JSON frame envelope on a text-message boundary: one
// WebSocket message per logical frame.
type wsConn struct {
	ws            *websocket.Conn
	maxFrameBytes int
}

func newWSConn(ws *websocket.Conn, maxFrameBytes int) *wsConn {
	ws.SetReadLimit(int64(maxFrameBytes) + 1024) // small slack for base64 + envelope overhead
	return &wsConn{ws: ws, maxFrameBytes: maxFrameBytes}
}

func (c *wsConn) ReadFrame(ctx context.Context) (*frame.Frame, error) {
	typ, data, err := c.ws.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("tunnel: read: %w", err)
	}
	if typ != websocket.MessageText {
		return nil, fmt.Errorf("%w: non-text message type %v", frame.ErrMalformedFrame, typ)
	}
	return frame.Decode(data, c.maxFrameBytes)
}

func (c *wsConn) WriteFrame(ctx context.Context, f *frame.Frame) error {
	data, err := frame.Encode(f, c.maxFrameBytes)
	if err != nil {
		return err
	}
	if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("tunnel: write: %w", err)
	}
	return nil
}

func (c *wsConn) Close(kind, reason string) error {
	code := websocket.StatusNormalClosure
	if kind != frame.KindShutdown && kind != frame.KindAdminDelete && kind != "" {
		code = websocket.StatusPolicyViolation
	}
	return c.ws.Close(code, reason)
}
