// Package session implements the transport session: the pair of
// inbound/outbound pumps that run over one attached bidirectional
// connection, the pending-request correlation table, and the
// heartbeat that detects a silently dead peer.
package session

import (
	"context"

	"github.com/tunnelforge/tunneld/internal/frame"
)

// Conn is the minimal bidirectional frame stream a Session runs over.
// The concrete implementation (a WebSocket connection) lives in
// internal/transport/tunnel; Session itself only depends on this
// interface, which keeps the pump/heartbeat/correlation logic testable
// against an in-memory fake instead of a real socket.
type Conn interface {
	ReadFrame(ctx context.Context) (*frame.Frame, error)
	WriteFrame(ctx context.Context, f *frame.Frame) error
	// Close tears down the underlying connection. kind is one of the
	// frame.Kind* close-cause constants, carried in a best-effort
	// CLOSE frame before the socket is closed; reason is a short
	// human string for logs.
	Close(kind, reason string) error
}
