package session

import (
	"context"
	"sync"

	"github.com/tunnelforge/tunneld/internal/frame"
)

// pipeConn is an in-memory Conn, backed by a pair of buffered channels
// rather than net.Pipe so each side can be driven independently by a
// test: it lets two Sessions talk to each other, or a test script
// drive one side directly, without a real socket.
type pipeConn struct {
	name string

	mu     sync.Mutex
	closed bool

	in  chan *frame.Frame
	out chan *frame.Frame
}

func newPipePair() (a, b *pipeConn) {
	ab := make(chan *frame.Frame, 32)
	ba := make(chan *frame.Frame, 32)
	a = &pipeConn{name: "a", in: ba, out: ab}
	b = &pipeConn{name: "b", in: ab, out: ba}
	return a, b
}

func (p *pipeConn) ReadFrame(ctx context.Context) (*frame.Frame, error) {
	select {
	case f, ok := <-p.in:
		if !ok {
			return nil, errClosedPipe
		}
		return f, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *pipeConn) WriteFrame(ctx context.Context, f *frame.Frame) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return errClosedPipe
	}
	select {
	case p.out <- f:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeConn) Close(kind, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return nil
}

type pipeClosedError struct{}

func (pipeClosedError) Error() string { return "pipe closed" }

var errClosedPipe = pipeClosedError{}
