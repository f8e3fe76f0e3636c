package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tunnelforge/tunneld/internal/clock"
	"github.com/tunnelforge/tunneld/internal/frame"
)

// terminationKindForErr classifies a ReadFrame or WriteFrame failure
// into a close-cause kind, falling back to PEER_CLOSE for ordinary
// network errors and context cancellation. A frame that is too large
// to encode or decode tears the session down with FRAME_TOO_LARGE
// regardless of which pump hit it.
func terminationKindForErr(err error) string {
	switch {
	case errors.Is(err, frame.ErrFrameTooLarge):
		return frame.KindFrameTooLarge
	case errors.Is(err, frame.ErrMalformedFrame), errors.Is(err, frame.ErrUnknownType), errors.Is(err, frame.ErrFieldMissing):
		return frame.KindMalformedFrame
	default:
		return frame.KindPeerClose
	}
}

const (
	defaultHeartbeatInterval     = 10 * time.Second
	defaultHeartbeatMissThresh   = 3
	defaultOutboundQueueCapacity = 64
)

// Handler processes an inbound HTTP_REQUEST frame and produces the
// HTTP_RESPONSE frame to send back. Only the agent side of a session
// installs one; a server-side session that receives a request frame
// (it never should, by protocol) treats it as a protocol error.
type Handler interface {
	HandleRequest(ctx context.Context, req *frame.Frame) *frame.Frame
}

// Session runs the inbound/outbound pumps, the pending-request
// correlation table, and the heartbeat over one attached Conn. The
// same implementation serves both the server's per-tunnel session and
// the agent's session; only the Handler differs by role.
type Session struct {
	conn    Conn
	handler Handler
	clock   clock.Clock
	log     *slog.Logger

	heartbeatInterval   time.Duration
	heartbeatMissThresh int
	maxFrameBytes       int
	drainTimeout        time.Duration

	onActivity      func()
	onDroppedLate   func()
	onHeartbeatMiss func()

	outbound chan *frame.Frame
	pending  *pendingTable

	missedPongs atomic.Int32
	lastTag     atomic.Int64
	dispatchWG  sync.WaitGroup

	// dispatchCtx bounds running Handler.HandleRequest calls. It is
	// independent of Run's ctx so that a request already dispatched
	// keeps running through the drain grace window instead of being
	// aborted the instant shutdown begins; Terminate cancels it.
	dispatchCtx    context.Context
	cancelDispatch context.CancelFunc

	// pumpCtx governs the blocking conn reads/writes. It is likewise
	// independent of Run's ctx: a canceled Run ctx must trigger a
	// drain, not an instant read/write abort, so only Terminate's
	// conn.Close (or a pump's own error) ends a pump.
	pumpCtx    context.Context
	cancelPump context.CancelFunc

	closeOnce sync.Once
	doneCh    chan struct{}
	cause     atomic.Value // string
}

// Option configures a Session at construction time.
type Option func(*Session)

func WithHandler(h Handler) Option { return func(s *Session) { s.handler = h } }

func WithClock(c clock.Clock) Option { return func(s *Session) { s.clock = c } }

func WithLogger(l *slog.Logger) Option { return func(s *Session) { s.log = l } }

// WithHeartbeat overrides the default 10s interval / 3-miss threshold.
func WithHeartbeat(interval time.Duration, missThreshold int) Option {
	return func(s *Session) {
		s.heartbeatInterval = interval
		s.heartbeatMissThresh = missThreshold
	}
}

// WithActivityHook registers a callback invoked after every inbound or
// outbound frame, the mechanism by which the registry's Touch is
// driven without session importing registry.
func WithActivityHook(f func()) Option { return func(s *Session) { s.onActivity = f } }

// WithDroppedLateHook registers a callback invoked when a response
// frame arrives for a correlation id with no live waiter.
func WithDroppedLateHook(f func()) Option { return func(s *Session) { s.onDroppedLate = f } }

// WithHeartbeatMissHook registers a callback invoked every time a
// heartbeat interval elapses without a received pong since the last
// reset, before the miss threshold is reached.
func WithHeartbeatMissHook(f func()) Option { return func(s *Session) { s.onHeartbeatMiss = f } }

// WithDrainTimeout bounds how long Run waits, once its context is
// canceled, for in-flight dispatchRequest calls (a handler's
// HandleRequest still running) to finish before tearing the session
// down. Zero means terminate immediately with no wait.
func WithDrainTimeout(d time.Duration) Option { return func(s *Session) { s.drainTimeout = d } }

// New constructs a Session bound to conn. The session does not start
// its pumps until Run is called.
func New(conn Conn, opts ...Option) *Session {
	s := &Session{
		conn:                conn,
		clock:               clock.Real{},
		log:                 slog.New(slog.DiscardHandler),
		heartbeatInterval:   defaultHeartbeatInterval,
		heartbeatMissThresh: defaultHeartbeatMissThresh,
		outbound:            make(chan *frame.Frame, defaultOutboundQueueCapacity),
		pending:             newPendingTable(),
		doneCh:              make(chan struct{}),
	}
	s.dispatchCtx, s.cancelDispatch = context.WithCancel(context.Background())
	s.pumpCtx, s.cancelPump = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("component", "session")
	return s
}

// Run starts the inbound pump, outbound pump, and heartbeat loop, and
// blocks until the session terminates for any reason. It always
// returns a non-nil error describing the termination cause; a clean
// detach/shutdown is reported via ErrSessionClosed wrapping the cause.
func (s *Session) Run(ctx context.Context) error {
	g, pctx := errgroup.WithContext(s.pumpCtx)
	g.Go(func() error { return s.inboundPump(pctx) })
	g.Go(func() error { return s.outboundPump(pctx) })
	g.Go(func() error { return s.heartbeatLoop(pctx) })

	go func() {
		<-ctx.Done()
		s.drainAndTerminate(frame.KindShutdown)
	}()

	<-s.doneCh
	s.cancelPump()
	_ = g.Wait()

	cause, _ := s.cause.Load().(string)
	return fmt.Errorf("%w: %s", ErrSessionClosed, cause)
}

// Done returns a channel closed once the session has terminated.
func (s *Session) Done() <-chan struct{} { return s.doneCh }

// drainAndTerminate waits up to drainTimeout for in-flight
// dispatchRequest calls to finish delivering their responses, then
// terminates with kind regardless of whether they all completed.
func (s *Session) drainAndTerminate(kind string) {
	if s.drainTimeout > 0 {
		drained := make(chan struct{})
		go func() {
			s.dispatchWG.Wait()
			close(drained)
		}()
		select {
		case <-drained:
		case <-time.After(s.drainTimeout):
			s.log.Warn("drain timeout exceeded, terminating with requests still in flight", "kind", kind)
		}
	}
	s.Terminate(kind)
}

// Terminate closes the session with the given close kind. It is safe
// to call multiple times and from any goroutine; only the first call
// has effect. Terminate satisfies registry.Session.
func (s *Session) Terminate(kind string) {
	s.closeOnce.Do(func() {
		s.cause.Store(kind)
		s.cancelDispatch()
		s.pending.failAll(ErrSessionClosed)
		_ = s.conn.Close(kind, kind)
		close(s.doneCh)
	})
}

// SendRequest enqueues req for transmission and waits for the
// correlated response up to deadline. On timeout the waiter is
// removed so a later-arriving response is dropped by the inbound pump
// rather than delivered here.
func (s *Session) SendRequest(ctx context.Context, req *frame.Frame, deadline time.Time) (*frame.Frame, error) {
	ch := s.pending.insert(req.ID)

	select {
	case s.outbound <- req:
	case <-s.doneCh:
		s.pending.remove(req.ID)
		return nil, ErrSessionClosed
	case <-ctx.Done():
		s.pending.remove(req.ID)
		return nil, ctx.Err()
	}

	timer := s.clock.NewTimer(deadline.Sub(s.clock.Now()))
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		return res.f, nil
	case <-timer.C():
		s.pending.remove(req.ID)
		return nil, ErrTimeout
	case <-s.doneCh:
		return nil, ErrSessionClosed
	case <-ctx.Done():
		s.pending.remove(req.ID)
		return nil, ctx.Err()
	}
}

func (s *Session) touch() {
	if s.onActivity != nil {
		s.onActivity()
	}
}

func (s *Session) inboundPump(ctx context.Context) error {
	for {
		f, err := s.conn.ReadFrame(ctx)
		if err != nil {
			s.Terminate(terminationKindForErr(err))
			return err
		}
		s.touch()

		switch f.Type {
		case frame.TypeResponse:
			if !s.pending.complete(f.ID, f) {
				if s.onDroppedLate != nil {
					s.onDroppedLate()
				}
			}
		case frame.TypeRequest:
			if s.handler == nil {
				s.log.Warn("request frame received with no handler installed", "id", f.ID)
				s.Terminate(frame.KindProtocol)
				return fmt.Errorf("session: unexpected request frame")
			}
			s.dispatchWG.Add(1)
			go s.dispatchRequest(f)
		case frame.TypePong:
			s.missedPongs.Store(0)
		case frame.TypePing:
			select {
			case s.outbound <- &frame.Frame{Type: frame.TypePong, Tag: f.Tag}:
			case <-s.doneCh:
			}
		case frame.TypeClose:
			s.Terminate(f.Kind)
			return fmt.Errorf("session: peer closed: %s", f.Kind)
		default:
			s.Terminate(frame.KindProtocol)
			return fmt.Errorf("session: unexpected frame type %q", f.Type)
		}
	}
}

func (s *Session) dispatchRequest(req *frame.Frame) {
	defer s.dispatchWG.Done()
	resp := s.handler.HandleRequest(s.dispatchCtx, req)
	if resp == nil {
		return
	}
	select {
	case s.outbound <- resp:
	case <-s.doneCh:
	}
}

func (s *Session) outboundPump(ctx context.Context) error {
	for {
		select {
		case f := <-s.outbound:
			if err := s.conn.WriteFrame(ctx, f); err != nil {
				s.Terminate(terminationKindForErr(err))
				return err
			}
			s.touch()
		case <-s.doneCh:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

func (s *Session) heartbeatLoop(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C():
			outstanding := int(s.missedPongs.Add(1))
			if outstanding > s.heartbeatMissThresh {
				s.Terminate(frame.KindHeartbeatTimeout)
				return fmt.Errorf("session: heartbeat timeout")
			}
			// The previous ping is still unanswered a full interval later.
			if outstanding > 1 && s.onHeartbeatMiss != nil {
				s.onHeartbeatMiss()
			}
			tag := s.lastTag.Add(1)
			select {
			case s.outbound <- &frame.Frame{Type: frame.TypePing, Tag: tag}:
			case <-s.doneCh:
				return nil
			case <-ctx.Done():
				return nil
			}
		case <-s.doneCh:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}
