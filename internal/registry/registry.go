// Package registry implements the tunnel registry: the process-wide
// keyed store of tunnel descriptors, their attach lifecycle, capacity
// enforcement, and idle eviction sweep.
package registry

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tunnelforge/tunneld/internal/clock"
	"github.com/tunnelforge/tunneld/internal/frame"
)

const (
	defaultMaxTunnels  = 100
	defaultIdleTimeout = 120 * time.Second
)

// entry is the internal, mutable record behind one Descriptor. It
// carries its own mutex so that attach/detach on one tunnel never
// blocks a lookup or attach on another, the same two-tier locking the
// teacher uses for its cluster map and session store.
type entry struct {
	mu sync.Mutex

	id        string
	token     string
	name      string
	localPort int
	metadata  map[string]string
	createdAt time.Time

	lastActive time.Time
	session    Session

	stats Stats
}

func (e *entry) snapshot() Descriptor {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Descriptor{
		ID:         e.id,
		Name:       e.name,
		LocalPort:  e.localPort,
		Metadata:   e.metadata,
		CreatedAt:  e.createdAt,
		LastActive: e.lastActive,
		Connected:  e.session != nil,
	}
}

// Registry is the process-wide tunnel store. The zero value is not
// usable; construct with New.
type Registry struct {
	log *slog.Logger

	mu      sync.RWMutex
	entries map[string]*entry

	maxTunnels  int
	idleTimeout time.Duration
	clock       clock.Clock
}

// Option configures a Registry at construction time, following the
// functional-options idiom used throughout this module's transport
// and tunnel packages.
type Option func(*Registry)

// WithMaxTunnels overrides the default capacity cap (100).
func WithMaxTunnels(n int) Option {
	return func(r *Registry) { r.maxTunnels = n }
}

// WithIdleTimeout overrides the default idle-unattached eviction
// window (120s).
func WithIdleTimeout(d time.Duration) Option {
	return func(r *Registry) { r.idleTimeout = d }
}

// WithClock injects a Clock, defaulting to clock.Real. Tests use
// clock.Manual to control Sweep's notion of "now" deterministically.
func WithClock(c clock.Clock) Option {
	return func(r *Registry) { r.clock = c }
}

// WithLogger overrides the default discard logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.log = l }
}

// New builds an empty Registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		entries:     make(map[string]*entry),
		maxTunnels:  defaultMaxTunnels,
		idleTimeout: defaultIdleTimeout,
		clock:       clock.Real{},
		log:         slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.With("component", "registry")
	return r
}

// Create allocates a fresh id and attach token and inserts an
// unattached descriptor. Fails with ErrCapacity once maxTunnels is
// reached.
func (r *Registry) Create(spec CreateSpec) (id, token string, snap Descriptor, err error) {
	r.mu.Lock()
	if len(r.entries) >= r.maxTunnels {
		r.mu.Unlock()
		return "", "", Descriptor{}, ErrCapacity
	}

	id = uuid.NewString()
	token, err = generateToken()
	if err != nil {
		r.mu.Unlock()
		return "", "", Descriptor{}, WrapDomainError(CodeInternal, "generate attach token", err)
	}

	now := r.clock.Now()
	e := &entry{
		id:         id,
		token:      token,
		name:       spec.Name,
		localPort:  spec.LocalPort,
		metadata:   spec.Metadata,
		createdAt:  now,
		lastActive: now,
	}
	r.entries[id] = e
	r.mu.Unlock()

	r.log.Info("tunnel created", "tunnel_id", id, "name", spec.Name)
	return id, token, e.snapshot(), nil
}

// Attach is the sole single-writer gate for session installation,
// serialized per tunnel id by the entry's own mutex so that attach
// attempts on distinct tunnels never contend with each other.
func (r *Registry) Attach(id, token string, sess Session) error {
	e := r.find(id)
	if e == nil {
		return ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.token != token {
		return ErrBadToken
	}
	if e.session != nil {
		return ErrAlreadyAttached
	}
	e.session = sess
	e.lastActive = r.clock.Now()
	r.log.Info("tunnel attached", "tunnel_id", id)
	return nil
}

// Detach clears the attached session iff it still matches sess,
// guarding against a race between a stale session's teardown and a
// newer reconnect's attach. Idempotent: detaching twice, or detaching
// a tunnel that was never attached, is a no-op.
func (r *Registry) Detach(id string, sess Session) {
	e := r.find(id)
	if e == nil {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session != sess {
		return
	}
	e.session = nil
	r.log.Info("tunnel detached", "tunnel_id", id)
}

// Delete removes the descriptor outright and, if attached, terminates
// its session with ADMIN_DELETE. Deleting an id that does not exist is
// a silent no-op, making two Delete calls for the same id produce the
// same terminal state.
func (r *Registry) Delete(id string) {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.entries, id)
	r.mu.Unlock()

	e.mu.Lock()
	sess := e.session
	e.session = nil
	e.mu.Unlock()

	if sess != nil {
		sess.Terminate("ADMIN_DELETE")
	}
	r.log.Info("tunnel deleted", "tunnel_id", id)
}

// Lookup is a non-blocking read of the current descriptor snapshot.
func (r *Registry) Lookup(id string) (Descriptor, bool) {
	e := r.find(id)
	if e == nil {
		return Descriptor{}, false
	}
	return e.snapshot(), true
}

// Touch updates last-active to now. Called by the transport session
// on every inbound or outbound frame it observes; last-activity is
// non-decreasing while attached. Reports false if the tunnel no
// longer exists.
func (r *Registry) Touch(id string) bool {
	e := r.find(id)
	if e == nil {
		return false
	}
	now := r.clock.Now()
	e.mu.Lock()
	if now.After(e.lastActive) {
		e.lastActive = now
	}
	e.mu.Unlock()
	return true
}

// AuthorizeAttach validates an id/token pair without installing a
// session, used by the transport endpoint to decide whether to
// upgrade the connection before the attach handshake completes.
func (r *Registry) AuthorizeAttach(id, token string) error {
	e := r.find(id)
	if e == nil {
		return ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.token != token {
		return ErrBadToken
	}
	if e.session != nil {
		return ErrAlreadyAttached
	}
	return nil
}

// SendRequest forwards to the attached session's SendRequest, the
// bridge the proxy pipeline uses without ever holding a session
// reference of its own. Returns a DomainError with CodeNotFound or
// CodeNotConnected when there is no live session to send through.
func (r *Registry) SendRequest(ctx context.Context, id string, req *frame.Frame, deadline time.Time) (*frame.Frame, error) {
	e := r.find(id)
	if e == nil {
		return nil, ErrNotFound
	}
	e.mu.Lock()
	sess := e.session
	e.mu.Unlock()
	if sess == nil {
		return nil, NewDomainError(CodeNotConnected, "tunnel has no attached session")
	}
	return sess.SendRequest(ctx, req, deadline)
}

// List returns a point-in-time copy of every descriptor, used by the
// control plane's list endpoint only.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	ids := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		ids = append(ids, e)
	}
	r.mu.RUnlock()

	out := make([]Descriptor, 0, len(ids))
	for _, e := range ids {
		out = append(out, e.snapshot())
	}
	return out
}

// Sweep removes descriptors that are unattached and whose last-active
// time is older than idleTimeout relative to now. It returns the
// number evicted and never panics or returns an error: the scheduler
// that drives it must be able to call it forever without special
// handling.
func (r *Registry) Sweep(now time.Time) int {
	var toDelete []string

	r.mu.RLock()
	for id, e := range r.entries {
		e.mu.Lock()
		idle := e.session == nil && now.Sub(e.lastActive) > r.idleTimeout
		e.mu.Unlock()
		if idle {
			toDelete = append(toDelete, id)
		}
	}
	r.mu.RUnlock()

	for _, id := range toDelete {
		r.Delete(id)
	}
	if len(toDelete) > 0 {
		r.log.Info("sweep evicted idle tunnels", "count", len(toDelete))
	}
	return len(toDelete)
}

// Stats returns the operational counter snapshot for one tunnel.
func (r *Registry) Stats(id string) (Stats, bool) {
	e := r.find(id)
	if e == nil {
		return Stats{}, false
	}
	return Stats{
		RequestsProxied: atomic.LoadInt64(&e.stats.RequestsProxied),
		Timeouts:        atomic.LoadInt64(&e.stats.Timeouts),
		DroppedLate:     atomic.LoadInt64(&e.stats.DroppedLate),
		BytesIn:         atomic.LoadInt64(&e.stats.BytesIn),
		BytesOut:        atomic.LoadInt64(&e.stats.BytesOut),
	}, true
}

func (r *Registry) IncrRequests(id string)    { r.incrStat(id, func(s *Stats) { atomic.AddInt64(&s.RequestsProxied, 1) }) }
func (r *Registry) IncrTimeouts(id string)    { r.incrStat(id, func(s *Stats) { atomic.AddInt64(&s.Timeouts, 1) }) }
func (r *Registry) IncrDroppedLate(id string) { r.incrStat(id, func(s *Stats) { atomic.AddInt64(&s.DroppedLate, 1) }) }

func (r *Registry) AddBytesIn(id string, n int64) {
	r.incrStat(id, func(s *Stats) { atomic.AddInt64(&s.BytesIn, n) })
}

func (r *Registry) AddBytesOut(id string, n int64) {
	r.incrStat(id, func(s *Stats) { atomic.AddInt64(&s.BytesOut, n) })
}

func (r *Registry) incrStat(id string, f func(*Stats)) {
	e := r.find(id)
	if e == nil {
		return
	}
	f(&e.stats)
}

func (r *Registry) find(id string) *entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[id]
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
