package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tunnelforge/tunneld/internal/clock"
	"github.com/tunnelforge/tunneld/internal/frame"
)

type fakeSession struct {
	terminated chan string
}

func newFakeSession() *fakeSession {
	return &fakeSession{terminated: make(chan string, 1)}
}

func (f *fakeSession) Terminate(kind string) {
	select {
	case f.terminated <- kind:
	default:
	}
}

func (f *fakeSession) SendRequest(_ context.Context, _ *frame.Frame, _ time.Time) (*frame.Frame, error) {
	return nil, nil
}

func TestCreateAssignsUniqueIDAndToken(t *testing.T) {
	t.Parallel()

	r := New()
	id1, token1, snap1, err := r.Create(CreateSpec{Name: "a"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	id2, token2, _, err := r.Create(CreateSpec{Name: "b"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if id1 == id2 {
		t.Fatalf("expected distinct ids, got %q twice", id1)
	}
	if token1 == token2 {
		t.Fatalf("expected distinct tokens")
	}
	if snap1.Connected {
		t.Fatalf("freshly created tunnel should not be connected")
	}
}

func TestCreateCapacityExceeded(t *testing.T) {
	t.Parallel()

	r := New(WithMaxTunnels(1))
	if _, _, _, err := r.Create(CreateSpec{}); err != nil {
		t.Fatalf("first Create: %v", err)
	}
	_, _, _, err := r.Create(CreateSpec{})
	if !errors.Is(err, ErrCapacity) {
		t.Fatalf("expected ErrCapacity, got %v", err)
	}
}

func TestAttachGatesOnTokenAndSingleWriter(t *testing.T) {
	t.Parallel()

	r := New()
	id, token, _, err := r.Create(CreateSpec{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := r.Attach(id, "wrong-token", newFakeSession()); !errors.Is(err, ErrBadToken) {
		t.Fatalf("expected ErrBadToken, got %v", err)
	}

	sessA := newFakeSession()
	if err := r.Attach(id, token, sessA); err != nil {
		t.Fatalf("first Attach: %v", err)
	}

	sessB := newFakeSession()
	if err := r.Attach(id, token, sessB); !errors.Is(err, ErrAlreadyAttached) {
		t.Fatalf("expected ErrAlreadyAttached, got %v", err)
	}

	snap, ok := r.Lookup(id)
	if !ok || !snap.Connected {
		t.Fatalf("expected connected descriptor, got %+v (ok=%v)", snap, ok)
	}
}

func TestAttachUnknownID(t *testing.T) {
	t.Parallel()

	r := New()
	if err := r.Attach("does-not-exist", "x", newFakeSession()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDetachOnlyClearsMatchingSession(t *testing.T) {
	t.Parallel()

	r := New()
	id, token, _, _ := r.Create(CreateSpec{})
	sessA := newFakeSession()
	if err := r.Attach(id, token, sessA); err != nil {
		t.Fatalf("Attach: %v", err)
	}

	stale := newFakeSession()
	r.Detach(id, stale)
	snap, _ := r.Lookup(id)
	if !snap.Connected {
		t.Fatalf("stale detach must not clear the live session")
	}

	r.Detach(id, sessA)
	snap, _ = r.Lookup(id)
	if snap.Connected {
		t.Fatalf("matching detach must clear the session")
	}

	r.Detach(id, sessA)
}

func TestDeleteTerminatesAttachedSessionAndIsIdempotent(t *testing.T) {
	t.Parallel()

	r := New()
	id, token, _, _ := r.Create(CreateSpec{})
	sess := newFakeSession()
	if err := r.Attach(id, token, sess); err != nil {
		t.Fatalf("Attach: %v", err)
	}

	r.Delete(id)

	select {
	case kind := <-sess.terminated:
		if kind != "ADMIN_DELETE" {
			t.Fatalf("expected ADMIN_DELETE, got %q", kind)
		}
	case <-time.After(time.Second):
		t.Fatalf("session was not terminated on delete")
	}

	if _, ok := r.Lookup(id); ok {
		t.Fatalf("expected descriptor removed after delete")
	}

	r.Delete(id) // idempotent no-op
}

func TestTouchAdvancesLastActiveMonotonically(t *testing.T) {
	t.Parallel()

	mc := clock.NewManual(time.Unix(1000, 0))
	r := New(WithClock(mc))
	id, _, snap0, _ := r.Create(CreateSpec{})

	mc.Advance(5 * time.Second)
	if !r.Touch(id) {
		t.Fatalf("Touch on live tunnel should succeed")
	}

	snap1, _ := r.Lookup(id)
	if !snap1.LastActive.After(snap0.LastActive) {
		t.Fatalf("expected last_active to advance: before=%v after=%v", snap0.LastActive, snap1.LastActive)
	}
}

func TestSweepEvictsOnlyIdleUnattached(t *testing.T) {
	t.Parallel()

	mc := clock.NewManual(time.Unix(0, 0))
	r := New(WithClock(mc), WithIdleTimeout(10*time.Second))

	idleID, token, _, _ := r.Create(CreateSpec{Name: "idle"})
	attachedID, attachedToken, _, _ := r.Create(CreateSpec{Name: "attached"})

	sess := newFakeSession()
	if err := r.Attach(attachedID, attachedToken, sess); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	_ = token

	mc.Advance(20 * time.Second)

	n := r.Sweep(mc.Now())
	if n != 1 {
		t.Fatalf("expected exactly 1 eviction, got %d", n)
	}

	if _, ok := r.Lookup(idleID); ok {
		t.Fatalf("idle unattached tunnel should have been evicted")
	}
	if _, ok := r.Lookup(attachedID); !ok {
		t.Fatalf("attached tunnel must survive sweep regardless of idle time")
	}
}

func TestListReturnsSnapshotNotLiveReferences(t *testing.T) {
	t.Parallel()

	r := New()
	id, _, _, _ := r.Create(CreateSpec{Name: "only"})

	list := r.List()
	if len(list) != 1 || list[0].ID != id {
		t.Fatalf("expected one descriptor for %q, got %+v", id, list)
	}
}

func TestStatsAccumulate(t *testing.T) {
	t.Parallel()

	r := New()
	id, _, _, _ := r.Create(CreateSpec{})

	r.IncrRequests(id)
	r.IncrRequests(id)
	r.IncrTimeouts(id)
	r.AddBytesIn(id, 100)
	r.AddBytesOut(id, 50)

	st, ok := r.Stats(id)
	if !ok {
		t.Fatalf("expected stats for live tunnel")
	}
	if st.RequestsProxied != 2 || st.Timeouts != 1 || st.BytesIn != 100 || st.BytesOut != 50 {
		t.Fatalf("unexpected stats: %+v", st)
	}
}
