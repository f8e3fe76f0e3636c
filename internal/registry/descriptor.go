package registry

import (
	"context"
	"time"

	"github.com/tunnelforge/tunneld/internal/frame"
)

// Descriptor is the externally visible snapshot of a tunnel: no
// attach token, no session handle, safe to hand to the control plane
// or serialize into a JSON response. Produced by Lookup and List.
type Descriptor struct {
	ID         string
	Name       string
	LocalPort  int
	Metadata   map[string]string
	CreatedAt  time.Time
	LastActive time.Time
	Connected  bool
}

// Stats is the per-tunnel operational counter snapshot exposed at
// GET /api/tunnels/{id}/stats.
type Stats struct {
	RequestsProxied int64
	Timeouts        int64
	DroppedLate     int64
	BytesIn         int64
	BytesOut        int64
}

// CreateSpec carries the caller-supplied attributes for Create. All
// fields are optional except nothing: a zero-value CreateSpec is a
// valid anonymous tunnel.
type CreateSpec struct {
	Name      string
	LocalPort int
	Metadata  map[string]string
}

// Session is the minimal handle the registry needs on an attached
// transport session: enough to force it closed on delete, without the registry package importing the session package
// (which in turn would need to import registry for lookups — the
// cycle this interface exists to break).
type Session interface {
	// Terminate closes the session with the given close kind, one of
	// the frame.Kind* constants (e.g. frame.KindAdminDelete).
	Terminate(kind string)
	// SendRequest transports req and waits for its correlated
	// response.
	SendRequest(ctx context.Context, req *frame.Frame, deadline time.Time) (*frame.Frame, error)
}
