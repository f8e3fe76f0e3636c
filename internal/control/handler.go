// Package control implements the control-plane contract: tunnel
// create/list/get/delete and the per-tunnel stats surface, guarded by
// an operator credential header.
package control

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tunnelforge/tunneld/internal/registry"
)

// Registry is the subset of *registry.Registry the control plane
// depends on.
type Registry interface {
	Create(spec registry.CreateSpec) (id, token string, snap registry.Descriptor, err error)
	List() []registry.Descriptor
	Lookup(id string) (registry.Descriptor, bool)
	Delete(id string)
	Stats(id string) (registry.Stats, bool)
}

// MetricsRecorder observes control-plane lifecycle events. Nil-safe:
// a Handler built without WithMetrics simply skips observation.
type MetricsRecorder interface {
	TunnelCreated()
	TunnelRemoved()
}

// Handler mounts the control-plane REST surface.
type Handler struct {
	reg           Registry
	log           *slog.Logger
	publicBaseURL string
	metrics       MetricsRecorder
}

// Option configures a Handler at construction time.
type Option func(*Handler)

func WithLogger(l *slog.Logger) Option { return func(h *Handler) { h.log = l } }

// WithPublicBaseURL sets the scheme+host prepended to a created
// tunnel's public URL in the create response, e.g. "https://tunnel.example.com".
func WithPublicBaseURL(u string) Option {
	return func(h *Handler) { h.publicBaseURL = strings.TrimSuffix(u, "/") }
}

func WithMetrics(m MetricsRecorder) Option { return func(h *Handler) { h.metrics = m } }

// New builds a Handler bound to reg.
func New(reg Registry, opts ...Option) *Handler {
	h := &Handler{reg: reg, log: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(h)
	}
	h.log = h.log.With("component", "control")
	return h
}

// Mount registers every control-plane route, including the
// unauthenticated /health and /api routes, on mux. requireAuth wraps
// the authenticated subset (everything under /api/tunnels).
func (h *Handler) Mount(mux *http.ServeMux, requireAuth func(http.Handler) http.Handler) {
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /api", h.handleAPIIndex)

	mux.Handle("POST /api/tunnels/create", requireAuth(http.HandlerFunc(h.handleCreate)))
	mux.Handle("GET /api/tunnels/list", requireAuth(http.HandlerFunc(h.handleList)))
	mux.Handle("GET /api/tunnels/{id}/status", requireAuth(http.HandlerFunc(h.handleStatus)))
	mux.Handle("GET /api/tunnels/{id}/stats", requireAuth(http.HandlerFunc(h.handleStats)))
	mux.Handle("DELETE /api/tunnels/{id}", requireAuth(http.HandlerFunc(h.handleDelete)))
}

type createRequest struct {
	Name      string            `json:"name"`
	LocalPort int               `json:"local_port,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type createResponse struct {
	TunnelID  string    `json:"tunnel_id"`
	AuthToken string    `json:"auth_token"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"created_at"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	id, token, snap, err := h.reg.Create(registry.CreateSpec{
		Name:      req.Name,
		LocalPort: req.LocalPort,
		Metadata:  req.Metadata,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if h.metrics != nil {
		h.metrics.TunnelCreated()
	}

	writeJSON(w, http.StatusOK, createResponse{
		TunnelID:  id,
		AuthToken: token,
		URL:       h.publicBaseURL + "/" + id + "/",
		CreatedAt: snap.CreatedAt,
	})
}

type listEntry struct {
	TunnelID   string    `json:"tunnel_id"`
	Name       string    `json:"name"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
	Connected  bool      `json:"connected"`
}

type listResponse struct {
	Tunnels []listEntry `json:"tunnels"`
	Total   int         `json:"total"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	descs := h.reg.List()
	entries := make([]listEntry, len(descs))
	for i, d := range descs {
		entries[i] = descriptorToListEntry(d)
	}
	writeJSON(w, http.StatusOK, listResponse{Tunnels: entries, Total: len(entries)})
}

func descriptorToListEntry(d registry.Descriptor) listEntry {
	status := "detached"
	if d.Connected {
		status = "connected"
	}
	return listEntry{
		TunnelID:   d.ID,
		Name:       d.Name,
		Status:     status,
		CreatedAt:  d.CreatedAt,
		LastActive: d.LastActive,
		Connected:  d.Connected,
	}
}

type statusResponse struct {
	TunnelID   string    `json:"tunnel_id"`
	Name       string    `json:"name"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
	Connected  bool      `json:"connected"`
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	d, ok := h.reg.Lookup(id)
	if !ok {
		writeDomainError(w, registry.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		TunnelID:   d.ID,
		Name:       d.Name,
		CreatedAt:  d.CreatedAt,
		LastActive: d.LastActive,
		Connected:  d.Connected,
	})
}

type statsResponse struct {
	TunnelID        string `json:"tunnel_id"`
	RequestsProxied int64  `json:"requests_proxied"`
	Timeouts        int64  `json:"timeouts"`
	DroppedLate     int64  `json:"dropped_late"`
	BytesIn         int64  `json:"bytes_in"`
	BytesOut        int64  `json:"bytes_out"`
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	st, ok := h.reg.Stats(id)
	if !ok {
		writeDomainError(w, registry.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{
		TunnelID:        id,
		RequestsProxied: st.RequestsProxied,
		Timeouts:        st.Timeouts,
		DroppedLate:     st.DroppedLate,
		BytesIn:         st.BytesIn,
		BytesOut:        st.BytesOut,
	})
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := h.reg.Lookup(id); ok && h.metrics != nil {
		h.metrics.TunnelRemoved()
	}
	h.reg.Delete(id)
	w.WriteHeader(http.StatusNoContent)
}

type healthResponse struct {
	Status      string `json:"status"`
	Name        string `json:"name"`
	Version     string `json:"version"`
	Environment string `json:"environment"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:      "ok",
		Name:        "tunneld",
		Version:     Version,
		Environment: Environment,
	})
}

func (h *Handler) handleAPIIndex(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"routes": []string{
			"POST /api/tunnels/create",
			"GET /api/tunnels/list",
			"GET /api/tunnels/{id}/status",
			"GET /api/tunnels/{id}/stats",
			"DELETE /api/tunnels/{id}",
		},
	})
}

// Version is overwritten by the server subcommand with the binary's
// ldflags-injected version at startup. No code in this module assigns
// Environment, so it reports its default. Both defaults are safe for
// tests that never set them.
var (
	Version     = "devel"
	Environment = "development"
)

func writeDomainError(w http.ResponseWriter, err error) {
	var domainErr *registry.DomainError
	if errors.As(err, &domainErr) {
		status := registry.HTTPStatus(domainErr.Code)
		writeJSON(w, status, map[string]string{"error": string(domainErr.Code), "message": domainErr.Message})
		return
	}
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": string(registry.CodeInternal), "message": "internal error"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
