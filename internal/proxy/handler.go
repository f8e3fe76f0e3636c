// Package proxy implements the public reverse-proxy pipeline: resolve
// a tunnel by the leading path segment, frame the inbound HTTP
// request, await the correlated response from the attached session,
// and write it back.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tunnelforge/tunneld/internal/clock"
	"github.com/tunnelforge/tunneld/internal/frame"
	"github.com/tunnelforge/tunneld/internal/registry"
	"github.com/tunnelforge/tunneld/internal/session"
)

const (
	defaultRequestTimeout = 30 * time.Second
	defaultMaxBodyBytes   = 10 << 20 // 10 MiB
)

// Registry is the subset of *registry.Registry the proxy pipeline
// depends on, narrowed to an interface so tests can exercise the
// handler against a fake without standing up a real session.
type Registry interface {
	Lookup(id string) (registry.Descriptor, bool)
	SendRequest(ctx context.Context, id string, req *frame.Frame, deadline time.Time) (*frame.Frame, error)
	IncrRequests(id string)
	IncrTimeouts(id string)
	AddBytesIn(id string, n int64)
	AddBytesOut(id string, n int64)
}

// MetricsRecorder observes completed proxy requests. Nil-safe: a
// Handler built without WithMetrics simply skips observation.
type MetricsRecorder interface {
	ObserveProxyRequest(status int, dur time.Duration)
}

// reservedPrefixes are first path segments that are never treated as
// tunnel ids, checked before any registry lookup.
var reservedPrefixes = map[string]bool{
	"api":    true,
	"health": true,
}

// Handler is the catch-all public HTTP handler for /{tunnel_id}/{rest…}.
type Handler struct {
	reg            Registry
	clock          clock.Clock
	log            *slog.Logger
	metrics        MetricsRecorder
	requestTimeout time.Duration
	maxBodyBytes   int64
}

// Option configures a Handler at construction time.
type Option func(*Handler)

func WithRequestTimeout(d time.Duration) Option { return func(h *Handler) { h.requestTimeout = d } }

func WithMaxBodyBytes(n int64) Option { return func(h *Handler) { h.maxBodyBytes = n } }

func WithClock(c clock.Clock) Option { return func(h *Handler) { h.clock = c } }

func WithLogger(l *slog.Logger) Option { return func(h *Handler) { h.log = l } }

func WithMetrics(m MetricsRecorder) Option { return func(h *Handler) { h.metrics = m } }

// New builds a Handler bound to reg.
func New(reg Registry, opts ...Option) *Handler {
	h := &Handler{
		reg:            reg,
		clock:          clock.Real{},
		log:            slog.New(slog.DiscardHandler),
		requestTimeout: defaultRequestTimeout,
		maxBodyBytes:   defaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.log = h.log.With("component", "proxy")
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := h.clock.Now()
	status := h.serve(w, r)
	if h.metrics != nil {
		h.metrics.ObserveProxyRequest(status, h.clock.Now().Sub(start))
	}
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request) int {
	id, rest, ok := splitTunnelPath(r.URL.Path)
	if !ok {
		return writeError(w, registry.CodeNotFound, "unknown route")
	}

	desc, found := h.reg.Lookup(id)
	if !found {
		return writeError(w, registry.CodeNotFound, "tunnel not found")
	}
	if !desc.Connected {
		return writeError(w, registry.CodeNotConnected, "tunnel has no attached agent")
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, h.maxBodyBytes+1))
	if err != nil {
		return writeError(w, registry.CodeInternal, "reading request body")
	}
	if int64(len(body)) > h.maxBodyBytes {
		return writeError(w, registry.CodePayloadTooLarge, "request body exceeds the configured maximum")
	}

	headers := toFrameHeaders(r.Header)
	headers = append(headers, frame.Header{Key: "X-Forwarded-Host", Value: r.Host})
	headers = append(headers, frame.Header{Key: "X-Forwarded-For", Value: r.RemoteAddr})

	req := &frame.Frame{
		Type:    frame.TypeRequest,
		ID:      uuid.NewString(),
		Method:  r.Method,
		Path:    rest,
		Query:   r.URL.RawQuery,
		Headers: headers,
		Body:    body,
	}

	h.reg.IncrRequests(id)
	h.reg.AddBytesIn(id, int64(len(body)))

	deadline := h.clock.Now().Add(h.requestTimeout)
	resp, err := h.reg.SendRequest(r.Context(), id, req, deadline)
	if err != nil {
		return h.writeSendError(w, id, err)
	}

	applyFrameHeaders(w.Header(), resp.Headers)
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	n, _ := w.Write(resp.Body)
	h.reg.AddBytesOut(id, int64(n))
	return status
}

func (h *Handler) writeSendError(w http.ResponseWriter, id string, err error) int {
	switch {
	case errors.Is(err, session.ErrTimeout):
		h.reg.IncrTimeouts(id)
		return writeError(w, registry.CodeTimeout, "upstream did not respond in time")
	case errors.Is(err, session.ErrSessionClosed):
		return writeError(w, registry.CodeUpstreamGone, "tunnel session closed mid-request")
	default:
		var domainErr *registry.DomainError
		if errors.As(err, &domainErr) {
			return writeError(w, domainErr.Code, domainErr.Message)
		}
		h.log.Error("unexpected send_request error", "tunnel_id", id, "error", err)
		return writeError(w, registry.CodeInternal, "internal error")
	}
}

// splitTunnelPath parses the first path segment of p as a tunnel id,
// rejecting reserved control-plane prefixes before any registry
// lookup.
func splitTunnelPath(p string) (id, rest string, ok bool) {
	trimmed := strings.TrimPrefix(p, "/")
	if trimmed == "" {
		return "", "", false
	}
	parts := strings.SplitN(trimmed, "/", 2)
	id = parts[0]
	if id == "" || reservedPrefixes[id] {
		return "", "", false
	}
	rest = "/"
	if len(parts) > 1 {
		rest = "/" + parts[1]
	}
	return id, rest, true
}

func writeError(w http.ResponseWriter, code registry.ErrorCode, message string) int {
	status := registry.HTTPStatus(code)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"error":%q,"message":%q}`, code, message)
	return status
}
