package control

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tunnelforge/tunneld/internal/registry"
)

func newTestMux(t *testing.T) (*http.ServeMux, *registry.Registry) {
	t.Helper()
	reg := registry.New()
	h := New(reg, WithPublicBaseURL("https://tunnel.example.com"))
	mux := http.NewServeMux()
	h.Mount(mux, func(next http.Handler) http.Handler {
		return RequireOperatorKey("x-api-key", "secret", next)
	})
	return mux, reg
}

func TestHealthAndAPIIndexAreUnauthenticated(t *testing.T) {
	t.Parallel()

	mux, _ := newTestMux(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected /health to require no auth, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected /api to require no auth, got %d", rec.Code)
	}
}

func TestCreateRequiresOperatorKey(t *testing.T) {
	t.Parallel()

	mux, _ := newTestMux(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/tunnels/create", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for missing key, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/tunnels/create", nil)
	req.Header.Set("x-api-key", "wrong")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for wrong key, got %d", rec.Code)
	}
}

func TestCreateListStatusStatsDeleteLifecycle(t *testing.T) {
	t.Parallel()

	mux, _ := newTestMux(t)

	createReq := httptest.NewRequest(http.MethodPost, "/api/tunnels/create", nil)
	createReq.Header.Set("x-api-key", "secret")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, createReq)
	if rec.Code != http.StatusOK {
		t.Fatalf("create: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var created createResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if created.TunnelID == "" || created.AuthToken == "" {
		t.Fatalf("expected id and token, got %+v", created)
	}

	listReq := httptest.NewRequest(http.MethodGet, "/api/tunnels/list", nil)
	listReq.Header.Set("x-api-key", "secret")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, listReq)
	var list listResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list response: %v", err)
	}
	if list.Total != 1 || list.Tunnels[0].TunnelID != created.TunnelID {
		t.Fatalf("unexpected list: %+v", list)
	}

	statusReq := httptest.NewRequest(http.MethodGet, "/api/tunnels/"+created.TunnelID+"/status", nil)
	statusReq.Header.Set("x-api-key", "secret")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, statusReq)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: expected 200, got %d", rec.Code)
	}

	statsReq := httptest.NewRequest(http.MethodGet, "/api/tunnels/"+created.TunnelID+"/stats", nil)
	statsReq.Header.Set("x-api-key", "secret")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, statsReq)
	if rec.Code != http.StatusOK {
		t.Fatalf("stats: expected 200, got %d", rec.Code)
	}

	delReq := httptest.NewRequest(http.MethodDelete, "/api/tunnels/"+created.TunnelID, nil)
	delReq.Header.Set("x-api-key", "secret")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, delReq)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, statusReq)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rec.Code)
	}
}
