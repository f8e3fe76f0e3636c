package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRegisterParsesCreateResponse(t *testing.T) {
	t.Parallel()

	var gotKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-api-key")
		if r.URL.Path != "/api/tunnels/create" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(createResponse{TunnelID: "abc", AuthToken: "tok", URL: "https://example.com/abc/"})
	}))
	defer server.Close()

	a := New(Config{ServerURL: server.URL, OperatorKey: "secret"}, nil)
	id, token, err := a.register(context.Background())
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if id != "abc" || token != "tok" {
		t.Fatalf("unexpected id/token: %q %q", id, token)
	}
	if gotKey != "secret" {
		t.Fatalf("expected operator key header forwarded, got %q", gotKey)
	}
}

func TestRegisterFailsOnNonOKStatus(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	a := New(Config{ServerURL: server.URL, OperatorKey: "wrong"}, nil)
	if _, _, err := a.register(context.Background()); err == nil {
		t.Fatalf("expected error on non-200 response")
	}
}
