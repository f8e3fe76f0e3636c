package agent

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/tunnelforge/tunneld/internal/frame"
)

func TestLocalDispatcherEchoesBodyAndStatus(t *testing.T) {
	t.Parallel()

	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/echo" || r.URL.RawQuery != "a=1" {
			t.Errorf("unexpected path/query: %s?%s", r.URL.Path, r.URL.RawQuery)
		}
		w.Header().Set("X-Reply", "yes")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("echoed"))
	}))
	defer origin.Close()

	u, _ := url.Parse(origin.URL)
	port, _ := strconv.Atoi(u.Port())

	d := NewLocalDispatcher("http", u.Hostname(), port, time.Second, nil)
	req := &frame.Frame{Type: frame.TypeRequest, ID: "r1", Method: "GET", Path: "/echo", Query: "a=1"}
	resp := d.HandleRequest(context.Background(), req)

	if resp.Status != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.Status)
	}
	if string(resp.Body) != "echoed" {
		t.Fatalf("expected echoed body, got %q", resp.Body)
	}
	if resp.ID != "r1" {
		t.Fatalf("expected correlation id preserved, got %q", resp.ID)
	}
}

func TestLocalDispatcherUnreachableOriginReturns502(t *testing.T) {
	t.Parallel()

	d := NewLocalDispatcher("http", "127.0.0.1", 1, 200*time.Millisecond, nil) // port 1 should refuse
	req := &frame.Frame{Type: frame.TypeRequest, ID: "r2", Method: "GET", Path: "/"}
	resp := d.HandleRequest(context.Background(), req)

	if resp.Status != http.StatusBadGateway {
		t.Fatalf("expected 502 for unreachable origin, got %d", resp.Status)
	}
	if resp.ID != "r2" {
		t.Fatalf("expected correlation id preserved on error path, got %q", resp.ID)
	}
}
