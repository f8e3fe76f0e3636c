// Package integration exercises the server's control plane, reverse
// proxy, and tunnel transport together against a real local origin,
// wired the way cmd/tunneld's server subcommand wires them.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/tunnelforge/tunneld/internal/agent"
	"github.com/tunnelforge/tunneld/internal/control"
	"github.com/tunnelforge/tunneld/internal/metrics"
	"github.com/tunnelforge/tunneld/internal/middleware"
	"github.com/tunnelforge/tunneld/internal/proxy"
	"github.com/tunnelforge/tunneld/internal/registry"
	"github.com/tunnelforge/tunneld/internal/transport/tunnel"
)

const operatorKey = "test-operator-key"

// newTestServer wires a registry, control handler, proxy handler, and
// tunnel transport onto one mux, the same shape as
// internal/cmd/server.Run's mount function.
func newTestServer(t *testing.T) (*httptest.Server, *registry.Registry) {
	t.Helper()

	reg := registry.New(registry.WithMaxTunnels(10), registry.WithIdleTimeout(time.Minute))
	m := metrics.New()

	ctrl := control.New(reg, control.WithPublicBaseURL("http://ignored"), control.WithMetrics(m))
	px := proxy.New(reg, proxy.WithRequestTimeout(2*time.Second), proxy.WithMetrics(m))
	tsrv := tunnel.NewServer(reg,
		tunnel.WithServerHeartbeat(200*time.Millisecond, 3),
		tunnel.WithServerHeartbeatMissHook(m.HeartbeatMiss),
	)

	mux := http.NewServeMux()
	requireAuth := func(next http.Handler) http.Handler {
		return middleware.RequireAPIKey("x-api-key", operatorKey, next)
	}
	ctrl.Mount(mux, requireAuth)
	mux.HandleFunc("GET /api/tunnel/connect/{id}", func(w http.ResponseWriter, r *http.Request) {
		tsrv.ServeHTTP(r.PathValue("id"), w, r)
	})
	mux.Handle("/", px)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, reg
}

type createResp struct {
	TunnelID  string `json:"tunnel_id"`
	AuthToken string `json:"auth_token"`
}

func createTunnel(t *testing.T, srv *httptest.Server, localPort int) createResp {
	t.Helper()
	body, _ := json.Marshal(map[string]any{"name": "t1", "local_port": localPort})
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/tunnels/create", bytes.NewReader(body))
	req.Header.Set("x-api-key", operatorKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	var out createResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	return out
}

// wsURL rewrites an http(s) base URL to ws(s).
func wsURL(base string) string {
	if len(base) >= 5 && base[:5] == "https" {
		return "wss" + base[5:]
	}
	return "ws" + base[4:]
}

func TestEndToEndRequestRoundTripsThroughAgentToLocalOrigin(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/widgets" && r.Method == http.MethodGet {
			w.Header().Set("X-Origin", "yes")
			w.WriteHeader(http.StatusTeapot)
			_, _ = w.Write([]byte("widget list"))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(origin.Close)

	srv, _ := newTestServer(t)
	created := createTunnel(t, srv, 0)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	originURL := origin.Listener.Addr().String()
	host, port := splitHostPort(t, originURL)

	dispatcher := agent.NewLocalDispatcher("http", host, port, 5*time.Second, nil)
	sess, err := tunnel.DialAndAttach(ctx, wsURL(srv.URL), created.TunnelID, created.AuthToken, dispatcher)
	if err != nil {
		t.Fatalf("dial and attach: %v", err)
	}
	go func() { _ = sess.Run(ctx) }()
	t.Cleanup(func() { sess.Terminate("test_done") })

	waitForAttach(t, srv, created.TunnelID)

	resp, err := http.Get(srv.URL + "/" + created.TunnelID + "/widgets")
	if err != nil {
		t.Fatalf("proxied get: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusTeapot {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusTeapot)
	}
	if got := resp.Header.Get("X-Origin"); got != "yes" {
		t.Errorf("X-Origin header = %q, want yes", got)
	}
	b, _ := io.ReadAll(resp.Body)
	if string(b) != "widget list" {
		t.Errorf("body = %q, want %q", b, "widget list")
	}
}

func TestProxyReturns404ForUnknownTunnel(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/does-not-exist/anything")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestProxyReturns503ForCreatedButUnattachedTunnel(t *testing.T) {
	srv, _ := newTestServer(t)
	created := createTunnel(t, srv, 0)

	resp, err := http.Get(srv.URL + "/" + created.TunnelID + "/anything")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

func TestAttachRejectsWrongToken(t *testing.T) {
	srv, _ := newTestServer(t)
	created := createTunnel(t, srv, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	dispatcher := agent.NewLocalDispatcher("http", "127.0.0.1", 1, time.Second, nil)
	_, err := tunnel.DialAndAttach(ctx, wsURL(srv.URL), created.TunnelID, "wrong-token", dispatcher)
	if err == nil {
		t.Fatal("expected attach with wrong token to fail")
	}
}

func TestControlPlaneRejectsMissingAndWrongOperatorKey(t *testing.T) {
	srv, _ := newTestServer(t)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/tunnels/list", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("list without key: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("missing key status = %d, want 401", resp.StatusCode)
	}

	req2, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/tunnels/list", nil)
	req2.Header.Set("x-api-key", "wrong")
	resp2, err := http.DefaultClient.Do(req2)
	if err != nil {
		t.Fatalf("list with wrong key: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusForbidden {
		t.Errorf("wrong key status = %d, want 403", resp2.StatusCode)
	}
}

func waitForAttach(t *testing.T, srv *httptest.Server, id string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/tunnels/"+id+"/status", nil)
		req.Header.Set("x-api-key", operatorKey)
		resp, err := http.DefaultClient.Do(req)
		if err == nil {
			var out struct {
				Connected bool `json:"connected"`
			}
			_ = json.NewDecoder(resp.Body).Decode(&out)
			resp.Body.Close()
			if out.Connected {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("timed out waiting for agent attach")
}

func splitHostPort(t *testing.T, addr string) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split host port %q: %v", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse port %q: %v", portStr, err)
	}
	return host, port
}
