// Package agent implements the agent-side loop: register (or reuse a
// pre-issued id/token), dial the transport endpoint, attach, serve
// inbound requests against a local HTTP origin, and reconnect with
// backoff on any disconnect.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jpillora/backoff"

	"github.com/tunnelforge/tunneld/internal/transport/tunnel"
)

// Config carries everything the agent needs to register or reuse a
// tunnel, dial the server, and relay requests to a local origin.
type Config struct {
	ServerURL         string
	OperatorKey       string
	OperatorKeyHeader string // defaults to "x-api-key"

	// Pre-issued mode: set both to skip the control-plane create call.
	TunnelID  string
	AuthToken string

	Name     string
	Metadata map[string]string

	LocalScheme string
	LocalHost   string
	LocalPort   int

	LocalTimeout           time.Duration
	HeartbeatInterval      time.Duration
	HeartbeatMissThreshold int
	MaxFrameBytes          int
	DrainTimeout           time.Duration
}

// Agent runs Config's reconnect loop until its context is canceled.
type Agent struct {
	cfg        Config
	log        *slog.Logger
	httpClient *http.Client
}

// New builds an Agent. log may be nil, in which case output is
// discarded.
func New(cfg Config, log *slog.Logger) *Agent {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	if cfg.OperatorKeyHeader == "" {
		cfg.OperatorKeyHeader = "x-api-key"
	}
	return &Agent{cfg: cfg, log: log.With("component", "agent"), httpClient: &http.Client{Timeout: 15 * time.Second}}
}

// Run blocks until ctx is canceled, dialing and redialing the tunnel
// transport with exponential backoff between attempts. It returns nil
// on clean shutdown (ctx canceled) and a non-nil error only if
// registration itself fails, since a transport disconnect is expected
// steady-state behavior to retry, not a fatal condition.
func (a *Agent) Run(ctx context.Context) error {
	id, token := a.cfg.TunnelID, a.cfg.AuthToken
	if id == "" || token == "" {
		var err error
		id, token, err = a.register(ctx)
		if err != nil {
			return fmt.Errorf("agent: register: %w", err)
		}
		a.log.Info("tunnel registered", "tunnel_id", id)
	}

	bo := &backoff.Backoff{Min: 500 * time.Millisecond, Max: 30 * time.Second, Factor: 2, Jitter: true}

	for {
		if ctx.Err() != nil {
			return nil
		}

		dispatcher := NewLocalDispatcher(a.cfg.LocalScheme, a.cfg.LocalHost, a.cfg.LocalPort, a.cfg.LocalTimeout, a.log)

		sess, err := tunnel.DialAndAttach(ctx, a.cfg.ServerURL, id, token, dispatcher,
			tunnel.WithClientHeartbeat(a.cfg.HeartbeatInterval, a.cfg.HeartbeatMissThreshold),
			tunnel.WithClientMaxFrameBytes(a.cfg.MaxFrameBytes),
			tunnel.WithClientLogger(a.log),
			tunnel.WithClientDrainTimeout(a.cfg.DrainTimeout),
		)
		if err != nil {
			a.log.Warn("dial failed, retrying", "error", err)
			if !a.sleepCtx(ctx, bo.Duration()) {
				return nil
			}
			continue
		}
		bo.Reset()
		a.log.Info("attached to server", "tunnel_id", id)

		runErr := sess.Run(ctx)
		a.log.Warn("session ended", "error", runErr)

		if ctx.Err() != nil {
			return nil
		}
		if !a.sleepCtx(ctx, bo.Duration()) {
			return nil
		}
	}
}

// sleepCtx sleeps for d or until ctx is canceled, reporting whether
// the sleep completed (false means the caller should stop retrying).
func (a *Agent) sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

type createRequest struct {
	Name      string            `json:"name"`
	LocalPort int               `json:"local_port,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type createResponse struct {
	TunnelID  string `json:"tunnel_id"`
	AuthToken string `json:"auth_token"`
	URL       string `json:"url"`
}

func (a *Agent) register(ctx context.Context) (id, token string, err error) {
	body, err := json.Marshal(createRequest{Name: a.cfg.Name, LocalPort: a.cfg.LocalPort, Metadata: a.cfg.Metadata})
	if err != nil {
		return "", "", err
	}

	url := a.cfg.ServerURL + "/api/tunnels/create"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(a.cfg.OperatorKeyHeader, a.cfg.OperatorKey)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("create request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("create request: server returned %d", resp.StatusCode)
	}

	var out createResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", "", fmt.Errorf("decode create response: %w", err)
	}
	return out.TunnelID, out.AuthToken, nil
}
