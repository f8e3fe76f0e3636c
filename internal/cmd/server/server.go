// Package server wires the tunneld server subcommand: the control
// plane, the reverse proxy, the tunnel transport, and the background
// idle sweep, run together under transport.Serve.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/tunnelforge/tunneld/internal/config"
	"github.com/tunnelforge/tunneld/internal/control"
	"github.com/tunnelforge/tunneld/internal/metrics"
	"github.com/tunnelforge/tunneld/internal/middleware"
	"github.com/tunnelforge/tunneld/internal/proxy"
	"github.com/tunnelforge/tunneld/internal/registry"
	"github.com/tunnelforge/tunneld/internal/transport"
	"github.com/tunnelforge/tunneld/internal/transport/tunnel"
)

// NewCommand builds the "server" subcommand. version is stamped into
// the /health response.
func NewCommand(version string) (*cobra.Command, error) {
	cmd := &cobra.Command{
		Use:     "server",
		Short:   "Run the tunneld control plane, reverse proxy, and tunnel transport",
		Example: "tunneld server --address=:8080 --operator-key=change-me",
		RunE: func(cmd *cobra.Command, _ []string) error {
			resolved, err := config.New(config.ServerOptions, cmd.Flags())
			if err != nil {
				return err
			}
			cfg := config.LoadServerConfig(resolved)
			control.Version = version
			return Run(cmd.Context(), cfg)
		},
	}

	config.BindFlags(config.ServerOptions, cmd.Flags())

	return cmd, nil
}

// Run assembles and serves every server-side component until ctx is
// cancelled.
func Run(ctx context.Context, cfg config.ServerConfig) error {
	log := slog.Default().With("component", "tunneld.server")

	if cfg.OperatorKey == "" {
		log.Warn("starting with an empty operator key; every authenticated control-plane request will be rejected")
	}

	reg := registry.New(
		registry.WithMaxTunnels(cfg.MaxTunnels),
		registry.WithIdleTimeout(cfg.IdleTimeout),
		registry.WithLogger(log),
	)

	m := metrics.New()

	controlHandler := control.New(reg,
		control.WithLogger(log),
		control.WithPublicBaseURL(cfg.PublicBaseURL),
		control.WithMetrics(m),
	)

	proxyHandler := proxy.New(reg,
		proxy.WithRequestTimeout(cfg.RequestTimeout),
		proxy.WithMaxBodyBytes(int64(cfg.MaxBodyBytes)),
		proxy.WithLogger(log),
		proxy.WithMetrics(m),
	)

	tunnelSrv := tunnel.NewServer(reg,
		tunnel.WithServerLogger(log),
		tunnel.WithServerHeartbeat(cfg.HeartbeatInterval, cfg.HeartbeatMissThresh),
		tunnel.WithServerMaxFrameBytes(cfg.MaxFrameBytes),
		tunnel.WithServerHeartbeatMissHook(m.HeartbeatMiss),
	)

	mount := func(mux *http.ServeMux) error {
		requireAuth := func(next http.Handler) http.Handler {
			return middleware.RequireAPIKey(cfg.OperatorKeyHeader, cfg.OperatorKey, next)
		}
		controlHandler.Mount(mux, requireAuth)

		mux.Handle("GET /metrics", m.Handler())

		mux.HandleFunc("GET /api/tunnel/connect/{id}", func(w http.ResponseWriter, r *http.Request) {
			tunnelSrv.ServeHTTP(r.PathValue("id"), w, r)
		})

		mux.Handle("/", proxyHandler)
		return nil
	}

	httpSrv, err := transport.NewHTTPServer(
		transport.WithAddress(cfg.Address),
		transport.WithMount(mount),
		transport.WithHTTPLogger(log),
	)
	if err != nil {
		return fmt.Errorf("server: build http server: %w", err)
	}

	sweeper := &sweepListener{reg: reg, metrics: m, interval: cfg.SweepInterval, log: log}

	return transport.Serve(ctx, []transport.Listener{httpSrv, sweeper}, transport.WithServeLogger(log))
}

// sweepListener adapts Registry.Sweep to transport.Listener so the
// idle-tunnel sweep participates in the server's managed lifecycle
// alongside the HTTP listener.
type sweepListener struct {
	reg      *registry.Registry
	metrics  *metrics.Metrics
	interval time.Duration
	log      *slog.Logger
}

func (l *sweepListener) Start(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			evicted := l.reg.Sweep(time.Now())
			if evicted > 0 {
				l.metrics.SweepEvicted(evicted)
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (l *sweepListener) Stop(_ context.Context) error { return nil }
