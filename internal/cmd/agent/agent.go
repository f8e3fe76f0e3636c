// Package agent wires the tunneld agent subcommand: it resolves
// configuration and runs the reconnecting tunnel client against a
// local origin service.
package agent

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/tunnelforge/tunneld/internal/agent"
	"github.com/tunnelforge/tunneld/internal/config"
)

// NewCommand builds the "agent" subcommand.
func NewCommand() (*cobra.Command, error) {
	cmd := &cobra.Command{
		Use:     "agent",
		Short:   "Run the tunneld agent, relaying requests to a local origin service",
		Example: "tunneld agent --agent-server-url=https://tunnel.example.com --agent-operator-key=change-me --agent-local-port=3000",
		RunE: func(cmd *cobra.Command, _ []string) error {
			resolved, err := config.New(config.AgentOptions, cmd.Flags())
			if err != nil {
				return err
			}
			cfg := config.LoadAgentConfig(resolved)
			return Run(cmd.Context(), cfg)
		},
	}

	config.BindFlags(config.AgentOptions, cmd.Flags())

	return cmd, nil
}

// Run builds an agent.Agent from cfg and runs it until ctx is
// cancelled or an unrecoverable error occurs.
func Run(ctx context.Context, cfg config.AgentConfig) error {
	log := slog.Default().With("component", "tunneld.agent")

	if cfg.ServerURL == "" {
		log.Warn("agent-server-url is empty; the agent will fail to register or dial")
	}

	a := agent.New(agent.Config{
		ServerURL:              cfg.ServerURL,
		OperatorKey:            cfg.OperatorKey,
		OperatorKeyHeader:      cfg.OperatorKeyHeader,
		TunnelID:               cfg.TunnelID,
		AuthToken:              cfg.AuthToken,
		Name:                   cfg.Name,
		LocalScheme:            cfg.LocalScheme,
		LocalHost:              cfg.LocalHost,
		LocalPort:              cfg.LocalPort,
		LocalTimeout:           cfg.LocalTimeout,
		HeartbeatInterval:      cfg.HeartbeatInterval,
		HeartbeatMissThreshold: cfg.HeartbeatMiss,
		MaxFrameBytes:          cfg.MaxFrameBytes,
		DrainTimeout:           cfg.DrainTimeout,
	}, log)

	return a.Run(ctx)
}
