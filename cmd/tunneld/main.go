// Package main is the entry point for the tunneld binary. It supports
// two subcommands:
//
//   - server: runs the control plane, reverse proxy, and tunnel
//     transport
//   - agent: connects to a server and relays requests to a local
//     origin service
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	agentcmd "github.com/tunnelforge/tunneld/internal/cmd/agent"
	servercmd "github.com/tunnelforge/tunneld/internal/cmd/server"
)

// version is injected at build time via -ldflags
// (e.g. -ldflags "-X main.version=v1.2.3").
var version = "devel"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	root, err := newRootCmd()
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	return root.ExecuteContext(ctx)
}

func newRootCmd() (*cobra.Command, error) {
	root := &cobra.Command{
		Use:           "tunneld",
		Short:         "tunneld: a self-hosted HTTP tunneling service",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	serverCmd, err := servercmd.NewCommand(version)
	if err != nil {
		return nil, err
	}

	agentCmd, err := agentcmd.NewCommand()
	if err != nil {
		return nil, err
	}

	root.AddCommand(serverCmd, agentCmd)

	return root, nil
}
