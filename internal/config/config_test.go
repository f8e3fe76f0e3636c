package config

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func TestLoadServerConfigAppliesDefaults(t *testing.T) {
	flags := pflag.NewFlagSet("server", pflag.ContinueOnError)
	BindFlags(ServerOptions, flags)

	v, err := New(ServerOptions, flags)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	cfg := LoadServerConfig(v)
	if cfg.Address != ":8080" {
		t.Errorf("Address = %q, want :8080", cfg.Address)
	}
	if cfg.MaxTunnels != 100 {
		t.Errorf("MaxTunnels = %d, want 100", cfg.MaxTunnels)
	}
	if cfg.HeartbeatInterval != 10*time.Second {
		t.Errorf("HeartbeatInterval = %s, want 10s", cfg.HeartbeatInterval)
	}
	if cfg.IdleTimeout != 120*time.Second {
		t.Errorf("IdleTimeout = %s, want 120s", cfg.IdleTimeout)
	}
}

func TestLoadServerConfigFlagOverridesDefault(t *testing.T) {
	flags := pflag.NewFlagSet("server", pflag.ContinueOnError)
	BindFlags(ServerOptions, flags)
	if err := flags.Parse([]string{"--max-tunnels", "7", "--address", ":9090"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	v, err := New(ServerOptions, flags)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	cfg := LoadServerConfig(v)
	if cfg.MaxTunnels != 7 {
		t.Errorf("MaxTunnels = %d, want 7", cfg.MaxTunnels)
	}
	if cfg.Address != ":9090" {
		t.Errorf("Address = %q, want :9090", cfg.Address)
	}
}

func TestLoadServerConfigEnvOverridesDefaultButNotFlag(t *testing.T) {
	t.Setenv("TUNNELD_MAX_TUNNELS", "42")
	t.Setenv("TUNNELD_ADDRESS", ":7070")

	flags := pflag.NewFlagSet("server", pflag.ContinueOnError)
	BindFlags(ServerOptions, flags)
	if err := flags.Parse([]string{"--address", ":9090"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	v, err := New(ServerOptions, flags)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	cfg := LoadServerConfig(v)
	if cfg.MaxTunnels != 42 {
		t.Errorf("MaxTunnels = %d, want 42 from env", cfg.MaxTunnels)
	}
	if cfg.Address != ":9090" {
		t.Errorf("Address = %q, want :9090 (explicit flag beats env)", cfg.Address)
	}
}

func TestLoadAgentConfigAppliesDefaults(t *testing.T) {
	flags := pflag.NewFlagSet("agent", pflag.ContinueOnError)
	BindFlags(AgentOptions, flags)

	v, err := New(AgentOptions, flags)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	cfg := LoadAgentConfig(v)
	if cfg.LocalScheme != "http" {
		t.Errorf("LocalScheme = %q, want http", cfg.LocalScheme)
	}
	if cfg.HeartbeatMiss != 3 {
		t.Errorf("HeartbeatMiss = %d, want 3", cfg.HeartbeatMiss)
	}
}

func TestToFlagTransformsDottedKeys(t *testing.T) {
	got := toFlag(Key("heartbeat.miss_threshold"))
	want := "heartbeat-miss-threshold"
	if got != want {
		t.Errorf("toFlag = %q, want %q", got, want)
	}
}
