// Package config loads layered configuration: compiled defaults, an
// optional config file, TUNNELD_-prefixed environment variables, and
// CLI flags, highest priority last.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "TUNNELD"

// New builds a viper instance seeded with opts' defaults, an optional
// config.yaml (current directory or /etc/tunneld/), and environment
// variables, then binds flags so that flags take final priority. flags
// must already have had BindFlags called on it (typically by the
// cobra command at construction time, before argument parsing); New
// only reads the already-registered, already-parsed values.
func New(opts []Option, flags *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()

	for _, opt := range opts {
		v.SetDefault(string(opt.Key), opt.Default)
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/tunneld/")
	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, fmt.Errorf("config: read config file: %w", err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for _, opt := range opts {
			f := flags.Lookup(opt.Flag)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(string(opt.Key), f); err != nil {
				return nil, fmt.Errorf("config: bind flags: %w", err)
			}
		}
	}

	return v, nil
}

// BindFlags registers one flag per Option on flags, typed by the
// Option's Default value. Call before flags.Parse.
func BindFlags(opts []Option, flags *pflag.FlagSet) {
	for _, opt := range opts {
		switch def := opt.Default.(type) {
		case string:
			flags.String(opt.Flag, def, opt.Description)
		case int:
			flags.Int(opt.Flag, def, opt.Description)
		case bool:
			flags.Bool(opt.Flag, def, opt.Description)
		case time.Duration:
			flags.Duration(opt.Flag, def, opt.Description)
		default:
			flags.String(opt.Flag, fmt.Sprintf("%v", def), opt.Description)
		}
	}
}

// ServerConfig is the typed, resolved view of ServerOptions.
type ServerConfig struct {
	Address             string
	PublicBaseURL       string
	OperatorKey         string
	OperatorKeyHeader   string
	AdminKey            string
	RequestTimeout      time.Duration
	MaxTunnels          int
	HeartbeatInterval   time.Duration
	HeartbeatMissThresh int
	SweepInterval       time.Duration
	IdleTimeout         time.Duration
	MaxFrameBytes       int
	MaxBodyBytes        int
	LogLevel            string
	LogTimezone         string
}

// LoadServerConfig resolves v into a ServerConfig.
func LoadServerConfig(v *viper.Viper) ServerConfig {
	return ServerConfig{
		Address:             v.GetString(string(KeyAddress)),
		PublicBaseURL:       v.GetString(string(KeyPublicBaseURL)),
		OperatorKey:         v.GetString(string(KeyOperatorKey)),
		OperatorKeyHeader:   v.GetString(string(KeyOperatorKeyHeader)),
		AdminKey:            v.GetString(string(KeyAdminKey)),
		RequestTimeout:      v.GetDuration(string(KeyRequestTimeout)),
		MaxTunnels:          v.GetInt(string(KeyMaxTunnels)),
		HeartbeatInterval:   v.GetDuration(string(KeyHeartbeatInterval)),
		HeartbeatMissThresh: v.GetInt(string(KeyHeartbeatMissThresh)),
		SweepInterval:       v.GetDuration(string(KeySweepInterval)),
		IdleTimeout:         v.GetDuration(string(KeyIdleTimeout)),
		MaxFrameBytes:       v.GetInt(string(KeyMaxFrameBytes)),
		MaxBodyBytes:        v.GetInt(string(KeyMaxBodyBytes)),
		LogLevel:            v.GetString(string(KeyLogLevel)),
		LogTimezone:         v.GetString(string(KeyLogTimezone)),
	}
}

// AgentConfig is the typed, resolved view of AgentOptions.
type AgentConfig struct {
	ServerURL         string
	OperatorKey       string
	OperatorKeyHeader string
	TunnelID          string
	AuthToken         string
	Name              string
	LocalScheme       string
	LocalHost         string
	LocalPort         int
	LocalTimeout      time.Duration
	HeartbeatInterval time.Duration
	HeartbeatMiss     int
	MaxFrameBytes     int
	DrainTimeout      time.Duration
}

// LoadAgentConfig resolves v into an AgentConfig.
func LoadAgentConfig(v *viper.Viper) AgentConfig {
	return AgentConfig{
		ServerURL:         v.GetString(string(KeyAgentServerURL)),
		OperatorKey:       v.GetString(string(KeyAgentOperatorKey)),
		OperatorKeyHeader: v.GetString(string(KeyAgentOperatorKeyHdr)),
		TunnelID:          v.GetString(string(KeyAgentTunnelID)),
		AuthToken:         v.GetString(string(KeyAgentAuthToken)),
		Name:              v.GetString(string(KeyAgentName)),
		LocalScheme:       v.GetString(string(KeyAgentLocalScheme)),
		LocalHost:         v.GetString(string(KeyAgentLocalHost)),
		LocalPort:         v.GetInt(string(KeyAgentLocalPort)),
		LocalTimeout:      v.GetDuration(string(KeyAgentLocalTimeout)),
		HeartbeatInterval: v.GetDuration(string(KeyAgentHeartbeatInt)),
		HeartbeatMiss:     v.GetInt(string(KeyAgentHeartbeatMiss)),
		MaxFrameBytes:     v.GetInt(string(KeyAgentMaxFrameBytes)),
		DrainTimeout:      v.GetDuration(string(KeyAgentDrainTimeout)),
	}
}
