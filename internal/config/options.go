package config

import "time"

// Server-side options: the full environment surface the server
// subcommand exposes as flags, env vars, and config file keys.
const (
	KeyAddress             Key = "address"
	KeyPublicBaseURL       Key = "public.base_url"
	KeyOperatorKey         Key = "operator.key"
	KeyOperatorKeyHeader   Key = "operator.key_header"
	KeyAdminKey            Key = "admin.key"
	KeyRequestTimeout      Key = "request.timeout"
	KeyMaxTunnels          Key = "max.tunnels"
	KeyHeartbeatInterval   Key = "heartbeat.interval"
	KeyHeartbeatMissThresh Key = "heartbeat.miss_threshold"
	KeySweepInterval       Key = "sweep.interval"
	KeyIdleTimeout         Key = "idle.timeout"
	KeyMaxFrameBytes       Key = "max.frame_bytes"
	KeyMaxBodyBytes        Key = "max.body_bytes"
	KeyLogLevel            Key = "log.level"
	KeyLogTimezone         Key = "log.timezone"
)

// ServerOptions is the full table of server-side configuration,
// resolved flags > env > file > this table's defaults.
var ServerOptions = []Option{
	{KeyAddress, toFlag(KeyAddress), ":8080", "address the public HTTP and tunnel transport server listens on"},
	{KeyPublicBaseURL, toFlag(KeyPublicBaseURL), "", "public scheme+host prepended to a created tunnel's URL"},
	{KeyOperatorKey, toFlag(KeyOperatorKey), "", "shared secret required on every control-plane request"},
	{KeyOperatorKeyHeader, toFlag(KeyOperatorKeyHeader), "x-api-key", "header name carrying the operator credential"},
	{KeyAdminKey, toFlag(KeyAdminKey), "", "administrative shared secret; loaded into the server config but not checked by any route"},
	{KeyRequestTimeout, toFlag(KeyRequestTimeout), 30 * time.Second, "deadline for a proxied request awaiting its response"},
	{KeyMaxTunnels, toFlag(KeyMaxTunnels), 100, "maximum number of concurrently registered tunnels"},
	{KeyHeartbeatInterval, toFlag(KeyHeartbeatInterval), 10 * time.Second, "interval between heartbeat pings on each session"},
	{KeyHeartbeatMissThresh, toFlag(KeyHeartbeatMissThresh), 3, "consecutive missed pongs before a session is torn down"},
	{KeySweepInterval, toFlag(KeySweepInterval), 60 * time.Second, "interval between idle-tunnel sweep passes"},
	{KeyIdleTimeout, toFlag(KeyIdleTimeout), 120 * time.Second, "unattached duration after which a tunnel is evicted"},
	{KeyMaxFrameBytes, toFlag(KeyMaxFrameBytes), 16 << 20, "maximum encoded frame size, including base64 overhead"},
	{KeyMaxBodyBytes, toFlag(KeyMaxBodyBytes), 10 << 20, "maximum buffered proxy request body size"},
	{KeyLogLevel, toFlag(KeyLogLevel), "info", "log level (debug, info, warn, error); loaded into the server config but not applied to the logger"},
	{KeyLogTimezone, toFlag(KeyLogTimezone), "UTC", "IANA timezone name for log timestamps; loaded into the server config but not applied to the logger"},
}

// Agent-side options.
const (
	KeyAgentServerURL        Key = "agent.server_url"
	KeyAgentOperatorKey      Key = "agent.operator_key"
	KeyAgentTunnelID         Key = "agent.tunnel_id"
	KeyAgentAuthToken        Key = "agent.auth_token"
	KeyAgentName             Key = "agent.name"
	KeyAgentLocalScheme      Key = "agent.local_scheme"
	KeyAgentLocalHost        Key = "agent.local_host"
	KeyAgentLocalPort        Key = "agent.local_port"
	KeyAgentLocalTimeout     Key = "agent.local_timeout"
	KeyAgentHeartbeatInt     Key = "agent.heartbeat_interval"
	KeyAgentHeartbeatMiss    Key = "agent.heartbeat_miss_threshold"
	KeyAgentMaxFrameBytes    Key = "agent.max_frame_bytes"
	KeyAgentDrainTimeout     Key = "agent.drain_timeout"
	KeyAgentOperatorKeyHdr   Key = "agent.operator_key_header"
)

// AgentOptions is the full table of agent-side configuration.
var AgentOptions = []Option{
	{KeyAgentServerURL, toFlag(KeyAgentServerURL), "", "base URL of the tunneld server to dial"},
	{KeyAgentOperatorKey, toFlag(KeyAgentOperatorKey), "", "operator credential used to call the control plane"},
	{KeyAgentOperatorKeyHdr, toFlag(KeyAgentOperatorKeyHdr), "x-api-key", "header name carrying the operator credential"},
	{KeyAgentTunnelID, toFlag(KeyAgentTunnelID), "", "pre-issued tunnel id; skips control-plane create when set with auth-token"},
	{KeyAgentAuthToken, toFlag(KeyAgentAuthToken), "", "pre-issued attach token, paired with tunnel-id"},
	{KeyAgentName, toFlag(KeyAgentName), "", "human-readable name attached to a newly created tunnel"},
	{KeyAgentLocalScheme, toFlag(KeyAgentLocalScheme), "http", "scheme used to call the local origin"},
	{KeyAgentLocalHost, toFlag(KeyAgentLocalHost), "127.0.0.1", "host of the local origin service"},
	{KeyAgentLocalPort, toFlag(KeyAgentLocalPort), 0, "port of the local origin service"},
	{KeyAgentLocalTimeout, toFlag(KeyAgentLocalTimeout), 25 * time.Second, "per-request timeout calling the local origin"},
	{KeyAgentHeartbeatInt, toFlag(KeyAgentHeartbeatInt), 10 * time.Second, "interval between heartbeat pings"},
	{KeyAgentHeartbeatMiss, toFlag(KeyAgentHeartbeatMiss), 3, "consecutive missed pongs before reconnecting"},
	{KeyAgentMaxFrameBytes, toFlag(KeyAgentMaxFrameBytes), 16 << 20, "maximum encoded frame size"},
	{KeyAgentDrainTimeout, toFlag(KeyAgentDrainTimeout), 5 * time.Second, "grace window to finish in-flight local calls on shutdown"},
}
