package config

// Key identifies one configuration value by its viper lookup path.
type Key string

// Option describes one configurable value: its viper key, its CLI
// flag name, its compiled-in default, and a one-line description used
// both for --help text and documentation.
type Option struct {
	Key         Key
	Flag        string
	Default     any
	Description string
}

// toFlag converts a dotted viper key ("heartbeat.interval") into its
// CLI flag spelling ("heartbeat-interval") so Key and Flag never have
// to be maintained as two independent strings.
func toFlag(k Key) string {
	out := make([]byte, 0, len(k))
	for _, r := range string(k) {
		if r == '.' || r == '_' {
			out = append(out, '-')
			continue
		}
		out = append(out, byte(r))
	}
	return string(out)
}
