package probe

import "context"

// Probe is a strategy that determines whether a started server is ready to
// serve traffic. Implementations may issue an HTTP request, open a TCP
// connection, or run a custom script. A nil error means ready; any error is
// treated as "not yet" and retried by the health waiter until its deadline.
// Implementations must be safe for concurrent use.
type Probe interface {
	// Ready checks one health endpoint of the server at baseURL.
	// endpoint is a relative path ("/" for the root) and may be ignored by
	// probes that do not speak HTTP.
	Ready(ctx context.Context, baseURL, endpoint string) error
	// Describe returns a human-readable description of the probe method.
	Describe() string
}

// Config represents a probe configuration that can be parsed from config files
type Config struct {
	Type    string `json:"type" mapstructure:"type"`       // "http" (default), "tcp", "command"
	Command string `json:"command" mapstructure:"command"` // for type "command"
}

// New builds a Probe from a parsed Config. An empty type yields the default
// HTTP probe.
func (c Config) New() Probe {
	switch c.Type {
	case "", "http":
		return NewHTTPProbe()
	case "tcp":
		return TCPProbe{}
	case "command":
		return CommandProbe{Command: c.Command}
	default:
		return NewHTTPProbe()
	}
}
