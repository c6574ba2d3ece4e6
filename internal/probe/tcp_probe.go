package probe

import (
	"context"
	"fmt"
	"net"
	"net/url"
)

// TCPProbe considers the server ready as soon as its address accepts a TCP
// connection. Useful for servers without an HTTP surface; the endpoint path
// is ignored.
type TCPProbe struct {
	Dialer net.Dialer
}

func (p TCPProbe) Ready(ctx context.Context, baseURL, _ string) error {
	addr, err := hostPort(baseURL)
	if err != nil {
		return err
	}
	conn, err := p.Dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return conn.Close()
}

func (p TCPProbe) Describe() string { return "tcp:connect" }

func hostPort(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base url %q: %w", baseURL, err)
	}
	host := u.Hostname()
	if host == "" {
		// allow raw "host:port" targets
		if h, p, splitErr := net.SplitHostPort(baseURL); splitErr == nil {
			return net.JoinHostPort(h, p), nil
		}
		return "", fmt.Errorf("no host in base url %q", baseURL)
	}
	port := u.Port()
	if port == "" {
		switch u.Scheme {
		case "https":
			port = "443"
		default:
			port = "80"
		}
	}
	return net.JoinHostPort(host, port), nil
}
