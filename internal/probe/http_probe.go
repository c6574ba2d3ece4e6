package probe

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// HTTPProbe issues a GET against baseURL+endpoint. Any response with a
// non-error status (< 400) counts as ready; redirects therefore pass. A
// transport-level failure (connection refused, DNS) is returned as-is so the
// waiter can keep retrying it.
type HTTPProbe struct {
	Client *http.Client
}

// NewHTTPProbe returns an HTTPProbe with a request-scoped timeout client.
func NewHTTPProbe() HTTPProbe {
	return HTTPProbe{Client: &http.Client{Timeout: 5 * time.Second}}
}

func (p HTTPProbe) Ready(ctx context.Context, baseURL, endpoint string) error {
	url := JoinURL(baseURL, endpoint)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	client := p.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}
	return nil
}

func (p HTTPProbe) Describe() string { return "http:get" }

// JoinURL concatenates a base URL and a relative endpoint without doubling
// the separating slash.
func JoinURL(baseURL, endpoint string) string {
	b := strings.TrimRight(baseURL, "/")
	if endpoint == "" {
		endpoint = "/"
	}
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	return b + endpoint
}
