package probe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"runtime"
	"testing"
)

func TestHTTPProbeReady(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	p := NewHTTPProbe()
	if err := p.Ready(context.Background(), srv.URL, "/healthz"); err != nil {
		t.Fatalf("healthy endpoint failed: %v", err)
	}
	if err := p.Ready(context.Background(), srv.URL, "/missing"); err == nil {
		t.Fatal("404 endpoint reported ready")
	}
}

func TestHTTPProbeRedirectCountsAsReady(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusFound)
	}))
	defer srv.Close()
	p := NewHTTPProbe()
	if err := p.Ready(context.Background(), srv.URL, "/"); err != nil {
		t.Fatalf("3xx should count as ready: %v", err)
	}
}

func TestHTTPProbeConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()
	p := NewHTTPProbe()
	if err := p.Ready(context.Background(), url, "/"); err == nil {
		t.Fatal("closed server reported ready")
	}
}

func TestTCPProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()
	p := TCPProbe{}
	if err := p.Ready(context.Background(), srv.URL, ""); err != nil {
		t.Fatalf("open port failed: %v", err)
	}
	if err := p.Ready(context.Background(), "http://127.0.0.1:1", ""); err == nil {
		t.Fatal("closed port reported ready")
	}
}

func TestCommandProbe(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix shell commands")
	}
	ok := CommandProbe{Command: "true"}
	if err := ok.Ready(context.Background(), "", ""); err != nil {
		t.Fatalf("true: %v", err)
	}
	bad := CommandProbe{Command: "false"}
	if err := bad.Ready(context.Background(), "", ""); err == nil {
		t.Fatal("false exited zero?")
	}
}

func TestConfigNewDefaults(t *testing.T) {
	if _, isHTTP := (Config{}).New().(HTTPProbe); !isHTTP {
		t.Fatal("empty config should yield HTTP probe")
	}
	if _, isTCP := (Config{Type: "tcp"}).New().(TCPProbe); !isTCP {
		t.Fatal("tcp config should yield TCP probe")
	}
	if p, isCmd := (Config{Type: "command", Command: "true"}).New().(CommandProbe); !isCmd || p.Command != "true" {
		t.Fatal("command config should yield CommandProbe")
	}
}

func TestJoinURL(t *testing.T) {
	cases := map[[2]string]string{
		{"http://x:1", "/"}:      "http://x:1/",
		{"http://x:1/", "/"}:     "http://x:1/",
		{"http://x:1", "health"}: "http://x:1/health",
		{"http://x:1", ""}:       "http://x:1/",
	}
	for in, want := range cases {
		if got := JoinURL(in[0], in[1]); got != want {
			t.Fatalf("JoinURL(%q,%q) = %q, want %q", in[0], in[1], got, want)
		}
	}
}
