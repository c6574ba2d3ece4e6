package plan

import (
	"testing"
	"time"

	"github.com/loykin/testserve/internal/probe"
)

func TestNormalizedDefaults(t *testing.T) {
	p := Plan{Executable: "bin/app", BaseURL: "http://localhost:5005"}
	n := p.Normalized()
	if n.StartupTimeout != DefaultStartupTimeout {
		t.Fatalf("startup timeout = %v", n.StartupTimeout)
	}
	if n.PollInterval != DefaultPollInterval {
		t.Fatalf("poll interval = %v", n.PollInterval)
	}
	if len(n.HealthEndpoints) != 1 || n.HealthEndpoints[0] != "/" {
		t.Fatalf("endpoints = %v", n.HealthEndpoints)
	}
	if _, ok := n.Probe.(probe.HTTPProbe); !ok {
		t.Fatalf("default probe is %T, want HTTPProbe", n.Probe)
	}
	// receiver untouched
	if p.StartupTimeout != 0 || p.Probe != nil {
		t.Fatal("Normalized modified its receiver")
	}
}

func TestNormalizedKeepsExplicitValues(t *testing.T) {
	p := Plan{
		StartupTimeout:  time.Second,
		InitialDelay:    50 * time.Millisecond,
		PollInterval:    10 * time.Millisecond,
		HealthEndpoints: []string{"/healthz"},
		Probe:           probe.TCPProbe{},
	}
	n := p.Normalized()
	if n.StartupTimeout != time.Second || n.InitialDelay != 50*time.Millisecond || n.PollInterval != 10*time.Millisecond {
		t.Fatalf("explicit durations overridden: %+v", n)
	}
	if len(n.HealthEndpoints) != 1 || n.HealthEndpoints[0] != "/healthz" {
		t.Fatalf("endpoints = %v", n.HealthEndpoints)
	}
	if _, ok := n.Probe.(probe.TCPProbe); !ok {
		t.Fatalf("explicit probe replaced by %T", n.Probe)
	}
}

func TestNormalizedUsesProbeConfig(t *testing.T) {
	p := Plan{ProbeConfig: &probe.Config{Type: "tcp"}}
	if _, ok := p.Normalized().Probe.(probe.TCPProbe); !ok {
		t.Fatal("probe config ignored")
	}
}
