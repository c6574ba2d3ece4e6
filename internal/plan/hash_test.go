package plan

import (
	"testing"
	"time"
)

func samplePlan() Plan {
	return Plan{
		Name:            "web",
		Executable:      "bin/app",
		Args:            []string{"serve", "--port", "5005"},
		WorkDir:         "/srv/app",
		Env:             map[string]string{"APP_ENV": "Testing", "HOSTING": "InProcess"},
		BaseURL:         "http://localhost:5005",
		StartupTimeout:  30 * time.Second,
		PollInterval:    100 * time.Millisecond,
		HealthEndpoints: []string{"/", "/healthz"},
	}
}

func TestFingerprintDeterministic(t *testing.T) {
	p := samplePlan()
	h1 := Fingerprint(p, HashAll)
	h2 := Fingerprint(p, HashAll)
	if h1 != h2 {
		t.Fatalf("same plan hashed differently: %s vs %s", h1, h2)
	}
	if len(h1) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(h1))
	}
	for _, r := range h1 {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			t.Fatalf("non-lowercase-hex rune %q in %s", r, h1)
		}
	}
}

func TestFingerprintEnvOrderIndependent(t *testing.T) {
	a := samplePlan()
	a.Env = map[string]string{"A": "1", "B": "2", "C": "3"}
	b := samplePlan()
	b.Env = map[string]string{"C": "3", "A": "1", "B": "2"}
	if Fingerprint(a, HashAll) != Fingerprint(b, HashAll) {
		t.Fatal("env map ordering changed the hash")
	}
}

func TestFingerprintEndpointOrderIndependent(t *testing.T) {
	a := samplePlan()
	a.HealthEndpoints = []string{"/a", "/b"}
	b := samplePlan()
	b.HealthEndpoints = []string{"/b", "/a"}
	if Fingerprint(a, HashAll) != Fingerprint(b, HashAll) {
		t.Fatal("endpoint ordering changed the hash")
	}
}

func TestFingerprintSensitivity(t *testing.T) {
	base := Fingerprint(samplePlan(), HashAll)

	p := samplePlan()
	p.Executable = "bin/app2"
	if Fingerprint(p, HashAll) == base {
		t.Fatal("executable change not reflected")
	}

	p = samplePlan()
	p.Args = []string{"serve", "--port", "5006"}
	if Fingerprint(p, HashAll) == base {
		t.Fatal("argument change not reflected")
	}

	p = samplePlan()
	p.BaseURL = "http://localhost:6000"
	if Fingerprint(p, HashAll) == base {
		t.Fatal("base url change not reflected")
	}

	p = samplePlan()
	p.Env["APP_ENV"] = "Staging"
	if Fingerprint(p, HashAll) == base {
		t.Fatal("env value change not reflected")
	}
}

func TestFingerprintPolicies(t *testing.T) {
	a := samplePlan()
	b := samplePlan()
	b.StartupTimeout = time.Minute

	if Fingerprint(a, HashAll) == Fingerprint(b, HashAll) {
		t.Fatal("HashAll should be sensitive to timeout changes")
	}
	if Fingerprint(a, HashIdentity) != Fingerprint(b, HashIdentity) {
		t.Fatal("HashIdentity should ignore timeout changes")
	}

	// identity fields still matter under HashIdentity
	b = samplePlan()
	b.Executable = "bin/other"
	if Fingerprint(a, HashIdentity) == Fingerprint(b, HashIdentity) {
		t.Fatal("HashIdentity should see executable changes")
	}
}
