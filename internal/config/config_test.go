package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "testserve.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const sample = `
use_os_env = true

[env]
APP_ENV = "test"

[log]
dir = "./logs"
max_size_mb = 5

[registry]
type = "file"
stale_after = "30m"

[events]
type = "slog"

[admin]
listen = ":8099"
metrics = true

[[servers]]
name = "web"
executable = "./bin/web"
args = ["--port", "8080"]
base_url = "http://127.0.0.1:8080"
startup_timeout = "45s"
poll_interval = "100ms"
health_endpoints = ["/healthz", "/readyz"]
stream_output = true

  [servers.env]
  PORT = "8080"

  [servers.log]
  dir = "./logs/web"

[[servers]]
name = "api"
executable = "./bin/api"
base_url = "http://127.0.0.1:9090"

  [servers.probe]
  type = "tcp"
`

func TestLoadAndPlans(t *testing.T) {
	fc, err := Load(writeConfig(t, sample))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !fc.UseOSEnv || fc.Env["APP_ENV"] != "test" {
		t.Fatalf("env section not parsed: %+v", fc)
	}
	if fc.Registry.Type != "file" || fc.Registry.StaleAfter != 30*time.Minute {
		t.Fatalf("registry section not parsed: %+v", fc.Registry)
	}
	if fc.Admin.Listen != ":8099" || !fc.Admin.Metrics {
		t.Fatalf("admin section not parsed: %+v", fc.Admin)
	}

	plans, err := fc.Plans()
	if err != nil {
		t.Fatalf("Plans: %v", err)
	}
	if len(plans) != 2 {
		t.Fatalf("want 2 plans, got %d", len(plans))
	}
	web := plans[0]
	if web.Name != "web" || web.Executable != "./bin/web" {
		t.Fatalf("web plan: %+v", web)
	}
	if web.StartupTimeout != 45*time.Second || web.PollInterval != 100*time.Millisecond {
		t.Fatalf("durations not parsed: %+v", web)
	}
	if len(web.HealthEndpoints) != 2 || web.Env["PORT"] != "8080" {
		t.Fatalf("web plan details: %+v", web)
	}
	// per-server log dir overrides the top-level one, rotation size inherited
	if web.Log.Dir != "./logs/web" || web.Log.MaxSizeMB != 5 {
		t.Fatalf("log merge: %+v", web.Log)
	}

	api := plans[1]
	if api.ProbeConfig == nil || api.ProbeConfig.Type != "tcp" {
		t.Fatalf("api probe: %+v", api.ProbeConfig)
	}
	if api.Log.Dir != "./logs" {
		t.Fatalf("api should inherit top-level log dir, got %q", api.Log.Dir)
	}
}

func TestGlobalEnv(t *testing.T) {
	fc, err := Load(writeConfig(t, sample))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	t.Setenv("TESTSERVE_OS_VAR", "1")

	has := func(kvs []string, want string) bool {
		for _, kv := range kvs {
			if kv == want {
				return true
			}
		}
		return false
	}
	kvs := fc.GlobalEnv()
	if !has(kvs, "APP_ENV=test") {
		t.Fatalf("config env missing from %d pairs", len(kvs))
	}
	if !has(kvs, "TESTSERVE_OS_VAR=1") {
		t.Fatal("use_os_env should include the OS environment")
	}

	fc.UseOSEnv = false
	kvs = fc.GlobalEnv()
	if len(kvs) != 1 || kvs[0] != "APP_ENV=test" {
		t.Fatalf("without use_os_env: %v", kvs)
	}
}

func TestPlanByName(t *testing.T) {
	fc, err := Load(writeConfig(t, sample))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	p, err := fc.PlanByName("api")
	if err != nil {
		t.Fatalf("PlanByName: %v", err)
	}
	if p.BaseURL != "http://127.0.0.1:9090" {
		t.Fatalf("wrong plan: %+v", p)
	}
	if _, err := fc.PlanByName("nope"); err == nil {
		t.Fatal("expected error for unknown server name")
	}
}

func TestValidationErrors(t *testing.T) {
	cases := map[string]string{
		"missing name": `
[[servers]]
executable = "./bin/x"
base_url = "http://localhost:1"
`,
		"missing executable": `
[[servers]]
name = "x"
base_url = "http://localhost:1"
`,
		"missing base_url": `
[[servers]]
name = "x"
executable = "./bin/x"
`,
		"duplicate names": `
[[servers]]
name = "x"
executable = "./bin/x"
base_url = "http://localhost:1"
[[servers]]
name = "x"
executable = "./bin/y"
base_url = "http://localhost:2"
`,
		"bad probe type": `
[[servers]]
name = "x"
executable = "./bin/x"
base_url = "http://localhost:1"
  [servers.probe]
  type = "smoke-signal"
`,
		"command probe without command": `
[[servers]]
name = "x"
executable = "./bin/x"
base_url = "http://localhost:1"
  [servers.probe]
  type = "command"
`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, body)); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
