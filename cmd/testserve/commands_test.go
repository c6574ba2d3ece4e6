package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/loykin/testserve"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "testserve.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func minimalConfig(t *testing.T) string {
	dir := t.TempDir()
	return writeConfig(t, `
[registry]
type = "file"
dir = "`+dir+`"

[[servers]]
name = "web"
executable = "/bin/sleep"
args = ["60"]
base_url = "http://127.0.0.1:1"
`)
}

func TestBuildRootHasSubcommands(t *testing.T) {
	root := buildRoot()
	want := []string{"start", "stop", "restart", "status", "list", "clean", "serve"}
	for _, name := range want {
		found := false
		for _, sub := range root.Commands() {
			if sub.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("missing subcommand %q", name)
		}
	}
}

func TestCommandsRequireConfig(t *testing.T) {
	c := command{}
	if err := c.Start(StartFlags{Name: "web"}); err == nil || !strings.Contains(err.Error(), "config") {
		t.Fatalf("Start without config: %v", err)
	}
	if err := c.Status(StatusFlags{}); err == nil {
		t.Fatal("Status without config should error")
	}
}

func TestStatusWithEmptyRegistry(t *testing.T) {
	c := command{}
	if err := c.Status(StatusFlags{ConfigPath: minimalConfig(t)}); err != nil {
		t.Fatalf("Status: %v", err)
	}
}

func TestRecordsForServerFiltersByFingerprint(t *testing.T) {
	cfg, err := testserve.LoadConfig(minimalConfig(t))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	p, err := cfg.PlanByName("web")
	if err != nil {
		t.Fatalf("PlanByName: %v", err)
	}
	recs := []testserve.Record{
		{ConfigHash: testserve.Fingerprint(p, testserve.HashAll), Pid: 101},
		{ConfigHash: "0000000000000000", Pid: 102},
	}

	got, err := recordsForServer(cfg, recs, "web")
	if err != nil {
		t.Fatalf("recordsForServer: %v", err)
	}
	if len(got) != 1 || got[0].Pid != 101 {
		t.Fatalf("filtered records: %+v", got)
	}
	if _, err := recordsForServer(cfg, recs, "nope"); err == nil {
		t.Fatal("unknown name should error")
	}
}

func TestStatusNamedWithEmptyRegistry(t *testing.T) {
	c := command{}
	if err := c.Status(StatusFlags{ConfigPath: minimalConfig(t), Name: "web"}); err != nil {
		t.Fatalf("Status --name: %v", err)
	}
	if err := c.Status(StatusFlags{ConfigPath: minimalConfig(t), Name: "nope"}); err == nil {
		t.Fatal("Status with unknown --name should error")
	}
}

func TestStopUnknownName(t *testing.T) {
	c := command{}
	err := c.Stop(StopFlags{ConfigPath: minimalConfig(t), Name: "nope"})
	if err == nil || !strings.Contains(err.Error(), "nope") {
		t.Fatalf("Stop unknown name: %v", err)
	}
}

func TestCleanEmptyRegistry(t *testing.T) {
	c := command{}
	if err := c.Clean(CleanFlags{ConfigPath: minimalConfig(t)}); err != nil {
		t.Fatalf("Clean: %v", err)
	}
}

func TestServeRequiresListen(t *testing.T) {
	err := runServeCommand(command{}, &ServeFlags{ConfigPath: minimalConfig(t)})
	if err == nil || !strings.Contains(err.Error(), "admin.listen") {
		t.Fatalf("serve without admin.listen: %v", err)
	}
}
