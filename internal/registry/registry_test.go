//go:build !windows

package registry

import (
	"context"
	"os"
	"os/exec"
	"testing"
	"time"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := New(newTestFileStore(t), nil)
	r.KillGrace = time.Second
	return r
}

// spawnSleeper starts a long-running child and returns its pid. The child is
// reaped in cleanup so a killed process does not linger as a zombie.
func spawnSleeper(t *testing.T) int {
	t.Helper()
	cmd := exec.Command("sleep", "60")
	if err := cmd.Start(); err != nil {
		t.Fatalf("start sleeper: %v", err)
	}
	done := make(chan struct{})
	go func() { _ = cmd.Wait(); close(done) }()
	t.Cleanup(func() {
		_ = cmd.Process.Kill()
		select {
		case <-done:
		case <-time.After(3 * time.Second):
		}
	})
	return cmd.Process.Pid
}

// deadPid returns the pid of an already-exited, reaped process.
func deadPid(t *testing.T) int {
	t.Helper()
	cmd := exec.Command("/bin/sh", "-c", "exit 0")
	if err := cmd.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	pid := cmd.Process.Pid
	_ = cmd.Wait()
	return pid
}

func TestTryLoadAliveRecord(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	pid := spawnSleeper(t)
	if _, err := r.Save(ctx, "h1", pid, time.Now(), "http://x", "sleep", []string{"60"}); err != nil {
		t.Fatal(err)
	}
	rec, err := r.TryLoad(ctx, "h1")
	if err != nil {
		t.Fatal(err)
	}
	if rec == nil || rec.Pid != pid {
		t.Fatalf("expected live record for pid %d, got %+v", pid, rec)
	}
	if rec.Healthy {
		t.Fatal("fresh record must be unhealthy")
	}
}

func TestTryLoadDeadPidDeletesRecord(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	pid := deadPid(t)
	if _, err := r.Save(ctx, "h1", pid, time.Now(), "http://x", "sh", nil); err != nil {
		t.Fatal(err)
	}
	rec, err := r.TryLoad(ctx, "h1")
	if err != nil {
		t.Fatal(err)
	}
	if rec != nil {
		t.Fatalf("dead pid must yield nil, got %+v", rec)
	}
	// stale file gone
	if _, ok, _ := r.Store().Load(ctx, "h1"); ok {
		t.Fatal("stale record not deleted")
	}
}

func TestTryLoadAbsent(t *testing.T) {
	r := newTestRegistry(t)
	rec, err := r.TryLoad(context.Background(), "nope")
	if err != nil || rec != nil {
		t.Fatalf("absent: rec=%v err=%v", rec, err)
	}
}

func TestTryLoadPidReuseGuard(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	pid := spawnSleeper(t)
	// Record claims the server was spawned an hour before this process
	// started: the current occupant of the PID cannot be our server.
	if _, err := r.Save(ctx, "h1", pid, time.Now().Add(-time.Hour), "http://x", "sleep", nil); err != nil {
		t.Fatal(err)
	}
	rec, err := r.TryLoad(ctx, "h1")
	if err != nil {
		t.Fatal(err)
	}
	if rec != nil {
		t.Fatalf("recycled pid must yield nil, got %+v", rec)
	}
}

func TestMarkHealthy(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	pid := spawnSleeper(t)
	if _, err := r.Save(ctx, "h1", pid, time.Now(), "http://x", "sleep", nil); err != nil {
		t.Fatal(err)
	}
	rec, err := r.MarkHealthy(ctx, "h1", "http://x")
	if err != nil {
		t.Fatal(err)
	}
	if !rec.Healthy {
		t.Fatal("record not marked healthy")
	}
	got, _ := r.TryLoad(ctx, "h1")
	if got == nil || !got.Healthy {
		t.Fatalf("persisted health flag lost: %+v", got)
	}
}

func TestMarkHealthyMissingRecordFails(t *testing.T) {
	r := newTestRegistry(t)
	if _, err := r.MarkHealthy(context.Background(), "missing", "http://x"); err == nil {
		t.Fatal("MarkHealthy must fail loudly without a record")
	}
}

func TestTryKill(t *testing.T) {
	r := newTestRegistry(t)
	pid := spawnSleeper(t)
	if !r.TryKill(pid) {
		t.Fatalf("TryKill(%d) = false", pid)
	}
	if r.IsAlive(pid) {
		t.Fatalf("pid %d still alive", pid)
	}
	// already gone: still true
	if !r.TryKill(pid) {
		t.Fatal("TryKill on dead pid must report success")
	}
	if !r.TryKill(0) {
		t.Fatal("TryKill(0) must report success")
	}
}

func TestKillOrphansReclaimsDeadRecords(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	if _, err := r.Save(ctx, "dead", deadPid(t), time.Now(), "http://x", "sh", nil); err != nil {
		t.Fatal(err)
	}
	alive := spawnSleeper(t)
	if _, err := r.Save(ctx, "alive", alive, time.Now(), "http://y", "sleep", nil); err != nil {
		t.Fatal(err)
	}

	n, err := r.KillOrphans(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("reclaimed %d, want 1", n)
	}
	if _, ok, _ := r.Store().Load(ctx, "dead"); ok {
		t.Fatal("dead record survived KillOrphans")
	}
	if _, ok, _ := r.Store().Load(ctx, "alive"); !ok {
		t.Fatal("fresh live record must survive KillOrphans")
	}
	if !r.IsAlive(alive) {
		t.Fatal("fresh live server must not be killed")
	}
}

func TestKillOrphansKillsStaleServers(t *testing.T) {
	r := newTestRegistry(t)
	r.StaleAfter = 50 * time.Millisecond
	ctx := context.Background()
	pid := spawnSleeper(t)
	// The sleeper really did just start, so keep the recorded StartTime close
	// to reality for the reuse guard, then wait out the staleness threshold.
	if _, err := r.Save(ctx, "stale", pid, time.Now(), "http://x", "sleep", []string{"60"}); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)

	n, err := r.KillOrphans(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("reclaimed %d, want 1", n)
	}
	if r.IsAlive(pid) {
		t.Fatalf("stale server %d still alive", pid)
	}
	if _, ok, _ := r.Store().Load(ctx, "stale"); ok {
		t.Fatal("stale record survived")
	}
}

func TestDefaultDirIsPerUser(t *testing.T) {
	d := DefaultDir()
	if d == "" {
		t.Fatal("empty default dir")
	}
	if d == os.TempDir() {
		t.Fatal("default dir must be scoped below tmp")
	}
}
