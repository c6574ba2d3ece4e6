package registry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/loykin/testserve/internal/osproc"
)

// ErrNoRecord is returned by MarkHealthy when no record exists for the hash.
var ErrNoRecord = fmt.Errorf("no registry record")

const (
	// DefaultStaleAfter is how long a registered server may run before
	// orphan cleanup force-kills it. Bounds resource leakage from crashed
	// test runs that never called Stop.
	DefaultStaleAfter = time.Hour
	// DefaultKillGrace is the bounded wait for graceful shutdown before a
	// force kill.
	DefaultKillGrace = 3 * time.Second

	// startTimeSlack absorbs clock skew between the recorded spawn time and
	// the OS-reported process start time when detecting PID reuse.
	startTimeSlack = 5 * time.Second
)

// Registry is the liveness-checked view over a Store. A loaded record is
// never trusted from cache: the PID is re-verified against the process table
// on every lookup, and a record whose process is gone (or whose PID was
// recycled by an unrelated process) is deleted rather than returned.
type Registry struct {
	store      Store
	logger     *slog.Logger
	StaleAfter time.Duration
	KillGrace  time.Duration
}

func New(store Store, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:      store,
		logger:     logger,
		StaleAfter: DefaultStaleAfter,
		KillGrace:  DefaultKillGrace,
	}
}

// Store exposes the underlying store (CLI listing, tests).
func (r *Registry) Store() Store { return r.store }

// TryLoad returns the record for hash, or nil when absent, corrupt, or when
// the recorded PID is no longer alive (the stale record is deleted in the
// latter cases). It never returns a record for a dead process.
func (r *Registry) TryLoad(ctx context.Context, hash string) (*Record, error) {
	rec, ok, err := r.store.Load(ctx, hash)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	if !r.pidMatchesRecord(rec) {
		r.logger.Debug("discarding stale registry record", "hash", shortHash(hash), "pid", rec.Pid)
		if err := r.store.Delete(ctx, hash); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return &rec, nil
}

// pidMatchesRecord reports whether the recorded PID is alive and plausibly
// still the process we spawned. A process whose start time postdates the
// record's spawn time took over a recycled PID and does not count.
func (r *Registry) pidMatchesRecord(rec Record) bool {
	if rec.Pid <= 0 || !osproc.Alive(rec.Pid) {
		return false
	}
	if cur := osproc.StartUnix(rec.Pid); cur > 0 {
		if cur > rec.StartTime.Add(startTimeSlack).Unix() {
			return false
		}
	}
	return true
}

// Save writes a fresh record for a just-spawned server, always unhealthy;
// MarkHealthy flips it after the readiness probe succeeds.
func (r *Registry) Save(ctx context.Context, hash string, pid int, startTime time.Time, baseURL, executable string, args []string) (Record, error) {
	rec := Record{
		ConfigHash: hash,
		Pid:        pid,
		StartTime:  startTime.UTC(),
		Executable: executable,
		Args:       append([]string(nil), args...),
		BaseURL:    baseURL,
		Healthy:    false,
		UpdatedAt:  time.Now().UTC(),
	}
	if err := r.store.Save(ctx, rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// MarkHealthy flips the persisted record's health flag. It fails loudly when
// no record exists for hash: that means Save was skipped or someone deleted
// the record mid-start.
func (r *Registry) MarkHealthy(ctx context.Context, hash, baseURL string) (Record, error) {
	rec, ok, err := r.store.Load(ctx, hash)
	if err != nil {
		return Record{}, err
	}
	if !ok {
		return Record{}, fmt.Errorf("%w for hash %s", ErrNoRecord, shortHash(hash))
	}
	rec.Healthy = true
	rec.BaseURL = baseURL
	rec.UpdatedAt = time.Now().UTC()
	if err := r.store.Save(ctx, rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Delete removes the record for hash; idempotent.
func (r *Registry) Delete(ctx context.Context, hash string) error {
	return r.store.Delete(ctx, hash)
}

// List returns all persisted records without liveness filtering.
func (r *Registry) List(ctx context.Context) ([]Record, error) {
	return r.store.List(ctx)
}

// IsAlive is an OS-level liveness check by PID.
func (r *Registry) IsAlive(pid int) bool { return osproc.Alive(pid) }

// TryKill attempts graceful termination of pid's process tree, escalating to
// a force kill after KillGrace. Returns true once the process is confirmed
// gone or was already gone. Failures are logged, never raised: cleanup must
// not crash test teardown.
func (r *Registry) TryKill(pid int) bool {
	if pid <= 0 || !osproc.Alive(pid) {
		return true
	}
	if !osproc.TerminateTree(pid, r.killGrace()) {
		r.logger.Warn("failed to terminate server process", "pid", pid)
		return false
	}
	return true
}

// KillOrphans scans all persisted records and reclaims abandoned servers:
// records whose PID is dead are deleted; servers running longer than
// StaleAfter are force-killed and their records deleted. Returns the number
// of records reclaimed.
func (r *Registry) KillOrphans(ctx context.Context) (int, error) {
	recs, err := r.store.List(ctx)
	if err != nil {
		return 0, err
	}
	reclaimed := 0
	for _, rec := range recs {
		if !r.pidMatchesRecord(rec) {
			r.logger.Info("removing record for dead server", "hash", shortHash(rec.ConfigHash), "pid", rec.Pid)
			if err := r.store.Delete(ctx, rec.ConfigHash); err == nil {
				reclaimed++
			}
			continue
		}
		if time.Since(rec.StartTime) > r.staleAfter() {
			r.logger.Warn("killing orphaned server", "hash", shortHash(rec.ConfigHash), "pid", rec.Pid,
				"executable", rec.Executable, "age", time.Since(rec.StartTime).Round(time.Second))
			if !r.TryKill(rec.Pid) {
				continue
			}
			if err := r.store.Delete(ctx, rec.ConfigHash); err == nil {
				reclaimed++
			}
		}
	}
	return reclaimed, nil
}

func (r *Registry) staleAfter() time.Duration {
	if r.StaleAfter > 0 {
		return r.StaleAfter
	}
	return DefaultStaleAfter
}

func (r *Registry) killGrace() time.Duration {
	if r.KillGrace > 0 {
		return r.KillGrace
	}
	return DefaultKillGrace
}

func shortHash(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
