package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/loykin/testserve/internal/env"
	"github.com/loykin/testserve/internal/events"
	"github.com/loykin/testserve/internal/health"
	"github.com/loykin/testserve/internal/launcher"
	"github.com/loykin/testserve/internal/metrics"
	"github.com/loykin/testserve/internal/plan"
	"github.com/loykin/testserve/internal/registry"
)

// ErrNoPlan is returned by Restart when no plan has been ensured yet.
var ErrNoPlan = errors.New("no launch plan has been ensured")

// Status is the manager's externally visible view of the managed server.
// A zero-value Status (Pid 0, empty ConfigHash) means no server is tracked.
type Status struct {
	Name       string    `json:"name"`
	Pid        int       `json:"pid"`
	StartTime  time.Time `json:"start_time"`
	BaseURL    string    `json:"base_url"`
	ConfigHash string    `json:"config_hash"`
	Healthy    bool      `json:"healthy"`
	Reused     bool      `json:"reused"` // satisfied by an already-running server
}

// Manager orchestrates the start-or-reuse lifecycle of application-under-test
// servers: fingerprint the plan, reuse a healthy running server for the same
// fingerprint, otherwise kill the stale one, spawn a fresh process and wait
// for readiness. Safe for concurrent use; health waits happen outside the
// lock so slow startups do not serialize unrelated calls.
type Manager struct {
	mu         sync.Mutex
	reg        *registry.Registry
	launcher   launcher.Launcher
	waiter     *health.Waiter
	logger     *slog.Logger
	sinks      []events.Sink
	hashPolicy plan.HashPolicy

	envM     *env.Env         // global env fed into the exec launcher
	current  *launcher.Handle // handle for a server spawned by this manager
	status   Status
	lastPlan *plan.Plan
}

func NewManager(reg *registry.Registry) *Manager {
	logger := slog.Default()
	l := launcher.NewExecLauncher(logger)
	return &Manager{
		reg:      reg,
		launcher: l,
		envM:     l.Env,
		waiter:   health.NewWaiter(logger),
		logger:   logger,
	}
}

// SetLauncher swaps the process launch strategy. Call before EnsureStarted.
func (m *Manager) SetLauncher(l launcher.Launcher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l == nil {
		return
	}
	m.launcher = l
	if el, ok := l.(*launcher.ExecLauncher); ok {
		// Keep SetGlobalEnv effective across the swap.
		if el.Env == nil {
			el.Env = m.envM
		} else {
			m.envM = el.Env
		}
	}
}

// SetGlobalEnv sets global environment variables applied to every launched
// server, between the OS environment and per-plan env in precedence. Entries
// are "KEY=VALUE"; values may reference ${OTHER} and are expanded at launch.
func (m *Manager) SetGlobalEnv(kvs []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, kv := range kvs {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			m.envM.Set(kv[:i], kv[i+1:])
		}
	}
}

func (m *Manager) SetLogger(logger *slog.Logger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if logger != nil {
		m.logger = logger
		m.waiter = health.NewWaiter(logger)
	}
}

// SetEventSinks replaces the lifecycle event sinks.
func (m *Manager) SetEventSinks(sinks ...events.Sink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sinks = append([]events.Sink(nil), sinks...)
}

// SetHashPolicy selects which plan fields participate in the configuration
// fingerprint.
func (m *Manager) SetHashPolicy(policy plan.HashPolicy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hashPolicy = policy
}

// Registry exposes the backing registry (CLI, admin API).
func (m *Manager) Registry() *registry.Registry { return m.reg }

// Status returns the last known state of the managed server. Zero value when
// nothing has been ensured or the server was stopped.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.status
	if m.current != nil && m.current.Exited() {
		st.Healthy = false
	}
	return st
}

// EnsureStarted makes sure a server matching p's configuration fingerprint is
// running and healthy, starting one if needed. A healthy running server with
// the same fingerprint is reused; a live server with a different fingerprint
// for the same record, or an unhealthy one, is killed and replaced. The
// returned status reports whether the reuse path was taken.
func (m *Manager) EnsureStarted(ctx context.Context, p plan.Plan) (Status, error) {
	p = p.Normalized()

	m.mu.Lock()
	hash := plan.Fingerprint(p, m.hashPolicy)
	logger := m.logger
	waiter := m.waiter
	reused, st, err := m.tryReuse(ctx, p, hash)
	if err != nil {
		m.mu.Unlock()
		return Status{}, err
	}
	if reused {
		m.mu.Unlock()
		return st, nil
	}
	m.mu.Unlock()

	if p.KillOrphansOnStart {
		if n, err := m.reg.KillOrphans(ctx); err != nil {
			logger.Warn("orphan cleanup failed", "error", err)
		} else if n > 0 {
			metrics.AddOrphansReclaimed(n)
			m.emit(ctx, events.Event{Type: events.EventOrphanKilled, OccurredAt: time.Now().UTC(),
				Name: p.Name, Detail: fmt.Sprintf("reclaimed %d records", n)})
		}
	}

	// Pre-start build hook (asset bundles etc.) runs unlocked; it can take
	// minutes and must not block Status or other servers.
	if p.AssetsBuild != nil {
		if err := p.AssetsBuild(ctx); err != nil {
			return Status{}, fmt.Errorf("assets build for %s: %w", p.Name, err)
		}
	}

	m.mu.Lock()
	// Re-check under lock: a concurrent EnsureStarted may have won the race.
	reused, st, err = m.tryReuse(ctx, p, hash)
	if err != nil {
		m.mu.Unlock()
		return Status{}, err
	}
	if reused {
		m.mu.Unlock()
		return st, nil
	}

	h, err := m.launcher.Start(ctx, p)
	if err != nil {
		m.mu.Unlock()
		return Status{}, err
	}
	if _, err := m.reg.Save(ctx, hash, h.Pid, h.StartedAt, p.BaseURL, p.Executable, p.Args); err != nil {
		m.mu.Unlock()
		m.reg.TryKill(h.Pid)
		return Status{}, fmt.Errorf("persist server record: %w", err)
	}
	m.current = h
	pl := p
	m.lastPlan = &pl
	if m.status.Pid == 0 {
		metrics.IncTracked()
	}
	m.status = Status{Name: p.Name, Pid: h.Pid, StartTime: h.StartedAt, BaseURL: p.BaseURL, ConfigHash: hash}
	m.mu.Unlock()

	metrics.IncStart(p.Name)
	m.emit(ctx, events.Event{Type: events.EventStarted, OccurredAt: time.Now().UTC(),
		Name: p.Name, ConfigHash: hash, Pid: h.Pid, BaseURL: p.BaseURL})

	waitStart := time.Now()
	if err := waiter.Wait(ctx, p); err != nil {
		if errors.Is(err, health.ErrStartupTimeout) {
			metrics.IncHealthTimeout(p.Name)
			m.emit(ctx, events.Event{Type: events.EventTimeout, OccurredAt: time.Now().UTC(),
				Name: p.Name, ConfigHash: hash, Pid: h.Pid, BaseURL: p.BaseURL, Detail: err.Error()})
		}
		// Record stays persisted and unhealthy; a later EnsureStarted or
		// orphan sweep reclaims the process.
		return Status{}, err
	}
	metrics.ObserveHealthWait(p.Name, time.Since(waitStart).Seconds())

	if _, err := m.reg.MarkHealthy(ctx, hash, p.BaseURL); err != nil {
		return Status{}, err
	}
	m.emit(ctx, events.Event{Type: events.EventHealthy, OccurredAt: time.Now().UTC(),
		Name: p.Name, ConfigHash: hash, Pid: h.Pid, BaseURL: p.BaseURL})

	m.mu.Lock()
	m.status.Healthy = true
	st = m.status
	m.mu.Unlock()
	return st, nil
}

// tryReuse checks the registry for a healthy server with the same fingerprint
// and adopts it, or tears down a stale record blocking the hash. Caller holds
// the lock.
func (m *Manager) tryReuse(ctx context.Context, p plan.Plan, hash string) (bool, Status, error) {
	rec, err := m.reg.TryLoad(ctx, hash)
	if err != nil {
		return false, Status{}, fmt.Errorf("load server record: %w", err)
	}
	if rec == nil {
		return false, Status{}, nil
	}
	if rec.Healthy && !p.ForceRestartOnConfigChange {
		m.logger.Info("reusing running server", "name", p.Name, "pid", rec.Pid, "base_url", rec.BaseURL)
		pl := p
		m.lastPlan = &pl
		if m.status.Pid == 0 {
			metrics.IncTracked()
		}
		m.status = Status{Name: p.Name, Pid: rec.Pid, StartTime: rec.StartTime, BaseURL: rec.BaseURL,
			ConfigHash: hash, Healthy: true, Reused: true}
		st := m.status
		metrics.IncReuse(p.Name)
		m.emit(ctx, events.Event{Type: events.EventReused, OccurredAt: time.Now().UTC(),
			Name: p.Name, ConfigHash: hash, Pid: rec.Pid, BaseURL: rec.BaseURL})
		return true, st, nil
	}
	// Alive but unhealthy, or a forced restart: replace it.
	m.logger.Info("replacing running server", "name", p.Name, "pid", rec.Pid,
		"healthy", rec.Healthy, "forced", p.ForceRestartOnConfigChange)
	m.reg.TryKill(rec.Pid)
	if err := m.reg.Delete(ctx, hash); err != nil {
		return false, Status{}, err
	}
	return false, Status{}, nil
}

// Stop terminates the managed server and removes its record. Idempotent; safe
// to call when nothing is running. The last plan is kept so Restart works
// after Stop.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	st := m.status
	logger := m.logger
	m.current = nil
	m.status = Status{}
	m.mu.Unlock()

	if st.Pid == 0 && st.ConfigHash == "" {
		return nil
	}
	metrics.DecTracked()
	m.reg.TryKill(st.Pid)
	if err := m.reg.Delete(ctx, st.ConfigHash); err != nil {
		return err
	}
	metrics.IncStop(st.Name)
	m.emit(ctx, events.Event{Type: events.EventStopped, OccurredAt: time.Now().UTC(),
		Name: st.Name, ConfigHash: st.ConfigHash, Pid: st.Pid, BaseURL: st.BaseURL})
	logger.Info("server stopped", "name", st.Name, "pid", st.Pid)
	return nil
}

// Restart stops the current server and starts a fresh one from the last
// ensured plan, waiting for it to become healthy.
func (m *Manager) Restart(ctx context.Context) (Status, error) {
	m.mu.Lock()
	lp := m.lastPlan
	m.mu.Unlock()
	if lp == nil {
		return Status{}, ErrNoPlan
	}
	if err := m.Stop(ctx); err != nil {
		return Status{}, err
	}
	return m.EnsureStarted(ctx, *lp)
}

// RestartAsync kicks off a restart without waiting for health; errors are
// delivered on the returned channel.
func (m *Manager) RestartAsync(ctx context.Context) (<-chan error, error) {
	m.mu.Lock()
	lp := m.lastPlan
	m.mu.Unlock()
	if lp == nil {
		return nil, ErrNoPlan
	}
	errCh := make(chan error, 1)
	go func() {
		_, err := m.Restart(ctx)
		errCh <- err
		close(errCh)
	}()
	return errCh, nil
}

// Clean reclaims all abandoned registry records (dead or stale servers) and
// returns the number of records removed.
func (m *Manager) Clean(ctx context.Context) (int, error) {
	n, err := m.reg.KillOrphans(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.AddOrphansReclaimed(n)
		m.emit(ctx, events.Event{Type: events.EventOrphanKilled, OccurredAt: time.Now().UTC(),
			Detail: fmt.Sprintf("reclaimed %d records", n)})
	}
	return n, nil
}

func (m *Manager) emit(ctx context.Context, e events.Event) {
	m.mu.Lock()
	sinks := m.sinks
	logger := m.logger
	m.mu.Unlock()
	for _, s := range sinks {
		if err := s.Send(ctx, e); err != nil {
			logger.Warn("event sink send failed", "type", string(e.Type), "error", err)
		}
	}
}
