package testserve

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	cfg "github.com/loykin/testserve/internal/config"
	"github.com/loykin/testserve/internal/events"
	chsink "github.com/loykin/testserve/internal/events/clickhouse"
	"github.com/loykin/testserve/internal/health"
	"github.com/loykin/testserve/internal/logger"
	"github.com/loykin/testserve/internal/manager"
	"github.com/loykin/testserve/internal/metrics"
	"github.com/loykin/testserve/internal/plan"
	"github.com/loykin/testserve/internal/probe"
	"github.com/loykin/testserve/internal/registry"
	iapi "github.com/loykin/testserve/internal/server"
	"github.com/prometheus/client_golang/prometheus"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Plan = plan.Plan

type Status = manager.Status

type Record = registry.Record

type Event = events.Event

type EventSink = events.Sink

type ProbeConfig = probe.Config

type StoreConfig = registry.Config

type HashPolicy = plan.HashPolicy

const (
	HashAll      = plan.HashAll
	HashIdentity = plan.HashIdentity
)

// ErrStartupTimeout reports that a server never became healthy within its
// plan's StartupTimeout.
var ErrStartupTimeout = health.ErrStartupTimeout

// Fingerprint returns the configuration hash a manager would store for the
// plan under the given policy. The plan is normalized first, so the result
// matches persisted registry records.
func Fingerprint(p Plan, policy HashPolicy) string {
	return plan.Fingerprint(p.Normalized(), policy)
}

// Manager is a thin facade over internal/manager.Manager for embedding a
// single application-under-test server in a test suite.

type Manager struct{ inner *manager.Manager }

// New creates a Manager backed by the default per-user file registry.
func New() (*Manager, error) {
	return NewWithStore(StoreConfig{})
}

// NewWithStore creates a Manager with an explicit registry store backend
// ("file", "sqlite", "postgres").
func NewWithStore(sc StoreConfig) (*Manager, error) {
	store, err := registry.CreateStore(sc)
	if err != nil {
		return nil, err
	}
	return &Manager{inner: manager.NewManager(registry.New(store, nil))}, nil
}

func (m *Manager) SetLogger(l *slog.Logger)         { m.inner.SetLogger(l) }
func (m *Manager) SetEventSinks(sinks ...EventSink) { m.inner.SetEventSinks(sinks...) }
func (m *Manager) SetHashPolicy(policy HashPolicy)  { m.inner.SetHashPolicy(policy) }
func (m *Manager) SetGlobalEnv(kvs []string)        { m.inner.SetGlobalEnv(kvs) }
func (m *Manager) Status() Status                   { return m.inner.Status() }
func (m *Manager) Stop(ctx context.Context) error   { return m.inner.Stop(ctx) }

func (m *Manager) Clean(ctx context.Context) (int, error) { return m.inner.Clean(ctx) }

func (m *Manager) EnsureStarted(ctx context.Context, p Plan) (Status, error) {
	return m.inner.EnsureStarted(ctx, p)
}

func (m *Manager) Restart(ctx context.Context) (Status, error) {
	return m.inner.Restart(ctx)
}

// ServerSet manages several named servers sharing one registry; the CLI and
// admin API are built on it.
type ServerSet struct{ inner *manager.Set }

func NewSet() (*ServerSet, error) { return NewSetWithStore(StoreConfig{}) }

func NewSetWithStore(sc StoreConfig) (*ServerSet, error) {
	store, err := registry.CreateStore(sc)
	if err != nil {
		return nil, err
	}
	return &ServerSet{inner: manager.NewSet(registry.New(store, nil))}, nil
}

func (s *ServerSet) SetLogger(l *slog.Logger)         { s.inner.SetLogger(l) }
func (s *ServerSet) SetEventSinks(sinks ...EventSink) { s.inner.SetEventSinks(sinks...) }
func (s *ServerSet) SetHashPolicy(policy HashPolicy)  { s.inner.SetHashPolicy(policy) }
func (s *ServerSet) SetGlobalEnv(kvs []string)        { s.inner.SetGlobalEnv(kvs) }
func (s *ServerSet) Register(plans ...Plan) error     { return s.inner.Register(plans...) }
func (s *ServerSet) Names() []string                  { return s.inner.Names() }

func (s *ServerSet) EnsureStarted(ctx context.Context, name string) (Status, error) {
	return s.inner.EnsureStarted(ctx, name)
}
func (s *ServerSet) Stop(ctx context.Context, name string) error { return s.inner.Stop(ctx, name) }
func (s *ServerSet) StopAll(ctx context.Context) error           { return s.inner.StopAll(ctx) }
func (s *ServerSet) Restart(ctx context.Context, name string) (Status, error) {
	return s.inner.Restart(ctx, name)
}
func (s *ServerSet) Status(name string) (Status, error) { return s.inner.Status(name) }
func (s *ServerSet) Statuses() map[string]Status        { return s.inner.Statuses() }

func (s *ServerSet) Clean(ctx context.Context) (int, error) { return s.inner.Clean(ctx) }

// Records lists all persisted registry records without liveness filtering.
func (s *ServerSet) Records(ctx context.Context) ([]Record, error) {
	return s.inner.Registry().List(ctx)
}

// Alive reports whether pid refers to a live process.
func (s *ServerSet) Alive(pid int) bool { return s.inner.Registry().IsAlive(pid) }

// KillRecord force-terminates the process behind rec and deletes its record.
// Used to reclaim servers started by earlier runs of the same tool.
func (s *ServerSet) KillRecord(ctx context.Context, rec Record) error {
	s.inner.Registry().TryKill(rec.Pid)
	return s.inner.Registry().Delete(ctx, rec.ConfigHash)
}

// Config is the parsed TOML configuration.
type Config = cfg.FileConfig

func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

// NewSetFromConfig builds a ServerSet from a parsed config: store backend,
// plans and event sinks.
func NewSetFromConfig(fc *Config, logger *slog.Logger) (*ServerSet, error) {
	set, err := NewSetWithStore(fc.RegistryStoreConfig())
	if err != nil {
		return nil, err
	}
	if logger != nil {
		set.SetLogger(logger)
	}
	if kvs := fc.GlobalEnv(); len(kvs) > 0 {
		set.SetGlobalEnv(kvs)
	}
	if fc.Registry.StaleAfter > 0 {
		set.inner.Registry().StaleAfter = fc.Registry.StaleAfter
	}
	if fc.Registry.KillGrace > 0 {
		set.inner.Registry().KillGrace = fc.Registry.KillGrace
	}
	plans, err := fc.Plans()
	if err != nil {
		return nil, err
	}
	if err := set.Register(plans...); err != nil {
		return nil, err
	}
	sink, err := sinkFromConfig(fc.Events, logger)
	if err != nil {
		return nil, err
	}
	set.SetEventSinks(sink)
	return set, nil
}

func sinkFromConfig(ec cfg.EventsConfig, logger *slog.Logger) (EventSink, error) {
	switch ec.Type {
	case "", "slog":
		return events.SlogSink{Logger: logger}, nil
	case "clickhouse":
		table := ec.Table
		if table == "" {
			table = "testserve_events"
		}
		return chsink.New(ec.Addr, table)
	default:
		return nil, &UnknownSinkError{Type: ec.Type}
	}
}

// UnknownSinkError reports an unsupported events.type config value.
type UnknownSinkError struct{ Type string }

func (e *UnknownSinkError) Error() string { return "unknown events sink type " + e.Type }

// NewHTTPServer starts an HTTP server exposing the admin API for a server
// set.
func NewHTTPServer(addr, basePath string, set *ServerSet, withMetrics bool) (*http.Server, error) {
	return iapi.NewServer(addr, basePath, set.inner, withMetrics)
}

// NewHTTPHandler returns the admin API handler for mounting in an existing
// server or mux.
func NewHTTPHandler(basePath string, set *ServerSet, withMetrics bool) http.Handler {
	return iapi.NewRouter(set.inner, basePath, withMetrics).Handler()
}

// NewLogger builds the colored text logger used by the CLI.
func NewLogger(level slog.Level) *slog.Logger {
	h := logger.NewColorTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}, true)
	return slog.New(h)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// ServeMetrics starts an HTTP server on addr exposing /metrics using the default registry.
// It returns any immediate listen error; otherwise it runs the server in the caller goroutine.
func ServeMetrics(addr string) error {
	http.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           nil,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}
