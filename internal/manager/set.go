package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/loykin/testserve/internal/events"
	"github.com/loykin/testserve/internal/metrics"
	"github.com/loykin/testserve/internal/plan"
	"github.com/loykin/testserve/internal/registry"
)

// Set manages one Manager per named server so a single registry, logger and
// event pipeline serve a whole config file. Used by the CLI and the admin API;
// library users embedding a single server use Manager directly.
type Set struct {
	mu        sync.Mutex
	reg       *registry.Registry
	logger    *slog.Logger
	sinks     []events.Sink
	policy    plan.HashPolicy
	globalEnv []string

	plans    map[string]plan.Plan
	managers map[string]*Manager
}

func NewSet(reg *registry.Registry) *Set {
	return &Set{
		reg:      reg,
		logger:   slog.Default(),
		plans:    make(map[string]plan.Plan),
		managers: make(map[string]*Manager),
	}
}

func (s *Set) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if logger != nil {
		s.logger = logger
		for _, m := range s.managers {
			m.SetLogger(logger)
		}
	}
}

func (s *Set) SetEventSinks(sinks ...events.Sink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sinks = append([]events.Sink(nil), sinks...)
	for _, m := range s.managers {
		m.SetEventSinks(s.sinks...)
	}
}

func (s *Set) SetHashPolicy(policy plan.HashPolicy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policy = policy
	for _, m := range s.managers {
		m.SetHashPolicy(policy)
	}
}

// SetGlobalEnv sets "KEY=VALUE" environment variables applied to every server
// this set launches, below per-plan env in precedence.
func (s *Set) SetGlobalEnv(kvs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.globalEnv = append(s.globalEnv, kvs...)
	for _, m := range s.managers {
		m.SetGlobalEnv(kvs)
	}
}

// Register adds or replaces launch plans; each plan must be named.
func (s *Set) Register(plans ...plan.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range plans {
		if p.Name == "" {
			return errors.New("launch plan requires a name")
		}
		s.plans[p.Name] = p
	}
	return nil
}

// Names returns the registered plan names.
func (s *Set) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.plans))
	for name := range s.plans {
		out = append(out, name)
	}
	return out
}

// Registry exposes the shared registry.
func (s *Set) Registry() *registry.Registry { return s.reg }

func (s *Set) managerFor(name string) (*Manager, plan.Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.plans[name]
	if !ok {
		return nil, plan.Plan{}, fmt.Errorf("no server named %q registered", name)
	}
	m, ok := s.managers[name]
	if !ok {
		m = NewManager(s.reg)
		m.SetLogger(s.logger)
		m.SetEventSinks(s.sinks...)
		m.SetHashPolicy(s.policy)
		m.SetGlobalEnv(s.globalEnv)
		s.managers[name] = m
	}
	return m, p, nil
}

// EnsureStarted starts or reuses the named server and waits for health.
func (s *Set) EnsureStarted(ctx context.Context, name string) (Status, error) {
	m, p, err := s.managerFor(name)
	if err != nil {
		return Status{}, err
	}
	return m.EnsureStarted(ctx, p)
}

// Stop stops the named server; unknown names are an error, a stopped server
// is not.
func (s *Set) Stop(ctx context.Context, name string) error {
	m, _, err := s.managerFor(name)
	if err != nil {
		return err
	}
	return m.Stop(ctx)
}

// Restart stops and freshly starts the named server.
func (s *Set) Restart(ctx context.Context, name string) (Status, error) {
	m, p, err := s.managerFor(name)
	if err != nil {
		return Status{}, err
	}
	if err := m.Stop(ctx); err != nil {
		return Status{}, err
	}
	return m.EnsureStarted(ctx, p)
}

// StopAll stops every server this set has started. The first error is
// returned after all stops were attempted.
func (s *Set) StopAll(ctx context.Context) error {
	s.mu.Lock()
	managers := make([]*Manager, 0, len(s.managers))
	for _, m := range s.managers {
		managers = append(managers, m)
	}
	s.mu.Unlock()
	var firstErr error
	for _, m := range managers {
		if err := m.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Status returns the named server's last known status.
func (s *Set) Status(name string) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.plans[name]; !ok {
		return Status{}, fmt.Errorf("no server named %q registered", name)
	}
	m, ok := s.managers[name]
	if !ok {
		return Status{Name: name}, nil
	}
	return m.Status(), nil
}

// Statuses returns the status of every registered server, keyed by name.
func (s *Set) Statuses() map[string]Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Status, len(s.plans))
	for name := range s.plans {
		if m, ok := s.managers[name]; ok {
			st := m.Status()
			st.Name = name
			out[name] = st
		} else {
			out[name] = Status{Name: name}
		}
	}
	return out
}

// Clean reclaims abandoned registry records across all servers.
func (s *Set) Clean(ctx context.Context) (int, error) {
	n, err := s.reg.KillOrphans(ctx)
	if err != nil {
		return 0, err
	}
	metrics.AddOrphansReclaimed(n)
	return n, nil
}
