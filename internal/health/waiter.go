package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/loykin/testserve/internal/plan"
)

// ErrStartupTimeout reports that the server never became healthy within the
// plan's StartupTimeout. It is distinct from caller-driven cancellation,
// which surfaces as the context's error.
var ErrStartupTimeout = errors.New("server startup timed out")

// Waiter polls a plan's health endpoints until the server is observably
// healthy, the startup timeout elapses, or the context is cancelled.
type Waiter struct {
	Logger *slog.Logger
}

func NewWaiter(logger *slog.Logger) *Waiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Waiter{Logger: logger}
}

// Wait blocks until any configured endpoint reports ready. Transport-level
// failures and error statuses during polling are expected while the server
// boots; they are logged at debug level and retried until the deadline.
// The timeout clock starts before the initial delay, so StartupTimeout bounds
// the whole wait.
func (w *Waiter) Wait(ctx context.Context, p plan.Plan) error {
	p = p.Normalized()
	deadline := time.NewTimer(p.StartupTimeout)
	defer deadline.Stop()

	// Coarse wait before hammering a server that cannot answer yet.
	if p.InitialDelay > 0 {
		initial := time.NewTimer(p.InitialDelay)
		select {
		case <-ctx.Done():
			initial.Stop()
			return ctx.Err()
		case <-deadline.C:
			initial.Stop()
			return w.timeoutErr(p)
		case <-initial.C:
		}
	}

	ticker := time.NewTicker(p.PollInterval)
	defer ticker.Stop()
	var lastErr error
	for {
		for _, endpoint := range p.HealthEndpoints {
			err := p.Probe.Ready(ctx, p.BaseURL, endpoint)
			if err == nil {
				w.logger().Debug("server healthy", "name", p.Name, "endpoint", endpoint, "probe", p.Probe.Describe())
				return nil
			}
			lastErr = err
			w.logger().Debug("readiness probe failed", "name", p.Name, "endpoint", endpoint, "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			if lastErr != nil {
				return fmt.Errorf("%w after %s (last probe error: %v)", ErrStartupTimeout, p.StartupTimeout, lastErr)
			}
			return w.timeoutErr(p)
		case <-ticker.C:
		}
	}
}

func (w *Waiter) timeoutErr(p plan.Plan) error {
	return fmt.Errorf("%w after %s for %s", ErrStartupTimeout, p.StartupTimeout, p.BaseURL)
}

func (w *Waiter) logger() *slog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return slog.Default()
}
