package events

import (
	"context"
	"log/slog"
	"time"
)

// Type defines the kind of lifecycle event.
type Type string

const (
	EventStarted      Type = "started"
	EventHealthy      Type = "healthy"
	EventReused       Type = "reused"
	EventStopped      Type = "stopped"
	EventTimeout      Type = "timeout"
	EventOrphanKilled Type = "orphan_killed"
)

// Event represents a server lifecycle event to be exported to external
// systems (CI dashboards, analytics).
type Event struct {
	Type       Type      `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Name       string    `json:"name"`
	ConfigHash string    `json:"config_hash"`
	Pid        int       `json:"pid"`
	BaseURL    string    `json:"base_url"`
	Detail     string    `json:"detail,omitempty"`
}

// Sink is a destination for lifecycle events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// SlogSink writes events to the structured logger; the default sink for
// local runs.
type SlogSink struct {
	Logger *slog.Logger
}

func (s SlogSink) Send(ctx context.Context, e Event) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "lifecycle event",
		"type", string(e.Type), "name", e.Name, "hash", short(e.ConfigHash),
		"pid", e.Pid, "base_url", e.BaseURL, "detail", e.Detail)
	return nil
}

func short(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
