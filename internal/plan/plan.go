package plan

import (
	"context"
	"time"

	"github.com/loykin/testserve/internal/logger"
	"github.com/loykin/testserve/internal/probe"
)

// Default polling values applied by Normalized.
const (
	DefaultStartupTimeout = 30 * time.Second
	DefaultPollInterval   = 250 * time.Millisecond
)

// BuildFunc is an optional hook run once before the server process starts,
// e.g. building a front-end bundle. It runs outside any manager lock.
type BuildFunc func(ctx context.Context) error

// Plan is an immutable description of how to start an application-under-test
// server and how to verify it is ready. Construct one per test-run
// configuration and treat it as a value.
type Plan struct {
	Name       string            `json:"name" mapstructure:"name"` // label for logs, CLI and config lookup
	Executable string            `json:"executable" mapstructure:"executable"`
	Args       []string          `json:"args" mapstructure:"args"`
	WorkDir    string            `json:"work_dir" mapstructure:"work_dir"`
	Env        map[string]string `json:"env" mapstructure:"env"` // case-sensitive keys

	BaseURL string `json:"base_url" mapstructure:"base_url"` // URL the server is expected to serve on

	StartupTimeout  time.Duration `json:"startup_timeout" mapstructure:"startup_timeout"`
	InitialDelay    time.Duration `json:"initial_delay" mapstructure:"initial_delay"`
	PollInterval    time.Duration `json:"poll_interval" mapstructure:"poll_interval"`
	HealthEndpoints []string      `json:"health_endpoints" mapstructure:"health_endpoints"` // relative paths; root "/" when empty

	Probe       probe.Probe   `json:"-" mapstructure:"-"`
	ProbeConfig *probe.Config `json:"probe,omitempty" mapstructure:"probe"` // for config parsing

	StreamOutput               bool `json:"stream_output" mapstructure:"stream_output"`
	ForceRestartOnConfigChange bool `json:"force_restart" mapstructure:"force_restart"`
	KillOrphansOnStart         bool `json:"kill_orphans" mapstructure:"kill_orphans"`

	AssetsBuild BuildFunc `json:"-" mapstructure:"-"`

	Log logger.Config `json:"log" mapstructure:"log"` // captured server output
}

// Normalized returns a copy with defaults filled in: startup timeout, poll
// interval, root health endpoint and the default HTTP probe. The receiver is
// not modified.
func (p Plan) Normalized() Plan {
	if p.StartupTimeout <= 0 {
		p.StartupTimeout = DefaultStartupTimeout
	}
	if p.PollInterval <= 0 {
		p.PollInterval = DefaultPollInterval
	}
	if p.InitialDelay < 0 {
		p.InitialDelay = 0
	}
	if len(p.HealthEndpoints) == 0 {
		p.HealthEndpoints = []string{"/"}
	}
	if p.Probe == nil {
		if p.ProbeConfig != nil {
			p.Probe = p.ProbeConfig.New()
		} else {
			p.Probe = probe.NewHTTPProbe()
		}
	}
	return p
}
