package config

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/loykin/testserve/internal/logger"
	"github.com/loykin/testserve/internal/plan"
	"github.com/loykin/testserve/internal/probe"
	"github.com/loykin/testserve/internal/registry"
	"github.com/spf13/viper"
)

// FileConfig represents the top-level TOML structure:
//
//	use_os_env = true
//	[env]
//	APP_ENV = "test"
//	[log]
//	dir = "./logs"
//	[registry]
//	type = "file"
//	[events]
//	type = "slog"
//	[admin]
//	listen = ":8099"
//	[[servers]]
//	name = "web"
//	executable = "./bin/server"
type FileConfig struct {
	Env      map[string]string `toml:"env" mapstructure:"env"`
	UseOSEnv bool              `toml:"use_os_env" mapstructure:"use_os_env"`
	Log      *LogConfig        `toml:"log" mapstructure:"log"`
	Registry RegistryConfig    `toml:"registry" mapstructure:"registry"`
	Events   EventsConfig      `toml:"events" mapstructure:"events"`
	Admin    AdminConfig       `toml:"admin" mapstructure:"admin"`
	Servers  []ServerConfig    `toml:"servers" mapstructure:"servers"`
}

type LogConfig struct {
	Dir        string `toml:"dir" mapstructure:"dir"`
	Stdout     string `toml:"stdout" mapstructure:"stdout"`
	Stderr     string `toml:"stderr" mapstructure:"stderr"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

type RegistryConfig struct {
	Type         string        `toml:"type" mapstructure:"type"`
	Dir          string        `toml:"dir" mapstructure:"dir"`
	Path         string        `toml:"path" mapstructure:"path"`
	DSN          string        `toml:"dsn" mapstructure:"dsn"`
	MaxOpenConns int           `toml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns int           `toml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxAge   time.Duration `toml:"conn_max_age" mapstructure:"conn_max_age"`
	StaleAfter   time.Duration `toml:"stale_after" mapstructure:"stale_after"`
	KillGrace    time.Duration `toml:"kill_grace" mapstructure:"kill_grace"`
}

type EventsConfig struct {
	Type  string `toml:"type" mapstructure:"type"`   // "slog" (default) or "clickhouse"
	Addr  string `toml:"addr" mapstructure:"addr"`   // clickhouse host:port
	Table string `toml:"table" mapstructure:"table"` // clickhouse table name
}

type AdminConfig struct {
	Listen   string `toml:"listen" mapstructure:"listen"`
	BasePath string `toml:"base_path" mapstructure:"base_path"`
	Metrics  bool   `toml:"metrics" mapstructure:"metrics"`
}

type ProbeEntry struct {
	Type    string `toml:"type" mapstructure:"type"`
	Command string `toml:"command" mapstructure:"command"`
}

type ServerConfig struct {
	Name            string            `toml:"name" mapstructure:"name"`
	Executable      string            `toml:"executable" mapstructure:"executable"`
	Args            []string          `toml:"args" mapstructure:"args"`
	WorkDir         string            `toml:"workdir" mapstructure:"workdir"`
	Env             map[string]string `toml:"env" mapstructure:"env"`
	BaseURL         string            `toml:"base_url" mapstructure:"base_url"`
	StartupTimeout  time.Duration     `toml:"startup_timeout" mapstructure:"startup_timeout"`
	InitialDelay    time.Duration     `toml:"initial_delay" mapstructure:"initial_delay"`
	PollInterval    time.Duration     `toml:"poll_interval" mapstructure:"poll_interval"`
	HealthEndpoints []string          `toml:"health_endpoints" mapstructure:"health_endpoints"`
	Probe           *ProbeEntry       `toml:"probe" mapstructure:"probe"`
	StreamOutput    bool              `toml:"stream_output" mapstructure:"stream_output"`
	ForceRestart    bool              `toml:"force_restart" mapstructure:"force_restart"`
	KillOrphans     bool              `toml:"kill_orphans" mapstructure:"kill_orphans"`
	Log             *LogConfig        `toml:"log" mapstructure:"log"`
}

// Load parses the TOML config file.
func Load(path string) (*FileConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, err
	}
	if err := fc.validate(); err != nil {
		return nil, err
	}
	return &fc, nil
}

func (fc *FileConfig) validate() error {
	seen := make(map[string]struct{}, len(fc.Servers))
	for _, sc := range fc.Servers {
		if sc.Name == "" {
			return fmt.Errorf("server entry requires name")
		}
		if _, dup := seen[sc.Name]; dup {
			return fmt.Errorf("duplicate server name %q", sc.Name)
		}
		seen[sc.Name] = struct{}{}
		if sc.Executable == "" {
			return fmt.Errorf("server %s requires executable", sc.Name)
		}
		if sc.BaseURL == "" {
			return fmt.Errorf("server %s requires base_url", sc.Name)
		}
		if sc.Probe != nil {
			switch sc.Probe.Type {
			case "", "http", "tcp":
			case "command":
				if sc.Probe.Command == "" {
					return fmt.Errorf("server %s: command probe requires command", sc.Name)
				}
			default:
				return fmt.Errorf("server %s: unknown probe type %q", sc.Name, sc.Probe.Type)
			}
		}
	}
	return nil
}

// GlobalEnv flattens the top-level env section into "K=V" pairs applied to
// every server. When use_os_env is set the OS environment is included first,
// so config entries override it. Keys are emitted in sorted order.
func (fc *FileConfig) GlobalEnv() []string {
	var out []string
	if fc.UseOSEnv {
		out = append(out, os.Environ()...)
	}
	keys := make([]string, 0, len(fc.Env))
	for k := range fc.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, k+"="+fc.Env[k])
	}
	return out
}

// RegistryStoreConfig converts the registry section to the store factory's
// config.
func (fc *FileConfig) RegistryStoreConfig() registry.Config {
	return registry.Config{
		Type:         fc.Registry.Type,
		Dir:          fc.Registry.Dir,
		Path:         fc.Registry.Path,
		DSN:          fc.Registry.DSN,
		MaxOpenConns: fc.Registry.MaxOpenConns,
		MaxIdleConns: fc.Registry.MaxIdleConns,
		ConnMaxAge:   fc.Registry.ConnMaxAge,
	}
}

// Plans converts the server entries into launch plans. Top-level log settings
// provide defaults that per-server log settings override.
func (fc *FileConfig) Plans() ([]plan.Plan, error) {
	plans := make([]plan.Plan, 0, len(fc.Servers))
	for _, sc := range fc.Servers {
		logCfg := mergeLog(fc.Log, sc.Log)

		p := plan.Plan{
			Name:                       sc.Name,
			Executable:                 sc.Executable,
			Args:                       sc.Args,
			WorkDir:                    sc.WorkDir,
			Env:                        sc.Env,
			BaseURL:                    sc.BaseURL,
			StartupTimeout:             sc.StartupTimeout,
			InitialDelay:               sc.InitialDelay,
			PollInterval:               sc.PollInterval,
			HealthEndpoints:            sc.HealthEndpoints,
			StreamOutput:               sc.StreamOutput,
			ForceRestartOnConfigChange: sc.ForceRestart,
			KillOrphansOnStart:         sc.KillOrphans,
			Log:                        logCfg,
		}
		if sc.Probe != nil {
			p.ProbeConfig = &probe.Config{Type: sc.Probe.Type, Command: sc.Probe.Command}
		}
		plans = append(plans, p)
	}
	return plans, nil
}

// PlanByName returns the launch plan for a named server entry.
func (fc *FileConfig) PlanByName(name string) (plan.Plan, error) {
	plans, err := fc.Plans()
	if err != nil {
		return plan.Plan{}, err
	}
	for _, p := range plans {
		if p.Name == name {
			return p, nil
		}
	}
	return plan.Plan{}, fmt.Errorf("no server named %q in config", name)
}

func mergeLog(base, override *LogConfig) logger.Config {
	var out logger.Config
	if base != nil {
		out = logger.Config{
			Dir:        base.Dir,
			StdoutPath: base.Stdout,
			StderrPath: base.Stderr,
			MaxSizeMB:  base.MaxSizeMB,
			MaxBackups: base.MaxBackups,
			MaxAgeDays: base.MaxAgeDays,
			Compress:   base.Compress,
		}
	}
	if override == nil {
		return out
	}
	if override.Dir != "" {
		out.Dir = override.Dir
	}
	if override.Stdout != "" {
		out.StdoutPath = override.Stdout
	}
	if override.Stderr != "" {
		out.StderrPath = override.Stderr
	}
	if override.MaxSizeMB != 0 {
		out.MaxSizeMB = override.MaxSizeMB
	}
	if override.MaxBackups != 0 {
		out.MaxBackups = override.MaxBackups
	}
	if override.MaxAgeDays != 0 {
		out.MaxAgeDays = override.MaxAgeDays
	}
	if override.Compress {
		out.Compress = true
	}
	return out
}
