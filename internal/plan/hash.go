package plan

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
)

// HashPolicy selects which plan fields participate in the configuration
// fingerprint. The source behavior hashes everything (HashAll), so tuning a
// timeout forces a fresh server start instead of reuse. HashIdentity hashes
// only the fields that change how the process itself is started, so timing
// tweaks keep the reuse path. Callers never build the canonical form
// themselves; swapping policies never touches them.
type HashPolicy int

const (
	HashAll HashPolicy = iota
	HashIdentity
)

// Fingerprint computes a deterministic hex-encoded SHA-256 digest of the
// plan's externally observable configuration. Two plans that would start the
// server identically hash identically: env map ordering and health endpoint
// ordering do not affect the result (both are sorted into the canonical
// form). Stable across process restarts and machines for byte-identical
// plans.
func Fingerprint(p Plan, policy HashPolicy) string {
	var b strings.Builder
	line := func(key, val string) {
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(val)
		b.WriteByte('\n')
	}

	line("executable", p.Executable)
	for _, a := range p.Args {
		line("arg", a)
	}
	line("workdir", p.WorkDir)
	envKeys := make([]string, 0, len(p.Env))
	for k := range p.Env {
		envKeys = append(envKeys, k)
	}
	sort.Strings(envKeys)
	for _, k := range envKeys {
		line("env", k+"="+p.Env[k])
	}
	line("base_url", p.BaseURL)

	if policy == HashAll {
		endpoints := append([]string(nil), p.HealthEndpoints...)
		sort.Strings(endpoints)
		for _, ep := range endpoints {
			line("endpoint", ep)
		}
		line("startup_timeout", strconv.FormatInt(int64(p.StartupTimeout), 10))
		line("initial_delay", strconv.FormatInt(int64(p.InitialDelay), 10))
		line("poll_interval", strconv.FormatInt(int64(p.PollInterval), 10))
		line("stream_output", strconv.FormatBool(p.StreamOutput))
		line("force_restart", strconv.FormatBool(p.ForceRestartOnConfigChange))
		line("kill_orphans", strconv.FormatBool(p.KillOrphansOnStart))
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
