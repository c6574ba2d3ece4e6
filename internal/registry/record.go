package registry

import "time"

// Record is the persisted state for one managed server, keyed by the plan's
// configuration hash. Executable and Args are carried only so orphan cleanup
// and operators can attribute a PID to the server that spawned it.
type Record struct {
	ConfigHash string    `json:"config_hash"`
	Pid        int       `json:"pid"`
	StartTime  time.Time `json:"start_time"`
	Executable string    `json:"executable"`
	Args       []string  `json:"args,omitempty"`
	BaseURL    string    `json:"base_url"`
	Healthy    bool      `json:"healthy"`
	UpdatedAt  time.Time `json:"updated_at"`
}
