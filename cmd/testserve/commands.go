package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/loykin/testserve"
)

// command wires subcommand logic to the public facade. Kept separate from
// cobra setup so the logic is testable without argument parsing.
type command struct {
	logger *slog.Logger
}

func (c command) buildSet(configPath string) (*testserve.ServerSet, *testserve.Config, error) {
	if configPath == "" {
		return nil, nil, fmt.Errorf("config file required. Use --config=testserve.toml")
	}
	cfg, err := testserve.LoadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("error loading config: %w", err)
	}
	set, err := testserve.NewSetFromConfig(cfg, c.logger)
	if err != nil {
		return nil, nil, err
	}
	return set, cfg, nil
}

func (c command) Start(flags StartFlags) error {
	set, _, err := c.buildSet(flags.ConfigPath)
	if err != nil {
		return err
	}
	ctx := context.Background()
	names := []string{flags.Name}
	if flags.All {
		names = set.Names()
	}
	for _, name := range names {
		st, err := set.EnsureStarted(ctx, name)
		if err != nil {
			return fmt.Errorf("start %s: %w", name, err)
		}
		verb := "started"
		if st.Reused {
			verb = "reused"
		}
		fmt.Printf("%s %s (pid %d) at %s\n", verb, name, st.Pid, st.BaseURL)
	}
	return nil
}

func (c command) Stop(flags StopFlags) error {
	set, _, err := c.buildSet(flags.ConfigPath)
	if err != nil {
		return err
	}
	ctx := context.Background()
	if flags.All {
		// Stop by registry records: servers started by earlier CLI runs have
		// no in-memory manager state, so reclaim everything persisted.
		recs, err := set.Records(ctx)
		if err != nil {
			return err
		}
		for _, rec := range recs {
			fmt.Printf("stopping pid %d (%s)\n", rec.Pid, rec.Executable)
			if err := set.KillRecord(ctx, rec); err != nil {
				return err
			}
		}
		return nil
	}
	if err := set.Stop(ctx, flags.Name); err != nil {
		return fmt.Errorf("stop %s: %w", flags.Name, err)
	}
	fmt.Printf("stopped %s\n", flags.Name)
	return nil
}

func (c command) Restart(flags RestartFlags) error {
	set, _, err := c.buildSet(flags.ConfigPath)
	if err != nil {
		return err
	}
	st, err := set.Restart(context.Background(), flags.Name)
	if err != nil {
		return fmt.Errorf("restart %s: %w", flags.Name, err)
	}
	fmt.Printf("restarted %s (pid %d) at %s\n", flags.Name, st.Pid, st.BaseURL)
	return nil
}

func (c command) Status(flags StatusFlags) error {
	set, cfg, err := c.buildSet(flags.ConfigPath)
	if err != nil {
		return err
	}
	// CLI invocations are short-lived, so in-memory status is empty; report
	// from the persisted registry instead.
	recs, err := set.Records(context.Background())
	if err != nil {
		return err
	}
	if flags.Name != "" {
		if recs, err = recordsForServer(cfg, recs, flags.Name); err != nil {
			return err
		}
	}
	for _, rec := range recs {
		alive := set.Alive(rec.Pid)
		line := map[string]any{
			"hash":       shortHash(rec.ConfigHash),
			"pid":        rec.Pid,
			"executable": rec.Executable,
			"base_url":   rec.BaseURL,
			"healthy":    rec.Healthy,
			"alive":      alive,
			"uptime":     time.Since(rec.StartTime).Round(time.Second).String(),
		}
		b, _ := json.Marshal(line)
		fmt.Println(string(b))
	}
	if len(recs) == 0 {
		if flags.Name != "" {
			fmt.Printf("no record for %s\n", flags.Name)
		} else {
			fmt.Println("no servers registered")
		}
	}
	return nil
}

// recordsForServer narrows registry records to the named config entry by its
// configuration fingerprint.
func recordsForServer(cfg *testserve.Config, recs []testserve.Record, name string) ([]testserve.Record, error) {
	p, err := cfg.PlanByName(name)
	if err != nil {
		return nil, err
	}
	hash := testserve.Fingerprint(p, testserve.HashAll)
	var out []testserve.Record
	for _, rec := range recs {
		if rec.ConfigHash == hash {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (c command) List(flags ListFlags) error {
	return c.Status(StatusFlags{ConfigPath: flags.ConfigPath})
}

func (c command) Clean(flags CleanFlags) error {
	set, _, err := c.buildSet(flags.ConfigPath)
	if err != nil {
		return err
	}
	n, err := set.Clean(context.Background())
	if err != nil {
		return err
	}
	fmt.Printf("reclaimed %d record(s)\n", n)
	return nil
}

func shortHash(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}

func exitErr(err error) {
	_, _ = fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
