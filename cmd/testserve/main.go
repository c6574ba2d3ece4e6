package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/loykin/testserve"
	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		exitErr(err)
	}
}

// buildRoot creates the root command with all subcommands attached.
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	startFlags := &StartFlags{}
	stopFlags := &StopFlags{}
	restartFlags := &RestartFlags{}
	statusFlags := &StatusFlags{}
	cleanFlags := &CleanFlags{}
	serveFlags := &ServeFlags{}

	root := createRootCommand(globalFlags)

	root.AddCommand(
		createStartCommand(globalFlags, startFlags),
		createStopCommand(globalFlags, stopFlags),
		createRestartCommand(globalFlags, restartFlags),
		createStatusCommand(globalFlags, statusFlags),
		createListCommand(globalFlags),
		createCleanCommand(globalFlags, cleanFlags),
		createServeCommand(globalFlags, serveFlags),
	)

	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "testserve",
		Short: "Start-or-reuse lifecycle manager for test servers",
		Long: `Testserve starts application-under-test servers for end-to-end test runs,
waits for them to become healthy, and reuses an already-running healthy
server when the launch configuration has not changed.

Examples:
  testserve start --name=web --config=testserve.toml
  testserve status --config=testserve.toml
  testserve clean --config=testserve.toml   # reclaim abandoned servers
  testserve serve --config=testserve.toml   # admin API daemon`,
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file")
	root.PersistentFlags().BoolVar(&flags.Verbose, "verbose", false, "debug-level logging")

	return root
}

func newCommand(flags *GlobalFlags) command {
	level := slog.LevelInfo
	if flags.Verbose {
		level = slog.LevelDebug
	}
	return command{logger: testserve.NewLogger(level)}
}

func createStartCommand(globalFlags *GlobalFlags, startFlags *StartFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start or reuse a server",
		Long: `Start the named server from config and wait until it is healthy.
A healthy running server with the same configuration is reused.

Examples:
  testserve start --name=web --config=testserve.toml
  testserve start --all --config=testserve.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if startFlags.Name == "" && !startFlags.All {
				return fmt.Errorf("either --name or --all is required")
			}
			return newCommand(globalFlags).Start(StartFlags{
				ConfigPath: globalFlags.ConfigPath,
				Name:       startFlags.Name,
				All:        startFlags.All,
			})
		},
	}
	cmd.Flags().StringVar(&startFlags.Name, "name", "", "server name from config")
	cmd.Flags().BoolVar(&startFlags.All, "all", false, "start every server in config")
	return cmd
}

func createStopCommand(globalFlags *GlobalFlags, stopFlags *StopFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop a server",
		Long: `Stop the named server and remove its registry record.

Examples:
  testserve stop --name=web --config=testserve.toml
  testserve stop --all --config=testserve.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if stopFlags.Name == "" && !stopFlags.All {
				return fmt.Errorf("either --name or --all is required")
			}
			return newCommand(globalFlags).Stop(StopFlags{
				ConfigPath: globalFlags.ConfigPath,
				Name:       stopFlags.Name,
				All:        stopFlags.All,
			})
		},
	}
	cmd.Flags().StringVar(&stopFlags.Name, "name", "", "server name from config")
	cmd.Flags().BoolVar(&stopFlags.All, "all", false, "stop every registered server")
	return cmd
}

func createRestartCommand(globalFlags *GlobalFlags, restartFlags *RestartFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart a server",
		Long: `Stop the named server and start a fresh process, waiting for health.

Example:
  testserve restart --name=web --config=testserve.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return newCommand(globalFlags).Restart(RestartFlags{
				ConfigPath: globalFlags.ConfigPath,
				Name:       restartFlags.Name,
			})
		},
	}
	cmd.Flags().StringVar(&restartFlags.Name, "name", "", "server name from config (required)")
	if err := cmd.MarkFlagRequired("name"); err != nil {
		panic(err)
	}
	return cmd
}

func createStatusCommand(globalFlags *GlobalFlags, statusFlags *StatusFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show registered servers",
		Long: `Show all persisted server records with a liveness check per PID.

Example:
  testserve status --config=testserve.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return newCommand(globalFlags).Status(StatusFlags{
				ConfigPath: globalFlags.ConfigPath,
				Name:       statusFlags.Name,
			})
		},
	}
	cmd.Flags().StringVar(&statusFlags.Name, "name", "", "server name (optional)")
	return cmd
}

func createListCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List persisted registry records",
		RunE: func(cmd *cobra.Command, args []string) error {
			return newCommand(globalFlags).List(ListFlags{ConfigPath: globalFlags.ConfigPath})
		},
	}
}

func createCleanCommand(globalFlags *GlobalFlags, cleanFlags *CleanFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Reclaim abandoned servers",
		Long: `Delete records whose process is gone and force-kill servers that have
been running longer than the configured stale threshold.

Example:
  testserve clean --config=testserve.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return newCommand(globalFlags).Clean(CleanFlags{ConfigPath: globalFlags.ConfigPath})
		},
	}
}

func createServeCommand(globalFlags *GlobalFlags, serveFlags *ServeFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve [testserve.toml]",
		Short: "Run the admin API daemon",
		Long: `Run an HTTP daemon exposing the lifecycle operations so CI tooling can
drive servers remotely.

Examples:
  testserve serve --config=testserve.toml
  testserve serve testserve.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := globalFlags.ConfigPath
			if len(args) > 0 {
				configPath = args[0]
			}
			serveFlags.ConfigPath = configPath
			return runServeCommand(newCommand(globalFlags), serveFlags)
		},
	}
}

func runServeCommand(c command, flags *ServeFlags) error {
	if flags.ConfigPath == "" {
		return fmt.Errorf("config file required for serve command. Use --config=testserve.toml or provide as argument")
	}
	cfg, err := testserve.LoadConfig(flags.ConfigPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if cfg.Admin.Listen == "" {
		return fmt.Errorf("admin.listen must be set in the config to run serve command")
	}

	set, err := testserve.NewSetFromConfig(cfg, c.logger)
	if err != nil {
		return err
	}
	if cfg.Admin.Metrics {
		if err := testserve.RegisterMetricsDefault(); err != nil {
			fmt.Printf("Warning: failed to register metrics: %v\n", err)
		}
	}

	server, err := testserve.NewHTTPServer(cfg.Admin.Listen, cfg.Admin.BasePath, set, cfg.Admin.Metrics)
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}
	fmt.Printf("Starting testserve server on %s%s\n", cfg.Admin.Listen, cfg.Admin.BasePath)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("Shutting down...")
	return server.Close()
}
