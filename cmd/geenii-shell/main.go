package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/geenii/geenii-shell/internal/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command and its subcommands.
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	v := config.NewViper()
	shellCommand := command{v: v, global: globalFlags}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createRunCommand(shellCommand, &RunFlags{}),
		createStartCommand(shellCommand, &APIFlags{}),
		createStatusCommand(shellCommand, &APIFlags{}),
		createSweepCommand(shellCommand),
		createVersionCommand(),
	)
	return root
}

// createRootCommand creates the root command with minimal persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "geenii-shell",
		Short: "Desktop shell host for the geenii-srv sidecar",
		Long: `geenii-shell launches the geenii-srv sidecar at most once, relays its
output into the shell log, and tears it down (plus any orphaned copies)
when the shell exits.

Examples:
  geenii-shell run --config=geenii.toml
  geenii-shell start                 # ask a running shell to start the sidecar
  geenii-shell status
  geenii-shell sweep                 # kill stray geenii-srv processes`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	return root
}

// createRunCommand creates the host-mode command
func createRunCommand(shellCommand command, flags *RunFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Host the sidecar until interrupted",
		Long: `Run the shell in host mode: start the control API, launch the sidecar
(unless --no-auto-start), and block until SIGINT or SIGTERM. Shutdown kills
the owned sidecar, waits the grace period and sweeps for orphans.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return shellCommand.Run(cmd.Context(), cmd.ErrOrStderr())
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&flags.SidecarDir, "sidecar-dir", "", "directory containing the sidecar executable")
	fs.StringVar(&flags.Listen, "listen", "", "control API listen address")
	fs.DurationVar(&flags.GracePeriod, "grace-period", 3*time.Second, "wait after killing the sidecar")
	fs.BoolVar(&flags.ClearOnExit, "clear-on-exit", false, "forget the sidecar handle once it exits")
	fs.StringVar(&flags.LogLevel, "log-level", "info", "log level (debug, info, warn, error)")
	fs.BoolVar(&flags.NoAutoStart, "no-auto-start", false, "wait for start_server instead of starting at setup")

	bindFlags(shellCommand.v, cmd, map[string]string{
		"sidecar.dir":           "sidecar-dir",
		"api.listen":            "listen",
		"sidecar.grace_period":  "grace-period",
		"sidecar.clear_on_exit": "clear-on-exit",
		"log.level":             "log-level",
	})
	cmd.PreRun = func(cmd *cobra.Command, args []string) {
		if flags.NoAutoStart {
			shellCommand.v.Set("sidecar.auto_start", false)
		}
	}
	return cmd
}

// createStartCommand creates the start subcommand
func createStartCommand(shellCommand command, flags *APIFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Ask a running shell to start its sidecar",
		RunE: func(cmd *cobra.Command, args []string) error {
			return shellCommand.Start(cmd.Context(), *flags, cmd.OutOrStdout())
		},
	}
	addAPIFlags(cmd, flags)
	return cmd
}

// createStatusCommand creates the status subcommand
func createStatusCommand(shellCommand command, flags *APIFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show sidecar status from a running shell",
		RunE: func(cmd *cobra.Command, args []string) error {
			return shellCommand.Status(cmd.Context(), *flags, cmd.OutOrStdout())
		},
	}
	addAPIFlags(cmd, flags)
	return cmd
}

// createSweepCommand creates the sweep subcommand
func createSweepCommand(shellCommand command) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Kill every process named like the sidecar",
		RunE: func(cmd *cobra.Command, args []string) error {
			return shellCommand.Sweep(cmd.OutOrStdout())
		},
	}
}

func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "geenii-shell", version)
		},
	}
}

func addAPIFlags(cmd *cobra.Command, flags *APIFlags) {
	cmd.Flags().StringVar(&flags.APIUrl, "api-url", "", "control API URL (default from [api] config)")
	cmd.Flags().DurationVar(&flags.APITimeout, "api-timeout", 10*time.Second, "request timeout")
}

// bindFlags binds config keys to flags so an explicitly set flag wins over
// file and environment values.
func bindFlags(v *viper.Viper, cmd *cobra.Command, keys map[string]string) {
	for key, name := range keys {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(name)); err != nil {
			panic(err)
		}
	}
}
