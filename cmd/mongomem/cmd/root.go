// Package cmd provides the CLI commands for mongomem.
package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/openclaw/mongomem/internal/config"
	"github.com/openclaw/mongomem/internal/logging"
)

// Version is the CLI version, overridable at build time.
var Version = "0.3.0"

var (
	configPath     string
	debugMode      bool
	loggingCleanup func()
)

// NewRootCmd creates the root command. Running mongomem with no verb serves
// MCP over stdio, the mode agent hosts launch it in.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mongomem",
		Short: "Persistent memory and knowledge base for AI coding agents",
		Long: `mongomem gives coding agents durable memory backed by MongoDB:
workspace memory files and session transcripts are synced and chunked,
reference documents are ingested into a knowledge base, and everything is
served through capability-adaptive hybrid search.

Run 'mongomem' with no arguments to serve the agent tool surface over
stdio (MCP). Use the subcommands for maintenance from a shell.`,
		Version: Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return cmd.Help()
			}
			return runServe(cmd.Context())
		},
	}
	cmd.SetVersionTemplate("mongomem version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultConfigPath(), "Path to the config file")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")
	cmd.PersistentPreRunE = setupLogging
	cmd.PersistentPostRun = func(*cobra.Command, []string) {
		if loggingCleanup != nil {
			loggingCleanup()
		}
	}

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newSetupCmd())
	cmd.AddCommand(newKBCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// setupLogging routes logs to the rotating file; stderr is mirrored only in
// debug mode so MCP stdio stays clean and normal CLI output stays readable.
func setupLogging(cmd *cobra.Command, args []string) error {
	cfg := logging.DefaultConfig()
	cfg.WriteToStderr = debugMode
	if debugMode {
		cfg.Level = "debug"
	}
	logger, cleanup, err := logging.Setup(cfg)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	slog.SetDefault(logger)
	loggingCleanup = cleanup
	return nil
}

// loadConfig reads the configured file with env overrides applied.
func loadConfig() (*config.Config, error) {
	return config.Load(configPath)
}

// isTTY reports whether w is an interactive terminal; non-TTY output gets
// machine-friendly formatting.
func isTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
