package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/openclaw/mongomem/internal/mcp"
	"github.com/openclaw/mongomem/internal/memory"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the agent tool surface over stdio (MCP)",
		Long: `Connects to the configured database, runs the initial sync, and serves
the memory_search, memory_get, kb_search, and memory_write tools to an MCP
client over stdio. Stdout carries JSON-RPC exclusively; diagnostics go to
the log file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	mgr, err := memory.Create(ctx, cfg, agentIDFromEnv(), slog.Default())
	if err != nil {
		return err
	}
	if mgr == nil {
		return fmt.Errorf("backend %q does not serve MCP; set backend to mongodb", cfg.Backend)
	}
	defer func() { _ = mgr.Close(context.WithoutCancel(ctx)) }()

	server, err := mcp.NewServer(mgr, slog.Default())
	if err != nil {
		return err
	}
	return server.Serve(ctx)
}

// agentIDFromEnv resolves the agent identity scoping structured memory and
// the meta row.
func agentIDFromEnv() string {
	if id := os.Getenv("OPENCLAW_AGENT_ID"); id != "" {
		return id
	}
	return "default"
}
