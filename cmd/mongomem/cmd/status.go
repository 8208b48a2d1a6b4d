package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/openclaw/mongomem/internal/memory"
)

// timePrecision rounds durations in human output.
const timePrecision = time.Millisecond

func newStatusCmd() *cobra.Command {
	var agentID string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show backend and sync status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd.Context(), agentID, func(mgr *memory.Manager) error {
				status := mgr.Status()
				if jsonOutput || !isTTY(os.Stdout) {
					return json.NewEncoder(os.Stdout).Encode(status)
				}
				fmt.Printf("backend: %s\n", status.Backend)
				fmt.Printf("tier: %s\n", status.Tier)
				if status.Provider != "" {
					fmt.Printf("provider: %s\nmodel: %s\n", status.Provider, status.Model)
				}
				fmt.Printf("dirty: %v\n", status.Dirty)
				if status.Fallback != "" {
					fmt.Printf("fallback: %s\n", status.Fallback)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&agentID, "agent", "", "Agent id")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}
