package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/openclaw/mongomem/internal/memory"
)

func newSyncCmd() *cobra.Command {
	var agentID string

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync workspace memory files into the database",
		Long: `Walks the workspace memory paths and session transcripts, diffs them
against the stored content hashes, and re-indexes what changed. Stale rows
for deleted files are cleaned up afterwards.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd.Context(), agentID, func(mgr *memory.Manager) error {
				result, err := mgr.Sync(cmd.Context(), "manual")
				if err != nil {
					return err
				}
				fmt.Printf("scanned=%d indexed=%d chunks=%d deleted=%d duration=%s\n",
					result.FilesScanned, result.FilesIndexed, result.ChunksWritten,
					result.ChunksDeleted, result.Duration.Round(timePrecision))
				for _, w := range result.Warnings {
					fmt.Fprintf(os.Stderr, "warning: %s\n", w)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&agentID, "agent", "", "Agent id")
	return cmd
}
