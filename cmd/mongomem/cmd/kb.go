package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openclaw/mongomem/internal/kb"
	"github.com/openclaw/mongomem/internal/memory"
	"github.com/openclaw/mongomem/internal/search"
)

// kbFlags are shared by the kb verb family.
type kbFlags struct {
	agentID string
	json    bool
}

func newKBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kb",
		Short: "Manage the knowledge base",
	}
	cmd.AddCommand(newKBIngestCmd())
	cmd.AddCommand(newKBListCmd())
	cmd.AddCommand(newKBSearchCmd())
	cmd.AddCommand(newKBStatsCmd())
	cmd.AddCommand(newKBRemoveCmd())
	return cmd
}

// withManager runs fn against a connected manager and closes it after.
func withManager(ctx context.Context, agentID string, fn func(*memory.Manager) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if agentID == "" {
		agentID = agentIDFromEnv()
	}
	mgr, err := memory.Create(ctx, cfg, agentID, slog.Default())
	if err != nil {
		return err
	}
	if mgr == nil {
		return fmt.Errorf("backend %q has no knowledge base; set backend to mongodb", cfg.Backend)
	}
	defer func() { _ = mgr.Close(context.WithoutCancel(ctx)) }()
	return fn(mgr)
}

func newKBIngestCmd() *cobra.Command {
	var flags kbFlags
	var tags []string
	var category string
	var force, noRecursive, verbose bool

	cmd := &cobra.Command{
		Use:   "ingest <paths...>",
		Short: "Ingest documents into the knowledge base",
		Long: `Reads .md and .txt files from the given paths (directories are walked
recursively unless --no-recursive) and ingests them. Unchanged documents
are skipped by content hash; use --force to replace them.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd.Context(), flags.agentID, func(mgr *memory.Manager) error {
				opts := kb.FileIngestOptions{
					IngestOptions: kb.IngestOptions{Force: force},
					Recursive:     !noRecursive,
					Tags:          tags,
					Category:      category,
					ImportedBy:    flags.agentID,
				}
				if verbose && isTTY(os.Stderr) {
					opts.Progress = func(completed, total int, label string) {
						fmt.Fprintf(os.Stderr, "\r[%d/%d] %s", completed, total, label)
					}
				}

				result, err := mgr.KB().IngestFiles(cmd.Context(), args, opts)
				if verbose && isTTY(os.Stderr) {
					fmt.Fprintln(os.Stderr)
				}
				if err != nil {
					return err
				}

				fmt.Printf("documentsProcessed=%d chunksCreated=%d skipped=%d\n",
					result.DocumentsProcessed, result.ChunksCreated, result.Skipped)
				for _, e := range result.Errors {
					fmt.Fprintf(os.Stderr, "error: %s\n", e)
				}
				if len(result.Errors) > 0 {
					return fmt.Errorf("%d documents failed", len(result.Errors))
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&flags.agentID, "agent", "", "Agent id to attribute the import to")
	cmd.Flags().StringSliceVar(&tags, "tags", nil, "Tags to attach to every document")
	cmd.Flags().StringVar(&category, "category", "", "Category to attach to every document")
	cmd.Flags().BoolVar(&force, "force", false, "Replace documents even when unchanged")
	cmd.Flags().BoolVar(&noRecursive, "no-recursive", false, "Do not walk subdirectories")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "Show per-document progress")
	return cmd
}

func newKBListCmd() *cobra.Command {
	var flags kbFlags
	var category string
	var tags []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List knowledge-base documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd.Context(), flags.agentID, func(mgr *memory.Manager) error {
				docs, err := mgr.KB().ListDocuments(cmd.Context(), kb.ListFilter{
					Category: category,
					Tags:     tags,
				})
				if err != nil {
					return err
				}
				if flags.json {
					return json.NewEncoder(os.Stdout).Encode(docs)
				}
				for _, d := range docs {
					line := fmt.Sprintf("%s  %s  chunks=%d", d.ID, d.Title, d.ChunkCount)
					if d.Category != "" {
						line += "  category=" + d.Category
					}
					fmt.Println(line)
				}
				fmt.Printf("%d documents\n", len(docs))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&flags.agentID, "agent", "", "Agent id")
	cmd.Flags().StringVar(&category, "category", "", "Filter by category")
	cmd.Flags().StringSliceVar(&tags, "tags", nil, "Filter by tags (all must match)")
	cmd.Flags().BoolVar(&flags.json, "json", false, "Output as JSON")
	return cmd
}

func newKBSearchCmd() *cobra.Command {
	var flags kbFlags
	var maxResults int

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the knowledge base",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return withManager(cmd.Context(), flags.agentID, func(mgr *memory.Manager) error {
				results, err := mgr.KB().Search(cmd.Context(), query, search.Options{
					MaxResults: maxResults,
				})
				if err != nil {
					return err
				}
				if flags.json {
					return json.NewEncoder(os.Stdout).Encode(results)
				}
				for _, r := range results {
					fmt.Printf("%.3f  %s\n", r.Score, r.Path)
					fmt.Println(indent(r.Text, "    "))
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&flags.agentID, "agent", "", "Agent id")
	cmd.Flags().IntVar(&maxResults, "max-results", 10, "Maximum number of results")
	cmd.Flags().BoolVar(&flags.json, "json", false, "Output as JSON")
	return cmd
}

func newKBStatsCmd() *cobra.Command {
	var flags kbFlags

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show knowledge-base statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd.Context(), flags.agentID, func(mgr *memory.Manager) error {
				stats, err := mgr.KB().GetStats(cmd.Context())
				if err != nil {
					return err
				}
				if flags.json {
					return json.NewEncoder(os.Stdout).Encode(stats)
				}
				fmt.Printf("documents: %d\nchunks: %d\n", stats.Documents, stats.Chunks)
				if len(stats.Categories) > 0 {
					fmt.Printf("categories: %s\n", strings.Join(stats.Categories, ", "))
				}
				for src, n := range stats.SourcesByType {
					fmt.Printf("source %s: %d\n", src, n)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&flags.agentID, "agent", "", "Agent id")
	cmd.Flags().BoolVar(&flags.json, "json", false, "Output as JSON")
	return cmd
}

func newKBRemoveCmd() *cobra.Command {
	var flags kbFlags
	var yes bool

	cmd := &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a document and its chunks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes && !confirm(fmt.Sprintf("Remove document %s?", args[0])) {
				fmt.Println("aborted")
				return nil
			}
			return withManager(cmd.Context(), flags.agentID, func(mgr *memory.Manager) error {
				if err := mgr.KB().Remove(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Printf("removed %s\n", args[0])
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&flags.agentID, "agent", "", "Agent id")
	cmd.Flags().BoolVar(&yes, "yes", false, "Skip the confirmation prompt")
	return cmd
}

// confirm asks on the terminal; non-interactive runs refuse.
func confirm(prompt string) bool {
	if !isTTY(os.Stdin) {
		return false
	}
	fmt.Printf("%s [y/N] ", prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] = prefix + lines[i]
	}
	return strings.Join(lines, "\n")
}
