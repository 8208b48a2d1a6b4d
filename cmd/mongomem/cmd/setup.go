package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/openclaw/mongomem/internal/config"
	"github.com/openclaw/mongomem/internal/provision"
)

func newSetupCmd() *cobra.Command {
	var healthTimeout time.Duration

	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Find or start a compatible database",
		Long: `Probes for an existing MongoDB instance; when none is reachable and a
container runtime is available, brings one up via compose with tier
fallback: full stack (replica set + search engine), replica set, then
standalone. Prints the connection string to use on success.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := provision.New(provision.Options{HealthTimeout: healthTimeout})
			result := p.AttemptAutoSetup(cmd.Context())
			if !result.Success {
				return fmt.Errorf("auto-setup failed: %s", result.Reason)
			}

			fmt.Printf("tier: %s\nsource: %s\nuri: %s\n",
				result.Tier, result.Source, config.RedactURI(result.URI))
			fmt.Printf("\nSet %s or the uri config key to use this deployment.\n", config.EnvMongoURI)
			return nil
		},
	}

	cmd.Flags().DurationVar(&healthTimeout, "health-timeout", provision.DefaultHealthTimeout,
		"How long to wait for containers to become healthy")
	return cmd
}
