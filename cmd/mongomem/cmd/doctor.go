package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/openclaw/mongomem/internal/doctor"
)

func newDoctorCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Diagnose the configured deployment",
		Long: `Connects with a short timeout, probes the deployment's capabilities,
measures embedding coverage, and prints actionable remediations. Read-only;
safe to run against production data.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			report := doctor.Run(cmd.Context(), cfg)
			if jsonOutput || !isTTY(os.Stdout) {
				if err := json.NewEncoder(os.Stdout).Encode(report); err != nil {
					return err
				}
			} else {
				printReport(report)
			}

			if !report.Connected {
				return fmt.Errorf("deployment is not healthy")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func printReport(report *doctor.Report) {
	fmt.Printf("uri: %s\n", report.URI)
	fmt.Printf("connected: %v\n", report.Connected)
	if report.Connected {
		fmt.Printf("tier: %s\nversion: %s\n", report.Tier, report.Version)
		if len(report.Capabilities) > 0 {
			fmt.Print("capabilities:")
			for _, c := range report.Capabilities {
				fmt.Printf(" %s", c)
			}
			fmt.Println()
		}
		if report.Coverage != nil && report.Coverage.Total > 0 {
			fmt.Printf("embedding coverage: %d/%d success, %d failed, %d pending\n",
				report.Coverage.Success, report.Coverage.Total,
				report.Coverage.Failed, report.Coverage.Pending)
		}
	}
	for _, hint := range report.Remediations {
		fmt.Printf("hint: %s\n", hint)
	}
}
