package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/claimgate/internal/model"
)

var gateCmd = &cobra.Command{
	Use:   "gate <study-id>",
	Short: "Check whether a study may be exported",
	Long: `Gate looks up the study's ethics approval and records the decision in the
audit log. Decisions live for the duration of one process: use 'export',
which runs the gate itself, to produce a package.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app, actor model.Actor) error {
			res, err := a.engine.CheckExportEligibility(ctx, args[0], actor)
			if err != nil {
				return fmt.Errorf("eligibility check failed: %w", err)
			}
			printDecision(cmd, res)
			if !res.CanExport {
				return fmt.Errorf("study %s is not eligible for export", args[0])
			}
			return nil
		})
	},
}

func printDecision(cmd *cobra.Command, res model.ComplianceCheckResult) {
	w := cmd.OutOrStdout()
	verdict := "ALLOWED"
	if !res.CanExport {
		verdict = "BLOCKED"
	}
	fmt.Fprintf(w, "Study %s: %s (%s, audit #%d)\n", res.StudyID, verdict, res.Status, res.AuditSequence)
	for _, r := range res.BlockingReasons {
		fmt.Fprintf(w, "  ✗ %s\n", r)
	}
	for _, warn := range res.Warnings {
		fmt.Fprintf(w, "  ! %s\n", warn)
	}
}

func init() {
	rootCmd.AddCommand(gateCmd)
}
