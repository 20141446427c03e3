package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/claimgate/internal/model"
)

var supersedeReason string

var supersedeCmd = &cobra.Command{
	Use:   "supersede <packet-id>",
	Short: "Re-verify a claim and supersede its packet",
	Long: `Supersede re-runs verification for the claim behind a packet against the
current manuscript and manifest. The new packet points at the old one and a
CORRECTION entry is appended to the audit log; the old entry is never
modified.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app, _ model.Actor) error {
			p, err := a.engine.Supersede(ctx, args[0], supersedeReason)
			if err != nil {
				return fmt.Errorf("supersede failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ %s supersedes %s (%s)\n", p.ID, p.Supersedes, p.OverallStatus)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(supersedeCmd)
	supersedeCmd.Flags().StringVar(&supersedeReason, "reason", "", "why the packet is being corrected")
	_ = supersedeCmd.MarkFlagRequired("reason")
}
