package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/claimgate/internal/model"
)

var (
	exportPackets []string
	exportTarget  model.TargetMetadata
)

var exportCmd = &cobra.Command{
	Use:   "export <manuscript-id>",
	Short: "Check eligibility and assemble the submission package",
	Long: `Export runs the compliance gate for the manuscript's study and, when the
study may be exported, assembles the package (manuscript, verification
appendix, lineage CSV, metadata) and delivers it to the configured sink.

Example:
  claimgate export ms-1 --journal "The Lancet Oncology"
  claimgate export ms-1 --journal BMJ --packets pkt-1,pkt-2`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app, actor model.Actor) error {
			ms, err := a.engine.Manuscript(ctx, args[0])
			if err != nil {
				return err
			}
			res, err := a.engine.CheckExportEligibility(ctx, ms.StudyID, actor)
			if err != nil {
				return fmt.Errorf("eligibility check failed: %w", err)
			}
			printDecision(cmd, res)

			bundle, location, err := a.engine.ExportManuscript(ctx, ms.ID, exportPackets, exportTarget, actor)
			if err != nil {
				return fmt.Errorf("export failed: %w", err)
			}

			w := cmd.OutOrStdout()
			meta := bundle.Metadata
			fmt.Fprintf(w, "\n✓ Bundle %s (%d packets, %d lineage rows)\n", meta.BundleID, meta.PacketCount, meta.LineageCount)
			fmt.Fprintf(w, "  Content hash: %s\n", meta.ContentHash)
			fmt.Fprintf(w, "  Approval rate: %.0f%%\n", bundle.Appendix.Summary.ApprovalRate*100)
			if location != "" {
				fmt.Fprintf(w, "  Delivered to: %s\n", location)
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().StringSliceVar(&exportPackets, "packets", nil, "packet IDs to include (default: all current packets)")
	exportCmd.Flags().StringVar(&exportTarget.Journal, "journal", "", "target journal")
	exportCmd.Flags().StringVar(&exportTarget.ProjectName, "project", "", "project name")
	exportCmd.Flags().StringVar(&exportTarget.PIName, "pi", "", "principal investigator certifying the export")
	exportCmd.Flags().StringVar(&exportTarget.Notes, "notes", "", "notes for the submission")
	_ = exportCmd.MarkFlagRequired("journal")
}
