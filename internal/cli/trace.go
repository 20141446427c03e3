package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/claimgate/internal/lineage"
	"github.com/ppiankov/claimgate/internal/model"
)

var traceOut string

var traceCmd = &cobra.Command{
	Use:   "trace <packet-id>...",
	Short: "Trace verified claims back to their schema variables and protocols",
	Long: `Trace resolves the manifest entry behind each packet and writes one lineage
row per schema variable as CSV.

Example:
  claimgate trace pkt-1 pkt-2
  claimgate trace pkt-1 --out lineage.csv`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app, _ model.Actor) error {
			entries, err := a.engine.TraceLineage(ctx, args)
			if err != nil {
				return fmt.Errorf("trace failed: %w", err)
			}

			w := cmd.OutOrStdout()
			if traceOut != "" && traceOut != "-" {
				f, err := os.Create(traceOut)
				if err != nil {
					return fmt.Errorf("create %s: %w", traceOut, err)
				}
				defer f.Close()
				w = f
			}
			if err := lineage.WriteCSV(w, entries); err != nil {
				return err
			}

			stats := model.ComputeLineageStats(entries)
			fmt.Fprintf(cmd.ErrOrStderr(), "%d entries, %d variables, %d protocols\n",
				stats.Entries, stats.DistinctVariables, stats.Protocols)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(traceCmd)
	traceCmd.Flags().StringVar(&traceOut, "out", "", "CSV output path (default: stdout)")
}
