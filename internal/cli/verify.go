package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/claimgate/internal/model"
)

var (
	manifestID    string
	outJSON       string
	verifyTimeout time.Duration
)

var verifyCmd = &cobra.Command{
	Use:   "verify <manuscript-id>",
	Short: "Verify every claim in a manuscript",
	Long: `Verify extracts the claims from a manuscript, checks each one against the
study's analysis manifest and the cited literature, and stores one
verification packet per claim.

Example:
  claimgate verify ms-1
  claimgate verify ms-1 --manifest man-2 --json packets.json`,
	Args: cobra.ExactArgs(1),
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)

	verifyCmd.Flags().StringVar(&manifestID, "manifest", "", "manifest ID (default: the manuscript's study manifest)")
	verifyCmd.Flags().StringVar(&outJSON, "json", "", "write packets as JSON to this path (- for stdout)")
	verifyCmd.Flags().DurationVar(&verifyTimeout, "timeout", 5*time.Minute, "overall verification timeout")
}

func runVerify(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), verifyTimeout)
	defer cancel()

	return withApp(ctx, func(ctx context.Context, a *app, _ model.Actor) error {
		packets, err := a.engine.RunVerification(ctx, args[0], manifestID)
		if err != nil {
			if len(packets) > 0 {
				_ = printPackets(cmd.ErrOrStderr(), packets)
			}
			return fmt.Errorf("verification failed: %w", err)
		}

		if outJSON != "" {
			if err := writeJSON(cmd.OutOrStdout(), outJSON, packets); err != nil {
				return err
			}
			if outJSON == "-" {
				return nil
			}
		}
		if err := printPackets(cmd.OutOrStdout(), packets); err != nil {
			return err
		}
		printSummary(cmd.OutOrStdout(), packets)
		return nil
	})
}
