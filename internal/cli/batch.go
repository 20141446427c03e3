package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/claimgate/internal/model"
	"github.com/ppiankov/claimgate/internal/worker"
)

var (
	concurrency  int
	outputDir    string
	batchTimeout time.Duration
)

var batchCmd = &cobra.Command{
	Use:   "batch <file>",
	Short: "Verify many manuscripts from a file in parallel",
	Long: `Batch verifies every manuscript listed in a file, one per line, with an
optional manifest ID after it. Each manuscript's packets are written to
<output-dir>/<manuscript-id>.json.

Example:
  claimgate batch manuscripts.txt
  claimgate batch manuscripts.txt --concurrency 4 --output-dir ./packets`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().IntVar(&concurrency, "concurrency", runtime.NumCPU(), "number of manuscripts verified at once")
	batchCmd.Flags().StringVar(&outputDir, "output-dir", "./claimgate-packets", "output directory for packet files")
	batchCmd.Flags().DurationVar(&batchTimeout, "timeout", 30*time.Minute, "total timeout for batch processing")
}

func runBatch(cmd *cobra.Command, args []string) error {
	file := args[0]
	ctx, cancel := context.WithTimeout(cmd.Context(), batchTimeout)
	defer cancel()

	return withApp(ctx, func(ctx context.Context, a *app, actor model.Actor) error {
		w := cmd.ErrOrStderr()
		fmt.Fprintf(w, "\n  Input file:   %s\n", file)
		fmt.Fprintf(w, "  Workers:      %d\n", concurrency)
		fmt.Fprintf(w, "  Output dir:   %s\n", outputDir)
		fmt.Fprintf(w, "  Actor:        %s\n\n", actor.ID)

		processor := worker.NewBatchProcessor(a.engine, concurrency)
		results, err := processor.ProcessFile(ctx, file)
		if err != nil {
			return fmt.Errorf("process file: %w", err)
		}

		var failures int
		for _, r := range results {
			if r.Error != nil {
				failures++
				fmt.Fprintf(w, "✗ %s: %v\n", r.Item, r.Error)
				continue
			}
			path := filepath.Join(outputDir, sanitizeFilename(r.Item.ManuscriptID)+".json")
			if err := writeJSON(cmd.OutOrStdout(), path, r.Packets); err != nil {
				failures++
				fmt.Fprintf(w, "✗ %s: %v\n", r.Item, err)
				continue
			}
			fmt.Fprintf(w, "✓ %s (%d packets)\n", r.Item, len(r.Packets))
		}

		fmt.Fprintf(w, "\n  Total: %d  Success: %d  Failures: %d\n\n", len(results), len(results)-failures, failures)
		if failures > 0 {
			return fmt.Errorf("%d of %d manuscripts failed", failures, len(results))
		}
		return nil
	})
}

// sanitizeFilename makes an ID safe to use as a file name
func sanitizeFilename(s string) string {
	s = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		case ' ':
			return '-'
		}
		return r
	}, s)
	if s == "" || s == "." || s == ".." {
		s = "_"
	}
	if len(s) > 100 {
		s = s[:100]
	}
	return s
}
