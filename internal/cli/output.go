package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/ppiankov/claimgate/internal/model"
)

// writeJSON writes v as indented JSON to path, or to w when path is "-"
func writeJSON(w io.Writer, path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	data = append(data, '\n')
	if path == "-" {
		_, err = w.Write(data)
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// printPackets writes one row per packet
func printPackets(w io.Writer, packets []model.VerificationPacket) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PACKET\tTYPE\tSTATUS\tINTERNAL\tSIMILARITY\tCLAIM")
	for _, p := range packets {
		similarity := "-"
		if !p.Degraded() && p.ExternalCheck.CandidateCount > 0 {
			similarity = fmt.Sprintf("%.2f", p.ExternalCheck.SimilarityScore)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			p.ID, p.ClaimType, p.OverallStatus, p.InternalCheck.Status, similarity, truncate(p.ClaimText, 60))
	}
	return tw.Flush()
}

// printSummary writes the per-status counts
func printSummary(w io.Writer, packets []model.VerificationPacket) {
	var c model.StatusCounts
	for _, p := range packets {
		switch p.OverallStatus {
		case model.StatusVerified:
			c.Verified++
		case model.StatusPartial:
			c.Partial++
		case model.StatusConflict:
			c.Conflict++
		default:
			c.Error++
		}
	}
	fmt.Fprintf(w, "\n%d claims: %d verified, %d partial, %d conflict, %d error\n",
		len(packets), c.Verified, c.Partial, c.Conflict, c.Error)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
