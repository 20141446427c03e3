package cli

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/claimgate/internal/model"
)

var (
	auditActor   string
	auditTypes   []string
	auditSubject string
	auditFrom    string
	auditTo      string
	auditLimit   int
	auditJSON    bool
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Query and check the audit log",
}

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List audit entries",
	Long: `List prints audit entries in sequence order.

Example:
  claimgate audit list --type EXPORT_ALLOWED,EXPORT_BLOCKED
  claimgate audit list --actor u-1 --from 2026-01-01T00:00:00Z --json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		filter, err := auditFilter()
		if err != nil {
			return err
		}
		return withApp(cmd.Context(), func(ctx context.Context, a *app, _ model.Actor) error {
			entries, err := a.engine.QueryAuditLog(ctx, filter)
			if err != nil {
				return err
			}
			if auditJSON {
				return writeJSON(cmd.OutOrStdout(), "-", entries)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SEQ\tTIME\tACTOR\tEVENT\tSUBJECT")
			for _, e := range entries {
				event := string(e.EventType)
				if e.Corrects != 0 {
					event = fmt.Sprintf("%s(#%d)", event, e.Corrects)
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", e.Sequence, e.Timestamp.Format(time.RFC3339), e.ActorID, event, e.Subject)
			}
			return tw.Flush()
		})
	},
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Recompute the hash chain and report tampering",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app, _ model.Actor) error {
			if err := a.engine.VerifyAuditChain(ctx); err != nil {
				return fmt.Errorf("audit chain broken: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "✓ audit chain intact")
			return nil
		})
	},
}

func auditFilter() (model.AuditFilter, error) {
	f := model.AuditFilter{ActorID: auditActor, Subject: auditSubject, Limit: auditLimit}
	for _, t := range auditTypes {
		et := model.EventType(strings.ToUpper(strings.TrimSpace(t)))
		if !et.Valid() {
			return f, fmt.Errorf("unknown event type %q", t)
		}
		f.EventTypes = append(f.EventTypes, et)
	}
	var err error
	if auditFrom != "" {
		if f.From, err = time.Parse(time.RFC3339, auditFrom); err != nil {
			return f, fmt.Errorf("--from: %w", err)
		}
	}
	if auditTo != "" {
		if f.To, err = time.Parse(time.RFC3339, auditTo); err != nil {
			return f, fmt.Errorf("--to: %w", err)
		}
	}
	return f, nil
}

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditListCmd)
	auditCmd.AddCommand(auditVerifyCmd)

	auditListCmd.Flags().StringVar(&auditActor, "actor", "", "only entries by this actor ID")
	auditListCmd.Flags().StringSliceVar(&auditTypes, "type", nil, "only these event types")
	auditListCmd.Flags().StringVar(&auditSubject, "subject", "", "only entries about this packet, study or manuscript")
	auditListCmd.Flags().StringVar(&auditFrom, "from", "", "entries at or after this RFC 3339 time")
	auditListCmd.Flags().StringVar(&auditTo, "to", "", "entries before this RFC 3339 time")
	auditListCmd.Flags().IntVar(&auditLimit, "limit", 0, "maximum entries (0 = all)")
	auditListCmd.Flags().BoolVar(&auditJSON, "json", false, "print entries as JSON")
}
