package cli

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ppiankov/claimgate/internal/api"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	Long: `Serve exposes verification, lineage, eligibility, export and audit queries
over HTTP. Requests run as the actor named by the Authorization header.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := a.Close(); err == nil {
				err = cerr
			}
		}()

		cfg := a.cfg.Server
		if serveAddr != "" {
			cfg.Addr = serveAddr
		}
		srv := api.New(a.engine, a.identity, a.metrics, a.logger.Named("api"))
		return srv.ListenAndServe(ctx, cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")
}
