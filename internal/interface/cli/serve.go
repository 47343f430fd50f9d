package cli

import (
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hayato-mori/issuepilot/internal/interface/webhook"
)

func newServeCmd() *cobra.Command {
	var listenAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the GitHub webhook receiver",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := globalConfig
			if listenAddr != "" {
				cfg.ListenAddr = listenAddr
			}

			p, err := buildProcessor(cfg, globalLog)
			if err != nil {
				return err
			}
			server := webhook.NewServer(cfg, p.ProcessIssue, globalLog)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if err := server.ListenAndServe(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&listenAddr, "listen", "", "Listen address (default from configuration)")
	return cmd
}
