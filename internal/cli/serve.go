package cli

import (
	"context"

	"github.com/spf13/cobra"

	"SeaIndexBridge/internal/app"
)

func newServeCommand(g *globals) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			application, err := app.New(ctx, g.cfg, g.logger, app.Options{})
			if err != nil {
				return err
			}
			defer application.Close(context.WithoutCancel(ctx))

			if g.cfg.Analysis.Username != "" && g.cfg.Analysis.Password != "" {
				if err := application.Login(ctx, "", ""); err != nil {
					g.logger.Warn("session.login.deferred", "error", err)
				}
			}
			return application.Serve(ctx, addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from config)")
	return cmd
}
