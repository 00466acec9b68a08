package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"SeaIndexBridge/internal/app"
)

func newWatchCommand(g *globals) *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "watch [dir]",
		Short: "Process recordings dropped into a directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			dir := ""
			if len(args) == 1 {
				dir = args[0]
			}

			application, err := app.New(ctx, g.cfg, g.logger, app.Options{})
			if err != nil {
				return err
			}
			defer application.Close(context.WithoutCancel(ctx))

			return application.Watch(ctx, dir, interval)
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 0, "Sweep interval (default from config)")
	return cmd
}
