package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"SeaIndexBridge/internal/app"
	"SeaIndexBridge/internal/domain"
	"SeaIndexBridge/internal/infrastructure/fhir"
)

func newRunCommand(g *globals) *cobra.Command {
	var (
		username string
		password string
		export   bool
		output   string
	)

	cmd := &cobra.Command{
		Use:   "run <recording.gz>",
		Short: "Analyze one recording and write the SEA index record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read recording: %w", err)
			}

			application, err := app.New(ctx, g.cfg, g.logger, app.Options{})
			if err != nil {
				return err
			}
			defer application.Close(context.WithoutCancel(ctx))

			if err := application.Login(ctx, username, password); err != nil {
				return errors.New(domain.UserMessage(err))
			}

			ctrl := application.Controller()
			snap, err := ctrl.SelectFile(ctx, filepath.Base(args[0]), data)
			if snap.Phase == domain.PhaseRejected {
				return errors.New(domain.UserMessage(err))
			}
			if err == nil {
				snap, err = ctrl.Start(ctx)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderSummary(snap))
			if err != nil {
				return errors.New(domain.UserMessage(err))
			}

			if export {
				name := output
				if name == "" {
					name = strings.TrimSuffix(filepath.Base(args[0]), domain.ArchiveExtension) + "-" + fhir.DefaultExportName
				}
				if err := ctrl.ExportRecord(ctx, application.Store(), name); err != nil {
					return fmt.Errorf("export record: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), styles.Dim.Render("record exported to "+name))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "Analysis service username (default from config)")
	cmd.Flags().StringVarP(&password, "password", "p", "", "Analysis service password (default from config)")
	cmd.Flags().BoolVar(&export, "export", false, "Export the built Observation JSON to the artifact store")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Export file name")
	return cmd
}
