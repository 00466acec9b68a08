package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"SeaIndexBridge/internal/app"
	"SeaIndexBridge/internal/domain"
	"SeaIndexBridge/internal/infrastructure/artifact"
)

func newHistoryCommand(g *globals) *cobra.Command {
	var (
		limit uint64
		xlsx  string
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List finished runs",
		Long: `List finished runs from the history database.

Examples:
  seabridge history                   # Last 50 runs
  seabridge history --limit 10        # Last 10 runs
  seabridge history --xlsx runs.xlsx  # Export to the artifact store as a workbook`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if g.cfg.Database.DSN == "" {
				return errors.New("history needs database.dsn or DATABASE_DSN")
			}

			application, err := app.New(ctx, g.cfg, g.logger, app.Options{})
			if err != nil {
				return err
			}
			defer application.Close(context.WithoutCancel(ctx))

			rows, err := application.History().List(ctx, limit)
			if err != nil {
				return fmt.Errorf("list history: %w", err)
			}

			if xlsx != "" {
				if err := artifact.ExportHistory(ctx, application.Store(), xlsx, rows); err != nil {
					return fmt.Errorf("export workbook: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), styles.Dim.Render(fmt.Sprintf("%d runs exported to %s", len(rows), xlsx)))
				return nil
			}

			printHistory(cmd.OutOrStdout(), rows)
			return nil
		},
	}

	cmd.Flags().Uint64VarP(&limit, "limit", "n", 50, "Maximum number of runs")
	cmd.Flags().StringVar(&xlsx, "xlsx", "", "Export runs as an XLSX workbook with this name")
	return cmd
}

func printHistory(w io.Writer, rows []domain.SessionSummary) {
	if len(rows) == 0 {
		fmt.Fprintln(w, styles.Dim.Render("no runs recorded"))
		return
	}

	fmt.Fprintln(w, styles.Title.Render(fmt.Sprintf("%-20s %-10s %-12s %-10s %-8s %s", "STARTED", "SUBJECT", "PHASE", "SEA INDEX", "RECORD", "FILE")))
	for _, r := range rows {
		score := "-"
		if r.Score != nil {
			score = fmt.Sprintf("%g", *r.Score)
		}
		started := "-"
		if !r.StartedAt.IsZero() {
			started = r.StartedAt.Local().Format("2006-01-02 15:04:05")
		}
		line := fmt.Sprintf("%-20s %-10s %-12s %-10s %-8s %s",
			started, orDash(r.SubjectID), r.Phase, score, orDash(string(r.WriteStatus)), r.FileName)
		if r.Phase == domain.PhaseFailed {
			line = styles.Bad.Render(line)
		}
		fmt.Fprintln(w, line)
	}
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
