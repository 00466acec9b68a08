// Package cli implements the seabridge command tree.
package cli

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"SeaIndexBridge/internal/config"
	"SeaIndexBridge/internal/logging"
)

// globals are resolved once per invocation by the root command.
type globals struct {
	configPath string
	verbose    bool

	cfg    config.Config
	logger *slog.Logger
}

// NewRootCommand assembles the command tree.
func NewRootCommand() *cobra.Command {
	g := &globals{}

	root := &cobra.Command{
		Use:   "seabridge",
		Short: "Send EEG recordings for SEA index analysis and record the result",
		Long: `seabridge uploads gzip EEG recordings to the SEA analysis service, waits
for the SEA index and writes it as a FHIR Observation for the launched patient.

Examples:
  seabridge inspect recording.gz        # Show the metadata found in a recording
  seabridge run recording.gz --export   # Analyze one recording and export the record
  seabridge serve --addr :8080          # Run the HTTP API
  seabridge watch ./inbox               # Process recordings dropped into a directory
  seabridge history --xlsx runs.xlsx    # Export the run history as a workbook`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			g.load(cmd.ErrOrStderr())
		},
	}

	root.PersistentFlags().StringVar(&g.configPath, "config", "", "Path to YAML config (default $SEA_BRIDGE_CONFIG)")
	root.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "Enable debug logging")

	root.AddCommand(
		newRunCommand(g),
		newInspectCommand(),
		newServeCommand(g),
		newWatchCommand(g),
		newHistoryCommand(g),
	)
	return root
}

func (g *globals) load(logOut io.Writer) {
	if g.configPath != "" {
		g.cfg = config.LoadFile(g.configPath)
	} else {
		g.cfg = config.Load()
	}
	level := g.cfg.Logging.Level
	if g.verbose {
		level = "debug"
	}
	g.logger = logging.NewWithWriter(logOut, level)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	if err := NewRootCommand().Execute(); err != nil {
		return 1
	}
	return 0
}
