package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"SeaIndexBridge/internal/archive"
	"SeaIndexBridge/internal/domain"
	"SeaIndexBridge/internal/metadata"
)

func newInspectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <recording.gz>",
		Short: "Decode a recording and print its metadata as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !domain.HasArchiveExtension(args[0]) {
				return fmt.Errorf("%s: not a %s recording", args[0], domain.ArchiveExtension)
			}
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			lines, err := archive.DecodeLines(f, metadata.ScanLines)
			if err != nil {
				return err
			}
			md := metadata.ExtractLines(lines)

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(md)
		},
	}
}
