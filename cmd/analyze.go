package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"beatdeck/beatgrid"
	"beatdeck/config"
	"beatdeck/library"
	"beatdeck/logger"
	"beatdeck/studio"
	"beatdeck/track"

	"github.com/spf13/cobra"
)

var analyzeJSON bool

// analyzeCmd runs the beat detector on a single file
var analyzeCmd = &cobra.Command{
	Use:   "analyze <file>",
	Short: "Detect the tempo and beat grid of a track",
	Long:  "Decode a local audio file and print its tempo, first beat and beatless sections.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := logger.Setup("warn", "text"); err != nil {
			return fmt.Errorf("failed to setup logging: %w", err)
		}

		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		f, err := os.Open(args[0])
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		name := filepath.Base(args[0])
		tr, err := track.Decoder{FFmpeg: cfg.Library.FFmpeg}.Decode(ctx, name, f)
		if err != nil {
			return err
		}

		grid, err := beatgrid.Detect(ctx, tr.Buffer, studio.DetectorOptions(cfg.Detector))
		if err != nil {
			return fmt.Errorf("analyze %s: %w", name, err)
		}

		if analyzeJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(grid)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s\n", library.DisplayName(name))
		fmt.Fprintf(out, "  Duration:   %.2fs\n", tr.Duration())
		fmt.Fprintf(out, "  Tempo:      %.2f BPM\n", grid.Tempo)
		fmt.Fprintf(out, "  First beat: %.3fs\n", grid.FirstBeatOffset)
		fmt.Fprintf(out, "  Beats:      %d\n", len(grid.Beats))
		fmt.Fprintf(out, "  Cutoff:     %.0f Hz\n", grid.CutoffHz)
		for _, s := range grid.Harmony {
			fmt.Fprintf(out, "  Beatless:   %.2fs - %.2fs\n", s.Start, s.End)
		}
		return nil
	},
}

func init() {
	analyzeCmd.Flags().BoolVar(&analyzeJSON, "json", false, "print the grid as JSON")
	rootCmd.AddCommand(analyzeCmd)
}
