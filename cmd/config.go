package cmd

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"beatdeck/config"
	"beatdeck/logger"

	"github.com/spf13/cobra"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  "Commands for managing and validating beatdeck configuration.",
}

// configValidateCmd validates the current configuration
var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	Long:  "Validate the current configuration file and environment variables.",
	RunE: func(cmd *cobra.Command, args []string) error {
		// Setup basic logging for validation
		if err := logger.Setup("info", "text"); err != nil {
			return fmt.Errorf("failed to setup logging: %w", err)
		}

		// Load configuration
		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		// Validate configuration
		if err := cfg.Validate(); err != nil {
			slog.Error("Configuration validation failed", slog.Any("error", err))
			return err
		}

		slog.Info("Configuration is valid")
		fmt.Println("✅ Configuration is valid")
		return nil
	},
}

// configShowCmd shows the current configuration
var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  "Display the current configuration values from file and environment variables.",
	RunE: func(cmd *cobra.Command, args []string) error {
		// Setup basic logging
		if err := logger.Setup("info", "text"); err != nil {
			return fmt.Errorf("failed to setup logging: %w", err)
		}

		// Load configuration
		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		fmt.Println("Current Configuration:")
		fmt.Printf("  Audio:\n")
		fmt.Printf("    Device: %s\n", cfg.Audio.Device)
		fmt.Printf("    Sample rate: %d\n", cfg.Audio.SampleRate)
		fmt.Printf("    Buffer: %s\n", cfg.Audio.Buffer)
		fmt.Printf("    Resample quality: %d\n", cfg.Audio.ResampleQuality)
		fmt.Printf("  Detector:\n")
		fmt.Printf("    Tolerance: %.2f\n", cfg.Detector.Tolerance)
		fmt.Printf("    Cutoff: %.0f Hz (dynamic: %t)\n", cfg.Detector.CutoffHz, cfg.Detector.DynamicCutoff)
		fmt.Printf("    Tempo range: %.0f-%.0f BPM\n", cfg.Detector.MinBPM, cfg.Detector.MaxBPM)
		fmt.Printf("    Min peak gap: %s\n", cfg.Detector.MinPeakGap)
		fmt.Printf("  Render:\n")
		fmt.Printf("    FPS: %d\n", cfg.Render.FPS)
		fmt.Printf("    Pixels per second: %.0f\n", cfg.Render.PixelsPerSecond)
		fmt.Printf("  Library:\n")
		if cfg.Library.BaseURL != "" {
			fmt.Printf("    Service: %s\n", maskURL(cfg.Library.BaseURL))
		} else {
			fmt.Printf("    Directory: %s\n", cfg.Library.Dir)
		}
		fmt.Printf("    FFmpeg: %s\n", cfg.Library.FFmpeg)
		fmt.Printf("  HTTP:\n")
		fmt.Printf("    Address: %s\n", cfg.HTTP.Addr)
		fmt.Printf("  Decks: %s\n", strings.Join(cfg.Decks, ", "))
		fmt.Printf("  Logging:\n")
		fmt.Printf("    Level: %s\n", cfg.Logging.Level)
		fmt.Printf("    Format: %s\n", cfg.Logging.Format)

		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configShowCmd)
}

// maskURL hides credentials embedded in a service URL
func maskURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	u.User = url.User("***")
	return u.String()
}
