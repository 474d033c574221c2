package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"beatdeck/config"
	"beatdeck/logger"
	"beatdeck/studio"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	verbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "beatdeck",
	Short: "A dual-deck beat-synchronised DJ engine",
	Long: `Beatdeck serves a set of decks over HTTP. Loading a file onto a deck
decodes it, detects its tempo and beat grid, and samples a waveform with
one pixel per --pixels-per-second of audio.

Each deck plays through its own resampler, three-band EQ, colour filter
and gain into a shared output (the speaker, or "null" for headless use).
Timeline frames are rendered at --fps and pushed with deck events to
clients connected on /ws.

Deck routes live under /api/decks/{id}: load, play, pause, seek, tempo,
nudge, effects, camera, sync and waveform. Files are listed and managed
under /api/files.`,
	Example: `  beatdeck --device null --decks left,right
  beatdeck analyze track.mp3 --json
  beatdeck config show`,
	RunE: runServer,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	// Local flags for the server command
	rootCmd.Flags().StringP("addr", "a", ":8080", "HTTP listen address")
	rootCmd.Flags().StringP("device", "d", "speaker", "audio output device (speaker, null)")
	rootCmd.Flags().Int("sample-rate", 44100, "output sample rate")
	rootCmd.Flags().Int("fps", 60, "timeline render rate")
	rootCmd.Flags().Float64("pixels-per-second", 100, "waveform and timeline resolution")
	rootCmd.Flags().Bool("dynamic-cutoff", false, "estimate the beat detector cutoff per track")
	rootCmd.Flags().String("library", "", "storage service base URL (empty serves --music-dir)")
	rootCmd.Flags().String("music-dir", "./music", "local track directory")
	rootCmd.Flags().StringSlice("decks", []string{"deck1", "deck2"}, "deck ids to create")
	rootCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.Flags().String("log-format", "text", "log format (text, json)")

	// Bind flags to viper
	viper.BindPFlag("http.addr", rootCmd.Flags().Lookup("addr"))
	viper.BindPFlag("audio.device", rootCmd.Flags().Lookup("device"))
	viper.BindPFlag("audio.sample_rate", rootCmd.Flags().Lookup("sample-rate"))
	viper.BindPFlag("render.fps", rootCmd.Flags().Lookup("fps"))
	viper.BindPFlag("render.pixels_per_second", rootCmd.Flags().Lookup("pixels-per-second"))
	viper.BindPFlag("detector.dynamic_cutoff", rootCmd.Flags().Lookup("dynamic-cutoff"))
	viper.BindPFlag("library.base_url", rootCmd.Flags().Lookup("library"))
	viper.BindPFlag("library.dir", rootCmd.Flags().Lookup("music-dir"))
	viper.BindPFlag("decks", rootCmd.Flags().Lookup("decks"))
	viper.BindPFlag("logging.level", rootCmd.Flags().Lookup("log-level"))
	viper.BindPFlag("logging.format", rootCmd.Flags().Lookup("log-format"))
}

// initConfig reads in config file and ENV variables
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if verbose {
		viper.Set("logging.level", "debug")
	}
}

// runServer starts the main application
func runServer(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	// Setup logging
	if err := logger.Setup(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}

	// Create and initialize the studio
	s := studio.New(cfg)
	if err := s.Initialize(); err != nil {
		s.Stop()
		return fmt.Errorf("failed to initialize studio: %w", err)
	}

	// Start the studio
	if err := s.Start(); err != nil {
		s.Stop()
		return fmt.Errorf("failed to start studio: %w", err)
	}

	// Setup graceful shutdown
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)

	for _, d := range s.Registry().Decks() {
		slog.Info("Deck ready", slog.String("deck", d.ID()))
	}

	// Wait for shutdown signal or error
	select {
	case sig := <-signalChan:
		fmt.Printf("\nReceived %s, shutting down gracefully...\n", sig)
	case err := <-s.Error():
		fmt.Printf("Error occurred: %v\n", err)
	}

	// Graceful shutdown
	if err := s.Stop(); err != nil {
		return fmt.Errorf("failed to stop studio gracefully: %w", err)
	}

	return nil
}
