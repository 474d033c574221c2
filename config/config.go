package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Audio    AudioConfig    `mapstructure:"audio"`
	Detector DetectorConfig `mapstructure:"detector"`
	Render   RenderConfig   `mapstructure:"render"`
	Library  LibraryConfig  `mapstructure:"library"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Decks    []string       `mapstructure:"decks"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// AudioConfig holds output device configuration
type AudioConfig struct {
	SampleRate      int           `mapstructure:"sample_rate"`
	Buffer          time.Duration `mapstructure:"buffer"`
	Device          string        `mapstructure:"device"` // speaker or null
	ResampleQuality int           `mapstructure:"resample_quality"`
}

// DetectorConfig holds beat detector tuning
type DetectorConfig struct {
	Tolerance     float64       `mapstructure:"tolerance"`
	MinPeakGap    time.Duration `mapstructure:"min_peak_gap"`
	PeakWindow    time.Duration `mapstructure:"peak_window"`
	CutoffHz      float64       `mapstructure:"cutoff_hz"`
	DynamicCutoff bool          `mapstructure:"dynamic_cutoff"`
	MinBPM        float64       `mapstructure:"min_bpm"`
	MaxBPM        float64       `mapstructure:"max_bpm"`
	Neighbours    int           `mapstructure:"neighbours"`
	HarmonyFactor float64       `mapstructure:"harmony_factor"`
	MinHarmony    time.Duration `mapstructure:"min_harmony"`
}

// RenderConfig holds timeline renderer settings
type RenderConfig struct {
	FPS             int           `mapstructure:"fps"`
	Lerp            float64       `mapstructure:"lerp"`
	PixelsPerSecond float64       `mapstructure:"pixels_per_second"`
	WaveformCap     int           `mapstructure:"waveform_cap"`
	Nudge           time.Duration `mapstructure:"nudge"`
}

// LibraryConfig points at the storage collaborator or a local directory
type LibraryConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Dir     string `mapstructure:"dir"`
	FFmpeg  string `mapstructure:"ffmpeg"`
}

// HTTPConfig holds the UI listener settings
type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or text
}

// SetDefaults registers every default value on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("audio.sample_rate", 44100)
	v.SetDefault("audio.buffer", "100ms")
	v.SetDefault("audio.device", "speaker")
	v.SetDefault("audio.resample_quality", 4)

	v.SetDefault("detector.tolerance", 0.8)
	v.SetDefault("detector.min_peak_gap", "100ms")
	v.SetDefault("detector.peak_window", "20ms")
	v.SetDefault("detector.cutoff_hz", 150.0)
	v.SetDefault("detector.dynamic_cutoff", false)
	v.SetDefault("detector.min_bpm", 90.0)
	v.SetDefault("detector.max_bpm", 180.0)
	v.SetDefault("detector.neighbours", 10)
	v.SetDefault("detector.harmony_factor", 1.5)
	v.SetDefault("detector.min_harmony", "500ms")

	v.SetDefault("render.fps", 60)
	v.SetDefault("render.lerp", 0.1)
	v.SetDefault("render.pixels_per_second", 100.0)
	v.SetDefault("render.waveform_cap", 1024)
	v.SetDefault("render.nudge", "50ms")

	v.SetDefault("library.base_url", "")
	v.SetDefault("library.dir", "./music")
	v.SetDefault("library.ffmpeg", "ffmpeg")

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("decks", []string{"deck1", "deck2"})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig() (*Config, error) {
	return Load(viper.GetViper())
}

// Load reads configuration into a Config using v.
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	// A .env file is optional; variables already set in the environment win.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("Could not read .env file", slog.Any("error", err))
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.beatdeck")
	v.AddConfigPath("/etc/beatdeck")

	v.SetEnvPrefix("BEATDECK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		slog.Debug("No config file found, using defaults and environment variables")
	} else {
		slog.Info("Using config file", slog.String("file", v.ConfigFileUsed()))
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch {
	case c.Audio.SampleRate < 8000 || c.Audio.SampleRate > 192000:
		return &ConfigError{Field: "audio.sample_rate", Message: "must be between 8000 and 192000"}
	case c.Audio.Buffer <= 0:
		return &ConfigError{Field: "audio.buffer", Message: "must be positive"}
	case c.Audio.Device != "speaker" && c.Audio.Device != "null":
		return &ConfigError{Field: "audio.device", Message: "must be speaker or null"}
	case c.Audio.ResampleQuality < 1 || c.Audio.ResampleQuality > 64:
		return &ConfigError{Field: "audio.resample_quality", Message: "must be between 1 and 64"}
	case c.Detector.Tolerance <= 0 || c.Detector.Tolerance > 1:
		return &ConfigError{Field: "detector.tolerance", Message: "must be in (0, 1]"}
	case c.Detector.MinBPM <= 0 || c.Detector.MaxBPM < 2*c.Detector.MinBPM:
		return &ConfigError{Field: "detector.max_bpm", Message: "tempo range must span at least one octave"}
	case c.Detector.Neighbours < 1:
		return &ConfigError{Field: "detector.neighbours", Message: "must be at least 1"}
	case c.Detector.CutoffHz <= 0:
		return &ConfigError{Field: "detector.cutoff_hz", Message: "must be positive"}
	case c.Render.FPS < 1 || c.Render.FPS > 240:
		return &ConfigError{Field: "render.fps", Message: "must be between 1 and 240"}
	case c.Render.Lerp <= 0 || c.Render.Lerp > 1:
		return &ConfigError{Field: "render.lerp", Message: "must be in (0, 1]"}
	case c.Render.PixelsPerSecond <= 0:
		return &ConfigError{Field: "render.pixels_per_second", Message: "must be positive"}
	case len(c.Decks) == 0:
		return &ConfigError{Field: "decks", Message: "at least one deck is required"}
	case c.HTTP.Addr == "":
		return &ConfigError{Field: "http.addr", Message: "listen address is required"}
	}
	seen := make(map[string]bool, len(c.Decks))
	for _, id := range c.Decks {
		if id == "" || seen[id] {
			return &ConfigError{Field: "decks", Message: "deck ids must be unique and non-empty"}
		}
		seen[id] = true
	}
	return nil
}

// ConfigError represents a configuration validation error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Message
}
