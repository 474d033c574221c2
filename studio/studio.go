// Package studio wires the decks, audio output, render loop and HTTP surface
// into one running application.
package studio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"beatdeck/api"
	"beatdeck/beatgrid"
	"beatdeck/config"
	"beatdeck/library"
	"beatdeck/logger"
	"beatdeck/mixer"
	"beatdeck/playback"
	"beatdeck/render"
	"beatdeck/track"
)

// cacheLimit is the number of decoded tracks kept across loads.
const cacheLimit = 8

// Studio represents the main application state
type Studio struct {
	config      *config.Config
	output      *playback.Output
	library     library.Library
	registry    *mixer.Registry
	scheduler   *render.Scheduler
	hub         *api.Hub
	server      *http.Server
	monitor     *DeckMonitor
	unsubscribe func()
	logger      *slog.Logger
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	errorChan   chan error
}

// New creates a new Studio instance
func New(cfg *config.Config) *Studio {
	ctx, cancel := context.WithCancel(context.Background())

	return &Studio{
		config:    cfg,
		logger:    logger.WithComponent("studio"),
		ctx:       ctx,
		cancel:    cancel,
		errorChan: make(chan error, 10),
	}
}

// DetectorOptions maps the detector configuration onto beatgrid options.
func DetectorOptions(c config.DetectorConfig) beatgrid.Options {
	return beatgrid.Options{
		Tolerance:     c.Tolerance,
		MinPeakGap:    c.MinPeakGap,
		PeakWindow:    c.PeakWindow,
		CutoffHz:      c.CutoffHz,
		DynamicCutoff: c.DynamicCutoff,
		MinBPM:        c.MinBPM,
		MaxBPM:        c.MaxBPM,
		Neighbours:    c.Neighbours,
		HarmonyFactor: c.HarmonyFactor,
		MinHarmony:    c.MinHarmony,
	}
}

// NewLibrary returns the storage client when a base URL is configured and the
// local directory otherwise.
func NewLibrary(c config.LibraryConfig) library.Library {
	if c.BaseURL != "" {
		return library.NewClient(c.BaseURL)
	}
	return library.NewDir(c.Dir)
}

// Initialize sets up the studio components
func (s *Studio) Initialize() error {
	s.logger.Info("Initializing studio...")
	cfg := s.config

	out, err := playback.NewOutput(playback.OutputConfig{
		SampleRate:      cfg.Audio.SampleRate,
		Buffer:          cfg.Audio.Buffer,
		Device:          cfg.Audio.Device,
		ResampleQuality: cfg.Audio.ResampleQuality,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize audio output: %w", err)
	}
	s.output = out

	s.library = NewLibrary(cfg.Library)
	cache := track.NewCache(s.library, track.Decoder{FFmpeg: cfg.Library.FFmpeg}, cacheLimit)

	s.hub = api.NewHub(logger.WithComponent("websocket"))
	s.scheduler = render.NewScheduler(cfg.Render.FPS, s.hub, logger.WithComponent("render"))
	s.registry = mixer.NewRegistry(out, cache, s.scheduler, mixer.Options{
		Detector: DetectorOptions(cfg.Detector),
		Render: render.Options{
			PixelsPerSecond: cfg.Render.PixelsPerSecond,
			Lerp:            cfg.Render.Lerp,
		},
		WaveformCap: cfg.Render.WaveformCap,
		Nudge:       cfg.Render.Nudge,
	})
	s.unsubscribe = s.registry.Subscribe(s.hub.Publish)

	for _, id := range cfg.Decks {
		if _, err := s.registry.Create(id); err != nil {
			return fmt.Errorf("failed to create deck %s: %w", id, err)
		}
	}

	s.server = &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.NewServer(s.registry, s.library, s.hub, cfg.Render.PixelsPerSecond, logger.WithComponent("api")),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.monitor = NewDeckMonitor(s.registry, s.output, &s.wg)

	s.logger.Info("Studio initialized successfully", slog.Int("decks", len(cfg.Decks)))
	return nil
}

// Start begins all studio operations
func (s *Studio) Start() error {
	if s.server == nil {
		return errors.New("studio not initialized")
	}
	s.logger.Info("Starting studio...")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.output.Run(s.ctx); err != nil {
			s.reportError(fmt.Errorf("audio output: %w", err))
		}
	}()

	s.scheduler.Start(s.ctx)
	s.monitor.Start(s.ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info("HTTP server listening", slog.String("addr", s.server.Addr))
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.reportError(fmt.Errorf("http server: %w", err))
		}
	}()

	s.logger.Info("Studio started successfully")
	return nil
}

// Stop gracefully shuts down the studio
func (s *Studio) Stop() error {
	s.logger.Info("Stopping studio...")

	// Cancel context to stop all operations
	s.cancel()

	var errs []error
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		cancel()
	}
	if s.hub != nil {
		s.hub.Close()
	}
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	if s.registry != nil {
		s.registry.Close()
	}
	if s.output != nil {
		if err := s.output.Close(); err != nil {
			errs = append(errs, fmt.Errorf("audio output: %w", err))
		}
	}

	// Wait for all goroutines to finish
	s.wg.Wait()

	s.logger.Info("Studio stopped")
	return errors.Join(errs...)
}

// Wait blocks until the studio is stopped or fails
func (s *Studio) Wait() error {
	select {
	case <-s.ctx.Done():
		return s.ctx.Err()
	case err := <-s.errorChan:
		return err
	}
}

// Error returns the error channel for monitoring errors
func (s *Studio) Error() <-chan error {
	return s.errorChan
}

// Registry returns the deck registry.
func (s *Studio) Registry() *mixer.Registry {
	return s.registry
}

func (s *Studio) reportError(err error) {
	s.logger.Error("Studio error", slog.Any("error", err))
	select {
	case s.errorChan <- err:
	default:
	}
}
