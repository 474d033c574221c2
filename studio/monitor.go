package studio

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"beatdeck/logger"
	"beatdeck/mixer"
	"beatdeck/playback"
	"beatdeck/transport"
)

// DeckMonitor periodically logs what every deck is doing.
type DeckMonitor struct {
	registry *mixer.Registry
	output   *playback.Output
	interval time.Duration
	logger   *slog.Logger
	wg       *sync.WaitGroup
}

// NewDeckMonitor creates a new DeckMonitor instance
func NewDeckMonitor(registry *mixer.Registry, output *playback.Output, wg *sync.WaitGroup) *DeckMonitor {
	return &DeckMonitor{
		registry: registry,
		output:   output,
		interval: 30 * time.Second,
		logger:   logger.WithComponent("deck-monitor"),
		wg:       wg,
	}
}

// Start begins monitoring until ctx is done
func (m *DeckMonitor) Start(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		m.logger.Info("Starting deck monitoring")

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.report()
			case <-ctx.Done():
				m.logger.Info("Deck monitoring stopped")
				return
			}
		}
	}()
}

func (m *DeckMonitor) report() {
	playing := 0
	for _, d := range m.registry.Decks() {
		info := d.Info()
		active := d.SourceActive()
		if info.Status == transport.Playing {
			playing++
			if !active {
				m.logger.Warn("Deck is playing without an audio source", slog.String("deck", info.ID))
			}
		}
		m.logger.Debug("Deck status",
			slog.String("deck", info.ID),
			slog.String("status", info.Status.String()),
			slog.String("file", info.File),
			slog.Float64("tempo", info.CurrentTempo),
			slog.Float64("position", info.Position),
			slog.Bool("source", active))
	}
	m.logger.Debug("Output status",
		slog.Int("sources", m.output.Sources()),
		slog.Int("playing_decks", playing))
}
