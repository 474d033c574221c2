package mixer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"beatdeck/beatgrid"
	"beatdeck/library"
	"beatdeck/playback"
	"beatdeck/render"
	"beatdeck/track"
	"beatdeck/transport"
	"beatdeck/waveform"
)

// Info is the read-only view of a deck offered to the UI.
type Info struct {
	ID           string            `json:"id"`
	Status       transport.Status  `json:"status"`
	File         string            `json:"file,omitempty"`
	Title        string            `json:"title,omitempty"`
	CurrentTempo float64           `json:"currentTempo"`
	InitialTempo float64           `json:"initialTempo"`
	Position     float64           `json:"position"`
	Percentage   float64           `json:"percentage"`
	Duration     float64           `json:"duration"`
	Error        string            `json:"error,omitempty"`
	Effects      playback.Settings `json:"effects"`
}

// LoadResult is returned by a successful load.
type LoadResult struct {
	Tempo           float64 `json:"tempo"`
	InitialFileName string  `json:"initialFileName"`
}

// Deck binds one transport, its audio graph and its timeline. It owns the
// decoded track exclusively.
type Deck struct {
	id        string
	reg       *Registry
	transport *transport.Transport
	graph     *playback.Graph
	timeline  *render.Timeline
	logger    *slog.Logger

	mu       sync.RWMutex
	track    *track.Track
	file     string
	waveform []float64
}

// ID returns the deck id.
func (d *Deck) ID() string {
	return d.id
}

// Transport exposes the deck's state machine.
func (d *Deck) Transport() *transport.Transport {
	return d.transport
}

// Timeline exposes the deck's visual state.
func (d *Deck) Timeline() *render.Timeline {
	return d.timeline
}

// Load fetches, decodes and analyses name, then makes it playable. Whatever
// was loaded before is torn down first. On failure the deck is left in the
// error state and a *LoadError is returned.
func (d *Deck) Load(ctx context.Context, name string) (LoadResult, error) {
	if err := d.transport.BeginLoad(); err != nil {
		return LoadResult{}, &LoadError{Deck: d.id, File: name, Err: err}
	}
	d.teardown()
	d.logger.Info("Loading track", slog.String("file", name))
	start := time.Now()

	tr, err := d.reg.cache.Load(ctx, name)
	if err != nil {
		return LoadResult{}, d.failLoad(name, err)
	}
	grid, err := beatgrid.Detect(ctx, tr.Buffer, d.reg.opts.Detector)
	if err != nil {
		return LoadResult{}, d.failLoad(name, err)
	}
	env := waveform.Normalize(waveform.Sample(tr.Buffer, grid, d.reg.opts.Render.PixelsPerSecond, d.reg.opts.WaveformCap))

	d.graph.SetTrack(tr)
	if err := d.transport.CompleteLoad(tr.Duration(), grid); err != nil {
		return LoadResult{}, d.failLoad(name, err)
	}

	d.mu.Lock()
	d.track = tr
	d.file = name
	d.waveform = env
	d.mu.Unlock()

	if d.reg.scheduler != nil {
		d.reg.scheduler.Attach(d.timeline)
	}
	d.logger.Info("Track ready",
		slog.String("file", name),
		slog.Float64("tempo", grid.Tempo),
		slog.Int("beats", len(grid.Beats)),
		slog.Int("harmony_sections", len(grid.Harmony)),
		slog.Duration("took", time.Since(start)))
	d.reg.emit(Event{Type: EventLoaded, Deck: d.id, Info: d.Info()})

	return LoadResult{Tempo: grid.Tempo, InitialFileName: name}, nil
}

func (d *Deck) failLoad(name string, err error) error {
	d.teardown()
	d.transport.FailLoad(err)
	d.logger.Error("Failed to load track", slog.String("file", name), slog.Any("error", err))
	d.reg.emit(Event{Type: EventLoadFailed, Deck: d.id, Info: d.Info(), Error: err.Error()})
	return &LoadError{Deck: d.id, File: name, Err: err}
}

// teardown drops everything derived from the current track.
func (d *Deck) teardown() {
	d.graph.SetTrack(nil)
	if d.reg.scheduler != nil {
		d.reg.scheduler.Detach(d.id)
	}
	d.mu.Lock()
	d.track = nil
	d.file = ""
	d.waveform = nil
	d.mu.Unlock()
}

// Reset returns the deck to empty.
func (d *Deck) Reset() {
	d.transport.Reset()
	d.teardown()
}

// Play starts playback from the paused position.
func (d *Deck) Play() error {
	return d.transport.Play()
}

// Pause stops playback and keeps the position.
func (d *Deck) Pause() {
	d.transport.Pause()
}

// Seek jumps to fraction of the track and returns the time in seconds.
func (d *Deck) Seek(fraction float64) float64 {
	return d.transport.Seek(fraction)
}

// ChangeTempo plays the track at bpm.
func (d *Deck) ChangeTempo(bpm float64) {
	d.transport.ChangeTempo(bpm)
}

// InitialTempo is the detected tempo of the loaded track.
func (d *Deck) InitialTempo() float64 {
	return d.transport.InitialTempo()
}

// AdjustBeat nudges the deck for beatmatching.
func (d *Deck) AdjustBeat(direction int) {
	d.transport.AdjustBeat(direction)
}

// Apply sets one effect parameter and returns the deck's effect settings.
func (d *Deck) Apply(e playback.Effect) playback.Settings {
	s := d.graph.Apply(e)
	d.logger.Debug("Effect applied", slog.String("effect", e.Kind()))
	d.reg.emit(Event{Type: EventEffect, Deck: d.id, Info: d.Info()})
	return s
}

func (d *Deck) SetBassGain(db float64) playback.Settings {
	return d.Apply(playback.BassGain{DB: db})
}

func (d *Deck) SetMidGain(db float64) playback.Settings {
	return d.Apply(playback.MidGain{DB: db})
}

func (d *Deck) SetTrebleGain(db float64) playback.Settings {
	return d.Apply(playback.TrebleGain{DB: db})
}

func (d *Deck) SetColorFX(frequency, resonance, mix float64) playback.Settings {
	return d.Apply(playback.ColorFX{Frequency: frequency, Resonance: resonance, Mix: mix})
}

func (d *Deck) SetGain(db float64) playback.Settings {
	return d.Apply(playback.DeckGain{DB: db})
}

// SetCamera animates the timeline zoom to zoom over duration.
func (d *Deck) SetCamera(zoom float64, duration time.Duration) {
	d.timeline.Animate(zoom, duration, time.Now())
}

// Info returns a snapshot for the UI.
func (d *Deck) Info() Info {
	st, pos := d.transport.Project()

	d.mu.RLock()
	file := d.file
	d.mu.RUnlock()

	info := Info{
		ID:           d.id,
		Status:       st.Status,
		File:         file,
		CurrentTempo: st.CurrentTempo,
		InitialTempo: st.InitialTempo,
		Position:     pos,
		Duration:     st.Duration,
		Error:        st.Err,
		Effects:      d.graph.Settings(),
	}
	if file != "" {
		info.Title = library.DisplayName(file)
	}
	if st.Duration > 0 {
		info.Percentage = pos / st.Duration * 100
	}
	return info
}

// SourceActive reports whether the deck's audio chain is attached to the
// output.
func (d *Deck) SourceActive() bool {
	return d.graph.Playing()
}

// Waveform returns the envelope of the loaded track, or nil.
func (d *Deck) Waveform() []float64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.waveform
}

// Grid returns the beat grid of the loaded track, or nil.
func (d *Deck) Grid() *beatgrid.Grid {
	return d.transport.Grid()
}

// Track returns the decoded track, or nil.
func (d *Deck) Track() *track.Track {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.track
}

func (d *Deck) dispose() {
	d.transport.Reset()
	d.teardown()
	d.graph.Dispose()
}
