// Package transport implements the per-deck playback state machine.
//
// A Transport owns the timing of one deck: where playback was paused, the
// playback rate, and the audio clock reading at which the current play
// segment began. Everything else (the audible source, the scrolling
// timeline) is derived from it. The audio clock is the only authority; the
// logical position while playing is
//
//	pausedAt + (clockNow - startedAt) * rate
//
// clamped to the track. Each command updates every field inside one critical
// section, so readers always see a whole snapshot.
package transport

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"beatdeck/beatgrid"
	"beatdeck/clock"
)

// Engine is the audible side of a deck. Start must replace any source that is
// still running; only one source may be alive per deck.
type Engine interface {
	Start(offset, rate float64) error
	Stop()
	Nudge(direction int)
}

// DefaultNudge is the visual offset, in seconds, applied by AdjustBeat.
const DefaultNudge = 0.05

// Transport is the state machine of one deck.
type Transport struct {
	mu       sync.RWMutex
	clock    clock.Clock
	engine   Engine
	state    State
	grid     *beatgrid.Grid
	nudge    float64
	nudgeLen float64
	onChange func(State)
	logger   *slog.Logger
}

// New returns an Empty transport driven by c.
func New(c clock.Clock, engine Engine, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{
		clock:    c,
		engine:   engine,
		state:    emptyState(),
		nudgeLen: DefaultNudge,
		logger:   logger,
	}
}

// SetNudge changes the one-shot visual offset used by AdjustBeat.
func (t *Transport) SetNudge(seconds float64) {
	t.mu.Lock()
	t.nudgeLen = seconds
	t.mu.Unlock()
}

// OnChange registers fn to receive a snapshot after every state change. It is
// called outside the transport lock.
func (t *Transport) OnChange(fn func(State)) {
	t.mu.Lock()
	t.onChange = fn
	t.mu.Unlock()
}

func (t *Transport) unlockAndNotify(changed bool) {
	s, fn := t.state, t.onChange
	t.mu.Unlock()
	if changed && fn != nil {
		fn(s)
	}
}

// BeginLoad moves the deck to Loading, tearing down whatever was loaded.
func (t *Transport) BeginLoad() error {
	t.mu.Lock()
	if t.state.Status == Loading {
		t.mu.Unlock()
		return ErrLoadInProgress
	}
	if t.state.Status == Playing && t.engine != nil {
		t.engine.Stop()
	}
	t.state = emptyState()
	t.state.Status = Loading
	t.grid = nil
	t.nudge = 0
	t.logger.Debug("Loading")
	t.unlockAndNotify(true)
	return nil
}

// CompleteLoad finishes a load with the decoded duration and detected grid.
func (t *Transport) CompleteLoad(duration float64, grid *beatgrid.Grid) error {
	if grid == nil || grid.Tempo <= 0 {
		return errors.New("complete load: grid has no tempo")
	}
	if duration <= 0 {
		return errors.New("complete load: empty track")
	}

	t.mu.Lock()
	if t.state.Status != Loading {
		status := t.state.Status
		t.mu.Unlock()
		return fmt.Errorf("complete load: deck is %s, not loading", status)
	}
	t.state = State{
		Status:       Loaded,
		Rate:         1,
		Duration:     duration,
		CurrentTempo: grid.Tempo,
		InitialTempo: grid.Tempo,
	}
	t.grid = grid
	t.logger.Info("Loaded",
		slog.Float64("duration", duration),
		slog.Float64("tempo", grid.Tempo))
	t.unlockAndNotify(true)
	return nil
}

// FailLoad parks the deck in Error with nothing loaded.
func (t *Transport) FailLoad(cause error) {
	t.mu.Lock()
	if t.state.Status == Playing && t.engine != nil {
		t.engine.Stop()
	}
	t.state = emptyState()
	t.state.Status = Error
	if cause != nil {
		t.state.Err = cause.Error()
	}
	t.grid = nil
	t.nudge = 0
	t.logger.Warn("Load failed", slog.Any("error", cause))
	t.unlockAndNotify(true)
}

// Play starts a source at the paused position. It is a logged no-op unless
// the deck is Loaded or Paused. A playhead parked at the end rewinds first.
func (t *Transport) Play() error {
	t.mu.Lock()
	changed, err := t.playLocked()
	t.unlockAndNotify(changed)
	return err
}

func (t *Transport) playLocked() (bool, error) {
	switch t.state.Status {
	case Loaded, Paused:
	case Playing:
		t.logger.Debug("Play ignored: already playing")
		return false, nil
	default:
		t.logger.Warn("Play ignored", slog.String("status", t.state.Status.String()))
		return false, nil
	}
	if t.engine == nil {
		t.logger.Warn("Play ignored: no audio engine")
		return false, nil
	}

	if t.state.PausedAt >= t.state.Duration {
		t.state.PausedAt = 0
	}
	if err := t.engine.Start(t.state.PausedAt, t.state.Rate); err != nil {
		t.state.Status = Error
		t.state.Err = err.Error()
		t.logger.Error("Failed to start source", slog.Any("error", err))
		return true, fmt.Errorf("start source: %w", err)
	}
	t.state.StartedAt = t.clock.Now()
	t.state.Status = Playing
	t.logger.Debug("Playing",
		slog.Float64("offset", t.state.PausedAt),
		slog.Float64("rate", t.state.Rate))
	return true, nil
}

// Pause stops the source and remembers the position. Calling it when not
// playing does nothing, so a second Pause leaves PausedAt untouched.
func (t *Transport) Pause() {
	t.mu.Lock()
	changed := t.pauseLocked()
	t.unlockAndNotify(changed)
}

func (t *Transport) pauseLocked() bool {
	if t.state.Status != Playing {
		t.logger.Debug("Pause ignored", slog.String("status", t.state.Status.String()))
		return false
	}
	pos := t.state.PositionAt(t.clock.Now())
	if t.engine != nil {
		t.engine.Stop()
	}
	t.state.PausedAt = pos
	t.state.Status = Paused
	t.logger.Debug("Paused", slog.Float64("position", pos))
	return true
}

// Seek moves the playhead to fraction of the track and returns the resolved
// time in seconds. While playing the source is rebuilt at the new offset,
// since a running source cannot be repositioned. Seeking a playing deck to the
// very end leaves it Paused there.
func (t *Transport) Seek(fraction float64) float64 {
	t.mu.Lock()
	switch t.state.Status {
	case Loaded, Paused, Playing:
	default:
		t.logger.Warn("Seek ignored", slog.String("status", t.state.Status.String()))
		pos := t.state.PausedAt
		t.mu.Unlock()
		return pos
	}

	target := clamp(fraction, 0, 1) * t.state.Duration
	if t.state.Status == Playing {
		t.pauseLocked()
		t.state.PausedAt = target
		// Nothing is left to play at the end; stay parked there.
		if target < t.state.Duration {
			if _, err := t.playLocked(); err != nil {
				t.logger.Error("Seek could not restart playback", slog.Any("error", err))
			}
		}
	} else {
		t.state.PausedAt = target
	}
	t.logger.Debug("Seek", slog.Float64("seconds", target))
	t.unlockAndNotify(true)
	return target
}

// ChangeTempo retunes the playback rate so the track plays at bpm (clamped to
// [MinTempo, MaxTempo]). The grid is not touched. While playing, the source is
// restarted at the exact current position with the new rate.
func (t *Transport) ChangeTempo(bpm float64) {
	bpm = clamp(bpm, MinTempo, MaxTempo)

	t.mu.Lock()
	if t.state.InitialTempo <= 0 {
		t.logger.Warn("Tempo change ignored: no reference tempo")
		t.mu.Unlock()
		return
	}
	if bpm == t.state.CurrentTempo {
		t.mu.Unlock()
		return
	}

	rate := bpm / t.state.InitialTempo
	if t.state.Status == Playing {
		now := t.clock.Now()
		pos := t.state.PositionAt(now)
		if t.engine != nil {
			t.engine.Stop()
		}
		t.state.PausedAt = pos
		t.state.Rate = rate
		t.state.CurrentTempo = bpm
		t.state.StartedAt = now
		if t.engine != nil {
			if err := t.engine.Start(pos, rate); err != nil {
				t.state.Status = Error
				t.state.Err = err.Error()
				t.logger.Error("Failed to restart source after tempo change", slog.Any("error", err))
			}
		}
	} else {
		t.state.Rate = rate
		t.state.CurrentTempo = bpm
	}
	t.logger.Debug("Tempo changed", slog.Float64("bpm", bpm), slog.Float64("rate", rate))
	t.unlockAndNotify(true)
}

// AdjustBeat nudges a playing deck forward (direction > 0) or back
// (direction < 0) for beatmatching. The audible nudge is transient and the
// visual one is consumed by the next TakeNudge.
func (t *Transport) AdjustBeat(direction int) {
	switch {
	case direction > 0:
		direction = 1
	case direction < 0:
		direction = -1
	default:
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.Status != Playing {
		t.logger.Debug("Nudge ignored", slog.String("status", t.state.Status.String()))
		return
	}
	if t.engine != nil {
		t.engine.Nudge(direction)
	}
	t.nudge = float64(direction) * t.nudgeLen
}

// TakeNudge returns the pending one-shot visual offset and clears it.
func (t *Transport) TakeNudge() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.nudge
	t.nudge = 0
	return n
}

// SourceEnded is called by the engine when the active source runs out. The
// deck parks at the end of the track.
func (t *Transport) SourceEnded() {
	t.mu.Lock()
	if t.state.Status != Playing {
		t.mu.Unlock()
		return
	}
	if t.engine != nil {
		t.engine.Stop()
	}
	t.state.PausedAt = t.state.Duration
	t.state.Status = Paused
	t.logger.Debug("Reached end of track")
	t.unlockAndNotify(true)
}

// Reset stops playback and discards everything derived from the track.
func (t *Transport) Reset() {
	t.mu.Lock()
	if t.state.Status == Playing && t.engine != nil {
		t.engine.Stop()
	}
	changed := t.state.Status != Empty
	t.state = emptyState()
	t.grid = nil
	t.nudge = 0
	t.unlockAndNotify(changed)
}

// Snapshot returns a copy of the current state.
func (t *Transport) Snapshot() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// Position returns the logical track time now, without mutating anything.
func (t *Transport) Position() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state.PositionAt(t.clock.Now())
}

// Progress returns Position as a fraction of the track.
func (t *Transport) Progress() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state.ProgressAt(t.clock.Now())
}

// Project returns a snapshot together with the position at the same clock
// reading, which is what a render tick needs.
func (t *Transport) Project() (State, float64) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state, t.state.PositionAt(t.clock.Now())
}

// Grid returns the beat grid of the loaded track, or nil.
func (t *Transport) Grid() *beatgrid.Grid {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.grid
}

// InitialTempo returns the detected tempo of the loaded track.
func (t *Transport) InitialTempo() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state.InitialTempo
}
