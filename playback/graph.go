package playback

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"

	"beatdeck/track"
)

// Nudge shape applied to the resampler.
const (
	NudgeAmount   = 0.1
	NudgeDuration = 50 * time.Millisecond
)

var (
	ErrNoTrack  = errors.New("no track attached")
	ErrDisposed = errors.New("graph disposed")
)

// GraphError reports a failure building or driving a deck's node chain.
type GraphError struct {
	Op  string
	Err error
}

func (e *GraphError) Error() string {
	return fmt.Sprintf("audio graph %s: %v", e.Op, e.Err)
}

func (e *GraphError) Unwrap() error {
	return e.Err
}

// Graph is the node chain of one deck:
//
//	buffer -> resampler -> 3-band EQ -> colour FX -> deck gain -> ctrl -> output
//
// Nodes are exclusive to the deck. At most one source is alive; Start
// replaces it and Stop detaches it.
type Graph struct {
	out    *Output
	logger *slog.Logger

	mu       sync.Mutex
	track    *track.Track
	settings Settings
	onEnded  func()
	disposed bool

	gen       uint64
	ctrl      *beep.Ctrl
	resampler *beep.Resampler
	ratio     float64
	eq        *eqStage
	color     *colorStage
	gain      *effects.Volume
	nudge     *time.Timer
}

// NewGraph creates an idle chain attached to out.
func NewGraph(out *Output, logger *slog.Logger) *Graph {
	if logger == nil {
		logger = slog.Default()
	}
	return &Graph{
		out:      out,
		logger:   logger,
		settings: DefaultSettings(),
	}
}

// SetTrack stops any source and makes tr the material for the next Start.
// A nil track detaches it.
func (g *Graph) SetTrack(tr *track.Track) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stopLocked()
	g.track = tr
}

// OnEnded registers fn to run when a source plays to the end of the track.
// It is called on its own goroutine and never for a source that was stopped.
func (g *Graph) OnEnded(fn func()) {
	g.mu.Lock()
	g.onEnded = fn
	g.mu.Unlock()
}

// Start builds a fresh source at offset seconds playing at rate, replacing
// any source that is still alive.
func (g *Graph) Start(offset, rate float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.disposed {
		return &GraphError{Op: "start", Err: ErrDisposed}
	}
	if g.track == nil {
		return &GraphError{Op: "start", Err: ErrNoTrack}
	}
	if rate <= 0 || math.IsNaN(rate) {
		return &GraphError{Op: "start", Err: fmt.Errorf("invalid rate %v", rate)}
	}
	g.stopLocked()

	outRate := g.out.SampleRate()
	ratio := rate * float64(g.track.SampleRate()) / float64(outRate)
	resampler := beep.ResampleRatio(g.out.quality, ratio, g.track.Streamer(offset))
	eq := newEQStage(resampler, outRate, g.settings)
	color := newColorStage(eq, outRate, g.settings.Color)
	gain := deckVolume(color, g.settings.Gain)

	g.gen++
	gen := g.gen
	ended := beep.Callback(func() {
		// runs on the audio thread with the output lock held
		go g.ended(gen)
	})
	ctrl := &beep.Ctrl{Streamer: beep.Seq(gain, ended)}

	g.out.Lock()
	err := g.out.attach(ctrl)
	g.out.Unlock()
	if err != nil {
		return &GraphError{Op: "start", Err: err}
	}

	g.ctrl = ctrl
	g.resampler = resampler
	g.ratio = ratio
	g.eq = eq
	g.color = color
	g.gain = gain
	g.logger.Debug("Source started",
		slog.Float64("offset", offset),
		slog.Float64("rate", rate),
		slog.Float64("ratio", ratio))
	return nil
}

// Stop detaches the live source, if any.
func (g *Graph) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stopLocked()
}

func (g *Graph) stopLocked() {
	if g.nudge != nil {
		g.nudge.Stop()
		g.nudge = nil
	}
	if g.ctrl == nil {
		return
	}
	g.out.Lock()
	// a nil streamer makes the mixer drop the ctrl on its next pull
	g.ctrl.Streamer = nil
	g.out.Unlock()

	g.gen++
	g.ctrl = nil
	g.resampler = nil
	g.eq = nil
	g.color = nil
	g.gain = nil
}

func (g *Graph) ended(gen uint64) {
	g.mu.Lock()
	if gen != g.gen || g.ctrl == nil {
		g.mu.Unlock()
		return
	}
	g.stopLocked()
	fn := g.onEnded
	g.mu.Unlock()

	g.logger.Debug("Source reached end of track")
	if fn != nil {
		fn()
	}
}

// Playing reports whether a source is alive.
func (g *Graph) Playing() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ctrl != nil
}

// Nudge briefly speeds up (direction > 0) or slows down (direction < 0) the
// live source, then restores its rate.
func (g *Graph) Nudge(direction int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.resampler == nil || direction == 0 {
		return
	}

	factor := 1 + NudgeAmount
	if direction < 0 {
		factor = 1 - NudgeAmount
	}
	resampler, ratio, gen := g.resampler, g.ratio, g.gen

	g.out.Lock()
	resampler.SetRatio(ratio * factor)
	g.out.Unlock()

	if g.nudge != nil {
		g.nudge.Stop()
	}
	g.nudge = time.AfterFunc(NudgeDuration, func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		if g.gen != gen || g.resampler != resampler {
			return
		}
		g.out.Lock()
		resampler.SetRatio(ratio)
		g.out.Unlock()
	})
}

// Apply updates one effect parameter, clamped to its range, and returns the
// resulting settings. A live source is updated in place.
func (g *Graph) Apply(e Effect) Settings {
	g.mu.Lock()
	defer g.mu.Unlock()

	e.apply(&g.settings)
	if g.ctrl == nil {
		return g.settings
	}

	g.out.Lock()
	switch e.(type) {
	case BassGain, MidGain, TrebleGain:
		g.eq.set(g.settings)
	case ColorFX:
		g.color.set(g.settings.Color)
	case DeckGain:
		setDeckVolume(g.gain, g.settings.Gain)
	}
	g.out.Unlock()
	return g.settings
}

// Settings returns the current effect parameters.
func (g *Graph) Settings() Settings {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.settings
}

// Dispose stops the source and refuses further starts.
func (g *Graph) Dispose() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stopLocked()
	g.track = nil
	g.onEnded = nil
	g.disposed = true
}
