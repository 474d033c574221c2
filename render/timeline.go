// Package render keeps each deck's scrolling timeline in step with its
// transport, on a loop independent from the audio thread.
package render

import (
	"math"
	"sync"
	"time"

	"beatdeck/transport"
)

// Source is the read side of a deck transport.
type Source interface {
	// Project returns a snapshot and the position at one clock reading.
	Project() (transport.State, float64)
	// TakeNudge returns and clears the pending one-shot offset.
	TakeNudge() float64
}

// Defaults for Options.
const (
	DefaultLerp            = 0.1
	DefaultPixelsPerSecond = 100.0

	minScale = 0.1
	epsilon  = 1e-6
)

// Options tune a Timeline.
type Options struct {
	PixelsPerSecond float64
	Lerp            float64
}

// VisualState is what a painter needs to draw one deck.
type VisualState struct {
	Deck         string           `json:"deck"`
	Status       transport.Status `json:"status"`
	Position     float64          `json:"position"`
	Progress     float64          `json:"progress"`
	Offset       float64          `json:"offset"`
	ScaleX       float64          `json:"scaleX"`
	TargetScaleX float64          `json:"targetScaleX"`
	Zoom         float64          `json:"zoom"`
}

// TargetScale is the visual stretch for a playback rate: the inverse of the
// speed, clamped.
func TargetScale(rate float64) float64 {
	return math.Max(minScale, 2-math.Max(rate, minScale))
}

// Timeline is the visual state of one deck. Only Tick changes it.
type Timeline struct {
	deck string
	src  Source
	opts Options

	mu     sync.Mutex
	state  VisualState
	camera *Tween
	dirty  bool
}

// NewTimeline binds a timeline to a transport.
func NewTimeline(deck string, src Source, opts Options) *Timeline {
	if opts.PixelsPerSecond <= 0 {
		opts.PixelsPerSecond = DefaultPixelsPerSecond
	}
	if opts.Lerp <= 0 || opts.Lerp > 1 {
		opts.Lerp = DefaultLerp
	}
	return &Timeline{
		deck:  deck,
		src:   src,
		opts:  opts,
		state: VisualState{Deck: deck, ScaleX: 1, TargetScaleX: 1, Zoom: 1},
		dirty: true,
	}
}

// Deck returns the id of the deck this timeline draws.
func (tl *Timeline) Deck() string {
	return tl.deck
}

// Tick recomputes the visual state from the transport and reports whether it
// differs from the previous tick.
func (tl *Timeline) Tick(now time.Time) (VisualState, bool) {
	st, pos := tl.src.Project()
	pos += tl.src.TakeNudge()

	tl.mu.Lock()
	defer tl.mu.Unlock()

	prev := tl.state
	next := prev
	next.Status = st.Status
	next.Position = pos

	next.Progress = 0
	if st.Duration > 0 {
		next.Progress = math.Min(math.Max(pos/st.Duration, 0), 1)
	}

	next.TargetScaleX = TargetScale(st.Rate)
	next.ScaleX = prev.ScaleX + (next.TargetScaleX-prev.ScaleX)*tl.opts.Lerp
	if math.Abs(next.TargetScaleX-next.ScaleX) < epsilon {
		next.ScaleX = next.TargetScaleX
	}

	width := st.Duration * tl.opts.PixelsPerSecond
	next.Offset = -next.Progress * width * next.ScaleX

	if tl.camera != nil {
		z, done := tl.camera.Value(now)
		next.Zoom = z
		if done {
			tl.camera = nil
		}
	}

	changed := tl.dirty ||
		math.Abs(next.Position-prev.Position) > epsilon ||
		math.Abs(next.ScaleX-prev.ScaleX) > epsilon ||
		math.Abs(next.Offset-prev.Offset) > epsilon ||
		math.Abs(next.Zoom-prev.Zoom) > epsilon ||
		next.Status != prev.Status
	tl.state = next
	tl.dirty = false
	return next, changed
}

// State returns the state computed by the last Tick.
func (tl *Timeline) State() VisualState {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	return tl.state
}

// Animate moves the camera zoom to target over d, cancelling any camera
// animation still running. The new tween starts from the current zoom.
func (tl *Timeline) Animate(target float64, d time.Duration, now time.Time) *Tween {
	tl.mu.Lock()
	defer tl.mu.Unlock()

	from := tl.state.Zoom
	if tl.camera != nil {
		from, _ = tl.camera.Value(now)
		tl.camera.Cancel()
	}
	tl.camera = NewTween(from, target, now, d)
	return tl.camera
}

// Invalidate forces the next Tick to report a change.
func (tl *Timeline) Invalidate() {
	tl.mu.Lock()
	tl.dirty = true
	tl.mu.Unlock()
}
