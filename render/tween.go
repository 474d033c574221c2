package render

import (
	"sync"
	"time"
)

// Smoothstep is the S-curve 3t² - 2t³ on [0, 1], clamped outside it.
func Smoothstep(t float64) float64 {
	if t <= 0 {
		return 0
	}
	if t >= 1 {
		return 1
	}
	return t * t * (3 - 2*t)
}

// Tween animates a value across render ticks with smoothstep easing.
type Tween struct {
	from, to float64
	start    time.Time
	duration time.Duration

	mu        sync.Mutex
	last      float64
	cancelled bool
	done      bool
}

// NewTween starts an animation from -> to beginning at start.
func NewTween(from, to float64, start time.Time, duration time.Duration) *Tween {
	return &Tween{from: from, to: to, start: start, duration: duration, last: from}
}

// Value returns the eased value at now and whether the tween has finished.
// A cancelled tween holds the last value it reported.
func (tw *Tween) Value(now time.Time) (float64, bool) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.cancelled {
		return tw.last, true
	}
	if tw.duration <= 0 {
		tw.done = true
		tw.last = tw.to
		return tw.to, true
	}
	t := float64(now.Sub(tw.start)) / float64(tw.duration)
	if t >= 1 {
		tw.done = true
		tw.last = tw.to
		return tw.to, true
	}
	tw.last = tw.from + (tw.to-tw.from)*Smoothstep(t)
	return tw.last, false
}

// Cancel stops the tween at the last value it reported.
func (tw *Tween) Cancel() {
	tw.mu.Lock()
	tw.cancelled = true
	tw.mu.Unlock()
}

// Done reports whether the tween finished or was cancelled.
func (tw *Tween) Done() bool {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	return tw.done || tw.cancelled
}

// Target is the value the tween ends at.
func (tw *Tween) Target() float64 {
	return tw.to
}
