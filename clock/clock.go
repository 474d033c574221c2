// Package clock provides the audio clock that deck transports measure
// elapsed playback against.
package clock

import (
	"sync"
	"sync/atomic"
)

// Clock reports seconds on a monotonically non-decreasing timeline local to
// the audio subsystem. It is not wall-clock time.
type Clock interface {
	Now() float64
}

// Frames is a Clock driven by the audio device: it reads the number of
// frames pulled so far divided by the sample rate. It stands still while
// nothing is pulled.
type Frames struct {
	rate  float64
	count atomic.Int64
}

// NewFrames returns a Frames clock reading zero.
func NewFrames(sampleRate int) *Frames {
	return &Frames{rate: float64(sampleRate)}
}

// Add records n frames delivered to the device.
func (f *Frames) Add(n int) {
	if n > 0 {
		f.count.Add(int64(n))
	}
}

// Now returns the seconds of audio produced so far.
func (f *Frames) Now() float64 {
	return float64(f.count.Load()) / f.rate
}

// Manual is a Clock advanced explicitly. Used by tests and offline tooling.
type Manual struct {
	mu  sync.Mutex
	now float64
}

// NewManual returns a Manual clock reading start.
func NewManual(start float64) *Manual {
	return &Manual{now: start}
}

// Now returns the current reading.
func (m *Manual) Now() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the clock forward by d seconds. Negative values are ignored.
func (m *Manual) Advance(d float64) {
	if d <= 0 {
		return
	}
	m.mu.Lock()
	m.now += d
	m.mu.Unlock()
}
