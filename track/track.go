// Package track holds decoded audio buffers that decks play and analyse.
package track

import (
	"math"

	"github.com/gopxl/beep/v2"
)

// Track is a decoded, fixed-length stereo buffer. It is immutable once
// decoded, so decks loading the same file share it.
type Track struct {
	Name   string
	Format beep.Format
	Buffer *beep.Buffer
}

// New wraps an already filled buffer.
func New(name string, buf *beep.Buffer) *Track {
	return &Track{Name: name, Format: buf.Format(), Buffer: buf}
}

// FromSamples builds a Track from raw stereo frames.
func FromSamples(name string, sampleRate int, frames [][2]float64) *Track {
	format := beep.Format{SampleRate: beep.SampleRate(sampleRate), NumChannels: 2, Precision: 2}
	buf := beep.NewBuffer(format)
	buf.Append(frameStreamer(frames))
	return New(name, buf)
}

// SampleRate returns the native rate of the decoded samples.
func (t *Track) SampleRate() beep.SampleRate {
	return t.Format.SampleRate
}

// Len returns the number of frames.
func (t *Track) Len() int {
	return t.Buffer.Len()
}

// Duration returns the track length in seconds.
func (t *Track) Duration() float64 {
	if t.Format.SampleRate == 0 {
		return 0
	}
	return float64(t.Buffer.Len()) / float64(t.Format.SampleRate)
}

// FrameAt converts seconds into a frame index clamped to the buffer.
func (t *Track) FrameAt(seconds float64) int {
	n := int(math.Round(seconds * float64(t.Format.SampleRate)))
	if n < 0 {
		return 0
	}
	if n > t.Buffer.Len() {
		return t.Buffer.Len()
	}
	return n
}

// Streamer returns a fresh streamer starting at offset seconds.
func (t *Track) Streamer(offset float64) beep.StreamSeeker {
	return t.Buffer.Streamer(t.FrameAt(offset), t.Buffer.Len())
}

func frameStreamer(frames [][2]float64) beep.Streamer {
	pos := 0
	return beep.StreamerFunc(func(samples [][2]float64) (int, bool) {
		if pos >= len(frames) {
			return 0, false
		}
		n := copy(samples, frames[pos:])
		pos += n
		return n, true
	})
}
