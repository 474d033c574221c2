// Package waveform downsamples a track into the amplitude envelope drawn on
// a deck's timeline.
package waveform

import (
	"math"

	"github.com/gopxl/beep/v2"

	"beatdeck/beatgrid"
)

// DefaultCap bounds the number of frames inspected per pixel.
const DefaultCap = 1024

// Sample returns interleaved (max, min) amplitude pairs, one pair per
// horizontal pixel at pixelsPerSecond. Each pixel inspects
// min(samplesPerBeat, maxWindow) frames from its start, so faster tracks are
// sampled more densely. The result depends only on its inputs.
func Sample(buf *beep.Buffer, grid *beatgrid.Grid, pixelsPerSecond float64, maxWindow int) []float64 {
	if buf == nil || buf.Len() == 0 || pixelsPerSecond <= 0 {
		return nil
	}
	if maxWindow <= 0 {
		maxWindow = DefaultCap
	}
	sr := float64(buf.Format().SampleRate)
	total := buf.Len()

	window := maxWindow
	if grid != nil && grid.BeatInterval > 0 {
		if spb := int(grid.BeatInterval * sr); spb > 0 && spb < window {
			window = spb
		}
	}

	pixels := int(math.Ceil(float64(total) / sr * pixelsPerSecond))
	step := sr / pixelsPerSecond
	out := make([]float64, 0, pixels*2)
	frames := make([][2]float64, window)

	for p := 0; p < pixels; p++ {
		from := int(float64(p) * step)
		if from >= total {
			out = append(out, 0, 0)
			continue
		}
		to := from + window
		if to > total {
			to = total
		}
		n, _ := buf.Streamer(from, to).Stream(frames[:to-from])

		hi, lo := 0.0, 0.0
		for i := 0; i < n; i++ {
			v := (frames[i][0] + frames[i][1]) / 2
			if v > hi {
				hi = v
			}
			if v < lo {
				lo = v
			}
		}
		out = append(out, hi, lo)
	}
	return out
}

// peak returns the largest absolute value in an envelope.
func peak(envelope []float64) float64 {
	var m float64
	for _, v := range envelope {
		if a := math.Abs(v); a > m {
			m = a
		}
	}
	return m
}

// Normalize scales an envelope in place so its peak is 1. Silent envelopes
// are left untouched.
func Normalize(envelope []float64) []float64 {
	p := peak(envelope)
	if p == 0 {
		return envelope
	}
	for i := range envelope {
		envelope[i] /= p
	}
	return envelope
}
