// Package beatgrid estimates the tempo and beat grid of a decoded track.
//
// Detection renders the track offline through a low-pass filter to isolate
// kick and bass transients, picks the strongest peaks, and votes on the
// spacing between each peak and its neighbours. Candidate tempos are folded
// into one octave so half- and double-time readings land in the same bin.
package beatgrid

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gopxl/beep/v2"
)

var (
	// ErrNoPeaksDetected means no sample of the filtered signal crossed the
	// peak threshold (silence, or nothing percussive).
	ErrNoPeaksDetected = errors.New("no peaks detected")
	// ErrNoTempoDetermined means the detected peaks gave no usable interval.
	ErrNoTempoDetermined = errors.New("no tempo determined")
)

// Section is a beatless ("harmony") stretch of the track, in seconds.
type Section struct {
	Start    float64 `json:"start"`
	End      float64 `json:"end"`
	Duration float64 `json:"duration"`
}

// Grid is the tempo and beat timing of a track, fixed at load time. Changing a
// deck's tempo never rewrites the grid; the grid is the reference tempo.
type Grid struct {
	Tempo           float64   `json:"tempo"`
	FirstBeatOffset float64   `json:"firstBeatOffset"`
	BeatInterval    float64   `json:"beatInterval"`
	Beats           []float64 `json:"beats"`
	Harmony         []Section `json:"harmony"`
	Peaks           []float64 `json:"peaks"`
	CutoffHz        float64   `json:"cutoffHz"`
	Duration        float64   `json:"duration"`
}

// Options tunes the detector. The zero value is not useful; start from
// DefaultOptions.
type Options struct {
	Tolerance     float64       // fraction of the global peak a transient must reach
	MinPeakGap    time.Duration // dead time after an accepted peak
	PeakWindow    time.Duration // search window for the true maximum after a crossing
	CutoffHz      float64
	DynamicCutoff bool
	MinBPM        float64
	MaxBPM        float64
	Neighbours    int     // following peaks compared against each peak
	HarmonyFactor float64 // gap, in beat intervals, that counts as beatless
	MinHarmony    time.Duration
}

// DefaultOptions returns the stock detector tuning.
func DefaultOptions() Options {
	return Options{
		Tolerance:     0.8,
		MinPeakGap:    100 * time.Millisecond,
		PeakWindow:    20 * time.Millisecond,
		CutoffHz:      150,
		MinBPM:        90,
		MaxBPM:        180,
		Neighbours:    10,
		HarmonyFactor: 1.5,
		MinHarmony:    500 * time.Millisecond,
	}
}

// Detect analyses buf and returns its beat grid.
func Detect(ctx context.Context, buf *beep.Buffer, opts Options) (*Grid, error) {
	if buf == nil || buf.Len() == 0 {
		return nil, ErrNoPeaksDetected
	}
	sr := float64(buf.Format().SampleRate)
	duration := float64(buf.Len()) / sr

	cutoff := opts.CutoffHz
	if opts.DynamicCutoff {
		if f, ok := dominantLowFrequency(buf); ok {
			cutoff = f
		}
	}

	mono, err := renderLowPass(ctx, buf, cutoff)
	if err != nil {
		return nil, fmt.Errorf("offline render: %w", err)
	}

	peaks := findPeaks(mono, opts.Tolerance,
		int(opts.MinPeakGap.Seconds()*sr), int(opts.PeakWindow.Seconds()*sr))
	if len(peaks) == 0 {
		return nil, ErrNoPeaksDetected
	}

	tempo, ok := estimateTempo(countIntervals(peaks, opts.Neighbours), sr, opts.MinBPM, opts.MaxBPM)
	if !ok {
		return nil, ErrNoTempoDetermined
	}

	times := make([]float64, len(peaks))
	for i, p := range peaks {
		times[i] = float64(p) / sr
	}

	g := &Grid{
		Tempo:           tempo,
		FirstBeatOffset: times[0],
		BeatInterval:    60 / tempo,
		Peaks:           times,
		CutoffHz:        cutoff,
		Duration:        duration,
	}
	g.Harmony = harmonySections(times, duration,
		opts.HarmonyFactor*g.BeatInterval, opts.MinHarmony.Seconds())
	g.Beats = projectBeats(g.FirstBeatOffset, g.BeatInterval, duration, g.Harmony)
	return g, nil
}
