package beatgrid

import (
	"context"
	"math"
	"math/cmplx"

	"github.com/gopxl/beep/v2"
	"github.com/noriah/catnip/dsp/window"
	"github.com/noriah/catnip/fft"
	"github.com/noriah/catnip/input"
)

const renderBlock = 4096

// lowPass is a second-order low-pass streamer (RBJ cookbook biquad) applied
// independently to both channels.
type lowPass struct {
	s                  beep.Streamer
	b0, b1, b2, a1, a2 float64
	x1, x2, y1, y2     [2]float64
}

func newLowPass(s beep.Streamer, sampleRate, cutoff float64) *lowPass {
	if cutoff > sampleRate*0.45 {
		cutoff = sampleRate * 0.45
	}
	w0 := 2 * math.Pi * cutoff / sampleRate
	const q = math.Sqrt2 / 2
	alpha := math.Sin(w0) / (2 * q)
	cosw := math.Cos(w0)
	a0 := 1 + alpha
	return &lowPass{
		s:  s,
		b0: (1 - cosw) / 2 / a0,
		b1: (1 - cosw) / a0,
		b2: (1 - cosw) / 2 / a0,
		a1: -2 * cosw / a0,
		a2: (1 - alpha) / a0,
	}
}

func (f *lowPass) Stream(samples [][2]float64) (n int, ok bool) {
	n, ok = f.s.Stream(samples)
	for i := 0; i < n; i++ {
		for c := 0; c < 2; c++ {
			x := samples[i][c]
			y := f.b0*x + f.b1*f.x1[c] + f.b2*f.x2[c] - f.a1*f.y1[c] - f.a2*f.y2[c]
			f.x2[c], f.x1[c] = f.x1[c], x
			f.y2[c], f.y1[c] = f.y1[c], y
			samples[i][c] = y
		}
	}
	return n, ok
}

func (f *lowPass) Err() error {
	return f.s.Err()
}

// renderLowPass streams the whole buffer through the filter and returns the
// mono result. It is the offline counterpart of playing the track.
func renderLowPass(ctx context.Context, buf *beep.Buffer, cutoff float64) ([]float64, error) {
	sr := float64(buf.Format().SampleRate)
	filtered := newLowPass(buf.Streamer(0, buf.Len()), sr, cutoff)

	mono := make([]float64, 0, buf.Len())
	block := make([][2]float64, renderBlock)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, ok := filtered.Stream(block)
		for i := 0; i < n; i++ {
			mono = append(mono, (block[i][0]+block[i][1])/2)
		}
		if !ok || n == 0 {
			break
		}
	}
	return mono, filtered.Err()
}

// dominantLowFrequency finds the strongest 30-200 Hz component of a one
// second window in the middle of the track and derives a cutoff from it.
func dominantLowFrequency(buf *beep.Buffer) (float64, bool) {
	sr := float64(buf.Format().SampleRate)
	size := min(int(sr), buf.Len())
	start := (buf.Len() - size) / 2

	frames := make([][2]float64, size)
	n, _ := buf.Streamer(start, start+size).Stream(frames)
	if n < 2 {
		return 0, false
	}
	samples := make([]input.Sample, n)
	for i := 0; i < n; i++ {
		samples[i] = input.Sample((frames[i][0] + frames[i][1]) / 2)
	}
	window.Lanczos()(samples)

	spectrum := make([]complex128, n/2+1)
	var plan *fft.Plan
	fft.InitPlan(&plan, samples, spectrum)
	plan.Execute()

	binHz := sr / float64(n)
	lo := max(1, int(math.Ceil(30/binHz)))
	hi := min(len(spectrum)-1, int(200/binHz))
	best, bestPower := 0.0, 0.0
	for k := lo; k <= hi; k++ {
		if p := cmplx.Abs(spectrum[k]); p > bestPower {
			best, bestPower = float64(k)*binHz, p
		}
	}
	if bestPower < 1e-9 {
		return 0, false
	}
	return math.Min(math.Max(best*1.25, 80), 250), true
}
