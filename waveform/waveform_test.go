package waveform

import (
	"math"
	"testing"

	"github.com/gopxl/beep/v2"

	"beatdeck/beatgrid"
)

func square(rate, n int) *beep.Buffer {
	buf := beep.NewBuffer(beep.Format{SampleRate: beep.SampleRate(rate), NumChannels: 2, Precision: 2})
	i := 0
	buf.Append(beep.StreamerFunc(func(samples [][2]float64) (int, bool) {
		if i >= n {
			return 0, false
		}
		c := 0
		for ; c < len(samples) && i < n; c, i = c+1, i+1 {
			v := 0.5
			if (i/10)%2 == 1 {
				v = -0.5
			}
			samples[c] = [2]float64{v, v}
		}
		return c, true
	}))
	return buf
}

func TestSamplePairCount(t *testing.T) {
	buf := square(1000, 2500) // 2.5 s
	env := Sample(buf, nil, 10, 0)
	if len(env) != 50 {
		t.Fatalf("len = %d, want 50 (25 pixels x 2)", len(env))
	}
	for i := 0; i < len(env); i += 2 {
		if env[i] < 0.49 || env[i+1] > -0.49 {
			t.Fatalf("pixel %d = (%v, %v), want about (0.5, -0.5)", i/2, env[i], env[i+1])
		}
	}
}

func TestSampleDeterministic(t *testing.T) {
	buf := square(1000, 3000)
	grid := &beatgrid.Grid{Tempo: 120, BeatInterval: 0.5}
	a := Sample(buf, grid, 25, 64)
	b := Sample(buf, grid, 25, 64)
	if len(a) != len(b) {
		t.Fatalf("lengths differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("envelope differs at %d", i)
		}
	}
}

func TestSampleWindowFollowsTempo(t *testing.T) {
	// 5 frames per beat (12000 BPM at 1 kHz) means each pixel only sees the
	// positive half of the 20-frame square period when aligned to it.
	buf := square(1000, 1000)
	grid := &beatgrid.Grid{Tempo: 12000, BeatInterval: 0.005}
	env := Sample(buf, grid, 50, 1024)
	if math.Abs(env[0]-0.5) > 1e-3 || env[1] != 0 {
		t.Errorf("first pixel = (%v, %v), want (0.5, 0)", env[0], env[1])
	}
}

func TestSampleEmpty(t *testing.T) {
	if env := Sample(nil, nil, 10, 0); env != nil {
		t.Errorf("nil buffer should give nil, got %v", env)
	}
	if env := Sample(square(1000, 10), nil, 0, 0); env != nil {
		t.Errorf("zero density should give nil, got %v", env)
	}
}

func TestNormalize(t *testing.T) {
	env := Normalize([]float64{0.25, -0.5, 0.1, 0})
	if env[1] != -1 || math.Abs(env[0]-0.5) > 1e-12 {
		t.Errorf("Normalize = %v", env)
	}
	silent := Normalize([]float64{0, 0})
	if silent[0] != 0 {
		t.Errorf("silent envelope changed: %v", silent)
	}
}
