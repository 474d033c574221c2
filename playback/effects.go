package playback

import (
	"math"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
)

// Effect limits.
const (
	MinEQGain   = -40.0
	MaxEQGain   = 12.0
	MinDeckGain = -60.0
	MaxDeckGain = 6.0
	MinFreq     = 20.0
	MaxFreq     = 20000.0
	MinQ        = 0.1
	MaxQ        = 25.0

	// wet gain at mix 0 and mix 1
	minWetDB = -100.0
	maxWetDB = 20.0
)

// Band centres and widths of the three-band equaliser, in Hz.
var (
	bassBand   = [2]float64{80, 120}
	midBand    = [2]float64{1000, 1400}
	trebleBand = [2]float64{6000, 6000}
)

// Settings are the effect parameters of one deck. They outlive individual
// sources, so a restarted source picks up the current values.
type Settings struct {
	Bass   float64 `json:"bass"`
	Mid    float64 `json:"mid"`
	Treble float64 `json:"treble"`
	Color  ColorFX `json:"color"`
	Gain   float64 `json:"gain"`
}

// DefaultSettings is a flat EQ, colour effect fully dry and unity gain.
func DefaultSettings() Settings {
	return Settings{Color: ColorFX{Frequency: 1000, Resonance: 1}}
}

// Effect is one of BassGain, MidGain, TrebleGain, ColorFX or DeckGain.
type Effect interface {
	Kind() string
	apply(s *Settings)
}

// BassGain sets the low band gain in dB.
type BassGain struct{ DB float64 }

// MidGain sets the mid band gain in dB.
type MidGain struct{ DB float64 }

// TrebleGain sets the high band gain in dB.
type TrebleGain struct{ DB float64 }

// DeckGain sets the overall deck gain in dB.
type DeckGain struct{ DB float64 }

// ColorFX is a resonant band effect blended over the dry signal. Mix 0 is
// fully dry.
type ColorFX struct {
	Frequency float64 `json:"frequency"`
	Resonance float64 `json:"resonance"`
	Mix       float64 `json:"mix"`
}

func (BassGain) Kind() string   { return "bass" }
func (MidGain) Kind() string    { return "mid" }
func (TrebleGain) Kind() string { return "treble" }
func (DeckGain) Kind() string   { return "gain" }
func (ColorFX) Kind() string    { return "color" }

func (e BassGain) apply(s *Settings)   { s.Bass = clamp(e.DB, MinEQGain, MaxEQGain) }
func (e MidGain) apply(s *Settings)    { s.Mid = clamp(e.DB, MinEQGain, MaxEQGain) }
func (e TrebleGain) apply(s *Settings) { s.Treble = clamp(e.DB, MinEQGain, MaxEQGain) }
func (e DeckGain) apply(s *Settings)   { s.Gain = clamp(e.DB, MinDeckGain, MaxDeckGain) }

func (e ColorFX) apply(s *Settings) {
	s.Color = ColorFX{
		Frequency: clamp(e.Frequency, MinFreq, MaxFreq),
		Resonance: clamp(e.Resonance, MinQ, MaxQ),
		Mix:       clamp(e.Mix, 0, 1),
	}
}

// WetDB maps the mix amount to the wet path gain.
func (c ColorFX) WetDB() float64 {
	return minWetDB + c.Mix*(maxWetDB-minWetDB)
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Min(math.Max(v, lo), hi)
}

// section builds a peaking band, keeping the band edge gain between the
// reference and peak gains as the equaliser requires.
func section(sr beep.SampleRate, f0, bw, gain float64) (effects.MonoEqualizerSection, bool) {
	if math.Abs(gain) < 1e-6 {
		return effects.MonoEqualizerSection{}, false
	}
	nyq := float64(sr) * 0.45
	return effects.MonoEqualizerSection{
		F0: math.Min(f0, nyq),
		Bf: math.Min(bw, nyq),
		GB: gain / 2,
		G0: 0,
		G:  gain,
	}, true
}

// bandPass builds a unity-gain band at f0 with half-power width bw. Outside
// the band the response falls to the wet floor.
func bandPass(sr beep.SampleRate, f0, bw float64) effects.MonoEqualizerSection {
	nyq := float64(sr) * 0.45
	return effects.MonoEqualizerSection{
		F0: math.Min(f0, nyq),
		Bf: math.Min(bw, nyq),
		GB: -3,
		G0: minWetDB,
		G:  0,
	}
}

// eqStage is the three-band equaliser. The inner filter is rebuilt when the
// gains change; with all bands flat the signal passes straight through.
type eqStage struct {
	src   beep.Streamer
	sr    beep.SampleRate
	inner beep.Streamer
}

func newEQStage(src beep.Streamer, sr beep.SampleRate, s Settings) *eqStage {
	e := &eqStage{src: src, sr: sr}
	e.set(s)
	return e
}

func (e *eqStage) set(s Settings) {
	var sections effects.MonoEqualizerSections
	for _, b := range []struct {
		band [2]float64
		gain float64
	}{{bassBand, s.Bass}, {midBand, s.Mid}, {trebleBand, s.Treble}} {
		if sec, ok := section(e.sr, b.band[0], b.band[1], b.gain); ok {
			sections = append(sections, sec)
		}
	}
	if len(sections) == 0 {
		e.inner = e.src
		return
	}
	e.inner = effects.NewEqualizer(e.src, e.sr, sections)
}

func (e *eqStage) Stream(samples [][2]float64) (int, bool) { return e.inner.Stream(samples) }

func (e *eqStage) Err() error { return e.src.Err() }

// tap replays the frames most recently captured from the dry path.
type tap struct {
	frames [][2]float64
}

func (t *tap) Stream(samples [][2]float64) (int, bool) {
	n := copy(samples, t.frames)
	t.frames = t.frames[n:]
	return n, true
}

func (t *tap) Err() error { return nil }

// colorStage sums the dry signal scaled by 1-mix with a band-passed copy at
// the wet gain. Only the band around Frequency is boosted; the rest of the
// wet copy sits at the floor.
type colorStage struct {
	src beep.Streamer
	sr  beep.SampleRate
	tap *tap
	wet *effects.Volume
	dry float64
	buf [][2]float64
}

func newColorStage(src beep.Streamer, sr beep.SampleRate, c ColorFX) *colorStage {
	cs := &colorStage{src: src, sr: sr, tap: &tap{}}
	cs.set(c)
	return cs
}

func (c *colorStage) set(fx ColorFX) {
	bw := fx.Frequency / math.Max(fx.Resonance, MinQ)
	band := effects.NewEqualizer(c.tap, c.sr, effects.MonoEqualizerSections{bandPass(c.sr, fx.Frequency, bw)})
	c.wet = &effects.Volume{
		Streamer: band,
		Base:     10,
		Volume:   fx.WetDB() / 20,
		Silent:   fx.Mix <= 0,
	}
	c.dry = 1 - fx.Mix
}

func (c *colorStage) Stream(samples [][2]float64) (int, bool) {
	n, ok := c.src.Stream(samples)
	if n == 0 {
		return n, ok
	}
	if cap(c.buf) < n {
		c.buf = make([][2]float64, n)
	}
	wet := c.buf[:n]
	c.tap.frames = samples[:n]
	w, _ := c.wet.Stream(wet)
	c.tap.frames = nil
	for i := 0; i < n; i++ {
		samples[i][0] *= c.dry
		samples[i][1] *= c.dry
		if i < w {
			samples[i][0] += wet[i][0]
			samples[i][1] += wet[i][1]
		}
	}
	return n, ok
}

func (c *colorStage) Err() error { return c.src.Err() }

func deckVolume(src beep.Streamer, db float64) *effects.Volume {
	v := &effects.Volume{Streamer: src, Base: 10}
	setDeckVolume(v, db)
	return v
}

func setDeckVolume(v *effects.Volume, db float64) {
	v.Volume = db / 20
	v.Silent = db <= MinDeckGain
}
