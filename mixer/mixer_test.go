package mixer

import (
	"context"
	"errors"
	"io"
	"math"
	"sync"
	"testing"

	"beatdeck/beatgrid"
	"beatdeck/playback"
	"beatdeck/render"
	"beatdeck/track"
	"beatdeck/transport"
)

const testRate = 11025

type missingOpener struct{}

func (missingOpener) Open(context.Context, string) (io.ReadCloser, error) {
	return nil, errors.New("no such file")
}

func kicks(seconds, bpm float64) [][2]float64 {
	frames := make([][2]float64, int(seconds*testRate))
	burst := int(0.08 * testRate)
	for t := 0.3; t < seconds; t += 60 / bpm {
		start := int(math.Round(t * testRate))
		for i := 0; i < burst && start+i < len(frames); i++ {
			tt := float64(i) / testRate
			v := 0.9 * math.Sin(2*math.Pi*60*tt) * math.Exp(-tt/0.015)
			frames[start+i] = [2]float64{v, v}
		}
	}
	return frames
}

type fixture struct {
	out   *playback.Output
	cache *track.Cache
	sched *render.Scheduler
	reg   *Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	out, err := playback.NewOutput(playback.OutputConfig{SampleRate: testRate, Device: playback.DeviceNull})
	if err != nil {
		t.Fatalf("NewOutput: %v", err)
	}
	t.Cleanup(func() { out.Close() })

	cache := track.NewCache(missingOpener{}, track.Decoder{}, 8)
	cache.Put(track.FromSamples("kick128.wav", testRate, kicks(20, 128)))
	cache.Put(track.FromSamples("kick120.wav", testRate, kicks(20, 120)))
	cache.Put(track.FromSamples("silence.wav", testRate, make([][2]float64, testRate*2)))

	sched := render.NewScheduler(60, nil, nil)
	reg := NewRegistry(out, cache, sched, Options{Detector: beatgrid.DefaultOptions()})
	t.Cleanup(reg.Close)
	return &fixture{out: out, cache: cache, sched: sched, reg: reg}
}

func TestRegistryCreate(t *testing.T) {
	f := newFixture(t)
	if _, err := f.reg.Create("deck1"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.reg.Create("deck2"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.reg.Create("deck1"); !errors.Is(err, ErrDeckExists) {
		t.Errorf("duplicate Create = %v, want ErrDeckExists", err)
	}
	if _, err := f.reg.Deck("deck9"); !errors.Is(err, ErrDeckNotFound) {
		t.Errorf("Deck(deck9) = %v, want ErrDeckNotFound", err)
	}

	decks := f.reg.Decks()
	if len(decks) != 2 || decks[0].ID() != "deck1" || decks[1].ID() != "deck2" {
		t.Errorf("Decks order wrong")
	}

	if err := f.reg.Dispose("deck1"); err != nil {
		t.Fatal(err)
	}
	if err := f.reg.Dispose("deck1"); !errors.Is(err, ErrDeckNotFound) {
		t.Errorf("second Dispose = %v, want ErrDeckNotFound", err)
	}
	if len(f.reg.Decks()) != 1 {
		t.Error("disposed deck still listed")
	}
}

func TestDeckLoad(t *testing.T) {
	f := newFixture(t)
	d, _ := f.reg.Create("deck1")

	res, err := d.Load(context.Background(), "kick128.wav")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if math.Abs(res.Tempo-128) > 0.5 || res.InitialFileName != "kick128.wav" {
		t.Errorf("result = %+v", res)
	}

	info := d.Info()
	if info.Status != transport.Loaded || info.InitialTempo != res.Tempo || info.Title != "kick128" {
		t.Errorf("info = %+v", info)
	}
	if math.Abs(info.Duration-20) > 1e-3 {
		t.Errorf("Duration = %v", info.Duration)
	}
	if len(d.Waveform()) == 0 || d.Grid() == nil || d.Track() == nil {
		t.Error("derived data missing after load")
	}
	var top float64
	for _, v := range d.Waveform() {
		top = math.Max(top, math.Abs(v))
	}
	if math.Abs(top-1) > 1e-9 {
		t.Errorf("waveform peak = %v, want normalised to 1", top)
	}
	if !f.sched.Attached("deck1") {
		t.Error("timeline not attached")
	}
}

func TestDeckLoadFailure(t *testing.T) {
	tests := []struct {
		name string
		file string
		want error
	}{
		{"no peaks", "silence.wav", beatgrid.ErrNoPeaksDetected},
		{"unopenable", "missing.mp3", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			d, _ := f.reg.Create("deck1")

			if _, err := d.Load(context.Background(), "kick128.wav"); err != nil {
				t.Fatal(err)
			}
			d.Play()

			_, err := d.Load(context.Background(), tt.file)
			var lerr *LoadError
			if !errors.As(err, &lerr) || lerr.Deck != "deck1" || lerr.File != tt.file {
				t.Fatalf("err = %v, want *LoadError", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want wrapping %v", err, tt.want)
			}

			info := d.Info()
			if info.Status != transport.Error || info.Error == "" {
				t.Errorf("info = %+v, want error status", info)
			}
			if d.Grid() != nil || d.Waveform() != nil || d.Track() != nil || info.File != "" {
				t.Error("previous track not torn down")
			}
			f.out.Render(make([][2]float64, 64))
			if n := f.out.Sources(); n != 0 {
				t.Errorf("sources after failed load = %d, want 0", n)
			}
			if f.sched.Attached("deck1") {
				t.Error("timeline still attached")
			}
		})
	}
}

func TestDeckPlaySingleSource(t *testing.T) {
	f := newFixture(t)
	d, _ := f.reg.Create("deck1")
	d.Load(context.Background(), "kick128.wav")

	if err := d.Play(); err != nil {
		t.Fatal(err)
	}
	d.Play()
	d.Seek(0.5)
	d.ChangeTempo(140)
	f.out.Render(make([][2]float64, 64))
	if n := f.out.Sources(); n != 1 {
		t.Errorf("sources = %d, want 1", n)
	}
	if info := d.Info(); info.Status != transport.Playing || info.CurrentTempo != 140 {
		t.Errorf("info = %+v", info)
	}
	if !d.SourceActive() {
		t.Error("playing deck has no active source")
	}

	d.Pause()
	f.out.Render(make([][2]float64, 64))
	if n := f.out.Sources(); n != 0 {
		t.Errorf("sources after pause = %d, want 0", n)
	}
	if d.SourceActive() {
		t.Error("paused deck still has an active source")
	}
}

func TestDeckEffects(t *testing.T) {
	f := newFixture(t)
	d, _ := f.reg.Create("deck1")

	d.SetBassGain(50)
	d.SetMidGain(-3)
	d.SetTrebleGain(-100)
	s := d.SetColorFX(1e6, 0, 0.25)
	if s.Bass != playback.MaxEQGain || s.Mid != -3 || s.Treble != playback.MinEQGain {
		t.Errorf("EQ = %+v", s)
	}
	if s.Color.Frequency != playback.MaxFreq || s.Color.Resonance != playback.MinQ || s.Color.Mix != 0.25 {
		t.Errorf("color = %+v", s.Color)
	}
	if got := d.Info().Effects; got != s {
		t.Errorf("Info effects = %+v, want %+v", got, s)
	}
}

func TestSyncTempo(t *testing.T) {
	f := newFixture(t)
	a, _ := f.reg.Create("deck1")
	b, _ := f.reg.Create("deck2")

	if _, err := f.reg.SyncTempo("deck1", "deck2"); !errors.Is(err, ErrNoTempo) {
		t.Errorf("sync from empty deck = %v, want ErrNoTempo", err)
	}

	a.Load(context.Background(), "kick128.wav")
	b.Load(context.Background(), "kick120.wav")
	a.ChangeTempo(132)

	bpm, err := f.reg.SyncTempo("deck1", "deck2")
	if err != nil {
		t.Fatalf("SyncTempo: %v", err)
	}
	if bpm != 132 {
		t.Errorf("bpm = %v, want 132", bpm)
	}
	info := b.Info()
	if info.CurrentTempo != 132 {
		t.Errorf("deck2 tempo = %v, want 132", info.CurrentTempo)
	}
	if b.InitialTempo() == 132 {
		t.Error("sync changed the detected tempo")
	}
	if _, err := f.reg.SyncTempo("deck1", "deck7"); !errors.Is(err, ErrDeckNotFound) {
		t.Errorf("sync to unknown deck = %v", err)
	}
}

func TestSubscribe(t *testing.T) {
	f := newFixture(t)
	var mu sync.Mutex
	var got []EventType
	cancel := f.reg.Subscribe(func(ev Event) {
		mu.Lock()
		got = append(got, ev.Type)
		mu.Unlock()
	})

	d, _ := f.reg.Create("deck1")
	d.Load(context.Background(), "kick128.wav")
	d.SetGain(-6)
	cancel()
	cancel()
	d.Play()

	mu.Lock()
	defer mu.Unlock()
	want := []EventType{EventDeckCreated, EventState, EventState, EventLoaded, EventEffect}
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %v, want %v", i, got[i], want[i])
		}
	}
}
