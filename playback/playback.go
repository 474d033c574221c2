// Package playback is the audio output graph: one process-wide sink that every
// deck's node chain feeds into.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/speaker"

	"beatdeck/clock"
)

// Output devices.
const (
	DeviceSpeaker = "speaker"
	DeviceNull    = "null"
)

// ErrClosed is returned once the output has been closed.
var ErrClosed = errors.New("output is closed")

// OutputConfig selects the device and format of the sink.
type OutputConfig struct {
	SampleRate      int
	Buffer          time.Duration
	Device          string
	ResampleQuality int
}

// Output is the shared sink. Deck graphs attach their chains to its mixer.
type Output struct {
	mixer      *beep.Mixer
	ctrl       *beep.Ctrl
	mu         sync.Mutex
	sampleRate beep.SampleRate
	device     string
	quality    int
	clock      *clock.Frames
	closed     bool
	logger     *slog.Logger
}

// NewOutput creates the sink and, for the speaker device, starts playing it.
// The null device produces nothing until Run or Render pulls from it.
func NewOutput(cfg OutputConfig) (*Output, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", cfg.SampleRate)
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 100 * time.Millisecond
	}
	if cfg.ResampleQuality < 1 || cfg.ResampleQuality > 64 {
		cfg.ResampleQuality = 4
	}
	if cfg.Device == "" {
		cfg.Device = DeviceSpeaker
	}

	sampleRate := beep.SampleRate(cfg.SampleRate)
	mixer := &beep.Mixer{}
	// keeps the mixer producing silence while no deck is playing
	mixer.Add(beep.Silence(-1))

	frames := clock.NewFrames(cfg.SampleRate)
	o := &Output{
		mixer:      mixer,
		ctrl:       &beep.Ctrl{Streamer: &counter{Streamer: mixer, clock: frames}},
		clock:      frames,
		sampleRate: sampleRate,
		device:     cfg.Device,
		quality:    cfg.ResampleQuality,
		logger:     slog.With("component", "output", "device", cfg.Device),
	}

	switch cfg.Device {
	case DeviceSpeaker:
		if err := speaker.Init(sampleRate, sampleRate.N(cfg.Buffer)); err != nil {
			return nil, fmt.Errorf("failed to initialize speaker: %w", err)
		}
		speaker.Play(o.ctrl)
	case DeviceNull:
	default:
		return nil, fmt.Errorf("unknown output device %q", cfg.Device)
	}

	o.logger.Info("Audio output ready", slog.Int("sample_rate", cfg.SampleRate))
	return o, nil
}

// SampleRate is the rate every attached chain must produce.
func (o *Output) SampleRate() beep.SampleRate {
	return o.sampleRate
}

// Clock returns the audio clock transports measure playback against. It
// advances only as the device pulls frames.
func (o *Output) Clock() clock.Clock {
	return o.clock
}

// Lock guards mutation of attached nodes against the audio thread.
func (o *Output) Lock() {
	if o.device == DeviceSpeaker {
		speaker.Lock()
		return
	}
	o.mu.Lock()
}

// Unlock releases Lock.
func (o *Output) Unlock() {
	if o.device == DeviceSpeaker {
		speaker.Unlock()
		return
	}
	o.mu.Unlock()
}

// counter advances the audio clock by every frame the device pulls.
type counter struct {
	beep.Streamer
	clock *clock.Frames
}

func (c *counter) Stream(samples [][2]float64) (int, bool) {
	n, ok := c.Streamer.Stream(samples)
	c.clock.Add(n)
	return n, ok
}

// attach adds a chain to the mix. The caller holds Lock.
func (o *Output) attach(s beep.Streamer) error {
	if o.closed {
		return ErrClosed
	}
	o.mixer.Add(s)
	return nil
}

// Sources counts the attached chains, not counting the silence bed.
func (o *Output) Sources() int {
	o.Lock()
	defer o.Unlock()
	return o.mixer.Len() - 1
}

// Render pulls len(samples) frames through the mix. It drives the null device
// and offline rendering.
func (o *Output) Render(samples [][2]float64) int {
	o.Lock()
	defer o.Unlock()
	if o.closed {
		return 0
	}
	n, _ := o.ctrl.Stream(samples)
	return n
}

// Run drains the null device in real time until ctx is done. For the speaker
// it only waits, since the speaker pulls on its own.
func (o *Output) Run(ctx context.Context) error {
	if o.device != DeviceNull {
		<-ctx.Done()
		return nil
	}

	const period = 20 * time.Millisecond
	samples := make([][2]float64, o.sampleRate.N(period))
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			o.Render(samples)
		}
	}
}

// Close detaches every chain and releases the device.
func (o *Output) Close() error {
	o.Lock()
	if o.closed {
		o.Unlock()
		return nil
	}
	o.closed = true
	o.mixer.Clear()
	o.Unlock()

	if o.device == DeviceSpeaker {
		speaker.Clear()
		speaker.Close()
	}
	o.logger.Info("Audio output closed")
	return nil
}
