package track

import (
	"context"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gopxl/beep/v2/wav"
)

func sine(sampleRate int, seconds, freq float64) [][2]float64 {
	n := int(seconds * float64(sampleRate))
	frames := make([][2]float64, n)
	for i := range frames {
		v := 0.5 * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate))
		frames[i] = [2]float64{v, v}
	}
	return frames
}

func TestFromSamples(t *testing.T) {
	tr := FromSamples("tone", 8000, sine(8000, 2, 440))
	if tr.Len() != 16000 {
		t.Fatalf("Len() = %d, want 16000", tr.Len())
	}
	if d := tr.Duration(); d != 2 {
		t.Errorf("Duration() = %v, want 2", d)
	}
	if got := tr.FrameAt(-1); got != 0 {
		t.Errorf("FrameAt(-1) = %d, want 0", got)
	}
	if got := tr.FrameAt(10); got != 16000 {
		t.Errorf("FrameAt(10) = %d, want 16000", got)
	}
	if got := tr.FrameAt(0.5); got != 4000 {
		t.Errorf("FrameAt(0.5) = %d, want 4000", got)
	}
}

func TestStreamerStartsAtOffset(t *testing.T) {
	frames := make([][2]float64, 100)
	for i := range frames {
		frames[i] = [2]float64{float64(i) / 100, 0}
	}
	tr := FromSamples("ramp", 100, frames)
	s := tr.Streamer(0.25)

	buf := make([][2]float64, 10)
	n, ok := s.Stream(buf)
	if !ok || n != 10 {
		t.Fatalf("Stream() = %d, %v", n, ok)
	}
	if math.Abs(buf[0][0]-0.25) > 1e-3 {
		t.Errorf("first sample = %v, want 0.25", buf[0][0])
	}
}

type dirOpener string

func (d dirOpener) Open(_ context.Context, name string) (io.ReadCloser, error) {
	return os.Open(filepath.Join(string(d), name))
}

func writeWAV(t *testing.T, dir, name string, tr *Track) {
	t.Helper()
	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := wav.Encode(f, tr.Streamer(0), tr.Format); err != nil {
		t.Fatalf("wav.Encode: %v", err)
	}
}

func TestCacheDecodesWAV(t *testing.T) {
	dir := t.TempDir()
	writeWAV(t, dir, "tone.wav", FromSamples("tone", 22050, sine(22050, 1, 220)))

	c := NewCache(dirOpener(dir), Decoder{}, 2)
	tr, err := c.Load(context.Background(), "tone.wav")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if tr.SampleRate() != 22050 {
		t.Errorf("SampleRate = %d, want 22050", tr.SampleRate())
	}
	if math.Abs(tr.Duration()-1) > 1e-3 {
		t.Errorf("Duration = %v, want 1", tr.Duration())
	}
	if c.Len() != 1 {
		t.Errorf("cache Len = %d, want 1", c.Len())
	}

	again, err := c.Load(context.Background(), "tone.wav")
	if err != nil {
		t.Fatalf("second Load: %v", err)
	}
	if again != tr {
		t.Error("second Load should return the cached track")
	}
}

func TestCacheEvictsOldest(t *testing.T) {
	c := NewCache(dirOpener(t.TempDir()), Decoder{}, 2)
	for _, name := range []string{"a", "b", "c"} {
		c.Put(FromSamples(name, 100, make([][2]float64, 10)))
	}
	if _, ok := c.Get("a"); ok {
		t.Error("oldest entry should be evicted")
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("newest entry missing")
	}
	c.Forget("c")
	if c.Len() != 1 {
		t.Errorf("Len = %d after Forget, want 1", c.Len())
	}
}

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewCache(dirOpener(t.TempDir()), Decoder{}, 2)
	c.Put(FromSamples("a", 100, make([][2]float64, 10)))
	c.Put(FromSamples("b", 100, make([][2]float64, 10)))
	c.Get("a")
	c.Put(FromSamples("c", 100, make([][2]float64, 10)))

	if _, ok := c.Get("b"); ok {
		t.Error("least recently used entry should be evicted")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("recently read entry was evicted")
	}
}

func TestDecodeUnsupported(t *testing.T) {
	_, err := Decoder{}.Decode(context.Background(), "clip.flac", io.NopCloser(strings.NewReader("x")))
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("err = %v, want ErrUnsupportedFormat", err)
	}
}

func TestReadPCM(t *testing.T) {
	// two frames: (16384, -16384), (0, 32767) split across reads
	data := []byte{0x00, 0x40, 0x00, 0xc0, 0x00, 0x00, 0xff, 0x7f}
	frames, err := readPCM(&oneByteReader{data: data})
	if err != nil {
		t.Fatalf("readPCM: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	if frames[0][0] != 0.5 || frames[0][1] != -0.5 {
		t.Errorf("frame 0 = %v", frames[0])
	}
}

type oneByteReader struct {
	data []byte
}

func (r *oneByteReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	p[0] = r.data[0]
	r.data = r.data[1:]
	return 1, nil
}
