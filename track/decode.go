package track

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"path"
	"strconv"
	"strings"

	"github.com/disgoorg/ffmpeg-audio"
	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/wav"
)

// ErrUnsupportedFormat is returned when no decoder handles a file.
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// Decoder turns an encoded stream into a Track.
type Decoder struct {
	// FFmpeg is the executable used for formats beep cannot decode natively.
	// Empty disables the fallback.
	FFmpeg string
}

// Decode reads rc fully and returns the decoded track. The decoder is picked
// from the extension of name. rc is always closed.
func (d Decoder) Decode(ctx context.Context, name string, rc io.ReadCloser) (*Track, error) {
	ext := strings.ToLower(path.Ext(name))
	switch ext {
	case ".mp3":
		streamer, format, err := mp3.Decode(rc)
		if err != nil {
			rc.Close()
			return nil, fmt.Errorf("failed to decode MP3 %s: %w", name, err)
		}
		return drain(name, streamer, format)
	case ".wav":
		defer rc.Close()
		streamer, format, err := wav.Decode(rc)
		if err != nil {
			return nil, fmt.Errorf("failed to decode WAV %s: %w", name, err)
		}
		return drain(name, streamer, format)
	}

	if d.FFmpeg == "" {
		rc.Close()
		return nil, fmt.Errorf("%s: %w", name, ErrUnsupportedFormat)
	}
	defer rc.Close()
	return d.DecodeFFmpeg(ctx, name, rc)
}

func drain(name string, streamer beep.StreamSeekCloser, format beep.Format) (*Track, error) {
	defer streamer.Close()

	buf := beep.NewBuffer(format)
	buf.Append(streamer)
	if err := streamer.Err(); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", name, err)
	}
	if buf.Len() == 0 {
		return nil, fmt.Errorf("decoded %s is empty", name)
	}
	return New(name, buf), nil
}

// DecodeFFmpeg pipes r through ffmpeg to interleaved s16le stereo PCM.
func (d Decoder) DecodeFFmpeg(ctx context.Context, name string, r io.Reader) (*Track, error) {
	cfg := ffmpeg.DefaultConfig()
	cfg.Exec = d.FFmpeg

	cmd := exec.CommandContext(ctx, cfg.Exec,
		"-i", "pipe:0",
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-ac", "2",
		"-loglevel", "error",
		"pipe:1",
	)
	cmd.Stdin = r
	pipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	frames, readErr := readPCM(bufio.NewReaderSize(pipe, cfg.BufferSize))
	if err := cmd.Wait(); err != nil {
		return nil, fmt.Errorf("ffmpeg decode %s: %w", name, err)
	}
	if readErr != nil {
		return nil, fmt.Errorf("ffmpeg decode %s: %w", name, readErr)
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("decoded %s is empty", name)
	}
	return FromSamples(name, cfg.SampleRate, frames), nil
}

// readPCM converts interleaved little-endian int16 stereo into frames.
func readPCM(r io.Reader) ([][2]float64, error) {
	var frames [][2]float64
	buf := make([]byte, 4096)
	var carry []byte
	for {
		n, err := r.Read(buf)
		data := append(carry, buf[:n]...)
		whole := len(data) / 4 * 4
		for i := 0; i < whole; i += 4 {
			left := int16(binary.LittleEndian.Uint16(data[i:]))
			right := int16(binary.LittleEndian.Uint16(data[i+2:]))
			frames = append(frames, [2]float64{float64(left) / 32768, float64(right) / 32768})
		}
		carry = append(carry[:0], data[whole:]...)
		if errors.Is(err, io.EOF) {
			return frames, nil
		}
		if err != nil {
			return frames, err
		}
	}
}
