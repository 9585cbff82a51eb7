package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os/exec"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/wav"
)

// Decode reads an encoded audio payload and returns it as a clip at the
// engine rate. WAV and MP3 are decoded in-process; anything else goes
// through FFmpeg.
func Decode(ctx context.Context, data []byte) (*Clip, error) {
	switch sniff(data) {
	case "wav":
		s, format, err := wav.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("wav decode: %w", err)
		}
		defer s.Close()
		return NewClip(s, format)
	case "mp3":
		s, format, err := mp3.Decode(io.NopCloser(bytes.NewReader(data)))
		if err != nil {
			return nil, fmt.Errorf("mp3 decode: %w", err)
		}
		defer s.Close()
		return NewClip(s, format)
	default:
		samples, err := DecodeFFmpeg(ctx, data)
		if err != nil {
			return nil, err
		}
		return NewClip(pcmStreamer(samples), Format)
	}
}

func sniff(data []byte) string {
	switch {
	case len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE":
		return "wav"
	case len(data) >= 3 && string(data[0:3]) == "ID3":
		return "mp3"
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return "mp3"
	default:
		return ""
	}
}

// DecodeFFmpeg runs FFmpeg over an in-memory payload and returns raw PCM
// int16 samples, interleaved stereo at 48kHz.
func DecodeFFmpeg(ctx context.Context, data []byte) ([]int16, error) {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-i", "pipe:0",
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ar", "48000",
		"-ac", "2",
		"-loglevel", "error",
		"pipe:1",
	)
	cmd.Stdin = bytes.NewReader(data)

	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg decode: %w", err)
	}

	// Ensure even byte count for int16 alignment
	if len(out)%2 != 0 {
		out = out[:len(out)-1]
	}

	samples := make([]int16, len(out)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(out[i*2 : i*2+2]))
	}

	return samples, nil
}

// pcmStreamer exposes interleaved stereo int16 samples as a beep streamer.
func pcmStreamer(samples []int16) beep.Streamer {
	pos := 0
	return beep.StreamerFunc(func(dst [][2]float64) (int, bool) {
		if pos+Channels > len(samples) {
			return 0, false
		}
		n := 0
		for n < len(dst) && pos+Channels <= len(samples) {
			dst[n][0] = float64(samples[pos]) / 32768
			dst[n][1] = float64(samples[pos+1]) / 32768
			pos += Channels
			n++
		}
		return n, true
	})
}

// SamplesToBytes converts int16 samples to little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}
