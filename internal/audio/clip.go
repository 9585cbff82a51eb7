package audio

import (
	"fmt"
	"time"

	"github.com/gopxl/beep/v2"
)

// Clip is a fully decoded audio buffer at the engine sample rate.
type Clip struct {
	buf *beep.Buffer
}

// NewClip drains s into memory, resampling from format to the engine rate.
func NewClip(s beep.Streamer, format beep.Format) (*Clip, error) {
	if format.SampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", format.SampleRate)
	}
	if format.SampleRate != Rate {
		s = beep.Resample(ResampleQuality, format.SampleRate, Rate, s)
	}
	buf := beep.NewBuffer(Format)
	buf.Append(s)
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("drain stream: %w", err)
	}
	return &Clip{buf: buf}, nil
}

// ToneClip returns a clip holding a constant level on both channels. A zero
// level gives silence.
func ToneClip(d time.Duration, level float64) *Clip {
	remaining := Rate.N(d)
	buf := beep.NewBuffer(Format)
	buf.Append(beep.StreamerFunc(func(samples [][2]float64) (int, bool) {
		if remaining <= 0 {
			return 0, false
		}
		n := len(samples)
		if n > remaining {
			n = remaining
		}
		for i := 0; i < n; i++ {
			samples[i] = [2]float64{level, level}
		}
		remaining -= n
		return n, true
	}))
	return &Clip{buf: buf}
}

// Len returns the number of samples per channel.
func (c *Clip) Len() int {
	return c.buf.Len()
}

// Duration returns the clip length at normal speed.
func (c *Clip) Duration() time.Duration {
	return Rate.D(c.buf.Len())
}

// Seconds returns the clip length in seconds.
func (c *Clip) Seconds() float64 {
	return Seconds(int64(c.buf.Len()))
}

// Size approximates the memory held by the decoded samples.
func (c *Clip) Size() uint64 {
	return uint64(c.buf.Len()) * Channels * 8
}

// Streamer returns a one-shot streamer starting offset seconds into the clip,
// played at the given speed multiplier.
func (c *Clip) Streamer(offset, speed float64) beep.Streamer {
	from := int(Samples(offset))
	if from < 0 {
		from = 0
	}
	if from > c.buf.Len() {
		from = c.buf.Len()
	}
	s := beep.Streamer(c.buf.Streamer(from, c.buf.Len()))
	if speed > 0 && speed != 1 {
		s = beep.ResampleRatio(ResampleQuality, speed, s)
	}
	return s
}

// Loop returns an endless streamer repeating the clip.
func (c *Clip) Loop() beep.Streamer {
	return &loopStreamer{s: c.buf.Streamer(0, c.buf.Len())}
}

type loopStreamer struct {
	s beep.StreamSeeker
}

func (l *loopStreamer) Stream(samples [][2]float64) (int, bool) {
	if l.s.Len() == 0 {
		return 0, false
	}
	filled := 0
	for filled < len(samples) {
		n, ok := l.s.Stream(samples[filled:])
		filled += n
		if !ok || n == 0 {
			if err := l.s.Seek(0); err != nil {
				return filled, filled > 0
			}
		}
	}
	return filled, true
}

func (l *loopStreamer) Err() error {
	return l.s.Err()
}
