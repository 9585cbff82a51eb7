package audio

import (
	"time"

	"github.com/gopxl/beep/v2"
)

const (
	SampleRate    = 48000
	Channels      = 2
	BitDepth      = 16
	FrameDuration = 20 * time.Millisecond
	FrameSize     = 960                  // samples per channel per 20ms frame
	FrameSamples  = FrameSize * Channels // total interleaved samples per frame
	FrameBytes    = FrameSamples * 2     // bytes per frame (int16 = 2 bytes)

	// ResampleQuality is the beep interpolation quality used for rate
	// conversion and speed changes.
	ResampleQuality = 4
)

// Rate is the engine sample rate as a beep.SampleRate.
const Rate = beep.SampleRate(SampleRate)

// Format is the in-memory format of every decoded clip.
var Format = beep.Format{
	SampleRate:  Rate,
	NumChannels: Channels,
	Precision:   BitDepth / 8,
}

// Samples converts seconds on the engine clock to a sample count.
func Samples(sec float64) int64 {
	return int64(sec*SampleRate + 0.5)
}

// Seconds converts a sample count on the engine clock to seconds.
func Seconds(n int64) float64 {
	return float64(n) / SampleRate
}
