package track

import (
	"github.com/satindergrewal/reelpreview/internal/audio"
	"github.com/satindergrewal/reelpreview/internal/segment"
)

// Unit is one scheduled, one-shot playback of a segment. It lives from
// scheduling until natural completion or a stop.
type Unit struct {
	Segment segment.Segment

	voice  *audio.Voice
	offset float64 // seconds into the segment where playback starts
	rate   float64
	start  float64 // audio clock
	end    float64 // audio clock
}

// Started is closed in the engine frame where the unit first produces
// output.
func (u *Unit) Started() <-chan struct{} {
	return u.voice.Started()
}

// Done is closed when the unit completes or is stopped.
func (u *Unit) Done() <-chan struct{} {
	return u.voice.Done()
}

// Completed reports whether the unit played to its natural end. Only valid
// after Done is closed.
func (u *Unit) Completed() bool {
	return u.voice.Completed()
}

// Stopped reports whether the unit has ended without playing to its end.
func (u *Unit) Stopped() bool {
	select {
	case <-u.Done():
		return !u.Completed()
	default:
		return false
	}
}

// StartTime returns the unit's start on the audio clock.
func (u *Unit) StartTime() float64 {
	return u.start
}

// EndTime returns the audio clock time at which the unit ends.
func (u *Unit) EndTime() float64 {
	return u.end
}

// Position maps an audio clock time to a timeline position inside the
// unit's segment, clamped to the segment bounds.
func (u *Unit) Position(clock float64) float64 {
	elapsed := (clock - u.start) * u.rate
	if elapsed < 0 {
		elapsed = 0
	}
	pos := u.Segment.Start + u.offset + elapsed
	if end := u.Segment.End(); pos > end {
		pos = end
	}
	return pos
}

func (u *Unit) containsClock(clock float64) bool {
	return clock >= u.start && clock < u.end
}
