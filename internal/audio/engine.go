package audio

import (
	"context"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
)

// Engine mixes scheduled voices into 20ms PCM frames. Its sample counter is
// the shared audio clock: every start time is expressed against it, and it
// only advances when a frame is rendered.
type Engine struct {
	frameCh chan []int16

	mu      sync.Mutex
	clock   int64 // samples rendered so far
	voices  []*Voice
	mix     [][2]float64
	scratch [][2]float64
}

// NewEngine creates an idle engine at clock zero.
func NewEngine() *Engine {
	return &Engine{
		frameCh: make(chan []int16, 100),
		mix:     make([][2]float64, FrameSize),
		scratch: make([][2]float64, FrameSize),
	}
}

// Frames returns the channel of outgoing PCM frames (20ms each).
func (e *Engine) Frames() <-chan []int16 {
	return e.frameCh
}

// Now returns the audio clock in seconds.
func (e *Engine) Now() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Seconds(e.clock)
}

// ActiveVoices returns the number of voices that are scheduled or sounding.
func (e *Engine) ActiveVoices() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.voices)
}

// VoiceOption configures a voice at schedule time.
type VoiceOption func(*Voice)

// WithGain scales the voice output.
func WithGain(g float64) VoiceOption {
	return func(v *Voice) { v.gain = g }
}

// WithFadeOut applies a linear fade that starts from seconds after the voice
// starts and reaches silence at to. The voice completes when the fade ends.
func WithFadeOut(from, to float64) VoiceOption {
	return func(v *Voice) {
		v.fadeFrom = Samples(from)
		v.fadeTo = Samples(to)
	}
}

// WithOnEnd registers fn to run after the voice finishes naturally. It is
// not called when the voice is stopped.
func WithOnEnd(fn func()) VoiceOption {
	return func(v *Voice) { v.onEnd = fn }
}

// Play schedules src to start at clock time at (seconds). A time already in
// the past starts on the next rendered frame.
func (e *Engine) Play(src beep.Streamer, at float64, opts ...VoiceOption) *Voice {
	v := newVoice(e, src, opts)

	e.mu.Lock()
	v.at = Samples(at)
	if v.at < e.clock {
		v.at = e.clock
	}
	e.voices = append(e.voices, v)
	e.mu.Unlock()
	return v
}

// Follow schedules src to start in the same frame, and at the same sample,
// where leader first produces output. If leader is stopped first, the
// follower is stopped with it.
func (e *Engine) Follow(leader *Voice, src beep.Streamer, opts ...VoiceOption) *Voice {
	v := newVoice(e, src, opts)

	e.mu.Lock()
	defer e.mu.Unlock()
	switch {
	case leader.finished && !leader.audible:
		v.finished = true
		v.closeStarted()
		v.closeDone()
	case leader.audible:
		// Leader is already sounding: join it at the current clock.
		v.at = e.clock
		e.voices = append(e.voices, v)
	default:
		leader.followers = append(leader.followers, v)
	}
	return v
}

// Step renders one frame, advances the clock and returns the interleaved
// PCM. Start and end notifications are delivered after the frame is mixed.
func (e *Engine) Step() []int16 {
	e.mu.Lock()
	start := e.clock
	end := start + FrameSize
	clear(e.mix)

	var began, ended []*Voice
	queue := e.voices
	next := make([]*Voice, 0, len(queue))
	for i := 0; i < len(queue); i++ {
		v := queue[i]
		if v.finished {
			continue
		}
		if v.at >= end {
			next = append(next, v)
			continue
		}

		wasAudible := v.audible
		e.render(v, start)
		if v.audible && !wasAudible {
			began = append(began, v)
			for _, f := range v.followers {
				f.at = v.at
				queue = append(queue, f)
			}
			v.followers = nil
		}
		if v.finished {
			v.completed = true
			ended = append(ended, v)
			continue
		}
		next = append(next, v)
	}
	e.voices = next
	e.clock = end

	frame := make([]int16, FrameSamples)
	FloatToPCM(e.mix, frame)
	e.mu.Unlock()

	for _, v := range began {
		v.closeStarted()
	}
	for _, v := range ended {
		v.closeStarted()
		v.closeDone()
		if v.onEnd != nil {
			v.onEnd()
		}
	}
	return frame
}

// render mixes the part of v that falls inside the frame starting at start.
// Must be called with mu held.
func (e *Engine) render(v *Voice, start int64) {
	lead := 0
	if v.at > start {
		lead = int(v.at - start)
	}
	buf := e.scratch[:FrameSize-lead]
	n, ok := v.src.Stream(buf)
	for i := 0; i < n; i++ {
		pos := start + int64(lead+i)
		g := v.gain
		if v.fadeTo > 0 {
			g *= LinearFade(pos, v.at+v.fadeFrom, v.at+v.fadeTo)
		}
		e.mix[lead+i][0] += buf[i][0] * g
		e.mix[lead+i][1] += buf[i][1] * g
	}
	if n > 0 {
		v.audible = true
	}
	if !ok || n < len(buf) {
		v.finished = true
	}
	if v.fadeTo > 0 && start+FrameSize >= v.at+v.fadeTo {
		v.finished = true
	}
	if v.finished && !v.audible {
		// Empty source: release anything waiting on it at its start sample.
		for _, f := range v.followers {
			f.finished = true
			f.closeStarted()
			f.closeDone()
		}
		v.followers = nil
	}
}

func (e *Engine) stop(v *Voice) {
	e.mu.Lock()
	if v.finished {
		e.mu.Unlock()
		return
	}
	v.finished = true
	for i, cur := range e.voices {
		if cur == v {
			e.voices = append(e.voices[:i], e.voices[i+1:]...)
			break
		}
	}
	followers := v.followers
	v.followers = nil
	for _, f := range followers {
		f.finished = true
	}
	e.mu.Unlock()

	v.closeStarted()
	v.closeDone()
	for _, f := range followers {
		f.closeStarted()
		f.closeDone()
	}
}

// Run renders frames at real-time rate until ctx is cancelled. Frames are
// offered to Frames() without blocking; when nobody drains the channel the
// clock still advances.
func (e *Engine) Run(ctx context.Context) {
	defer close(e.frameCh)

	ticker := time.NewTicker(FrameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		frame := e.Step()
		select {
		case e.frameCh <- frame:
		default:
		}
	}
}
