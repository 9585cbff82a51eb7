package audio

import (
	"sync"

	"github.com/gopxl/beep/v2"
)

// Voice is one scheduled source on an Engine. It is one-shot: once finished
// or stopped it never sounds again.
type Voice struct {
	engine *Engine
	src    beep.Streamer
	at     int64 // start sample on the engine clock
	gain   float64

	fadeFrom, fadeTo int64 // relative to at; fadeTo == 0 disables the fade

	followers []*Voice
	audible   bool
	finished  bool
	completed bool
	onEnd     func()

	started     chan struct{}
	done        chan struct{}
	startedOnce sync.Once
	doneOnce    sync.Once
}

func newVoice(e *Engine, src beep.Streamer, opts []VoiceOption) *Voice {
	v := &Voice{
		engine:  e,
		src:     src,
		gain:    1,
		started: make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Started is closed in the frame where the voice first produces output, or
// when it ends without ever doing so.
func (v *Voice) Started() <-chan struct{} {
	return v.started
}

// Done is closed when the voice finishes or is stopped.
func (v *Voice) Done() <-chan struct{} {
	return v.done
}

// Completed reports whether the voice played to its natural end.
func (v *Voice) Completed() bool {
	v.engine.mu.Lock()
	defer v.engine.mu.Unlock()
	return v.completed
}

// StartTime returns the voice's start on the audio clock in seconds.
func (v *Voice) StartTime() float64 {
	v.engine.mu.Lock()
	defer v.engine.mu.Unlock()
	return Seconds(v.at)
}

// Stop silences the voice immediately. End callbacks are not run.
func (v *Voice) Stop() {
	v.engine.stop(v)
}

func (v *Voice) closeStarted() {
	v.startedOnce.Do(func() { close(v.started) })
}

func (v *Voice) closeDone() {
	v.doneOnce.Do(func() { close(v.done) })
}
