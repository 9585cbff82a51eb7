package track

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/satindergrewal/reelpreview/internal/audio"
)

// DefaultMusicGain is the background music level under narration.
const DefaultMusicGain = 0.15

// ErrNoMusic is returned when music is started before any was loaded.
var ErrNoMusic = errors.New("no music loaded")

// Fade describes how the music bed plays relative to the narration it
// follows. End is measured from the music start; zero loops until stopped.
type Fade struct {
	Gain     float64
	End      float64
	Duration float64
}

// LoadMusic fetches and decodes the background track, replacing any
// previously loaded one.
func (t *Track) LoadMusic(ctx context.Context, ref string) error {
	clip, err := t.loader.Load(ctx, ref)
	if err != nil {
		return fmt.Errorf("load music: %w", err)
	}
	t.SetMusic(clip)
	return nil
}

// SetMusic installs an already decoded music clip.
func (t *Track) SetMusic(clip *audio.Clip) {
	t.mu.Lock()
	t.music = clip
	t.mu.Unlock()
}

// HasMusic reports whether a music clip is loaded.
func (t *Track) HasMusic() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.music != nil
}

// StartMusicWith starts the looping music bed in the same frame and at the
// same sample where u first produces output. Any music already playing is
// stopped first.
func (t *Track) StartMusicWith(u *Unit, fade Fade) (*audio.Voice, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.music == nil {
		return nil, ErrNoMusic
	}
	if t.musicVoice != nil {
		t.musicVoice.Stop()
		t.musicVoice = nil
	}

	gain := fade.Gain
	if gain <= 0 {
		gain = DefaultMusicGain
	}
	opts := []audio.VoiceOption{audio.WithGain(gain)}
	if fade.End > 0 {
		from := fade.End - fade.Duration
		if from < 0 {
			from = 0
		}
		opts = append(opts, audio.WithFadeOut(from, fade.End))
	}

	v := t.engine.Follow(u.voice, t.music.Loop(), opts...)
	t.musicVoice = v
	return v, nil
}

// StopMusic silences the music bed immediately. It is idempotent.
func (t *Track) StopMusic() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.musicVoice != nil {
		t.musicVoice.Stop()
		t.musicVoice = nil
	}
}

// Tone plays a steady reference tone of the given length and level starting
// on the next frame. The returned channel closes when it ends. It is not a
// unit and is unaffected by StopAll.
func (t *Track) Tone(d time.Duration, level float64) <-chan struct{} {
	clip := audio.ToneClip(d, level)
	return t.engine.Play(clip.Streamer(0, 1), t.engine.Now()).Done()
}
