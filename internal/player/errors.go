package player

import (
	"errors"
	"fmt"
)

var (
	// ErrBusy is returned for table edits while a session is preparing.
	ErrBusy = errors.New("player is preparing")
	// ErrNoScenes is returned when the timeline is empty.
	ErrNoScenes = errors.New("timeline has no scenes")
	// ErrUnitStopped is the cause of a PlaybackError when narration stopped
	// without completing and nothing replaced it.
	ErrUnitStopped = errors.New("narration stopped before completing")
)

// ValidationError reports a configuration problem found before anything is
// prepared or played.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// PreparationError reports narration that is still missing or unusable after
// synthesis. Nothing has played when it is returned.
type PreparationError struct {
	Scene int // -1 when not tied to one scene
	Part  int
	Err   error
}

func (e *PreparationError) Error() string {
	if e.Scene < 0 {
		return fmt.Sprintf("prepare narration: %v", e.Err)
	}
	return fmt.Sprintf("prepare narration for scene %d part %d: %v", e.Scene, e.Part, e.Err)
}

func (e *PreparationError) Unwrap() error {
	return e.Err
}

// PlaybackError reports a part that could not be played when it was due.
// It ends the session.
type PlaybackError struct {
	Scene int
	Part  int
	Err   error
}

func (e *PlaybackError) Error() string {
	return fmt.Sprintf("play scene %d part %d: %v", e.Scene, e.Part, e.Err)
}

func (e *PlaybackError) Unwrap() error {
	return e.Err
}
