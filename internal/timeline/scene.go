// Package timeline holds the scene list a preview plays and the store it is
// persisted in. The playback core reads scenes and writes back only measured
// scene durations.
package timeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// DefaultPartDelimiter separates caption parts within one scene.
const DefaultPartDelimiter = "|"

// ErrNotFound is returned for a scene index outside the timeline.
var ErrNotFound = errors.New("scene not found")

// Transition names understood by the renderer.
const (
	TransitionNone  = "none"
	TransitionFade  = "fade"
	TransitionSlide = "slide"
	TransitionZoom  = "zoom"
)

// Scene is one visual unit: an image with a caption, shown for Duration
// seconds. Scenes sharing a SceneID with different SplitIndex values are
// consecutive fragments of one narration block.
type Scene struct {
	SceneID            string  `json:"scene_id"`
	SplitIndex         *int    `json:"split_index,omitempty"`
	Duration           float64 `json:"duration"`
	Transition         string  `json:"transition,omitempty"`
	TransitionDuration float64 `json:"transition_duration,omitempty"`
	Caption            string  `json:"caption"`
	ImageRef           string  `json:"image_ref,omitempty"`
}

// Parts splits the caption on delim into the ordered narration parts. Empty
// fragments are dropped; a caption without text yields one empty part so
// every scene has at least one.
func (s Scene) Parts(delim string) []string {
	if delim == "" {
		delim = DefaultPartDelimiter
	}
	var parts []string
	for _, p := range strings.Split(s.Caption, delim) {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return []string{""}
	}
	return parts
}

// Continues reports whether s is a split continuation of prev.
func (s Scene) Continues(prev Scene) bool {
	return s.SceneID != "" && s.SceneID == prev.SceneID
}

// HasTransition reports whether leaving this scene animates.
func (s Scene) HasTransition() bool {
	return s.Transition != "" && s.Transition != TransitionNone && s.TransitionDuration > 0
}

// Validate checks the fields the player depends on.
func (s Scene) Validate() error {
	if s.Duration < 0 {
		return fmt.Errorf("negative duration %v", s.Duration)
	}
	if s.TransitionDuration < 0 {
		return fmt.Errorf("negative transition duration %v", s.TransitionDuration)
	}
	switch s.Transition {
	case "", TransitionNone, TransitionFade, TransitionSlide, TransitionZoom:
	default:
		return fmt.Errorf("unknown transition %q", s.Transition)
	}
	return nil
}

// Store is the scene source for a preview. Only duration corrections are
// written back during playback.
type Store interface {
	Scenes(ctx context.Context) ([]Scene, error)
	UpdateSceneDuration(ctx context.Context, index int, duration float64) error
}
