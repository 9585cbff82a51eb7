package player

import (
	"fmt"

	"github.com/satindergrewal/reelpreview/internal/render"
	"github.com/satindergrewal/reelpreview/internal/track"
)

// State is the orchestrator's lifecycle state.
type State int

const (
	Idle State = iota
	Preparing
	Playing
	Paused
	Completed
	Failed
)

var stateNames = [...]string{"idle", "preparing", "playing", "paused", "completed", "failed"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	for i, name := range stateNames {
		if name == string(text) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", text)
}

// Event kinds.
const (
	EventState        = "state"
	EventProgress     = "progress"
	EventSegmentStart = "segment_start"
	EventSegmentEnd   = "segment_end"
	EventRender       = "render"
	EventError        = "error"
)

// Event is one entry on the player's observable stream.
type Event struct {
	Kind    string          `json:"kind"`
	State   State           `json:"state"`
	Session string          `json:"session,omitempty"`
	Scene   int             `json:"scene"`
	Part    int             `json:"part"`
	Time    float64         `json:"time"`
	Error   string          `json:"error,omitempty"`
	Render  *render.Command `json:"render,omitempty"`
}

// RenderEvent wraps a renderer command for the event stream.
func RenderEvent(cmd render.Command) Event {
	return Event{Kind: EventRender, Scene: cmd.Scene, Part: -1, Render: &cmd}
}

// Status is a point-in-time view of the player.
type Status struct {
	State    State       `json:"state"`
	Session  string      `json:"session,omitempty"`
	Scene    int         `json:"scene"`
	Part     int         `json:"part"`
	Elapsed  float64     `json:"elapsed"`
	Duration float64     `json:"duration"`
	ResumeAt float64     `json:"resume_at"`
	Speed    float64     `json:"speed"`
	Preview  []int       `json:"preview,omitempty"`
	Error    string      `json:"error,omitempty"`
	Track    track.State `json:"track"`
}

// Callbacks are optional hooks fired alongside the event stream.
type Callbacks struct {
	OnCurrentTime      func(sec float64)
	OnPreparingChanged func(preparing bool)
	OnPlayingChanged   func(playing bool)
	OnError            func(err error)
}
