// Package render drives the visual side of a preview. The Feed renderer does
// not draw anything itself: it publishes render commands for connected
// clients and keeps the opacity state the player must leave consistent.
package render

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/satindergrewal/reelpreview/internal/timeline"
)

// Request asks for one scene part to be shown.
type Request struct {
	SceneIndex         int            `json:"scene_index"`
	PartIndex          int            `json:"part_index"`
	Scene              timeline.Scene `json:"scene"`
	Caption            string         `json:"caption"`
	SkipAnimation      bool           `json:"skip_animation"`
	Transition         string         `json:"transition,omitempty"`
	TransitionDuration float64        `json:"transition_duration,omitempty"`
	Previous           int            `json:"previous"` // -1 when nothing was shown
}

// Renderer shows scenes. RenderScene blocks until the part is drawn and any
// transition has finished animating.
type Renderer interface {
	RenderScene(ctx context.Context, req Request) error
	StopOthers(sceneIndex int)
	Restore(sceneIndex int)
}

// Command kinds published by Feed.
const (
	CommandRender     = "render"
	CommandRendered   = "rendered"
	CommandStopOthers = "stop_others"
	CommandRestore    = "restore"
)

// Command is one instruction for a client-side renderer.
type Command struct {
	Kind    string   `json:"kind"`
	Scene   int      `json:"scene"`
	Request *Request `json:"request,omitempty"`
	Opacity float64  `json:"opacity"`
}

// Feed is a Renderer that publishes Commands.
type Feed struct {
	publish func(Command)
	logger  *slog.Logger
	wait    func(ctx context.Context, d time.Duration) error

	mu      sync.Mutex
	opacity map[int]float64
	current int
}

// NewFeed returns a Feed sending commands to publish.
func NewFeed(publish func(Command), logger *slog.Logger) *Feed {
	if publish == nil {
		publish = func(Command) {}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Feed{
		publish: publish,
		logger:  logger,
		wait:    sleep,
		opacity: make(map[int]float64),
		current: -1,
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RenderScene publishes the part and waits out its transition. A cancelled
// ctx leaves every piece of state untouched.
func (f *Feed) RenderScene(ctx context.Context, req Request) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	animate := !req.SkipAnimation && req.Transition != "" &&
		req.Transition != timeline.TransitionNone && req.TransitionDuration > 0

	f.mu.Lock()
	f.current = req.SceneIndex
	start := 1.0
	if animate {
		start = 0
	}
	f.opacity[req.SceneIndex] = start
	f.mu.Unlock()

	f.publish(Command{Kind: CommandRender, Scene: req.SceneIndex, Request: &req, Opacity: start})

	if animate {
		d := time.Duration(req.TransitionDuration * float64(time.Second))
		if err := f.wait(ctx, d); err != nil {
			f.logger.Debug("transition interrupted", "scene", req.SceneIndex, "transition", req.Transition)
			return err
		}
		f.mu.Lock()
		f.opacity[req.SceneIndex] = 1
		f.mu.Unlock()
	}

	f.publish(Command{Kind: CommandRendered, Scene: req.SceneIndex, Opacity: 1})
	return nil
}

func (f *Feed) StopOthers(sceneIndex int) {
	f.mu.Lock()
	for s := range f.opacity {
		if s != sceneIndex {
			delete(f.opacity, s)
		}
	}
	f.mu.Unlock()
	f.publish(Command{Kind: CommandStopOthers, Scene: sceneIndex})
}

func (f *Feed) Restore(sceneIndex int) {
	if sceneIndex < 0 {
		return
	}
	f.mu.Lock()
	f.opacity[sceneIndex] = 1
	f.mu.Unlock()
	f.publish(Command{Kind: CommandRestore, Scene: sceneIndex, Opacity: 1})
}

// Opacity returns the current opacity of a scene, or 0 if it is not shown.
func (f *Feed) Opacity(sceneIndex int) float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opacity[sceneIndex]
}

// Current returns the most recently rendered scene, or -1.
func (f *Feed) Current() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}
