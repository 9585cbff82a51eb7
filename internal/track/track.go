// Package track schedules narration segments and the music bed on the audio
// engine. A Track exclusively owns the decoded buffer cache and every live
// playback unit; callers only hand it segment data.
package track

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/satindergrewal/reelpreview/internal/audio"
	"github.com/satindergrewal/reelpreview/internal/loader"
	"github.com/satindergrewal/reelpreview/internal/segment"
)

// ErrMissingBuffer is returned when a segment is due but its audio was never
// loaded.
var ErrMissingBuffer = errors.New("no decoded buffer for segment")

// ErrClosed is returned by operations on a closed Track.
var ErrClosed = errors.New("track closed")

// ErrSceneNotAllowed is returned when a segment belongs to a scene outside
// the allowed set.
var ErrSceneNotAllowed = errors.New("scene not allowed")

// Config tunes scheduling.
type Config struct {
	// LookaheadInterval is how often the rolling lookahead checks for work.
	LookaheadInterval time.Duration
	// LookaheadWindow is how far ahead of the audio clock, in seconds, the
	// next segment is queued.
	LookaheadWindow float64
	// InitialLookahead is how many following same-scene segments PlayFrom
	// schedules back-to-back up front.
	InitialLookahead int
}

// DefaultConfig returns the standard scheduling parameters.
func DefaultConfig() Config {
	return Config{
		LookaheadInterval: 100 * time.Millisecond,
		LookaheadWindow:   1.0,
		InitialLookahead:  2,
	}
}

// BoundaryFunc receives a timeline position and the scene it belongs to.
type BoundaryFunc func(sec float64, sceneIndex int)

// Track is the audio scheduler.
type Track struct {
	engine *audio.Engine
	loader *loader.Loader
	logger *slog.Logger
	cfg    Config

	// reloadMu serializes table swaps so a reload never interleaves with
	// another.
	reloadMu sync.Mutex

	mu           sync.Mutex
	segments     segment.Table
	buffers      map[string]*audio.Clip
	units        map[string]*Unit
	allowed      map[int]struct{} // nil = every scene
	currentScene int
	rate         float64
	onStart      BoundaryFunc
	onEnd        BoundaryFunc
	closed       bool

	// rolling lookahead state
	lookaheadStop chan struct{}
	lastIndex     int
	lastEnd       float64

	music      *audio.Clip
	musicVoice *audio.Voice
}

// New creates a Track scheduling onto engine and loading through l.
func New(engine *audio.Engine, l *loader.Loader, cfg Config, logger *slog.Logger) *Track {
	def := DefaultConfig()
	if cfg.LookaheadInterval <= 0 {
		cfg.LookaheadInterval = def.LookaheadInterval
	}
	if cfg.LookaheadWindow <= 0 {
		cfg.LookaheadWindow = def.LookaheadWindow
	}
	if cfg.InitialLookahead < 0 {
		cfg.InitialLookahead = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Track{
		engine:       engine,
		loader:       l,
		logger:       logger,
		cfg:          cfg,
		buffers:      make(map[string]*audio.Clip),
		units:        make(map[string]*Unit),
		currentScene: -1,
		rate:         1,
		lastIndex:    -1,
	}
}

// Close stops all audio and releases the buffer cache.
func (t *Track) Close() {
	t.StopAll()
	t.StopMusic()
	t.mu.Lock()
	t.closed = true
	t.buffers = make(map[string]*audio.Clip)
	t.music = nil
	t.mu.Unlock()
}

// OnSegmentStart registers the callback fired synchronously when a segment
// is scheduled.
func (t *Track) OnSegmentStart(fn BoundaryFunc) {
	t.mu.Lock()
	t.onStart = fn
	t.mu.Unlock()
}

// OnSegmentEnd registers the callback fired when a unit plays to its natural
// end. It is the authoritative signal that the narration finished.
func (t *Track) OnSegmentEnd(fn BoundaryFunc) {
	t.mu.Lock()
	t.onEnd = fn
	t.mu.Unlock()
}

// Now returns the audio clock.
func (t *Track) Now() float64 {
	return t.engine.Now()
}

// SetRate sets the playback speed for units scheduled from now on.
func (t *Track) SetRate(rate float64) {
	if rate <= 0 {
		rate = 1
	}
	t.mu.Lock()
	t.rate = rate
	t.mu.Unlock()
}

// Rate returns the playback speed multiplier.
func (t *Track) Rate() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rate
}

// Segments returns a copy of the current table.
func (t *Track) Segments() segment.Table {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.segments.Clone()
}

// Buffered reports whether a decoded buffer exists for the segment.
func (t *Track) Buffered(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buffers[id] != nil
}

// SetAllowedScenes restricts scheduling to the given scenes. nil removes the
// restriction.
func (t *Track) SetAllowedScenes(scenes []int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if scenes == nil {
		t.allowed = nil
		return
	}
	t.allowed = make(map[int]struct{}, len(scenes))
	for _, s := range scenes {
		t.allowed[s] = struct{}{}
	}
}

func (t *Track) isAllowed(scene int) bool {
	if t.allowed == nil {
		return true
	}
	_, ok := t.allowed[scene]
	return ok
}

// UpdateSegments stops all scheduled audio, swaps in the new table and
// reloads every buffer. If playback was active and currentTime is given,
// playback resumes from it once the reload settles.
func (t *Track) UpdateSegments(ctx context.Context, segments segment.Table, currentTime *float64) error {
	t.reloadMu.Lock()
	defer t.reloadMu.Unlock()
	return t.update(ctx, segments, currentTime)
}

// ReplaceSceneSegments splices new segments in for one scene, shifting every
// later scene by the change in that scene's duration, then reloads via
// UpdateSegments. It is the way to swap one scene's narration without
// rebuilding the whole table.
func (t *Track) ReplaceSceneSegments(ctx context.Context, sceneIndex int, segments []segment.Segment, currentTime *float64) error {
	t.reloadMu.Lock()
	defer t.reloadMu.Unlock()

	t.mu.Lock()
	next := t.segments.ReplaceScene(sceneIndex, segments)
	t.mu.Unlock()

	return t.update(ctx, next, currentTime)
}

// update must be called with reloadMu held.
func (t *Track) update(ctx context.Context, segments segment.Table, currentTime *float64) error {
	table := segments.Clone()
	table.Sort()
	if err := table.Validate(); err != nil {
		return fmt.Errorf("invalid segment table: %w", err)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	wasPlaying := len(t.units) > 0 || t.lookaheadStop != nil
	t.stopAllLocked()
	t.segments = table
	t.buffers = make(map[string]*audio.Clip)
	t.mu.Unlock()

	clips := t.loader.Preload(ctx, table)

	t.mu.Lock()
	t.buffers = clips
	var notes []func()
	if wasPlaying && currentTime != nil && ctx.Err() == nil {
		notes = t.playFromLocked(*currentTime, t.engine.Now())
	}
	t.mu.Unlock()
	fire(notes)

	t.logger.Debug("segments updated", "segments", len(table), "buffered", len(clips), "resumed", len(notes) > 0)
	return ctx.Err()
}

// PlayFrom starts timeline playback at position at, with the first unit
// placed at clockTime on the audio clock.
func (t *Track) PlayFrom(at, clockTime float64) {
	t.mu.Lock()
	notes := t.playFromLocked(at, clockTime)
	t.mu.Unlock()
	fire(notes)
}

func (t *Track) playFromLocked(at, clockTime float64) []func() {
	if t.closed {
		return nil
	}
	active, ok := t.segments.Active(at)
	if !ok {
		t.stopAllLocked()
		return nil
	}
	seg := active.Segment
	if !t.isAllowed(seg.SceneIndex) {
		return nil
	}
	if t.currentScene >= 0 && t.currentScene != seg.SceneIndex {
		t.stopSceneLocked(t.currentScene)
	}
	t.currentScene = seg.SceneIndex

	for _, u := range t.units {
		if u.Segment.SceneIndex == seg.SceneIndex && u.Segment.Contains(at) {
			return nil
		}
	}

	clip := t.buffers[seg.ID]
	if clip == nil {
		t.logger.Warn("no buffer for segment, nothing to schedule",
			"segment", seg.ID, "scene", seg.SceneIndex, "part", seg.PartIndex)
		return nil
	}

	var notes []func()
	u, note := t.scheduleLocked(seg, clip, clockTime, active.Offset)
	notes = appendNote(notes, note)

	last, end := active.Index, u.end
	for n := 0; n < t.cfg.InitialLookahead; n++ {
		idx := last + 1
		if idx >= len(t.segments) || t.segments[idx].SceneIndex != seg.SceneIndex {
			break
		}
		next := t.segments[idx]
		nextClip := t.buffers[next.ID]
		if nextClip == nil {
			break
		}
		nu, note := t.scheduleLocked(next, nextClip, end, 0)
		notes = appendNote(notes, note)
		last, end = idx, nu.end
	}

	t.lastIndex, t.lastEnd = last, end
	t.startLookaheadLocked()
	return notes
}

// PlaySegment schedules one segment from its beginning at clock time at. It
// returns ErrMissingBuffer when the segment's audio is not cached and
// ErrSceneNotAllowed when its scene is excluded. If the segment is already
// scheduled the live unit is returned.
func (t *Track) PlaySegment(seg segment.Segment, at float64) (*Unit, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrClosed
	}
	if !t.isAllowed(seg.SceneIndex) {
		t.mu.Unlock()
		return nil, fmt.Errorf("scene %d: %w", seg.SceneIndex, ErrSceneNotAllowed)
	}
	if u, ok := t.units[seg.ID]; ok {
		t.mu.Unlock()
		return u, nil
	}
	clip := t.buffers[seg.ID]
	if clip == nil {
		t.mu.Unlock()
		t.logger.Warn("no buffer for segment, nothing to schedule",
			"segment", seg.ID, "scene", seg.SceneIndex, "part", seg.PartIndex)
		return nil, fmt.Errorf("scene %d part %d (%s): %w", seg.SceneIndex, seg.PartIndex, seg.ID, ErrMissingBuffer)
	}
	if t.currentScene >= 0 && t.currentScene != seg.SceneIndex {
		t.stopSceneLocked(t.currentScene)
	}
	t.currentScene = seg.SceneIndex
	u, note := t.scheduleLocked(seg, clip, at, 0)
	t.mu.Unlock()

	fire(appendNote(nil, note))
	return u, nil
}

// QueueAfter schedules the segment that follows u in the same scene to start
// on the exact sample where u ends. It reports false when u is no longer live
// or the next segment is missing, excluded or not buffered; the caller then
// schedules it normally.
func (t *Track) QueueAfter(u *Unit) (*Unit, bool) {
	t.mu.Lock()
	if t.closed || t.units[u.Segment.ID] != u {
		t.mu.Unlock()
		return nil, false
	}
	idx := -1
	for i, s := range t.segments {
		if s.ID == u.Segment.ID {
			idx = i + 1
			break
		}
	}
	if idx <= 0 || idx >= len(t.segments) {
		t.mu.Unlock()
		return nil, false
	}
	next := t.segments[idx]
	clip := t.buffers[next.ID]
	if next.SceneIndex != u.Segment.SceneIndex || !t.isAllowed(next.SceneIndex) || clip == nil {
		t.mu.Unlock()
		return nil, false
	}
	nu, note := t.scheduleLocked(next, clip, u.end, 0)
	t.mu.Unlock()

	fire(appendNote(nil, note))
	return nu, true
}

// scheduleLocked creates a unit for seg starting offset seconds in, placed
// at startTime on the audio clock. Scheduling an ID that is already live
// returns the live unit and no start notification. Must be called with mu
// held; the returned note fires the start callback and must run after mu is
// released.
func (t *Track) scheduleLocked(seg segment.Segment, clip *audio.Clip, startTime, offset float64) (*Unit, func()) {
	if u, ok := t.units[seg.ID]; ok {
		return u, nil
	}

	u := &Unit{Segment: seg, offset: offset, rate: t.rate}
	u.voice = t.engine.Play(clip.Streamer(offset, t.rate), startTime, audio.WithOnEnd(func() {
		t.unitEnded(u)
	}))
	u.start = u.voice.StartTime()
	remaining := clip.Seconds() - offset
	if remaining < 0 {
		remaining = 0
	}
	u.end = u.start + remaining/t.rate
	t.units[seg.ID] = u

	onStart := t.onStart
	if onStart == nil {
		return u, nil
	}
	startSec := seg.Start + offset
	return u, func() { onStart(startSec, seg.SceneIndex) }
}

func (t *Track) unitEnded(u *Unit) {
	t.mu.Lock()
	if t.units[u.Segment.ID] == u {
		delete(t.units, u.Segment.ID)
	}
	onEnd := t.onEnd
	t.mu.Unlock()

	if onEnd != nil {
		onEnd(u.Segment.End(), u.Segment.SceneIndex)
	}
}

// Unit returns the live unit for a scene part, if any.
func (t *Track) Unit(sceneIndex, partIndex int) (*Unit, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, u := range t.units {
		if u.Segment.SceneIndex == sceneIndex && u.Segment.PartIndex == partIndex {
			return u, true
		}
	}
	return nil, false
}

// StopAll stops every live unit and the lookahead loop and clears all
// scheduling bookkeeping. It is idempotent.
func (t *Track) StopAll() {
	t.mu.Lock()
	t.stopAllLocked()
	t.mu.Unlock()
}

func (t *Track) stopAllLocked() {
	t.stopLookaheadLocked()
	for id, u := range t.units {
		u.voice.Stop()
		delete(t.units, id)
	}
	t.currentScene = -1
	t.lastIndex = -1
	t.lastEnd = 0
}

// StopUnit stops a single unit if it is still live.
func (t *Track) StopUnit(u *Unit) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.units[u.Segment.ID] == u {
		delete(t.units, u.Segment.ID)
	}
	u.voice.Stop()
}

// StopScenesExcept stops every unit that does not belong to sceneIndex.
func (t *Track) StopScenesExcept(sceneIndex int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	scenes := map[int]struct{}{}
	for _, u := range t.units {
		if u.Segment.SceneIndex != sceneIndex {
			scenes[u.Segment.SceneIndex] = struct{}{}
		}
	}
	for s := range scenes {
		t.stopSceneLocked(s)
	}
}

func (t *Track) stopSceneLocked(sceneIndex int) {
	for id, u := range t.units {
		if u.Segment.SceneIndex == sceneIndex {
			u.voice.Stop()
			delete(t.units, id)
		}
	}
	if t.currentScene == sceneIndex {
		t.stopLookaheadLocked()
		t.currentScene = -1
		t.lastIndex = -1
	}
}

// State is a point-in-time view of the scheduler.
type State struct {
	Clock        float64         `json:"clock"`
	CurrentScene int             `json:"current_scene"`
	Active       *segment.Active `json:"active,omitempty"`
	Scheduled    []string        `json:"scheduled"`
	Segments     int             `json:"segments"`
	Buffered     int             `json:"buffered"`
	Lookahead    bool            `json:"lookahead"`
	Music        bool            `json:"music"`
	Rate         float64         `json:"rate"`
}

// Snapshot reports the scheduler state. Active is the segment audible at the
// current audio clock, if any.
func (t *Track) Snapshot() State {
	now := t.engine.Now()

	t.mu.Lock()
	defer t.mu.Unlock()
	st := State{
		Clock:        now,
		CurrentScene: t.currentScene,
		Scheduled:    make([]string, 0, len(t.units)),
		Segments:     len(t.segments),
		Buffered:     len(t.buffers),
		Lookahead:    t.lookaheadStop != nil,
		Music:        t.musicVoice != nil && !closed(t.musicVoice.Done()),
		Rate:         t.rate,
	}
	for id, u := range t.units {
		st.Scheduled = append(st.Scheduled, id)
		if u.containsClock(now) {
			idx := 0
			for i, s := range t.segments {
				if s.ID == id {
					idx = i
					break
				}
			}
			st.Active = &segment.Active{Segment: u.Segment, Offset: u.Position(now) - u.Segment.Start, Index: idx}
		}
	}
	sort.Strings(st.Scheduled)
	return st
}

func appendNote(notes []func(), note func()) []func() {
	if note == nil {
		return notes
	}
	return append(notes, note)
}

func fire(notes []func()) {
	for _, n := range notes {
		n()
	}
}

func closed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
