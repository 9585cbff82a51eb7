// Package player is the playback orchestrator. It prepares narration and
// music for a timeline, then walks scenes and parts in order, rendering each
// part's visual and advancing only when that part's narration completes on
// the audio clock.
package player

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/satindergrewal/reelpreview/internal/loader"
	"github.com/satindergrewal/reelpreview/internal/render"
	"github.com/satindergrewal/reelpreview/internal/segment"
	"github.com/satindergrewal/reelpreview/internal/stream"
	"github.com/satindergrewal/reelpreview/internal/synth"
	"github.com/satindergrewal/reelpreview/internal/timeline"
	"github.com/satindergrewal/reelpreview/internal/track"
)

// Narrator produces narration clips for one scene.
type Narrator interface {
	EnsureSceneNarration(ctx context.Context, req synth.Request) ([]synth.Part, error)
}

// Config holds playback parameters.
type Config struct {
	VoiceID           string
	Speed             float64
	PartDelimiter     string
	MusicRef          string
	MusicVolume       float64
	MusicFadeOut      float64 // seconds
	BatchSize         int
	BatchDelay        time.Duration
	ProgressInterval  time.Duration
	DurationTolerance float64 // seconds
}

// DefaultConfig returns the standard playback parameters.
func DefaultConfig() Config {
	return Config{
		Speed:             1,
		PartDelimiter:     timeline.DefaultPartDelimiter,
		MusicVolume:       track.DefaultMusicGain,
		MusicFadeOut:      2,
		BatchSize:         3,
		BatchDelay:        time.Second,
		ProgressInterval:  100 * time.Millisecond,
		DurationTolerance: 0.05,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Speed <= 0 {
		c.Speed = def.Speed
	}
	if c.PartDelimiter == "" {
		c.PartDelimiter = def.PartDelimiter
	}
	if c.MusicVolume <= 0 {
		c.MusicVolume = def.MusicVolume
	}
	if c.MusicFadeOut < 0 {
		c.MusicFadeOut = 0
	}
	if c.BatchSize <= 0 {
		c.BatchSize = def.BatchSize
	}
	if c.BatchDelay < 0 {
		c.BatchDelay = 0
	}
	if c.ProgressInterval <= 0 {
		c.ProgressInterval = def.ProgressInterval
	}
	if c.DurationTolerance <= 0 {
		c.DurationTolerance = def.DurationTolerance
	}
	return c
}

// Deps are the collaborators a Player drives.
type Deps struct {
	Track    *track.Track
	Narrator Narrator
	Renderer render.Renderer
	Store    timeline.Store
	Cache    *synth.Cache               // optional
	Events   *stream.Broadcaster[Event] // optional
	Objects  *loader.ObjectStore        // optional, where the narrator stores clips
}

// session is one play-through. It is identified by pointer; a goroutine
// holding a superseded session must not mutate player state.
type session struct {
	id     uuid.UUID
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	from   float64

	// guarded by Player.mu
	scene  int
	part   int
	unit   *track.Unit
	queued *track.Unit // next part, scheduled to follow unit
}

// Player is the playback orchestrator.
type Player struct {
	track    *track.Track
	narrator Narrator
	renderer render.Renderer
	store    timeline.Store
	cache    *synth.Cache
	events   *stream.Broadcaster[Event]
	objects  *loader.ObjectStore
	logger   *slog.Logger

	// reload is held for writing while the segment table is swapped under a
	// live session, so the walker can wait for replacement units.
	reload sync.RWMutex

	// narrating is read-held for each synthesis call until its clips are
	// cached; collect only runs when it can take the write lock.
	narrating sync.RWMutex

	// visual serializes renderer calls so a cancelled walker never draws
	// after Pause, Stop or a failure has restored the scene.
	visual sync.Mutex

	mu        sync.Mutex
	cfg       Config
	cb        Callbacks
	state     State
	sess      *session
	scenes    []timeline.Scene
	parts     [][]string
	preview   []int
	elapsed   float64
	resumeAt  float64
	lastScene int
	lastErr   error
}

// New creates an idle Player.
func New(deps Deps, cfg Config, logger *slog.Logger) *Player {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Cache == nil {
		deps.Cache = synth.NewCache()
	}
	if deps.Events == nil {
		deps.Events = stream.NewBroadcaster[Event](64)
	}
	p := &Player{
		track:     deps.Track,
		narrator:  deps.Narrator,
		renderer:  deps.Renderer,
		store:     deps.Store,
		cache:     deps.Cache,
		events:    deps.Events,
		objects:   deps.Objects,
		logger:    logger,
		cfg:       cfg.withDefaults(),
		lastScene: -1,
	}
	p.track.OnSegmentStart(func(sec float64, scene int) {
		p.publish(Event{Kind: EventSegmentStart, Scene: scene, Part: -1, Time: sec})
	})
	p.track.OnSegmentEnd(func(sec float64, scene int) {
		p.publish(Event{Kind: EventSegmentEnd, Scene: scene, Part: -1, Time: sec})
	})
	return p
}

// SetCallbacks replaces the callback hooks.
func (p *Player) SetCallbacks(cb Callbacks) {
	p.mu.Lock()
	p.cb = cb
	p.mu.Unlock()
}

// Subscribe returns a listener on the player's event stream.
func (p *Player) Subscribe() *stream.Listener[Event] {
	return p.events.Subscribe()
}

// Unsubscribe releases a listener returned by Subscribe.
func (p *Player) Unsubscribe(l *stream.Listener[Event]) {
	p.events.Unsubscribe(l)
}

// SetVoice changes the narration voice for future sessions.
func (p *Player) SetVoice(voiceID string) {
	p.mu.Lock()
	p.cfg.VoiceID = voiceID
	p.mu.Unlock()
}

// SetSpeed changes the playback speed for future sessions.
func (p *Player) SetSpeed(speed float64) {
	if speed <= 0 {
		speed = 1
	}
	p.mu.Lock()
	p.cfg.Speed = speed
	p.mu.Unlock()
}

// Status reports the player state.
func (p *Player) Status() Status {
	ts := p.track.Snapshot()

	p.mu.Lock()
	defer p.mu.Unlock()
	st := Status{
		State:    p.state,
		Scene:    p.lastScene,
		Part:     -1,
		Elapsed:  p.elapsed,
		ResumeAt: p.resumeAt,
		Speed:    p.cfg.Speed,
		Preview:  slices.Clone(p.preview),
		Track:    ts,
	}
	if p.sess != nil {
		st.Session = p.sess.id.String()
		st.Scene = p.sess.scene
		st.Part = p.sess.part
		if p.sess.unit != nil {
			st.Elapsed = p.sess.unit.Position(ts.Clock)
		}
	}
	if p.lastErr != nil {
		st.Error = p.lastErr.Error()
	}
	st.Duration = p.track.Segments().End()
	return st
}

// Done returns a channel closed when the current session ends. It is nil
// when no session is active.
func (p *Player) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sess == nil {
		return nil
	}
	return p.sess.done
}

// Play starts a new session from timeline position from, replacing any
// session in progress. A ValidationError is returned before anything starts.
func (p *Player) Play(from float64) error {
	p.mu.Lock()
	if p.cfg.VoiceID == "" {
		p.mu.Unlock()
		err := &ValidationError{Field: "voice", Message: "no narration voice selected"}
		p.notifyError(err)
		return err
	}
	old := p.sess
	p.endSessionLocked()
	p.mu.Unlock()

	if old != nil {
		p.silence()
	}

	ctx, cancel := context.WithCancel(context.Background())
	sess := &session{
		id:     uuid.New(),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		from:   from,
		scene:  -1,
		part:   -1,
	}

	p.mu.Lock()
	p.sess = sess
	p.lastErr = nil
	p.resumeAt = from
	p.track.SetRate(p.cfg.Speed)
	p.track.SetAllowedScenes(p.preview)
	p.mu.Unlock()

	p.setState(sess, Preparing)
	p.logger.Info("session started", "session", sess.id, "from", from)
	go p.run(sess)
	return nil
}

// Pause stops the session and remembers the current scene so Resume can
// continue from it.
func (p *Player) Pause() {
	p.mu.Lock()
	sess := p.sess
	if sess == nil {
		p.mu.Unlock()
		return
	}
	resume := p.resumeAt
	if sess.unit != nil {
		resume = sess.unit.Segment.Start
	}
	p.endSessionLocked()
	p.resumeAt = resume
	scene := p.lastScene
	p.mu.Unlock()

	p.silence()
	p.restore(scene)
	p.setState(nil, Paused)
	p.logger.Info("paused", "session", sess.id, "resume_at", resume)
}

// Resume starts a new session at the paused position.
func (p *Player) Resume() error {
	p.mu.Lock()
	at := p.resumeAt
	p.mu.Unlock()
	return p.Play(at)
}

// Sound check tone parameters.
const (
	soundCheckLength = 1500 * time.Millisecond
	soundCheckLevel  = 0.2
)

// SoundCheck plays a short reference tone so listeners can confirm their
// audio path. It returns ErrBusy while a session is live.
func (p *Player) SoundCheck() error {
	p.mu.Lock()
	live := p.sess != nil
	p.mu.Unlock()
	if live {
		return ErrBusy
	}
	p.track.Tone(soundCheckLength, soundCheckLevel)
	p.logger.Info("sound check", "length", soundCheckLength)
	return nil
}

// Stop ends the session and returns to Idle.
func (p *Player) Stop() {
	p.mu.Lock()
	sess := p.sess
	p.endSessionLocked()
	p.resumeAt = 0
	scene := p.lastScene
	p.mu.Unlock()

	p.silence()
	if sess != nil {
		p.restore(scene)
		p.logger.Info("stopped", "session", sess.id)
	}
	p.setState(nil, Idle)
}

// Seek moves playback to timeline position at. A live session restarts
// there; otherwise the position is kept for the next Resume.
func (p *Player) Seek(at float64) error {
	if at < 0 {
		at = 0
	}
	p.mu.Lock()
	live := p.sess != nil
	if !live {
		p.resumeAt = at
		p.elapsed = at
	}
	p.mu.Unlock()

	if live {
		return p.Play(at)
	}
	p.publish(Event{Kind: EventProgress, Scene: -1, Part: -1, Time: at})
	return nil
}

// PreviewScenes restricts playback to the given scenes and plays them from
// at. A nil list plays the whole timeline.
func (p *Player) PreviewScenes(scenes []int, at float64) error {
	var preview []int
	if scenes != nil {
		preview = slices.Clone(scenes)
		slices.Sort(preview)
		preview = slices.Compact(preview)
	}
	p.mu.Lock()
	p.preview = preview
	p.mu.Unlock()
	return p.Play(at)
}

// endSessionLocked cancels the current session and clears it. Must be
// called with mu held; audio is silenced separately by the caller.
func (p *Player) endSessionLocked() {
	if p.sess == nil {
		return
	}
	if p.sess.unit != nil {
		p.elapsed = p.sess.unit.Position(p.track.Now())
	}
	p.sess.cancel()
	p.sess = nil
}

func (p *Player) silence() {
	p.track.StopAll()
	p.track.StopMusic()
}

func (p *Player) restore(scene int) {
	p.visual.Lock()
	defer p.visual.Unlock()
	p.renderer.Restore(scene)
}

// collect releases synthesized audio that neither the narration cache nor
// the scheduled table references any more. It is skipped while synthesis is
// in flight, since a new clip is stored before it is cached.
func (p *Player) collect() {
	if p.objects == nil || !p.narrating.TryLock() {
		return
	}
	defer p.narrating.Unlock()

	keep := p.cache.Refs()
	for _, s := range p.segments() {
		if s.ContentRef != "" {
			keep[s.ContentRef] = struct{}{}
		}
	}
	if n := p.objects.Retain(keep); n > 0 {
		p.logger.Debug("released narration audio", "objects", n, "held", p.objects.Len())
	}
}

// current reports whether sess is still the live session.
func (p *Player) current(sess *session) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sess == sess
}

// setState moves to st. When sess is non-nil the change only applies while
// sess is still current.
func (p *Player) setState(sess *session, st State) bool {
	p.mu.Lock()
	if sess != nil && p.sess != sess {
		p.mu.Unlock()
		return false
	}
	prev := p.state
	p.state = st
	cb := p.cb
	id := ""
	if sess != nil {
		id = sess.id.String()
	}
	p.mu.Unlock()

	if prev == st {
		return true
	}
	p.publish(Event{Kind: EventState, State: st, Session: id, Scene: -1, Part: -1})
	if cb.OnPreparingChanged != nil && (prev == Preparing) != (st == Preparing) {
		cb.OnPreparingChanged(st == Preparing)
	}
	if cb.OnPlayingChanged != nil && (prev == Playing) != (st == Playing) {
		cb.OnPlayingChanged(st == Playing)
	}
	return true
}

func (p *Player) publish(e Event) {
	p.mu.Lock()
	e.State = p.state
	p.mu.Unlock()
	p.events.Publish(e)
}

// PublishRender forwards a renderer command onto the event stream.
func (p *Player) PublishRender(cmd render.Command) {
	p.publish(RenderEvent(cmd))
}

func (p *Player) notifyError(err error) {
	p.mu.Lock()
	p.lastErr = err
	cb := p.cb.OnError
	p.mu.Unlock()

	p.publish(Event{Kind: EventError, Scene: -1, Part: -1, Error: err.Error()})
	if cb != nil {
		cb(err)
	}
}

// run drives one session from preparation to completion.
func (p *Player) run(sess *session) {
	defer close(sess.done)
	defer sess.cancel()

	plan, err := p.prepare(sess)
	if err != nil {
		p.finish(sess, err)
		return
	}
	if !p.setState(sess, Playing) {
		return
	}
	p.finish(sess, p.playPlan(sess, plan))
}

// finish ends sess with err, or as completed when err is nil. Cancellation
// by Pause, Stop or a newer session is not an error.
func (p *Player) finish(sess *session, err error) {
	if sess.ctx.Err() != nil || !p.current(sess) {
		return
	}

	p.mu.Lock()
	if p.sess != sess {
		p.mu.Unlock()
		return
	}
	scene := p.lastScene
	p.endSessionLocked()
	if err == nil {
		p.resumeAt = 0
	}
	p.mu.Unlock()

	if err != nil {
		p.logger.Error("session failed", "session", sess.id, "error", err)
		p.silence()
		p.restore(scene)
		p.setState(nil, Failed)
		p.notifyError(err)
		p.setState(nil, Idle)
		return
	}

	p.track.StopMusic()
	p.logger.Info("session completed", "session", sess.id)
	p.setState(nil, Completed)
	p.setState(nil, Idle)
}

// segments returns the table the walker reads, waiting out any reload.
func (p *Player) segments() segment.Table {
	p.reload.RLock()
	defer p.reload.RUnlock()
	return p.track.Segments()
}

// Segments returns the current segment table.
func (p *Player) Segments() segment.Table {
	return p.segments()
}
