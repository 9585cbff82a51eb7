package player

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/satindergrewal/reelpreview/internal/audio"
	"github.com/satindergrewal/reelpreview/internal/loader"
	"github.com/satindergrewal/reelpreview/internal/render"
	"github.com/satindergrewal/reelpreview/internal/segment"
	"github.com/satindergrewal/reelpreview/internal/stream"
	"github.com/satindergrewal/reelpreview/internal/synth"
	"github.com/satindergrewal/reelpreview/internal/timeline"
	"github.com/satindergrewal/reelpreview/internal/track"
)

// toneDecode reads a payload as a clip length in seconds.
func toneDecode(ctx context.Context, data []byte) (*audio.Clip, error) {
	sec, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return nil, err
	}
	return audio.ToneClip(time.Duration(sec*float64(time.Second)), 0.2), nil
}

// fakeNarrator stores each clip's length, as text, in objects and returns
// its mem: reference.
type fakeNarrator struct {
	objects *loader.ObjectStore

	mu        sync.Mutex
	calls     []synth.Request
	durations map[int]float64
	refs      map[int]string
	fail      map[int]bool
	delay     time.Duration
	active    int
	maxActive int
}

func newFakeNarrator(objects *loader.ObjectStore) *fakeNarrator {
	return &fakeNarrator{objects: objects, durations: map[int]float64{}, refs: map[int]string{}, fail: map[int]bool{}}
}

func (n *fakeNarrator) EnsureSceneNarration(ctx context.Context, req synth.Request) ([]synth.Part, error) {
	n.mu.Lock()
	n.calls = append(n.calls, req)
	n.active++
	n.maxActive = max(n.maxActive, n.active)
	d, ok := n.durations[req.SceneIndex]
	if !ok {
		d = 0.06
	}
	ref, ok := n.refs[req.SceneIndex]
	if !ok {
		ref = strconv.FormatFloat(d, 'f', -1, 64)
	}
	fail := n.fail[req.SceneIndex]
	delay := n.delay
	n.mu.Unlock()

	defer func() {
		n.mu.Lock()
		n.active--
		n.mu.Unlock()
	}()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	if fail {
		return nil, errors.New("synthesis service down")
	}
	parts := make([]synth.Part, len(req.Parts))
	for i := range parts {
		parts[i] = synth.Part{ContentRef: n.objects.Put([]byte(ref)), Duration: d}
	}
	return parts, nil
}

func (n *fakeNarrator) setDuration(scene int, d float64) {
	n.mu.Lock()
	n.durations[scene] = d
	n.mu.Unlock()
}

func (n *fakeNarrator) callCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

type fakeRenderer struct {
	mu       sync.Mutex
	requests []render.Request
	restored []int
	stopped  []int
}

func (r *fakeRenderer) RenderScene(ctx context.Context, req render.Request) error {
	r.mu.Lock()
	r.requests = append(r.requests, req)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *fakeRenderer) StopOthers(scene int) {
	r.mu.Lock()
	r.stopped = append(r.stopped, scene)
	r.mu.Unlock()
}

func (r *fakeRenderer) Restore(scene int) {
	r.mu.Lock()
	r.restored = append(r.restored, scene)
	r.mu.Unlock()
}

func (r *fakeRenderer) snapshot() ([]render.Request, []int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]render.Request(nil), r.requests...), append([]int(nil), r.restored...)
}

type harness struct {
	p       *Player
	tr      *track.Track
	engine  *audio.Engine
	narr    *fakeNarrator
	rend    *fakeRenderer
	store   *timeline.MemoryStore
	events  *stream.Broadcaster[Event]
	objects *loader.ObjectStore

	mu   sync.Mutex
	errs []error
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.VoiceID = "nova"
	cfg.BatchDelay = time.Millisecond
	cfg.ProgressInterval = 5 * time.Millisecond
	return cfg
}

func newHarness(t *testing.T, scenes []timeline.Scene, cfg Config) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	// Step the engine faster than real time so tests finish quickly.
	engine := audio.NewEngine()
	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
			}
			engine.Step()
			time.Sleep(time.Millisecond)
		}
	}()

	objects := loader.NewObjectStore()
	tr := track.New(engine, loader.New(loader.NewSourceFetcher(objects, time.Second), toneDecode, 4, logger),
		track.Config{LookaheadInterval: 10 * time.Millisecond}, logger)

	h := &harness{
		tr:      tr,
		engine:  engine,
		narr:    newFakeNarrator(objects),
		rend:    &fakeRenderer{},
		store:   timeline.NewMemoryStore(scenes),
		events:  stream.NewBroadcaster[Event](8192),
		objects: objects,
	}
	h.p = New(Deps{
		Track:    tr,
		Narrator: h.narr,
		Renderer: h.rend,
		Store:    h.store,
		Events:   h.events,
		Objects:  objects,
	}, cfg, logger)
	h.p.SetCallbacks(Callbacks{OnError: func(err error) {
		h.mu.Lock()
		h.errs = append(h.errs, err)
		h.mu.Unlock()
	}})

	t.Cleanup(func() {
		h.p.Stop()
		tr.Close()
		close(stop)
	})
	return h
}

func (h *harness) wait(t *testing.T) {
	t.Helper()
	done := h.p.Done()
	if done == nil {
		return
	}
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("session did not finish")
	}
}

func (h *harness) errors() []error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]error(nil), h.errs...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func intPtr(v int) *int { return &v }

// scenes 0 and 1 are fragments of one narration block; scene 2 is new.
func splitScenes() []timeline.Scene {
	return []timeline.Scene{
		{SceneID: "a", SplitIndex: intPtr(0), Duration: 1, Caption: "one | two", Transition: timeline.TransitionFade, TransitionDuration: 0.05},
		{SceneID: "a", SplitIndex: intPtr(1), Duration: 1, Caption: "three", Transition: timeline.TransitionSlide, TransitionDuration: 0.05},
		{SceneID: "b", Duration: 1, Caption: "four"},
	}
}

func TestPlayWalksScenesInOrder(t *testing.T) {
	h := newHarness(t, splitScenes(), testConfig())

	if err := h.p.Play(0); err != nil {
		t.Fatal(err)
	}
	h.wait(t)

	if errs := h.errors(); len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	reqs, _ := h.rend.snapshot()
	want := []struct{ scene, part int }{{0, 0}, {0, 1}, {1, 0}, {2, 0}}
	if len(reqs) != len(want) {
		t.Fatalf("rendered %d parts, want %d", len(reqs), len(want))
	}
	for i, w := range want {
		if reqs[i].SceneIndex != w.scene || reqs[i].PartIndex != w.part {
			t.Errorf("render %d = scene %d part %d, want %d/%d", i, reqs[i].SceneIndex, reqs[i].PartIndex, w.scene, w.part)
		}
	}
	if reqs[0].Caption != "one" || reqs[1].Caption != "two" {
		t.Errorf("captions = %q, %q", reqs[0].Caption, reqs[1].Caption)
	}
	if st := h.p.Status(); st.State != Idle {
		t.Errorf("state = %v, want idle", st.State)
	}
}

func TestSceneAdvanceTransitions(t *testing.T) {
	h := newHarness(t, splitScenes(), testConfig())
	h.p.Play(0)
	h.wait(t)

	reqs, _ := h.rend.snapshot()
	transitions := 0
	for _, r := range reqs {
		if r.Transition != "" {
			transitions++
		}
	}
	if transitions != 1 {
		t.Fatalf("transitions = %d, want 1 (only at the scene id change)", transitions)
	}
	if !reqs[2].SkipAnimation || reqs[2].Transition != "" {
		t.Errorf("split continuation = %+v, want caption swap only", reqs[2])
	}
	last := reqs[3]
	if last.Transition != timeline.TransitionSlide || last.TransitionDuration != 0.05 {
		t.Errorf("scene change used %q/%v, want the outgoing scene's slide/0.05", last.Transition, last.TransitionDuration)
	}
}

func TestPrepareCorrectsStoredDurations(t *testing.T) {
	h := newHarness(t, splitScenes(), testConfig())
	h.narr.durations[0] = 0.08

	h.p.Play(0)
	h.wait(t)

	scenes, _ := h.store.Scenes(context.Background())
	want := []float64{0.16, 0.06, 0.06}
	for i, w := range want {
		if math.Abs(scenes[i].Duration-w) > 1e-9 {
			t.Errorf("scene %d stored duration = %v, want %v", i, scenes[i].Duration, w)
		}
	}
	table := h.tr.Segments()
	if math.Abs(table.End()-0.28) > 1e-9 {
		t.Errorf("table end = %v, want 0.28", table.End())
	}
}

func TestPlayWithoutVoiceFailsFast(t *testing.T) {
	cfg := testConfig()
	cfg.VoiceID = ""
	h := newHarness(t, splitScenes(), cfg)

	err := h.p.Play(0)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Play error = %v, want *ValidationError", err)
	}
	if h.narr.callCount() != 0 {
		t.Error("narration requested despite validation failure")
	}
	if reqs, _ := h.rend.snapshot(); len(reqs) != 0 {
		t.Error("rendered despite validation failure")
	}
	if errs := h.errors(); len(errs) != 1 {
		t.Errorf("error notifications = %d, want 1", len(errs))
	}
}

func TestSynthesisFailureIsPreparationError(t *testing.T) {
	h := newHarness(t, splitScenes(), testConfig())
	h.narr.fail[1] = true

	if err := h.p.Play(0); err != nil {
		t.Fatal(err)
	}
	h.wait(t)

	errs := h.errors()
	if len(errs) != 1 {
		t.Fatalf("error notifications = %d, want 1", len(errs))
	}
	var perr *PreparationError
	if !errors.As(errs[0], &perr) || perr.Scene != 1 {
		t.Fatalf("error = %v, want PreparationError for scene 1", errs[0])
	}
	if reqs, _ := h.rend.snapshot(); len(reqs) != 0 {
		t.Errorf("rendered %d parts, want none before a preparation failure", len(reqs))
	}
	if h.engine.ActiveVoices() != 0 {
		t.Error("audio scheduled despite preparation failure")
	}
	if st := h.p.Status(); st.State != Idle || st.Error == "" {
		t.Errorf("status = %+v, want idle with error", st)
	}
}

func TestSynthesisBatchesAndCaches(t *testing.T) {
	var scenes []timeline.Scene
	for i := 0; i < 7; i++ {
		scenes = append(scenes, timeline.Scene{SceneID: fmt.Sprint(i), Duration: 0.06, Caption: fmt.Sprint("caption ", i)})
	}
	h := newHarness(t, scenes, testConfig())
	h.narr.delay = 15 * time.Millisecond

	h.p.Play(0)
	h.wait(t)
	if h.narr.callCount() != 7 {
		t.Fatalf("narration calls = %d, want 7", h.narr.callCount())
	}
	if h.narr.maxActive > 3 {
		t.Errorf("max concurrent synthesis = %d, want <= 3", h.narr.maxActive)
	}

	h.p.Play(0)
	h.wait(t)
	if h.narr.callCount() != 7 {
		t.Errorf("cached narration resynthesized: %d calls", h.narr.callCount())
	}
}

func TestMissingBufferIsPlaybackError(t *testing.T) {
	h := newHarness(t, splitScenes(), testConfig())
	h.narr.refs[2] = "not-audio"

	h.p.Play(0)
	h.wait(t)

	errs := h.errors()
	if len(errs) != 1 {
		t.Fatalf("error notifications = %d, want exactly 1", len(errs))
	}
	var perr *PlaybackError
	if !errors.As(errs[0], &perr) || perr.Scene != 2 {
		t.Fatalf("error = %v, want PlaybackError for scene 2", errs[0])
	}
	if !errors.Is(errs[0], track.ErrMissingBuffer) {
		t.Errorf("error = %v, want it to wrap ErrMissingBuffer", errs[0])
	}
	_, restored := h.rend.snapshot()
	if len(restored) == 0 || restored[len(restored)-1] != 2 {
		t.Errorf("restored = %v, want scene 2 restored", restored)
	}
	if st := h.p.Status(); st.State != Idle || len(st.Track.Scheduled) != 0 {
		t.Errorf("status after failure = %+v", st)
	}
}

func TestPauseSilencesAndRestores(t *testing.T) {
	h := newHarness(t, splitScenes(), testConfig())
	h.narr.durations[0] = 5
	h.tr.SetMusic(audio.ToneClip(10*time.Second, 0.1))

	h.p.Play(0)
	waitFor(t, "narration to start", func() bool {
		st := h.p.Status()
		return st.State == Playing && st.Track.Active != nil
	})

	h.p.Pause()

	st := h.p.Status()
	if st.State != Paused {
		t.Errorf("state = %v, want paused", st.State)
	}
	if len(st.Track.Scheduled) != 0 || st.Track.Active != nil {
		t.Errorf("audio still scheduled after pause: %+v", st.Track)
	}
	if st.Track.Music {
		t.Error("music still playing after pause")
	}
	if n := h.engine.ActiveVoices(); n != 0 {
		t.Errorf("active voices = %d after pause, want 0", n)
	}
	_, restored := h.rend.snapshot()
	if len(restored) != 1 || restored[0] != 0 {
		t.Errorf("restored = %v, want [0]", restored)
	}
	if st.ResumeAt != 0 {
		t.Errorf("resume position = %v, want start of scene 0", st.ResumeAt)
	}

	before, _ := h.rend.snapshot()
	if err := h.p.Resume(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "resumed render", func() bool {
		reqs, _ := h.rend.snapshot()
		return len(reqs) > len(before)
	})
	reqs, _ := h.rend.snapshot()
	if r := reqs[len(before)]; r.SceneIndex != 0 || r.PartIndex != 0 {
		t.Errorf("resumed at scene %d part %d, want 0/0", r.SceneIndex, r.PartIndex)
	}
	h.p.Stop()
	if st := h.p.Status(); st.State != Idle {
		t.Errorf("state after stop = %v", st.State)
	}
}

func TestSupersededSessionDoesNotComplete(t *testing.T) {
	h := newHarness(t, splitScenes(), testConfig())
	h.narr.delay = 20 * time.Millisecond
	l := h.p.Subscribe()

	h.p.Play(0)
	first := h.p.Done()
	h.p.Play(0)
	<-first
	h.wait(t)

	completed := 0
	for {
		select {
		case e := <-l.C:
			if e.Kind == EventState && e.State == Completed {
				completed++
			}
			continue
		default:
		}
		break
	}
	if completed != 1 {
		t.Errorf("completed events = %d, want 1", completed)
	}
	if errs := h.errors(); len(errs) != 0 {
		t.Errorf("errors = %v", errs)
	}
}

func TestPreviewScenesPlaysOnlySelection(t *testing.T) {
	h := newHarness(t, splitScenes(), testConfig())

	if err := h.p.PreviewScenes([]int{2}, 0); err != nil {
		t.Fatal(err)
	}
	h.wait(t)

	reqs, _ := h.rend.snapshot()
	if len(reqs) != 1 || reqs[0].SceneIndex != 2 {
		t.Errorf("rendered %+v, want only scene 2", reqs)
	}
	if h.narr.callCount() != 1 {
		t.Errorf("narration calls = %d, want 1", h.narr.callCount())
	}
}

func TestRegenerateSceneShiftsLaterScenes(t *testing.T) {
	h := newHarness(t, splitScenes(), testConfig())
	h.p.Play(0)
	h.wait(t)

	before := h.tr.Segments()
	oldStart := before.Scene(2)[0].Start

	h.narr.setDuration(1, 0.2)
	if err := h.p.RegenerateScene(context.Background(), 1); err != nil {
		t.Fatal(err)
	}

	h.narr.mu.Lock()
	last := h.narr.calls[len(h.narr.calls)-1]
	h.narr.mu.Unlock()
	if last.SceneIndex != 1 || !last.Force {
		t.Errorf("last request = %+v, want forced scene 1", last)
	}
	after := h.tr.Segments()
	if got := after.Scene(2)[0].Start; math.Abs(got-(oldStart+0.14)) > 1e-9 {
		t.Errorf("scene 2 start = %v, want %v", got, oldStart+0.14)
	}
	if got := after.Scene(0)[0].Start; got != 0 {
		t.Errorf("scene 0 moved to %v", got)
	}
	scenes, _ := h.store.Scenes(context.Background())
	if math.Abs(scenes[1].Duration-0.2) > 1e-9 {
		t.Errorf("stored duration = %v, want 0.2", scenes[1].Duration)
	}
}

func TestEditsRejectedWhilePreparing(t *testing.T) {
	h := newHarness(t, splitScenes(), testConfig())
	h.narr.delay = 500 * time.Millisecond

	h.p.Play(0)
	if err := h.p.UpdateSegments(context.Background(), nil); !errors.Is(err, ErrBusy) {
		t.Errorf("UpdateSegments error = %v, want ErrBusy", err)
	}
	if err := h.p.RegenerateScene(context.Background(), 0); !errors.Is(err, ErrBusy) {
		t.Errorf("RegenerateScene error = %v, want ErrBusy", err)
	}
	h.p.Stop()
}

func TestSeekWhileIdle(t *testing.T) {
	h := newHarness(t, splitScenes(), testConfig())
	if err := h.p.Seek(1.5); err != nil {
		t.Fatal(err)
	}
	if st := h.p.Status(); st.ResumeAt != 1.5 || st.State != Idle {
		t.Errorf("status = %+v, want idle with resume at 1.5", st)
	}
}

func TestProgramLength(t *testing.T) {
	scenes := splitScenes()
	table := segment.Build([]segment.Source{
		{PartCount: 2, Parts: []segment.Part{{ContentRef: "x", Duration: 1}, {ContentRef: "y", Duration: 2}}},
		{PartCount: 1, Parts: []segment.Part{{ContentRef: "z", Duration: 1.5}}},
		{PartCount: 1, Parts: []segment.Part{{ContentRef: "w", Duration: 2}}},
	})

	tests := []struct {
		name      string
		order     []int
		startPart int
		speed     float64
		want      float64
	}{
		// 1 + 2 + 1.5 + 2 narration, one slide of 0.05 between "a" and "b"
		{"full", []int{0, 1, 2}, 0, 1, 6.55},
		{"double speed", []int{0, 1, 2}, 0, 2, 3.25 + 0.05},
		{"mid scene", []int{0, 1, 2}, 1, 1, 5.55},
		{"split only", []int{0, 1}, 0, 1, 4.5},
		{"last scene", []int{2}, 0, 1, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := programLength(table, scenes, tt.order, tt.startPart, tt.speed)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("programLength = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMusicFollowsNarration(t *testing.T) {
	h := newHarness(t, splitScenes(), testConfig())
	h.narr.durations[0] = 2
	h.tr.SetMusic(audio.ToneClip(10*time.Second, 0.1))

	h.p.Play(0)
	waitFor(t, "music", func() bool { return h.p.Status().Track.Music })
	h.p.Stop()
	if h.p.Status().Track.Music {
		t.Error("music still playing after stop")
	}
}

func TestPartsQueuedBackToBack(t *testing.T) {
	h := newHarness(t, splitScenes(), testConfig())
	h.narr.setDuration(0, 2)

	h.p.Play(0)
	waitFor(t, "second part queued", func() bool {
		_, ok := h.tr.Unit(0, 1)
		return ok
	})
	first, ok0 := h.tr.Unit(0, 0)
	second, ok1 := h.tr.Unit(0, 1)
	if !ok0 || !ok1 {
		t.Fatal("first part ended before the check")
	}
	if math.Abs(second.StartTime()-first.EndTime()) > 1e-9 {
		t.Errorf("second part starts at %v, first ends at %v", second.StartTime(), first.EndTime())
	}
	h.wait(t)

	if errs := h.errors(); len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if reqs, _ := h.rend.snapshot(); len(reqs) != 4 || reqs[1].PartIndex != 1 {
		t.Errorf("rendered %+v, want both parts of scene 0 then scenes 1 and 2", reqs)
	}
}

// longScenes gives the first scene enough narration for edits to land
// while it plays.
func longScenes() []timeline.Scene {
	return []timeline.Scene{
		{SceneID: "a", Duration: 10, Caption: "alpha"},
		{SceneID: "b", Duration: 0.5, Caption: "beta"},
	}
}

func newLongHarness(t *testing.T) *harness {
	h := newHarness(t, longScenes(), testConfig())
	h.narr.setDuration(0, 10)
	h.narr.setDuration(1, 0.5)
	return h
}

// playInto starts playback and waits until scene 0 has played past sec.
func (h *harness) playInto(t *testing.T, sec float64) {
	t.Helper()
	if err := h.p.Play(0); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "playback into scene 0", func() bool {
		st := h.p.Status()
		return st.State == Playing && st.Scene == 0 && st.Elapsed > sec
	})
}

// finishesCleanly waits out the session and checks it walked both scenes
// without an error.
func (h *harness) finishesCleanly(t *testing.T) {
	t.Helper()
	h.wait(t)
	if errs := h.errors(); len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	reqs, _ := h.rend.snapshot()
	if len(reqs) == 0 || reqs[len(reqs)-1].SceneIndex != 1 {
		t.Errorf("rendered %+v, want playback to reach scene 1", reqs)
	}
	if st := h.p.Status(); st.State != Idle {
		t.Errorf("state = %v, want idle", st.State)
	}
}

func TestRegenerateCurrentSceneShorterRestartsPart(t *testing.T) {
	h := newLongHarness(t)
	h.playInto(t, 5)

	h.narr.setDuration(0, 3)
	if err := h.p.RegenerateScene(context.Background(), 0); err != nil {
		t.Fatal(err)
	}

	st := h.p.Status()
	if st.Track.CurrentScene != 0 {
		t.Errorf("audio moved to scene %d, want scene 0 still playing", st.Track.CurrentScene)
	}
	if u, ok := h.tr.Unit(0, 0); !ok {
		t.Error("scene 0 narration not resumed after regenerate")
	} else if pos := u.Position(h.tr.Now()); pos > 1.5 {
		t.Errorf("resumed at %v, want the start of the shortened part", pos)
	}
	if got := h.tr.Segments().Scene(1)[0].Start; math.Abs(got-3) > 1e-9 {
		t.Errorf("scene 1 start = %v, want 3", got)
	}
	h.finishesCleanly(t)
}

func TestRegenerateCurrentSceneLongerKeepsPlace(t *testing.T) {
	h := newLongHarness(t)
	h.playInto(t, 5)

	h.narr.setDuration(0, 12)
	if err := h.p.RegenerateScene(context.Background(), 0); err != nil {
		t.Fatal(err)
	}

	u, ok := h.tr.Unit(0, 0)
	if !ok {
		t.Fatal("scene 0 narration not resumed after regenerate")
	}
	if pos := u.Position(h.tr.Now()); pos < 5 {
		t.Errorf("resumed at %v, want the position reached before regenerating", pos)
	}
	h.finishesCleanly(t)

	scenes, _ := h.store.Scenes(context.Background())
	if math.Abs(scenes[0].Duration-12) > 1e-9 {
		t.Errorf("stored duration = %v, want 12", scenes[0].Duration)
	}
}

func TestRegenerateLaterSceneWhilePlaying(t *testing.T) {
	h := newLongHarness(t)
	h.playInto(t, 2)

	h.narr.setDuration(1, 1)
	if err := h.p.RegenerateScene(context.Background(), 1); err != nil {
		t.Fatal(err)
	}

	u, ok := h.tr.Unit(0, 0)
	if !ok {
		t.Fatal("scene 0 narration not resumed after regenerating scene 1")
	}
	if pos := u.Position(h.tr.Now()); pos < 2 {
		t.Errorf("resumed at %v, want the position reached before regenerating", pos)
	}
	if got := h.tr.Segments().Scene(1)[0].Duration; math.Abs(got-1) > 1e-9 {
		t.Errorf("scene 1 duration = %v, want 1", got)
	}
	h.finishesCleanly(t)
}

func TestUpdateSegmentsWhilePlaying(t *testing.T) {
	h := newLongHarness(t)
	h.playInto(t, 2)

	table := segment.Build([]segment.Source{
		{PartCount: 1, Parts: []segment.Part{{ContentRef: h.objects.Put([]byte("10")), Duration: 10}}},
		{PartCount: 1, Parts: []segment.Part{{ContentRef: h.objects.Put([]byte("0.8")), Duration: 0.8}}},
	})
	if err := h.p.UpdateSegments(context.Background(), table); err != nil {
		t.Fatal(err)
	}

	u, ok := h.tr.Unit(0, 0)
	if !ok {
		t.Fatal("playback not resumed on the new table")
	}
	if u.Segment.ID != table[0].ID {
		t.Errorf("resumed segment %s, want %s from the new table", u.Segment.ID, table[0].ID)
	}
	if pos := u.Position(h.tr.Now()); pos < 2 {
		t.Errorf("resumed at %v, want the position reached before the update", pos)
	}
	h.finishesCleanly(t)
	if got := h.tr.Segments().End(); math.Abs(got-10.8) > 1e-9 {
		t.Errorf("table end = %v, want 10.8", got)
	}
}

func TestCarryPosition(t *testing.T) {
	table := segment.Build([]segment.Source{
		{PartCount: 2, Parts: []segment.Part{{ContentRef: "a", Duration: 2}, {ContentRef: "b", Duration: 1}}},
		{PartCount: 1, Parts: []segment.Part{{ContentRef: "c", Duration: 4}}},
	})
	live := segment.Segment{Start: 5, Duration: 6, SceneIndex: 1, PartIndex: 0}

	tests := []struct {
		name string
		live segment.Segment
		pos  float64
		want float64
	}{
		{"offset fits", live, 7, 5},
		{"offset past new end", live, 10, 3},
		{"part gone", segment.Segment{Start: 0, Duration: 2, SceneIndex: 0, PartIndex: 3}, 1, 2},
		{"scene gone", segment.Segment{Start: 9, Duration: 1, SceneIndex: 4}, 9.5, 9.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := carryPosition(table, tt.live, tt.pos); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("carryPosition = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSupersededNarrationReleased(t *testing.T) {
	h := newHarness(t, splitScenes(), testConfig())
	stale := h.objects.Put([]byte("0.5"))

	h.p.Play(0)
	h.wait(t)

	if _, err := h.objects.Get(stale); !errors.Is(err, loader.ErrObjectNotFound) {
		t.Errorf("unreferenced object still held: %v", err)
	}
	if n := h.objects.Len(); n != 4 {
		t.Errorf("held objects = %d, want one per narrated part (4)", n)
	}

	old := h.tr.Segments().Scene(1)[0].ContentRef
	if err := h.p.RegenerateScene(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	if _, err := h.objects.Get(old); !errors.Is(err, loader.ErrObjectNotFound) {
		t.Errorf("replaced narration still held: %v", err)
	}
	if n := h.objects.Len(); n != 4 {
		t.Errorf("held objects after regenerate = %d, want 4", n)
	}
	if ref := h.tr.Segments().Scene(1)[0].ContentRef; ref == old {
		t.Error("scene 1 still plays the old narration")
	}
}

func TestSoundCheck(t *testing.T) {
	h := newHarness(t, splitScenes(), testConfig())
	if err := h.p.SoundCheck(); err != nil {
		t.Fatal(err)
	}
	if n := h.engine.ActiveVoices(); n != 1 {
		t.Errorf("active voices = %d, want the tone", n)
	}

	h.narr.delay = 200 * time.Millisecond
	h.p.Play(0)
	if err := h.p.SoundCheck(); !errors.Is(err, ErrBusy) {
		t.Errorf("SoundCheck during a session = %v, want ErrBusy", err)
	}
}
