package player

import (
	"context"
	"fmt"
	"time"

	"github.com/satindergrewal/reelpreview/internal/render"
	"github.com/satindergrewal/reelpreview/internal/segment"
	"github.com/satindergrewal/reelpreview/internal/timeline"
	"github.com/satindergrewal/reelpreview/internal/track"
)

// playPlan walks the planned scenes. Each part's visual is rendered before
// its narration is scheduled, and only the narration's completion advances.
// The next part of the same scene is queued to start on the sample where the
// current one ends.
func (p *Player) playPlan(sess *session, pl *plan) error {
	ctx := sess.ctx

	p.mu.Lock()
	cfg := p.cfg
	p.mu.Unlock()

	musicStarted := false
	prev := -1
	for i, k := range pl.order {
		sc := pl.scenes[k]
		if err := p.enterScene(ctx, k); err != nil {
			return err
		}

		first := 0
		if i == 0 {
			first = pl.start
		}
		for j := first; ; j++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			if !p.hasPart(k, j) {
				break
			}

			req := render.Request{
				SceneIndex: k,
				PartIndex:  j,
				Scene:      sc,
				Caption:    p.caption(k, j),
				Previous:   prev,
			}
			switch {
			case j > first:
				req.SkipAnimation = true
				req.Previous = k
			case prev >= 0 && sc.Continues(pl.scenes[prev]):
				req.SkipAnimation = true
			case prev >= 0 && pl.scenes[prev].HasTransition():
				out := pl.scenes[prev]
				req.Transition = out.Transition
				req.TransitionDuration = out.TransitionDuration
			}

			p.setPosition(sess, k, j, nil)
			if err := p.drawPart(ctx, req); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return &PlaybackError{Scene: k, Part: j, Err: fmt.Errorf("render: %w", err)}
			}

			u := p.takeQueued(sess, k, j)
			if u == nil {
				var err error
				if u, err = p.schedulePart(sess, k, j); err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					return &PlaybackError{Scene: k, Part: j, Err: err}
				}
			}
			if !musicStarted {
				musicStarted = true
				p.startMusic(u, pl, cfg)
			}
			p.setPosition(sess, k, j, u)
			p.queueNext(sess, u)

			var err error
			if j, err = p.await(sess, u, k, j, cfg.ProgressInterval); err != nil {
				return err
			}
		}
		prev = k
	}
	return nil
}

// enterScene silences audio and visuals left over from other scenes.
func (p *Player) enterScene(ctx context.Context, k int) error {
	p.visual.Lock()
	defer p.visual.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	p.track.StopScenesExcept(k)
	p.renderer.StopOthers(k)
	return nil
}

// drawPart renders one part unless ctx is already done.
func (p *Player) drawPart(ctx context.Context, req render.Request) error {
	p.visual.Lock()
	defer p.visual.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.renderer.RenderScene(ctx, req)
}

func (p *Player) hasPart(k, j int) bool {
	_, err := p.segments().Find(k, j)
	return err == nil
}

// schedulePart plays scene k part j as soon as the audio clock allows. The
// table read and the scheduling happen under the reload read lock so a
// concurrent swap cannot leave a stale segment scheduled.
func (p *Player) schedulePart(sess *session, k, j int) (*track.Unit, error) {
	p.reload.RLock()
	defer p.reload.RUnlock()

	seg, err := p.track.Segments().Find(k, j)
	if err != nil {
		return nil, err
	}
	u, err := p.track.PlaySegment(seg, p.track.Now())
	if err != nil {
		return nil, err
	}
	if err := sess.ctx.Err(); err != nil {
		// superseded while scheduling
		p.track.StopUnit(u)
		return nil, err
	}
	return u, nil
}

// queueNext lines up the part after u so there is no gap between them and
// remembers it for the walker, which still waits for u to complete first.
func (p *Player) queueNext(sess *session, u *track.Unit) {
	p.reload.RLock()
	next, ok := p.track.QueueAfter(u)
	p.reload.RUnlock()
	if !ok {
		next = nil
	}
	p.mu.Lock()
	sess.queued = next
	p.mu.Unlock()
}

// takeQueued returns the unit queued for scene k part j, unless a table
// swap or a stop has ended it early.
func (p *Player) takeQueued(sess *session, k, j int) *track.Unit {
	p.mu.Lock()
	u := sess.queued
	sess.queued = nil
	p.mu.Unlock()
	if u == nil || u.Segment.SceneIndex != k || u.Segment.PartIndex != j || u.Stopped() {
		return nil
	}
	return u
}

// await blocks until u completes. If u is stopped by a table swap rather
// than by the session ending, the walker continues on the unit that resumed
// playback, which may belong to a later part of the same scene. It returns
// the part index it finished on.
func (p *Player) await(sess *session, u *track.Unit, k, j int, interval time.Duration) (int, error) {
	ctx := sess.ctx
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return j, ctx.Err()
		case <-ticker.C:
			p.progress(sess, u.Position(p.track.Now()))
		case <-u.Done():
			if ctx.Err() != nil {
				return j, ctx.Err()
			}
			if u.Completed() {
				p.progress(sess, u.Segment.End())
				return j, nil
			}
			r, ok := p.replacement(k)
			if !ok {
				return j, &PlaybackError{Scene: k, Part: j, Err: ErrUnitStopped}
			}
			p.logger.Debug("narration replaced mid-part", "scene", k, "part", j, "segment", r.Segment.ID)
			u, j = r, r.Segment.PartIndex
			p.setPosition(sess, k, j, u)
			p.queueNext(sess, u)
		}
	}
}

// replacement waits for any reload in progress and returns the earliest
// live unit of scene k, which is where the reload resumed playback.
func (p *Player) replacement(k int) (*track.Unit, bool) {
	for _, s := range p.segments().Scene(k) {
		if u, ok := p.track.Unit(k, s.PartIndex); ok {
			return u, true
		}
	}
	return nil, false
}

// startMusic aligns the music bed with u and fades it out as the planned
// program ends.
func (p *Player) startMusic(u *track.Unit, pl *plan, cfg Config) {
	if !p.track.HasMusic() {
		return
	}
	end := programLength(p.segments(), pl.scenes, pl.order, pl.start, cfg.Speed)
	_, err := p.track.StartMusicWith(u, track.Fade{
		Gain:     cfg.MusicVolume,
		End:      end,
		Duration: cfg.MusicFadeOut,
	})
	if err != nil {
		p.logger.Warn("music not started", "error", err)
		return
	}
	p.logger.Debug("music started", "fade_end", end)
}

// programLength is the wall time from the first planned part to the end of
// the last: narration scaled by speed, plus every transition between scenes
// with different scene IDs. Nothing follows the last scene.
func programLength(table segment.Table, scenes []timeline.Scene, order []int, startPart int, speed float64) float64 {
	if speed <= 0 {
		speed = 1
	}
	var total float64
	for i, k := range order {
		for _, s := range table.Scene(k) {
			if i == 0 && s.PartIndex < startPart {
				continue
			}
			total += s.Duration / speed
		}
		if i+1 < len(order) {
			out, in := scenes[k], scenes[order[i+1]]
			if !in.Continues(out) && out.HasTransition() {
				total += out.TransitionDuration
			}
		}
	}
	return total
}

func (p *Player) caption(k, j int) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if k < len(p.parts) && j < len(p.parts[k]) {
		return p.parts[k][j]
	}
	return ""
}

func (p *Player) setPosition(sess *session, k, j int, u *track.Unit) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sess != sess {
		return
	}
	sess.scene, sess.part, sess.unit = k, j, u
	p.lastScene = k
}

// progress is advisory: it never drives advancement.
func (p *Player) progress(sess *session, pos float64) {
	p.mu.Lock()
	if p.sess != sess {
		p.mu.Unlock()
		return
	}
	p.elapsed = pos
	cb := p.cb.OnCurrentTime
	scene, part := sess.scene, sess.part
	p.mu.Unlock()

	if cb != nil {
		cb(pos)
	}
	p.publish(Event{Kind: EventProgress, Session: sess.id.String(), Scene: scene, Part: part, Time: pos})
}
