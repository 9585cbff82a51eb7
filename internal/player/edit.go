package player

import (
	"context"
	"fmt"

	"github.com/satindergrewal/reelpreview/internal/segment"
	"github.com/satindergrewal/reelpreview/internal/synth"
)

// livePosition returns the timeline position of the unit currently sounding
// in the session and the segment it belongs to, if any.
func (p *Player) livePosition() (float64, segment.Segment, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sess == nil || p.sess.unit == nil {
		return 0, segment.Segment{}, false
	}
	u := p.sess.unit
	select {
	case <-u.Done():
		return 0, segment.Segment{}, false
	default:
	}
	return u.Position(p.track.Now()), u.Segment, true
}

// carryPosition maps pos, a point inside live, onto the same scene part in
// next. The offset into the part is kept while the new part is long enough
// to hold it; otherwise the part restarts. A scene left with fewer parts
// resumes at its last one.
func carryPosition(next segment.Table, live segment.Segment, pos float64) float64 {
	parts := next.Scene(live.SceneIndex)
	if len(parts) == 0 {
		return pos
	}
	target, err := parts.Find(live.SceneIndex, live.PartIndex)
	if err != nil {
		target = parts[len(parts)-1]
	}
	offset := pos - live.Start
	if offset < 0 || offset >= target.Duration {
		return target.Start
	}
	return target.Start + offset
}

func (p *Player) checkEditable() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == Preparing {
		return ErrBusy
	}
	return nil
}

// UpdateSegments swaps in a whole new segment table. A live session keeps
// playing from its current position on the new table.
func (p *Player) UpdateSegments(ctx context.Context, table segment.Table) error {
	if err := p.checkEditable(); err != nil {
		return err
	}
	p.reload.Lock()
	defer p.reload.Unlock()

	var at *float64
	if pos, live, ok := p.livePosition(); ok {
		next := table.Clone()
		next.Sort()
		pos = carryPosition(next, live, pos)
		at = &pos
	}
	return p.track.UpdateSegments(ctx, table, at)
}

// ReplaceSceneSegments splices new narration segments into one scene. Later
// scenes shift by the change in that scene's length. A live session keeps
// its place in the part it was playing; when that part is in the replaced
// scene and no longer reaches the old offset, the part restarts.
func (p *Player) ReplaceSceneSegments(ctx context.Context, sceneIndex int, segs []segment.Segment) error {
	if err := p.checkEditable(); err != nil {
		return err
	}
	p.reload.Lock()
	defer p.reload.Unlock()

	var at *float64
	if pos, live, ok := p.livePosition(); ok {
		next := p.track.Segments().ReplaceScene(sceneIndex, segs)
		pos = carryPosition(next, live, pos)
		at = &pos
	}
	return p.track.ReplaceSceneSegments(ctx, sceneIndex, segs, at)
}

// RegenerateScene forces new narration for one scene, corrects its stored
// duration and splices the result in, even mid-playback.
func (p *Player) RegenerateScene(ctx context.Context, sceneIndex int) error {
	p.mu.Lock()
	cfg := p.cfg
	p.mu.Unlock()
	if cfg.VoiceID == "" {
		return &ValidationError{Field: "voice", Message: "no narration voice selected"}
	}
	if err := p.checkEditable(); err != nil {
		return err
	}

	scenes, err := p.store.Scenes(ctx)
	if err != nil {
		return fmt.Errorf("read timeline: %w", err)
	}
	if sceneIndex < 0 || sceneIndex >= len(scenes) {
		return &ValidationError{Field: "scene", Message: fmt.Sprintf("index %d out of range", sceneIndex)}
	}
	parts := scenes[sceneIndex].Parts(cfg.PartDelimiter)

	p.cache.Invalidate(sceneIndex)
	if err := p.narrateScene(ctx, sceneIndex, parts, cfg.VoiceID, true); err != nil {
		return &PreparationError{Scene: sceneIndex, Err: err}
	}

	cached, _ := p.cache.Get(sceneIndex, synth.Key(cfg.VoiceID, parts))
	src := segment.Source{Estimate: scenes[sceneIndex].Duration, PartCount: len(parts)}
	var measured float64
	for _, c := range cached {
		src.Parts = append(src.Parts, segment.Part{ContentRef: c.ContentRef, Duration: c.Duration})
		measured += c.Duration
	}
	if err := p.store.UpdateSceneDuration(ctx, sceneIndex, measured); err != nil {
		p.logger.Warn("duration correction failed", "scene", sceneIndex, "error", err)
	}

	p.mu.Lock()
	if sceneIndex < len(p.parts) {
		p.parts[sceneIndex] = parts
	}
	p.mu.Unlock()

	segs := segment.SceneSegments(sceneIndex, src, 0)
	p.logger.Info("scene regenerated", "scene", sceneIndex, "parts", len(segs), "duration", measured)
	err = p.ReplaceSceneSegments(ctx, sceneIndex, segs)
	p.collect()
	return err
}
