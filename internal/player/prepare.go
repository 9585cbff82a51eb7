package player

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/satindergrewal/reelpreview/internal/segment"
	"github.com/satindergrewal/reelpreview/internal/synth"
	"github.com/satindergrewal/reelpreview/internal/timeline"
)

// plan is what a prepared session plays.
type plan struct {
	scenes []timeline.Scene
	parts  [][]string
	order  []int // scene indices to play, in order
	start  int   // first part of order[0]
}

// prepare synthesizes missing narration, corrects stored durations, rebuilds
// the segment table and verifies every part that will play is usable.
func (p *Player) prepare(sess *session) (*plan, error) {
	ctx := sess.ctx

	p.mu.Lock()
	cfg := p.cfg
	preview := p.preview
	p.mu.Unlock()

	scenes, err := p.store.Scenes(ctx)
	if err != nil {
		return nil, &PreparationError{Scene: -1, Err: fmt.Errorf("read timeline: %w", err)}
	}
	if len(scenes) == 0 {
		return nil, &PreparationError{Scene: -1, Err: ErrNoScenes}
	}
	parts := make([][]string, len(scenes))
	for i, sc := range scenes {
		parts[i] = sc.Parts(cfg.PartDelimiter)
	}

	// Locate the starting scene on the table as it stands, estimates
	// included, so narration ahead of it is not synthesized.
	estimate := segment.Build(p.sources(scenes, parts, cfg.VoiceID))
	startScene, startPart := 0, 0
	if active, ok := estimate.Active(sess.from); ok {
		startScene, startPart = active.Segment.SceneIndex, active.Segment.PartIndex
	}
	order := playOrder(len(scenes), startScene, preview)
	if len(order) == 0 {
		return nil, &PreparationError{Scene: -1, Err: errors.New("no scenes selected for playback")}
	}
	if order[0] != startScene {
		startPart = 0
	}

	var musicWG sync.WaitGroup
	if cfg.MusicRef != "" && !p.track.HasMusic() {
		musicWG.Add(1)
		go func() {
			defer musicWG.Done()
			if err := p.track.LoadMusic(ctx, cfg.MusicRef); err != nil {
				p.logger.Warn("music unavailable, playing without it", "ref", cfg.MusicRef, "error", err)
			}
		}()
	}

	synthErr := p.synthesize(ctx, scenes, parts, order, cfg)
	musicWG.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.correctDurations(ctx, scenes, parts, cfg.VoiceID, cfg.DurationTolerance)

	next := segment.Build(p.sources(scenes, parts, cfg.VoiceID))
	for _, k := range order {
		for _, s := range next.Scene(k) {
			if !s.Available() || s.Duration <= 0 {
				cause := synthErr
				if cause == nil {
					cause = errors.New("narration missing")
				}
				return nil, &PreparationError{Scene: k, Part: s.PartIndex, Err: cause}
			}
		}
	}

	if err := p.applyTable(ctx, next); err != nil {
		return nil, &PreparationError{Scene: -1, Err: err}
	}
	p.collect()

	p.mu.Lock()
	if p.sess == sess {
		p.scenes = scenes
		p.parts = parts
	}
	p.mu.Unlock()

	p.logger.Info("prepared", "session", sess.id, "scenes", len(order), "segments", len(next), "duration", next.End())
	return &plan{scenes: scenes, parts: parts, order: order, start: startPart}, nil
}

// playOrder lists the scenes to play from start, restricted to preview when
// one is set.
func playOrder(n, start int, preview []int) []int {
	var allowed map[int]bool
	if preview != nil {
		allowed = make(map[int]bool, len(preview))
		for _, k := range preview {
			allowed[k] = true
		}
	}
	var order []int
	for k := start; k < n; k++ {
		if allowed == nil || allowed[k] {
			order = append(order, k)
		}
	}
	return order
}

// synthesize requests narration for every scene in order that is not fully
// cached, BatchSize scenes at a time with BatchDelay between batches. It
// returns the first synthesis error; the caller decides whether it matters.
func (p *Player) synthesize(ctx context.Context, scenes []timeline.Scene, parts [][]string, order []int, cfg Config) error {
	var pending []int
	for _, k := range order {
		key := synth.Key(cfg.VoiceID, parts[k])
		if !p.cache.Complete(k, key, len(parts[k])) {
			pending = append(pending, k)
		}
	}
	if len(pending) == 0 {
		return nil
	}
	p.logger.Info("synthesizing narration", "scenes", len(pending), "batch_size", cfg.BatchSize)

	var (
		mu       sync.Mutex
		firstErr error
	)
	for i := 0; i < len(pending); i += cfg.BatchSize {
		if i > 0 && cfg.BatchDelay > 0 {
			t := time.NewTimer(cfg.BatchDelay)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}

		batch := pending[i:min(i+cfg.BatchSize, len(pending))]
		var wg sync.WaitGroup
		for _, k := range batch {
			wg.Add(1)
			go func(k int) {
				defer wg.Done()
				if err := p.narrateScene(ctx, k, parts[k], cfg.VoiceID, false); err != nil {
					p.logger.Warn("synthesis failed", "scene", k, "error", err)
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
				}
			}(k)
		}
		wg.Wait()
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return firstErr
}

func (p *Player) narrateScene(ctx context.Context, k int, parts []string, voiceID string, force bool) error {
	p.narrating.RLock()
	defer p.narrating.RUnlock()

	out, err := p.narrator.EnsureSceneNarration(ctx, synth.Request{
		SceneIndex: k,
		Parts:      parts,
		VoiceID:    voiceID,
		Force:      force,
	})
	if err != nil {
		return err
	}
	if len(out) != len(parts) {
		return fmt.Errorf("scene %d: got %d clips for %d parts", k, len(out), len(parts))
	}
	p.cache.Put(k, synth.Key(voiceID, parts), out)
	return nil
}

// correctDurations writes measured narration length back to the store for
// every fully narrated scene whose recorded duration disagrees.
func (p *Player) correctDurations(ctx context.Context, scenes []timeline.Scene, parts [][]string, voiceID string, tolerance float64) {
	for k := range scenes {
		measured, ok := p.measured(k, parts[k], voiceID)
		if !ok || math.Abs(measured-scenes[k].Duration) <= tolerance {
			continue
		}
		if err := p.store.UpdateSceneDuration(ctx, k, measured); err != nil {
			p.logger.Warn("duration correction failed", "scene", k, "error", err)
			continue
		}
		p.logger.Debug("scene duration corrected", "scene", k, "from", scenes[k].Duration, "to", measured)
		scenes[k].Duration = measured
	}
}

func (p *Player) measured(k int, parts []string, voiceID string) (float64, bool) {
	key := synth.Key(voiceID, parts)
	if !p.cache.Complete(k, key, len(parts)) {
		return 0, false
	}
	cached, _ := p.cache.Get(k, key)
	var total float64
	for _, c := range cached {
		total += c.Duration
	}
	return total, true
}

// sources converts scenes plus cached narration into segment table input.
func (p *Player) sources(scenes []timeline.Scene, parts [][]string, voiceID string) []segment.Source {
	out := make([]segment.Source, len(scenes))
	for k, sc := range scenes {
		src := segment.Source{Estimate: sc.Duration, PartCount: len(parts[k])}
		if cached, ok := p.cache.Get(k, synth.Key(voiceID, parts[k])); ok {
			for _, c := range cached {
				src.Parts = append(src.Parts, segment.Part{ContentRef: c.ContentRef, Duration: c.Duration})
			}
		}
		out[k] = src
	}
	return out
}

// applyTable hands next to the scheduler unless nothing changed. A change
// confined to one scene is spliced in rather than rebuilt.
func (p *Player) applyTable(ctx context.Context, next segment.Table) error {
	p.reload.Lock()
	defer p.reload.Unlock()

	old := p.track.Segments()
	d := segment.Compare(old, next)
	if d.Empty() && len(old) > 0 && p.allBuffered(next) {
		return nil
	}
	if k, ok := d.SingleScene(old, next); ok {
		return p.track.ReplaceSceneSegments(ctx, k, next.Scene(k), nil)
	}
	return p.track.UpdateSegments(ctx, next, nil)
}

// allBuffered reports whether every available segment has decoded audio. A
// table whose earlier load partly failed is reloaded even if unchanged.
func (p *Player) allBuffered(table segment.Table) bool {
	for _, s := range table {
		if s.Available() && !p.track.Buffered(s.ID) {
			return false
		}
	}
	return true
}
