package track

import "time"

// startLookaheadLocked replaces any running lookahead loop with a fresh one.
// Must be called with mu held.
func (t *Track) startLookaheadLocked() {
	t.stopLookaheadLocked()
	stop := make(chan struct{})
	t.lookaheadStop = stop
	go t.lookahead(stop)
}

func (t *Track) stopLookaheadLocked() {
	if t.lookaheadStop != nil {
		close(t.lookaheadStop)
		t.lookaheadStop = nil
	}
}

// lookahead keeps the next same-scene segment queued on the audio clock
// while the last scheduled unit is within the lookahead window. It exits at
// the end of the scene or the table, or when superseded.
func (t *Track) lookahead(stop chan struct{}) {
	ticker := time.NewTicker(t.cfg.LookaheadInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		notes, more := t.lookaheadTick(stop)
		fire(notes)
		if !more {
			return
		}
	}
}

// lookaheadTick schedules at most one segment. It reports false once there
// is nothing left for this loop to do.
func (t *Track) lookaheadTick(stop chan struct{}) ([]func(), bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.lookaheadStop != stop {
		return nil, false
	}
	now := t.engine.Now()
	if t.lastEnd-now > t.cfg.LookaheadWindow {
		return nil, true
	}

	idx := t.lastIndex + 1
	if t.lastIndex < 0 || idx >= len(t.segments) {
		t.stopLookaheadLocked()
		return nil, false
	}
	prev, next := t.segments[t.lastIndex], t.segments[idx]
	if next.SceneIndex != prev.SceneIndex || !t.isAllowed(next.SceneIndex) {
		t.stopLookaheadLocked()
		return nil, false
	}
	clip := t.buffers[next.ID]
	if clip == nil {
		t.logger.Warn("lookahead: no buffer for segment",
			"segment", next.ID, "scene", next.SceneIndex, "part", next.PartIndex)
		t.stopLookaheadLocked()
		return nil, false
	}

	at := t.lastEnd
	if at < now {
		at = now
	}
	u, note := t.scheduleLocked(next, clip, at, 0)
	t.lastIndex, t.lastEnd = idx, u.end
	return appendNote(nil, note), true
}
