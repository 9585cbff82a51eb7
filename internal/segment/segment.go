// Package segment holds the narration segment table: an ordered,
// non-overlapping list of audio segments anchored on the shared timeline.
package segment

import (
	"errors"
	"fmt"
	"sort"
)

// ErrNotFound is returned when no segment matches a lookup.
var ErrNotFound = errors.New("segment not found")

// boundaryEpsilon absorbs float rounding when comparing shared boundaries.
const boundaryEpsilon = 1e-9

// Segment is one contiguous unit of narration audio on the timeline.
type Segment struct {
	ID         string  `json:"id"`
	ContentRef string  `json:"content_ref,omitempty"`
	Start      float64 `json:"start"`
	Duration   float64 `json:"duration"`
	SceneIndex int     `json:"scene_index"`
	PartIndex  int     `json:"part_index"`
}

// End returns Start+Duration.
func (s Segment) End() float64 {
	return s.Start + s.Duration
}

// Available reports whether the segment has content to load.
func (s Segment) Available() bool {
	return s.ContentRef != ""
}

// Contains reports whether t falls inside [Start, End).
func (s Segment) Contains(t float64) bool {
	return t >= s.Start && t < s.End()
}

// Active is the segment containing a queried time plus the offset into it.
type Active struct {
	Segment Segment
	Offset  float64
	Index   int
}

// Table is an ordered segment list. The zero value is an empty table.
type Table []Segment

// Sort orders the table by start time, keeping scene/part order for ties.
func (t Table) Sort() {
	sort.SliceStable(t, func(i, j int) bool {
		if t[i].Start != t[j].Start {
			return t[i].Start < t[j].Start
		}
		if t[i].SceneIndex != t[j].SceneIndex {
			return t[i].SceneIndex < t[j].SceneIndex
		}
		return t[i].PartIndex < t[j].PartIndex
	})
}

// Clone returns an independent copy.
func (t Table) Clone() Table {
	if t == nil {
		return nil
	}
	out := make(Table, len(t))
	copy(out, t)
	return out
}

// Active returns the segment whose interval contains at. At or after the end
// of the final segment it returns that segment with Offset = Duration. A time
// on a shared boundary resolves to the later segment.
func (t Table) Active(at float64) (Active, bool) {
	if len(t) == 0 || at < t[0].Start {
		return Active{}, false
	}
	for i, s := range t {
		if s.Contains(at) {
			return Active{Segment: s, Offset: at - s.Start, Index: i}, true
		}
	}
	last := len(t) - 1
	if at >= t[last].End() {
		return Active{Segment: t[last], Offset: t[last].Duration, Index: last}, true
	}
	return Active{}, false
}

// Find returns the segment for a scene part.
func (t Table) Find(sceneIndex, partIndex int) (Segment, error) {
	for _, s := range t {
		if s.SceneIndex == sceneIndex && s.PartIndex == partIndex {
			return s, nil
		}
	}
	return Segment{}, fmt.Errorf("scene %d part %d: %w", sceneIndex, partIndex, ErrNotFound)
}

// Scene returns the segments belonging to one scene, in table order.
func (t Table) Scene(sceneIndex int) Table {
	var out Table
	for _, s := range t {
		if s.SceneIndex == sceneIndex {
			out = append(out, s)
		}
	}
	return out
}

// Duration returns the sum of segment durations.
func (t Table) Duration() float64 {
	var total float64
	for _, s := range t {
		total += s.Duration
	}
	return total
}

// End returns the end of the last segment, or 0 for an empty table.
func (t Table) End() float64 {
	if len(t) == 0 {
		return 0
	}
	return t[len(t)-1].End()
}

// Validate checks the table invariants: sorted by start, non-negative
// durations, and no overlap beyond shared boundaries.
func (t Table) Validate() error {
	for i, s := range t {
		if s.Duration < 0 {
			return fmt.Errorf("segment %s: negative duration %v", s.ID, s.Duration)
		}
		if i == 0 {
			continue
		}
		prev := t[i-1]
		if s.Start < prev.Start {
			return fmt.Errorf("segment %s: starts at %v before previous %v", s.ID, s.Start, prev.Start)
		}
		if s.Start < prev.End()-boundaryEpsilon {
			return fmt.Errorf("segment %s: overlaps %s (%v < %v)", s.ID, prev.ID, s.Start, prev.End())
		}
	}
	return nil
}

// ReplaceScene returns a new table where the segments of sceneIndex are
// replaced by repl. The replacement is laid out back-to-back from the old
// scene's first start, and every segment of a later scene shifts by the
// change in the scene's total duration. Segments of earlier scenes are
// untouched.
func (t Table) ReplaceScene(sceneIndex int, repl []Segment) Table {
	old := t.Scene(sceneIndex)
	delta := Table(repl).Duration() - old.Duration()

	anchor := 0.0
	if len(old) > 0 {
		anchor = old[0].Start
	} else {
		for _, s := range t {
			if s.SceneIndex < sceneIndex && s.End() > anchor {
				anchor = s.End()
			}
		}
	}

	out := make(Table, 0, len(t)-len(old)+len(repl))
	for _, s := range t {
		switch {
		case s.SceneIndex == sceneIndex:
			continue
		case s.SceneIndex > sceneIndex:
			s.Start += delta
		}
		out = append(out, s)
	}

	pos := anchor
	for i, s := range repl {
		s.SceneIndex = sceneIndex
		s.PartIndex = i
		s.Start = pos
		pos += s.Duration
		out = append(out, s)
	}

	out.Sort()
	return out
}
