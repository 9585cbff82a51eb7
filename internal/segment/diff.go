package segment

import "sort"

// Diff describes how a rebuilt table differs from the current one.
type Diff struct {
	Added   []string // IDs only in the new table
	Removed []string // IDs only in the old table
	Moved   []string // IDs in both with a different start or duration
	// Scenes lists scene indices whose content changed, ascending.
	Scenes []int
}

// Empty reports whether the tables are equivalent.
func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Moved) == 0
}

// Compare diffs old against next by segment ID.
func Compare(old, next Table) Diff {
	oldByID := make(map[string]Segment, len(old))
	for _, s := range old {
		oldByID[s.ID] = s
	}
	newByID := make(map[string]Segment, len(next))
	for _, s := range next {
		newByID[s.ID] = s
	}

	var d Diff
	scenes := map[int]struct{}{}
	for _, s := range next {
		prev, ok := oldByID[s.ID]
		if !ok {
			d.Added = append(d.Added, s.ID)
			scenes[s.SceneIndex] = struct{}{}
			continue
		}
		if !sameTiming(prev, s) {
			d.Moved = append(d.Moved, s.ID)
		}
	}
	for _, s := range old {
		if _, ok := newByID[s.ID]; !ok {
			d.Removed = append(d.Removed, s.ID)
			scenes[s.SceneIndex] = struct{}{}
		}
	}

	for idx := range scenes {
		d.Scenes = append(d.Scenes, idx)
	}
	sort.Ints(d.Scenes)
	return d
}

// SingleScene reports whether the change is confined to one scene's content,
// with every other difference being a shift of later scenes. Such a change
// can be applied with Table.ReplaceScene instead of a full rebuild.
func (d Diff) SingleScene(old, next Table) (int, bool) {
	if len(d.Scenes) != 1 {
		return 0, false
	}
	scene := d.Scenes[0]
	if len(old.Scene(scene)) == 0 {
		return 0, false
	}
	byID := make(map[string]Segment, len(next))
	for _, s := range next {
		byID[s.ID] = s
	}
	for _, id := range d.Moved {
		if byID[id].SceneIndex <= scene {
			return 0, false
		}
	}
	return scene, true
}

func sameTiming(a, b Segment) bool {
	const eps = 1e-6
	ds := a.Start - b.Start
	dd := a.Duration - b.Duration
	return ds < eps && ds > -eps && dd < eps && dd > -eps
}
