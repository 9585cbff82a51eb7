package segment

import (
	"fmt"

	"github.com/google/uuid"
)

// idNamespace scopes segment IDs derived from scene position and content.
var idNamespace = uuid.MustParse("6f0c8a52-3d1e-4c55-9a7e-2b8f1d4e7c90")

// Part is the cached narration of one caption part.
type Part struct {
	ContentRef string
	Duration   float64
}

// Source describes one scene for table construction.
type Source struct {
	// Estimate is the scene's recorded display duration, used to place
	// parts whose narration has not been synthesized yet.
	Estimate float64
	// PartCount is the number of caption parts in the scene.
	PartCount int
	// Parts holds cached narration by part index; it may be shorter than
	// PartCount or contain empty entries.
	Parts []Part
}

// NewID derives a stable segment ID from the segment's position and content.
// Regenerated narration gets a new ID.
func NewID(sceneIndex, partIndex int, contentRef string) string {
	name := fmt.Sprintf("%d/%d/%s", sceneIndex, partIndex, contentRef)
	return uuid.NewSHA1(idNamespace, []byte(name)).String()
}

// Build lays out every scene's parts back-to-back on the timeline. Parts
// with narration use the measured duration; the rest split the scene
// estimate evenly and carry no content reference.
func Build(sources []Source) Table {
	var table Table
	pos := 0.0
	for sceneIdx, src := range sources {
		table = append(table, SceneSegments(sceneIdx, src, pos)...)
		pos = table.End()
	}
	return table
}

// SceneSegments builds the segments of one scene starting at start.
func SceneSegments(sceneIndex int, src Source, start float64) Table {
	count := src.PartCount
	if count < 1 {
		count = 1
	}
	estimate := 0.0
	if src.Estimate > 0 {
		estimate = src.Estimate / float64(count)
	}

	out := make(Table, 0, count)
	pos := start
	for p := 0; p < count; p++ {
		var part Part
		if p < len(src.Parts) {
			part = src.Parts[p]
		}
		dur := estimate
		ref := ""
		if part.ContentRef != "" && part.Duration > 0 {
			dur = part.Duration
			ref = part.ContentRef
		}
		out = append(out, Segment{
			ID:         NewID(sceneIndex, p, ref),
			ContentRef: ref,
			Start:      pos,
			Duration:   dur,
			SceneIndex: sceneIndex,
			PartIndex:  p,
		})
		pos += dur
	}
	return out
}
