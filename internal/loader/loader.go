// Package loader fetches and decodes narration and music content into
// in-memory clips through a bounded worker pool.
package loader

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dustin/go-humanize"

	"github.com/satindergrewal/reelpreview/internal/audio"
	"github.com/satindergrewal/reelpreview/internal/segment"
)

// DefaultWorkers is the number of fetch+decode jobs kept in flight.
const DefaultWorkers = 6

// DecodeFunc turns an encoded payload into a clip.
type DecodeFunc func(ctx context.Context, data []byte) (*audio.Clip, error)

// LoadError reports a fetch or decode failure for one content reference.
// Preload logs it and keeps going; it only matters if the segment is later
// required for playback.
type LoadError struct {
	Ref string
	Err error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %v", e.Ref, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// Loader fetches and decodes content references.
type Loader struct {
	fetch   Fetcher
	decode  DecodeFunc
	workers int
	logger  *slog.Logger
}

// New creates a loader. workers <= 0 selects DefaultWorkers; a nil decode
// selects audio.Decode.
func New(fetch Fetcher, decode DecodeFunc, workers int, logger *slog.Logger) *Loader {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if decode == nil {
		decode = audio.Decode
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{fetch: fetch, decode: decode, workers: workers, logger: logger}
}

// Load fetches and decodes a single reference.
func (l *Loader) Load(ctx context.Context, ref string) (*audio.Clip, error) {
	data, err := l.fetch.Fetch(ctx, ref)
	if err != nil {
		return nil, &LoadError{Ref: ref, Err: err}
	}
	clip, err := l.decode(ctx, data)
	if err != nil {
		return nil, &LoadError{Ref: ref, Err: err}
	}
	return clip, nil
}

type job struct {
	ref string
	ids []string
}

type result struct {
	job  job
	clip *audio.Clip
	err  error
}

// Preload loads every segment that has a content reference and returns the
// clips keyed by segment ID. Segments without a reference are skipped. A
// failed segment is logged and left out; it never aborts the batch. At most
// the configured number of loads run at once, taken from a FIFO queue and
// refilled as each one completes. Segments sharing a reference are fetched
// once.
func (l *Loader) Preload(ctx context.Context, segments segment.Table) map[string]*audio.Clip {
	var jobs []job
	byRef := make(map[string]int)
	skipped := 0
	for _, s := range segments {
		if !s.Available() {
			skipped++
			continue
		}
		if i, ok := byRef[s.ContentRef]; ok {
			jobs[i].ids = append(jobs[i].ids, s.ID)
			continue
		}
		byRef[s.ContentRef] = len(jobs)
		jobs = append(jobs, job{ref: s.ContentRef, ids: []string{s.ID}})
	}

	clips := make(map[string]*audio.Clip, len(segments)-skipped)
	if len(jobs) == 0 {
		return clips
	}

	results := make(chan result)
	next, inFlight := 0, 0
	launch := func() {
		j := jobs[next]
		next++
		inFlight++
		go func() {
			clip, err := l.Load(ctx, j.ref)
			results <- result{job: j, clip: clip, err: err}
		}()
	}

	for next < len(jobs) && inFlight < l.workers {
		launch()
	}

	var bytes uint64
	failed := 0
	for inFlight > 0 {
		r := <-results
		inFlight--

		if r.err != nil {
			failed++
			l.logger.Warn("segment load failed", "ref", r.job.ref, "segments", len(r.job.ids), "error", r.err)
		} else {
			bytes += r.clip.Size()
			for _, id := range r.job.ids {
				clips[id] = r.clip
			}
		}

		if next < len(jobs) && ctx.Err() == nil {
			launch()
		}
	}

	l.logger.Debug("preload finished",
		"loaded", len(clips),
		"failed", failed,
		"skipped", skipped,
		"size", humanize.Bytes(bytes),
	)
	return clips
}
