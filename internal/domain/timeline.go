package domain

import (
	"fmt"
	"sort"
	"time"

	"github.com/montage-studio/montage"
)

// ErrRevisionGap is returned when a delta skips over revisions the replica
// has not seen yet; the caller must resync before applying further deltas.
var ErrRevisionGap = fmt.Errorf("delta revision gap")

// Timeline is the in-memory representation of one project's timeline.
// It is rebuilt by replaying deltas and is mutated exclusively through
// Apply, so every replica that applies the same delta sequence holds
// bit-identical state.
//
// Timeline is not safe for concurrent mutation; the resolver serializes
// writes per project.
type Timeline struct {
	ProjectID string

	revision int64
	tracks   map[int]*track
	index    map[string]int // clip id -> track id
}

type track struct {
	id    int
	clips []montage.Clip // sorted by (Start, ID)
}

func NewTimeline(projectID string) *Timeline {
	return &Timeline{
		ProjectID: projectID,
		tracks:    make(map[int]*track),
		index:     make(map[string]int),
	}
}

func (t *Timeline) Revision() int64 {
	return t.revision
}

// Clip returns the clip with the given id, if present.
func (t *Timeline) Clip(id string) (montage.Clip, bool) {
	trackID, ok := t.index[id]
	if !ok {
		return montage.Clip{}, false
	}
	tr := t.tracks[trackID]
	for _, c := range tr.clips {
		if c.ID == id {
			return c, true
		}
	}
	return montage.Clip{}, false
}

// ClipCount returns the number of clips on the timeline.
func (t *Timeline) ClipCount() int {
	return len(t.index)
}

// TrackIDs returns the populated track ids in ascending order.
func (t *Timeline) TrackIDs() []int {
	ids := make([]int, 0, len(t.tracks))
	for id, tr := range t.tracks {
		if len(tr.clips) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids
}

// ClipsOn returns a copy of the clips on a track, sorted by start time.
func (t *Timeline) ClipsOn(trackID int) []montage.Clip {
	tr, ok := t.tracks[trackID]
	if !ok {
		return nil
	}
	out := make([]montage.Clip, len(tr.clips))
	copy(out, tr.clips)
	return out
}

// Overlapping returns the clips on a track intersecting [start, end),
// skipping ids in exclude. The track's clips are kept sorted by start, so
// the scan stops at the first clip placed at or after end.
func (t *Timeline) Overlapping(trackID int, start, end int64, exclude map[string]bool) []montage.Clip {
	tr, ok := t.tracks[trackID]
	if !ok {
		return nil
	}
	limit := sort.Search(len(tr.clips), func(i int) bool { return tr.clips[i].Start >= end })
	var out []montage.Clip
	for _, c := range tr.clips[:limit] {
		if exclude[c.ID] {
			continue
		}
		if c.End() > start {
			out = append(out, c)
		}
	}
	return out
}

// FreeStart resolves an intended placement deterministically: while the
// span [start, start+dur) intersects an existing clip, the start is pushed
// to the end of the latest-ending blocker.
func (t *Timeline) FreeStart(trackID int, start, dur int64, exclude map[string]bool) int64 {
	for {
		blockers := t.Overlapping(trackID, start, start+dur, exclude)
		if len(blockers) == 0 {
			return start
		}
		next := start
		for _, b := range blockers {
			if b.End() > next {
				next = b.End()
			}
		}
		start = next
	}
}

// DurationMS is the total timeline duration derived from clip extents.
func (t *Timeline) DurationMS() int64 {
	var max int64
	for _, tr := range t.tracks {
		for _, c := range tr.clips {
			if end := c.End(); end > max {
				max = end
			}
		}
	}
	return max
}

// Apply integrates a committed delta. Deltas at or below the current
// revision are no-ops (idempotence); a delta more than one revision ahead
// returns ErrRevisionGap. Returns whether the delta changed state.
func (t *Timeline) Apply(d montage.Delta) (bool, error) {
	if d.Revision <= t.revision {
		return false, nil
	}
	if d.Revision != t.revision+1 {
		return false, ErrRevisionGap
	}
	for _, id := range d.Removed {
		t.removeClip(id)
	}
	for _, c := range d.Upserted {
		t.upsertClip(c)
	}
	t.revision = d.Revision
	return true, nil
}

func (t *Timeline) removeClip(id string) {
	trackID, ok := t.index[id]
	if !ok {
		return
	}
	tr := t.tracks[trackID]
	for i, c := range tr.clips {
		if c.ID == id {
			tr.clips = append(tr.clips[:i], tr.clips[i+1:]...)
			break
		}
	}
	delete(t.index, id)
}

func (t *Timeline) upsertClip(c montage.Clip) {
	t.removeClip(c.ID)
	tr, ok := t.tracks[c.Track]
	if !ok {
		tr = &track{id: c.Track}
		t.tracks[c.Track] = tr
	}
	at := sort.Search(len(tr.clips), func(i int) bool {
		if tr.clips[i].Start != c.Start {
			return tr.clips[i].Start > c.Start
		}
		return tr.clips[i].ID > c.ID
	})
	tr.clips = append(tr.clips, montage.Clip{})
	copy(tr.clips[at+1:], tr.clips[at:])
	tr.clips[at] = c
	t.index[c.ID] = c.Track
}

// Snapshot serializes the full timeline state, checksum included.
func (t *Timeline) Snapshot() montage.TimelineSnapshot {
	snap := montage.TimelineSnapshot{
		ProjectID: t.ProjectID,
		Revision:  t.revision,
		TakenAt:   time.Now().UTC(),
	}
	for _, id := range t.TrackIDs() {
		snap.Tracks = append(snap.Tracks, montage.TrackSnapshot{
			ID:    id,
			Clips: t.ClipsOn(id),
		})
	}
	snap.Checksum = snap.ComputeChecksum()
	return snap
}

// Restore replaces the timeline state with the snapshot's contents.
func (t *Timeline) Restore(s montage.TimelineSnapshot) error {
	if s.ProjectID != "" && s.ProjectID != t.ProjectID {
		return fmt.Errorf("snapshot belongs to project %s", s.ProjectID)
	}
	t.tracks = make(map[int]*track)
	t.index = make(map[string]int)
	for _, tr := range s.Tracks {
		for _, c := range tr.Clips {
			t.upsertClip(c)
		}
	}
	t.revision = s.Revision
	return nil
}

// Checksum digests the current canonical state.
func (t *Timeline) Checksum() uint64 {
	return t.Snapshot().Checksum
}
