package domain

import (
	"errors"
	"testing"

	"github.com/montage-studio/montage"
)

func clip(id string, track int, start, dur int64) montage.Clip {
	return montage.Clip{
		ID:        id,
		MediaRef:  "media:" + id,
		Track:     track,
		SourceIn:  0,
		SourceOut: dur,
		Start:     start,
	}
}

func apply(t *testing.T, tl *Timeline, removed []string, upserted ...montage.Clip) montage.Delta {
	t.Helper()
	d := montage.Delta{
		ProjectID: tl.ProjectID,
		Revision:  tl.Revision() + 1,
		Removed:   removed,
		Upserted:  upserted,
	}
	applied, err := tl.Apply(d)
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if !applied {
		t.Fatalf("expected delta at revision %d to apply", d.Revision)
	}
	return d
}

func TestTimelineApplyAdvancesRevision(t *testing.T) {
	tl := NewTimeline("p1")
	apply(t, tl, nil, clip("a", 0, 0, 1000))
	apply(t, tl, nil, clip("b", 0, 1000, 500))

	if tl.Revision() != 2 {
		t.Fatalf("expected revision 2 got %d", tl.Revision())
	}
	if tl.ClipCount() != 2 {
		t.Fatalf("expected 2 clips got %d", tl.ClipCount())
	}
}

func TestTimelineApplyIsIdempotent(t *testing.T) {
	tl := NewTimeline("p1")
	d := apply(t, tl, nil, clip("a", 0, 0, 1000))

	applied, err := tl.Apply(d)
	if err != nil {
		t.Fatalf("re-apply errored: %v", err)
	}
	if applied {
		t.Fatalf("re-applying an old delta must be a no-op")
	}
	if tl.Revision() != 1 {
		t.Fatalf("revision moved on re-apply: %d", tl.Revision())
	}
}

func TestTimelineApplyRejectsGap(t *testing.T) {
	tl := NewTimeline("p1")
	d := montage.Delta{ProjectID: "p1", Revision: 3, Upserted: []montage.Clip{clip("a", 0, 0, 100)}}
	if _, err := tl.Apply(d); !errors.Is(err, ErrRevisionGap) {
		t.Fatalf("expected ErrRevisionGap got %v", err)
	}
}

func TestTimelineRemoveThenUpsertSameDelta(t *testing.T) {
	tl := NewTimeline("p1")
	apply(t, tl, nil, clip("a", 0, 0, 1000))

	// A merge-shaped delta: remove one clip, rewrite another.
	moved := clip("a", 1, 500, 1000)
	apply(t, tl, []string{"a"}, moved)

	got, ok := tl.Clip("a")
	if !ok {
		t.Fatalf("expected clip a to survive via upsert")
	}
	if got.Track != 1 || got.Start != 500 {
		t.Fatalf("unexpected clip after apply: %+v", got)
	}
}

func TestTimelineOverlapping(t *testing.T) {
	tl := NewTimeline("p1")
	apply(t, tl, nil, clip("a", 0, 0, 1000))
	apply(t, tl, nil, clip("b", 0, 2000, 1000))

	hits := tl.Overlapping(0, 500, 1500, nil)
	if len(hits) != 1 || hits[0].ID != "a" {
		t.Fatalf("expected overlap with a, got %+v", hits)
	}
	if hits := tl.Overlapping(0, 1000, 2000, nil); len(hits) != 0 {
		t.Fatalf("expected no overlap in the gap, got %+v", hits)
	}
	if hits := tl.Overlapping(0, 500, 1500, map[string]bool{"a": true}); len(hits) != 0 {
		t.Fatalf("exclusion ignored: %+v", hits)
	}
}

func TestTimelineFreeStartShiftsPastBlockers(t *testing.T) {
	tl := NewTimeline("p1")
	apply(t, tl, nil, clip("a", 0, 0, 1000))
	apply(t, tl, nil, clip("b", 0, 1000, 1000))

	start := tl.FreeStart(0, 500, 800, nil)
	if start != 2000 {
		t.Fatalf("expected placement at 2000 got %d", start)
	}
	// A free gap is used as-is.
	if start := tl.FreeStart(0, 2500, 300, nil); start != 2500 {
		t.Fatalf("expected placement at 2500 got %d", start)
	}
	// Other tracks are independent.
	if start := tl.FreeStart(1, 0, 500, nil); start != 0 {
		t.Fatalf("expected placement at 0 on empty track got %d", start)
	}
}

func TestTimelineSnapshotRestoreRoundTrip(t *testing.T) {
	tl := NewTimeline("p1")
	apply(t, tl, nil, clip("a", 0, 0, 1000))
	apply(t, tl, nil, clip("b", 1, 500, 2000))

	snap := tl.Snapshot()
	if snap.Checksum == 0 {
		t.Fatalf("snapshot checksum not set")
	}
	if snap.Checksum != snap.ComputeChecksum() {
		t.Fatalf("snapshot checksum not reproducible")
	}

	restored := NewTimeline("p1")
	if err := restored.Restore(snap); err != nil {
		t.Fatalf("restore failed: %v", err)
	}
	if restored.Revision() != tl.Revision() {
		t.Fatalf("revision mismatch after restore: %d vs %d", restored.Revision(), tl.Revision())
	}
	if restored.Checksum() != tl.Checksum() {
		t.Fatalf("checksum mismatch after restore")
	}
}

func TestTimelineChecksumIgnoresInsertionOrder(t *testing.T) {
	a := NewTimeline("p1")
	apply(t, a, nil, clip("x", 0, 0, 100))
	apply(t, a, nil, clip("y", 0, 100, 100))

	b := NewTimeline("p1")
	apply(t, b, nil, clip("y", 0, 100, 100))
	apply(t, b, nil, clip("x", 0, 0, 100))

	if a.Checksum() != b.Checksum() {
		t.Fatalf("same state must hash identically regardless of arrival order")
	}
}
