package resolver

import (
	"testing"

	"github.com/montage-studio/montage"
)

func TestTransformTableIsTotal(t *testing.T) {
	for _, pending := range montage.ClientKinds {
		row, ok := transforms[pending]
		if !ok {
			t.Fatalf("no transform row for pending kind %s", pending)
		}
		for _, committed := range montage.ClientKinds {
			if _, ok := row[committed]; !ok {
				t.Fatalf("no transform for pending %s against committed %s", pending, committed)
			}
		}
	}
}

func TestTargetConsumedSeesReupserts(t *testing.T) {
	entry := &logEntry{
		op: montage.Operation{Kind: montage.OpMergeClips},
		delta: montage.Delta{
			Removed:  []string{"right"},
			Upserted: []montage.Clip{{ID: "left"}},
		},
	}

	if !targetConsumed(&montage.DeleteClipPayload{ClipID: "right"}, entry) {
		t.Fatalf("removed clip must count as consumed")
	}
	if targetConsumed(&montage.DeleteClipPayload{ClipID: "left"}, entry) {
		t.Fatalf("surviving clip must not count as consumed")
	}

	// A restore that removes and re-adds the same clip keeps it alive.
	restore := &logEntry{
		op: montage.Operation{Kind: montage.OpRestoreVersion},
		delta: montage.Delta{
			Removed:  []string{"a", "b"},
			Upserted: []montage.Clip{{ID: "a"}},
		},
	}
	if targetConsumed(&montage.MoveClipPayload{ClipID: "a"}, restore) {
		t.Fatalf("re-upserted clip must survive a restore")
	}
	if !targetConsumed(&montage.MoveClipPayload{ClipID: "b"}, restore) {
		t.Fatalf("clip dropped by a restore must be consumed")
	}
}

func TestTransformRestoreColumn(t *testing.T) {
	restore := &logEntry{
		op: montage.Operation{Kind: montage.OpRestoreVersion},
		delta: montage.Delta{
			Removed:  []string{"gone"},
			Upserted: []montage.Clip{{ID: "kept"}},
		},
	}

	if !transform(montage.OpDeleteClip, &montage.DeleteClipPayload{ClipID: "gone"}, restore) {
		t.Fatalf("op against a restored-away clip must be superseded")
	}
	if transform(montage.OpDeleteClip, &montage.DeleteClipPayload{ClipID: "kept"}, restore) {
		t.Fatalf("op against a surviving clip must pass through a restore")
	}
}

func TestTrimWindowClamp(t *testing.T) {
	entry := &logEntry{
		op: montage.Operation{Kind: montage.OpTrimClip},
		delta: montage.Delta{
			Upserted: []montage.Clip{{ID: "a", SourceIn: 100, SourceOut: 500}},
		},
	}

	p := &montage.TrimClipPayload{ClipID: "a", SourceIn: 0, SourceOut: 300}
	if tfTrimWindow(p, entry) {
		t.Fatalf("overlapping trim must survive")
	}
	if p.SourceIn != 100 || p.SourceOut != 300 {
		t.Fatalf("expected clamp to [100,300) got [%d,%d)", p.SourceIn, p.SourceOut)
	}

	inverted := &montage.TrimClipPayload{ClipID: "a", SourceIn: 600, SourceOut: 900}
	if !tfTrimWindow(inverted, entry) {
		t.Fatalf("disjoint trim must be superseded")
	}

	other := &montage.TrimClipPayload{ClipID: "z", SourceIn: 600, SourceOut: 900}
	if tfTrimWindow(other, entry) {
		t.Fatalf("trim of an unrelated clip must pass through")
	}
}
