package resolver

import (
	"github.com/montage-studio/montage"
)

// transformFunc rebases a pending payload against one committed entry.
// It may rewrite the payload in place and reports whether the committed
// entry supersedes the pending operation outright.
type transformFunc func(payload any, entry *logEntry) bool

// transform rebases a pending operation across a single committed entry in
// commit order. The earlier commit always wins: when it consumed what the
// pending operation needs, the pending operation is superseded.
func transform(kind montage.OpKind, payload any, entry *logEntry) bool {
	if entry.op.Kind == montage.OpRestoreVersion {
		// A restore rewrites the whole timeline; the pending op survives only
		// if every clip it references survived the restore.
		return targetConsumed(payload, entry)
	}
	row, ok := transforms[kind]
	if !ok {
		return targetConsumed(payload, entry)
	}
	fn, ok := row[entry.op.Kind]
	if !ok {
		return targetConsumed(payload, entry)
	}
	return fn(payload, entry)
}

// transforms is the total kind-pair table: row = pending kind,
// column = committed kind.
var transforms = map[montage.OpKind]map[montage.OpKind]transformFunc{
	montage.OpInsertClip: {
		montage.OpInsertClip:     tfNone,
		montage.OpDeleteClip:     tfNone,
		montage.OpMoveClip:       tfNone,
		montage.OpTrimClip:       tfNone,
		montage.OpSplitClip:      tfNone,
		montage.OpMergeClips:     tfNone,
		montage.OpSetTransition:  tfNone,
		montage.OpSetTextOverlay: tfNone,
	},
	montage.OpDeleteClip: {
		montage.OpInsertClip:     tfNone,
		montage.OpDeleteClip:     tfTarget,
		montage.OpMoveClip:       tfNone,
		montage.OpTrimClip:       tfEdited,
		montage.OpSplitClip:      tfEdited,
		montage.OpMergeClips:     tfEdited,
		montage.OpSetTransition:  tfNone,
		montage.OpSetTextOverlay: tfNone,
	},
	montage.OpMoveClip: {
		montage.OpInsertClip:     tfNone,
		montage.OpDeleteClip:     tfTarget,
		montage.OpMoveClip:       tfNone,
		montage.OpTrimClip:       tfNone,
		montage.OpSplitClip:      tfNone,
		montage.OpMergeClips:     tfTarget,
		montage.OpSetTransition:  tfNone,
		montage.OpSetTextOverlay: tfNone,
	},
	montage.OpTrimClip: {
		montage.OpInsertClip:     tfNone,
		montage.OpDeleteClip:     tfTarget,
		montage.OpMoveClip:       tfNone,
		montage.OpTrimClip:       tfTrimWindow,
		montage.OpSplitClip:      tfTrimWindow,
		montage.OpMergeClips:     tfTarget,
		montage.OpSetTransition:  tfNone,
		montage.OpSetTextOverlay: tfNone,
	},
	montage.OpSplitClip: {
		montage.OpInsertClip:     tfNone,
		montage.OpDeleteClip:     tfTarget,
		montage.OpMoveClip:       tfNone,
		montage.OpTrimClip:       tfNone,
		montage.OpSplitClip:      tfNone,
		montage.OpMergeClips:     tfTarget,
		montage.OpSetTransition:  tfNone,
		montage.OpSetTextOverlay: tfNone,
	},
	montage.OpMergeClips: {
		montage.OpInsertClip:     tfNone,
		montage.OpDeleteClip:     tfTarget,
		montage.OpMoveClip:       tfNone,
		montage.OpTrimClip:       tfNone,
		montage.OpSplitClip:      tfNone,
		montage.OpMergeClips:     tfTarget,
		montage.OpSetTransition:  tfNone,
		montage.OpSetTextOverlay: tfNone,
	},
	montage.OpSetTransition: {
		montage.OpInsertClip:     tfNone,
		montage.OpDeleteClip:     tfTarget,
		montage.OpMoveClip:       tfNone,
		montage.OpTrimClip:       tfNone,
		montage.OpSplitClip:      tfNone,
		montage.OpMergeClips:     tfTarget,
		montage.OpSetTransition:  tfNone,
		montage.OpSetTextOverlay: tfNone,
	},
	montage.OpSetTextOverlay: {
		montage.OpInsertClip:     tfNone,
		montage.OpDeleteClip:     tfTarget,
		montage.OpMoveClip:       tfNone,
		montage.OpTrimClip:       tfNone,
		montage.OpSplitClip:      tfNone,
		montage.OpMergeClips:     tfTarget,
		montage.OpSetTransition:  tfNone,
		montage.OpSetTextOverlay: tfNone,
	},
}

// tfNone never conflicts.
func tfNone(any, *logEntry) bool { return false }

// tfTarget supersedes the pending op when the committed entry removed a
// clip the pending op references.
func tfTarget(payload any, entry *logEntry) bool {
	return targetConsumed(payload, entry)
}

// tfEdited supersedes the pending op when the committed entry removed or
// rewrote the content of a clip the pending op references. A delete raced
// against a trim, split or merge of the same clip loses in either commit
// order: the clip the delete was aimed at no longer exists as authored.
func tfEdited(payload any, entry *logEntry) bool {
	if targetConsumed(payload, entry) {
		return true
	}
	for _, id := range payloadRefs(payload) {
		for _, c := range entry.delta.Upserted {
			if c.ID == id {
				return true
			}
		}
	}
	return false
}

// tfTrimWindow narrows a pending trim to the source window the committed
// entry left behind on the same clip. An empty intersection means the
// committed edit already consumed the requested range.
func tfTrimWindow(payload any, entry *logEntry) bool {
	if targetConsumed(payload, entry) {
		return true
	}
	p, ok := payload.(*montage.TrimClipPayload)
	if !ok {
		return false
	}
	for _, c := range entry.delta.Upserted {
		if c.ID != p.ClipID {
			continue
		}
		if p.SourceIn < c.SourceIn {
			p.SourceIn = c.SourceIn
		}
		if p.SourceOut > c.SourceOut {
			p.SourceOut = c.SourceOut
		}
		if p.SourceIn >= p.SourceOut {
			return true
		}
	}
	return false
}

// targetConsumed reports whether the committed entry removed any clip the
// pending payload references without putting it back.
func targetConsumed(payload any, entry *logEntry) bool {
	for _, id := range payloadRefs(payload) {
		if removedBy(entry, id) {
			return true
		}
	}
	return false
}

func removedBy(entry *logEntry, id string) bool {
	removed := false
	for _, r := range entry.delta.Removed {
		if r == id {
			removed = true
			break
		}
	}
	if !removed {
		return false
	}
	for _, c := range entry.delta.Upserted {
		if c.ID == id {
			return false
		}
	}
	return true
}

// payloadRefs lists the existing clip ids an operation depends on.
func payloadRefs(payload any) []string {
	switch p := payload.(type) {
	case *montage.DeleteClipPayload:
		return []string{p.ClipID}
	case *montage.MoveClipPayload:
		return []string{p.ClipID}
	case *montage.TrimClipPayload:
		return []string{p.ClipID}
	case *montage.SplitClipPayload:
		return []string{p.ClipID}
	case *montage.MergeClipsPayload:
		return []string{p.LeftID, p.RightID}
	case *montage.SetTransitionPayload:
		return []string{p.ClipID}
	case *montage.SetTextOverlayPayload:
		return []string{p.ClipID}
	}
	return nil
}
