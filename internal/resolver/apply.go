package resolver

import (
	"github.com/google/uuid"

	"github.com/montage-studio/montage"
	"github.com/montage-studio/montage/internal/domain"
)

func newOpID() string {
	return uuid.New().String()
}

type applyError struct {
	reason montage.RejectReason
}

func failStale() *applyError {
	return &applyError{reason: montage.ReasonStaleReference}
}

func failRange() *applyError {
	return &applyError{reason: montage.ReasonInvalidRange}
}

// evaluate turns an operation into the delta it produces against the
// current state, or an error naming the precondition that failed. It never
// mutates state.
func evaluate(state *domain.Timeline, op montage.Operation, payload any) (montage.Delta, *applyError) {
	delta := montage.Delta{
		ProjectID: op.ProjectID,
		Revision:  state.Revision() + 1,
		OpID:      op.ID,
		Author:    op.Author,
		Kind:      op.Kind,
	}

	switch p := payload.(type) {
	case *montage.InsertClipPayload:
		clip := p.Clip
		if _, exists := state.Clip(clip.ID); exists {
			return delta, failStale()
		}
		clip.Start = state.FreeStart(clip.Track, clip.Start, clip.Duration(), nil)
		delta.Upserted = []montage.Clip{clip}

	case *montage.DeleteClipPayload:
		if _, ok := state.Clip(p.ClipID); !ok {
			return delta, failStale()
		}
		delta.Removed = []string{p.ClipID}

	case *montage.MoveClipPayload:
		c, ok := state.Clip(p.ClipID)
		if !ok {
			return delta, failStale()
		}
		c.Track = p.Track
		c.Start = state.FreeStart(p.Track, p.Start, c.Duration(), map[string]bool{c.ID: true})
		delta.Upserted = []montage.Clip{c}

	case *montage.TrimClipPayload:
		c, ok := state.Clip(p.ClipID)
		if !ok {
			return delta, failStale()
		}
		// A trim narrows the clip's current source window; it never grows it.
		if p.SourceIn < c.SourceIn || p.SourceOut > c.SourceOut || p.SourceIn >= p.SourceOut {
			return delta, failRange()
		}
		shift := p.SourceIn - c.SourceIn
		c.Start += shift
		c.SourceIn = p.SourceIn
		c.SourceOut = p.SourceOut
		delta.Upserted = []montage.Clip{c}

	case *montage.SplitClipPayload:
		c, ok := state.Clip(p.ClipID)
		if !ok {
			return delta, failStale()
		}
		if _, exists := state.Clip(p.NewClipID); exists {
			return delta, failStale()
		}
		if p.At <= c.Start || p.At >= c.End() {
			return delta, failRange()
		}
		offset := p.At - c.Start
		left := c
		left.SourceOut = c.SourceIn + offset
		right := montage.Clip{
			ID:        p.NewClipID,
			MediaRef:  c.MediaRef,
			Track:     c.Track,
			SourceIn:  left.SourceOut,
			SourceOut: c.SourceOut,
			Start:     p.At,
		}
		if c.Overlay != nil {
			// The overlay stays on the half it starts in.
			if c.Overlay.OffsetMS < offset {
				ov := *c.Overlay
				left.Overlay = &ov
			} else {
				ov := *c.Overlay
				ov.OffsetMS -= offset
				left.Overlay = nil
				right.Overlay = &ov
			}
		}
		delta.Upserted = []montage.Clip{left, right}

	case *montage.MergeClipsPayload:
		l, lok := state.Clip(p.LeftID)
		r, rok := state.Clip(p.RightID)
		if !lok || !rok {
			return delta, failStale()
		}
		// Only halves of the same source, still adjacent on the same track,
		// can be merged back together.
		if l.Track != r.Track || l.MediaRef != r.MediaRef {
			return delta, failRange()
		}
		if l.SourceOut != r.SourceIn || l.End() != r.Start {
			return delta, failRange()
		}
		merged := l
		merged.SourceOut = r.SourceOut
		if merged.Overlay == nil && r.Overlay != nil {
			ov := *r.Overlay
			ov.OffsetMS += l.Duration()
			merged.Overlay = &ov
		}
		delta.Removed = []string{r.ID}
		delta.Upserted = []montage.Clip{merged}

	case *montage.SetTransitionPayload:
		c, ok := state.Clip(p.ClipID)
		if !ok {
			return delta, failStale()
		}
		c.Transition = p.Transition
		delta.Upserted = []montage.Clip{c}

	case *montage.SetTextOverlayPayload:
		c, ok := state.Clip(p.ClipID)
		if !ok {
			return delta, failStale()
		}
		if p.Overlay != nil && p.Overlay.OffsetMS >= c.Duration() {
			return delta, failRange()
		}
		c.Overlay = p.Overlay
		delta.Upserted = []montage.Clip{c}

	default:
		return delta, &applyError{reason: montage.ReasonMalformedPayload}
	}

	return delta, nil
}
