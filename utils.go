package montage

import (
	"fmt"
	"strings"

	"github.com/zeebo/xxh3"
)

// presenceColors is the fixed palette cursors are rendered with. A user
// always maps to the same color on every replica.
var presenceColors = []string{
	"#FF6B6B", "#4ECDC4", "#45B7D1", "#96CEB4", "#FFEAA7",
	"#DDA0DD", "#98D8C8", "#F7DC6F", "#BB8FCE", "#85C1E9",
}

func UserColor(userID string) string {
	return presenceColors[xxh3.HashString(userID)%uint64(len(presenceColors))]
}

// SignalChannel is the redis channel carrying a project's events.
func SignalChannel(projectID string) string {
	return "project:" + projectID
}

// ProjectFromChannel inverts SignalChannel.
func ProjectFromChannel(channel string) (string, bool) {
	id, ok := strings.CutPrefix(channel, "project:")
	return id, ok
}

// ValidateOperation performs the state-independent checks on a submitted
// operation. State-dependent preconditions are the resolver's job.
func ValidateOperation(op Operation) error {
	if op.ID == "" {
		return fmt.Errorf("operation id is required")
	}
	if op.ProjectID == "" {
		return fmt.Errorf("operation project id is required")
	}
	if !IsClientKind(op.Kind) {
		return fmt.Errorf("unknown operation kind: %s", op.Kind)
	}
	if op.BaseRevision < 0 {
		return fmt.Errorf("negative base revision")
	}

	payload, err := op.DecodePayload()
	if err != nil {
		return fmt.Errorf("malformed payload: %v", err)
	}

	switch p := payload.(type) {
	case *InsertClipPayload:
		return validateClip(p.Clip)
	case *DeleteClipPayload:
		if p.ClipID == "" {
			return fmt.Errorf("clip id is required")
		}
	case *MoveClipPayload:
		if p.ClipID == "" {
			return fmt.Errorf("clip id is required")
		}
		if p.Start < 0 {
			return fmt.Errorf("negative placement start")
		}
		if p.Track < 0 {
			return fmt.Errorf("negative track")
		}
	case *TrimClipPayload:
		if p.ClipID == "" {
			return fmt.Errorf("clip id is required")
		}
		if p.SourceIn < 0 || p.SourceIn >= p.SourceOut {
			return fmt.Errorf("trim range must satisfy 0 <= in < out")
		}
	case *SplitClipPayload:
		if p.ClipID == "" || p.NewClipID == "" {
			return fmt.Errorf("clip ids are required")
		}
		if p.ClipID == p.NewClipID {
			return fmt.Errorf("split halves need distinct ids")
		}
	case *MergeClipsPayload:
		if p.LeftID == "" || p.RightID == "" {
			return fmt.Errorf("clip ids are required")
		}
		if p.LeftID == p.RightID {
			return fmt.Errorf("cannot merge a clip with itself")
		}
	case *SetTransitionPayload:
		if p.ClipID == "" {
			return fmt.Errorf("clip id is required")
		}
		if p.Transition != nil && p.Transition.DurationMS <= 0 {
			return fmt.Errorf("transition duration must be positive")
		}
	case *SetTextOverlayPayload:
		if p.ClipID == "" {
			return fmt.Errorf("clip id is required")
		}
		if p.Overlay != nil && p.Overlay.DurationMS <= 0 {
			return fmt.Errorf("overlay duration must be positive")
		}
	}
	return nil
}

func validateClip(c Clip) error {
	if c.ID == "" {
		return fmt.Errorf("clip id is required")
	}
	if c.MediaRef == "" {
		return fmt.Errorf("media reference is required")
	}
	if c.Track < 0 {
		return fmt.Errorf("negative track")
	}
	if c.SourceIn < 0 || c.SourceIn >= c.SourceOut {
		return fmt.Errorf("source range must satisfy 0 <= in < out")
	}
	if c.Start < 0 {
		return fmt.Errorf("negative placement start")
	}
	return nil
}
