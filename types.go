package montage

import (
	"encoding/json"
	"fmt"
	"time"
)

// Role is a collaborator role within a project.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

func (r Role) CanEdit() bool {
	return r == RoleOwner || r == RoleEditor
}

func (r Role) Valid() bool {
	return r == RoleOwner || r == RoleEditor || r == RoleViewer
}

// OpKind enumerates the timeline edit operations clients can submit.
type OpKind string

const (
	OpInsertClip     OpKind = "insert-clip"
	OpDeleteClip     OpKind = "delete-clip"
	OpMoveClip       OpKind = "move-clip"
	OpTrimClip       OpKind = "trim-clip"
	OpSplitClip      OpKind = "split-clip"
	OpMergeClips     OpKind = "merge-clips"
	OpSetTransition  OpKind = "set-transition"
	OpSetTextOverlay OpKind = "set-text-overlay"

	// OpRestoreVersion is server-generated when a prior version snapshot is
	// restored. Clients cannot submit it.
	OpRestoreVersion OpKind = "restore-version"
)

// ClientKinds lists the operation kinds accepted from clients.
var ClientKinds = []OpKind{
	OpInsertClip,
	OpDeleteClip,
	OpMoveClip,
	OpTrimClip,
	OpSplitClip,
	OpMergeClips,
	OpSetTransition,
	OpSetTextOverlay,
}

func IsClientKind(k OpKind) bool {
	for _, c := range ClientKinds {
		if c == k {
			return true
		}
	}
	return false
}

// Transition is optional transition metadata attached to a clip.
type Transition struct {
	Kind       string `json:"kind"`
	DurationMS int64  `json:"durationMS"`
}

// TextOverlay is optional text-overlay metadata attached to a clip.
type TextOverlay struct {
	Text       string `json:"text"`
	OffsetMS   int64  `json:"offsetMS"`
	DurationMS int64  `json:"durationMS"`
}

// Clip is a placed segment of source media on a timeline track.
// All times are integer milliseconds: SourceIn/SourceOut are offsets into
// the source media, Start is the placement time on the timeline.
type Clip struct {
	ID         string       `json:"id"`
	MediaRef   string       `json:"mediaRef"`
	Track      int          `json:"track"`
	SourceIn   int64        `json:"sourceIn"`
	SourceOut  int64        `json:"sourceOut"`
	Start      int64        `json:"start"`
	Transition *Transition  `json:"transition,omitempty"`
	Overlay    *TextOverlay `json:"overlay,omitempty"`
}

func (c Clip) Duration() int64 {
	return c.SourceOut - c.SourceIn
}

func (c Clip) End() int64 {
	return c.Start + c.Duration()
}

// Operation is an atomic, author-attributed edit request. Operations are
// immutable once created; the resolver works on derived copies.
type Operation struct {
	ID           string          `json:"id"`
	Author       string          `json:"author"`
	ProjectID    string          `json:"projectID"`
	BaseRevision int64           `json:"baseRevision"`
	Kind         OpKind          `json:"kind"`
	Payload      json.RawMessage `json:"payload"`
	ClientSeq    int64           `json:"clientSeq"`
	ClientTime   time.Time       `json:"clientTime"`
}

type InsertClipPayload struct {
	Clip Clip `json:"clip"`
}

type DeleteClipPayload struct {
	ClipID string `json:"clipID"`
}

type MoveClipPayload struct {
	ClipID string `json:"clipID"`
	Track  int    `json:"track"`
	Start  int64  `json:"start"`
}

type TrimClipPayload struct {
	ClipID    string `json:"clipID"`
	SourceIn  int64  `json:"sourceIn"`
	SourceOut int64  `json:"sourceOut"`
}

type SplitClipPayload struct {
	ClipID string `json:"clipID"`
	// At is the split point on the timeline, strictly inside the clip.
	At        int64  `json:"at"`
	NewClipID string `json:"newClipID"`
}

type MergeClipsPayload struct {
	LeftID  string `json:"leftID"`
	RightID string `json:"rightID"`
}

type SetTransitionPayload struct {
	ClipID     string      `json:"clipID"`
	Transition *Transition `json:"transition"`
}

type SetTextOverlayPayload struct {
	ClipID  string       `json:"clipID"`
	Overlay *TextOverlay `json:"overlay"`
}

// DecodePayload unmarshals the kind-specific payload of an operation.
func (op Operation) DecodePayload() (any, error) {
	var v any
	switch op.Kind {
	case OpInsertClip:
		v = &InsertClipPayload{}
	case OpDeleteClip:
		v = &DeleteClipPayload{}
	case OpMoveClip:
		v = &MoveClipPayload{}
	case OpTrimClip:
		v = &TrimClipPayload{}
	case OpSplitClip:
		v = &SplitClipPayload{}
	case OpMergeClips:
		v = &MergeClipsPayload{}
	case OpSetTransition:
		v = &SetTransitionPayload{}
	case OpSetTextOverlay:
		v = &SetTextOverlayPayload{}
	default:
		return nil, fmt.Errorf("unknown operation kind: %s", op.Kind)
	}
	if err := json.Unmarshal(op.Payload, v); err != nil {
		return nil, err
	}
	return v, nil
}

// WithPayload returns a copy of the operation carrying the given payload.
func (op Operation) WithPayload(v any) (Operation, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return op, err
	}
	op.Payload = raw
	return op, nil
}

// Delta is the minimal state change produced by one committed operation.
// Removing Removed and then upserting Upserted into the previous state
// yields the state at Revision on every replica.
type Delta struct {
	ProjectID string   `json:"projectID"`
	Revision  int64    `json:"revision"`
	OpID      string   `json:"opID"`
	Author    string   `json:"author"`
	Kind      OpKind   `json:"kind"`
	Removed   []string `json:"removed,omitempty"`
	Upserted  []Clip   `json:"upserted,omitempty"`
	// Checksum is the xxh3 digest of the canonical timeline state after
	// this delta is applied.
	Checksum uint64 `json:"checksum,string"`
}

// RejectReason classifies why an operation could not be applied.
type RejectReason string

const (
	ReasonMalformedPayload RejectReason = "malformed-payload"
	ReasonStaleReference   RejectReason = "stale-reference"
	ReasonInvalidRange     RejectReason = "invalid-range"
	ReasonPermissionDenied RejectReason = "permission-denied"
)

// OutcomeStatus is the terminal state of a submitted operation.
type OutcomeStatus string

const (
	StatusAccepted   OutcomeStatus = "accepted"
	StatusRejected   OutcomeStatus = "rejected"
	StatusSuperseded OutcomeStatus = "superseded"
)

// Outcome reports how the resolver disposed of an operation. Accepted
// outcomes carry the resulting delta; superseded outcomes name the
// committed operation that won the conflict.
type Outcome struct {
	Status       OutcomeStatus `json:"status"`
	OpID         string        `json:"opID"`
	Reason       RejectReason  `json:"reason,omitempty"`
	SupersededBy string        `json:"supersededBy,omitempty"`
	Delta        *Delta        `json:"delta,omitempty"`
}

// Cursor is a collaborator's position on the timeline.
type Cursor struct {
	Track    int   `json:"track"`
	OffsetMS int64 `json:"offsetMS"`
}

// PresenceRecord is ephemeral per-user presence state. It lives only for
// the duration of a connection and is never persisted.
type PresenceRecord struct {
	UserID    string    `json:"userID"`
	ProjectID string    `json:"projectID"`
	Color     string    `json:"color"`
	Cursor    Cursor    `json:"cursor"`
	LastSeen  time.Time `json:"lastSeen"`
}

// ChatMessage is a project chat entry.
type ChatMessage struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"projectID"`
	UserID    string    `json:"userID"`
	Kind      string    `json:"kind"` // text, system
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

const (
	ChatKindText   = "text"
	ChatKindSystem = "system"
)

// MediaInfo is what the external media service knows about a media
// reference.
type MediaInfo struct {
	Ref          string `json:"ref"`
	Title        string `json:"title"`
	DurationMS   int64  `json:"durationMS"`
	Width        int    `json:"width,omitempty"`
	Height       int    `json:"height,omitempty"`
	ThumbnailURL string `json:"thumbnailURL,omitempty"`
}

// Event is the envelope published to the signal channels and served on the
// firehose socket.
type Event struct {
	Type      string          `json:"type"`
	ProjectID string          `json:"projectID"`
	Revision  int64           `json:"revision,omitempty"`
	Body      json.RawMessage `json:"body,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

const (
	EventTypeDelta    = "delta"
	EventTypePresence = "presence"
	EventTypeChat     = "chat"
	EventTypeJoin     = "user_joined"
	EventTypeLeave    = "user_left"
	EventTypeVersion  = "version_saved"
)
