package montage

// Websocket framing for the per-project collaboration socket.
//
// Every client frame carries a per-connection monotonically increasing Seq
// so the server can de-duplicate after a reconnect. Every state-bearing
// server frame carries the resulting timeline revision.

const (
	ClientFrameOp        = "op"
	ClientFrameCursor    = "cursor"
	ClientFrameChat      = "chat"
	ClientFrameResync    = "resync"
	ClientFrameHeartbeat = "h"
)

const (
	ServerFrameInit       = "init"
	ServerFrameDelta      = "delta"
	ServerFrameOutcome    = "outcome"
	ServerFramePresence   = "presence"
	ServerFrameChat       = "chat"
	ServerFrameUserJoined = "user_joined"
	ServerFrameUserLeft   = "user_left"
	ServerFrameSnapshot   = "snapshot"
	ServerFramePong       = "pong"
	ServerFrameError      = "error"
)

// ClientFrame is a message from client to server.
type ClientFrame struct {
	Type string `json:"type"`
	Seq  int64  `json:"seq"`

	Op     *Operation `json:"op,omitempty"`
	Cursor *Cursor    `json:"cursor,omitempty"`
	Chat   string     `json:"chat,omitempty"`
	// ChatID is the client-generated message id. Replaying a chat frame
	// with the same id after a reconnect never duplicates the message.
	ChatID       string `json:"chatID,omitempty"`
	LastRevision int64  `json:"lastRevision,omitempty"`
}

// ServerFrame is a message from server to client.
type ServerFrame struct {
	Type     string `json:"type"`
	Revision int64  `json:"revision,omitempty"`
	// Seq echoes the client sequence number being answered, when any.
	Seq int64 `json:"seq,omitempty"`

	Outcome  *Outcome          `json:"outcome,omitempty"`
	Delta    *Delta            `json:"delta,omitempty"`
	Deltas   []Delta           `json:"deltas,omitempty"`
	Snapshot *TimelineSnapshot `json:"snapshot,omitempty"`
	Presence *PresenceRecord   `json:"presence,omitempty"`
	Users    []PresenceRecord  `json:"users,omitempty"`
	Chat     *ChatMessage      `json:"chatMessage,omitempty"`
	Error    string            `json:"error,omitempty"`
}
