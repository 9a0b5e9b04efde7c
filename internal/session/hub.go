package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/montage-studio/montage"
)

// Conn is one websocket connection's sessionside state. All frames bound
// for the socket pass through a single buffered queue drained by one writer
// goroutine, so every client observes commits in revision order.
type Conn struct {
	ID        string
	ProjectID string
	UserID    string
	Color     string
	Role      montage.Role

	send      chan montage.ServerFrame
	closed    chan struct{}
	closeOnce sync.Once

	// lastSeq and lastCursor are touched only by the connection's read loop.
	lastSeq    int64
	lastCursor time.Time
}

// Frames is drained by the connection's writer goroutine.
func (c *Conn) Frames() <-chan montage.ServerFrame {
	return c.send
}

// Closed is signalled when the connection is evicted.
func (c *Conn) Closed() <-chan struct{} {
	return c.closed
}

// Close makes the writer goroutine shut the socket down.
func (c *Conn) Close() {
	c.closeOnce.Do(func() { close(c.closed) })
}

// Send enqueues a state-bearing frame. A full queue means the client cannot
// keep up; it is evicted rather than skipped, because dropping a delta
// would fork its replica.
func (c *Conn) Send(frame montage.ServerFrame) {
	select {
	case <-c.closed:
	case c.send <- frame:
	default:
		log.Warn().
			Str("conn_id", c.ID).
			Str("project_id", c.ProjectID).
			Str("user_id", c.UserID).
			Msg("send queue overflow, evicting connection")
		c.Close()
	}
}

// SendLossy enqueues a frame that may be dropped under pressure. Cursor
// updates use this path.
func (c *Conn) SendLossy(frame montage.ServerFrame) {
	select {
	case <-c.closed:
	case c.send <- frame:
	default:
	}
}

// AcceptSeq reports whether the client frame sequence number is new for
// this connection. Replayed frames after a reconnect race are ignored.
func (c *Conn) AcceptSeq(seq int64) bool {
	if seq <= c.lastSeq {
		return false
	}
	c.lastSeq = seq
	return true
}

// Hub tracks presence rooms, one per project with at least one connection.
type Hub struct {
	queueSize      int
	cursorInterval time.Duration

	mu    sync.RWMutex
	rooms map[string]*room
}

type room struct {
	mu    sync.RWMutex
	conns map[string]*Conn
}

func NewHub(queueSize int, cursorRateHz int) *Hub {
	if queueSize <= 0 {
		queueSize = 256
	}
	interval := time.Duration(0)
	if cursorRateHz > 0 {
		interval = time.Second / time.Duration(cursorRateHz)
	}
	return &Hub{
		queueSize:      queueSize,
		cursorInterval: interval,
		rooms:          make(map[string]*room),
	}
}

// Join registers a connection and announces it to the rest of the room.
func (h *Hub) Join(projectID, userID string, role montage.Role) *Conn {
	c := &Conn{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		UserID:    userID,
		Color:     montage.UserColor(userID),
		Role:      role,
		send:      make(chan montage.ServerFrame, h.queueSize),
		closed:    make(chan struct{}),
	}

	h.mu.Lock()
	r, ok := h.rooms[projectID]
	if !ok {
		r = &room{conns: make(map[string]*Conn)}
		h.rooms[projectID] = r
	}
	h.mu.Unlock()

	r.mu.Lock()
	r.conns[c.ID] = c
	r.mu.Unlock()

	h.broadcast(projectID, montage.ServerFrame{
		Type: montage.ServerFrameUserJoined,
		Presence: &montage.PresenceRecord{
			UserID:    userID,
			ProjectID: projectID,
			Color:     c.Color,
			LastSeen:  time.Now(),
		},
	}, c.ID)

	return c
}

// Leave removes the connection and, if no other connection of the same
// user remains, announces the departure.
func (h *Hub) Leave(c *Conn) {
	c.Close()

	h.mu.Lock()
	r, ok := h.rooms[c.ProjectID]
	if !ok {
		h.mu.Unlock()
		return
	}
	r.mu.Lock()
	delete(r.conns, c.ID)
	empty := len(r.conns) == 0
	stillHere := false
	for _, other := range r.conns {
		if other.UserID == c.UserID {
			stillHere = true
			break
		}
	}
	r.mu.Unlock()
	if empty {
		delete(h.rooms, c.ProjectID)
	}
	h.mu.Unlock()

	if !stillHere && !empty {
		h.broadcast(c.ProjectID, montage.ServerFrame{
			Type: montage.ServerFrameUserLeft,
			Presence: &montage.PresenceRecord{
				UserID:    c.UserID,
				ProjectID: c.ProjectID,
				Color:     c.Color,
				LastSeen:  time.Now(),
			},
		}, c.ID)
	}
}

// Users lists the room's current collaborators, one record per user.
func (h *Hub) Users(projectID string) []montage.PresenceRecord {
	h.mu.RLock()
	r, ok := h.rooms[projectID]
	h.mu.RUnlock()
	if !ok {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]bool, len(r.conns))
	out := make([]montage.PresenceRecord, 0, len(r.conns))
	for _, c := range r.conns {
		if seen[c.UserID] {
			continue
		}
		seen[c.UserID] = true
		out = append(out, montage.PresenceRecord{
			UserID:    c.UserID,
			ProjectID: projectID,
			Color:     c.Color,
			LastSeen:  time.Now(),
		})
	}
	return out
}

// AcceptCursor enforces the per-connection cursor rate limit. Updates
// arriving faster than the limit are dropped, which is safe because cursor
// state is ephemeral.
func (h *Hub) AcceptCursor(c *Conn) bool {
	now := time.Now()
	if now.Sub(c.lastCursor) < h.cursorInterval {
		return false
	}
	c.lastCursor = now
	return true
}

// Cursor fans a collaborator's cursor position out to the room.
func (h *Hub) Cursor(c *Conn, cursor montage.Cursor) {
	frame := montage.ServerFrame{
		Type: montage.ServerFramePresence,
		Presence: &montage.PresenceRecord{
			UserID:    c.UserID,
			ProjectID: c.ProjectID,
			Color:     c.Color,
			Cursor:    cursor,
			LastSeen:  time.Now(),
		},
	}
	h.mu.RLock()
	r, ok := h.rooms[c.ProjectID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, other := range r.conns {
		if id == c.ID {
			continue
		}
		other.SendLossy(frame)
	}
}

// Chat fans a persisted chat message out to the room, sender included.
func (h *Hub) Chat(projectID string, msg montage.ChatMessage) {
	h.broadcast(projectID, montage.ServerFrame{
		Type: montage.ServerFrameChat,
		Chat: &msg,
	}, "")
}

// OperationCommitted delivers a committed delta to every connection in the
// room. The submitting connection receives it inside its outcome frame
// instead, so each connection sees the commit exactly once and in order.
// Called from inside the resolver's serialization point.
func (h *Hub) OperationCommitted(op montage.Operation, delta montage.Delta, sessionID string) {
	h.mu.RLock()
	r, ok := h.rooms[op.ProjectID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	d := delta
	deltaFrame := montage.ServerFrame{
		Type:     montage.ServerFrameDelta,
		Revision: delta.Revision,
		Delta:    &d,
	}
	outcomeFrame := montage.ServerFrame{
		Type:     montage.ServerFrameOutcome,
		Revision: delta.Revision,
		Seq:      op.ClientSeq,
		Outcome: &montage.Outcome{
			Status: montage.StatusAccepted,
			OpID:   op.ID,
			Delta:  &d,
		},
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, c := range r.conns {
		if id == sessionID {
			c.Send(outcomeFrame)
			continue
		}
		c.Send(deltaFrame)
	}
}

func (h *Hub) broadcast(projectID string, frame montage.ServerFrame, excludeConn string) {
	h.mu.RLock()
	r, ok := h.rooms[projectID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, c := range r.conns {
		if id == excludeConn {
			continue
		}
		c.Send(frame)
	}
}
