package rest

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/montage-studio/montage"
	"github.com/montage-studio/montage/internal/config"
	"github.com/montage-studio/montage/internal/domain"
	"github.com/montage-studio/montage/internal/infra/gateway"
	"github.com/montage-studio/montage/internal/metrics"
	"github.com/montage-studio/montage/internal/present/rest/presenter"
	"github.com/montage-studio/montage/internal/service"
	"github.com/montage-studio/montage/internal/session"
	"github.com/montage-studio/montage/internal/usecase"
)

type Handler struct {
	config   config.Realtime
	project  *usecase.ProjectUsecase
	timeline *usecase.TimelineUsecase
	version  *usecase.VersionUsecase
	chat     *usecase.ChatUsecase
	hub      *session.Hub
	signal   *service.SignalService
	auth     *service.AuthService
	media    *gateway.MediaGateway
	metrics  *metrics.Metrics
}

func NewHandler(
	config config.Realtime,
	project *usecase.ProjectUsecase,
	timeline *usecase.TimelineUsecase,
	version *usecase.VersionUsecase,
	chat *usecase.ChatUsecase,
	hub *session.Hub,
	signal *service.SignalService,
	auth *service.AuthService,
	media *gateway.MediaGateway,
	metrics *metrics.Metrics,
) *Handler {
	return &Handler{
		config:   config,
		project:  project,
		timeline: timeline,
		version:  version,
		chat:     chat,
		hub:      hub,
		signal:   signal,
		auth:     auth,
		media:    media,
		metrics:  metrics,
	}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.handleHealth)
	e.POST("/api/v1/auth/token", h.handleIssueToken)

	api := e.Group("/api/v1")
	api.POST("/projects", h.handleCreateProject)
	api.GET("/projects", h.handleListProjects)
	api.GET("/projects/:id", h.handleGetProject)
	api.PUT("/projects/:id", h.handleUpdateProject)
	api.DELETE("/projects/:id", h.handleDeleteProject)
	api.GET("/projects/:id/members", h.handleListMembers)
	api.PUT("/projects/:id/members/:userID", h.handleUpsertMember)
	api.DELETE("/projects/:id/members/:userID", h.handleRemoveMember)
	api.GET("/projects/:id/timeline", h.handleTimeline)
	api.GET("/projects/:id/versions", h.handleListVersions)
	api.POST("/projects/:id/versions", h.handleCreateVersion)
	api.POST("/projects/:id/versions/:versionID/restore", h.handleRestoreVersion)
	api.GET("/projects/:id/chat", h.handleChatHistory)
	api.POST("/projects/:id/chat", h.handleChatPost)
	api.GET("/media/:ref", h.handleMedia)

	e.GET("/ws/project/:id", h.handleCollab)
	e.GET("/realtime", h.handleRealtime)
}

func requester(ctx context.Context) string {
	id, _ := ctx.Value(domain.RequesterIdCtxKey).(string)
	return id
}

func mapDomainError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return presenter.NotFound(c, err.Error())
	case errors.Is(err, domain.ErrPermissionDenied):
		return presenter.Forbidden(c, err.Error())
	case errors.Is(err, domain.ErrValidation):
		return presenter.BadRequest(c, err)
	default:
		return presenter.InternalError(c, err)
	}
}

func (h *Handler) handleHealth(c echo.Context) error {
	return presenter.OK(c, echo.Map{"status": "ok"})
}

func (h *Handler) handleIssueToken(c echo.Context) error {
	ctx := c.Request().Context()

	var req struct {
		UserID string `json:"userID"`
	}
	if err := c.Bind(&req); err != nil {
		return presenter.BadRequest(c, err)
	}
	if req.UserID == "" {
		return presenter.BadRequestMessage(c, "userID is required")
	}

	token, err := h.auth.IssueToken(ctx, req.UserID)
	if err != nil {
		return presenter.InternalError(c, err)
	}
	return presenter.OK(c, echo.Map{
		"token": token,
		"color": montage.UserColor(req.UserID),
	})
}

func (h *Handler) handleCreateProject(c echo.Context) error {
	ctx := c.Request().Context()
	userID := requester(ctx)
	if userID == "" {
		return presenter.Unauthorized(c, "authentication required")
	}

	var req struct {
		Title       string `json:"title"`
		Description string `json:"description"`
	}
	if err := c.Bind(&req); err != nil {
		return presenter.BadRequest(c, err)
	}

	project, err := h.project.Create(ctx, usecase.CreateProjectInput{
		Title:       req.Title,
		Description: req.Description,
		OwnerID:     userID,
	})
	if err != nil {
		return mapDomainError(c, err)
	}
	return c.JSON(http.StatusCreated, project)
}

func (h *Handler) handleListProjects(c echo.Context) error {
	ctx := c.Request().Context()
	userID := requester(ctx)
	if userID == "" {
		return presenter.Unauthorized(c, "authentication required")
	}

	projects, err := h.project.List(ctx, userID)
	if err != nil {
		return mapDomainError(c, err)
	}
	return presenter.OK(c, projects)
}

func (h *Handler) handleGetProject(c echo.Context) error {
	ctx := c.Request().Context()
	userID := requester(ctx)
	if userID == "" {
		return presenter.Unauthorized(c, "authentication required")
	}

	project, err := h.project.Get(ctx, userID, c.Param("id"))
	if err != nil {
		return mapDomainError(c, err)
	}
	return presenter.OK(c, project)
}

func (h *Handler) handleUpdateProject(c echo.Context) error {
	ctx := c.Request().Context()
	userID := requester(ctx)
	if userID == "" {
		return presenter.Unauthorized(c, "authentication required")
	}

	var req struct {
		Title       string `json:"title"`
		Description string `json:"description"`
	}
	if err := c.Bind(&req); err != nil {
		return presenter.BadRequest(c, err)
	}

	project, err := h.project.Update(ctx, userID, c.Param("id"), req.Title, req.Description)
	if err != nil {
		return mapDomainError(c, err)
	}
	return presenter.OK(c, project)
}

func (h *Handler) handleDeleteProject(c echo.Context) error {
	ctx := c.Request().Context()
	userID := requester(ctx)
	if userID == "" {
		return presenter.Unauthorized(c, "authentication required")
	}

	if err := h.project.Delete(ctx, userID, c.Param("id")); err != nil {
		return mapDomainError(c, err)
	}
	return presenter.OK(c, echo.Map{"status": "ok"})
}

func (h *Handler) handleListMembers(c echo.Context) error {
	ctx := c.Request().Context()
	userID := requester(ctx)
	if userID == "" {
		return presenter.Unauthorized(c, "authentication required")
	}

	members, err := h.project.Members(ctx, userID, c.Param("id"))
	if err != nil {
		return mapDomainError(c, err)
	}
	return presenter.OK(c, members)
}

func (h *Handler) handleUpsertMember(c echo.Context) error {
	ctx := c.Request().Context()
	userID := requester(ctx)
	if userID == "" {
		return presenter.Unauthorized(c, "authentication required")
	}

	var req struct {
		Role string `json:"role"`
	}
	if err := c.Bind(&req); err != nil {
		return presenter.BadRequest(c, err)
	}

	err := h.project.AddMember(ctx, userID, c.Param("id"), c.Param("userID"), montage.Role(req.Role))
	if err != nil {
		return mapDomainError(c, err)
	}
	return presenter.OK(c, echo.Map{"status": "ok"})
}

func (h *Handler) handleRemoveMember(c echo.Context) error {
	ctx := c.Request().Context()
	userID := requester(ctx)
	if userID == "" {
		return presenter.Unauthorized(c, "authentication required")
	}

	err := h.project.RemoveMember(ctx, userID, c.Param("id"), c.Param("userID"))
	if err != nil {
		return mapDomainError(c, err)
	}
	return presenter.OK(c, echo.Map{"status": "ok"})
}

func (h *Handler) handleTimeline(c echo.Context) error {
	ctx := c.Request().Context()
	userID := requester(ctx)
	if userID == "" {
		return presenter.Unauthorized(c, "authentication required")
	}

	snap, err := h.timeline.Snapshot(ctx, userID, c.Param("id"))
	if err != nil {
		return mapDomainError(c, err)
	}
	return presenter.OK(c, snap)
}

func (h *Handler) handleListVersions(c echo.Context) error {
	ctx := c.Request().Context()
	userID := requester(ctx)
	if userID == "" {
		return presenter.Unauthorized(c, "authentication required")
	}

	versions, err := h.version.List(ctx, userID, c.Param("id"))
	if err != nil {
		return mapDomainError(c, err)
	}
	return presenter.OK(c, versions)
}

func (h *Handler) handleCreateVersion(c echo.Context) error {
	ctx := c.Request().Context()
	userID := requester(ctx)
	if userID == "" {
		return presenter.Unauthorized(c, "authentication required")
	}

	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := c.Bind(&req); err != nil {
		return presenter.BadRequest(c, err)
	}

	version, err := h.version.Create(ctx, userID, c.Param("id"), req.Name, req.Description)
	if err != nil {
		return mapDomainError(c, err)
	}
	return c.JSON(http.StatusCreated, version)
}

func (h *Handler) handleRestoreVersion(c echo.Context) error {
	ctx := c.Request().Context()
	userID := requester(ctx)
	if userID == "" {
		return presenter.Unauthorized(c, "authentication required")
	}

	delta, err := h.version.Restore(ctx, userID, c.Param("id"), c.Param("versionID"))
	if err != nil {
		return mapDomainError(c, err)
	}
	return presenter.OK(c, delta)
}

func (h *Handler) handleChatHistory(c echo.Context) error {
	ctx := c.Request().Context()
	userID := requester(ctx)
	if userID == "" {
		return presenter.Unauthorized(c, "authentication required")
	}

	limit := 50
	if s := c.QueryParam("limit"); s != "" {
		parsed, err := strconv.Atoi(s)
		if err != nil {
			return presenter.BadRequestMessage(c, "invalid limit parameter")
		}
		limit = parsed
	}

	messages, err := h.chat.Recent(ctx, userID, c.Param("id"), limit)
	if err != nil {
		return mapDomainError(c, err)
	}
	return presenter.OK(c, messages)
}

// handleChatPost persists and fans out a chat message over REST. A
// client-supplied id makes retries idempotent; replays are acknowledged
// without a second fan-out.
func (h *Handler) handleChatPost(c echo.Context) error {
	ctx := c.Request().Context()
	userID := requester(ctx)
	if userID == "" {
		return presenter.Unauthorized(c, "authentication required")
	}

	var req struct {
		ID   string `json:"id"`
		Body string `json:"body"`
	}
	if err := c.Bind(&req); err != nil {
		return presenter.BadRequest(c, err)
	}

	msg, created, err := h.chat.Post(ctx, c.Param("id"), userID, req.ID, req.Body)
	if err != nil {
		return mapDomainError(c, err)
	}
	if created {
		h.hub.Chat(msg.ProjectID, msg)
		h.signal.PublishChat(ctx, msg)
		h.metrics.ChatMessagesTotal.Inc()
	}
	return c.JSON(http.StatusCreated, msg)
}

func (h *Handler) handleMedia(c echo.Context) error {
	ctx := c.Request().Context()
	userID := requester(ctx)
	if userID == "" {
		return presenter.Unauthorized(c, "authentication required")
	}
	if h.media == nil {
		return presenter.NotFound(c, "no media resolver configured")
	}

	info, err := h.media.Resolve(ctx, c.Param("ref"))
	if err != nil {
		return mapDomainError(c, err)
	}
	return presenter.OK(c, info)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleCollab serves the per-project collaboration socket.
func (h *Handler) handleCollab(c echo.Context) error {
	ctx := c.Request().Context()
	projectID := c.Param("id")

	userID := requester(ctx)
	if userID == "" {
		return presenter.Unauthorized(c, "authentication required")
	}
	role, err := h.project.Role(ctx, userID, projectID)
	if err != nil {
		return presenter.Forbidden(c, "not a member of this project")
	}

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket upgrade failed")
		return err
	}
	defer ws.Close()

	// Joining and enqueueing the init snapshot both happen inside the
	// project's serialization point: the connection cannot receive a delta
	// before its init frame, and every delta after init follows it in
	// revision order.
	var conn *session.Conn
	err = h.timeline.Sync(ctx, projectID, -1, func(snap *montage.TimelineSnapshot, _ []montage.Delta) {
		conn = h.hub.Join(projectID, userID, role)
		frame := montage.ServerFrame{
			Type:  montage.ServerFrameInit,
			Users: h.hub.Users(projectID),
		}
		if snap != nil {
			frame.Revision = snap.Revision
			frame.Snapshot = snap
		}
		conn.Send(frame)
	})
	if err != nil || conn == nil {
		log.Error().Err(err).Str("project_id", projectID).Msg("initial sync failed")
		return nil
	}

	h.metrics.ConnectionsActive.Inc()
	defer func() {
		h.hub.Leave(conn)
		h.metrics.ConnectionsActive.Dec()
	}()

	go h.writeLoop(ws, conn)
	h.readLoop(ctx, ws, conn)
	return nil
}

func (h *Handler) writeLoop(ws *websocket.Conn, conn *session.Conn) {
	pingInterval := h.config.PingInterval
	if pingInterval <= 0 {
		pingInterval = 15 * time.Second
	}
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer ws.Close()

	for {
		select {
		case <-conn.Closed():
			return
		case frame := <-conn.Frames():
			ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := ws.WriteJSON(frame); err != nil {
				conn.Close()
				return
			}
		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close()
				return
			}
		}
	}
}

func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, conn *session.Conn) {
	idle := h.config.IdleTimeout
	if idle <= 0 {
		idle = 60 * time.Second
	}
	ws.SetReadDeadline(time.Now().Add(idle))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(idle))
		return nil
	})

	for {
		var frame montage.ClientFrame
		if err := ws.ReadJSON(&frame); err != nil {
			if wsErr, ok := err.(*websocket.CloseError); ok {
				if wsErr.Code != websocket.CloseNormalClosure && wsErr.Code != websocket.CloseGoingAway {
					log.Debug().Err(err).Str("conn_id", conn.ID).Msg("websocket closed")
				}
			}
			return
		}
		ws.SetReadDeadline(time.Now().Add(idle))

		// De-duplicate frames replayed across a reconnect race.
		if frame.Seq > 0 && !conn.AcceptSeq(frame.Seq) {
			continue
		}

		switch frame.Type {
		case montage.ClientFrameOp:
			h.handleOpFrame(ctx, conn, frame)

		case montage.ClientFrameCursor:
			if frame.Cursor == nil {
				continue
			}
			if h.hub.AcceptCursor(conn) {
				h.hub.Cursor(conn, *frame.Cursor)
			}

		case montage.ClientFrameChat:
			msg, created, err := h.chat.Post(ctx, conn.ProjectID, conn.UserID, frame.ChatID, frame.Chat)
			if err != nil {
				conn.Send(montage.ServerFrame{
					Type:  montage.ServerFrameError,
					Seq:   frame.Seq,
					Error: err.Error(),
				})
				continue
			}
			// A frame replayed across a reconnect re-acks without a second
			// fan-out.
			if created {
				h.hub.Chat(conn.ProjectID, msg)
				h.signal.PublishChat(ctx, msg)
				h.metrics.ChatMessagesTotal.Inc()
			} else {
				conn.Send(montage.ServerFrame{
					Type: montage.ServerFrameChat,
					Seq:  frame.Seq,
					Chat: &msg,
				})
			}

		case montage.ClientFrameResync:
			h.handleResyncFrame(ctx, conn, frame)

		case montage.ClientFrameHeartbeat:
			conn.SendLossy(montage.ServerFrame{Type: montage.ServerFramePong, Seq: frame.Seq})

		default:
			log.Info().Str("type", frame.Type).Msg("unknown client frame type")
		}
	}
}

func (h *Handler) handleOpFrame(ctx context.Context, conn *session.Conn, frame montage.ClientFrame) {
	if frame.Op == nil {
		conn.Send(montage.ServerFrame{
			Type:  montage.ServerFrameError,
			Seq:   frame.Seq,
			Error: "op frame without operation",
		})
		return
	}

	op := *frame.Op
	op.Author = conn.UserID
	op.ProjectID = conn.ProjectID
	op.ClientSeq = frame.Seq
	if op.ID == "" {
		op.ID = uuid.New().String()
	}

	outcome, err := h.timeline.Submit(ctx, conn.ID, op)
	if err != nil {
		conn.Send(montage.ServerFrame{
			Type:  montage.ServerFrameError,
			Seq:   frame.Seq,
			Error: err.Error(),
		})
		return
	}
	// Accepted outcomes are delivered from inside the commit path; only
	// rejections and supersessions are acknowledged here.
	if outcome.Status != montage.StatusAccepted {
		h.metrics.RecordOutcome(op.Kind, outcome.Status)
		conn.Send(montage.ServerFrame{
			Type:    montage.ServerFrameOutcome,
			Seq:     frame.Seq,
			Outcome: &outcome,
		})
	}
}

func (h *Handler) handleResyncFrame(ctx context.Context, conn *session.Conn, frame montage.ClientFrame) {
	err := h.timeline.Sync(ctx, conn.ProjectID, frame.LastRevision, func(snap *montage.TimelineSnapshot, deltas []montage.Delta) {
		switch {
		case snap != nil:
			h.metrics.RecordResync("snapshot")
			conn.Send(montage.ServerFrame{
				Type:     montage.ServerFrameSnapshot,
				Seq:      frame.Seq,
				Revision: snap.Revision,
				Snapshot: snap,
			})
		default:
			h.metrics.RecordResync("deltas")
			rev := frame.LastRevision
			if n := len(deltas); n > 0 {
				rev = deltas[n-1].Revision
			}
			conn.Send(montage.ServerFrame{
				Type:     montage.ServerFrameDelta,
				Seq:      frame.Seq,
				Revision: rev,
				Deltas:   deltas,
			})
		}
	})
	if err != nil {
		conn.Send(montage.ServerFrame{
			Type:  montage.ServerFrameError,
			Seq:   frame.Seq,
			Error: err.Error(),
		})
	}
}

// Request is a firehose subscription update.
type Request struct {
	Type     string   `json:"type"`
	Projects []string `json:"projects"`
}

// handleRealtime serves the cluster-wide event firehose backed by the
// signal channels.
func (h *Handler) handleRealtime(c echo.Context) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket upgrade failed")
		return err
	}
	defer ws.Close()

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()

	input := make(chan []string)
	output := make(chan montage.Event)

	go h.signal.Realtime(ctx, input, output)

	go func() {
		defer cancel()
		for {
			var req Request
			if err := ws.ReadJSON(&req); err != nil {
				if wsErr, ok := err.(*websocket.CloseError); ok {
					if wsErr.Code != websocket.CloseNormalClosure && wsErr.Code != websocket.CloseGoingAway {
						log.Debug().Err(err).Msg("firehose socket closed")
					}
				}
				return
			}

			switch req.Type {
			case "listen":
				channels := make([]string, 0, len(req.Projects))
				for _, id := range req.Projects {
					channels = append(channels, montage.SignalChannel(id))
				}
				select {
				case input <- channels:
				case <-ctx.Done():
					return
				}
			case "h": // heartbeat
				// do nothing
			default:
				log.Info().Str("type", req.Type).Msg("unknown firehose request type")
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event := <-output:
			if err := ws.WriteJSON(event); err != nil {
				log.Debug().Err(err).Msg("firehose write failed")
				return nil
			}
		}
	}
}
