package supportchat

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/real-rm/supportchat/internal/auth"
	"github.com/real-rm/supportchat/internal/constants"
	"github.com/real-rm/supportchat/internal/httperrors"
	"github.com/real-rm/supportchat/internal/message"
	"github.com/real-rm/supportchat/internal/router"
	"github.com/real-rm/supportchat/internal/session"
	"github.com/real-rm/supportchat/internal/storage"
	"github.com/real-rm/supportchat/internal/util"
)

// roomListResponse is the body of the room list endpoints
type roomListResponse struct {
	Rooms []message.RoomPayload `json:"rooms"`
	Count int                   `json:"count"`
}

// closeRoomResponse is the body of the close endpoint. Closed is false when
// the room was already closed.
type closeRoomResponse struct {
	Room   message.RoomPayload `json:"room"`
	Closed bool                `json:"closed"`
}

// transcriptResponse is an archived room as returned to staff
type transcriptResponse struct {
	message.RoomPayload
	ClosedFrom string                       `json:"closedFrom"`
	Messages   []message.ChatMessagePayload `json:"messages"`
}

// transcriptListResponse is the body of the transcript list endpoint
type transcriptListResponse struct {
	Transcripts []*storage.TranscriptSummary `json:"transcripts"`
	Count       int                          `json:"count"`
}

// handleHealthCheck is the liveness probe: answering is enough
func handleHealthCheck(c *gin.Context) {
	c.JSON(constants.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleReadyCheck is the readiness probe. The archive database is checked
// only when one is configured; live chat does not depend on it, but an
// operator wants to know.
func (s *Service) handleReadyCheck(c *gin.Context) {
	checks := make(map[string]any)
	allReady := true

	if s.shuttingDown.Load() {
		checks["websocket"] = gin.H{"status": "not ready", "reason": "Service is shutting down"}
		allReady = false
	} else {
		waiting, active := s.store.Counts()
		checks["websocket"] = gin.H{
			"status":        "ready",
			"connections":   s.ws.ConnectionCount(),
			"waiting_rooms": waiting,
			"active_rooms":  active,
		}
	}

	if s.transcripts != nil {
		ctx, cancel := util.NewTimeoutContext(constants.HealthCheckTimeout)
		defer cancel()
		if err := s.transcripts.Ping(ctx); err != nil {
			s.logger.Warn("MongoDB health check failed", "error", err)
			checks["mongodb"] = gin.H{"status": "not ready", "reason": "Database connectivity check failed"}
			allReady = false
		} else {
			checks["mongodb"] = gin.H{"status": "ready"}
		}
	}
	if s.archiver != nil {
		checks["archive_queue"] = gin.H{"status": "ready", "pending": s.archiver.Pending()}
	}

	status, statusCode := "ready", constants.StatusOK
	if !allReady {
		status, statusCode = "not ready", constants.StatusServiceUnavailable
	}
	c.JSON(statusCode, gin.H{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"checks":    checks,
	})
}

func (s *Service) handleListWaiting(c *gin.Context) {
	s.respondRooms(c, s.store.ListWaiting())
}

func (s *Service) handleListActive(c *gin.Context) {
	s.respondRooms(c, s.store.ListActive())
}

// respondRooms answers with the rooms the caller's organization may see
func (s *Service) respondRooms(c *gin.Context, rooms []session.RoomView) {
	identity, _ := identityFrom(c)
	out := make([]message.RoomPayload, 0, len(rooms))
	for _, room := range rooms {
		if router.VisibleTo(identity, room) {
			out = append(out, router.RoomPayload(room))
		}
	}
	c.JSON(http.StatusOK, roomListResponse{Rooms: out, Count: len(out)})
}

// handleGetRoom returns a live room with its history. Rooms of another
// organization are reported as missing.
func (s *Service) handleGetRoom(c *gin.Context) {
	identity, _ := identityFrom(c)
	roomID := c.Param("roomID")

	room, history, err := s.store.Snapshot(roomID)
	if err == nil && !router.VisibleTo(identity, room) {
		err = session.ErrRoomNotFound
	}
	if err != nil {
		s.respondError(c, "get room", err, roomID)
		return
	}
	c.JSON(http.StatusOK, router.RoomHistory(room, history))
}

// handleCloseRoom closes a room on behalf of an administrator. It goes through
// the gateway so participants get the same chat_closed frame as a close_chat.
func (s *Service) handleCloseRoom(c *gin.Context) {
	identity, _ := identityFrom(c)
	roomID := c.Param("roomID")

	room, err := s.store.Get(roomID)
	if err == nil && !router.VisibleTo(identity, room) {
		err = session.ErrRoomNotFound
	}
	if err != nil {
		s.respondError(c, "close room", err, roomID)
		return
	}

	room, closed, err := s.router.CloseRoom(c.Request.Context(), identity, roomID)
	if err != nil {
		s.respondError(c, "close room", err, roomID)
		return
	}
	s.logger.Info("Room closed from admin console",
		"room_id", roomID,
		"admin_id", identity.ParticipantID,
		"changed", closed)
	c.JSON(http.StatusOK, closeRoomResponse{Room: router.RoomPayload(room), Closed: closed})
}

// handleGetTranscript returns an archived room with decrypted messages
func (s *Service) handleGetTranscript(c *gin.Context) {
	if s.transcripts == nil {
		httperrors.RespondServiceUnavailable(c, httperrors.MsgArchiveDisabled)
		return
	}
	identity, _ := identityFrom(c)
	roomID := c.Param("roomID")

	ctx, cancel := util.NewTimeoutContext(constants.DefaultContextTimeout)
	defer cancel()
	doc, err := s.transcripts.GetTranscript(ctx, roomID)
	if err == nil && !transcriptVisibleTo(identity, doc) {
		err = storage.ErrTranscriptNotFound
	}
	switch {
	case errors.Is(err, storage.ErrTranscriptNotFound), errors.Is(err, storage.ErrInvalidRoomID):
		httperrors.RespondNotFound(c, httperrors.MsgTranscriptNotFound)
		return
	case err != nil:
		util.LogError(s.logger, "supportchat", "get transcript", err, "room_id", roomID)
		httperrors.RespondInternalError(c)
		return
	}
	c.JSON(http.StatusOK, toTranscript(doc))
}

// handleListTranscripts lists archived rooms, newest first. Staff bound to an
// organization only see that organization's transcripts.
func (s *Service) handleListTranscripts(c *gin.Context) {
	if s.transcripts == nil {
		httperrors.RespondServiceUnavailable(c, httperrors.MsgArchiveDisabled)
		return
	}
	identity, _ := identityFrom(c)

	filter := storage.TranscriptFilter{
		OrganizationID: c.Query("organizationId"),
		CustomerID:     c.Query("customerId"),
		AgentID:        c.Query("agentId"),
	}
	if identity.OrganizationID != "" {
		filter.OrganizationID = identity.OrganizationID
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			httperrors.RespondBadRequest(c, "limit must be a positive integer")
			return
		}
		filter.Limit = min(limit, constants.MaxTranscriptListLimit)
	}

	ctx, cancel := util.NewTimeoutContext(constants.DefaultContextTimeout)
	defer cancel()
	list, err := s.transcripts.ListTranscripts(ctx, filter)
	if err != nil {
		util.LogError(s.logger, "supportchat", "list transcripts", err)
		httperrors.RespondInternalError(c)
		return
	}
	if list == nil {
		list = []*storage.TranscriptSummary{}
	}
	c.JSON(http.StatusOK, transcriptListResponse{Transcripts: list, Count: len(list)})
}

func toTranscript(doc *storage.RoomDocument) transcriptResponse {
	closedAt := doc.ClosedAt
	out := transcriptResponse{
		RoomPayload: message.RoomPayload{
			RoomID:         doc.ID,
			CustomerID:     doc.CustomerID,
			CustomerName:   doc.CustomerName,
			IsGuest:        doc.IsGuest,
			AgentID:        doc.AgentID,
			AgentName:      doc.AgentName,
			Department:     doc.Department,
			OrganizationID: doc.OrganizationID,
			State:          doc.State,
			CreatedAt:      doc.CreatedAt,
			LastActivityAt: doc.ClosedAt,
			ClosedAt:       &closedAt,
			ClosedBy:       doc.ClosedBy,
		},
		ClosedFrom: doc.PreviousState,
		Messages:   make([]message.ChatMessagePayload, 0, len(doc.Messages)),
	}
	for _, m := range doc.Messages {
		out.Messages = append(out.Messages, message.ChatMessagePayload{
			ID:         m.ID,
			RoomID:     doc.ID,
			SenderID:   m.SenderID,
			SenderRole: m.SenderRole,
			SenderName: m.SenderName,
			Body:       m.Body,
			Timestamp:  m.Timestamp,
		})
	}
	return out
}

func transcriptVisibleTo(identity auth.Identity, doc *storage.RoomDocument) bool {
	return identity.OrganizationID == "" ||
		doc.OrganizationID == "" ||
		identity.OrganizationID == doc.OrganizationID
}

// respondError logs service failures and answers with the matching status
func (s *Service) respondError(c *gin.Context, operation string, err error, roomID string) {
	if !errors.Is(err, session.ErrRoomNotFound) {
		s.logger.Debug("Admin request failed", "operation", operation, "room_id", roomID, "error", err)
	}
	httperrors.RespondDomainError(c, err)
}
