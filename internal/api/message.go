package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/huddle/internal/apperr"
	"github.com/lalith-99/huddle/internal/middleware"
	"github.com/lalith-99/huddle/internal/service"
	"go.uber.org/zap"
)

type MessageHandler struct {
	svc    *service.MessageService
	logger *zap.Logger
}

func NewMessageHandler(svc *service.MessageService, logger *zap.Logger) *MessageHandler {
	return &MessageHandler{svc: svc, logger: logger}
}

type editMessageRequest struct {
	Text string `json:"text"`
}

type reactionRequest struct {
	Emoji string `json:"emoji" binding:"required"`
}

type markReadRequest struct {
	MessageIDs []int64 `json:"message_ids"`
}

// Send handles POST /v1/channels/:id/messages
func (h *MessageHandler) Send(c *gin.Context) {
	channelID, ok := uuidParam(c, h.logger, "id")
	if !ok {
		return
	}
	var req service.SendInput
	if !bind(c, h.logger, &req) {
		return
	}

	msg, err := h.svc.Send(c.Request.Context(), middleware.GetActor(c), channelID, req)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	respond(c, http.StatusCreated, msg)
}

// List handles GET /v1/channels/:id/messages?before=123&limit=50
//
// Cursor pagination on message id: before=0 (or absent) is the newest page,
// next_before in the response continues with older messages.
func (h *MessageHandler) List(c *gin.Context) {
	channelID, ok := uuidParam(c, h.logger, "id")
	if !ok {
		return
	}

	var (
		before int64
		limit  int
		err    error
	)
	if b := c.Query("before"); b != "" {
		before, err = strconv.ParseInt(b, 10, 64)
		if err != nil || before < 0 {
			fail(c, h.logger, apperr.Validation("invalid 'before' parameter"))
			return
		}
	}
	if l := c.Query("limit"); l != "" {
		limit, err = strconv.Atoi(l)
		if err != nil || limit < 1 {
			fail(c, h.logger, apperr.Validation("invalid 'limit' parameter"))
			return
		}
	}

	page, err := h.svc.List(c.Request.Context(), middleware.GetActor(c), channelID, before, limit)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, page)
}

// Edit handles PATCH /v1/channels/:id/messages/:msgID
func (h *MessageHandler) Edit(c *gin.Context) {
	channelID, ok := uuidParam(c, h.logger, "id")
	if !ok {
		return
	}
	messageID, ok := int64Param(c, h.logger, "msgID")
	if !ok {
		return
	}
	var req editMessageRequest
	if !bind(c, h.logger, &req) {
		return
	}

	msg, err := h.svc.Edit(c.Request.Context(), middleware.GetActor(c), channelID, messageID, req.Text)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, msg)
}

// Delete handles DELETE /v1/channels/:id/messages/:msgID?for=everyone
//
// Without for=everyone the message is only hidden from the caller.
func (h *MessageHandler) Delete(c *gin.Context) {
	channelID, ok := uuidParam(c, h.logger, "id")
	if !ok {
		return
	}
	messageID, ok := int64Param(c, h.logger, "msgID")
	if !ok {
		return
	}

	var forEveryone bool
	switch c.DefaultQuery("for", "me") {
	case "me":
	case "everyone":
		forEveryone = true
	default:
		fail(c, h.logger, apperr.Validation("'for' must be me or everyone"))
		return
	}

	msg, err := h.svc.Delete(c.Request.Context(), middleware.GetActor(c), channelID, messageID, forEveryone)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, msg)
}

// AddReaction handles POST /v1/channels/:id/messages/:msgID/reactions
func (h *MessageHandler) AddReaction(c *gin.Context) {
	channelID, ok := uuidParam(c, h.logger, "id")
	if !ok {
		return
	}
	messageID, ok := int64Param(c, h.logger, "msgID")
	if !ok {
		return
	}
	var req reactionRequest
	if !bind(c, h.logger, &req) {
		return
	}

	msg, err := h.svc.AddReaction(c.Request.Context(), middleware.GetActor(c), channelID, messageID, req.Emoji)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, msg)
}

// RemoveReaction handles DELETE /v1/channels/:id/messages/:msgID/reactions/:emoji
func (h *MessageHandler) RemoveReaction(c *gin.Context) {
	channelID, ok := uuidParam(c, h.logger, "id")
	if !ok {
		return
	}
	messageID, ok := int64Param(c, h.logger, "msgID")
	if !ok {
		return
	}

	msg, err := h.svc.RemoveReaction(c.Request.Context(), middleware.GetActor(c), channelID, messageID, c.Param("emoji"))
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, msg)
}

// MarkRead handles POST /v1/channels/:id/read
func (h *MessageHandler) MarkRead(c *gin.Context) {
	channelID, ok := uuidParam(c, h.logger, "id")
	if !ok {
		return
	}
	var req markReadRequest
	if !bind(c, h.logger, &req) {
		return
	}

	n, err := h.svc.MarkRead(c.Request.Context(), middleware.GetActor(c), channelID, req.MessageIDs)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"marked": n})
}

// Unread handles GET /v1/channels/:id/unread
func (h *MessageHandler) Unread(c *gin.Context) {
	channelID, ok := uuidParam(c, h.logger, "id")
	if !ok {
		return
	}

	n, err := h.svc.UnreadCount(c.Request.Context(), middleware.GetActor(c), channelID)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"unread": n})
}
