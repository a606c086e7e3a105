package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/huddle/internal/middleware"
	"github.com/lalith-99/huddle/internal/service"
	"go.uber.org/zap"
)

type TypingHandler struct {
	svc    *service.TypingService
	logger *zap.Logger
}

func NewTypingHandler(svc *service.TypingService, logger *zap.Logger) *TypingHandler {
	return &TypingHandler{svc: svc, logger: logger}
}

// Start handles POST /v1/channels/:id/typing
func (h *TypingHandler) Start(c *gin.Context) {
	channelID, ok := uuidParam(c, h.logger, "id")
	if !ok {
		return
	}
	if err := h.svc.StartTyping(c.Request.Context(), middleware.GetActor(c), channelID); err != nil {
		fail(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"typing": true})
}

// Stop handles DELETE /v1/channels/:id/typing
func (h *TypingHandler) Stop(c *gin.Context) {
	channelID, ok := uuidParam(c, h.logger, "id")
	if !ok {
		return
	}
	if err := h.svc.StopTyping(c.Request.Context(), middleware.GetActor(c), channelID); err != nil {
		fail(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"typing": false})
}

// List handles GET /v1/channels/:id/typing. The caller is never listed.
func (h *TypingHandler) List(c *gin.Context) {
	channelID, ok := uuidParam(c, h.logger, "id")
	if !ok {
		return
	}
	ids, err := h.svc.ActiveTypersFor(c.Request.Context(), middleware.GetActor(c), channelID)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, ids)
}
