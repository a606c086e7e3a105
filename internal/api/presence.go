package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/huddle/internal/middleware"
	"github.com/lalith-99/huddle/internal/models"
	"github.com/lalith-99/huddle/internal/service"
	"go.uber.org/zap"
)

type PresenceHandler struct {
	svc    *service.PresenceService
	logger *zap.Logger
}

func NewPresenceHandler(svc *service.PresenceService, logger *zap.Logger) *PresenceHandler {
	return &PresenceHandler{svc: svc, logger: logger}
}

type setOnlineRequest struct {
	Online *bool `json:"online" binding:"required"`
}

// presenceView is a stored record plus the derived online flag readers show.
type presenceView struct {
	models.PresenceRecord
	Online bool `json:"online"`
}

// SetOnline handles PUT /v1/presence
func (h *PresenceHandler) SetOnline(c *gin.Context) {
	var req setOnlineRequest
	if !bind(c, h.logger, &req) {
		return
	}
	if err := h.svc.SetOnline(c.Request.Context(), middleware.GetActor(c), *req.Online); err != nil {
		fail(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"online": *req.Online})
}

// Heartbeat handles POST /v1/presence/heartbeat
func (h *PresenceHandler) Heartbeat(c *gin.Context) {
	if err := h.svc.Heartbeat(c.Request.Context(), middleware.GetActor(c)); err != nil {
		fail(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"ok": true})
}

// Lookup handles GET /v1/presence/:userID
//
// A user who never reported presence is returned offline, not as 404.
func (h *PresenceHandler) Lookup(c *gin.Context) {
	userID, ok := uuidParam(c, h.logger, "userID")
	if !ok {
		return
	}
	rec, online, err := h.svc.Lookup(c.Request.Context(), userID)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	if rec == nil {
		rec = &models.PresenceRecord{UserID: userID}
	}
	respond(c, http.StatusOK, presenceView{PresenceRecord: *rec, Online: online})
}

// OnlineUsers handles GET /v1/channels/:id/online
func (h *PresenceHandler) OnlineUsers(c *gin.Context) {
	channelID, ok := uuidParam(c, h.logger, "id")
	if !ok {
		return
	}
	recs, err := h.svc.OnlineUsersFor(c.Request.Context(), middleware.GetActor(c), channelID)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, recs)
}
