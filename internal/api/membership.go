package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/huddle/internal/middleware"
	"github.com/lalith-99/huddle/internal/service"
	"go.uber.org/zap"
)

// MembershipHandler handles who belongs to a channel.
type MembershipHandler struct {
	svc    *service.ChannelService
	logger *zap.Logger
}

func NewMembershipHandler(svc *service.ChannelService, logger *zap.Logger) *MembershipHandler {
	return &MembershipHandler{svc: svc, logger: logger}
}

type addMemberRequest struct {
	UserID uuid.UUID `json:"user_id" binding:"required"`
}

// Join handles POST /v1/channels/:id/join
func (h *MembershipHandler) Join(c *gin.Context) {
	channelID, ok := uuidParam(c, h.logger, "id")
	if !ok {
		return
	}
	if err := h.svc.Join(c.Request.Context(), middleware.GetActor(c), channelID); err != nil {
		fail(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"joined": true})
}

// Leave handles DELETE /v1/channels/:id/members/me
func (h *MembershipHandler) Leave(c *gin.Context) {
	channelID, ok := uuidParam(c, h.logger, "id")
	if !ok {
		return
	}
	if err := h.svc.Leave(c.Request.Context(), middleware.GetActor(c), channelID); err != nil {
		fail(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"left": true})
}

// ListMembers handles GET /v1/channels/:id/members
func (h *MembershipHandler) ListMembers(c *gin.Context) {
	channelID, ok := uuidParam(c, h.logger, "id")
	if !ok {
		return
	}
	members, err := h.svc.Members(c.Request.Context(), middleware.GetActor(c), channelID)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, members)
}

// AddMember handles POST /v1/channels/:id/members
//
// The channel owner and staff may add anyone.
func (h *MembershipHandler) AddMember(c *gin.Context) {
	channelID, ok := uuidParam(c, h.logger, "id")
	if !ok {
		return
	}
	var req addMemberRequest
	if !bind(c, h.logger, &req) {
		return
	}
	if err := h.svc.AddMember(c.Request.Context(), middleware.GetActor(c), channelID, req.UserID); err != nil {
		fail(c, h.logger, err)
		return
	}
	respond(c, http.StatusCreated, gin.H{"user_id": req.UserID})
}
