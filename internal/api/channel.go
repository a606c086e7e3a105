package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/huddle/internal/middleware"
	"github.com/lalith-99/huddle/internal/service"
	"go.uber.org/zap"
)

// ChannelHandler serves channel lookup and creation. Membership changes live
// in MembershipHandler.
//
// Why a thin handler over *service.ChannelService?
//   - The same operations are reachable over WebSocket. Access rules live in
//     the service so both transports enforce them identically.
//   - The handler only binds the request, picks the actor from the context
//     and maps the error kind to a status code.
type ChannelHandler struct {
	svc    *service.ChannelService
	logger *zap.Logger
}

func NewChannelHandler(svc *service.ChannelService, logger *zap.Logger) *ChannelHandler {
	return &ChannelHandler{svc: svc, logger: logger}
}

// createChannelRequest is the body of POST /v1/channels. The creator is
// always added as owner; MemberIDs are added as plain members.
type createChannelRequest struct {
	Name      string      `json:"name" binding:"required"`
	MemberIDs []uuid.UUID `json:"member_ids"`
}

// Create handles POST /v1/channels
func (h *ChannelHandler) Create(c *gin.Context) {
	var req createChannelRequest
	if !bind(c, h.logger, &req) {
		return
	}

	ch, err := h.svc.Create(c.Request.Context(), middleware.GetActor(c), req.Name, req.MemberIDs)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	respond(c, http.StatusCreated, ch)
}

// List handles GET /v1/channels
//
// Only channels the caller belongs to, most recently active first.
func (h *ChannelHandler) List(c *gin.Context) {
	channels, err := h.svc.List(c.Request.Context(), middleware.GetActor(c))
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, channels)
}

// GetByID handles GET /v1/channels/:id
func (h *ChannelHandler) GetByID(c *gin.Context) {
	channelID, ok := uuidParam(c, h.logger, "id")
	if !ok {
		return
	}

	ch, err := h.svc.Get(c.Request.Context(), middleware.GetActor(c), channelID)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, ch)
}
