package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/huddle/internal/middleware"
	"github.com/lalith-99/huddle/internal/models"
	"github.com/lalith-99/huddle/internal/service"
	"go.uber.org/zap"
)

// CallHandler exposes call signaling. Media never passes through here.
type CallHandler struct {
	svc    *service.CallService
	logger *zap.Logger
}

func NewCallHandler(svc *service.CallService, logger *zap.Logger) *CallHandler {
	return &CallHandler{svc: svc, logger: logger}
}

// createCallRequest is the body of POST /v1/channels/:id/calls. An empty
// Invitees invites every other channel member.
type createCallRequest struct {
	Type     models.CallType `json:"type" binding:"required"`
	Invitees []uuid.UUID     `json:"invitees"`
}

// Create handles POST /v1/channels/:id/calls
func (h *CallHandler) Create(c *gin.Context) {
	channelID, ok := uuidParam(c, h.logger, "id")
	if !ok {
		return
	}
	var req createCallRequest
	if !bind(c, h.logger, &req) {
		return
	}

	call, err := h.svc.Create(c.Request.Context(), middleware.GetActor(c), channelID, req.Type, req.Invitees)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	respond(c, http.StatusCreated, call)
}

// Get handles GET /v1/calls/:callID
func (h *CallHandler) Get(c *gin.Context) {
	h.transition(c, h.svc.Get)
}

// Join handles POST /v1/calls/:callID/join
func (h *CallHandler) Join(c *gin.Context) {
	h.transition(c, h.svc.Join)
}

// Reject handles POST /v1/calls/:callID/reject
func (h *CallHandler) Reject(c *gin.Context) {
	h.transition(c, h.svc.Reject)
}

// End handles POST /v1/calls/:callID/end
func (h *CallHandler) End(c *gin.Context) {
	h.transition(c, h.svc.End)
}

// Incoming handles GET /v1/calls/incoming
func (h *CallHandler) Incoming(c *gin.Context) {
	calls, err := h.svc.ListIncoming(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, calls)
}

type callOp func(ctx context.Context, actor models.Actor, callID uuid.UUID) (*models.CallSession, error)

func (h *CallHandler) transition(c *gin.Context, op callOp) {
	callID, ok := uuidParam(c, h.logger, "callID")
	if !ok {
		return
	}
	call, err := op(c.Request.Context(), middleware.GetActor(c), callID)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, call)
}
