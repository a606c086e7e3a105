package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/huddle/internal/apperr"
	"github.com/lalith-99/huddle/internal/middleware"
	"github.com/lalith-99/huddle/internal/repository"
	"go.uber.org/zap"
)

type UserHandler struct {
	repo   repository.UserRepository
	logger *zap.Logger
}

func NewUserHandler(repo repository.UserRepository, logger *zap.Logger) *UserHandler {
	return &UserHandler{repo: repo, logger: logger}
}

// GetMe handles GET /v1/users/me
func (h *UserHandler) GetMe(c *gin.Context) {
	user, err := h.repo.GetByID(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	// A valid token for a user that no longer exists.
	if user == nil {
		fail(c, h.logger, apperr.NotFound("user not found"))
		return
	}
	respond(c, http.StatusOK, user)
}

// GetByID handles GET /v1/users/:userID
func (h *UserHandler) GetByID(c *gin.Context) {
	userID, ok := uuidParam(c, h.logger, "userID")
	if !ok {
		return
	}
	user, err := h.repo.GetByID(c.Request.Context(), userID)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	if user == nil {
		fail(c, h.logger, apperr.NotFound("user not found"))
		return
	}
	// Other users' email addresses are not exposed.
	user.Email = ""
	respond(c, http.StatusOK, user)
}
