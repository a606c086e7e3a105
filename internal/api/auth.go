package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/huddle/internal/apperr"
	"github.com/lalith-99/huddle/internal/auth"
	"github.com/lalith-99/huddle/internal/models"
	"github.com/lalith-99/huddle/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// AuthHandler issues tokens. Signup and login are the only public routes.
type AuthHandler struct {
	users     repository.UserRepository
	jwtSecret string
	tokenTTL  time.Duration
	logger    *zap.Logger
}

func NewAuthHandler(users repository.UserRepository, jwtSecret string, tokenTTL time.Duration, logger *zap.Logger) *AuthHandler {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &AuthHandler{users: users, jwtSecret: jwtSecret, tokenTTL: tokenTTL, logger: logger}
}

type signupRequest struct {
	Email       string `json:"email" binding:"required,email"`
	Password    string `json:"password" binding:"required,min=8"`
	DisplayName string `json:"display_name" binding:"required"`
	// Role is "student" or "teacher". Admins are provisioned out of band.
	Role  string `json:"role"`
	Level string `json:"level"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type authResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Signup handles POST /v1/auth/signup
func (h *AuthHandler) Signup(c *gin.Context) {
	var req signupRequest
	if !bind(c, h.logger, &req) {
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	switch req.Role {
	case "":
		req.Role = "student"
	case "student", "teacher":
	default:
		fail(c, h.logger, apperr.Validation("role must be student or teacher"))
		return
	}

	existing, err := h.users.GetByEmail(c.Request.Context(), req.Email)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	if existing != nil {
		fail(c, h.logger, apperr.InvalidState("email already registered"))
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		fail(c, h.logger, err)
		return
	}

	user, err := h.users.Create(c.Request.Context(), req.Email, strings.TrimSpace(req.DisplayName), req.Role, req.Level, string(hash))
	if err != nil {
		fail(c, h.logger, err)
		return
	}

	h.issue(c, http.StatusCreated, user)
}

// Login handles POST /v1/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if !bind(c, h.logger, &req) {
		return
	}

	user, err := h.users.GetByEmail(c.Request.Context(), strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		fail(c, h.logger, err)
		return
	}

	// Same answer for unknown email and wrong password.
	if user == nil || bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		fail(c, h.logger, apperr.Authentication("invalid email or password"))
		return
	}

	h.issue(c, http.StatusOK, user)
}

func (h *AuthHandler) issue(c *gin.Context, status int, user *models.User) {
	token, err := auth.GenerateToken(user, h.jwtSecret, h.tokenTTL)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	respond(c, status, authResponse{Token: token, ExpiresAt: time.Now().Add(h.tokenTTL).UTC()})
}
