// Package api exposes the command interface over HTTP with gin.
//
// Every response, success or failure, is a Result envelope. The WebSocket
// layer in internal/realtime reuses Result for its command replies.
package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/huddle/internal/apperr"
	"go.uber.org/zap"
)

const contextKeyErrorCode = "errorCode"

// Result is the command envelope.
type Result struct {
	Success   bool        `json:"success"`
	Data      any         `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	ErrorCode apperr.Kind `json:"errorCode,omitempty"`
}

func OK(data any) Result {
	return Result{Success: true, Data: data}
}

// Fail builds the failure envelope for err. Internal errors are not described
// to the client.
func Fail(err error) Result {
	return Result{
		Error:     apperr.MessageOf(err),
		ErrorCode: apperr.KindOf(err),
	}
}

// StatusFor maps an error kind onto an HTTP status.
func StatusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindAuthentication:
		return http.StatusUnauthorized
	case apperr.KindPermission:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindInvalidState:
		return http.StatusConflict
	case apperr.KindTimeWindowExceeded:
		return http.StatusUnprocessableEntity
	case apperr.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respond(c *gin.Context, status int, data any) {
	c.JSON(status, OK(data))
}

// fail writes the envelope for err. Only internal and transient failures are
// logged; the rest are the caller's mistake.
func fail(c *gin.Context, logger *zap.Logger, err error) {
	kind := apperr.KindOf(err)
	switch kind {
	case apperr.KindInternal:
		logger.Error("command failed", zap.String("path", c.FullPath()), zap.Error(err))
	case apperr.KindTransient:
		logger.Warn("command failed, store unavailable", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.Set(contextKeyErrorCode, kind)
	c.JSON(StatusFor(kind), Fail(err))
}

// bind decodes the JSON body into req. Binding failures are validation errors.
func bind(c *gin.Context, logger *zap.Logger, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		fail(c, logger, apperr.Validation("invalid request body: "+err.Error()))
		return false
	}
	return true
}

func uuidParam(c *gin.Context, logger *zap.Logger, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		fail(c, logger, apperr.Validation("invalid "+name))
		return uuid.Nil, false
	}
	return id, true
}

func int64Param(c *gin.Context, logger *zap.Logger, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		fail(c, logger, apperr.Validation("invalid "+name))
		return 0, false
	}
	return id, true
}
