// Package middleware holds the gin middleware shared by the HTTP and
// WebSocket entry points: authentication, rate limiting and request logs.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/huddle/internal/apperr"
	"github.com/lalith-99/huddle/internal/auth"
	"github.com/lalith-99/huddle/internal/models"
)

// ContextKeyActor is where AuthMiddleware stores the caller.
const ContextKeyActor = "actor"

// abort ends the chain with the command envelope.
func abort(c *gin.Context, status int, kind apperr.Kind, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"success":   false,
		"error":     msg,
		"errorCode": kind,
	})
}

// AuthMiddleware validates the bearer token and stores the caller's
// models.Actor on the context.
//
// Browsers cannot set headers on a WebSocket handshake, so a ?token= query
// parameter is accepted when there is no Authorization header.
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, ok := bearerToken(c)
		if !ok {
			abort(c, http.StatusUnauthorized, apperr.KindAuthentication, "missing or malformed authorization")
			return
		}

		claims, err := auth.ParseToken(tokenString, secret)
		if err != nil {
			abort(c, http.StatusUnauthorized, apperr.KindAuthentication, "invalid or expired token")
			return
		}

		c.Set(ContextKeyActor, claims.Actor())
		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if header == "" {
		if q := c.Query("token"); q != "" {
			return q, true
		}
		return "", false
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// GetActor returns the authenticated caller, or the zero Actor when the
// route is not behind AuthMiddleware. Services reject the zero Actor with
// AUTHENTICATION.
func GetActor(c *gin.Context) models.Actor {
	val, exists := c.Get(ContextKeyActor)
	if !exists {
		return models.Actor{}
	}
	actor, ok := val.(models.Actor)
	if !ok {
		return models.Actor{}
	}
	return actor
}

func GetUserID(c *gin.Context) uuid.UUID {
	return GetActor(c).UserID
}
