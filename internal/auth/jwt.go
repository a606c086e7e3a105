// Package auth issues and verifies the access tokens that identify a
// caller. It stands in for the external identity provider.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/lalith-99/huddle/internal/models"
)

const issuer = "huddle"

// Claims is the payload inside every JWT.
//
// The display fields travel in the token so a connection can build its
// models.Actor without a user lookup on every command.
type Claims struct {
	UserID uuid.UUID `json:"user_id"`
	Email  string    `json:"email,omitempty"`
	Name   string    `json:"name"`
	Role   string    `json:"role"`
	Level  string    `json:"level,omitempty"`
	jwt.RegisteredClaims
}

// Actor is the caller these claims describe.
func (c *Claims) Actor() models.Actor {
	return models.Actor{
		UserID: c.UserID,
		Name:   c.Name,
		Role:   c.Role,
		Level:  c.Level,
	}
}

// GenerateToken signs an HS256 token for user, valid for ttl.
func GenerateToken(user *models.User, secret string, ttl time.Duration) (string, error) {
	now := time.Now()

	claims := Claims{
		UserID: user.ID,
		Email:  user.Email,
		Name:   user.DisplayName,
		Role:   user.Role,
		Level:  user.Level,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	return signed, nil
}

// ParseToken validates signature, expiry and signing method, and returns
// the claims. Tokens without a user id are rejected.
func ParseToken(tokenString, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{},
		func(token *jwt.Token) (any, error) {
			// Only HMAC: rejects "none" and algorithm-confusion tokens.
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return []byte(secret), nil
		},
		jwt.WithIssuer(issuer),
	)
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	if claims.UserID == uuid.Nil {
		return nil, fmt.Errorf("token has no user id")
	}

	return claims, nil
}
