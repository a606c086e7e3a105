package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/huddle/internal/auth"
	"github.com/lalith-99/huddle/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const secret = "test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(pool *LimiterPool) *gin.Engine {
	r := gin.New()
	r.Use(RequestLogger(zap.NewNop()), AuthMiddleware(secret))
	if pool != nil {
		r.Use(RateLimit(pool))
	}
	r.GET("/me", func(c *gin.Context) {
		c.JSON(http.StatusOK, GetActor(c))
	})
	return r
}

func token(t *testing.T) (string, *models.User) {
	t.Helper()
	user := &models.User{ID: uuid.New(), DisplayName: "Ana", Role: "student"}
	tok, err := auth.GenerateToken(user, secret, time.Hour)
	require.NoError(t, err)
	return tok, user
}

func TestAuthMiddleware(t *testing.T) {
	r := newRouter(nil)
	tok, user := token(t)

	tests := []struct {
		name   string
		header string
		query  string
		status int
	}{
		{"bearer header", "Bearer " + tok, "", http.StatusOK},
		{"lowercase scheme", "bearer " + tok, "", http.StatusOK},
		{"query token", "", "?token=" + tok, http.StatusOK},
		{"missing", "", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + tok, "", http.StatusUnauthorized},
		{"bad token", "Bearer nope", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			if tt.status == http.StatusOK {
				assert.Contains(t, w.Body.String(), user.ID.String())
			} else {
				assert.Contains(t, w.Body.String(), `"errorCode":"AUTHENTICATION"`)
			}
		})
	}
}

func TestRateLimit(t *testing.T) {
	r := newRouter(NewLimiterPool(0.001, 2))
	tok, _ := token(t)
	other, _ := token(t)

	do := func(tok string) int {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, do(tok))
	assert.Equal(t, http.StatusOK, do(tok))
	assert.Equal(t, http.StatusTooManyRequests, do(tok))
	assert.Equal(t, http.StatusOK, do(other), "buckets are per user")
}

func TestCORS(t *testing.T) {
	preflight := func(r *gin.Engine, origin string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodOptions, "/v1/channels", nil)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}
	handler := func(c *gin.Context) { c.Status(http.StatusOK) }

	r := gin.New()
	r.Use(CORS([]string{"https://app.example.com"}))
	r.POST("/v1/channels", handler)

	w := preflight(r, "https://app.example.com")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))

	w = preflight(r, "https://evil.example.com")
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))

	open := gin.New()
	open.Use(CORS(nil))
	open.POST("/v1/channels", handler)
	w = preflight(open, "https://anything.example.com")
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSBareHost(t *testing.T) {
	assert.Equal(t,
		[]string{"https://app.example.com", "http://app.example.com", "http://localhost:5173"},
		withScheme([]string{"app.example.com", "http://localhost:5173"}),
	)
}
