package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/huddle/internal/apperr"
	"github.com/lalith-99/huddle/internal/middleware"
	"github.com/lalith-99/huddle/internal/observ"
	"go.uber.org/zap"
)

// Handlers is everything NewRouter mounts. Stream is the WebSocket upgrade
// handler and may be nil.
type Handlers struct {
	Auth       *AuthHandler
	User       *UserHandler
	Channel    *ChannelHandler
	Membership *MembershipHandler
	Message    *MessageHandler
	Presence   *PresenceHandler
	Typing     *TypingHandler
	Call       *CallHandler
	Stream     gin.HandlerFunc
}

type RouterOptions struct {
	JWTSecret      string
	AllowedOrigins []string
	Limiter        *middleware.LimiterPool
	Metrics        *observ.Metrics
	Logger         *zap.Logger
}

// NewRouter builds the /v1 HTTP surface. Health and auth are public; every
// other route requires a token and is rate limited per user.
func NewRouter(h Handlers, opts RouterOptions) *gin.Engine {
	r := gin.New()
	r.Use(
		gin.Recovery(),
		middleware.CORS(opts.AllowedOrigins),
		middleware.RequestLogger(opts.Logger),
		commandMetrics(opts.Metrics),
	)

	r.GET("/v1/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, OK(gin.H{"status": "ok"}))
	})

	public := r.Group("/v1/auth")
	public.POST("/signup", h.Auth.Signup)
	public.POST("/login", h.Auth.Login)

	v1 := r.Group("/v1")
	v1.Use(middleware.AuthMiddleware(opts.JWTSecret))
	if opts.Limiter != nil {
		v1.Use(middleware.RateLimit(opts.Limiter))
	}

	if h.Stream != nil {
		v1.GET("/ws", h.Stream)
	}

	v1.GET("/users/me", h.User.GetMe)
	v1.GET("/users/:userID", h.User.GetByID)

	v1.POST("/channels", h.Channel.Create)
	v1.GET("/channels", h.Channel.List)
	v1.GET("/channels/:id", h.Channel.GetByID)

	v1.POST("/channels/:id/join", h.Membership.Join)
	v1.GET("/channels/:id/members", h.Membership.ListMembers)
	v1.POST("/channels/:id/members", h.Membership.AddMember)
	v1.DELETE("/channels/:id/members/me", h.Membership.Leave)

	v1.POST("/channels/:id/messages", h.Message.Send)
	v1.GET("/channels/:id/messages", h.Message.List)
	v1.PATCH("/channels/:id/messages/:msgID", h.Message.Edit)
	v1.DELETE("/channels/:id/messages/:msgID", h.Message.Delete)
	v1.POST("/channels/:id/messages/:msgID/reactions", h.Message.AddReaction)
	v1.DELETE("/channels/:id/messages/:msgID/reactions/:emoji", h.Message.RemoveReaction)
	v1.POST("/channels/:id/read", h.Message.MarkRead)
	v1.GET("/channels/:id/unread", h.Message.Unread)

	v1.POST("/channels/:id/typing", h.Typing.Start)
	v1.DELETE("/channels/:id/typing", h.Typing.Stop)
	v1.GET("/channels/:id/typing", h.Typing.List)

	v1.GET("/channels/:id/online", h.Presence.OnlineUsers)
	v1.PUT("/presence", h.Presence.SetOnline)
	v1.POST("/presence/heartbeat", h.Presence.Heartbeat)
	v1.GET("/presence/:userID", h.Presence.Lookup)

	v1.POST("/channels/:id/calls", h.Call.Create)
	v1.GET("/calls/incoming", h.Call.Incoming)
	v1.GET("/calls/:callID", h.Call.Get)
	v1.POST("/calls/:callID/join", h.Call.Join)
	v1.POST("/calls/:callID/reject", h.Call.Reject)
	v1.POST("/calls/:callID/end", h.Call.End)

	return r
}

// commandMetrics counts every request by route and result code.
func commandMetrics(m *observ.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		code := "OK"
		if kind, ok := c.Get(contextKeyErrorCode); ok {
			code = string(kind.(apperr.Kind))
		} else if c.Writer.Status() >= 400 {
			code = strconv.Itoa(c.Writer.Status())
		}
		m.CommandDone(c.Request.Method+" "+route, code, time.Since(start).Seconds())
	}
}
