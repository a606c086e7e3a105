package middleware

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/huddle/internal/apperr"
	"golang.org/x/time/rate"
)

// LimiterPool hands out one token bucket per key (user id, or client IP
// for anonymous routes).
type LimiterPool struct {
	mu    sync.Mutex
	m     map[string]*rate.Limiter
	rps   float64
	burst int
}

func NewLimiterPool(rps float64, burst int) *LimiterPool {
	if rps <= 0 {
		rps = 20
	}
	if burst <= 0 {
		burst = 40
	}
	return &LimiterPool{m: make(map[string]*rate.Limiter), rps: rps, burst: burst}
}

func (p *LimiterPool) get(key string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if l, ok := p.m[key]; ok {
		return l
	}
	l := rate.NewLimiter(rate.Limit(p.rps), p.burst)
	p.m[key] = l
	return l
}

// Allow takes one token from key's bucket.
func (p *LimiterPool) Allow(key string) bool {
	return p.get(key).Allow()
}

// RateLimit rejects requests over the caller's budget with 429. It must run
// after AuthMiddleware to key by user; otherwise it keys by client IP.
func RateLimit(pool *LimiterPool) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		if id := GetUserID(c); id != uuid.Nil {
			key = id.String()
		}
		if !pool.Allow(key) {
			abort(c, http.StatusTooManyRequests, apperr.KindTransient, "rate limit exceeded, retry")
			return
		}
		c.Next()
	}
}
