package middleware

import (
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// CORS lets browser clients on origins call the API. An empty list allows
// every origin; the API authenticates with bearer tokens, never cookies.
func CORS(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"Content-Length", "Content-Type"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = withScheme(origins)
	}
	return cors.New(cfg)
}

// withScheme expands a bare host such as "app.example.com" to its http and
// https origins; cors.New rejects origins without a scheme.
func withScheme(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if strings.Contains(o, "://") {
			out = append(out, o)
			continue
		}
		out = append(out, "https://"+o, "http://"+o)
	}
	return out
}
