package middleware

import (
	"slices"
	"time"

	"github.com/GriffinCanCode/lectern/internal/infrastructure/tracing"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// CORSConfig defines CORS configuration options.
type CORSConfig struct {
	AllowOrigins     []string
	AllowMethods     []string
	AllowHeaders     []string
	ExposeHeaders    []string
	AllowCredentials bool
	MaxAge           time.Duration
}

// DefaultCORSConfig returns CORS settings for a lecture viewer served from
// origins. With no origins, or "*", any origin may call the API but
// credentials are not allowed; browsers reject that combination.
func DefaultCORSConfig(origins ...string) CORSConfig {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return CORSConfig{
		AllowOrigins: origins,
		AllowMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders: []string{
			"Content-Type",
			"Authorization",
			"Accept",
			"Origin",
			tracing.TraceHeader,
			tracing.SpanHeader,
		},
		ExposeHeaders:    []string{tracing.TraceHeader, tracing.SpanHeader},
		AllowCredentials: !slices.Contains(origins, "*"),
		MaxAge:           12 * time.Hour,
	}
}

// CORS creates a CORS middleware. WebSocket origins are checked the same
// way, so the lecture stream follows the same policy.
func CORS(cfg CORSConfig) gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins:     cfg.AllowOrigins,
		AllowMethods:     cfg.AllowMethods,
		AllowHeaders:     cfg.AllowHeaders,
		ExposeHeaders:    cfg.ExposeHeaders,
		AllowCredentials: cfg.AllowCredentials,
		AllowWebSockets:  true,
		MaxAge:           cfg.MaxAge,
	})
}
