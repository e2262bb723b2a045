// Package middleware provides the HTTP middleware for the lecture API.
//
//   - CORS: cross-origin access for the lecture viewer, including the
//     WebSocket stream and the trace headers
//   - RateLimit: per-IP token buckets with idle eviction
//   - GlobalRateLimit: one bucket shared by every client
//
// Example Usage:
//
//	router.Use(middleware.CORS(middleware.DefaultCORSConfig(cfg.CORS.AllowOrigins...)))
//	router.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))
package middleware
