// Package main is the entry point for the Lectern lecture server.
//
// Lectern loads lecture pages from the course backend, runs their embedded
// code blocks in a sandboxed JavaScript scope, tracks every timer, interval,
// animation frame and listener that code registers, and releases all of
// them when the learner navigates away.
//
// Architecture:
//
//	Viewer (browser) → Lectern API → Course backend (/content/{id})
//	                       ↓
//	                 Lecture view: loader → container → executor → teardown
//
// The server provides:
//   - REST API to mount, inspect, poke and unmount lecture views
//   - WebSocket stream of view lifecycle events
//   - Prometheus metrics and health endpoints
//   - Rate limiting and CORS
//
// Configuration:
//   - Environment variables (12-factor)
//   - CLI flags (override env vars)
//   - Defaults for development
//
// Usage:
//
//	# Production mode
//	./server -port 8000 -content https://courses.example.com/api
//
//	# Development mode (colored logs, debug level)
//	./server -dev
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
