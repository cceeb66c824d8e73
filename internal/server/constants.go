// Package server exposes the read-only status API: session state, recent
// captures, Prometheus metrics and a websocket feed of status changes.
package server

import "time"

// Server configuration constants
const (
	// Default and maximum page size for /api/captures
	DefaultCaptureLimit = 20
	MaxCaptureLimit     = 500

	// Per-connection websocket message limit (token bucket)
	WSMessagesPerSecond = 5
	WSMessageBurst      = 10

	// Bound on a single websocket write
	WSWriteTimeout = 5 * time.Second

	// HTTP server timeouts
	ReadHeaderTimeout = 5 * time.Second
	ShutdownTimeout   = 5 * time.Second
)
