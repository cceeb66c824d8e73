// Package pipeline runs the capture loop: capture, collect metadata, archive,
// encode, deliver, repeat.
package pipeline

import "time"

// Loop configuration constants
const (
	// Pause after an iteration panics before the loop resumes.
	ErrorPause = 60 * time.Second

	// Bounded wait for the loop goroutine during shutdown.
	JoinTimeout = 10 * time.Second

	// Log a progress line every ProgressEvery completed captures.
	ProgressEvery = 10
)
