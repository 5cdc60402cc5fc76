package session

import "time"

// InterruptionEvent records one network interruption reported by the
// client. Events are appended to a per-session ordered log and never
// mutated afterwards.
type InterruptionEvent struct {
	Timestamp  time.Time `json:"timestamp"`
	Reason     string    `json:"reason"`
	DurationMS float64   `json:"duration_ms"`
	ChunksLost int       `json:"chunks_lost"`
}
