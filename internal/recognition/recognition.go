package recognition

import (
	"context"
	"errors"
)

// ErrUnavailable is returned when the engine cannot produce a recognizer
// instance. Session creation treats it as fatal for the session, not for
// the service.
var ErrUnavailable = errors.New("recognition engine unavailable")

// Result types emitted by a recognizer.
const (
	ResultPartial = "partial"
	ResultFinal   = "final"
)

// Word is a recognized word with timing and confidence, when the backing
// model provides them.
type Word struct {
	Word       string  `json:"word"`
	Start      float64 `json:"start,omitempty"`
	End        float64 `json:"end,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Result is a single recognition output: a revisable partial hypothesis or
// a committed final segment.
type Result struct {
	Type       string  `json:"type"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence,omitempty"`
	Words      []Word  `json:"words,omitempty"`
}

// Final reports whether the result is a committed final segment.
func (r Result) Final() bool {
	return r.Type == ResultFinal
}

// Recognizer consumes ordered PCM audio for one session and emits partial
// and final results. A recognizer is owned by exactly one session and is
// not safe for concurrent use.
type Recognizer interface {
	// Accept feeds a contiguous PCM buffer and returns the next result.
	Accept(ctx context.Context, pcm []byte) (Result, error)

	// Finalize forces a last final result for any pending audio.
	Finalize(ctx context.Context) (Result, error)

	// Close releases the recognizer's resources.
	Close() error
}

// Engine produces recognizer instances. The engine variant (mock or
// model-backed) is selected once at process start.
type Engine interface {
	// NewRecognizer allocates a recognizer for one session. Returns
	// ErrUnavailable if the engine cannot allocate one.
	NewRecognizer(ctx context.Context) (Recognizer, error)

	// Stats returns engine counters for monitoring.
	Stats() EngineStats

	// Close shuts the engine down; subsequent NewRecognizer calls fail.
	Close() error
}

// EngineStats holds engine-level counters exposed over the HTTP API.
type EngineStats struct {
	RecognizersCreated uint64  `json:"recognizers_created"`
	TotalRequests      uint64  `json:"total_requests"`
	SuccessRequests    uint64  `json:"success_requests"`
	FailedRequests     uint64  `json:"failed_requests"`
	SuccessRate        float64 `json:"success_rate"`
	TotalRetries       uint64  `json:"total_retries"`
	ActiveRequests     int     `json:"active_requests"`
}
