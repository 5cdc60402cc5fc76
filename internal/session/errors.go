package session

import "errors"

var (
	// ErrResourceUnavailable means a recognizer or artifact handle could
	// not be allocated. Fatal to the session being started, not to the
	// registry.
	ErrResourceUnavailable = errors.New("session resources unavailable")

	// ErrSessionNotFound means the operation targeted an unknown or
	// already-ended session.
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidPayload means a chunk carried malformed PCM. The chunk is
	// rejected; the session continues.
	ErrInvalidPayload = errors.New("invalid audio payload")

	// ErrInvalidReference means a patient or durable record linkage did
	// not resolve to something owned by the requesting principal.
	ErrInvalidReference = errors.New("invalid reference")
)

// Outcome statuses for chunk submission.
const (
	OutcomeApplied   = "applied"
	OutcomeBuffered  = "buffered"
	OutcomeDuplicate = "duplicate"
	OutcomeSkipped   = "skipped"
	OutcomeError     = "error"
)

// Outcome is the structured result of a chunk submission. Callers always
// receive an outcome, never a raw error, so clients can distinguish
// retryable rejections from fatal conditions.
type Outcome struct {
	Status   string  `json:"status"`
	Sequence uint32  `json:"sequence"`
	Expected uint32  `json:"expected_sequence"`
	Result   *Result `json:"result,omitempty"`
	Error    string  `json:"error,omitempty"`
}

// Result is the recognition output attached to an applied outcome.
type Result struct {
	Type       string  `json:"type"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence,omitempty"`
}

// errorOutcome builds an error outcome from an error value.
func errorOutcome(sequence uint32, err error) Outcome {
	return Outcome{
		Status:   OutcomeError,
		Sequence: sequence,
		Error:    err.Error(),
	}
}
