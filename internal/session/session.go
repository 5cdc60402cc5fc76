package session

import (
	"sync"
	"time"

	"github.com/manangulati17/ai-scribe-backend/internal/audio"
	"github.com/manangulati17/ai-scribe-backend/internal/recognition"
	"github.com/manangulati17/ai-scribe-backend/internal/sequence"
)

// State is a session's position in its lifecycle.
type State int

const (
	StateCreated State = iota
	StateActive
	StateResuming
	StateInterrupted
	StateEnded
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateActive:
		return "active"
	case StateResuming:
		return "resuming"
	case StateInterrupted:
		return "interrupted"
	case StateEnded:
		return "ended"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// terminal reports whether the state admits no further transitions.
func (s State) terminal() bool {
	return s == StateEnded || s == StateFailed
}

// Durable record statuses written back to the ledger.
const (
	StatusActive      = "active"
	StatusResuming    = "resuming"
	StatusInterrupted = "interrupted"
	StatusCompleted   = "completed"
)

// Session is one live streaming connection. All mutable state is guarded by
// the session mutex; the registry serializes every operation on a session
// through it, so chunks are processed one at a time in arrival order.
type Session struct {
	mu sync.Mutex

	ID             string
	PrincipalID    string
	LinkedRecordID string
	StreamID       uint32

	state        State
	createdAt    time.Time
	lastActivity time.Time

	// buffer is nil until the first chunk commits the session to
	// sequenced or legacy delivery. Resumed sessions are seeded at
	// creation with a sequenced buffer at their resume point.
	buffer     *sequence.Buffer
	writer     *audio.Writer
	recognizer recognition.Recognizer
	transcript Accumulator

	resumed bool

	totalBytes       int64
	interruptions    []InterruptionEvent
	appliedSequences []uint32
}

// Info is a read-only snapshot of a session for the monitoring API.
type Info struct {
	ID             string    `json:"id"`
	PrincipalID    string    `json:"principal_id"`
	LinkedRecordID string    `json:"linked_record_id,omitempty"`
	State          string    `json:"state"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivity   time.Time `json:"last_activity"`
	BytesIngested  int64     `json:"bytes_ingested"`
	Resumed        bool      `json:"resumed,omitempty"`
	ResumePoint    uint32    `json:"resume_point,omitempty"`
	ExpectedSeq    uint32    `json:"expected_sequence"`
	PendingChunks  int       `json:"pending_chunks"`
	Duplicates     uint64    `json:"duplicates"`
	OutOfOrder     uint64    `json:"out_of_order"`
	Interruptions  int       `json:"interruptions"`
}

// snapshot captures the session under its lock.
func (s *Session) snapshot() Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := Info{
		ID:             s.ID,
		PrincipalID:    s.PrincipalID,
		LinkedRecordID: s.LinkedRecordID,
		State:          s.state.String(),
		CreatedAt:      s.createdAt,
		LastActivity:   s.lastActivity,
		BytesIngested:  s.totalBytes,
		Resumed:        s.resumed,
		Interruptions:  len(s.interruptions),
	}

	if s.buffer != nil {
		info.ResumePoint = s.buffer.ResumePoint()
		info.ExpectedSeq = s.buffer.Expected()
		info.PendingChunks = s.buffer.Pending()
		info.Duplicates = s.buffer.Duplicates()
		info.OutOfOrder = s.buffer.OutOfOrder()
	}

	return info
}

// idleSince reports the last activity time under the session lock.
func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// EndResult is the terminal payload of a session: the accumulated
// transcript, its derived summary, the artifact reference, and the elapsed
// duration computed from ingested bytes.
type EndResult struct {
	SessionID      string  `json:"session_id"`
	LinkedRecordID string  `json:"linked_record_id,omitempty"`
	Transcript     string  `json:"transcript"`
	Summary        string  `json:"summary"`
	Duration       float64 `json:"duration"`
	ArtifactURL    string  `json:"artifact_url"`
	BytesIngested  int64   `json:"bytes_ingested"`
	Interruptions  int     `json:"interruptions"`
}

// RecoverSummary reports how a recovery batch was processed.
type RecoverSummary struct {
	Processed  int `json:"processed"`
	Applied    int `json:"applied"`
	Buffered   int `json:"buffered"`
	Duplicates int `json:"duplicates"`
	Skipped    int `json:"skipped"`
	Errors     int `json:"errors"`
}
