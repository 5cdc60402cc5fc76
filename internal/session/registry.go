package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/manangulati17/ai-scribe-backend/internal/audio"
	"github.com/manangulati17/ai-scribe-backend/internal/metrics"
	"github.com/manangulati17/ai-scribe-backend/internal/recognition"
	"github.com/manangulati17/ai-scribe-backend/internal/sequence"
)

// Ledger is the durable-record surface the registry needs: ownership checks
// before start/resume and result write-back on end. The registry tolerates a
// nil ledger; sessions then run unlinked.
type Ledger interface {
	VerifySessionOwner(ctx context.Context, recordID, principalID string) error
	UpdateSessionStatus(ctx context.Context, recordID, status string) error
	SaveSessionResult(ctx context.Context, recordID, summary, transcript, audioURL string, duration float64) error
}

// cleanupInterval is how often the registry sweeps for idle sessions.
const cleanupInterval = 30 * time.Second

// RegistryConfig holds registry construction parameters.
type RegistryConfig struct {
	ArtifactDir string
	IdleTimeout time.Duration
}

// Registry owns the table of live sessions and their lifecycle operations.
// The table itself is guarded by one RWMutex; per-session state is guarded
// by the session's own mutex, so cross-session traffic never contends.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	streams  map[uint32]string

	config   RegistryConfig
	engine   recognition.Engine
	recovery RecoveryStore
	ledger   Ledger
	metrics  *metrics.Metrics
	logger   *slog.Logger

	stopCleanup chan struct{}
	cleanupDone chan struct{}
}

// NewRegistry creates the session registry and starts its idle sweep.
func NewRegistry(config RegistryConfig, engine recognition.Engine, recovery RecoveryStore, ledger Ledger, m *metrics.Metrics, logger *slog.Logger) *Registry {
	r := &Registry{
		sessions:    make(map[string]*Session),
		streams:     make(map[uint32]string),
		config:      config,
		engine:      engine,
		recovery:    recovery,
		ledger:      ledger,
		metrics:     m,
		logger:      logger,
		stopCleanup: make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}

	go r.cleanupLoop()

	return r
}

// Start allocates a new session: a recognizer, an artifact writer, and an
// empty transcript. A linked record must be owned by the principal.
func (r *Registry) Start(ctx context.Context, streamID uint32, principalID, recordID string) (*Session, error) {
	if principalID == "" {
		return nil, fmt.Errorf("%w: missing principal", ErrInvalidPayload)
	}

	if recordID != "" && r.ledger != nil {
		if err := r.ledger.VerifySessionOwner(ctx, recordID, principalID); err != nil {
			return nil, fmt.Errorf("%w: record %s: %v", ErrInvalidReference, recordID, err)
		}
	}

	s, err := r.allocate(ctx, streamID, principalID, recordID)
	if err != nil {
		return nil, err
	}

	s.state = StateActive

	r.register(s)
	r.writeStatus(ctx, s, StatusActive)

	r.metrics.RecordSessionCreated()
	r.metrics.SetActiveSessions(r.Count())

	r.logger.Info("Session started",
		slog.String("session_id", s.ID),
		slog.String("principal_id", principalID),
		slog.String("record_id", recordID))

	return s, nil
}

// Resume creates a session seeded from any recovery record stored for the
// (record, principal) pair. The sequence cursor starts at resumePoint;
// chunks below it are skipped rather than reapplied.
func (r *Registry) Resume(ctx context.Context, streamID uint32, principalID, recordID string, resumePoint uint32) (*Session, error) {
	if principalID == "" || recordID == "" {
		return nil, fmt.Errorf("%w: resume requires principal and record", ErrInvalidPayload)
	}

	if r.ledger != nil {
		if err := r.ledger.VerifySessionOwner(ctx, recordID, principalID); err != nil {
			return nil, fmt.Errorf("%w: record %s: %v", ErrInvalidReference, recordID, err)
		}
	}

	s, err := r.allocate(ctx, streamID, principalID, recordID)
	if err != nil {
		return nil, err
	}

	s.state = StateResuming
	s.resumed = true
	s.buffer = sequence.NewBuffer(resumePoint)

	if r.recovery != nil {
		record, err := r.recovery.Load(ctx, recordID, principalID)
		if err != nil {
			r.logger.Warn("Failed to load recovery record",
				slog.String("record_id", recordID),
				slog.String("error", err.Error()))
		} else if record != nil {
			s.transcript.Seed(record.PartialTranscript, record.FinalTranscript)
			s.appliedSequences = append(s.appliedSequences, record.Sequences...)
		}
	}

	r.register(s)
	r.writeStatus(ctx, s, StatusResuming)

	r.metrics.RecordSessionCreated()
	r.metrics.SetActiveSessions(r.Count())

	r.logger.Info("Session resumed",
		slog.String("session_id", s.ID),
		slog.String("record_id", recordID),
		slog.Uint64("resume_point", uint64(resumePoint)))

	return s, nil
}

// allocate acquires the recognizer/writer pair for a new session. On any
// failure the partially-acquired resources are released.
func (r *Registry) allocate(ctx context.Context, streamID uint32, principalID, recordID string) (*Session, error) {
	recognizer, err := r.engine.NewRecognizer(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: recognizer: %v", ErrResourceUnavailable, err)
	}

	id := uuid.NewString()

	writer, err := audio.NewWriter(r.config.ArtifactDir, id)
	if err != nil {
		recognizer.Close()
		return nil, fmt.Errorf("%w: artifact: %v", ErrResourceUnavailable, err)
	}

	now := time.Now()
	return &Session{
		ID:             id,
		PrincipalID:    principalID,
		LinkedRecordID: recordID,
		StreamID:       streamID,
		state:          StateCreated,
		createdAt:      now,
		lastActivity:   now,
		writer:         writer,
		recognizer:     recognizer,
	}, nil
}

// register inserts the session into the live table and binds its stream id.
func (r *Registry) register(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
	r.streams[s.StreamID] = s.ID
}

// remove drops the session from the live table and its stream binding.
func (r *Registry) remove(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, s.ID)
	if r.streams[s.StreamID] == s.ID {
		delete(r.streams, s.StreamID)
	}
}

// Get returns a live session by id.
func (r *Registry) Get(sessionID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sessionID]
	return s, ok
}

// GetByStream returns the live session bound to a transport stream id.
func (r *Registry) GetByStream(streamID uint32) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.streams[streamID]
	if !ok {
		return nil, false
	}

	s, ok := r.sessions[id]
	return s, ok
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Snapshot returns monitoring info for every live session.
func (r *Registry) Snapshot() []Info {
	r.mu.RLock()
	live := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		live = append(live, s)
	}
	r.mu.RUnlock()

	infos := make([]Info, 0, len(live))
	for _, s := range live {
		infos = append(infos, s.snapshot())
	}
	return infos
}

// SubmitChunk validates a chunk and routes it through the session's
// sequencing buffer. Released chunks are appended to the artifact and fed
// to the recognizer in strictly increasing, gap-free sequence order.
func (r *Registry) SubmitChunk(ctx context.Context, sessionID string, seq uint32, hasSequence bool, payload []byte) Outcome {
	s, ok := r.Get(sessionID)
	if !ok {
		return errorOutcome(seq, ErrSessionNotFound)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return r.submitLocked(ctx, s, seq, hasSequence, payload)
}

// submitLocked implements chunk submission with the session lock held.
func (r *Registry) submitLocked(ctx context.Context, s *Session, seq uint32, hasSequence bool, payload []byte) Outcome {
	if s.state.terminal() {
		return errorOutcome(seq, ErrSessionNotFound)
	}

	if err := audio.ValidatePCM(payload); err != nil {
		r.metrics.RecordChunk(OutcomeError)
		return errorOutcome(seq, fmt.Errorf("%w: %v", ErrInvalidPayload, err))
	}

	s.lastActivity = time.Now()

	// The first chunk commits the session to sequenced or legacy delivery
	// for its lifetime.
	if s.buffer == nil {
		if hasSequence {
			s.buffer = sequence.NewBuffer(0)
		} else {
			s.buffer = sequence.NewLegacyBuffer()
		}
	} else if s.buffer.Legacy() == hasSequence {
		return errorOutcome(seq, fmt.Errorf("%w: sequencing mode mismatch", ErrInvalidPayload))
	}

	released, disposition := s.buffer.Submit(seq, payload)

	outcome := Outcome{
		Status:   disposition.String(),
		Sequence: seq,
		Expected: s.buffer.Expected(),
	}

	if disposition != sequence.Applied {
		r.metrics.RecordChunk(outcome.Status)
		return outcome
	}

	for _, chunk := range released {
		if err := s.writer.Append(chunk.Payload); err != nil {
			r.logger.Error("Artifact write failed, ending session",
				slog.String("session_id", s.ID),
				slog.String("error", err.Error()))
			r.failLocked(ctx, s)
			return errorOutcome(chunk.Sequence, fmt.Errorf("artifact write failed: %w", err))
		}

		s.totalBytes += int64(len(chunk.Payload))
		r.metrics.RecordBytesIngested(len(chunk.Payload))

		result, err := s.recognizer.Accept(ctx, chunk.Payload)
		if err != nil {
			// Recognition failures do not tear the session down; the
			// audio is already durable in the artifact.
			r.logger.Warn("Recognition failed for chunk",
				slog.String("session_id", s.ID),
				slog.Uint64("sequence", uint64(chunk.Sequence)),
				slog.String("error", err.Error()))
		} else {
			s.transcript.Merge(result)
			outcome.Result = &Result{
				Type:       result.Type,
				Text:       result.Text,
				Confidence: result.Confidence,
			}
		}

		if s.LinkedRecordID != "" {
			s.appliedSequences = append(s.appliedSequences, chunk.Sequence)
		}
	}

	if s.state == StateResuming || s.state == StateInterrupted {
		s.state = StateActive
	}

	outcome.Expected = s.buffer.Expected()
	r.metrics.RecordChunk(outcome.Status)

	if s.LinkedRecordID != "" && r.recovery != nil {
		r.saveRecoveryLocked(ctx, s)
	}

	return outcome
}

// saveRecoveryLocked snapshots the session into the recovery store.
// Best-effort: a failed save is logged, never surfaced to the client.
func (r *Registry) saveRecoveryLocked(ctx context.Context, s *Session) {
	record := &RecoveryRecord{
		RecordID:          s.LinkedRecordID,
		PrincipalID:       s.PrincipalID,
		Sequences:         append([]uint32(nil), s.appliedSequences...),
		LastChunk:         s.buffer.Expected() - 1,
		PartialTranscript: s.transcript.Partial(),
		FinalTranscript:   s.transcript.Final(),
		UpdatedAt:         time.Now(),
	}

	if err := r.recovery.Save(ctx, record); err != nil {
		r.logger.Warn("Failed to save recovery record",
			slog.String("session_id", s.ID),
			slog.String("error", err.Error()))
	}
}

// RecordInterruption appends a network-interruption event to the session's
// log. It never fails the session; an unknown id is a logged no-op.
func (r *Registry) RecordInterruption(ctx context.Context, sessionID string, event InterruptionEvent) {
	s, ok := r.Get(sessionID)
	if !ok {
		r.logger.Warn("Interruption reported for unknown session",
			slog.String("session_id", sessionID))
		return
	}

	s.mu.Lock()
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	s.interruptions = append(s.interruptions, event)
	s.lastActivity = time.Now()
	if s.state == StateActive || s.state == StateResuming {
		s.state = StateInterrupted
	}
	s.mu.Unlock()

	r.writeStatus(ctx, s, StatusInterrupted)
	r.metrics.RecordInterruption()

	r.logger.Info("Network interruption recorded",
		slog.String("session_id", sessionID),
		slog.String("reason", event.Reason),
		slog.Int("chunks_lost", event.ChunksLost))
}

// Recover replays client-buffered chunks through the normal submission path
// in the order supplied. Ordering and dedup guarantees are exactly those of
// direct submission; recovery does not bypass the sequencing buffer.
func (r *Registry) Recover(ctx context.Context, sessionID string, chunks []sequence.Chunk) (RecoverSummary, error) {
	s, ok := r.Get(sessionID)
	if !ok {
		return RecoverSummary{}, ErrSessionNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	hasSequence := true
	if s.buffer != nil && s.buffer.Legacy() {
		hasSequence = false
	}

	var summary RecoverSummary
	for _, chunk := range chunks {
		outcome := r.submitLocked(ctx, s, chunk.Sequence, hasSequence, chunk.Payload)
		summary.Processed++

		switch outcome.Status {
		case OutcomeApplied:
			summary.Applied++
		case OutcomeBuffered:
			summary.Buffered++
		case OutcomeDuplicate:
			summary.Duplicates++
		case OutcomeSkipped:
			summary.Skipped++
		default:
			summary.Errors++
		}
	}

	if s.state == StateInterrupted {
		s.state = StateActive
	}

	r.metrics.RecordRecovery(summary.Processed)

	r.logger.Info("Session recovered",
		slog.String("session_id", sessionID),
		slog.Int("processed", summary.Processed),
		slog.Int("applied", summary.Applied),
		slog.Int("duplicates", summary.Duplicates))

	return summary, nil
}

// End finalizes the recognizer, closes the artifact, derives the summary,
// and removes the session from the live table. A second End for the same id
// returns ErrSessionNotFound. Resources are released on every path.
func (r *Registry) End(ctx context.Context, sessionID string) (*EndResult, error) {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return nil, ErrSessionNotFound
	}
	delete(r.sessions, sessionID)
	if r.streams[s.StreamID] == sessionID {
		delete(r.streams, s.StreamID)
	}
	r.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if result, err := s.recognizer.Finalize(ctx); err != nil {
		r.logger.Warn("Recognizer finalize failed",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()))
	} else {
		s.transcript.Merge(result)
	}

	if err := s.recognizer.Close(); err != nil {
		r.logger.Warn("Recognizer close failed",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()))
	}

	if err := s.writer.Close(); err != nil {
		r.logger.Error("Artifact close failed",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()))
	}

	s.state = StateEnded

	duration := audio.Duration(s.totalBytes)
	result := &EndResult{
		SessionID:      s.ID,
		LinkedRecordID: s.LinkedRecordID,
		Transcript:     s.transcript.Final(),
		Summary:        s.transcript.Summarize(),
		Duration:       duration,
		ArtifactURL:    s.writer.PublicURL(),
		BytesIngested:  s.totalBytes,
		Interruptions:  len(s.interruptions),
	}

	if s.LinkedRecordID != "" {
		if r.ledger != nil {
			if err := r.ledger.SaveSessionResult(ctx, s.LinkedRecordID, result.Summary, result.Transcript, result.ArtifactURL, duration); err != nil {
				r.logger.Error("Failed to persist session result",
					slog.String("session_id", sessionID),
					slog.String("record_id", s.LinkedRecordID),
					slog.String("error", err.Error()))
			}
		}
		if r.recovery != nil {
			if err := r.recovery.Delete(ctx, s.LinkedRecordID, s.PrincipalID); err != nil {
				r.logger.Warn("Failed to delete recovery record",
					slog.String("record_id", s.LinkedRecordID),
					slog.String("error", err.Error()))
			}
		}
	}

	r.metrics.RecordSessionEnded(duration)
	r.metrics.SetActiveSessions(r.Count())

	r.logger.Info("Session ended",
		slog.String("session_id", sessionID),
		slog.Float64("duration", duration),
		slog.Int64("bytes", s.totalBytes),
		slog.Int("interruptions", len(s.interruptions)))

	return result, nil
}

// failLocked force-terminates a session after an unrecoverable I/O error.
// Expects the session lock held. Resources are closed and the session is
// removed from the live table; nothing is written back to the ledger.
func (r *Registry) failLocked(ctx context.Context, s *Session) {
	s.recognizer.Close()
	if err := s.writer.Close(); err != nil {
		r.logger.Error("Artifact close failed during session failure",
			slog.String("session_id", s.ID),
			slog.String("error", err.Error()))
	}

	s.state = StateFailed
	r.remove(s)

	r.metrics.RecordSessionFailed()
	r.metrics.SetActiveSessions(r.Count())
}

// writeStatus updates the linked durable record's status. Best-effort.
func (r *Registry) writeStatus(ctx context.Context, s *Session, status string) {
	if s.LinkedRecordID == "" || r.ledger == nil {
		return
	}

	if err := r.ledger.UpdateSessionStatus(ctx, s.LinkedRecordID, status); err != nil {
		r.logger.Warn("Failed to update record status",
			slog.String("record_id", s.LinkedRecordID),
			slog.String("status", status),
			slog.String("error", err.Error()))
	}
}

// cleanupLoop periodically force-ends sessions idle beyond the configured
// window. Forced end still finalizes and releases all held resources.
func (r *Registry) cleanupLoop() {
	defer close(r.cleanupDone)

	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.evictIdle()
		case <-r.stopCleanup:
			return
		}
	}
}

// evictIdle ends every session whose last activity is older than the idle
// window.
func (r *Registry) evictIdle() {
	if r.config.IdleTimeout <= 0 {
		return
	}

	cutoff := time.Now().Add(-r.config.IdleTimeout)

	r.mu.RLock()
	var idle []*Session
	for _, s := range r.sessions {
		idle = append(idle, s)
	}
	r.mu.RUnlock()

	for _, s := range idle {
		if s.idleSince().After(cutoff) {
			continue
		}

		r.logger.Info("Evicting idle session",
			slog.String("session_id", s.ID),
			slog.String("principal_id", s.PrincipalID))

		if _, err := r.End(context.Background(), s.ID); err != nil && err != ErrSessionNotFound {
			r.logger.Error("Failed to end idle session",
				slog.String("session_id", s.ID),
				slog.String("error", err.Error()))
		}
	}
}

// Stop halts the idle sweep and force-ends every live session.
func (r *Registry) Stop(ctx context.Context) {
	close(r.stopCleanup)
	<-r.cleanupDone

	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	for _, id := range ids {
		if _, err := r.End(ctx, id); err != nil && err != ErrSessionNotFound {
			r.logger.Error("Failed to end session during shutdown",
				slog.String("session_id", id),
				slog.String("error", err.Error()))
		}
	}

	r.logger.Info("Session registry stopped", slog.Int("sessions_closed", len(ids)))
}
