package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/manangulati17/ai-scribe-backend/internal/audio"
	"github.com/manangulati17/ai-scribe-backend/internal/metrics"
	"github.com/manangulati17/ai-scribe-backend/internal/recognition"
	"github.com/manangulati17/ai-scribe-backend/internal/sequence"
)

// echoRecognizer returns every accepted buffer as a final segment, so test
// transcripts are fully controlled by chunk payloads.
type echoRecognizer struct {
	closes *int
}

func (r *echoRecognizer) Accept(ctx context.Context, pcm []byte) (recognition.Result, error) {
	return recognition.Result{
		Type: recognition.ResultFinal,
		Text: strings.TrimSpace(string(pcm)),
	}, nil
}

func (r *echoRecognizer) Finalize(ctx context.Context) (recognition.Result, error) {
	return recognition.Result{Type: recognition.ResultFinal, Text: ""}, nil
}

func (r *echoRecognizer) Close() error {
	*r.closes += 1
	return nil
}

type stubEngine struct {
	unavailable      bool
	recognizerCloses int
}

func (e *stubEngine) NewRecognizer(ctx context.Context) (recognition.Recognizer, error) {
	if e.unavailable {
		return nil, recognition.ErrUnavailable
	}
	return &echoRecognizer{closes: &e.recognizerCloses}, nil
}

func (e *stubEngine) Stats() recognition.EngineStats { return recognition.EngineStats{} }
func (e *stubEngine) Close() error                   { return nil }

// fakeLedger records ledger calls made by the registry.
type fakeLedger struct {
	mu        sync.Mutex
	verifyErr error
	statuses  []string
	saved     bool
	summary   string
	duration  float64
}

func (l *fakeLedger) VerifySessionOwner(ctx context.Context, recordID, principalID string) error {
	return l.verifyErr
}

func (l *fakeLedger) UpdateSessionStatus(ctx context.Context, recordID, status string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.statuses = append(l.statuses, status)
	return nil
}

func (l *fakeLedger) SaveSessionResult(ctx context.Context, recordID, summary, transcript, audioURL string, duration float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.saved = true
	l.summary = summary
	l.duration = duration
	return nil
}

func newTestRegistry(t *testing.T, engine recognition.Engine, ledger Ledger) (*Registry, *MemoryRecoveryStore) {
	t.Helper()

	recovery := NewMemoryRecoveryStore()
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	r := NewRegistry(RegistryConfig{
		ArtifactDir: t.TempDir(),
		IdleTimeout: time.Minute,
	}, engine, recovery, ledger, m, logger)

	t.Cleanup(func() { r.Stop(context.Background()) })

	return r, recovery
}

// pcmText pads a string to an even byte count so it passes PCM validation.
func pcmText(s string) []byte {
	if len(s)%2 != 0 {
		s += " "
	}
	return []byte(s)
}

func TestStartSubmitEnd(t *testing.T) {
	engine := &stubEngine{}
	r, _ := newTestRegistry(t, engine, nil)
	ctx := context.Background()

	sess, err := r.Start(ctx, 1, "user-1", "")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	payload := pcmText("hello")
	outcome := r.SubmitChunk(ctx, sess.ID, 0, true, payload)
	if outcome.Status != OutcomeApplied {
		t.Fatalf("outcome = %+v, want applied", outcome)
	}
	if outcome.Result == nil || outcome.Result.Text != "hello" {
		t.Fatalf("outcome result = %+v", outcome.Result)
	}

	result, err := r.End(ctx, sess.ID)
	if err != nil {
		t.Fatalf("End failed: %v", err)
	}

	if result.Transcript != "hello" {
		t.Errorf("Transcript = %q, want %q", result.Transcript, "hello")
	}
	if result.Summary != briefSummary {
		t.Errorf("Summary = %q, want placeholder", result.Summary)
	}
	if result.BytesIngested != int64(len(payload)) {
		t.Errorf("BytesIngested = %d, want %d", result.BytesIngested, len(payload))
	}
	if want := audio.Duration(int64(len(payload))); result.Duration != want {
		t.Errorf("Duration = %v, want %v", result.Duration, want)
	}
	if !strings.HasPrefix(result.ArtifactURL, "/artifacts/") {
		t.Errorf("ArtifactURL = %q", result.ArtifactURL)
	}

	// Second end: SessionNotFound, resources closed exactly once
	if _, err := r.End(ctx, sess.ID); err != ErrSessionNotFound {
		t.Errorf("second End: err = %v, want ErrSessionNotFound", err)
	}
	if engine.recognizerCloses != 1 {
		t.Errorf("recognizer closed %d times, want 1", engine.recognizerCloses)
	}
	if r.Count() != 0 {
		t.Errorf("Count() = %d after end, want 0", r.Count())
	}
}

func TestStartRequiresPrincipal(t *testing.T) {
	r, _ := newTestRegistry(t, &stubEngine{}, nil)

	if _, err := r.Start(context.Background(), 1, "", ""); !errors.Is(err, ErrInvalidPayload) {
		t.Errorf("err = %v, want ErrInvalidPayload", err)
	}
}

func TestStartResourceUnavailable(t *testing.T) {
	r, _ := newTestRegistry(t, &stubEngine{unavailable: true}, nil)

	if _, err := r.Start(context.Background(), 1, "user-1", ""); !errors.Is(err, ErrResourceUnavailable) {
		t.Errorf("err = %v, want ErrResourceUnavailable", err)
	}
	if r.Count() != 0 {
		t.Errorf("Count() = %d after failed start", r.Count())
	}
}

func TestStartInvalidReference(t *testing.T) {
	ledger := &fakeLedger{verifyErr: errors.New("not owned")}
	r, _ := newTestRegistry(t, &stubEngine{}, ledger)

	if _, err := r.Start(context.Background(), 1, "user-1", "rec-1"); !errors.Is(err, ErrInvalidReference) {
		t.Errorf("err = %v, want ErrInvalidReference", err)
	}
}

func TestSubmitOutOfOrder(t *testing.T) {
	r, _ := newTestRegistry(t, &stubEngine{}, nil)
	ctx := context.Background()

	sess, err := r.Start(ctx, 1, "user-1", "")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if outcome := r.SubmitChunk(ctx, sess.ID, 2, true, pcmText("cc")); outcome.Status != OutcomeBuffered {
		t.Fatalf("chunk 2: %+v, want buffered", outcome)
	}
	if outcome := r.SubmitChunk(ctx, sess.ID, 0, true, pcmText("aa")); outcome.Status != OutcomeApplied {
		t.Fatalf("chunk 0: %+v, want applied", outcome)
	}

	outcome := r.SubmitChunk(ctx, sess.ID, 1, true, pcmText("bb"))
	if outcome.Status != OutcomeApplied {
		t.Fatalf("chunk 1: %+v, want applied", outcome)
	}
	if outcome.Expected != 3 {
		t.Errorf("Expected = %d, want 3", outcome.Expected)
	}

	result, err := r.End(ctx, sess.ID)
	if err != nil {
		t.Fatalf("End failed: %v", err)
	}

	// Recognizer saw the chunks in sequence order regardless of arrival
	if result.Transcript != "aa bb cc" {
		t.Errorf("Transcript = %q, want %q", result.Transcript, "aa bb cc")
	}
}

func TestDuplicateCountsBytesOnce(t *testing.T) {
	r, _ := newTestRegistry(t, &stubEngine{}, nil)
	ctx := context.Background()

	sess, _ := r.Start(ctx, 1, "user-1", "")
	payload := pcmText("data")

	if outcome := r.SubmitChunk(ctx, sess.ID, 0, true, payload); outcome.Status != OutcomeApplied {
		t.Fatalf("first submission: %+v", outcome)
	}
	if outcome := r.SubmitChunk(ctx, sess.ID, 0, true, payload); outcome.Status != OutcomeDuplicate {
		t.Fatalf("second submission: %+v", outcome)
	}

	result, err := r.End(ctx, sess.ID)
	if err != nil {
		t.Fatalf("End failed: %v", err)
	}
	if result.BytesIngested != int64(len(payload)) {
		t.Errorf("BytesIngested = %d, want %d (counted once)", result.BytesIngested, len(payload))
	}
}

func TestInvalidPayloadDoesNotEndSession(t *testing.T) {
	r, _ := newTestRegistry(t, &stubEngine{}, nil)
	ctx := context.Background()

	sess, _ := r.Start(ctx, 1, "user-1", "")

	outcome := r.SubmitChunk(ctx, sess.ID, 0, true, []byte{0x01})
	if outcome.Status != OutcomeError {
		t.Fatalf("odd payload: %+v, want error", outcome)
	}
	if !strings.Contains(outcome.Error, "invalid") {
		t.Errorf("outcome error = %q", outcome.Error)
	}

	// Session continues: the next valid chunk applies
	if outcome := r.SubmitChunk(ctx, sess.ID, 0, true, pcmText("ok")); outcome.Status != OutcomeApplied {
		t.Errorf("valid chunk after rejection: %+v", outcome)
	}
}

func TestArtifactWriteFailureFailsSession(t *testing.T) {
	engine := &stubEngine{}
	r, _ := newTestRegistry(t, engine, nil)
	ctx := context.Background()

	sess, err := r.Start(ctx, 1, "user-1", "")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Force the next append to fail by closing the artifact underneath
	if err := sess.writer.Close(); err != nil {
		t.Fatalf("writer close failed: %v", err)
	}

	outcome := r.SubmitChunk(ctx, sess.ID, 0, true, pcmText("aa"))
	if outcome.Status != OutcomeError {
		t.Fatalf("outcome = %+v, want error", outcome)
	}
	if !strings.Contains(outcome.Error, "artifact") {
		t.Errorf("outcome error = %q", outcome.Error)
	}

	// The session is force-terminated, removed from the live table, and
	// its recognizer released exactly once
	if r.Count() != 0 {
		t.Errorf("Count() = %d after failure, want 0", r.Count())
	}
	if engine.recognizerCloses != 1 {
		t.Errorf("recognizer closed %d times, want 1", engine.recognizerCloses)
	}

	if outcome := r.SubmitChunk(ctx, sess.ID, 1, true, pcmText("bb")); outcome.Status != OutcomeError {
		t.Errorf("submit after failure: %+v, want error", outcome)
	}
	if _, err := r.End(ctx, sess.ID); err != ErrSessionNotFound {
		t.Errorf("End after failure: err = %v, want ErrSessionNotFound", err)
	}
}

func TestSubmitUnknownSession(t *testing.T) {
	r, _ := newTestRegistry(t, &stubEngine{}, nil)

	outcome := r.SubmitChunk(context.Background(), "no-such-id", 0, true, pcmText("xx"))
	if outcome.Status != OutcomeError {
		t.Errorf("outcome = %+v, want error", outcome)
	}
}

func TestSequencingModeCommitted(t *testing.T) {
	r, _ := newTestRegistry(t, &stubEngine{}, nil)
	ctx := context.Background()

	sess, _ := r.Start(ctx, 1, "user-1", "")

	// First chunk commits the session to legacy delivery
	if outcome := r.SubmitChunk(ctx, sess.ID, 0, false, pcmText("aa")); outcome.Status != OutcomeApplied {
		t.Fatalf("legacy chunk: %+v", outcome)
	}

	// A sequenced chunk on a legacy session is rejected
	outcome := r.SubmitChunk(ctx, sess.ID, 5, true, pcmText("bb"))
	if outcome.Status != OutcomeError {
		t.Errorf("mode switch: %+v, want error", outcome)
	}
}

func TestResumeSkipsStaleChunks(t *testing.T) {
	r, _ := newTestRegistry(t, &stubEngine{}, nil)
	ctx := context.Background()

	sess, err := r.Resume(ctx, 1, "user-1", "rec-1", 5)
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}

	infos := r.Snapshot()
	if len(infos) != 1 {
		t.Fatalf("Snapshot returned %d sessions", len(infos))
	}
	if !infos[0].Resumed {
		t.Error("snapshot does not mark the session as resumed")
	}
	if infos[0].ResumePoint != 5 {
		t.Errorf("ResumePoint = %d, want 5", infos[0].ResumePoint)
	}

	outcome := r.SubmitChunk(ctx, sess.ID, 3, true, pcmText("stale"))
	if outcome.Status != OutcomeSkipped {
		t.Fatalf("stale chunk: %+v, want skipped", outcome)
	}

	if outcome := r.SubmitChunk(ctx, sess.ID, 5, true, pcmText("live")); outcome.Status != OutcomeApplied {
		t.Fatalf("resume-point chunk: %+v, want applied", outcome)
	}

	result, err := r.End(ctx, sess.ID)
	if err != nil {
		t.Fatalf("End failed: %v", err)
	}
	if result.BytesIngested != int64(len(pcmText("live"))) {
		t.Errorf("BytesIngested = %d, skipped chunk was counted", result.BytesIngested)
	}
}

func TestResumeSeedsFromRecoveryRecord(t *testing.T) {
	r, recovery := newTestRegistry(t, &stubEngine{}, nil)
	ctx := context.Background()

	seed := &RecoveryRecord{
		RecordID:        "rec-1",
		PrincipalID:     "user-1",
		Sequences:       []uint32{0, 1},
		LastChunk:       1,
		FinalTranscript: "earlier words",
	}
	if err := recovery.Save(ctx, seed); err != nil {
		t.Fatalf("seed save failed: %v", err)
	}

	sess, err := r.Resume(ctx, 1, "user-1", "rec-1", 2)
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}

	if outcome := r.SubmitChunk(ctx, sess.ID, 2, true, pcmText("more")); outcome.Status != OutcomeApplied {
		t.Fatalf("chunk: %+v", outcome)
	}

	result, err := r.End(ctx, sess.ID)
	if err != nil {
		t.Fatalf("End failed: %v", err)
	}

	if result.Transcript != "earlier words more" {
		t.Errorf("Transcript = %q, want seeded transcript first", result.Transcript)
	}

	// Terminal end evicts the recovery record
	if record, _ := recovery.Load(ctx, "rec-1", "user-1"); record != nil {
		t.Error("recovery record still present after end")
	}
}

func TestInterruptionAndRecover(t *testing.T) {
	r, _ := newTestRegistry(t, &stubEngine{}, nil)
	ctx := context.Background()

	sess, _ := r.Start(ctx, 1, "user-1", "")

	first := pcmText("aa")
	if outcome := r.SubmitChunk(ctx, sess.ID, 0, true, first); outcome.Status != OutcomeApplied {
		t.Fatalf("chunk 0: %+v", outcome)
	}

	r.RecordInterruption(ctx, sess.ID, InterruptionEvent{
		Reason:     "signal lost",
		DurationMS: 2500,
		ChunksLost: 2,
	})

	infos := r.Snapshot()
	if len(infos) != 1 {
		t.Fatalf("Snapshot returned %d sessions", len(infos))
	}
	if infos[0].State != "interrupted" {
		t.Errorf("state = %q, want interrupted", infos[0].State)
	}
	if infos[0].Interruptions != 1 {
		t.Errorf("Interruptions = %d, want 1", infos[0].Interruptions)
	}

	// Recovery replays through the same dedup/ordering path: the re-sent
	// chunk 0 is a duplicate, 1 and 2 apply.
	summary, err := r.Recover(ctx, sess.ID, []sequence.Chunk{
		{Sequence: 0, Payload: first},
		{Sequence: 1, Payload: pcmText("bb")},
		{Sequence: 2, Payload: pcmText("cc")},
	})
	if err != nil {
		t.Fatalf("Recover failed: %v", err)
	}

	if summary.Processed != 3 {
		t.Errorf("Processed = %d, want 3", summary.Processed)
	}
	if summary.Applied != 2 || summary.Duplicates != 1 {
		t.Errorf("summary = %+v, want 2 applied 1 duplicate", summary)
	}

	infos = r.Snapshot()
	if infos[0].State != "active" {
		t.Errorf("state after recovery = %q, want active", infos[0].State)
	}

	result, err := r.End(ctx, sess.ID)
	if err != nil {
		t.Fatalf("End failed: %v", err)
	}
	if result.Transcript != "aa bb cc" {
		t.Errorf("Transcript = %q", result.Transcript)
	}
	if result.Interruptions != 1 {
		t.Errorf("Interruptions = %d, want 1", result.Interruptions)
	}
}

func TestInterruptionUnknownSessionIsNoOp(t *testing.T) {
	r, _ := newTestRegistry(t, &stubEngine{}, nil)

	// Must not panic or fail
	r.RecordInterruption(context.Background(), "no-such-id", InterruptionEvent{Reason: "x"})
}

func TestRecoverUnknownSession(t *testing.T) {
	r, _ := newTestRegistry(t, &stubEngine{}, nil)

	_, err := r.Recover(context.Background(), "no-such-id", nil)
	if err != ErrSessionNotFound {
		t.Errorf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestLedgerWriteback(t *testing.T) {
	ledger := &fakeLedger{}
	r, recovery := newTestRegistry(t, &stubEngine{}, ledger)
	ctx := context.Background()

	sess, err := r.Start(ctx, 1, "user-1", "rec-9")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if outcome := r.SubmitChunk(ctx, sess.ID, 0, true, pcmText("note")); outcome.Status != OutcomeApplied {
		t.Fatalf("chunk: %+v", outcome)
	}

	// Linked sessions snapshot into the recovery store as they go
	if record, _ := recovery.Load(ctx, "rec-9", "user-1"); record == nil {
		t.Error("no recovery record for linked session")
	} else if record.LastChunk != 0 {
		t.Errorf("LastChunk = %d, want 0", record.LastChunk)
	}

	result, err := r.End(ctx, sess.ID)
	if err != nil {
		t.Fatalf("End failed: %v", err)
	}

	ledger.mu.Lock()
	defer ledger.mu.Unlock()

	if !ledger.saved {
		t.Fatal("session result not written to ledger")
	}
	if ledger.summary != result.Summary {
		t.Errorf("ledger summary = %q, want %q", ledger.summary, result.Summary)
	}
	if len(ledger.statuses) == 0 || ledger.statuses[0] != StatusActive {
		t.Errorf("statuses = %v, want active first", ledger.statuses)
	}
}

func TestIdleEviction(t *testing.T) {
	ledger := &fakeLedger{}
	r, _ := newTestRegistry(t, &stubEngine{}, ledger)
	ctx := context.Background()

	r.config.IdleTimeout = time.Millisecond

	sess, _ := r.Start(ctx, 1, "user-1", "")
	time.Sleep(10 * time.Millisecond)

	r.evictIdle()

	if r.Count() != 0 {
		t.Errorf("Count() = %d after eviction, want 0", r.Count())
	}
	if _, err := r.End(ctx, sess.ID); err != ErrSessionNotFound {
		t.Errorf("End after eviction: err = %v, want ErrSessionNotFound", err)
	}
}

func TestGetByStream(t *testing.T) {
	r, _ := newTestRegistry(t, &stubEngine{}, nil)
	ctx := context.Background()

	sess, _ := r.Start(ctx, 42, "user-1", "")

	found, ok := r.GetByStream(42)
	if !ok || found.ID != sess.ID {
		t.Fatalf("GetByStream(42) = (%v, %v)", found, ok)
	}

	if _, ok := r.GetByStream(7); ok {
		t.Error("GetByStream(7) found a session for an unbound stream")
	}

	r.End(ctx, sess.ID)
	if _, ok := r.GetByStream(42); ok {
		t.Error("stream binding survived session end")
	}
}
