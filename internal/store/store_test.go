package store

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	return s
}

func TestCreateAndGetSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	record, err := s.CreateSession(ctx, "user-1", "Morning consult", "")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	if record.ID == "" {
		t.Error("session id not generated")
	}
	if record.Status != "active" {
		t.Errorf("Status = %q, want active", record.Status)
	}

	loaded, err := s.GetSession(ctx, record.ID, "user-1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if loaded.Title != "Morning consult" {
		t.Errorf("Title = %q", loaded.Title)
	}

	// Another principal cannot see it
	if _, err := s.GetSession(ctx, record.ID, "user-2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("cross-principal get: err = %v, want ErrNotFound", err)
	}
}

func TestCreateSessionRequiresTitle(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.CreateSession(context.Background(), "user-1", "", ""); err == nil {
		t.Error("expected error for empty title")
	}
}

func TestCreateSessionPatientOwnership(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	patient, err := s.CreatePatient(ctx, "user-1", "Jordan Doe", 42, "other", "555-0100")
	if err != nil {
		t.Fatalf("CreatePatient failed: %v", err)
	}

	// Owner can link the patient
	record, err := s.CreateSession(ctx, "user-1", "Follow-up", patient.ID)
	if err != nil {
		t.Fatalf("CreateSession with patient failed: %v", err)
	}
	if record.PatientID != patient.ID {
		t.Errorf("PatientID = %q, want %q", record.PatientID, patient.ID)
	}

	// A different principal cannot
	if _, err := s.CreateSession(ctx, "user-2", "Hijack", patient.ID); !errors.Is(err, ErrInvalidReference) {
		t.Errorf("cross-principal link: err = %v, want ErrInvalidReference", err)
	}

	// A nonexistent patient cannot be linked
	if _, err := s.CreateSession(ctx, "user-1", "Ghost", "no-such-patient"); !errors.Is(err, ErrInvalidReference) {
		t.Errorf("missing patient: err = %v, want ErrInvalidReference", err)
	}
}

func TestListSessionsPreview(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	record, err := s.CreateSession(ctx, "user-1", "Long visit", "")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	transcript := strings.Repeat("transcript text ", 20) // well over the preview length
	if err := s.SaveSessionResult(ctx, record.ID, "summary", transcript, "/artifacts/a.wav", 12.5); err != nil {
		t.Fatalf("SaveSessionResult failed: %v", err)
	}

	sessions, err := s.ListSessions(ctx, "user-1")
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("got %d sessions, want 1", len(sessions))
	}

	preview := sessions[0].TranscriptPreview
	if len(preview) != transcriptPreviewChars+3 {
		t.Errorf("preview length = %d, want %d", len(preview), transcriptPreviewChars+3)
	}
	if !strings.HasSuffix(preview, "...") {
		t.Errorf("preview %q missing truncation marker", preview)
	}
	if sessions[0].Status != "completed" {
		t.Errorf("Status = %q, want completed", sessions[0].Status)
	}
}

func TestSaveSessionResult(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	record, _ := s.CreateSession(ctx, "user-1", "Visit", "")

	if err := s.SaveSessionResult(ctx, record.ID, "short summary", "full transcript", "/artifacts/x.wav", 33.25); err != nil {
		t.Fatalf("SaveSessionResult failed: %v", err)
	}

	loaded, err := s.GetSession(ctx, record.ID, "user-1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}

	if loaded.Summary != "short summary" || loaded.Transcript != "full transcript" {
		t.Errorf("result fields not persisted: %+v", loaded)
	}
	if loaded.Duration != 33.25 {
		t.Errorf("Duration = %v, want 33.25", loaded.Duration)
	}
	if loaded.Status != "completed" {
		t.Errorf("Status = %q, want completed", loaded.Status)
	}
	if loaded.AudioURL != "/artifacts/x.wav" {
		t.Errorf("AudioURL = %q", loaded.AudioURL)
	}

	// Unknown record
	if err := s.SaveSessionResult(ctx, "no-such-id", "s", "t", "", 0); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestUpdateSessionStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	record, _ := s.CreateSession(ctx, "user-1", "Visit", "")

	for _, status := range []string{"resuming", "interrupted", "active"} {
		if err := s.UpdateSessionStatus(ctx, record.ID, status); err != nil {
			t.Fatalf("UpdateSessionStatus(%q) failed: %v", status, err)
		}

		loaded, _ := s.GetSession(ctx, record.ID, "user-1")
		if loaded.Status != status {
			t.Errorf("Status = %q, want %q", loaded.Status, status)
		}
	}

	if err := s.UpdateSessionStatus(ctx, "no-such-id", "active"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestVerifySessionOwner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	record, _ := s.CreateSession(ctx, "user-1", "Visit", "")

	if err := s.VerifySessionOwner(ctx, record.ID, "user-1"); err != nil {
		t.Errorf("owner check failed: %v", err)
	}
	if err := s.VerifySessionOwner(ctx, record.ID, "user-2"); !errors.Is(err, ErrInvalidReference) {
		t.Errorf("wrong owner: err = %v, want ErrInvalidReference", err)
	}
	if err := s.VerifySessionOwner(ctx, "no-such-id", "user-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing record: err = %v, want ErrNotFound", err)
	}
}

func TestDeleteSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	record, _ := s.CreateSession(ctx, "user-1", "Visit", "")
	if err := s.SaveSessionResult(ctx, record.ID, "s", "t", "/artifacts/gone.wav", 1); err != nil {
		t.Fatalf("SaveSessionResult failed: %v", err)
	}

	audioURL, err := s.DeleteSession(ctx, record.ID, "user-1")
	if err != nil {
		t.Fatalf("DeleteSession failed: %v", err)
	}
	if audioURL != "/artifacts/gone.wav" {
		t.Errorf("audioURL = %q", audioURL)
	}

	if _, err := s.GetSession(ctx, record.ID, "user-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("session still present after delete")
	}

	if _, err := s.DeleteSession(ctx, record.ID, "user-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete: err = %v, want ErrNotFound", err)
	}
}

func TestPatientsCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.CreatePatient(ctx, "user-1", "", 0, "", ""); err == nil {
		t.Error("expected error for empty patient name")
	}

	created, err := s.CreatePatient(ctx, "user-1", "Alex Smith", 30, "female", "555-0101")
	if err != nil {
		t.Fatalf("CreatePatient failed: %v", err)
	}

	loaded, err := s.GetPatient(ctx, created.ID, "user-1")
	if err != nil {
		t.Fatalf("GetPatient failed: %v", err)
	}
	if loaded.Name != "Alex Smith" || loaded.Age != 30 || loaded.Gender != "female" {
		t.Errorf("patient mismatch: %+v", loaded)
	}

	if _, err := s.GetPatient(ctx, created.ID, "user-2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("cross-principal get: err = %v, want ErrNotFound", err)
	}

	patients, err := s.ListPatients(ctx, "user-1")
	if err != nil {
		t.Fatalf("ListPatients failed: %v", err)
	}
	if len(patients) != 1 {
		t.Errorf("got %d patients, want 1", len(patients))
	}

	if others, _ := s.ListPatients(ctx, "user-2"); len(others) != 0 {
		t.Errorf("user-2 sees %d patients, want 0", len(others))
	}
}
