package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound means the row does not exist or is not owned by the
	// requesting principal.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidReference means a referenced row (patient) does not
	// resolve to something owned by the requesting principal.
	ErrInvalidReference = errors.New("invalid reference")
)

// transcriptPreviewChars is how much transcript the list view carries.
const transcriptPreviewChars = 100

const schema = `
CREATE TABLE IF NOT EXISTS patients (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	age INTEGER,
	gender TEXT,
	number TEXT,
	user_id TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	summary TEXT NOT NULL DEFAULT '',
	date TEXT NOT NULL,
	time TEXT NOT NULL,
	duration REAL NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'active',
	audio_url TEXT,
	transcript TEXT,
	patient_id TEXT REFERENCES patients(id),
	user_id TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id);
CREATE INDEX IF NOT EXISTS idx_patients_user ON patients(user_id);
`

// Store wraps the SQLite database holding session records and patients.
type Store struct {
	db *sql.DB
}

// New opens the database at path, verifies the connection, and ensures the
// schema exists.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateSession inserts a new session record. Title is required; an
// optional patient reference must resolve to a patient owned by the same
// principal.
func (s *Store) CreateSession(ctx context.Context, userID, title, patientID string) (*SessionRecord, error) {
	if title == "" {
		return nil, fmt.Errorf("title cannot be empty")
	}

	if patientID != "" {
		var owner string
		err := s.db.QueryRowContext(ctx,
			`SELECT user_id FROM patients WHERE id = ?`, patientID).Scan(&owner)
		if err == sql.ErrNoRows || (err == nil && owner != userID) {
			return nil, fmt.Errorf("%w: patient %s", ErrInvalidReference, patientID)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to resolve patient: %w", err)
		}
	}

	now := time.Now()
	record := &SessionRecord{
		ID:        uuid.NewString(),
		Title:     title,
		Date:      now.Format("2006-01-02"),
		Time:      now.Format("15:04:05"),
		Status:    "active",
		PatientID: patientID,
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, title, summary, date, time, duration, status, patient_id, user_id, created_at, updated_at)
		 VALUES (?, ?, '', ?, ?, 0, ?, ?, ?, ?, ?)`,
		record.ID, record.Title, record.Date, record.Time, record.Status,
		nullable(record.PatientID), record.UserID, record.CreatedAt, record.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert session: %w", err)
	}

	return record, nil
}

// GetSession returns one session record owned by the principal.
func (s *Store) GetSession(ctx context.Context, id, userID string) (*SessionRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, summary, date, time, duration, status, audio_url, transcript, patient_id, user_id, created_at, updated_at
		 FROM sessions WHERE id = ? AND user_id = ?`, id, userID)

	record, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: session %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session: %w", err)
	}

	return record, nil
}

// ListSessions returns the principal's session records, newest first, with
// transcripts cut to a preview.
func (s *Store) ListSessions(ctx context.Context, userID string) ([]SessionSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, summary, date, time, duration, status, transcript, patient_id
		 FROM sessions WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	summaries := []SessionSummary{}
	for rows.Next() {
		var item SessionSummary
		var transcript, patientID sql.NullString

		if err := rows.Scan(&item.ID, &item.Title, &item.Summary, &item.Date, &item.Time,
			&item.Duration, &item.Status, &transcript, &patientID); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}

		item.PatientID = patientID.String
		item.TranscriptPreview = preview(transcript.String)
		summaries = append(summaries, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}

	return summaries, nil
}

// DeleteSession removes a session record and returns its audio reference so
// the caller can remove the artifact file.
func (s *Store) DeleteSession(ctx context.Context, id, userID string) (string, error) {
	var audioURL sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT audio_url FROM sessions WHERE id = ? AND user_id = ?`, id, userID).Scan(&audioURL)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("%w: session %s", ErrNotFound, id)
	}
	if err != nil {
		return "", fmt.Errorf("failed to query session: %w", err)
	}

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE id = ? AND user_id = ?`, id, userID); err != nil {
		return "", fmt.Errorf("failed to delete session: %w", err)
	}

	return audioURL.String, nil
}

// VerifySessionOwner checks that the record exists and belongs to the
// principal. Implements the registry's ledger contract.
func (s *Store) VerifySessionOwner(ctx context.Context, recordID, principalID string) error {
	var owner string
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id FROM sessions WHERE id = ?`, recordID).Scan(&owner)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: session %s", ErrNotFound, recordID)
	}
	if err != nil {
		return fmt.Errorf("failed to query session owner: %w", err)
	}

	if owner != principalID {
		return fmt.Errorf("%w: session %s not owned by principal", ErrInvalidReference, recordID)
	}

	return nil
}

// UpdateSessionStatus writes a record's status transition.
func (s *Store) UpdateSessionStatus(ctx context.Context, recordID, status string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now(), recordID)
	if err != nil {
		return fmt.Errorf("failed to update session status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		return fmt.Errorf("%w: session %s", ErrNotFound, recordID)
	}

	return nil
}

// SaveSessionResult persists a streaming session's terminal payload against
// its durable record and marks it completed.
func (s *Store) SaveSessionResult(ctx context.Context, recordID, summary, transcript, audioURL string, duration float64) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET summary = ?, transcript = ?, audio_url = ?, duration = ?, status = 'completed', updated_at = ?
		 WHERE id = ?`,
		summary, transcript, audioURL, duration, time.Now(), recordID)
	if err != nil {
		return fmt.Errorf("failed to save session result: %w", err)
	}

	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		return fmt.Errorf("%w: session %s", ErrNotFound, recordID)
	}

	return nil
}

// CreatePatient inserts a patient row owned by the principal.
func (s *Store) CreatePatient(ctx context.Context, userID, name string, age int, gender, number string) (*Patient, error) {
	if name == "" {
		return nil, fmt.Errorf("name cannot be empty")
	}

	patient := &Patient{
		ID:        uuid.NewString(),
		Name:      name,
		Age:       age,
		Gender:    gender,
		Number:    number,
		UserID:    userID,
		CreatedAt: time.Now(),
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO patients (id, name, age, gender, number, user_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		patient.ID, patient.Name, patient.Age, nullable(patient.Gender),
		nullable(patient.Number), patient.UserID, patient.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert patient: %w", err)
	}

	return patient, nil
}

// GetPatient returns one patient owned by the principal.
func (s *Store) GetPatient(ctx context.Context, id, userID string) (*Patient, error) {
	var patient Patient
	var age sql.NullInt64
	var gender, number sql.NullString

	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, age, gender, number, user_id, created_at
		 FROM patients WHERE id = ? AND user_id = ?`, id, userID).
		Scan(&patient.ID, &patient.Name, &age, &gender, &number, &patient.UserID, &patient.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: patient %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query patient: %w", err)
	}

	patient.Age = int(age.Int64)
	patient.Gender = gender.String
	patient.Number = number.String
	return &patient, nil
}

// ListPatients returns the principal's patients, newest first.
func (s *Store) ListPatients(ctx context.Context, userID string) ([]Patient, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, age, gender, number, user_id, created_at
		 FROM patients WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query patients: %w", err)
	}
	defer rows.Close()

	patients := []Patient{}
	for rows.Next() {
		var patient Patient
		var age sql.NullInt64
		var gender, number sql.NullString

		if err := rows.Scan(&patient.ID, &patient.Name, &age, &gender, &number,
			&patient.UserID, &patient.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan patient row: %w", err)
		}

		patient.Age = int(age.Int64)
		patient.Gender = gender.String
		patient.Number = number.String
		patients = append(patients, patient)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate patients: %w", err)
	}

	return patients, nil
}

// scanSession reads one session row.
func scanSession(row *sql.Row) (*SessionRecord, error) {
	var record SessionRecord
	var audioURL, transcript, patientID sql.NullString

	err := row.Scan(&record.ID, &record.Title, &record.Summary, &record.Date, &record.Time,
		&record.Duration, &record.Status, &audioURL, &transcript, &patientID,
		&record.UserID, &record.CreatedAt, &record.UpdatedAt)
	if err != nil {
		return nil, err
	}

	record.AudioURL = audioURL.String
	record.Transcript = transcript.String
	record.PatientID = patientID.String
	return &record, nil
}

// preview cuts a transcript down to the list-view preview length.
func preview(transcript string) string {
	if len(transcript) <= transcriptPreviewChars {
		return transcript
	}
	return transcript[:transcriptPreviewChars] + "..."
}

// nullable maps an empty string to NULL.
func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
