package store

import "time"

// SessionRecord is a durable session row. A live streaming session links to
// one record and writes its result back on end.
type SessionRecord struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Summary    string    `json:"summary"`
	Date       string    `json:"date"`
	Time       string    `json:"time"`
	Duration   float64   `json:"duration"`
	Status     string    `json:"status"`
	AudioURL   string    `json:"audio_url,omitempty"`
	Transcript string    `json:"transcript,omitempty"`
	PatientID  string    `json:"patient_id,omitempty"`
	UserID     string    `json:"user_id"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// SessionSummary is the list-view projection of a session record: the
// transcript is cut to a short preview.
type SessionSummary struct {
	ID                string  `json:"id"`
	Title             string  `json:"title"`
	Summary           string  `json:"summary"`
	Date              string  `json:"date"`
	Time              string  `json:"time"`
	Duration          float64 `json:"duration"`
	Status            string  `json:"status"`
	PatientID         string  `json:"patient_id,omitempty"`
	TranscriptPreview string  `json:"transcript_preview,omitempty"`
}

// Patient is a patient row owned by one principal.
type Patient struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Age       int       `json:"age,omitempty"`
	Gender    string    `json:"gender,omitempty"`
	Number    string    `json:"number,omitempty"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}
