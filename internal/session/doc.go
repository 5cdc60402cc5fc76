// Package session owns the table of live streaming sessions: lifecycle
// state machines, ordered chunk ingestion, interruption tracking, resumable
// recovery, and transcript accumulation.
package session
