// Package store implements the durable ledger: session records and patient
// rows persisted in SQLite.
package store
