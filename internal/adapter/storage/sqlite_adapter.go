package storage

import (
	"database/sql"
	"errors"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var SQLiteDialect = Dialect{
	Name:   "sqlite",
	Driver: "sqlite",
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS custody_events (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			subject_id TEXT NOT NULL,
			category TEXT NOT NULL,
			action TEXT NOT NULL,
			items TEXT NOT NULL,
			actor_id TEXT NOT NULL,
			request_id TEXT NOT NULL,
			ts_micros INTEGER NOT NULL,
			evidence_ref TEXT NOT NULL DEFAULT '',
			result_holding TEXT NOT NULL,
			UNIQUE (subject_id, category, request_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_event_holding_ts ON custody_events (subject_id, category, ts_micros)`,
		`CREATE INDEX IF NOT EXISTS idx_event_category ON custody_events (category, subject_id)`,
		`CREATE TABLE IF NOT EXISTS holdings (
			subject_id TEXT NOT NULL,
			category TEXT NOT NULL,
			items TEXT NOT NULL,
			last_event_id TEXT NOT NULL DEFAULT '',
			last_updated_micros INTEGER NOT NULL DEFAULT 0,
			version INTEGER NOT NULL,
			PRIMARY KEY (subject_id, category)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_holding_category ON holdings (category)`,
		`CREATE TABLE IF NOT EXISTS serial_units (
			id TEXT NOT NULL PRIMARY KEY,
			category TEXT NOT NULL,
			serial_number TEXT NOT NULL UNIQUE,
			status TEXT NOT NULL,
			assigned_subject_id TEXT NULL,
			assigned_subject_name TEXT NULL,
			assigned_since_micros INTEGER NULL,
			version INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_unit_category_status ON serial_units (category, status)`,
		`CREATE TABLE IF NOT EXISTS roster (
			subject_id TEXT NOT NULL PRIMARY KEY,
			group_id TEXT NOT NULL
		)`,
	},
	UpsertRoster: `INSERT INTO roster (subject_id, group_id) VALUES (?, ?)
		ON CONFLICT(subject_id) DO UPDATE SET group_id = excluded.group_id`,
	IsUniqueViolation: func(err error) bool {
		var se *sqlite.Error
		if !errors.As(err, &se) {
			return false
		}
		return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || se.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	},
	IsRetryable: func(err error) bool {
		var se *sqlite.Error
		if !errors.As(err, &se) {
			return false
		}
		primary := se.Code() & 0xff
		return primary == sqlite3.SQLITE_BUSY || primary == sqlite3.SQLITE_LOCKED
	},
}

// NewSQLiteAdapter pins the pool to one connection: SQLite has a single
// writer and an in-memory database lives and dies with its connection.
func NewSQLiteAdapter(db *sql.DB) *SQLAdapter {
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	return NewSQLAdapter(db, SQLiteDialect)
}
