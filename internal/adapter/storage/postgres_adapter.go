package storage

import (
	"database/sql"
	"errors"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

var PostgresDialect = Dialect{
	Name:   "postgres",
	Driver: "pgx",
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS custody_events (
			seq BIGSERIAL PRIMARY KEY,
			id TEXT NOT NULL UNIQUE,
			subject_id TEXT NOT NULL,
			category TEXT NOT NULL,
			action TEXT NOT NULL,
			items TEXT NOT NULL,
			actor_id TEXT NOT NULL,
			request_id TEXT NOT NULL,
			ts_micros BIGINT NOT NULL,
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
			last_updated_micros BIGINT NOT NULL DEFAULT 0,
			version BIGINT NOT NULL,
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
			assigned_since_micros BIGINT NULL,
			version BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_unit_category_status ON serial_units (category, status)`,
		`CREATE TABLE IF NOT EXISTS roster (
			subject_id TEXT NOT NULL PRIMARY KEY,
			group_id TEXT NOT NULL
		)`,
	},
	UpsertRoster: `INSERT INTO roster (subject_id, group_id) VALUES (?, ?)
		ON CONFLICT (subject_id) DO UPDATE SET group_id = EXCLUDED.group_id`,
	Rebind: rebindDollar,
	IsUniqueViolation: func(err error) bool {
		var pe *pgconn.PgError
		return errors.As(err, &pe) && pe.Code == pgUniqueViolation
	},
	IsRetryable: func(err error) bool {
		var pe *pgconn.PgError
		return errors.As(err, &pe) && (pe.Code == pgSerializationFailure || pe.Code == pgDeadlockDetected)
	},
}

func NewPostgresAdapter(db *sql.DB) *SQLAdapter {
	return NewSQLAdapter(db, PostgresDialect)
}

// rebindDollar turns '?' placeholders into $1, $2, ...
func rebindDollar(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
