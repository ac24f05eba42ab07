package storage

import (
	"database/sql"
	"errors"

	"github.com/go-sql-driver/mysql"
)

const (
	mysqlDuplicateEntry   = 1062
	mysqlLockWaitTimeout  = 1205
	mysqlDeadlockDetected = 1213
)

var MySQLDialect = Dialect{
	Name:   "mysql",
	Driver: "mysql",
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS custody_events (
			seq BIGINT AUTO_INCREMENT PRIMARY KEY,
			id VARCHAR(64) NOT NULL,
			subject_id VARCHAR(128) NOT NULL,
			category VARCHAR(32) NOT NULL,
			action VARCHAR(16) NOT NULL,
			items JSON NOT NULL,
			actor_id VARCHAR(128) NOT NULL,
			request_id VARCHAR(128) NOT NULL,
			ts_micros BIGINT NOT NULL,
			evidence_ref VARCHAR(512) NOT NULL DEFAULT '',
			result_holding JSON NOT NULL,
			UNIQUE KEY uniq_event_id (id),
			UNIQUE KEY uniq_event_request (subject_id, category, request_id),
			KEY idx_event_holding_ts (subject_id, category, ts_micros),
			KEY idx_event_category (category, subject_id)
		)`,
		`CREATE TABLE IF NOT EXISTS holdings (
			subject_id VARCHAR(128) NOT NULL,
			category VARCHAR(32) NOT NULL,
			items JSON NOT NULL,
			last_event_id VARCHAR(64) NOT NULL DEFAULT '',
			last_updated_micros BIGINT NOT NULL DEFAULT 0,
			version BIGINT NOT NULL,
			PRIMARY KEY (subject_id, category),
			KEY idx_holding_category (category)
		)`,
		`CREATE TABLE IF NOT EXISTS serial_units (
			id VARCHAR(64) NOT NULL PRIMARY KEY,
			category VARCHAR(32) NOT NULL,
			serial_number VARCHAR(128) NOT NULL,
			status VARCHAR(16) NOT NULL,
			assigned_subject_id VARCHAR(128) NULL,
			assigned_subject_name VARCHAR(256) NULL,
			assigned_since_micros BIGINT NULL,
			version BIGINT NOT NULL,
			UNIQUE KEY uniq_serial_number (serial_number),
			KEY idx_unit_category_status (category, status)
		)`,
		`CREATE TABLE IF NOT EXISTS roster (
			subject_id VARCHAR(128) NOT NULL PRIMARY KEY,
			group_id VARCHAR(128) NOT NULL
		)`,
	},
	UpsertRoster: `INSERT INTO roster (subject_id, group_id) VALUES (?, ?)
		ON DUPLICATE KEY UPDATE group_id = VALUES(group_id)`,
	IsUniqueViolation: func(err error) bool {
		var me *mysql.MySQLError
		return errors.As(err, &me) && me.Number == mysqlDuplicateEntry
	},
	IsRetryable: func(err error) bool {
		var me *mysql.MySQLError
		return errors.As(err, &me) && (me.Number == mysqlDeadlockDetected || me.Number == mysqlLockWaitTimeout)
	},
}

func NewMySQLAdapter(db *sql.DB) *SQLAdapter {
	return NewSQLAdapter(db, MySQLDialect)
}
