package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite" // pure go sqlite driver
)

const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

// OpenSQL connects to the configured engine, applies pool settings and
// creates the schema.
func OpenSQL(ctx context.Context, driver, dsn string) (*SQLAdapter, error) {
	var dialect Dialect
	switch driver {
	case DriverSQLite:
		dialect = SQLiteDialect
		if dsn == "" {
			dsn = "file:custody.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
		}
	case DriverMySQL:
		dialect = MySQLDialect
		if dsn == "" {
			dsn = "root:root@tcp(localhost:3306)/custody?parseTime=true"
		}
	case DriverPostgres:
		dialect = PostgresDialect
		if dsn == "" {
			dsn = "postgres://localhost/custody?sslmode=disable"
		}
	default:
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}

	db, err := sql.Open(dialect.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect.Name, err)
	}

	var adapter *SQLAdapter
	if driver == DriverSQLite {
		adapter = NewSQLiteAdapter(db)
	} else {
		db.SetMaxOpenConns(50)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(5 * time.Minute)
		adapter = NewSQLAdapter(db, dialect)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect.Name, err)
	}
	if err := adapter.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return adapter, nil
}
