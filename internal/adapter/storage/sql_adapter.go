package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rl1809/custody-ledger/internal/core/domain"
	"github.com/rl1809/custody-ledger/internal/port"
)

var _ port.DatabaseRepository = (*SQLAdapter)(nil)
var _ port.Roster = (*SQLAdapter)(nil)

// Dialect captures what differs between the supported SQL engines.
type Dialect struct {
	Name         string
	Driver       string
	Schema       []string
	UpsertRoster string
	// Rebind rewrites '?' placeholders for engines that number them.
	Rebind func(query string) string
	// IsUniqueViolation reports a duplicate key error.
	IsUniqueViolation func(err error) bool
	// IsRetryable reports deadlocks, serialization failures and busy errors.
	IsRetryable func(err error) bool
}

// SQLAdapter stores the ledger, holdings, serial units and roster in a SQL
// database. Holdings and serial units carry a version column checked on write.
type SQLAdapter struct {
	db      *sql.DB
	dialect Dialect
}

func NewSQLAdapter(db *sql.DB, dialect Dialect) *SQLAdapter {
	if dialect.Rebind == nil {
		dialect.Rebind = func(q string) string { return q }
	}
	return &SQLAdapter{db: db, dialect: dialect}
}

func (s *SQLAdapter) DB() *sql.DB { return s.db }

func (s *SQLAdapter) Dialect() string { return s.dialect.Name }

// Migrate creates the tables if they do not exist.
func (s *SQLAdapter) Migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.Schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %s: %w", s.dialect.Name, err)
		}
	}
	return nil
}

func (s *SQLAdapter) q(query string) string {
	return s.dialect.Rebind(query)
}

// classify maps engine-specific contention errors onto port.ErrWriteConflict.
func (s *SQLAdapter) classify(err error) error {
	if err == nil {
		return nil
	}
	if (s.dialect.IsUniqueViolation != nil && s.dialect.IsUniqueViolation(err)) ||
		(s.dialect.IsRetryable != nil && s.dialect.IsRetryable(err)) {
		return fmt.Errorf("%w: %v", port.ErrWriteConflict, err)
	}
	return err
}

func (s *SQLAdapter) AtomicReadModifyWrite(ctx context.Context, key domain.HoldingKey, fn func(ctx context.Context, tx port.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", s.classify(err))
	}
	defer tx.Rollback()

	if err := fn(ctx, &sqlTx{tx: tx, adapter: s, key: key}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", s.classify(err))
	}
	return nil
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type sqlTx struct {
	tx      *sql.Tx
	adapter *SQLAdapter
	key     domain.HoldingKey
}

const eventColumns = `id, subject_id, category, action, items, actor_id, request_id, ts_micros, evidence_ref`

func (t *sqlTx) FindCommitted(ctx context.Context, requestID string) (*domain.CommittedEvent, error) {
	row := t.tx.QueryRowContext(ctx, t.adapter.q(`
		SELECT `+eventColumns+`, result_holding
		FROM custody_events WHERE subject_id = ? AND category = ? AND request_id = ?`),
		t.key.SubjectID, string(t.key.Category), requestID,
	)
	var ce domain.CommittedEvent
	var result []byte
	ev, err := scanEvent(row, &result)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query committed event: %w", t.adapter.classify(err))
	}
	ce.Event = ev
	if err := json.Unmarshal(result, &ce.Holding); err != nil {
		return nil, fmt.Errorf("decode result holding: %w", err)
	}
	return &ce, nil
}

func (t *sqlTx) GetHolding(ctx context.Context) (domain.Holding, error) {
	h, err := t.adapter.getHolding(ctx, t.tx, t.key)
	if err != nil {
		return domain.Holding{}, t.adapter.classify(err)
	}
	if h == nil {
		return domain.NewHolding(t.key), nil
	}
	return *h, nil
}

func (t *sqlTx) ListEvents(ctx context.Context) ([]domain.CustodyEvent, error) {
	evs, err := t.adapter.listEvents(ctx, t.tx, t.key)
	return evs, t.adapter.classify(err)
}

func (t *sqlTx) GetSerialUnits(ctx context.Context, serials []string) ([]domain.SerialUnit, error) {
	if len(serials) == 0 {
		return nil, nil
	}
	args := make([]any, len(serials))
	for i, s := range serials {
		args[i] = s
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(serials)), ",")
	rows, err := t.tx.QueryContext(ctx, t.adapter.q(`
		SELECT `+unitColumns+` FROM serial_units WHERE serial_number IN (`+placeholders+`)`), args...)
	if err != nil {
		return nil, fmt.Errorf("query serial units: %w", t.adapter.classify(err))
	}
	defer rows.Close()
	return scanUnits(rows)
}

func (t *sqlTx) AppendEvent(ctx context.Context, ev domain.CustodyEvent, result domain.Holding) error {
	items, err := json.Marshal(ev.Items)
	if err != nil {
		return fmt.Errorf("encode items: %w", err)
	}
	snapshot, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result holding: %w", err)
	}
	_, err = t.tx.ExecContext(ctx, t.adapter.q(`
		INSERT INTO custody_events (`+eventColumns+`, result_holding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		ev.ID, ev.SubjectID, string(ev.Category), string(ev.Action), string(items),
		ev.ActorID, ev.RequestID, ev.Timestamp.UnixMicro(), ev.EvidenceRef, string(snapshot),
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", t.adapter.classify(err))
	}
	return nil
}

func (t *sqlTx) PutHolding(ctx context.Context, h domain.Holding) error {
	if h.Key() != t.key {
		return fmt.Errorf("holding %s outside transaction scope %s", h.Key(), t.key)
	}
	items, err := json.Marshal(h.Items)
	if err != nil {
		return fmt.Errorf("encode holding items: %w", err)
	}

	if h.Version == 0 {
		_, err = t.tx.ExecContext(ctx, t.adapter.q(`
			INSERT INTO holdings (subject_id, category, items, last_event_id, last_updated_micros, version)
			VALUES (?, ?, ?, ?, ?, 1)`),
			h.SubjectID, string(h.Category), string(items), h.LastEventID, toMicros(h.LastUpdated),
		)
		if err != nil {
			return fmt.Errorf("insert holding: %w", t.adapter.classify(err))
		}
		return nil
	}

	result, err := t.tx.ExecContext(ctx, t.adapter.q(`
		UPDATE holdings
		SET items = ?, last_event_id = ?, last_updated_micros = ?, version = version + 1
		WHERE subject_id = ? AND category = ? AND version = ?`),
		string(items), h.LastEventID, toMicros(h.LastUpdated), h.SubjectID, string(h.Category), h.Version,
	)
	if err != nil {
		return fmt.Errorf("update holding: %w", t.adapter.classify(err))
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return port.ErrWriteConflict
	}
	return nil
}

func (t *sqlTx) PutSerialUnit(ctx context.Context, u domain.SerialUnit) error {
	subjectID, subjectName, since := assignmentColumns(u.AssignedTo)
	result, err := t.tx.ExecContext(ctx, t.adapter.q(`
		UPDATE serial_units
		SET status = ?, assigned_subject_id = ?, assigned_subject_name = ?, assigned_since_micros = ?, version = version + 1
		WHERE id = ? AND version = ?`),
		string(u.Status), subjectID, subjectName, since, u.ID, u.Version,
	)
	if err != nil {
		return fmt.Errorf("update serial unit: %w", t.adapter.classify(err))
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return port.ErrWriteConflict
	}
	return nil
}

func (s *SQLAdapter) GetHolding(ctx context.Context, key domain.HoldingKey) (*domain.Holding, error) {
	return s.getHolding(ctx, s.db, key)
}

func (s *SQLAdapter) getHolding(ctx context.Context, q queryer, key domain.HoldingKey) (*domain.Holding, error) {
	h := domain.NewHolding(key)
	var items []byte
	var updated int64
	err := q.QueryRowContext(ctx, s.q(`
		SELECT items, last_event_id, last_updated_micros, version
		FROM holdings WHERE subject_id = ? AND category = ?`),
		key.SubjectID, string(key.Category),
	).Scan(&items, &h.LastEventID, &updated, &h.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query holding: %w", err)
	}
	if err := json.Unmarshal(items, &h.Items); err != nil {
		return nil, fmt.Errorf("decode holding items: %w", err)
	}
	if h.Items == nil {
		h.Items = make(map[string]domain.ItemBalance)
	}
	h.LastUpdated = fromMicros(updated)
	return &h, nil
}

func (s *SQLAdapter) ListEvents(ctx context.Context, key domain.HoldingKey) ([]domain.CustodyEvent, error) {
	return s.listEvents(ctx, s.db, key)
}

func (s *SQLAdapter) listEvents(ctx context.Context, q queryer, key domain.HoldingKey) ([]domain.CustodyEvent, error) {
	rows, err := q.QueryContext(ctx, s.q(`
		SELECT `+eventColumns+` FROM custody_events
		WHERE subject_id = ? AND category = ?
		ORDER BY ts_micros, request_id`),
		key.SubjectID, string(key.Category),
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []domain.CustodyEvent
	for rows.Next() {
		ev, err := scanEvent(rows, nil)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

func (s *SQLAdapter) ListHoldingKeys(ctx context.Context, category domain.Category) ([]domain.HoldingKey, error) {
	return s.listKeys(ctx, `SELECT subject_id FROM holdings WHERE category = ? ORDER BY subject_id`, category)
}

func (s *SQLAdapter) ListLedgerKeys(ctx context.Context, category domain.Category) ([]domain.HoldingKey, error) {
	return s.listKeys(ctx, `SELECT DISTINCT subject_id FROM custody_events WHERE category = ? ORDER BY subject_id`, category)
}

func (s *SQLAdapter) listKeys(ctx context.Context, query string, category domain.Category) ([]domain.HoldingKey, error) {
	rows, err := s.db.QueryContext(ctx, s.q(query), string(category))
	if err != nil {
		return nil, fmt.Errorf("query keys: %w", err)
	}
	defer rows.Close()

	var keys []domain.HoldingKey
	for rows.Next() {
		var subjectID string
		if err := rows.Scan(&subjectID); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, domain.HoldingKey{SubjectID: subjectID, Category: category})
	}
	return keys, rows.Err()
}

const unitColumns = `id, category, serial_number, status, assigned_subject_id, assigned_subject_name, assigned_since_micros, version`

func (s *SQLAdapter) CreateSerialUnit(ctx context.Context, u domain.SerialUnit) error {
	subjectID, subjectName, since := assignmentColumns(u.AssignedTo)
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO serial_units (`+unitColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1)`),
		u.ID, string(u.Category), u.SerialNumber, string(u.Status), subjectID, subjectName, since,
	)
	if err != nil {
		if s.dialect.IsUniqueViolation != nil && s.dialect.IsUniqueViolation(err) {
			return port.ErrDuplicateKey
		}
		return fmt.Errorf("insert serial unit: %w", err)
	}
	return nil
}

func (s *SQLAdapter) GetSerialUnit(ctx context.Context, id string) (*domain.SerialUnit, error) {
	return s.getUnit(ctx, `SELECT `+unitColumns+` FROM serial_units WHERE id = ?`, id)
}

func (s *SQLAdapter) GetSerialUnitBySerial(ctx context.Context, serial string) (*domain.SerialUnit, error) {
	return s.getUnit(ctx, `SELECT `+unitColumns+` FROM serial_units WHERE serial_number = ?`, serial)
}

func (s *SQLAdapter) getUnit(ctx context.Context, query, arg string) (*domain.SerialUnit, error) {
	rows, err := s.db.QueryContext(ctx, s.q(query), arg)
	if err != nil {
		return nil, fmt.Errorf("query serial unit: %w", err)
	}
	defer rows.Close()

	units, err := scanUnits(rows)
	if err != nil {
		return nil, err
	}
	if len(units) == 0 {
		return nil, nil
	}
	return &units[0], nil
}

func (s *SQLAdapter) ListSerialUnits(ctx context.Context, category domain.Category, status domain.SerialStatus) ([]domain.SerialUnit, error) {
	query := `SELECT ` + unitColumns + ` FROM serial_units WHERE category = ?`
	args := []any{string(category)}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY serial_number`

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query serial units: %w", err)
	}
	defer rows.Close()
	return scanUnits(rows)
}

func (s *SQLAdapter) DeleteSerialUnit(ctx context.Context, id string, version int64) error {
	result, err := s.db.ExecContext(ctx, s.q(`
		DELETE FROM serial_units WHERE id = ? AND version = ? AND status = ?`),
		id, version, string(domain.SerialAvailable),
	)
	if err != nil {
		return fmt.Errorf("delete serial unit: %w", s.classify(err))
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return port.ErrWriteConflict
	}
	return nil
}

func (s *SQLAdapter) GetGroup(ctx context.Context, subjectID string) (string, error) {
	var group string
	err := s.db.QueryRowContext(ctx, s.q(`SELECT group_id FROM roster WHERE subject_id = ?`), subjectID).Scan(&group)
	if errors.Is(err, sql.ErrNoRows) {
		return "", &domain.NotFoundError{Kind: "roster entry", ID: subjectID}
	}
	if err != nil {
		return "", fmt.Errorf("query roster: %w", err)
	}
	return group, nil
}

func (s *SQLAdapter) SetGroup(ctx context.Context, subjectID, group string) error {
	if _, err := s.db.ExecContext(ctx, s.q(s.dialect.UpsertRoster), subjectID, group); err != nil {
		return fmt.Errorf("upsert roster: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner, result *[]byte) (domain.CustodyEvent, error) {
	var ev domain.CustodyEvent
	var category, action string
	var items []byte
	var ts int64
	dest := []any{&ev.ID, &ev.SubjectID, &category, &action, &items, &ev.ActorID, &ev.RequestID, &ts, &ev.EvidenceRef}
	if result != nil {
		dest = append(dest, result)
	}
	if err := row.Scan(dest...); err != nil {
		return domain.CustodyEvent{}, err
	}
	if err := json.Unmarshal(items, &ev.Items); err != nil {
		return domain.CustodyEvent{}, fmt.Errorf("decode event items: %w", err)
	}
	ev.Category = domain.Category(category)
	ev.Action = domain.Action(action)
	ev.Timestamp = fromMicros(ts)
	return ev, nil
}

func scanUnits(rows *sql.Rows) ([]domain.SerialUnit, error) {
	var out []domain.SerialUnit
	for rows.Next() {
		var u domain.SerialUnit
		var category, status string
		var subjectID, subjectName sql.NullString
		var since sql.NullInt64
		if err := rows.Scan(&u.ID, &category, &u.SerialNumber, &status, &subjectID, &subjectName, &since, &u.Version); err != nil {
			return nil, fmt.Errorf("scan serial unit: %w", err)
		}
		u.Category = domain.Category(category)
		u.Status = domain.SerialStatus(status)
		if subjectID.Valid {
			u.AssignedTo = &domain.Assignment{
				SubjectID:   subjectID.String,
				SubjectName: subjectName.String,
				Since:       fromMicros(since.Int64),
			}
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate serial units: %w", err)
	}
	return out, nil
}

func assignmentColumns(a *domain.Assignment) (sql.NullString, sql.NullString, sql.NullInt64) {
	if a == nil {
		return sql.NullString{}, sql.NullString{}, sql.NullInt64{}
	}
	return sql.NullString{String: a.SubjectID, Valid: true},
		sql.NullString{String: a.SubjectName, Valid: true},
		sql.NullInt64{Int64: toMicros(a.Since), Valid: true}
}

func toMicros(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMicro()
}

func fromMicros(us int64) time.Time {
	if us == 0 {
		return time.Time{}
	}
	return time.UnixMicro(us).UTC()
}
