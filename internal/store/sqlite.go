package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/chronodle/chronodle/internal/events"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db   *sql.DB
	opts options
}

// NewSQLite opens the database file at path. ":memory:" gives a private in-memory
// database held on a single connection.
func NewSQLite(path string, opts ...Option) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("store: sqlite path is empty")
	}
	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate", path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	return &SQLiteStore{db: db, opts: buildOptions(opts)}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate applies the embedded SQLite migrations.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	return applyMigrations(ctx, s.db, goose.DialectSQLite3, "migrations/sqlite")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) GetMetadata(ctx context.Context, date events.Date) (events.DateMetadata, error) {
	var (
		md       events.DateMetadata
		fetching sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT month, day, date_string, last_api_update, fetching FROM metadata WHERE month = ? AND day = ?`,
		date.Month, date.Day,
	).Scan(&md.Month, &md.Day, &md.DateString, &md.LastAPIUpdate, &fetching)
	if errors.Is(err, sql.ErrNoRows) {
		return md, fmt.Errorf("%w: metadata for %s", events.ErrNotFound, date)
	}
	if err != nil {
		return md, err
	}
	if fetching.Valid {
		md.Fetching = events.FetchStatus(fetching.String)
	}
	return md, nil
}

// BeginFetch claims the date with a single conditional upsert. A row comes back
// only when this call inserted it or flipped it to ongoing.
func (s *SQLiteStore) BeginFetch(ctx context.Context, date events.Date) (bool, error) {
	lockedAt, staleMillis, cutoff := s.opts.lockArgs()
	var month int
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO metadata (month, day, date_string, last_api_update, fetching, locked_at)
		VALUES (?, ?, ?, 0, 'ongoing', ?)
		ON CONFLICT(month, day) DO UPDATE SET fetching = 'ongoing', locked_at = excluded.locked_at
		WHERE metadata.fetching IS NULL
		   OR metadata.fetching IN ('available', 'not_available')
		   OR (? > 0 AND metadata.fetching = 'ongoing' AND metadata.locked_at < ?)
		RETURNING month`,
		date.Month, date.Day, date.String(), lockedAt, staleMillis, cutoff,
	).Scan(&month)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *SQLiteStore) EndFetch(ctx context.Context, date events.Date, status events.FetchStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE metadata SET fetching = ? WHERE month = ? AND day = ?`,
		nullableStatus(status), date.Month, date.Day)
	return err
}

func (s *SQLiteStore) MarkUpdated(ctx context.Context, date events.Date, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE metadata SET last_api_update = ? WHERE month = ? AND day = ?`,
		at.UnixMilli(), date.Month, date.Day)
	return err
}

func (s *SQLiteStore) ListByDate(ctx context.Context, date events.Date) ([]events.EventRecord, error) {
	return s.query(ctx,
		`SELECT `+contentColumns+` FROM content WHERE month = ? AND day = ?`,
		date.Month, date.Day)
}

func (s *SQLiteStore) ListPool(ctx context.Context, date events.Date, eventType events.EventType) ([]events.EventRecord, error) {
	return s.query(ctx,
		`SELECT `+contentColumns+` FROM content WHERE month = ? AND day = ? AND event_type = ? ORDER BY id`,
		date.Month, date.Day, string(eventType))
}

// InsertEvents writes every record in one transaction.
func (s *SQLiteStore) InsertEvents(ctx context.Context, records []events.EventRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO content (`+contentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range records {
		args, err := recordArgs(r)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("insert %s: %w", r.ID, err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) RandomCluster(ctx context.Context, q events.ClusterQuery) ([]events.EventRecord, error) {
	if q.Radius <= 0 {
		return s.query(ctx,
			`SELECT `+contentColumns+` FROM content
			WHERE month = ? AND day = ? AND event_type = ?
			ORDER BY random() LIMIT ?`,
			q.Date.Month, q.Date.Day, string(q.EventType), q.Count)
	}
	return s.query(ctx, `
		WITH pivot AS (
			SELECT year FROM content
			WHERE month = ? AND day = ? AND event_type = ?
			ORDER BY random() LIMIT 1
		)
		SELECT `+qualified("content", contentColumns)+` FROM content, pivot
		WHERE content.month = ? AND content.day = ? AND content.event_type = ?
		  AND content.year BETWEEN pivot.year - ? AND pivot.year + ?
		ORDER BY random() LIMIT ?`,
		q.Date.Month, q.Date.Day, string(q.EventType),
		q.Date.Month, q.Date.Day, string(q.EventType),
		q.Radius, q.Radius, q.Count)
}

func (s *SQLiteStore) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]events.EventRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	args := make([]any, len(ids))
	for i, id := range idStrings(ids) {
		args[i] = id
	}
	return s.query(ctx,
		`SELECT `+contentColumns+` FROM content WHERE id IN (`+placeholders+`)`, args...)
}

func (s *SQLiteStore) query(ctx context.Context, query string, args ...any) ([]events.EventRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []events.EventRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan content: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// qualified prefixes every column in a comma separated list with table.
func qualified(table, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = table + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
