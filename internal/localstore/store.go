// Package localstore keeps the player's state on disk: settings, best score,
// streak and one record per played daily puzzle.
package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/chronodle/chronodle/internal/games"
)

const (
	KeyTheme         = "theme"
	KeyHeartsEnabled = "heartsEnabled"
	KeyBestScore     = "bestScore"
	KeyStreak        = "streak-data"
)

const (
	ThemeLight = "light"
	ThemeDark  = "dark"
)

var (
	_ games.ScoreStore = (*Store)(nil)
	_ games.DailyStore = (*Store)(nil)
)

type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New opens/creates the state database at path and runs migrations.
func New(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, now: time.Now}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate local state: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS daily_records (
			year INTEGER NOT NULL,
			month INTEGER NOT NULL,
			date INTEGER NOT NULL,
			score INTEGER NOT NULL,
			streak INTEGER NOT NULL,
			record TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (year, month, date)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_daily_records_created ON daily_records(created_at DESC);`,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, q := range stmts {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// --------- Key/value ---------

// Get returns the raw value stored under key.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key=?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read %s: %w", key, err)
	}
	return v, true, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings(key, value, updated_at) VALUES(?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		key, value, s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

// Theme defaults to light.
func (s *Store) Theme(ctx context.Context) (string, error) {
	v, ok, err := s.Get(ctx, KeyTheme)
	if err != nil || !ok {
		return ThemeLight, err
	}
	return v, nil
}

func (s *Store) SetTheme(ctx context.Context, theme string) error {
	theme = strings.ToLower(strings.TrimSpace(theme))
	if theme != ThemeLight && theme != ThemeDark {
		return fmt.Errorf("theme %q must be %s or %s", theme, ThemeLight, ThemeDark)
	}
	return s.Set(ctx, KeyTheme, theme)
}

// HeartsEnabled defaults to true.
func (s *Store) HeartsEnabled(ctx context.Context) (bool, error) {
	v, ok, err := s.Get(ctx, KeyHeartsEnabled)
	if err != nil || !ok {
		return true, err
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return true, fmt.Errorf("parse %s: %w", KeyHeartsEnabled, err)
	}
	return b, nil
}

func (s *Store) SetHeartsEnabled(ctx context.Context, enabled bool) error {
	return s.Set(ctx, KeyHeartsEnabled, strconv.FormatBool(enabled))
}

// --------- Scores ---------

func (s *Store) BestScore(ctx context.Context) (int, error) {
	v, ok, err := s.Get(ctx, KeyBestScore)
	if err != nil || !ok {
		return 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", KeyBestScore, err)
	}
	return n, nil
}

func (s *Store) SetBestScore(ctx context.Context, score int) error {
	return s.Set(ctx, KeyBestScore, strconv.Itoa(score))
}

func (s *Store) Streak(ctx context.Context) (games.StreakData, error) {
	var d games.StreakData
	v, ok, err := s.Get(ctx, KeyStreak)
	if err != nil || !ok {
		return d, err
	}
	if err := json.Unmarshal([]byte(v), &d); err != nil {
		return games.StreakData{}, fmt.Errorf("parse %s: %w", KeyStreak, err)
	}
	return d, nil
}

func (s *Store) SaveStreak(ctx context.Context, d games.StreakData) error {
	b, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return s.Set(ctx, KeyStreak, string(b))
}

// --------- Daily records ---------

// DailyRecord returns the record for the calendar day of day, or games.ErrNoRecord.
func (s *Store) DailyRecord(ctx context.Context, day time.Time) (games.DailyGameRecord, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT record FROM daily_records WHERE year=? AND month=? AND date=?`,
		day.Year(), int(day.Month()), day.Day()).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return games.DailyGameRecord{}, games.ErrNoRecord
	}
	if err != nil {
		return games.DailyGameRecord{}, fmt.Errorf("read daily record: %w", err)
	}
	return decodeRecord(raw)
}

// SaveDailyRecord stores rec for day. An existing record is never replaced.
func (s *Store) SaveDailyRecord(ctx context.Context, day time.Time, rec games.DailyGameRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO daily_records(year, month, date, score, streak, record, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		day.Year(), int(day.Month()), day.Day(), rec.Score, rec.Streak, string(b), s.now().UnixMilli())
	if err != nil {
		if isConstraintErr(err) {
			return games.ErrRecordExists
		}
		return fmt.Errorf("write daily record: %w", err)
	}
	return nil
}

// DailyRecords lists stored records, most recent day first.
func (s *Store) DailyRecords(ctx context.Context, limit int) ([]games.DailyGameRecord, error) {
	if limit <= 0 || limit > 366 {
		limit = 30
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT record FROM daily_records
		ORDER BY year DESC, month DESC, date DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []games.DailyGameRecord
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		rec, err := decodeRecord(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func decodeRecord(raw string) (games.DailyGameRecord, error) {
	var rec games.DailyGameRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return games.DailyGameRecord{}, fmt.Errorf("decode daily record: %w", err)
	}
	return rec, nil
}

// --------- helpers ---------

func isConstraintErr(err error) bool {
	// modernc sqlite reports "UNIQUE constraint failed: ..." in the message.
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "constraint failed") || strings.Contains(msg, "unique constraint")
}
