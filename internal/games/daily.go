package games

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chronodle/chronodle/internal/events"
)

const streakLayout = "2006-01-02"

// DefaultDailyCount is the number of rounds in a daily game.
const DefaultDailyCount = 10

var (
	ErrNoRecord     = errors.New("games: no daily record")
	ErrRecordExists = errors.New("games: daily record already saved")
)

// DailySource serves the date seeded pairs shared by every player on a day.
type DailySource interface {
	DetailSource
	DailyPairs(ctx context.Context, day time.Time, eventType events.EventType, count int) ([]events.Pair[events.EventPayload], error)
}

// DailyStore keeps one record per calendar day and the streak counter.
// SaveDailyRecord returns ErrRecordExists when the day already has a record.
type DailyStore interface {
	DailyRecord(ctx context.Context, day time.Time) (DailyGameRecord, error)
	SaveDailyRecord(ctx context.Context, day time.Time, rec DailyGameRecord) error
	Streak(ctx context.Context) (StreakData, error)
	SaveStreak(ctx context.Context, s StreakData) error
}

type DailyConfig struct {
	Source      DailySource
	Store       DailyStore
	Scores      ScoreStore
	Count       int
	RevealDelay time.Duration
	Clock       Clock
	Executor    Executor
	Logger      *slog.Logger
	Hooks       Hooks
	Directive   func() Directive
}

// Daily plays the puzzle of the day once and replays the stored result afterwards.
type Daily struct {
	machine *Machine
	source  DailySource
	store   DailyStore
	clock   Clock
	count   int
	logger  *slog.Logger

	mu     sync.Mutex
	day    time.Time
	record *DailyGameRecord
}

func NewDaily(cfg DailyConfig) (*Daily, error) {
	if cfg.Source == nil || cfg.Store == nil {
		return nil, errors.New("games: daily mode requires a source and a store")
	}
	d := &Daily{
		source: cfg.Source,
		store:  cfg.Store,
		clock:  cfg.Clock,
		count:  cfg.Count,
		logger: cfg.Logger,
	}
	if d.clock == nil {
		d.clock = SystemClock
	}
	if d.count <= 0 {
		d.count = DefaultDailyCount
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	d.logger = d.logger.With("mode", "daily")

	m, err := NewMachine(Config{
		Loader:      d,
		Details:     cfg.Source,
		Scores:      cfg.Scores,
		RevealDelay: cfg.RevealDelay,
		Clock:       d.clock,
		Executor:    cfg.Executor,
		Logger:      d.logger,
		Hooks:       Hooks{Finished: d.finished}.merge(cfg.Hooks),
		Directive:   cfg.Directive,
	})
	if err != nil {
		return nil, err
	}
	d.machine = m
	return d, nil
}

func (d *Daily) Machine() *Machine { return d.machine }

// Start plays today's puzzle, or replays today's record if one exists.
func (d *Daily) Start(ctx context.Context, eventType events.EventType) error {
	day := d.clock.Now()
	d.mu.Lock()
	d.day = day
	d.record = nil
	d.mu.Unlock()

	rec, err := d.store.DailyRecord(ctx, day)
	switch {
	case err == nil:
		d.mu.Lock()
		d.record = &rec
		d.mu.Unlock()
		return d.machine.Replay(Summary{
			EventType: eventType,
			Score:     rec.Score,
			Results:   rec.Results,
			Events:    rec.Events,
			Replay:    true,
		})
	case errors.Is(err, ErrNoRecord):
		return d.machine.SelectEventType(ctx, eventType)
	default:
		return fmt.Errorf("load daily record: %w", err)
	}
}

// Record returns today's record once it has been saved or replayed.
func (d *Daily) Record() (DailyGameRecord, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.record == nil {
		return DailyGameRecord{}, false
	}
	return *d.record, true
}

func (d *Daily) LoadPairs(ctx context.Context, eventType events.EventType) ([]events.Pair[events.EventPayload], error) {
	d.mu.Lock()
	day := d.day
	d.mu.Unlock()
	return d.source.DailyPairs(ctx, day, eventType, d.count)
}

func (d *Daily) finished(ctx context.Context, s Summary) {
	if s.Replay {
		return
	}
	d.mu.Lock()
	day := d.day
	d.mu.Unlock()

	prev, err := d.store.Streak(ctx)
	if err != nil {
		d.logger.Error("reading streak failed", "error", err)
		prev = StreakData{}
	}
	next := NextStreak(prev, day)
	rec := DailyGameRecord{
		Date:       day.Day(),
		Month:      int(day.Month()),
		Year:       day.Year(),
		Streak:     next.Current,
		BestStreak: next.Best,
		Results:    s.Results,
		Score:      s.Score,
		Timestamp:  d.clock.Now().UnixMilli(),
		Events:     s.Events,
	}

	if err := d.store.SaveDailyRecord(ctx, day, rec); err != nil {
		if errors.Is(err, ErrRecordExists) {
			d.logger.Info("daily record already saved", "date", day.Format(streakLayout))
			return
		}
		d.logger.Error("saving daily record failed", "error", err)
		return
	}
	if err := d.store.SaveStreak(ctx, next); err != nil {
		d.logger.Error("saving streak failed", "error", err)
	}

	d.mu.Lock()
	d.record = &rec
	d.mu.Unlock()
	d.logger.Info("daily game saved", "score", rec.Score, "streak", rec.Streak)
}

// NextStreak updates the counter for a game played on day. Playing twice on the same
// day changes nothing; a gap of more than one day restarts at 1.
func NextStreak(prev StreakData, day time.Time) StreakData {
	today := day.Format(streakLayout)
	if prev.LastPlayed == today {
		return prev
	}
	next := StreakData{Current: 1, Best: prev.Best, LastPlayed: today}
	if prev.LastPlayed == day.AddDate(0, 0, -1).Format(streakLayout) {
		next.Current = prev.Current + 1
	}
	next.Best = max(next.Best, next.Current)
	return next
}
