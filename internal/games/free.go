package games

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/chronodle/chronodle/internal/events"
)

// DefaultFreeCount is the number of rounds in a free game.
const DefaultFreeCount = 10

// PairSource serves pairs drawn from the events of one calendar day.
type PairSource interface {
	DetailSource
	Pairs(ctx context.Context, date events.Date, eventType events.EventType, count int) ([]events.Pair[events.EventPayload], error)
}

type FreeConfig struct {
	Source      PairSource
	Scores      ScoreStore
	Count       int
	RevealDelay time.Duration
	Clock       Clock
	Executor    Executor
	Logger      *slog.Logger
	Hooks       Hooks
	Directive   func() Directive
}

// Free is an unlimited practice game on today's calendar day.
type Free struct {
	machine *Machine
	source  PairSource
	clock   Clock
	count   int
}

func NewFree(cfg FreeConfig) (*Free, error) {
	if cfg.Source == nil {
		return nil, errors.New("games: free mode requires a source")
	}
	f := &Free{source: cfg.Source, clock: cfg.Clock, count: cfg.Count}
	if f.clock == nil {
		f.clock = SystemClock
	}
	if f.count <= 0 {
		f.count = DefaultFreeCount
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m, err := NewMachine(Config{
		Loader:      f,
		Details:     cfg.Source,
		Scores:      cfg.Scores,
		RevealDelay: cfg.RevealDelay,
		Clock:       f.clock,
		Executor:    cfg.Executor,
		Logger:      logger.With("mode", "free"),
		Hooks:       cfg.Hooks,
		Directive:   cfg.Directive,
	})
	if err != nil {
		return nil, err
	}
	f.machine = m
	return f, nil
}

func (f *Free) Machine() *Machine { return f.machine }

func (f *Free) Start(ctx context.Context, eventType events.EventType) error {
	return f.machine.SelectEventType(ctx, eventType)
}

func (f *Free) LoadPairs(ctx context.Context, eventType events.EventType) ([]events.Pair[events.EventPayload], error) {
	return f.source.Pairs(ctx, events.DateOf(f.clock.Now()), eventType, f.count)
}
