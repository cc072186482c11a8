package games

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/chronodle/chronodle/internal/events"
)

// DefaultTimedTotal is the countdown of a timed game.
const DefaultTimedTotal = 60 * time.Second

const tick = time.Second

// RandomSource serves single pairs from random days.
type RandomSource interface {
	DetailSource
	RandomPair(ctx context.Context, eventType events.EventType) (events.Pair[events.EventPayload], error)
}

type TimedConfig struct {
	Source      RandomSource
	Scores      ScoreStore
	Total       time.Duration
	RevealDelay time.Duration
	Clock       Clock
	Executor    Executor
	Logger      *slog.Logger
	Hooks       Hooks
	Directive   func() Directive
	// OnTick receives the remaining time after every countdown step.
	OnTick func(remaining time.Duration)
}

// TimedStats are the answer times of a timed game in seconds.
type TimedStats struct {
	Answered   int
	Average    decimal.Decimal
	Fastest    decimal.Decimal
	HasFastest bool
	Remaining  time.Duration
}

// Timed streams random pairs until the countdown runs out.
type Timed struct {
	machine *Machine
	source  RandomSource
	clock   Clock
	total   time.Duration
	logger  *slog.Logger
	onTick  func(time.Duration)

	mu sync.Mutex
	// gen identifies the current game. Countdown callbacks from an earlier
	// game carry a stale gen and are dropped.
	gen       uint64
	remaining time.Duration
	running   bool
	ticker    Timer
	shownAt   map[int]time.Time
	clickedAt map[int]time.Time
	answers   []time.Duration
	correct   []time.Duration
}

func NewTimed(cfg TimedConfig) (*Timed, error) {
	if cfg.Source == nil {
		return nil, errors.New("games: timed mode requires a source")
	}
	t := &Timed{
		source: cfg.Source,
		clock:  cfg.Clock,
		total:  cfg.Total,
		logger: cfg.Logger,
		onTick: cfg.OnTick,
	}
	if t.clock == nil {
		t.clock = SystemClock
	}
	if t.total <= 0 {
		t.total = DefaultTimedTotal
	}
	if t.logger == nil {
		t.logger = slog.Default()
	}
	t.logger = t.logger.With("mode", "timed")

	own := Hooks{PairShown: t.pairShown, Clicked: t.clicked, Scored: t.scored, Finished: t.finished}
	m, err := NewMachine(Config{
		Loader:      t,
		Details:     cfg.Source,
		Scores:      cfg.Scores,
		RevealDelay: cfg.RevealDelay,
		Clock:       t.clock,
		Executor:    cfg.Executor,
		Logger:      t.logger,
		Hooks:       own.merge(cfg.Hooks),
		Directive:   cfg.Directive,
	})
	if err != nil {
		return nil, err
	}
	t.machine = m
	return t, nil
}

func (t *Timed) Machine() *Machine { return t.machine }

// Start resets the countdown and loads the first pair. The countdown begins when
// that pair is shown.
func (t *Timed) Start(ctx context.Context, eventType events.EventType) error {
	t.mu.Lock()
	t.stopLocked()
	t.gen++
	t.remaining = t.total
	t.shownAt = make(map[int]time.Time)
	t.clickedAt = make(map[int]time.Time)
	t.answers = nil
	t.correct = nil
	t.mu.Unlock()
	return t.machine.SelectEventType(ctx, eventType)
}

func (t *Timed) LoadPairs(ctx context.Context, eventType events.EventType) ([]events.Pair[events.EventPayload], error) {
	p, err := t.source.RandomPair(ctx, eventType)
	if err != nil {
		return nil, err
	}
	return []events.Pair[events.EventPayload]{p}, nil
}

func (t *Timed) NextPair(ctx context.Context, eventType events.EventType) (events.Pair[events.EventPayload], error) {
	return t.source.RandomPair(ctx, eventType)
}

func (t *Timed) Remaining() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remaining
}

func (t *Timed) Stats() TimedStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := TimedStats{Answered: len(t.answers), Remaining: t.remaining}
	if len(t.answers) > 0 {
		sum := decimal.Zero
		for _, d := range t.answers {
			sum = sum.Add(seconds(d))
		}
		s.Average = sum.Div(decimal.NewFromInt(int64(len(t.answers)))).Round(2)
	}
	if len(t.correct) > 0 {
		fastest := t.correct[0]
		for _, d := range t.correct[1:] {
			fastest = min(fastest, d)
		}
		s.Fastest = seconds(fastest).Round(2)
		s.HasFastest = true
	}
	return s
}

func seconds(d time.Duration) decimal.Decimal {
	return decimal.New(d.Milliseconds(), -3)
}

func (t *Timed) pairShown(ctx context.Context, ev RoundEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.shownAt[ev.Round] = ev.At
	if !t.running && t.remaining > 0 {
		t.running = true
		t.armLocked(ctx)
	}
}

func (t *Timed) clicked(_ context.Context, ev RoundEvent) {
	t.mu.Lock()
	t.clickedAt[ev.Round] = ev.At
	t.mu.Unlock()
}

func (t *Timed) scored(_ context.Context, ev RoundEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	shown, ok := t.shownAt[ev.Round]
	clicked, clickedOK := t.clickedAt[ev.Round]
	if !ok || !clickedOK {
		return
	}
	d := clicked.Sub(shown)
	t.answers = append(t.answers, d)
	if ev.Correct {
		t.correct = append(t.correct, d)
	}
}

func (t *Timed) finished(context.Context, Summary) {
	t.mu.Lock()
	t.stopLocked()
	t.mu.Unlock()
}

func (t *Timed) armLocked(ctx context.Context) {
	gen := t.gen
	t.ticker = t.clock.AfterFunc(tick, func() { t.step(ctx, gen) })
}

func (t *Timed) step(ctx context.Context, gen uint64) {
	t.mu.Lock()
	if gen != t.gen || !t.running {
		t.mu.Unlock()
		return
	}
	t.remaining = max(t.remaining-tick, 0)
	remaining := t.remaining
	if remaining == 0 {
		t.running = false
		t.ticker = nil
	} else {
		t.armLocked(ctx)
	}
	onTick := t.onTick
	t.mu.Unlock()

	if onTick != nil {
		onTick(remaining)
	}
	if remaining > 0 {
		return
	}
	if err := t.machine.Finish(ctx); err != nil && !errors.Is(err, ErrInvalidTransition) {
		t.logger.Error("finishing timed game failed", "error", err)
	}
}

func (t *Timed) stopLocked() {
	t.running = false
	if t.ticker != nil {
		t.ticker.Stop()
		t.ticker = nil
	}
}
