// Package games runs the round state machine behind the daily, free and timed modes.
//
// Every external event enters through one Machine method. Transitions happen under a
// mutex; hooks and asynchronous fetches are started after it is released. Async
// results carry the token of the round that started them and are dropped when the
// round has moved on.
package games

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chronodle/chronodle/internal/events"
)

// DefaultRevealDelay is how long a selection stays pending before it is revealed.
const DefaultRevealDelay = 1500 * time.Millisecond

var (
	ErrInvalidTransition = errors.New("games: invalid transition")
	ErrUnknownCard       = errors.New("games: card is not part of the current pair")
)

// PairLoader supplies the round sequence for a game.
type PairLoader interface {
	LoadPairs(ctx context.Context, eventType events.EventType) ([]events.Pair[events.EventPayload], error)
}

// PairStreamer is implemented by loaders that extend the sequence one pair at a
// time instead of finishing after the last loaded pair.
type PairStreamer interface {
	NextPair(ctx context.Context, eventType events.EventType) (events.Pair[events.EventPayload], error)
}

// DetailSource resolves full records after a selection.
type DetailSource interface {
	Details(ctx context.Context, ids []uuid.UUID) ([]events.DetailedEvent, error)
}

// ScoreStore persists the best score across games.
type ScoreStore interface {
	BestScore(ctx context.Context) (int, error)
	SetBestScore(ctx context.Context, score int) error
}

// Hooks observe transitions. They run outside the machine lock, in transition order.
type Hooks struct {
	PairShown func(ctx context.Context, ev RoundEvent)
	Clicked   func(ctx context.Context, ev RoundEvent)
	Scored    func(ctx context.Context, ev RoundEvent)
	Finished  func(ctx context.Context, s Summary)
	Changed   func(s Snapshot)
}

// merge returns hooks calling h first and then o.
func (h Hooks) merge(o Hooks) Hooks {
	return Hooks{
		PairShown: joinRound(h.PairShown, o.PairShown),
		Clicked:   joinRound(h.Clicked, o.Clicked),
		Scored:    joinRound(h.Scored, o.Scored),
		Finished: func(ctx context.Context, s Summary) {
			if h.Finished != nil {
				h.Finished(ctx, s)
			}
			if o.Finished != nil {
				o.Finished(ctx, s)
			}
		},
		Changed: func(s Snapshot) {
			if h.Changed != nil {
				h.Changed(s)
			}
			if o.Changed != nil {
				o.Changed(s)
			}
		},
	}
}

func joinRound(a, b func(context.Context, RoundEvent)) func(context.Context, RoundEvent) {
	return func(ctx context.Context, ev RoundEvent) {
		if a != nil {
			a(ctx, ev)
		}
		if b != nil {
			b(ctx, ev)
		}
	}
}

// Config wires a Machine. Loader and Details are required.
type Config struct {
	Loader      PairLoader
	Details     DetailSource
	Scores      ScoreStore
	RevealDelay time.Duration
	Clock       Clock
	Executor    Executor
	Logger      *slog.Logger
	Hooks       Hooks
	// Directive overrides the crypto coin flip.
	Directive func() Directive
}

// Machine is the round state machine shared by every mode.
type Machine struct {
	loader      PairLoader
	streamer    PairStreamer
	details     DetailSource
	scores      ScoreStore
	revealDelay time.Duration
	clock       Clock
	exec        Executor
	logger      *slog.Logger
	hooks       Hooks
	directive   func() Directive

	mu           sync.Mutex
	phase        Phase
	round        RoundState
	eventType    events.EventType
	pairs        []events.Pair[events.EventPayload]
	index        int
	outcomes     []Outcome
	roundDetails [][]events.DetailedEvent
	points       int
	scored       map[int]bool
	selected     uuid.UUID
	current      Directive
	revealed     []events.DetailedEvent
	revealDone   bool
	revealTimer  Timer
	token        uint64
	replay       bool
	err          error
}

func NewMachine(cfg Config) (*Machine, error) {
	if cfg.Loader == nil {
		return nil, errors.New("games: machine requires a pair loader")
	}
	if cfg.Details == nil {
		return nil, errors.New("games: machine requires a detail source")
	}
	m := &Machine{
		loader:      cfg.Loader,
		details:     cfg.Details,
		scores:      cfg.Scores,
		revealDelay: cfg.RevealDelay,
		clock:       cfg.Clock,
		exec:        cfg.Executor,
		logger:      cfg.Logger,
		hooks:       cfg.Hooks,
		directive:   cfg.Directive,
		phase:       PhaseLobby,
	}
	m.streamer, _ = cfg.Loader.(PairStreamer)
	if m.revealDelay <= 0 {
		m.revealDelay = DefaultRevealDelay
	}
	if m.clock == nil {
		m.clock = SystemClock
	}
	if m.exec == nil {
		m.exec = goExecutor
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.directive == nil {
		m.directive = RandomDirective
	}
	return m, nil
}

// SelectEventType starts a game: lobby to loading, then fetches the pair sequence.
func (m *Machine) SelectEventType(ctx context.Context, eventType events.EventType) error {
	m.mu.Lock()
	if m.phase != PhaseLobby {
		phase := m.phase
		m.mu.Unlock()
		return fmt.Errorf("%w: select event type while %s", ErrInvalidTransition, phase)
	}
	m.token++
	token := m.token
	m.phase = PhaseLoading
	m.eventType = eventType
	m.err = nil
	m.replay = false
	fx := []func(){m.changedLocked()}
	m.mu.Unlock()
	run(fx)

	m.exec(func() {
		pairs, err := m.loader.LoadPairs(ctx, eventType)
		m.pairsLoaded(ctx, token, pairs, err)
	})
	return nil
}

func (m *Machine) pairsLoaded(ctx context.Context, token uint64, pairs []events.Pair[events.EventPayload], err error) {
	m.mu.Lock()
	if token != m.token || m.phase != PhaseLoading {
		m.mu.Unlock()
		return
	}
	if err == nil && len(pairs) == 0 {
		err = fmt.Errorf("%w: empty pair sequence", events.ErrNotFound)
	}
	if err != nil {
		m.phase = PhaseLobby
		m.err = err
		eventType := m.eventType
		fx := []func(){m.changedLocked()}
		m.mu.Unlock()
		m.logger.Error("loading pairs failed", "event_type", eventType, "error", err)
		run(fx)
		return
	}

	m.pairs = pairs
	m.index = 0
	m.points = 0
	m.outcomes = make([]Outcome, len(pairs))
	m.roundDetails = make([][]events.DetailedEvent, len(pairs))
	m.scored = make(map[int]bool)
	m.phase = PhaseOngoing
	fx := m.startRoundLocked(ctx)
	m.mu.Unlock()
	run(fx)
}

// HandleCardClick selects id for the current round. Only the first click of a
// round counts; later clicks are ignored without error.
func (m *Machine) HandleCardClick(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	if m.phase != PhaseOngoing {
		phase := m.phase
		m.mu.Unlock()
		return fmt.Errorf("%w: click while %s", ErrInvalidTransition, phase)
	}
	if m.round != RoundAwaitingSelection {
		m.mu.Unlock()
		return nil
	}
	pair := m.pairs[m.index]
	if id != pair.First.ID && id != pair.Second.ID {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownCard, id)
	}

	m.selected = id
	m.round = RoundSelected
	m.err = nil
	token := m.token
	m.revealTimer = m.clock.AfterFunc(m.revealDelay, func() { m.revealElapsed(ctx, token) })
	ev := RoundEvent{Round: m.index, Pair: pair, Selected: id, At: m.clock.Now()}
	fx := []func(){m.changedLocked()}
	if h := m.hooks.Clicked; h != nil {
		fx = append(fx, func() { h(ctx, ev) })
	}
	m.mu.Unlock()
	run(fx)

	// Details are only requested after the selection so the years cannot leak early.
	ids := []uuid.UUID{pair.First.ID, pair.Second.ID}
	m.exec(func() {
		details, err := m.details.Details(ctx, ids)
		m.detailsLoaded(ctx, token, details, err)
	})
	return nil
}

func (m *Machine) revealElapsed(ctx context.Context, token uint64) {
	m.mu.Lock()
	if token != m.token || m.round != RoundSelected {
		m.mu.Unlock()
		return
	}
	m.revealDone = true
	m.revealTimer = nil
	fx := m.tryReadyLocked(ctx)
	m.mu.Unlock()
	run(fx)
}

func (m *Machine) detailsLoaded(ctx context.Context, token uint64, details []events.DetailedEvent, err error) {
	m.mu.Lock()
	if token != m.token || m.round != RoundSelected {
		m.mu.Unlock()
		return
	}
	pair := m.pairs[m.index]
	var ordered []events.DetailedEvent
	if err == nil {
		ordered, err = orderDetails(pair, details)
	}
	if err != nil {
		// Back to awaiting selection; the pending reveal is invalidated with the token.
		m.stopRevealLocked()
		m.token++
		m.round = RoundAwaitingSelection
		m.selected = uuid.Nil
		m.revealDone = false
		m.err = err
		index := m.index
		fx := []func(){m.changedLocked()}
		m.mu.Unlock()
		m.logger.Warn("loading details failed", "round", index, "error", err)
		run(fx)
		return
	}

	m.revealed = ordered
	fx := m.tryReadyLocked(ctx)
	m.mu.Unlock()
	run(fx)
}

// tryReadyLocked moves a selected round to ready once the reveal delay has passed
// and both details are present. The round is scored exactly once here.
func (m *Machine) tryReadyLocked(ctx context.Context) []func() {
	if m.round != RoundSelected || !m.revealDone || len(m.revealed) != 2 {
		return nil
	}
	m.round = RoundReady

	var fx []func()
	if !m.scored[m.index] {
		m.scored[m.index] = true
		correct := IsCorrectSelection(m.selected, m.revealed[0], m.revealed[1], m.current)
		if correct {
			m.outcomes[m.index] = Correct
			m.points++
		} else {
			m.outcomes[m.index] = Wrong
		}
		m.roundDetails[m.index] = m.revealed
		ev := RoundEvent{Round: m.index, Pair: m.pairs[m.index], Selected: m.selected, Correct: correct, At: m.clock.Now()}
		if h := m.hooks.Scored; h != nil {
			fx = append(fx, func() { h(ctx, ev) })
		}
	}
	return append(fx, m.changedLocked())
}

// NextPair advances from a ready round. Past the last pair the game finishes,
// unless the loader streams further pairs.
func (m *Machine) NextPair(ctx context.Context) error {
	m.mu.Lock()
	if m.phase != PhaseOngoing || m.round != RoundReady {
		phase, round := m.phase, m.round
		m.mu.Unlock()
		return fmt.Errorf("%w: next pair while %s/%s", ErrInvalidTransition, phase, round)
	}
	m.stopRevealLocked()
	m.index++

	if m.index < len(m.pairs) {
		fx := m.startRoundLocked(ctx)
		m.mu.Unlock()
		run(fx)
		return nil
	}

	if m.streamer == nil {
		fx := m.finishLocked(ctx)
		m.mu.Unlock()
		run(fx)
		return nil
	}

	m.token++
	token := m.token
	m.round = RoundAwaitingPair
	m.selected = uuid.Nil
	m.revealed = nil
	m.revealDone = false
	eventType := m.eventType
	fx := []func(){m.changedLocked()}
	m.mu.Unlock()
	run(fx)

	m.exec(func() {
		pair, err := m.streamer.NextPair(ctx, eventType)
		m.pairAppended(ctx, token, pair, err)
	})
	return nil
}

func (m *Machine) pairAppended(ctx context.Context, token uint64, pair events.Pair[events.EventPayload], err error) {
	m.mu.Lock()
	if token != m.token || m.phase != PhaseOngoing || m.round != RoundAwaitingPair {
		m.mu.Unlock()
		return
	}
	if err != nil {
		m.err = err
		fx := m.finishLocked(ctx)
		m.mu.Unlock()
		m.logger.Error("loading next pair failed", "error", err)
		run(fx)
		return
	}
	m.pairs = append(m.pairs, pair)
	m.outcomes = append(m.outcomes, Unanswered)
	m.roundDetails = append(m.roundDetails, nil)
	fx := m.startRoundLocked(ctx)
	m.mu.Unlock()
	run(fx)
}

// Finish ends an ongoing game early. Unanswered rounds are left out of the results.
func (m *Machine) Finish(ctx context.Context) error {
	m.mu.Lock()
	if m.phase != PhaseOngoing {
		phase := m.phase
		m.mu.Unlock()
		return fmt.Errorf("%w: finish while %s", ErrInvalidTransition, phase)
	}
	fx := m.finishLocked(ctx)
	m.mu.Unlock()
	run(fx)
	return nil
}

// Replay jumps from the lobby straight to a finished view of a stored result.
// No hooks besides Changed fire.
func (m *Machine) Replay(s Summary) error {
	m.mu.Lock()
	if m.phase != PhaseLobby {
		phase := m.phase
		m.mu.Unlock()
		return fmt.Errorf("%w: replay while %s", ErrInvalidTransition, phase)
	}
	m.token++
	m.phase = PhaseFinished
	m.replay = true
	m.eventType = s.EventType
	m.points = s.Score
	m.pairs = nil
	m.index = 0
	m.outcomes = make([]Outcome, len(s.Results))
	for i, ok := range s.Results {
		m.outcomes[i] = Wrong
		if ok {
			m.outcomes[i] = Correct
		}
	}
	fx := []func(){m.changedLocked()}
	m.mu.Unlock()
	run(fx)
	return nil
}

// Reset returns to the lobby from any phase and drops pending work.
func (m *Machine) Reset() {
	m.mu.Lock()
	m.stopRevealLocked()
	m.token++
	m.phase = PhaseLobby
	m.round = ""
	m.pairs = nil
	m.index = 0
	m.outcomes = nil
	m.roundDetails = nil
	m.points = 0
	m.selected = uuid.Nil
	m.revealed = nil
	m.revealDone = false
	m.replay = false
	fx := []func(){m.changedLocked()}
	m.mu.Unlock()
	run(fx)
}

func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Summary returns the result once the game is finished.
func (m *Machine) Summary() (Summary, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase != PhaseFinished {
		return Summary{}, false
	}
	return m.summaryLocked(), true
}

func (m *Machine) startRoundLocked(ctx context.Context) []func() {
	m.stopRevealLocked()
	m.token++
	m.round = RoundAwaitingSelection
	m.selected = uuid.Nil
	m.revealed = nil
	m.revealDone = false
	m.err = nil
	m.current = m.directive()

	ev := RoundEvent{Round: m.index, Pair: m.pairs[m.index], At: m.clock.Now()}
	var fx []func()
	if h := m.hooks.PairShown; h != nil {
		fx = append(fx, func() { h(ctx, ev) })
	}
	return append(fx, m.changedLocked())
}

func (m *Machine) finishLocked(ctx context.Context) []func() {
	m.stopRevealLocked()
	m.token++
	m.phase = PhaseFinished
	summary := m.summaryLocked()

	var fx []func()
	if m.scores != nil {
		fx = append(fx, func() { m.recordBestScore(ctx, summary.Score) })
	}
	if h := m.hooks.Finished; h != nil {
		fx = append(fx, func() { h(ctx, summary) })
	}
	return append(fx, m.changedLocked())
}

func (m *Machine) recordBestScore(ctx context.Context, score int) {
	prev, err := m.scores.BestScore(ctx)
	if err != nil {
		m.logger.Error("reading best score failed", "error", err)
		return
	}
	if score <= prev {
		return
	}
	if err := m.scores.SetBestScore(ctx, score); err != nil {
		m.logger.Error("saving best score failed", "error", err)
	}
}

func (m *Machine) summaryLocked() Summary {
	s := Summary{EventType: m.eventType, Score: m.points, Replay: m.replay, Results: []bool{}}
	for i, o := range m.outcomes {
		if o == Unanswered {
			continue
		}
		s.Results = append(s.Results, o == Correct)
		if i < len(m.roundDetails) {
			s.Events = append(s.Events, m.roundDetails[i]...)
		}
	}
	return s
}

func (m *Machine) snapshotLocked() Snapshot {
	s := Snapshot{
		Phase:     m.phase,
		Round:     m.round,
		EventType: m.eventType,
		Index:     m.index,
		Total:     len(m.pairs),
		Directive: m.current,
		Selected:  m.selected,
		Points:    m.points,
		Outcomes:  append([]Outcome(nil), m.outcomes...),
		Replay:    m.replay,
		Err:       m.err,
	}
	if m.phase == PhaseOngoing && m.index < len(m.pairs) {
		pair := m.pairs[m.index]
		s.Pair = &pair
	}
	if m.round == RoundReady {
		s.Details = append([]events.DetailedEvent(nil), m.revealed...)
	}
	return s
}

func (m *Machine) changedLocked() func() {
	h := m.hooks.Changed
	if h == nil {
		return nil
	}
	snap := m.snapshotLocked()
	return func() { h(snap) }
}

func (m *Machine) stopRevealLocked() {
	if m.revealTimer != nil {
		m.revealTimer.Stop()
		m.revealTimer = nil
	}
}

// orderDetails returns the details of pair in pair order.
func orderDetails(pair events.Pair[events.EventPayload], details []events.DetailedEvent) ([]events.DetailedEvent, error) {
	byID := make(map[uuid.UUID]events.DetailedEvent, len(details))
	for _, d := range details {
		byID[d.ID] = d
	}
	out := make([]events.DetailedEvent, 0, 2)
	for _, id := range []uuid.UUID{pair.First.ID, pair.Second.ID} {
		d, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: details for %s", events.ErrNotFound, id)
		}
		out = append(out, d)
	}
	return out, nil
}

func run(fx []func()) {
	for _, f := range fx {
		if f != nil {
			f()
		}
	}
}
