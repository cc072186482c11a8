package games

import (
	"time"

	"github.com/google/uuid"

	"github.com/chronodle/chronodle/internal/events"
)

// Phase is the top level game state.
type Phase string

const (
	PhaseLobby    Phase = "lobby"
	PhaseLoading  Phase = "loading"
	PhaseOngoing  Phase = "ongoing"
	PhaseFinished Phase = "finished"
)

// RoundState is the sub-state of the current round while ongoing.
type RoundState string

const (
	RoundAwaitingPair      RoundState = "awaiting_pair"
	RoundAwaitingSelection RoundState = "awaiting_selection"
	RoundSelected          RoundState = "selected"
	RoundReady             RoundState = "ready"
)

// Outcome is the per-round result.
type Outcome int

const (
	Unanswered Outcome = iota
	Correct
	Wrong
)

func (o Outcome) String() string {
	switch o {
	case Correct:
		return "correct"
	case Wrong:
		return "wrong"
	default:
		return "unanswered"
	}
}

// Snapshot is a consistent copy of the machine state.
type Snapshot struct {
	Phase     Phase
	Round     RoundState
	EventType events.EventType
	Index     int
	Total     int
	Pair      *events.Pair[events.EventPayload]
	Directive Directive
	Selected  uuid.UUID
	Details   []events.DetailedEvent
	Points    int
	Outcomes  []Outcome
	Replay    bool
	Err       error
}

// RoundEvent describes something that happened in one round.
type RoundEvent struct {
	Round    int
	Pair     events.Pair[events.EventPayload]
	Selected uuid.UUID
	Correct  bool
	At       time.Time
}

// Summary is the result of a finished game. Results and Events only cover
// answered rounds.
type Summary struct {
	EventType events.EventType
	Score     int
	Results   []bool
	Events    []events.DetailedEvent
	Replay    bool
}

// DailyGameRecord is the stored result of one calendar day. It is never overwritten.
type DailyGameRecord struct {
	Date       int                    `json:"date"`
	Month      int                    `json:"month"`
	Year       int                    `json:"year"`
	Streak     int                    `json:"streak"`
	BestStreak int                    `json:"bestStreak"`
	Results    []bool                 `json:"results"`
	Score      int                    `json:"score"`
	Timestamp  int64                  `json:"timestamp"`
	Events     []events.DetailedEvent `json:"events,omitempty"`
}

// StreakData is the persisted consecutive-day counter.
type StreakData struct {
	Current    int    `json:"currentStreak"`
	Best       int    `json:"bestStreak"`
	LastPlayed string `json:"lastPlayed"`
}
