package games

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/chronodle/chronodle/internal/events"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	c       *fakeClock
	at      time.Time
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	if t.stopped {
		return false
	}
	t.stopped = true
	return true
}

func newFakeClock(now time.Time) *fakeClock { return &fakeClock{now: now} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{c: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves the clock forward and fires due timers in order, including timers
// scheduled by the callbacks themselves.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	for {
		idx := -1
		for i, t := range c.timers {
			if t.stopped || t.at.After(target) {
				continue
			}
			if idx < 0 || t.at.Before(c.timers[idx].at) {
				idx = i
			}
		}
		if idx < 0 {
			break
		}
		next := c.timers[idx]
		c.timers = append(c.timers[:idx], c.timers[idx+1:]...)
		next.stopped = true
		c.now = next.at
		c.mu.Unlock()
		next.f()
		c.mu.Lock()
	}
	c.now = target
	c.mu.Unlock()
}

func inline(f func()) { f() }

// queue holds async work until drained.
type queue struct {
	mu sync.Mutex
	fs []func()
}

func (q *queue) exec(f func()) {
	q.mu.Lock()
	q.fs = append(q.fs, f)
	q.mu.Unlock()
}

func (q *queue) drain() {
	for {
		q.mu.Lock()
		if len(q.fs) == 0 {
			q.mu.Unlock()
			return
		}
		f := q.fs[0]
		q.fs = q.fs[1:]
		q.mu.Unlock()
		f()
	}
}

type fakeSource struct {
	mu        sync.Mutex
	pairs     []events.Pair[events.EventPayload]
	records   map[uuid.UUID]events.DetailedEvent
	pairErr   error
	detailErr error
	next      int
	days      []time.Time
}

// newFakeSource builds n pairs whose first event is always the earlier one.
func newFakeSource(n int) *fakeSource {
	s := &fakeSource{records: make(map[uuid.UUID]events.DetailedEvent)}
	for i := 0; i < n; i++ {
		a := events.DetailedEvent{ID: uuid.New(), Year: 1800 + i, Title: "first", EventType: events.EventTypeEvent}
		b := events.DetailedEvent{ID: uuid.New(), Year: 1950 + i, Title: "second", EventType: events.EventTypeEvent}
		s.records[a.ID] = a
		s.records[b.ID] = b
		s.pairs = append(s.pairs, events.Pair[events.EventPayload]{First: a.Payload(), Second: b.Payload()})
	}
	return s
}

func (s *fakeSource) take(count int) ([]events.Pair[events.EventPayload], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pairErr != nil {
		return nil, s.pairErr
	}
	return s.pairs[:min(count, len(s.pairs))], nil
}

func (s *fakeSource) LoadPairs(context.Context, events.EventType) ([]events.Pair[events.EventPayload], error) {
	return s.take(len(s.pairs))
}

func (s *fakeSource) Pairs(_ context.Context, _ events.Date, _ events.EventType, count int) ([]events.Pair[events.EventPayload], error) {
	return s.take(count)
}

func (s *fakeSource) DailyPairs(_ context.Context, day time.Time, _ events.EventType, count int) ([]events.Pair[events.EventPayload], error) {
	s.mu.Lock()
	s.days = append(s.days, day)
	s.mu.Unlock()
	return s.take(count)
}

func (s *fakeSource) RandomPair(context.Context, events.EventType) (events.Pair[events.EventPayload], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pairErr != nil {
		return events.Pair[events.EventPayload]{}, s.pairErr
	}
	p := s.pairs[s.next%len(s.pairs)]
	s.next++
	return p, nil
}

func (s *fakeSource) Details(_ context.Context, ids []uuid.UUID) ([]events.DetailedEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.detailErr != nil {
		return nil, s.detailErr
	}
	out := make([]events.DetailedEvent, 0, len(ids))
	for _, id := range ids {
		if r, ok := s.records[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *fakeSource) setDetailErr(err error) {
	s.mu.Lock()
	s.detailErr = err
	s.mu.Unlock()
}

type memScores struct {
	mu   sync.Mutex
	best int
	sets int
}

func (m *memScores) BestScore(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.best, nil
}

func (m *memScores) SetBestScore(_ context.Context, score int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.best = score
	m.sets++
	return nil
}

// recorder collects hook calls.
type recorder struct {
	mu        sync.Mutex
	snapshots []Snapshot
	shown     []RoundEvent
	scored    []RoundEvent
	finished  []Summary
}

func (r *recorder) hooks() Hooks {
	return Hooks{
		PairShown: func(_ context.Context, ev RoundEvent) {
			r.mu.Lock()
			r.shown = append(r.shown, ev)
			r.mu.Unlock()
		},
		Scored: func(_ context.Context, ev RoundEvent) {
			r.mu.Lock()
			r.scored = append(r.scored, ev)
			r.mu.Unlock()
		},
		Finished: func(_ context.Context, s Summary) {
			r.mu.Lock()
			r.finished = append(r.finished, s)
			r.mu.Unlock()
		},
		Changed: func(s Snapshot) {
			r.mu.Lock()
			r.snapshots = append(r.snapshots, s)
			r.mu.Unlock()
		},
	}
}

// phases returns the distinct phases entered, in order.
func (r *recorder) phases() []Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Phase
	for _, s := range r.snapshots {
		if len(out) == 0 || out[len(out)-1] != s.Phase {
			out = append(out, s.Phase)
		}
	}
	return out
}

func alwaysEarlier() Directive { return Earlier }

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

var day0 = time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC)

// answer clicks pick on the current pair and waits out the reveal delay.
func answer(t *testing.T, m *Machine, clock *fakeClock, pick func(events.Pair[events.EventPayload]) uuid.UUID) {
	t.Helper()
	snap := m.Snapshot()
	require.Equal(t, RoundAwaitingSelection, snap.Round)
	require.NotNil(t, snap.Pair)
	require.NoError(t, m.HandleCardClick(context.Background(), pick(*snap.Pair)))
	clock.Advance(DefaultRevealDelay)
	require.Equal(t, RoundReady, m.Snapshot().Round)
}

func pickFirst(p events.Pair[events.EventPayload]) uuid.UUID  { return p.First.ID }
func pickSecond(p events.Pair[events.EventPayload]) uuid.UUID { return p.Second.ID }
