package cli

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronodle/chronodle/internal/api"
	"github.com/chronodle/chronodle/internal/events"
	"github.com/chronodle/chronodle/internal/localstore"
)

func runCLI(t *testing.T, in string, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetArgs(args)
	cmd.SetIn(strings.NewReader(in))
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func TestIngestTargets(t *testing.T) {
	now := time.Date(2025, 7, 20, 9, 0, 0, 0, time.UTC)

	got, err := ingestTargets(nil, false, now)
	require.NoError(t, err)
	assert.Equal(t, []events.Date{{Month: 7, Day: 20}}, got)

	got, err = ingestTargets([]string{"03-15", "2024-02-29"}, false, now)
	require.NoError(t, err)
	assert.Equal(t, []events.Date{{Month: 3, Day: 15}, {Month: 2, Day: 29}}, got)

	got, err = ingestTargets(nil, true, now)
	require.NoError(t, err)
	assert.Len(t, got, 366)
	assert.Equal(t, events.Date{Month: 12, Day: 31}, got[len(got)-1])

	_, err = ingestTargets([]string{"13-01"}, false, now)
	assert.Error(t, err)
}

type fakeWarmer struct {
	mu    sync.Mutex
	stale map[events.Date]int
	fail  map[events.Date]error
	calls map[events.Date]int
}

func (f *fakeWarmer) Warm(_ context.Context, d events.Date) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[d]++
	if err := f.fail[d]; err != nil {
		return err
	}
	if f.calls[d] <= f.stale[d] {
		return events.ErrStaleData
	}
	return nil
}

func TestIngestDatesRetriesLockedDates(t *testing.T) {
	old := ingestBackoff
	ingestBackoff = time.Millisecond
	t.Cleanup(func() { ingestBackoff = old })

	locked := events.Date{Month: 3, Day: 15}
	broken := events.Date{Month: 3, Day: 16}
	stuck := events.Date{Month: 3, Day: 17}
	w := &fakeWarmer{
		stale: map[events.Date]int{locked: 2, stuck: 100},
		fail:  map[events.Date]error{broken: errors.New("feed down")},
		calls: map[events.Date]int{},
	}
	var out bytes.Buffer
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	err := ingestDates(context.Background(), w, []events.Date{locked, broken, stuck}, &out, logger)
	require.Error(t, err)
	assert.ErrorIs(t, err, events.ErrStaleData)
	assert.Contains(t, err.Error(), "feed down")

	assert.Equal(t, 3, w.calls[locked])
	assert.Equal(t, 1, w.calls[broken], "hard errors are not retried")
	assert.Equal(t, 4, w.calls[stuck])
	assert.Contains(t, out.String(), "03-15  available")
	assert.Contains(t, out.String(), "03-16  failed")
}

func TestSettingsCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")

	out, err := runCLI(t, "", "settings", "--state", path)
	require.NoError(t, err)
	assert.Contains(t, out, "theme:       light")
	assert.Contains(t, out, "last played never")

	out, err = runCLI(t, "", "settings", "--state", path, "theme", "dark")
	require.NoError(t, err)
	assert.Contains(t, out, "theme:       dark")

	out, err = runCLI(t, "", "settings", "--state", path, "hearts", "false")
	require.NoError(t, err)
	assert.Contains(t, out, "hearts:      false")

	_, err = runCLI(t, "", "settings", "--state", path, "volume", "11")
	assert.Error(t, err)
	_, err = runCLI(t, "", "settings", "--state", path, "theme")
	assert.Error(t, err)
}

// gameService serves pairs whose first event is always the earlier one.
type gameService struct {
	pairs   []events.Pair[events.EventPayload]
	records map[uuid.UUID]events.DetailedEvent
}

func newGameService(n int) *gameService {
	s := &gameService{records: map[uuid.UUID]events.DetailedEvent{}}
	for i := 0; i < n; i++ {
		a := events.DetailedEvent{ID: uuid.New(), Year: 1700 + i, Title: "Old thing", Text: "happened"}
		b := events.DetailedEvent{ID: uuid.New(), Year: 1900 + i, Title: "New thing", Text: "happened"}
		s.records[a.ID], s.records[b.ID] = a, b
		s.pairs = append(s.pairs, events.Pair[events.EventPayload]{First: a.Payload(), Second: b.Payload()})
	}
	return s
}

func (s *gameService) Pairs(_ context.Context, _ events.Date, _ events.EventType, count int) ([]events.Pair[events.EventPayload], error) {
	return s.pairs[:min(count, len(s.pairs))], nil
}

func (s *gameService) DailyPairs(_ context.Context, _ time.Time, _ events.EventType, count int) ([]events.Pair[events.EventPayload], error) {
	return s.pairs[:min(count, len(s.pairs))], nil
}

func (s *gameService) RandomPairs(_ context.Context, _ events.EventType, count int) ([]events.Pair[events.EventPayload], error) {
	return s.pairs[:min(count, len(s.pairs))], nil
}

func (s *gameService) Details(_ context.Context, ids []uuid.UUID) ([]events.DetailedEvent, error) {
	out := make([]events.DetailedEvent, 0, len(ids))
	for _, id := range ids {
		r, ok := s.records[id]
		if !ok {
			return nil, events.ErrNotFound
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *gameService) Ping(context.Context) error { return nil }

func startAPI(t *testing.T, n int) string {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := httptest.NewServer(api.NewServer(newGameService(n), api.WithLogger(logger)).Routes())
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestPlayFreeGame(t *testing.T) {
	t.Setenv("CHRONODLE_REVEAL_DELAY", "1ms")
	url := startAPI(t, 5)
	path := filepath.Join(t.TempDir(), "state.db")

	out, err := runCLI(t, "x\n1\n\n2\n\n", "play", "--mode", "free", "--count", "2", "--api", url, "--state", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Round 1/2")
	assert.Contains(t, out, "Type 1 or 2.")
	assert.Contains(t, out, "Round 2/2")
	assert.Contains(t, out, "Old thing")
	assert.Contains(t, out, "Final score: ")
	assert.Contains(t, out, "/2")
}

func TestPlayDailyOncePerDay(t *testing.T) {
	t.Setenv("CHRONODLE_REVEAL_DELAY", "1ms")
	url := startAPI(t, 5)
	path := filepath.Join(t.TempDir(), "state.db")
	args := []string{"play", "--mode", "daily", "--count", "3", "--api", url, "--state", path}

	out, err := runCLI(t, "1\n\n1\n\n1\n\n", args...)
	require.NoError(t, err)
	assert.Contains(t, out, "Final score: ")
	assert.Contains(t, out, "Streak: 1 (best 1)")

	out, err = runCLI(t, "", args...)
	require.NoError(t, err)
	assert.Contains(t, out, "already played")
	assert.NotContains(t, out, "Round 1")

	st, err := localstore.New(path)
	require.NoError(t, err)
	defer st.Close()
	rec, err := st.DailyRecord(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Len(t, rec.Results, 3)
	streak, err := st.Streak(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, streak.Current)
}

func TestPlayQuitEndsGame(t *testing.T) {
	t.Setenv("CHRONODLE_REVEAL_DELAY", "1ms")
	url := startAPI(t, 5)
	path := filepath.Join(t.TempDir(), "state.db")

	out, err := runCLI(t, "q\n", "play", "--mode", "free", "--count", "3", "--api", url, "--state", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Final score: 0/0")
}

func TestPlayRejectsUnknownMode(t *testing.T) {
	_, err := runCLI(t, "", "play", "--mode", "zen", "--state", filepath.Join(t.TempDir(), "state.db"))
	assert.Error(t, err)
}
