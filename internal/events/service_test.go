package events

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronodle/chronodle/internal/engine"
	"github.com/chronodle/chronodle/internal/wiki"
)

// memRepo is an in-memory Repository. BeginFetch mirrors the conditional upsert.
type memRepo struct {
	mu        sync.Mutex
	meta      map[Date]DateMetadata
	rows      []EventRecord
	insertErr error
	metaErr   error
	inserts   int
}

func newMemRepo() *memRepo {
	return &memRepo{meta: make(map[Date]DateMetadata)}
}

func (m *memRepo) GetMetadata(_ context.Context, date Date) (DateMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.metaErr != nil {
		return DateMetadata{}, m.metaErr
	}
	md, ok := m.meta[date]
	if !ok {
		return DateMetadata{}, ErrNotFound
	}
	return md, nil
}

func (m *memRepo) BeginFetch(_ context.Context, date Date) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	md, ok := m.meta[date]
	if ok && md.Fetching == FetchOngoing {
		return false, nil
	}
	if !ok {
		md = DateMetadata{Month: date.Month, Day: date.Day, DateString: date.String()}
	}
	md.Fetching = FetchOngoing
	m.meta[date] = md
	return true, nil
}

func (m *memRepo) EndFetch(_ context.Context, date Date, status FetchStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	md := m.meta[date]
	md.Fetching = status
	m.meta[date] = md
	return nil
}

func (m *memRepo) MarkUpdated(_ context.Context, date Date, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	md := m.meta[date]
	md.LastAPIUpdate = at.UnixMilli()
	m.meta[date] = md
	return nil
}

func (m *memRepo) ListByDate(_ context.Context, date Date) ([]EventRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []EventRecord
	for _, r := range m.rows {
		if r.Month == date.Month && r.Day == date.Day {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memRepo) InsertEvents(_ context.Context, records []EventRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	m.inserts += len(records)
	m.rows = append(m.rows, records...)
	return nil
}

func (m *memRepo) RandomCluster(ctx context.Context, q ClusterQuery) ([]EventRecord, error) {
	pool, _ := m.ListPool(ctx, q.Date, q.EventType)
	rand.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
	if len(pool) > q.Count {
		pool = pool[:q.Count]
	}
	return pool, nil
}

func (m *memRepo) ListPool(ctx context.Context, date Date, eventType EventType) ([]EventRecord, error) {
	all, _ := m.ListByDate(ctx, date)
	var out []EventRecord
	for _, r := range all {
		if r.EventType == eventType {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (m *memRepo) GetByIDs(_ context.Context, ids []uuid.UUID) ([]EventRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[uuid.UUID]bool)
	for _, id := range ids {
		want[id] = true
	}
	var out []EventRecord
	for _, r := range m.rows {
		if want[r.ID] {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memRepo) Ping(context.Context) error { return nil }

func (m *memRepo) status(date Date) FetchStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.meta[date].Fetching
}

type stubFeed struct {
	mu    sync.Mutex
	feed  *wiki.Feed
	err   error
	calls int
}

func (f *stubFeed) OnThisDay(context.Context, int, int) (*wiki.Feed, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.feed, f.err
}

func richFeed() *wiki.Feed {
	var entries []wiki.Entry
	for i := 0; i < 12; i++ {
		title := string(rune('A'+i)) + "_page"
		entries = append(entries, wiki.Entry{
			Text:  "event " + title,
			Year:  1800 + i*10,
			Pages: []wiki.Page{page(title, "https://en.wikipedia.org/wiki/"+title, true, false, "x")},
		})
	}
	return &wiki.Feed{Events: entries, Births: entries[:3], Deaths: nil}
}

var testDate = Date{Month: 3, Day: 15}

func newTestService(t *testing.T, repo *memRepo, feed *stubFeed) *Service {
	t.Helper()
	svc, err := NewService(repo, feed, WithClock(func() time.Time { return time.UnixMilli(1_700_000_000_000) }))
	require.NoError(t, err)
	return svc
}

func TestPairsIngestsMissingDate(t *testing.T) {
	repo := newMemRepo()
	feed := &stubFeed{feed: richFeed()}
	svc := newTestService(t, repo, feed)

	pairs, err := svc.Pairs(context.Background(), testDate, EventTypeEvent, 5)
	require.NoError(t, err)
	assert.Len(t, pairs, 5)
	assert.Equal(t, 1, feed.calls)
	assert.Equal(t, FetchAvailable, repo.status(testDate))
	assert.Equal(t, int64(1_700_000_000_000), repo.meta[testDate].LastAPIUpdate)
	assert.Equal(t, 15, repo.inserts)

	for _, p := range pairs {
		assert.NotEqual(t, p.First.ID, p.Second.ID)
	}
}

func TestPairsServesAvailableDateFromStorage(t *testing.T) {
	repo := newMemRepo()
	feed := &stubFeed{feed: richFeed()}
	svc := newTestService(t, repo, feed)

	require.NoError(t, svc.Warm(context.Background(), testDate))
	_, err := svc.Pairs(context.Background(), testDate, EventTypeEvent, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, feed.calls, "available dates must not hit the feed again")
}

func TestPairsFailsFastWhileOngoing(t *testing.T) {
	repo := newMemRepo()
	repo.meta[testDate] = DateMetadata{Month: 3, Day: 15, Fetching: FetchOngoing}
	feed := &stubFeed{feed: richFeed()}
	svc := newTestService(t, repo, feed)

	_, err := svc.Pairs(context.Background(), testDate, EventTypeEvent, 3)
	assert.ErrorIs(t, err, ErrStaleData)
	assert.Equal(t, 0, feed.calls)
}

func TestPairsRetriesNotAvailableDate(t *testing.T) {
	repo := newMemRepo()
	repo.meta[testDate] = DateMetadata{Month: 3, Day: 15, Fetching: FetchNotAvailable}
	feed := &stubFeed{feed: richFeed()}
	svc := newTestService(t, repo, feed)

	_, err := svc.Pairs(context.Background(), testDate, EventTypeEvent, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, feed.calls)
	assert.Equal(t, FetchAvailable, repo.status(testDate))
}

func TestIngestionReleasesLockOnFailure(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*memRepo, *stubFeed)
	}{
		{"feed error", func(_ *memRepo, f *stubFeed) { f.err = errors.New("upstream down") }},
		{"malformed feed", func(_ *memRepo, f *stubFeed) { f.feed = nil }},
		{"storage error", func(r *memRepo, _ *stubFeed) { r.insertErr = errors.New("disk full") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMemRepo()
			feed := &stubFeed{feed: richFeed()}
			tt.setup(repo, feed)
			svc := newTestService(t, repo, feed)

			_, err := svc.Pairs(context.Background(), testDate, EventTypeEvent, 3)
			require.Error(t, err)
			assert.NotErrorIs(t, err, ErrStaleData)
			assert.Equal(t, FetchNotAvailable, repo.status(testDate))
		})
	}
}

func TestReingestionIsIdempotent(t *testing.T) {
	repo := newMemRepo()
	feed := &stubFeed{feed: richFeed()}
	svc := newTestService(t, repo, feed)

	require.NoError(t, svc.Warm(context.Background(), testDate))
	first := repo.inserts

	require.NoError(t, repo.EndFetch(context.Background(), testDate, FetchNotAvailable))
	require.NoError(t, svc.Warm(context.Background(), testDate))
	assert.Equal(t, first, repo.inserts)
	assert.Equal(t, 2, feed.calls)
}

func TestConcurrentIngestionRunsOnce(t *testing.T) {
	repo := newMemRepo()
	feed := &stubFeed{feed: richFeed()}
	svc := newTestService(t, repo, feed)

	// Hold the lock as another instance would.
	ok, err := repo.BeginFetch(context.Background(), testDate)
	require.NoError(t, err)
	require.True(t, ok)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Pairs(context.Background(), testDate, EventTypeEvent, 2)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.ErrorIs(t, err, ErrStaleData)
	}
	assert.Equal(t, 0, feed.calls)
}

func TestMetadataStorageErrorPropagates(t *testing.T) {
	repo := newMemRepo()
	boom := errors.New("connection reset")
	repo.metaErr = boom
	svc := newTestService(t, repo, &stubFeed{feed: richFeed()})

	_, err := svc.Pairs(context.Background(), testDate, EventTypeEvent, 2)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestPairsNotFoundForEmptyCategory(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(t, repo, &stubFeed{feed: richFeed()})

	_, err := svc.Pairs(context.Background(), testDate, EventTypeDeath, 2)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPairsNotFoundForShortCategory(t *testing.T) {
	tests := []struct {
		name    string
		count   int
		wantErr error
	}{
		{"fits", 1, nil},
		{"one row short", 2, ErrNotFound},
		{"far short", 10, ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(t, newMemRepo(), &stubFeed{feed: richFeed()})
			pairs, err := svc.Pairs(context.Background(), testDate, EventTypeBirth, tt.count)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, pairs)
				return
			}
			require.NoError(t, err)
			assert.Len(t, pairs, tt.count)
		})
	}
}

func TestPairsRejectsNonPositiveCount(t *testing.T) {
	svc := newTestService(t, newMemRepo(), &stubFeed{feed: richFeed()})
	_, err := svc.Pairs(context.Background(), testDate, EventTypeEvent, 0)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "count")
}

func TestDailyPairsAreDeterministic(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(t, repo, &stubFeed{feed: richFeed()})
	day := time.Date(2025, 3, 15, 9, 0, 0, 0, time.UTC)

	first, err := svc.DailyPairs(context.Background(), day, EventTypeEvent, 4)
	require.NoError(t, err)
	second, err := svc.DailyPairs(context.Background(), day.Add(10*time.Hour), EventTypeEvent, 4)
	require.NoError(t, err)

	require.Len(t, first, 4)
	assert.Equal(t, first, second)
}

func TestDailyPairsRequiresFullPool(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(t, repo, &stubFeed{feed: richFeed()})
	day := time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC)

	_, err := svc.DailyPairs(context.Background(), day, EventTypeBirth, 10)
	assert.ErrorIs(t, err, ErrNotFound, "three births cannot fill ten pairs")

	_, err = svc.DailyPairs(context.Background(), day, EventTypeBirth, 2)
	assert.ErrorIs(t, err, ErrNotFound, "three births cannot fill two pairs")

	pairs, err := svc.DailyPairs(context.Background(), day, EventTypeBirth, 1)
	require.NoError(t, err)
	assert.Len(t, pairs, 1)
}

func TestDailySeedPerCategory(t *testing.T) {
	morning := time.Date(2025, 3, 15, 1, 0, 0, 0, time.UTC)
	evening := time.Date(2025, 3, 15, 23, 0, 0, 0, time.UTC)

	assert.Equal(t, dailySeed(morning, EventTypeEvent), dailySeed(evening, EventTypeEvent))
	assert.Equal(t, engine.SeedFromDate("2025-03-15:event"), dailySeed(morning, EventTypeEvent))
	assert.NotEqual(t, dailySeed(morning, EventTypeEvent), dailySeed(morning, EventTypeBirth))
	assert.NotEqual(t, dailySeed(morning, EventTypeEvent), dailySeed(morning.AddDate(0, 0, 1), EventTypeEvent))
}

func TestDetailsRequiresEveryID(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(t, repo, &stubFeed{feed: richFeed()})
	pairs, err := svc.Pairs(context.Background(), testDate, EventTypeEvent, 1)
	require.NoError(t, err)

	ids := []uuid.UUID{pairs[0].First.ID, pairs[0].Second.ID}
	details, err := svc.Details(context.Background(), ids)
	require.NoError(t, err)
	require.Len(t, details, 2)
	assert.Equal(t, ids[0], details[0].ID)
	assert.NotZero(t, details[0].Year)

	_, err = svc.Details(context.Background(), append(ids, uuid.New()))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRandomPairs(t *testing.T) {
	repo := newMemRepo()
	feed := &stubFeed{feed: richFeed()}
	svc := newTestService(t, repo, feed)

	pairs, err := svc.RandomPairs(context.Background(), EventTypeEvent, 1)
	require.NoError(t, err)
	assert.Len(t, pairs, 1)
	assert.Equal(t, 1, feed.calls)
}
