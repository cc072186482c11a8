package store

import (
	"context"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronodle/chronodle/internal/events"
)

var march15 = events.Date{Month: 3, Day: 15}

func newTestStore(t *testing.T, path string, opts ...Option) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(path, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func tempDBPath(t *testing.T) string {
	return filepath.Join(t.TempDir(), "chronodle.db")
}

func record(year int, eventType events.EventType, title string) events.EventRecord {
	return events.EventRecord{
		ID:        uuid.New(),
		Day:       15,
		Month:     3,
		Year:      year,
		EventType: eventType,
		Title:     title,
		Text:      "text for " + title,
		Extract:   "extract for " + title,
		Thumbnail: &events.Image{Source: "https://img.example/" + title, Width: 320, Height: 240},
		ContentURLs: events.ContentURLs{
			Desktop: "https://en.wikipedia.org/wiki/" + title,
			Mobile:  "https://en.m.wikipedia.org/wiki/" + title,
		},
		WikiMetadata: events.WikiMetadata{ExternalItemID: "Q" + title, ExternalPageID: int64(year)},
	}
}

func TestMigrationIdempotency(t *testing.T) {
	s := newTestStore(t, tempDBPath(t))
	ctx := context.Background()

	require.NoError(t, s.Migrate(ctx))
	require.NoError(t, s.Migrate(ctx))

	require.NoError(t, s.InsertEvents(ctx, []events.EventRecord{record(1900, events.EventTypeEvent, "A")}))
	rows, err := s.ListByDate(ctx, march15)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestGetMetadataNotFound(t *testing.T) {
	s := newTestStore(t, ":memory:")
	_, err := s.GetMetadata(context.Background(), march15)
	assert.ErrorIs(t, err, events.ErrNotFound)
}

func TestBeginFetchTransitions(t *testing.T) {
	s := newTestStore(t, ":memory:")
	ctx := context.Background()

	ok, err := s.BeginFetch(ctx, march15)
	require.NoError(t, err)
	assert.True(t, ok, "missing row is claimed")

	md, err := s.GetMetadata(ctx, march15)
	require.NoError(t, err)
	assert.Equal(t, events.FetchOngoing, md.Fetching)
	assert.Equal(t, "03-15", md.DateString)
	assert.Zero(t, md.LastAPIUpdate)

	ok, err = s.BeginFetch(ctx, march15)
	require.NoError(t, err)
	assert.False(t, ok, "ongoing row is not claimed twice")

	for _, status := range []events.FetchStatus{events.FetchAvailable, events.FetchNotAvailable, events.FetchNone} {
		require.NoError(t, s.EndFetch(ctx, march15, status))
		md, err := s.GetMetadata(ctx, march15)
		require.NoError(t, err)
		assert.Equal(t, status, md.Fetching)

		ok, err := s.BeginFetch(ctx, march15)
		require.NoError(t, err)
		assert.True(t, ok, "released as %q", status)
	}
}

func TestBeginFetchMutualExclusion(t *testing.T) {
	path := tempDBPath(t)
	newTestStore(t, path)

	const contenders = 8
	stores := make([]*SQLiteStore, contenders)
	for i := range stores {
		s, err := NewSQLite(path)
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		stores[i] = s
	}

	for round := 0; round < 5; round++ {
		var (
			wg    sync.WaitGroup
			start = make(chan struct{})
			won   = make([]bool, contenders)
			errs  = make([]error, contenders)
		)
		for i, s := range stores {
			wg.Add(1)
			go func(i int, s *SQLiteStore) {
				defer wg.Done()
				<-start
				won[i], errs[i] = s.BeginFetch(context.Background(), march15)
			}(i, s)
		}
		close(start)
		wg.Wait()

		winners := 0
		for i := range won {
			require.NoError(t, errs[i])
			if won[i] {
				winners++
			}
		}
		assert.Equal(t, 1, winners, "round %d", round)
		require.NoError(t, stores[0].EndFetch(context.Background(), march15, events.FetchNotAvailable))
	}
}

func TestStaleLockReclaim(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	clock := func() time.Time { return now }
	path := tempDBPath(t)

	holder := newTestStore(t, path, WithClock(clock))
	ok, err := holder.BeginFetch(context.Background(), march15)
	require.NoError(t, err)
	require.True(t, ok)

	never, err := NewSQLite(path, WithClock(clock))
	require.NoError(t, err)
	t.Cleanup(func() { never.Close() })
	reclaimer, err := NewSQLite(path, WithClock(clock), WithStaleLockAfter(time.Minute))
	require.NoError(t, err)
	t.Cleanup(func() { reclaimer.Close() })

	now = now.Add(30 * time.Second)
	ok, err = reclaimer.BeginFetch(context.Background(), march15)
	require.NoError(t, err)
	assert.False(t, ok, "lock is still fresh")

	now = now.Add(2 * time.Minute)
	ok, err = never.BeginFetch(context.Background(), march15)
	require.NoError(t, err)
	assert.False(t, ok, "reclaim is disabled without a staleness window")

	ok, err = reclaimer.BeginFetch(context.Background(), march15)
	require.NoError(t, err)
	assert.True(t, ok, "stale lock is reclaimed")

	ok, err = reclaimer.BeginFetch(context.Background(), march15)
	require.NoError(t, err)
	assert.False(t, ok, "reclaim refreshes locked_at")
}

func TestMarkUpdated(t *testing.T) {
	s := newTestStore(t, ":memory:")
	ctx := context.Background()
	_, err := s.BeginFetch(ctx, march15)
	require.NoError(t, err)

	at := time.UnixMilli(1_712_345_678_000)
	require.NoError(t, s.MarkUpdated(ctx, march15, at))
	md, err := s.GetMetadata(ctx, march15)
	require.NoError(t, err)
	assert.Equal(t, at.UnixMilli(), md.LastAPIUpdate)
}

func TestInsertAndRead(t *testing.T) {
	s := newTestStore(t, ":memory:")
	ctx := context.Background()

	recs := []events.EventRecord{
		record(1900, events.EventTypeEvent, "A"),
		record(1910, events.EventTypeEvent, "B"),
		record(1920, events.EventTypeEvent, "C"),
		record(1850, events.EventTypeBirth, "D"),
	}
	recs[1].Thumbnail = nil
	recs[2].OriginalImage = &events.Image{Source: "https://img.example/C-full", Width: 2000, Height: 1500}
	require.NoError(t, s.InsertEvents(ctx, recs))
	require.NoError(t, s.InsertEvents(ctx, nil))

	all, err := s.ListByDate(ctx, march15)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	pool, err := s.ListPool(ctx, march15, events.EventTypeEvent)
	require.NoError(t, err)
	require.Len(t, pool, 3)
	assert.True(t, sort.SliceIsSorted(pool, func(i, j int) bool { return pool[i].ID.String() < pool[j].ID.String() }))

	got, err := s.GetByIDs(ctx, []uuid.UUID{recs[2].ID, recs[1].ID, uuid.New()})
	require.NoError(t, err)
	require.Len(t, got, 2)
	byID := map[uuid.UUID]events.EventRecord{got[0].ID: got[0], got[1].ID: got[1]}
	assert.Equal(t, recs[2], byID[recs[2].ID])
	assert.Equal(t, recs[1], byID[recs[1].ID])
	assert.Nil(t, byID[recs[1].ID].Thumbnail)
}

func TestInsertEventsIsAtomic(t *testing.T) {
	s := newTestStore(t, ":memory:")
	ctx := context.Background()

	dup := record(1900, events.EventTypeEvent, "A")
	err := s.InsertEvents(ctx, []events.EventRecord{record(1901, events.EventTypeEvent, "B"), dup, dup})
	require.Error(t, err)

	rows, err := s.ListByDate(ctx, march15)
	require.NoError(t, err)
	assert.Empty(t, rows, "failed batch leaves nothing behind")
}

func TestRandomCluster(t *testing.T) {
	s := newTestStore(t, ":memory:")
	ctx := context.Background()

	var recs []events.EventRecord
	for i := 0; i < 10; i++ {
		recs = append(recs, record(1000+i*100, events.EventTypeEvent, string(rune('A'+i))))
	}
	recs = append(recs, record(1950, events.EventTypeDeath, "Z"))
	require.NoError(t, s.InsertEvents(ctx, recs))

	rows, err := s.RandomCluster(ctx, events.ClusterQuery{Date: march15, EventType: events.EventTypeEvent, Count: 4})
	require.NoError(t, err)
	assert.Len(t, rows, 4)
	for _, r := range rows {
		assert.Equal(t, events.EventTypeEvent, r.EventType)
	}

	rows, err = s.RandomCluster(ctx, events.ClusterQuery{Date: march15, EventType: events.EventTypeEvent, Count: 20})
	require.NoError(t, err)
	assert.Len(t, rows, 10, "count is capped by the rows available")

	for i := 0; i < 10; i++ {
		rows, err = s.RandomCluster(ctx, events.ClusterQuery{Date: march15, EventType: events.EventTypeEvent, Count: 10, Radius: 150})
		require.NoError(t, err)
		require.NotEmpty(t, rows)
		minYear, maxYear := rows[0].Year, rows[0].Year
		for _, r := range rows {
			minYear = min(minYear, r.Year)
			maxYear = max(maxYear, r.Year)
		}
		assert.LessOrEqual(t, maxYear-minYear, 300)
		assert.LessOrEqual(t, len(rows), 3)
	}

	rows, err = s.RandomCluster(ctx, events.ClusterQuery{Date: events.Date{Month: 1, Day: 1}, EventType: events.EventTypeEvent, Count: 4})
	require.NoError(t, err)
	assert.Empty(t, rows)
}
