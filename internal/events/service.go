package events

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/chronodle/chronodle/internal/engine"
	"github.com/chronodle/chronodle/internal/wiki"
)

// Repository is the storage surface the service needs. Implementations must back
// BeginFetch with a row-level conditional write so that it is safe across processes.
type Repository interface {
	// GetMetadata returns ErrNotFound when no row exists for the date.
	GetMetadata(ctx context.Context, date Date) (DateMetadata, error)
	// BeginFetch marks the date as ongoing and reports whether this caller won the lock.
	BeginFetch(ctx context.Context, date Date) (bool, error)
	// EndFetch releases the lock unconditionally.
	EndFetch(ctx context.Context, date Date, status FetchStatus) error
	MarkUpdated(ctx context.Context, date Date, at time.Time) error
	ListByDate(ctx context.Context, date Date) ([]EventRecord, error)
	InsertEvents(ctx context.Context, records []EventRecord) error
	RandomCluster(ctx context.Context, q ClusterQuery) ([]EventRecord, error)
	// ListPool returns every record for date and type ordered by id.
	ListPool(ctx context.Context, date Date, eventType EventType) ([]EventRecord, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]EventRecord, error)
	Ping(ctx context.Context) error
}

// ClusterQuery selects a random sample for one date and category.
type ClusterQuery struct {
	Date      Date
	EventType EventType
	Count     int
	// Radius, when positive, keeps rows within Radius years of a random pivot row.
	Radius int
}

// FeedSource fetches the raw upstream feed.
type FeedSource interface {
	OnThisDay(ctx context.Context, month, day int) (*wiki.Feed, error)
}

// Observer receives ingestion outcomes, typically for metrics.
type Observer interface {
	LockContended(date Date)
	IngestionFinished(date Date, inserted int, err error)
}

type nopObserver struct{}

func (nopObserver) LockContended(Date)                 {}
func (nopObserver) IngestionFinished(Date, int, error) {}

// Service serves pairs and details, refilling dates from the feed on demand.
type Service struct {
	repo     Repository
	feed     FeedSource
	logger   *slog.Logger
	observer Observer
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithObserver(o Observer) Option {
	return func(s *Service) {
		if o != nil {
			s.observer = o
		}
	}
}

// WithClock overrides the wall clock used for last_api_update.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService wires the service. repo and feed are required.
func NewService(repo Repository, feed FeedSource, opts ...Option) (*Service, error) {
	if repo == nil {
		return nil, errors.New("events: service requires a repository")
	}
	if feed == nil {
		return nil, errors.New("events: service requires a feed source")
	}
	s := &Service{
		repo:     repo,
		feed:     feed,
		logger:   slog.Default(),
		observer: nopObserver{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Pairs returns count random pairs for date and category. A category holding
// fewer than count*2 events is reported as ErrNotFound.
func (s *Service) Pairs(ctx context.Context, date Date, eventType EventType, count int) ([]Pair[EventPayload], error) {
	return s.PairsNear(ctx, date, eventType, count, 0)
}

// PairsNear is Pairs restricted to events within radius years of each other.
// A radius of zero disables the restriction.
func (s *Service) PairsNear(ctx context.Context, date Date, eventType EventType, count, radius int) ([]Pair[EventPayload], error) {
	if count <= 0 {
		return nil, NewValidationError("count", "must be positive")
	}
	if err := s.ensureAvailable(ctx, date); err != nil {
		return nil, err
	}
	cluster, err := s.readCluster(ctx, ClusterQuery{Date: date, EventType: eventType, Count: count * 2, Radius: radius})
	if err != nil {
		return nil, err
	}
	return PairUp(payloads(cluster)), nil
}

// DailyPairs returns the pairs every player sees for day. The pool for the
// calendar date is ordered by id and shuffled with a seed derived from day.
func (s *Service) DailyPairs(ctx context.Context, day time.Time, eventType EventType, count int) ([]Pair[EventPayload], error) {
	if count <= 0 {
		return nil, NewValidationError("count", "must be positive")
	}
	date := DateOf(day)
	if err := s.ensureAvailable(ctx, date); err != nil {
		return nil, err
	}
	pool, err := s.repo.ListPool(ctx, date, eventType)
	if err != nil {
		return nil, fmt.Errorf("list pool for %s: %w", date, err)
	}
	want := count * 2
	if len(pool) < want {
		return nil, fmt.Errorf("%w: %s %s has %d of %d rows", ErrNotFound, date, eventType, len(pool), want)
	}
	indices, err := engine.GenerateDistinctIndices(dailySeed(day, eventType), 0, len(pool)-1, want)
	if err != nil {
		return nil, fmt.Errorf("daily shuffle: %w", err)
	}

	picked := make([]EventPayload, 0, len(indices))
	for _, idx := range indices {
		picked = append(picked, pool[idx].Payload())
	}
	return PairUp(picked), nil
}

// RandomPairs picks a random calendar date and returns count pairs from it.
func (s *Service) RandomPairs(ctx context.Context, eventType EventType, count int) ([]Pair[EventPayload], error) {
	date, err := randomDate()
	if err != nil {
		return nil, err
	}
	return s.Pairs(ctx, date, eventType, count)
}

// Details resolves full records. Every id must exist.
func (s *Service) Details(ctx context.Context, ids []uuid.UUID) ([]DetailedEvent, error) {
	if len(ids) == 0 {
		return nil, NewValidationError("ids", "at least one id is required")
	}
	records, err := s.repo.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load details: %w", err)
	}
	byID := make(map[uuid.UUID]EventRecord, len(records))
	for _, r := range records {
		byID[r.ID] = r
	}
	out := make([]DetailedEvent, 0, len(ids))
	for _, id := range ids {
		r, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: event %s", ErrNotFound, id)
		}
		out = append(out, r)
	}
	return out, nil
}

// Warm makes sure date is ingested without reading a cluster.
func (s *Service) Warm(ctx context.Context, date Date) error {
	return s.ensureAvailable(ctx, date)
}

// Ping checks the storage connection.
func (s *Service) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

// ensureAvailable applies the metadata decision table.
func (s *Service) ensureAvailable(ctx context.Context, date Date) error {
	meta, err := s.repo.GetMetadata(ctx, date)
	switch {
	case errors.Is(err, ErrNotFound):
		return s.fetchAndStore(ctx, date)
	case err != nil:
		return fmt.Errorf("read metadata for %s: %w", date, err)
	}

	switch meta.Fetching {
	case FetchAvailable:
		return nil
	case FetchOngoing:
		return fmt.Errorf("%w: %s", ErrStaleData, date)
	default:
		return s.fetchAndStore(ctx, date)
	}
}

// fetchAndStore ingests date under the metadata lock. The lock is released on
// every path once acquired.
func (s *Service) fetchAndStore(ctx context.Context, date Date) (err error) {
	acquired, err := s.repo.BeginFetch(ctx, date)
	if err != nil {
		return fmt.Errorf("acquire fetch lock for %s: %w", date, err)
	}
	if !acquired {
		s.observer.LockContended(date)
		s.logger.Info("fetch lock held elsewhere", "date", date.String())
		return fmt.Errorf("%w: %s", ErrStaleData, date)
	}

	inserted := 0
	defer func() {
		status := FetchAvailable
		if err != nil {
			status = FetchNotAvailable
		}
		// The release must outlive a cancelled request.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if releaseErr := s.repo.EndFetch(releaseCtx, date, status); releaseErr != nil {
			err = multierr.Append(err, fmt.Errorf("release fetch lock for %s: %w", date, releaseErr))
		}
		s.observer.IngestionFinished(date, inserted, err)
		if err != nil {
			s.logger.Error("ingestion failed", "date", date.String(), "error", err)
		} else {
			s.logger.Info("ingestion finished", "date", date.String(), "inserted", inserted)
		}
	}()

	feed, err := s.feed.OnThisDay(ctx, date.Month, date.Day)
	if err != nil {
		return fmt.Errorf("fetch feed for %s: %w", date, err)
	}
	if feed == nil {
		return fmt.Errorf("fetch feed for %s: %w", date, wiki.ErrMalformedFeed)
	}

	var candidates []EventRecord
	transformed := TransformFeed(feed, date)
	for _, t := range AllEventTypes {
		candidates = append(candidates, transformed[t]...)
	}

	stored, err := s.repo.ListByDate(ctx, date)
	if err != nil {
		return fmt.Errorf("list stored events for %s: %w", date, err)
	}
	fresh := NewRecords(stored, candidates)
	if len(fresh) > 0 {
		if err := s.repo.InsertEvents(ctx, fresh); err != nil {
			return fmt.Errorf("insert events for %s: %w", date, err)
		}
	}
	inserted = len(fresh)

	if err := s.repo.MarkUpdated(ctx, date, s.now()); err != nil {
		return fmt.Errorf("mark %s updated: %w", date, err)
	}
	return nil
}

// dailySeed keys the daily shuffle by calendar day and category, so each
// category has its own puzzle.
func dailySeed(day time.Time, eventType EventType) uint32 {
	return engine.SeedFromDate(day.Format("2006-01-02") + ":" + string(eventType))
}

func (s *Service) readCluster(ctx context.Context, q ClusterQuery) ([]EventRecord, error) {
	rows, err := s.repo.RandomCluster(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("read cluster for %s: %w", q.Date, err)
	}
	if len(rows) == 0 || len(rows) < q.Count {
		return nil, fmt.Errorf("%w: %s %s has %d of %d rows", ErrNotFound, q.Date, q.EventType, len(rows), q.Count)
	}
	return rows, nil
}

func payloads(records []EventRecord) []EventPayload {
	out := make([]EventPayload, len(records))
	for i, r := range records {
		out[i] = r.Payload()
	}
	return out
}

func randomDate() (Date, error) {
	// 2000 is a leap year so Feb 29 is reachable.
	n, err := rand.Int(rand.Reader, big.NewInt(366))
	if err != nil {
		return Date{}, fmt.Errorf("random date: %w", err)
	}
	t := time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, int(n.Int64()))
	return DateOf(t), nil
}
