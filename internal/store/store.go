package store

import (
	"context"
	"fmt"
	"time"

	"github.com/chronodle/chronodle/internal/events"
)

// Store is an events.Repository backed by a SQL database.
type Store interface {
	events.Repository
	Migrate(ctx context.Context) error
	Close() error
}

// Driver names accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config selects and configures a backend.
type Config struct {
	Driver string
	DSN    string
	// StaleLockAfter lets BeginFetch take over an ongoing lock older than this.
	// Zero keeps ongoing locks until they are released.
	StaleLockAfter time.Duration
}

// Open connects to the configured backend. Migrations are not applied.
func Open(ctx context.Context, cfg Config) (Store, error) {
	opts := []Option{WithStaleLockAfter(cfg.StaleLockAfter)}
	switch cfg.Driver {
	case DriverSQLite, "":
		return NewSQLite(cfg.DSN, opts...)
	case DriverPostgres:
		return NewPostgres(ctx, cfg.DSN, opts...)
	default:
		return nil, fmt.Errorf("store: unknown driver %q", cfg.Driver)
	}
}

type options struct {
	staleAfter time.Duration
	now        func() time.Time
}

// Option tunes lock behaviour.
type Option func(*options)

func WithStaleLockAfter(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.staleAfter = d
		}
	}
}

// WithClock overrides the clock used to stamp and age locks.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// lockArgs returns the lock timestamp, the staleness window and the cutoff, all in
// unix milliseconds.
func (o options) lockArgs() (lockedAt, staleMillis, cutoff int64) {
	now := o.now()
	lockedAt = now.UnixMilli()
	staleMillis = o.staleAfter.Milliseconds()
	if staleMillis > 0 {
		cutoff = now.Add(-o.staleAfter).UnixMilli()
	}
	return lockedAt, staleMillis, cutoff
}

func nullableStatus(status events.FetchStatus) any {
	if status == events.FetchNone {
		return nil
	}
	return string(status)
}
