package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/chronodle/chronodle/internal/events"
)

// NewIngestCommand creates the ingest command.
func NewIngestCommand(opts *RootOptions) *cobra.Command {
	var (
		dates []string
		all   bool
	)

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Fetch calendar days from the upstream feed into storage",
		Long: `Fetch calendar days from the upstream feed into storage.

Days that are already available are skipped. A day locked by another process
is retried a few times before it is reported.

Example:
  chronodle ingest --date 03-15 --date 07-20
  chronodle ingest --all`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			targets, err := ingestTargets(dates, all, time.Now())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			st, err := openStore(ctx, opts.Config)
			if err != nil {
				return err
			}
			defer st.Close()
			svc, err := newService(st, opts.Config, opts.Logger)
			if err != nil {
				return err
			}
			return ingestDates(ctx, svc, targets, cmd.OutOrStdout(), opts.Logger)
		},
	}

	cmd.Flags().StringSliceVar(&dates, "date", nil, "calendar day as MM-DD or YYYY-MM-DD (repeatable); defaults to today")
	cmd.Flags().BoolVar(&all, "all", false, "ingest every calendar day, February 29 included")
	return cmd
}

func ingestTargets(raw []string, all bool, now time.Time) ([]events.Date, error) {
	if all {
		var out []events.Date
		for month := 1; month <= 12; month++ {
			for day := 1; ; day++ {
				d, err := events.NewDate(month, day)
				if err != nil {
					break
				}
				out = append(out, d)
			}
		}
		return out, nil
	}
	if len(raw) == 0 {
		return []events.Date{events.DateOf(now)}, nil
	}
	out := make([]events.Date, 0, len(raw))
	for _, s := range raw {
		d, err := events.ParseDate(s)
		if err != nil {
			return nil, fmt.Errorf("invalid --date: %w", err)
		}
		out = append(out, d)
	}
	return out, nil
}

// ingestBackoff is the first delay before a locked date is retried.
var ingestBackoff = 500 * time.Millisecond

type warmer interface {
	Warm(ctx context.Context, date events.Date) error
}

func ingestDates(ctx context.Context, svc warmer, dates []events.Date, out io.Writer, logger *slog.Logger) error {
	var errs error
	for _, d := range dates {
		if ctx.Err() != nil {
			return multierr.Append(errs, ctx.Err())
		}
		backoff := retry.WithMaxRetries(3, retry.NewExponential(ingestBackoff))
		err := retry.Do(ctx, backoff, func(ctx context.Context) error {
			if err := svc.Warm(ctx, d); err != nil {
				if errors.Is(err, events.ErrStaleData) {
					logger.Debug("date locked, retrying", "date", d.String())
					return retry.RetryableError(err)
				}
				return err
			}
			return nil
		})
		if err != nil {
			fmt.Fprintf(out, "%s  failed: %v\n", d, err)
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", d, err))
			continue
		}
		fmt.Fprintf(out, "%s  available\n", d)
	}
	return errs
}
