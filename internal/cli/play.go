package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/chronodle/chronodle/internal/apiclient"
	"github.com/chronodle/chronodle/internal/config"
	"github.com/chronodle/chronodle/internal/events"
	"github.com/chronodle/chronodle/internal/games"
	"github.com/chronodle/chronodle/internal/localstore"
)

// PlayOptions holds flags for the play command.
type PlayOptions struct {
	*RootOptions
	Mode      string
	EventType string
	Count     int
	APIURL    string
	StatePath string
}

// NewPlayCommand creates the play command.
func NewPlayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PlayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "play",
		Short: "Play a game in the terminal",
		Long: `Play a game in the terminal against a running chronodle API.

Modes:
  daily  the shared puzzle of the day, once per day
  free   random pairs from today's calendar day
  timed  as many pairs as possible before the countdown ends

Pick a card with 1 or 2, press enter to continue, q to quit.

Example:
  chronodle play --mode daily --type event
  chronodle play --mode timed --type birth --api http://localhost:8080`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runPlay(ctx, opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.Mode, "mode", "daily", "game mode (daily|free|timed)")
	cmd.Flags().StringVar(&opts.EventType, "type", string(events.EventTypeEvent), "event type (event|birth|death)")
	cmd.Flags().IntVar(&opts.Count, "count", 0, "number of pairs for daily and free games")
	cmd.Flags().StringVar(&opts.APIURL, "api", "", "API base URL, overrides CHRONODLE_API_URL")
	cmd.Flags().StringVar(&opts.StatePath, "state", "", "local state file, overrides CHRONODLE_STATE_PATH")
	return cmd
}

// game is what the three modes have in common.
type game interface {
	Start(ctx context.Context, eventType events.EventType) error
	Machine() *games.Machine
}

func runPlay(ctx context.Context, opts *PlayOptions, in io.Reader, out io.Writer) error {
	eventType, err := events.ParseEventType(opts.EventType)
	if err != nil {
		return err
	}
	cfg := opts.Config
	if opts.APIURL != "" {
		cfg.APIURL = opts.APIURL
	}
	if opts.StatePath != "" {
		cfg.StatePath = opts.StatePath
	}

	st, err := localstore.New(cfg.StatePath)
	if err != nil {
		return err
	}
	defer st.Close()

	s, err := newSession(ctx, st, in, out)
	if err != nil {
		return err
	}
	defer s.close()

	client := apiclient.New(apiclient.WithBaseURL(cfg.APIURL))
	g, err := newGame(opts.Mode, client, st, cfg, opts.Count, opts.Logger, s)
	if err != nil {
		return err
	}
	s.m = g.Machine()

	if err := g.Start(ctx, eventType); err != nil {
		return err
	}
	return s.loop(ctx)
}

func newGame(mode string, client *apiclient.Client, st *localstore.Store, cfg config.Config, count int, logger *slog.Logger, s *session) (game, error) {
	hooks := games.Hooks{Changed: s.push}
	switch mode {
	case "daily":
		d, err := games.NewDaily(games.DailyConfig{
			Source: client, Store: st, Scores: st, Count: count,
			RevealDelay: cfg.RevealDelay, Logger: logger, Hooks: hooks,
		})
		if err != nil {
			return nil, err
		}
		s.epilogue = func(w io.Writer, snap games.Snapshot) {
			if snap.Replay {
				fmt.Fprintln(w, "You already played today's puzzle. Come back tomorrow!")
			}
			if rec, ok := d.Record(); ok {
				fmt.Fprintf(w, "Streak: %d (best %d)\n", rec.Streak, rec.BestStreak)
			}
		}
		return d, nil
	case "free":
		return games.NewFree(games.FreeConfig{
			Source: client, Scores: st, Count: count,
			RevealDelay: cfg.RevealDelay, Logger: logger, Hooks: hooks,
		})
	case "timed":
		t, err := games.NewTimed(games.TimedConfig{
			Source: client, Scores: st, Total: cfg.TimedTotal,
			RevealDelay: cfg.RevealDelay, Logger: logger, Hooks: hooks,
		})
		if err != nil {
			return nil, err
		}
		s.remaining = t.Remaining
		s.epilogue = func(w io.Writer, _ games.Snapshot) {
			stats := t.Stats()
			if stats.Answered == 0 {
				return
			}
			fmt.Fprintf(w, "Average answer: %ss", stats.Average.StringFixed(2))
			if stats.HasFastest {
				fmt.Fprintf(w, ", fastest correct: %ss", stats.Fastest.StringFixed(2))
			}
			fmt.Fprintln(w)
		}
		return t, nil
	default:
		return nil, fmt.Errorf("invalid --mode %q: must be daily, free or timed", mode)
	}
}

var errQuit = errors.New("quit")

// session drives a Machine from terminal input. Snapshots arrive through the
// Changed hook; a line is only read when a prompt is open.
type session struct {
	m         *games.Machine
	out       io.Writer
	snaps     chan games.Snapshot
	lines     *lineReader
	waiting   bool
	current   games.Snapshot
	palette   palette
	hearts    bool
	best      func(context.Context) (int, error)
	remaining func() time.Duration
	epilogue  func(io.Writer, games.Snapshot)
}

func newSession(ctx context.Context, st *localstore.Store, in io.Reader, out io.Writer) (*session, error) {
	theme, err := st.Theme(ctx)
	if err != nil {
		return nil, err
	}
	hearts, err := st.HeartsEnabled(ctx)
	if err != nil {
		return nil, err
	}
	return &session{
		out:     out,
		snaps:   make(chan games.Snapshot, 256),
		lines:   newLineReader(in),
		palette: paletteFor(theme),
		hearts:  hearts,
		best:    st.BestScore,
	}, nil
}

func (s *session) push(snap games.Snapshot) { s.snaps <- snap }

func (s *session) close() { s.lines.close() }

func (s *session) loop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case snap := <-s.snaps:
			s.current = snap
			done, err := s.show(ctx, snap)
			if done || err != nil {
				return err
			}
		case line, ok := <-s.lines.out:
			s.waiting = false
			if !ok {
				fmt.Fprintln(s.out, "bye")
				return nil
			}
			err := s.handle(ctx, strings.TrimSpace(line))
			if errors.Is(err, errQuit) {
				return nil
			}
			if err != nil {
				return err
			}
		}
	}
}

func (s *session) prompt() {
	fmt.Fprint(s.out, "> ")
	if !s.waiting {
		s.waiting = true
		s.lines.request()
	}
}

func (s *session) show(ctx context.Context, snap games.Snapshot) (bool, error) {
	switch snap.Phase {
	case games.PhaseLobby:
		if snap.Err != nil {
			return true, fmt.Errorf("could not start the game: %w", snap.Err)
		}
	case games.PhaseLoading:
		fmt.Fprintln(s.out, "Loading pairs...")
	case games.PhaseOngoing:
		switch snap.Round {
		case games.RoundAwaitingSelection:
			if snap.Err != nil {
				fmt.Fprintf(s.out, "Could not load the answer (%v). Pick again.\n", snap.Err)
			}
			s.showPair(snap)
			s.prompt()
		case games.RoundReady:
			s.showReveal(snap)
			fmt.Fprintln(s.out, "Press enter for the next pair.")
			s.prompt()
		}
	case games.PhaseFinished:
		s.showSummary(ctx, snap)
		return true, nil
	}
	return false, nil
}

func (s *session) handle(ctx context.Context, line string) error {
	if line == "q" || line == "quit" {
		if err := s.m.Finish(ctx); err != nil {
			return errQuit
		}
		return nil
	}

	var err error
	switch s.current.Round {
	case games.RoundAwaitingSelection:
		if s.current.Pair == nil {
			return nil
		}
		switch line {
		case "1":
			err = s.m.HandleCardClick(ctx, s.current.Pair.First.ID)
		case "2":
			err = s.m.HandleCardClick(ctx, s.current.Pair.Second.ID)
		default:
			fmt.Fprintln(s.out, "Type 1 or 2.")
			s.prompt()
			return nil
		}
	case games.RoundReady:
		err = s.m.NextPair(ctx)
	}
	if err != nil && !errors.Is(err, games.ErrInvalidTransition) {
		fmt.Fprintf(s.out, "error: %v\n", err)
	}
	return nil
}

func (s *session) showPair(snap games.Snapshot) {
	header := fmt.Sprintf("Round %d", snap.Index+1)
	if s.remaining == nil {
		header += fmt.Sprintf("/%d", snap.Total)
	} else {
		header += fmt.Sprintf("  (%ds left)", int(s.remaining().Seconds()))
	}
	fmt.Fprintf(s.out, "\n%s  Which happened %s?\n", header, s.palette.emph(snap.Directive.String()))
	fmt.Fprintf(s.out, "  [1] %s\n", describe(snap.Pair.First.Title, snap.Pair.First.Text))
	fmt.Fprintf(s.out, "  [2] %s\n", describe(snap.Pair.Second.Title, snap.Pair.Second.Text))
}

func (s *session) showReveal(snap games.Snapshot) {
	for i, d := range snap.Details {
		marker := " "
		if d.ID == snap.Selected {
			marker = "*"
		}
		fmt.Fprintf(s.out, " %s[%d] %5d  %s\n", marker, i+1, d.Year, d.Title)
	}
	if snap.Index < len(snap.Outcomes) && snap.Outcomes[snap.Index] == games.Correct {
		fmt.Fprintln(s.out, s.palette.good("Correct!"))
	} else {
		fmt.Fprintln(s.out, s.palette.bad("Wrong."))
	}
}

func (s *session) showSummary(ctx context.Context, snap games.Snapshot) {
	answered := 0
	var row strings.Builder
	for _, o := range snap.Outcomes {
		if o == games.Unanswered {
			continue
		}
		answered++
		row.WriteString(s.mark(o == games.Correct))
	}
	fmt.Fprintf(s.out, "\nFinal score: %d/%d  %s\n", snap.Points, answered, row.String())
	if s.epilogue != nil {
		s.epilogue(s.out, snap)
	}
	if best, err := s.best(ctx); err == nil {
		fmt.Fprintf(s.out, "Best score: %d\n", best)
	}
}

func (s *session) mark(correct bool) string {
	switch {
	case s.hearts && correct:
		return s.palette.good("♥")
	case s.hearts:
		return s.palette.bad("♡")
	case correct:
		return s.palette.good("✓")
	default:
		return s.palette.bad("✗")
	}
}

func describe(title, text string) string {
	if text == "" {
		return title
	}
	if title == "" {
		return text
	}
	return fmt.Sprintf("%s - %s", title, text)
}

type palette struct {
	good, bad, emph func(string) string
}

func ansi(code string) func(string) string {
	return func(s string) string { return "\x1b[" + code + "m" + s + "\x1b[0m" }
}

func paletteFor(theme string) palette {
	if theme == localstore.ThemeDark {
		return palette{good: ansi("92"), bad: ansi("91"), emph: ansi("1;96")}
	}
	return palette{good: ansi("32"), bad: ansi("31"), emph: ansi("1;34")}
}

// lineReader reads one line per request so input typed ahead of a prompt is
// not consumed by the wrong state.
type lineReader struct {
	sc   *bufio.Scanner
	req  chan struct{}
	out  chan string
	done chan struct{}
}

func newLineReader(r io.Reader) *lineReader {
	lr := &lineReader{
		sc:   bufio.NewScanner(r),
		req:  make(chan struct{}, 1),
		out:  make(chan string),
		done: make(chan struct{}),
	}
	go lr.run()
	return lr
}

func (lr *lineReader) run() {
	defer close(lr.out)
	for {
		select {
		case <-lr.done:
			return
		case <-lr.req:
		}
		if !lr.sc.Scan() {
			return
		}
		select {
		case lr.out <- lr.sc.Text():
		case <-lr.done:
			return
		}
	}
}

func (lr *lineReader) request() {
	select {
	case lr.req <- struct{}{}:
	default:
	}
}

func (lr *lineReader) close() { close(lr.done) }
