package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/chronodle/chronodle/internal/api"
	"github.com/chronodle/chronodle/internal/config"
	"github.com/chronodle/chronodle/internal/events"
	"github.com/chronodle/chronodle/internal/metrics"
	"github.com/chronodle/chronodle/internal/store"
	"github.com/chronodle/chronodle/internal/wiki"
)

const shutdownTimeout = 10 * time.Second

// NewServeCommand creates the serve command.
func NewServeCommand(opts *RootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the events HTTP API",
		Long: `Run the events HTTP API.

Migrations are applied on startup. Dates missing from storage are ingested from
the upstream feed on first request.

Example:
  chronodle serve --addr :8080`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr != "" {
				opts.Config.ListenAddr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts.Config, opts.Logger)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides CHRONODLE_LISTEN_ADDR")
	return cmd
}

func runServe(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	m := metrics.New()
	svc, err := newService(st, cfg, logger, events.WithObserver(m))
	if err != nil {
		return err
	}

	srv := api.NewServer(svc,
		api.WithLogger(logger),
		api.WithMetrics(m.Handler(), m.Middleware),
		api.WithClusterSize(cfg.ClusterSize),
		api.WithRequestTimeout(cfg.RequestTimeout),
	)
	hs := newHTTPServer(cfg.ListenAddr, srv.Routes(), cfg.RequestTimeout)
	if err := hs.Start(); err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.ListenAddr, err)
	}
	logger.Info("chronodle api listening", "addr", hs.Addr(), "driver", cfg.DBDriver, "version", api.Version)

	select {
	case <-ctx.Done():
	case err := <-hs.Err():
		return fmt.Errorf("http server: %w", err)
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return hs.Shutdown(shutdownCtx)
}

// openStore connects to the configured backend and applies migrations.
func openStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	st, err := store.Open(ctx, store.Config{
		Driver:         cfg.DBDriver,
		DSN:            cfg.DBDSN,
		StaleLockAfter: cfg.StaleLockAfter,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.DBDriver, err)
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return st, nil
}

func newService(repo events.Repository, cfg config.Config, logger *slog.Logger, opts ...events.Option) (*events.Service, error) {
	feed := wiki.NewClient(wiki.Config{
		BaseURL:   cfg.FeedBaseURL,
		UserAgent: cfg.UserAgent,
		Token:     cfg.FeedToken,
	})
	return events.NewService(repo, feed, append([]events.Option{events.WithLogger(logger)}, opts...)...)
}

// httpServer binds its listener up front so bind errors surface from Start.
type httpServer struct {
	srv  *http.Server
	ln   net.Listener
	errc chan error
}

func newHTTPServer(addr string, h http.Handler, requestTimeout time.Duration) *httpServer {
	return &httpServer{
		srv: &http.Server{
			Addr:              addr,
			Handler:           h,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      requestTimeout + 5*time.Second,
		},
		errc: make(chan error, 1),
	}
}

// Start begins listening in a goroutine. It returns when the socket is bound.
func (s *httpServer) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	s.ln = ln
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.errc <- err
		}
	}()
	return nil
}

func (s *httpServer) Addr() string {
	if s.ln == nil {
		return s.srv.Addr
	}
	return s.ln.Addr().String()
}

func (s *httpServer) Err() <-chan error { return s.errc }

// Shutdown gracefully stops the HTTP server.
func (s *httpServer) Shutdown(ctx context.Context) error {
	if s.ln == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
