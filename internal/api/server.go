// Package api serves the live readings over HTTP: a JSON endpoint, the
// dashboard, charts, Prometheus metrics and the /debug/ admin pages.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/VishwanathaRgitgit/DeepAir/internal/ingest"
	"github.com/VishwanathaRgitgit/DeepAir/internal/livestate"
	"github.com/VishwanathaRgitgit/DeepAir/internal/metrics"
	"github.com/VishwanathaRgitgit/DeepAir/internal/monitoring"
	"github.com/VishwanathaRgitgit/DeepAir/internal/timeutil"
)

// DefaultStaleAfter is how old the latest reading may get before the API
// reports it as stale.
const DefaultStaleAfter = 10 * time.Second

// StatsFunc reports the counters of the running ingestion loop.
type StatsFunc func() (ingest.Stats, bool)

type Options struct {
	Live       *livestate.State
	StaleAfter time.Duration
	Metrics    *metrics.Metrics
	Stats      StatsFunc
	Clock      timeutil.Clock
	// AdminRoutes are extra /debug/ mounts, e.g. tailsql over the SQLite log.
	AdminRoutes []func(*http.ServeMux) error
}

type Server struct {
	live       *livestate.State
	staleAfter time.Duration
	metrics    *metrics.Metrics
	stats      StatsFunc
	clock      timeutil.Clock
	admin      []func(*http.ServeMux) error
}

func NewServer(opts Options) *Server {
	if opts.Live == nil {
		opts.Live = livestate.New(livestate.DefaultWindow)
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultStaleAfter
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.Stats == nil {
		opts.Stats = func() (ingest.Stats, bool) { return ingest.Stats{}, false }
	}
	return &Server{
		live:       opts.Live,
		staleAfter: opts.StaleAfter,
		metrics:    opts.Metrics,
		stats:      opts.Stats,
		clock:      opts.Clock,
		admin:      opts.AdminRoutes,
	}
}

// ServeMux builds the route table.
func (s *Server) ServeMux() (*http.ServeMux, error) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleDashboard)
	mux.HandleFunc("/api/live", getOnly(s.handleLive))
	mux.HandleFunc("/api/history.png", getOnly(s.handleHistoryPNG))
	mux.HandleFunc("/chart", getOnly(s.handleChart))
	mux.HandleFunc("/healthz", getOnly(s.handleHealth))
	mux.Handle("/metrics", s.metrics.Handler())

	s.attachDebugRoutes(mux)
	for _, attach := range s.admin {
		if err := attach(mux); err != nil {
			return nil, err
		}
	}
	return mux, nil
}

// Handler is ServeMux wrapped in request logging.
func (s *Server) Handler() (http.Handler, error) {
	mux, err := s.ServeMux()
	if err != nil {
		return nil, err
	}
	return LoggingMiddleware(mux), nil
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully. It returns nil after a clean shutdown.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	h, err := s.Handler()
	if err != nil {
		ln.Close()
		return err
	}
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		monitoring.Logf("api: listening on http://%s", ln.Addr())
		errc <- srv.Serve(ln)
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	monitoring.Logf("api: shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		monitoring.Logf("api: HTTP server shutdown error: %v", err)
		if err := srv.Close(); err != nil {
			monitoring.Logf("api: HTTP server force close error: %v", err)
		}
	}
	monitoring.Logf("api: HTTP server stopped")
	return nil
}
