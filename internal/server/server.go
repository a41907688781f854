// Package server exposes one runner over HTTP: status and portfolio
// reads, trade history, operator risk controls, and a live event stream
// for dashboards.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/aristath/helmsman/internal/events"
	"github.com/aristath/helmsman/internal/modules/risk"
	"github.com/aristath/helmsman/internal/results"
)

// Runner is the controller surface the API needs from the live loop.
type Runner interface {
	RunID() string
	Mode() domain.Mode
	State() domain.RunnerState
	Pause()
	Resume()
	Errors() int
	Cycles() int
	Metrics() domain.PerformanceMetrics
	Trades(limit int) []domain.Trade
	LatestSnapshot() (domain.PortfolioSnapshot, bool)
	Gate() *risk.Gate
}

// TradeHistory reads persisted trades. Endpoints backed by it answer 503
// when the journal is off.
type TradeHistory interface {
	ListTrades(limit *int) ([]domain.Trade, error)
	TradeCount() (int, error)
}

// Config holds the HTTP server settings.
type Config struct {
	Port int
}

// Server is the HTTP API for one runner instance.
type Server struct {
	cfg       Config
	router    *chi.Mux
	server    *http.Server
	runner    Runner
	history   TradeHistory
	store     *results.Store
	bus       *events.Bus
	log       zerolog.Logger
	startedAt time.Time
}

// New wires the router and middleware. history, store and bus may be nil;
// the endpoints they back degrade to 503.
func New(cfg Config, runner Runner, history TradeHistory, store *results.Store, bus *events.Bus, log zerolog.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		router:    chi.NewRouter(),
		runner:    runner,
		history:   history,
		store:     store,
		bus:       bus,
		log:       log.With().Str("component", "server").Logger(),
		startedAt: time.Now(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.router,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		// No write timeout: the event stream holds its response open.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Recoverer)

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	s.router.Use(middleware.Compress(5))
}

func (s *Server) setupRoutes() {
	// The event stream is long-lived and stays outside the timeout group.
	s.router.Get("/api/events/stream", s.handleEventsStream)

	s.router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		r.Get("/health", s.handleHealth)

		r.Route("/api", func(r chi.Router) {
			r.Get("/status", s.handleStatus)
			r.Get("/portfolio", s.handlePortfolio)
			r.Get("/metrics", s.handleMetrics)
			r.Get("/trades", s.handleTrades)
			r.Get("/system", s.handleSystem)

			r.Get("/kill-switch", s.handleKillSwitchGet)
			r.Post("/kill-switch", s.handleKillSwitchPost)

			r.Post("/runner/pause", s.handlePause)
			r.Post("/runner/resume", s.handleResume)

			r.Get("/journal/trades", s.handleJournalTrades)

			r.Get("/runs", s.handleRunList)
			r.Get("/runs/{runID}", s.handleRunGet)
		})
	})
}

// Handler returns the root handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves HTTP and blocks until Shutdown or a listener error.
func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Port).Msg("Starting HTTP server")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.log.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("HTTP request")
		}()

		next.ServeHTTP(ww, r)
	})
}
