package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/tessera-trading/advisor/internal/domain"
	"github.com/tessera-trading/advisor/internal/server/handler"
	"github.com/tessera-trading/advisor/internal/server/middleware"
	"github.com/tessera-trading/advisor/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// RateLimiter, when non-nil, bounds per-client request rates.
	RateLimiter     domain.RateLimiter
	RateLimit       int
	RateLimitWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health      *handler.HealthHandler
	Status      *handler.StatusHandler
	Events      *handler.EventsHandler
	Portfolio   *handler.PortfolioHandler
	Signals     *handler.SignalsHandler
	Memories    *handler.MemoriesHandler
	Tasks       *handler.TasksHandler
	Simulations *handler.SimulationsHandler
}

// Server is the headless HTTP + WebSocket API for the advisor.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (logging, CORS, auth, rate limiting) and attaches
// the WebSocket hub.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// --- Register routes ---

	// Health and status (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)

	// Event log: ingest and decision trails.
	mux.HandleFunc("POST /api/events", handlers.Events.IngestEvent)
	mux.HandleFunc("GET /api/events", handlers.Events.ListEvents)
	mux.HandleFunc("GET /api/events/archive/{day}", handlers.Events.GetArchivedDay)

	// Portfolio summaries.
	mux.HandleFunc("GET /api/portfolio", handlers.Portfolio.GetPortfolios)
	mux.HandleFunc("GET /api/portfolio/{book}", handlers.Portfolio.GetPortfolio)

	// Signal lifecycle.
	mux.HandleFunc("GET /api/signals", handlers.Signals.ListSignals)
	mux.HandleFunc("GET /api/signals/{id}", handlers.Signals.GetSignal)
	mux.HandleFunc("POST /api/signals/{id}/confirm", handlers.Signals.ConfirmSignal)
	mux.HandleFunc("POST /api/signals/{id}/skip", handlers.Signals.SkipSignal)
	mux.HandleFunc("POST /api/trades", handlers.Signals.ReportTrade)
	mux.HandleFunc("POST /api/positions/{ticker}/close", handlers.Signals.ClosePosition)

	// Divergence memories.
	mux.HandleFunc("GET /api/memories", handlers.Memories.ListMemories)
	mux.HandleFunc("GET /api/memories/{id}", handlers.Memories.GetMemory)

	// Scheduled tasks.
	mux.HandleFunc("GET /api/tasks", handlers.Tasks.ListTasks)
	mux.HandleFunc("POST /api/tasks", handlers.Tasks.CreateTask)
	mux.HandleFunc("DELETE /api/tasks/{id}", handlers.Tasks.DeleteTask)

	// Simulations.
	mux.HandleFunc("GET /api/simulations", handlers.Simulations.ListSimulations)
	mux.HandleFunc("GET /api/simulations/{id}", handlers.Simulations.GetSimulation)
	mux.HandleFunc("POST /api/simulations", handlers.Simulations.StartSimulation)

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux

	// Apply auth middleware (skips if APIKey is empty).
	h = middleware.Auth(cfg.APIKey)(h)

	// Apply per-client rate limiting when a limiter is configured.
	if cfg.RateLimiter != nil && cfg.RateLimit > 0 {
		window := cfg.RateLimitWindow
		if window <= 0 {
			window = time.Minute
		}
		h = middleware.RateLimit(cfg.RateLimiter, cfg.RateLimit, window)(h)
	}

	// Apply request logging middleware.
	h = middleware.Logging(logger)(h)

	// Apply CORS middleware.
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
