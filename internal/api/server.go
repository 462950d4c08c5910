// Package api serves a read-only view of a running portfolio over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/newthinker/signalflow/internal/alert"
	"github.com/newthinker/signalflow/internal/core"
	"github.com/newthinker/signalflow/internal/metrics"
	"github.com/newthinker/signalflow/internal/portfolio"
	"github.com/newthinker/signalflow/internal/storage/signal"
	"github.com/newthinker/signalflow/internal/strategy"
)

// defaultSignalLimit caps /api/v1/signals when no limit is given
const defaultSignalLimit = 100

// Source is the portfolio surface the server reads
type Source interface {
	Snapshot() portfolio.State
	LastCycle() portfolio.CycleSummary
	Alerts() []alert.Alert
	RebalanceHistory() []portfolio.RebalancingAction
	Strategies() []strategy.Definition
}

// Config holds server configuration
type Config struct {
	Addr   string
	APIKey string
}

// Dependencies holds the components the handlers read. Journal and
// Metrics are optional.
type Dependencies struct {
	Portfolio Source
	Journal   signal.Store
	Metrics   *metrics.Registry
}

// Server is the HTTP status server
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
	mux        *http.ServeMux
	deps       Dependencies
}

// NewServer creates a new HTTP server
func NewServer(cfg Config, deps Dependencies, logger *zap.Logger) (*Server, error) {
	if deps.Portfolio == nil {
		return nil, core.Errorf(core.ErrConfigMissing, "api: portfolio is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	mux := http.NewServeMux()
	s := &Server{
		logger: logger,
		mux:    mux,
		deps:   deps,
	}
	s.setupRoutes(cfg.APIKey)

	var handler http.Handler = mux
	if deps.Metrics != nil {
		handler = metrics.HTTPMiddleware(deps.Metrics)(handler)
	}
	handler = metrics.LoggingMiddleware(logger)(handler)

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s, nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes(apiKey string) {
	s.mux.HandleFunc("GET "+metrics.HealthPath, s.handleHealth)
	if s.deps.Metrics != nil {
		s.mux.Handle("GET /metrics", s.deps.Metrics.Handler())
	}

	auth := apiKeyAuth(apiKey)
	s.mux.Handle("GET /api/v1/state", auth(http.HandlerFunc(s.handleState)))
	s.mux.Handle("GET /api/v1/cycle", auth(http.HandlerFunc(s.handleCycle)))
	s.mux.Handle("GET /api/v1/strategies", auth(http.HandlerFunc(s.handleStrategies)))
	s.mux.Handle("GET /api/v1/alerts", auth(http.HandlerFunc(s.handleAlerts)))
	s.mux.Handle("GET /api/v1/rebalances", auth(http.HandlerFunc(s.handleRebalances)))
	s.mux.Handle("GET /api/v1/signals", auth(http.HandlerFunc(s.handleSignals)))
}

// Handler returns the server's full handler chain
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, 0)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Portfolio.Snapshot(), 0)
}

func (s *Server) handleCycle(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Portfolio.LastCycle(), 0)
}

// strategySummary is a definition without its graph
type strategySummary struct {
	ID         string           `json:"id"`
	Name       string           `json:"name"`
	Symbol     string           `json:"symbol"`
	Timeframes []string         `json:"timeframes"`
	Allocation float64          `json:"allocation"`
	Status     portfolio.Status `json:"status"`
}

func (s *Server) handleStrategies(w http.ResponseWriter, r *http.Request) {
	state := s.deps.Portfolio.Snapshot()
	defs := s.deps.Portfolio.Strategies()
	out := make([]strategySummary, 0, len(defs))
	for _, d := range defs {
		out = append(out, strategySummary{
			ID:         d.ID,
			Name:       d.Name,
			Symbol:     d.TradedSymbol(),
			Timeframes: d.Timeframes.Timeframes(),
			Allocation: state.Allocations[d.ID],
			Status:     state.Strategies[d.ID],
		})
	}
	writeJSON(w, http.StatusOK, out, len(out))
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	severity := r.URL.Query().Get("severity")
	alerts := s.deps.Portfolio.Alerts()
	out := make([]alert.Alert, 0, len(alerts))
	for _, a := range alerts {
		if severity == "" || a.Severity == severity {
			out = append(out, a)
		}
	}
	writeJSON(w, http.StatusOK, out, len(out))
}

func (s *Server) handleRebalances(w http.ResponseWriter, r *http.Request) {
	history := s.deps.Portfolio.RebalanceHistory()
	writeJSON(w, http.StatusOK, history, len(history))
}

func (s *Server) handleSignals(w http.ResponseWriter, r *http.Request) {
	if s.deps.Journal == nil {
		writeError(w, http.StatusNotFound, core.Errorf(core.ErrNotFound, "no signal journal configured"))
		return
	}

	q := r.URL.Query()
	filter := signal.ListFilter{
		Symbol:   q.Get("symbol"),
		Strategy: q.Get("strategy"),
		Limit:    defaultSignalLimit,
	}
	if action := q.Get("action"); action != "" {
		a, ok := core.ParseAction(action)
		if !ok {
			writeError(w, http.StatusBadRequest, core.Errorf(core.ErrConfigInvalid, "unknown action %q", action))
			return
		}
		filter.Action = a
	}
	if limit := q.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, core.Errorf(core.ErrConfigInvalid, "limit must be a positive integer"))
			return
		}
		filter.Limit = n
	}

	signals, err := s.deps.Journal.List(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, signals, len(signals))
}
