// Package server exposes the read-only status surface of the grid trader
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"grid_trader/internal/core"
	"grid_trader/internal/engine/gridengine"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
)

const (
	defaultTradeLimit = 50
	maxTradeLimit     = 500
)

// SnapshotSource provides the last published engine snapshot
type SnapshotSource interface {
	Snapshot() *gridengine.Snapshot
}

// StatusServer serves liveness, health, engine status, trade history and metrics
type StatusServer struct {
	addr     string
	source   SnapshotSource
	journal  core.IJournal
	hm       core.IHealthMonitor
	logger   core.ILogger
	router   *mux.Router
	listener net.Listener
}

// NewStatusServer creates the server. journal and hm may be nil.
func NewStatusServer(port int, source SnapshotSource, journal core.IJournal, hm core.IHealthMonitor, logger core.ILogger) *StatusServer {
	s := &StatusServer{
		addr:    fmt.Sprintf(":%d", port),
		source:  source,
		journal: journal,
		hm:      hm,
		logger:  logger.WithField("component", "status_server"),
		router:  mux.NewRouter(),
	}
	s.setupRoutes()
	return s
}

func (s *StatusServer) setupRoutes() {
	s.router.HandleFunc("/", s.handleRoot).Methods(http.MethodGet)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/trades", s.handleTrades).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
}

// Handler returns the routed handler wrapped with CORS
func (s *StatusServer) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	})
	return c.Handler(s.router)
}

// Listen binds the configured address. Run calls it when it has not been called yet.
func (s *StatusServer) Listen() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	s.listener = ln
	return nil
}

// Addr returns the bound address, or the configured one before Listen
func (s *StatusServer) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *StatusServer) Run(ctx context.Context) error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting status server", "addr", s.Addr())
		errCh <- srv.Serve(s.listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("status server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	s.logger.Info("Stopping status server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("status server shutdown: %w", err)
	}
	return nil
}

func (s *StatusServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("Bot is running!"))
}

func (s *StatusServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status": "ok",
		"time":   time.Now(),
	}
	code := http.StatusOK
	if s.hm != nil {
		health["components"] = s.hm.GetStatus()
		if !s.hm.IsHealthy() {
			health["status"] = "unhealthy"
			code = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, code, health)
}

func (s *StatusServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.source.Snapshot()
	if snap == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "engine not started"})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type tradeView struct {
	OrderID  string `json:"order_id"`
	Pair     string `json:"pair"`
	Side     string `json:"side"`
	Price    string `json:"price"`
	Quantity string `json:"quantity"`
	Role     string `json:"role"`
	Fee      string `json:"fee"`
	PlacedAt string `json:"placed_at"`
	FilledAt string `json:"filled_at"`
}

func (s *StatusServer) handleTrades(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeJSON(w, http.StatusOK, []tradeView{})
		return
	}

	limit := defaultTradeLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxTradeLimit)
	}

	trades, err := s.journal.RecentTrades(r.Context(), limit)
	if err != nil {
		s.logger.Error("Failed to read trades", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "journal unavailable"})
		return
	}

	views := make([]tradeView, 0, len(trades))
	for _, t := range trades {
		views = append(views, tradeView{
			OrderID:  t.OrderID,
			Pair:     t.Pair,
			Side:     string(t.Side),
			Price:    t.Price.String(),
			Quantity: t.Quantity.String(),
			Role:     string(t.Role),
			Fee:      t.Fee.String(),
			PlacedAt: t.PlacedAt.UTC().Format(time.RFC3339),
			FilledAt: t.FilledAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, views)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
