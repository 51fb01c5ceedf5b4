package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/vitos/coin_tracker/internal/domain"
	"github.com/vitos/coin_tracker/internal/infrastructure/metrics"
	"github.com/vitos/coin_tracker/internal/usecase"
	"go.uber.org/zap"
)

// CycleTrigger runs an on-demand ingestion cycle.
type CycleTrigger interface {
	RunNow(ctx context.Context) (*usecase.CycleReport, error)
	Running() bool
}

// StatusReader exposes the last fetch status.
type StatusReader interface {
	Read() domain.FetchStatus
}

type Server struct {
	router  *http.ServeMux
	server  *http.Server
	stores  usecase.StoreProvider
	trigger CycleTrigger
	status  StatusReader
	hub     *Hub
	logger  *zap.Logger
	timeNow func() time.Time
}

func NewServer(
	port int,
	stores usecase.StoreProvider,
	trigger CycleTrigger,
	status StatusReader,
	hub *Hub,
	logger *zap.Logger,
) *Server {
	s := &Server{
		router:  http.NewServeMux(),
		stores:  stores,
		trigger: trigger,
		status:  status,
		hub:     hub,
		logger:  logger,
		timeNow: time.Now,
	}
	s.routes()
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           withCORS(s.router),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	// Coins
	s.router.HandleFunc("GET /api/coins", s.handleListCoins)

	// History
	s.router.HandleFunc("GET /api/history/{coinId}", s.handleGetHistory)
	s.router.HandleFunc("POST /api/history", s.handleTriggerFetch)

	// Health
	s.router.HandleFunc("GET /api/health", s.handleHealth)

	// Live cycle stream
	if s.hub != nil {
		s.router.HandleFunc("GET /api/stream", s.hub.ServeWS)
	}

	s.router.Handle("GET /metrics", metrics.Handler())
}

func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) Start() error {
	s.logger.Info("Starting web server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.hub != nil {
		s.hub.Close()
	}
	return s.server.Shutdown(ctx)
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
