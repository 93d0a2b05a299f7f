// Package api exposes the exchange over HTTP/JSON and a WebSocket stream.
// All routes live under /api/v1; mutating routes require a bearer access
// token, administrative routes additionally require an admin account.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"predx/internal/auth"
	"predx/internal/config"
	"predx/internal/engine"
)

// Server runs the HTTP/WebSocket API for the exchange.
type Server struct {
	cfg      config.Config
	engine   *engine.Engine
	registry *auth.Registry
	tokens   *auth.Tokens
	saveUser func(auth.User) error
	validate *validator.Validate
	hub      *Hub
	limiter  *orderLimiter
	server   *http.Server
	logger   *slog.Logger
}

// NewServer wires the API. saveUser persists newly registered accounts and
// may be nil when running without a store.
func NewServer(
	cfg config.Config,
	eng *engine.Engine,
	registry *auth.Registry,
	tokens *auth.Tokens,
	saveUser func(auth.User) error,
	logger *slog.Logger,
) *Server {
	s := &Server{
		cfg:      cfg,
		engine:   eng,
		registry: registry,
		tokens:   tokens,
		saveUser: saveUser,
		validate: validator.New(),
		hub:      NewHub(logger),
		limiter:  newOrderLimiter(float64(cfg.Limits.OrderBurst), cfg.Limits.OrdersPerSecond),
		logger:   logger.With("component", "api-server"),
	}

	r := mux.NewRouter()
	v1 := r.PathPrefix("/api/v1").Subrouter()

	v1.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	v1.HandleFunc("/auth/register", s.handleRegister).Methods(http.MethodPost)
	v1.HandleFunc("/auth/login", s.handleLogin).Methods(http.MethodPost)
	v1.HandleFunc("/auth/refresh", s.handleRefresh).Methods(http.MethodPost)
	v1.HandleFunc("/auth/logout", s.requireAuth(s.handleLogout)).Methods(http.MethodPost)

	v1.HandleFunc("/orders", s.requireAuth(s.handlePlaceOrder)).Methods(http.MethodPost)
	v1.HandleFunc("/orders/{id}/cancel", s.requireAuth(s.handleCancelOrder)).Methods(http.MethodPost)
	v1.HandleFunc("/orders/{id}", s.handleGetOrder).Methods(http.MethodGet)
	v1.HandleFunc("/orders/market/{mid}/book", s.handleBook).Methods(http.MethodGet)

	v1.HandleFunc("/events", s.requireAdmin(s.handleCreateEvent)).Methods(http.MethodPost)
	v1.HandleFunc("/events", s.handleListEvents).Methods(http.MethodGet)
	v1.HandleFunc("/events/{id}", s.handleGetEvent).Methods(http.MethodGet)

	v1.HandleFunc("/markets", s.requireAdmin(s.handleCreateMarket)).Methods(http.MethodPost)
	v1.HandleFunc("/markets", s.handleListMarkets).Methods(http.MethodGet)
	v1.HandleFunc("/markets/{id}", s.handleGetMarket).Methods(http.MethodGet)
	v1.HandleFunc("/markets/{id}/match", s.requireAdmin(s.handleMatch)).Methods(http.MethodPost)
	v1.HandleFunc("/markets/{id}/settle", s.requireAdmin(s.handleSettle)).Methods(http.MethodPost)
	v1.HandleFunc("/markets/{id}/suspend", s.requireAdmin(s.handleSuspend)).Methods(http.MethodPost)
	v1.HandleFunc("/markets/{id}/resume", s.requireAdmin(s.handleResume)).Methods(http.MethodPost)

	v1.HandleFunc("/wallets/deposit", s.requireAuth(s.handleDeposit)).Methods(http.MethodPost)
	v1.HandleFunc("/wallets/withdraw", s.requireAuth(s.handleWithdraw)).Methods(http.MethodPost)
	v1.HandleFunc("/wallets/user/{uid}/balance", s.requireAuth(s.handleBalance)).Methods(http.MethodGet)
	v1.HandleFunc("/wallets/user/{uid}/transactions", s.requireAuth(s.handleTransactions)).Methods(http.MethodGet)

	v1.HandleFunc("/positions/user/{uid}", s.requireAuth(s.handlePositions)).Methods(http.MethodGet)

	v1.HandleFunc("/ws", s.handleWebSocket).Methods(http.MethodGet)

	handler := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	}).Handler(r)

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return s
}

// Handler returns the root HTTP handler, for tests.
func (s *Server) Handler() http.Handler { return s.server.Handler }

// Start runs the hub, the engine event consumer, and the HTTP listener.
// It blocks until the listener stops.
func (s *Server) Start() error {
	go s.hub.Run()
	go s.consumeEvents()

	s.logger.Info("api server starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the HTTP listener.
func (s *Server) Stop() error {
	s.logger.Info("stopping api server")

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// consumeEvents forwards engine stream events to the WebSocket hub.
func (s *Server) consumeEvents() {
	for evt := range s.engine.Stream() {
		s.hub.BroadcastEvent(evt)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}
