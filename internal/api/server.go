// Package api serves the console surface over HTTP: session lifecycle,
// token views, rewards, operations and the admin endpoints, plus health
// and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/calyptra-labs/stakedeck/internal/config"
	"github.com/calyptra-labs/stakedeck/internal/monitoring"
	"github.com/calyptra-labs/stakedeck/internal/state"
	"github.com/calyptra-labs/stakedeck/internal/types"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

// Connection drives the wallet session lifecycle
type Connection interface {
	Connect(ctx context.Context) error
	Disconnect()
}

// Operator runs the chain-mutating operations
type Operator interface {
	Stake(ctx context.Context, tokenID uint64) (*types.PendingOperation, error)
	Unstake(ctx context.Context, tokenID uint64) (*types.PendingOperation, error)
	Claim(ctx context.Context) (*types.PendingOperation, error)
	Mint(ctx context.Context, quantity uint64) (*types.PendingOperation, error)
	Deposit(ctx context.Context, amount string) (*types.PendingOperation, error)
	UpdateDailyCap(ctx context.Context, amount string) (*types.PendingOperation, error)
	InitiateEmergencyWithdraw(ctx context.Context, recipient string, amount string) (*types.PendingOperation, error)
	CompleteEmergencyWithdraw(ctx context.Context) (*types.PendingOperation, error)
}

// Reconciler schedules token reconciliation passes
type Reconciler interface {
	ScheduleAfter(ctx context.Context, delay time.Duration)
}

// Kicker forces an immediate reward refresh
type Kicker interface {
	Kick()
}

// HealthChecker reports whether the target network answers
type HealthChecker interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

// Server represents the console API server
type Server struct {
	config     *config.Config
	store      *state.Store
	connection Connection
	operator   Operator
	reconciler Reconciler
	refresher  Kicker
	health     HealthChecker
	router     *mux.Router
	server     *http.Server
	logger     zerolog.Logger

	// appCtx bounds background work triggered by requests, so a connect's
	// initial reconciliation is not cancelled with the request
	appCtx context.Context
}

// NewServer creates the console API server
func NewServer(
	appCtx context.Context,
	cfg *config.Config,
	store *state.Store,
	connection Connection,
	operator Operator,
	reconciler Reconciler,
	refresher Kicker,
	health HealthChecker,
	logger zerolog.Logger,
) *Server {
	router := mux.NewRouter()

	s := &Server{
		config:     cfg,
		store:      store,
		connection: connection,
		operator:   operator,
		reconciler: reconciler,
		refresher:  refresher,
		health:     health,
		router:     router,
		logger:     logger.With().Str("component", "api").Logger(),
		appCtx:     appCtx,
	}

	// Setup routes
	s.setupRoutes()

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	s.server = &http.Server{
		Addr:           addr,
		Handler:        s.router,
		ReadTimeout:    cfg.Server.ReadTimeoutDuration(),
		WriteTimeout:   cfg.Server.WriteTimeoutDuration(),
		MaxHeaderBytes: 1 << 20, // 1 MB
	}

	return s
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	// Health check
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/ready", s.handleReady).Methods("GET")
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// API v1
	v1 := s.router.PathPrefix("/v1").Subrouter()

	// Session endpoints
	v1.HandleFunc("/session", s.handleSession).Methods("GET")
	v1.HandleFunc("/session/connect", s.handleConnect).Methods("POST")
	v1.HandleFunc("/session/disconnect", s.handleDisconnect).Methods("POST")

	// View endpoints
	v1.HandleFunc("/tokens", s.handleTokens).Methods("GET")
	v1.HandleFunc("/rewards", s.handleRewards).Methods("GET")

	// Operation endpoints
	v1.HandleFunc("/operations", s.handleListOperations).Methods("GET")
	v1.HandleFunc("/operations/{id}", s.handleGetOperation).Methods("GET")
	v1.HandleFunc("/stake", s.handleStake).Methods("POST")
	v1.HandleFunc("/unstake", s.handleUnstake).Methods("POST")
	v1.HandleFunc("/claim", s.handleClaim).Methods("POST")
	v1.HandleFunc("/mint", s.handleMint).Methods("POST")
	v1.HandleFunc("/deposit", s.handleDeposit).Methods("POST")

	// Admin endpoints
	admin := v1.PathPrefix("/admin").Subrouter()
	admin.Use(s.adminRequired)
	admin.HandleFunc("/reward-cap", s.handleRewardCap).Methods("POST")
	admin.HandleFunc("/emergency-withdraw", s.handleEmergencyWithdraw).Methods("POST")
	admin.HandleFunc("/emergency-withdraw/complete", s.handleEmergencyWithdrawComplete).Methods("POST")

	// Apply middleware
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.corsMiddleware)
	s.router.Use(s.recoverMiddleware)
}

// Start starts the API server
func (s *Server) Start() error {
	s.logger.Info().
		Str("address", s.server.Addr).
		Msg("Starting API server")

	return s.server.ListenAndServe()
}

// Stop gracefully stops the API server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Stopping API server")
	return s.server.Shutdown(ctx)
}

// Handler returns the root handler, used by tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Health check handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "healthy",
		"service":     "stakedeck-console",
		"environment": s.config.Environment,
		"network":     s.config.Network.Name,
		"timestamp":   time.Now().UTC(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	blockNumber, err := s.health.BlockNumber(r.Context())
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "target network not reachable", err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":       "ready",
		"chain_id":     s.config.Network.ChainID,
		"block_number": blockNumber,
		"connected":    s.store.Session() != nil,
	})
}

// Middleware

// statusRecorder captures the status code written by a handler
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(recorder, r)

		endpoint := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if template, err := route.GetPathTemplate(); err == nil {
				endpoint = template
			}
		}
		monitoring.RecordAPIRequest(r.Method, endpoint, strconv.Itoa(recorder.status), time.Since(start).Seconds())

		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Str("remote_addr", r.RemoteAddr).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Admin-Token")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error().
					Interface("error", err).
					Str("path", r.URL.Path).
					Msg("Panic recovered")

				respondError(w, http.StatusInternalServerError, "internal server error", nil)
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// adminRequired gates the admin subrouter behind the configured bcrypt
// token hash. An empty hash disables the admin surface entirely.
func (s *Server) adminRequired(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hash := s.config.Admin.TokenHash
		if hash == "" {
			respondError(w, http.StatusNotFound, "admin endpoints are disabled", nil)
			return
		}

		token := r.Header.Get("X-Admin-Token")
		if token == "" {
			respondError(w, http.StatusUnauthorized, "admin token required", nil)
			return
		}
		if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)); err != nil {
			s.logger.Warn().Str("remote_addr", r.RemoteAddr).Msg("Rejected admin token")
			respondError(w, http.StatusUnauthorized, "invalid admin token", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Helper functions

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	// The status line is already gone out, nothing to do about an encode error
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	response := map[string]interface{}{
		"error":  message,
		"status": status,
	}

	if err != nil {
		response["details"] = err.Error()
	}

	respondJSON(w, status, response)
}
