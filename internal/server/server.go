// Package server provides the HTTP server setup and wiring.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/consensys/gnark/backend/groth16"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	aggregationDomain "github.com/pendergraft/trustgate/internal/aggregation/domain"
	aggregationTransport "github.com/pendergraft/trustgate/internal/aggregation/transport"
	"github.com/pendergraft/trustgate/internal/auth"
	"github.com/pendergraft/trustgate/internal/circuit"
	"github.com/pendergraft/trustgate/internal/config"
	"github.com/pendergraft/trustgate/internal/middleware/logging"
	"github.com/pendergraft/trustgate/internal/middleware/ratelimit"
	"github.com/pendergraft/trustgate/internal/middleware/realip"
	"github.com/pendergraft/trustgate/internal/middleware/security"
	"github.com/pendergraft/trustgate/internal/observability/metrics"
	"github.com/pendergraft/trustgate/internal/storage"
	"github.com/pendergraft/trustgate/internal/validation"
	whitelistDomain "github.com/pendergraft/trustgate/internal/whitelist/domain"
	whitelistTransport "github.com/pendergraft/trustgate/internal/whitelist/transport"
)

// Server is the HTTP server
type Server struct {
	cfg    *config.Config
	store  storage.Store
	logger *slog.Logger
	router *chi.Mux

	// Services typed via transport interfaces
	aggregationSvc aggregationTransport.Service
	whitelistSvc   whitelistTransport.Service
}

// New creates a new server. It loads the active circuit keys, generating
// and persisting them on first start.
func New(ctx context.Context, cfg *config.Config, store storage.Store, logger *slog.Logger) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		store:  store,
		logger: logger,
		router: chi.NewRouter(),
	}

	vk, err := loadVerifyingKey(ctx, store, cfg, logger)
	if err != nil {
		return nil, err
	}

	tolerance, ok := new(big.Int).SetString(cfg.Aggregation.ToleranceDelta, 10)
	if !ok {
		return nil, fmt.Errorf("invalid aggregation tolerance delta %q", cfg.Aggregation.ToleranceDelta)
	}

	// Create domain services, wrapped with logging middleware
	aggImpl := aggregationDomain.NewService(store, store, vk, aggregationDomain.Config{
		Quorum:         cfg.Aggregation.Quorum,
		ToleranceDelta: tolerance,
		Window:         time.Duration(cfg.Aggregation.WaitSeconds) * time.Second,
	})
	s.aggregationSvc = aggregationDomain.LoggingMiddleware(logger)(aggImpl)

	wlImpl := whitelistDomain.NewService(store, vk)
	if err := wlImpl.EnsureThreshold(ctx, cfg.Whitelist.InitialThreshold); err != nil {
		return nil, fmt.Errorf("seeding whitelist threshold: %w", err)
	}
	s.whitelistSvc = whitelistDomain.LoggingMiddleware(logger)(wlImpl)

	s.setupMiddleware()
	s.setupRoutes()

	return s, nil
}

// loadVerifyingKey returns the verifying key for the configured circuit
// version. When no artifact exists yet the circuit is compiled from the
// configured bounds and the resulting key pair is stored as the active
// version.
func loadVerifyingKey(ctx context.Context, store storage.CircuitKeyStore, cfg *config.Config, logger *slog.Logger) (groth16.VerifyingKey, error) {
	if err := validation.ValidateKeyVersion(cfg.Circuit.KeyVersion); err != nil {
		return nil, fmt.Errorf("invalid circuit key version: %w", err)
	}

	keys, err := store.GetCircuitKeys(ctx, cfg.Circuit.KeyVersion)
	if err == nil {
		vk, err := circuit.UnmarshalVerifyingKey(keys.VerifyingKey)
		if err != nil {
			return nil, fmt.Errorf("loading verifying key %s: %w", keys.Version, err)
		}
		logger.Info("loaded circuit keys", "version", keys.Version)
		return vk, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("reading circuit keys: %w", err)
	}

	bounds := circuit.Bounds{
		MaxDaysAgo:     cfg.Circuit.MaxDaysAgo,
		MaxVolume:      cfg.Circuit.MaxVolume,
		MaxMarketCap:   cfg.Circuit.MaxMarketCap,
		MaxTotalSupply: cfg.Circuit.MaxTotalSupply,
	}

	logger.Info("generating circuit keys", "version", cfg.Circuit.KeyVersion)
	system, err := circuit.Compile(bounds)
	if err != nil {
		return nil, fmt.Errorf("compiling circuit: %w", err)
	}
	pk, vk, err := system.Setup()
	if err != nil {
		return nil, fmt.Errorf("circuit setup: %w", err)
	}

	pkBytes, err := circuit.MarshalProvingKey(pk)
	if err != nil {
		return nil, fmt.Errorf("serializing proving key: %w", err)
	}
	vkBytes, err := circuit.MarshalVerifyingKey(vk)
	if err != nil {
		return nil, fmt.Errorf("serializing verifying key: %w", err)
	}
	boundsJSON, err := json.Marshal(bounds)
	if err != nil {
		return nil, fmt.Errorf("serializing bounds: %w", err)
	}

	if err := store.StoreCircuitKeys(ctx, &storage.CircuitKeys{
		Version:      cfg.Circuit.KeyVersion,
		Bounds:       string(boundsJSON),
		ProvingKey:   pkBytes,
		VerifyingKey: vkBytes,
		Active:       true,
	}); err != nil {
		// Another instance may have generated the same version concurrently.
		if errors.Is(err, storage.ErrKeyVersionExists) {
			stored, getErr := store.GetCircuitKeys(ctx, cfg.Circuit.KeyVersion)
			if getErr != nil {
				return nil, fmt.Errorf("reading circuit keys: %w", getErr)
			}
			return circuit.UnmarshalVerifyingKey(stored.VerifyingKey)
		}
		return nil, fmt.Errorf("storing circuit keys: %w", err)
	}

	logger.Info("stored circuit keys", "version", cfg.Circuit.KeyVersion)
	return vk, nil
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// MetricsHandler returns the metrics HTTP handler for separate metrics server
func (s *Server) MetricsHandler() http.Handler {
	return metrics.Handler()
}

func (s *Server) setupMiddleware() {
	// Order matters! Security middleware runs first to block malicious requests early.

	// 1. Real IP extraction (must be first to set client IP for other middleware)
	s.router.Use(realip.Middleware(realip.Config{
		TrustProxy:     s.cfg.Proxy.TrustProxy,
		TrustedProxies: s.cfg.Proxy.TrustedProxies,
	}))

	// 2. Security filter (blocks malicious patterns, bypasses health checks)
	s.router.Use(security.FilterMiddleware(s.cfg.Security.FilterEnabled))

	// 3. Body size limit
	s.router.Use(security.MaxBodySizeMiddleware(s.cfg.Security.MaxBodySizeMB))

	// 4. Rate limiting (bypasses health checks)
	s.router.Use(ratelimit.Middleware(ratelimit.Config{
		Enabled:        s.cfg.RateLimit.Enabled,
		RequestsPerMin: s.cfg.RateLimit.RequestsPerMin,
		BurstSize:      s.cfg.RateLimit.BurstSize,
		CleanupMinutes: s.cfg.RateLimit.CleanupMinutes,
	}))

	// 5. Standard middleware
	s.router.Use(middleware.RequestID)
	s.router.Use(logging.Middleware(s.logger))
	s.router.Use(metrics.Middleware)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Compress(5))

	// 6. CORS
	s.router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-API-Key")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	})
}

func (s *Server) setupRoutes() {
	// Health checks
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/readyz", s.handleHealth)

	// Prometheus metrics
	s.router.Handle("/metrics", metrics.Handler())

	// Auth middleware for write operations. Attestation submission and
	// threshold updates are authenticated; reads stay open.
	var authMiddleware func(http.Handler) http.Handler
	if s.cfg.Auth.Type == "api-key" {
		authMiddleware = auth.Middleware(s.store, writeError)
	}

	aggregationHandler := aggregationTransport.NewHandler(s.aggregationSvc, authMiddleware)
	whitelistHandler := whitelistTransport.NewHandler(s.whitelistSvc, authMiddleware)

	// API v1 routes
	s.router.Route("/api/v1", func(r chi.Router) {
		aggregationHandler.RegisterRoutes(r)
		whitelistHandler.RegisterRoutes(r)
	})
}

// Health check handler
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Helper functions

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}
