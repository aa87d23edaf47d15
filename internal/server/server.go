// Package server wires the account service together and runs the HTTP server.
//
// DEPENDENCY INJECTION FLOW:
// main.go loads config.Config and a logger, then calls New, which builds:
//
//	sqlstore.DB → service.AccountService → handler.AccountHandler
//	metrics.Metrics ↗ (services and middleware)    ↘ chi routes
//
// Everything is constructed here and passed down; nothing below this
// package reads the environment or keeps package-level state.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/sakif/account-service/internal/auth"
	"github.com/sakif/account-service/internal/config"
	"github.com/sakif/account-service/internal/handler"
	"github.com/sakif/account-service/internal/metrics"
	"github.com/sakif/account-service/internal/middleware"
	"github.com/sakif/account-service/internal/otp"
	"github.com/sakif/account-service/internal/repository/sqlstore"
	"github.com/sakif/account-service/internal/service"
)

const shutdownTimeout = 30 * time.Second

// Server owns the router, the database pool and the metrics registry.
// The pool is closed when Start returns.
type Server struct {
	router  *chi.Mux
	config  *config.Config
	logger  *slog.Logger
	db      *sqlstore.DB
	metrics *metrics.Metrics
}

// New connects to the database (retrying per config), applies migrations
// and builds the router. ctx bounds the connection attempts.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	// === DATABASE ===
	dialect, err := sqlstore.ParseDialect(cfg.Database.Driver)
	if err != nil {
		return nil, err
	}
	db, err := sqlstore.Open(ctx, sqlstore.Config{
		Dialect:         dialect,
		DSN:             cfg.Database.DSN(),
		MaxOpenConns:    cfg.Database.PoolSize,
		MaxIdleConns:    cfg.Database.PoolIdle,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnectAttempts: cfg.Database.ConnectAttempts,
		ConnectDelay:    cfg.Database.ConnectDelay,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Server{
		router:  chi.NewRouter(),
		config:  cfg,
		logger:  logger,
		db:      db,
		metrics: metrics.New(),
	}

	if err := s.metrics.RegisterDB(db.SQL(), cfg.Database.Driver); err != nil {
		db.Close()
		return nil, fmt.Errorf("registering pool metrics: %w", err)
	}

	if err := s.setupRoutes(); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting up routes: %w", err)
	}

	return s, nil
}

// setupRoutes builds the services and mounts every route.
//
// ROUTE STRUCTURE:
// GET  /                   → welcome message
// GET  /health             → liveness + database check
// GET  /metrics            → Prometheus exposition
// POST /register           → direct registration
// POST /login              → email + password → token
// GET  /user               → account behind the bearer token
// POST /send-otp           → issue an OTP for a mobile number
// POST /verify-otp         → check the OTP
// POST /register-verified  → complete a verified phone-only account
//
// MIDDLEWARE ORDER:
// 1. RequestID  → request id in the context, read by the logger and error responses
// 2. RealIP     → client IP from proxy headers
// 3. Logger     → one line and one metric sample per request
// 4. Recoverer  → panics become 500 (inside Logger, so they are logged)
// 5. CORS       → origins from ALLOWED_ORIGINS
func (s *Server) setupRoutes() error {
	tokens, err := auth.NewTokenService(auth.TokenConfig{
		Secret:    s.config.Token.Secret,
		Algorithm: s.config.Token.Algorithm,
		TTL:       s.config.Token.TTL,
		Issuer:    s.config.Token.Issuer,
		Audience:  s.config.Token.Audience,
	})
	if err != nil {
		return fmt.Errorf("creating token service: %w", err)
	}

	passwords, err := auth.NewPasswordService(s.config.Token.BcryptCost)
	if err != nil {
		return fmt.Errorf("creating password service: %w", err)
	}

	otps, err := otp.New(s.config.OTP.Mode, s.config.OTP.FixedCode, s.config.OTP.Length)
	if err != nil {
		return fmt.Errorf("creating otp generator: %w", err)
	}
	if s.config.OTP.Mode == "fixed" {
		s.logger.Warn("OTP_MODE=fixed: every OTP is the same code; do not use in production")
	}

	accountService := service.NewAccountService(s.db, tokens, passwords, otps, s.logger, service.Options{
		OTPTTL:    s.config.OTP.TTL,
		OpTimeout: s.config.Database.PoolTimeout,
		Metrics:   s.metrics,
	})
	accountHandler := handler.NewAccountHandler(accountService, s.logger)
	healthHandler := handler.NewHealthHandler(s.db, s.logger)

	// === Global Middleware ===
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger, s.metrics))
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.config.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	s.router.NotFound(healthHandler.HandleNotFound)
	s.router.MethodNotAllowed(healthHandler.HandleMethodNotAllowed)

	// === Service Routes ===
	s.router.Get("/", healthHandler.HandleRoot)
	s.router.Get("/health", healthHandler.HandleHealth)
	s.router.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	// === Account Routes ===
	s.router.Post("/register", accountHandler.HandleRegister)
	s.router.Post("/login", accountHandler.HandleLogin)
	s.router.Get("/user", accountHandler.HandleGetAccount)
	s.router.Post("/send-otp", accountHandler.HandleSendOtp)
	s.router.Post("/verify-otp", accountHandler.HandleVerifyOtp)
	s.router.Post("/register-verified", accountHandler.HandleRegisterVerified)

	return nil
}

// Handler returns the router, for tests that drive it with httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases the database pool. Start calls it on the way out.
func (s *Server) Close() error {
	return s.db.Close()
}

// Start serves HTTP until SIGINT or SIGTERM, then shuts down gracefully:
// 1. Stop accepting new connections
// 2. Wait up to 30s for in-flight requests
// 3. Close the database pool
func (s *Server) Start() error {
	defer s.Close()

	srv := &http.Server{
		Addr:              s.config.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      s.config.Database.PoolTimeout + 15*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.String("addr", srv.Addr),
			slog.String("environment", s.config.Environment),
			slog.String("database", s.config.Database.Driver),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
