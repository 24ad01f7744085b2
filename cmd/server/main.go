package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/schoolworks/admincore/internal/alerts"
	"github.com/schoolworks/admincore/internal/audit"
	"github.com/schoolworks/admincore/internal/auth"
	"github.com/schoolworks/admincore/internal/authz"
	"github.com/schoolworks/admincore/internal/config"
	"github.com/schoolworks/admincore/internal/csrf"
	"github.com/schoolworks/admincore/internal/health"
	applog "github.com/schoolworks/admincore/internal/logger"
	"github.com/schoolworks/admincore/internal/metrics"
	appmw "github.com/schoolworks/admincore/internal/middleware"
	"github.com/schoolworks/admincore/internal/ratelimit"
	"github.com/schoolworks/admincore/internal/repository"
	"github.com/schoolworks/admincore/internal/session"
	"github.com/schoolworks/admincore/internal/threat"
)

func main() {
	cfg := config.Load()

	if cfg.Session.Secret == "" {
		log.Fatal("SESSION_SECRET environment variable is required")
	}

	logger := applog.New(applog.DefaultConfig())

	pool, err := setupDatabase(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	// Repositories
	accountRepo := repository.NewAccountRepository(pool)
	sessionRepo := repository.NewSessionRepository(pool)
	eventRepo := repository.NewSecurityEventRepository(pool)

	// Core services, constructed once and injected everywhere
	feed := alerts.NewFeed()
	for _, event := range []string{audit.EventLoginLocked, audit.EventThreatRateLimited, audit.EventStorageFailure} {
		feed.Subscribe(event, func(a alerts.Alert) {
			logger.Error("operator alert",
				"event", a.Event,
				"account_id", a.AccountID,
				"email", a.Email,
				"ip", a.IPAddress,
			)
		})
	}
	recorder := audit.NewRecorder(eventRepo, feed, logger)
	limiter := ratelimit.NewLimiter()
	checker := authz.NewChecker(authz.DefaultTable())
	guard := csrf.NewGuard(sessionRepo)

	codec := session.NewHandleCodec(cfg.Session.Secret, cfg.Session.Issuer)
	sessionManager := session.NewManager(sessionRepo, codec, session.Config{
		Timeout:          cfg.Session.Timeout,
		RotationInterval: cfg.Session.RotationInterval,
	}, logger)

	detector, err := threat.NewDetector(threat.Config{
		SQLPatterns:       cfg.Threat.SQLPatterns,
		MarkupPatterns:    cfg.Threat.MarkupPatterns,
		TraversalPatterns: cfg.Threat.TraversalPatterns,
		UserAgentDenylist: cfg.Threat.UserAgentDenylist,
	})
	if err != nil {
		log.Fatalf("Invalid threat signature configuration: %v", err)
	}

	passwordValidator := auth.NewPasswordValidator()
	authService := auth.NewService(
		accountRepo,
		sessionManager,
		limiter,
		recorder,
		passwordValidator,
		checker,
		cfg.Login,
		logger,
	)

	secureCookies := os.Getenv("INSECURE_COOKIES") == ""
	authHandler := auth.NewHandler(authService, guard, secureCookies)
	healthHandler := health.NewHandler(pool)

	// Request-level gates
	sessionMW := appmw.NewSessionMiddleware(sessionManager, checker, recorder, logger, secureCookies)
	csrfMW := appmw.NewCSRFMiddleware(guard, recorder)
	threatGuard := appmw.NewThreatGuard(detector, limiter, recorder,
		cfg.Threat.SuspiciousMaxAttempts, cfg.Threat.SuspiciousWindow)
	loggingMW := appmw.NewLoggingMiddleware(logger)

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(loggingMW.Handler)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", appmw.CSRFHeaderName},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Threat inspection runs before anything routed below it
	r.Use(threatGuard.Handler)

	r.Get("/health", healthHandler.Check)
	metrics.RegisterRoutes(r)

	r.Route("/api/v1", func(r chi.Router) {
		auth.RegisterRoutes(r, authHandler, sessionMW.RequireSession, csrfMW.Protect)
	})

	addr := cfg.Server.Host + ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server shutdown failed: %v", err)
	}
}

// setupDatabase creates the pgx connection pool
func setupDatabase(cfg *config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	poolCfg, err := pgxpool.ParseConfig(cfg.Database.DSN())
	if err != nil {
		return nil, err
	}
	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return pool, nil
}
