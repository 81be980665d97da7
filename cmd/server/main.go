package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/zifrone/contact/internal/app"
	"github.com/zifrone/contact/internal/config"
	"github.com/zifrone/contact/internal/health"
	"github.com/zifrone/contact/internal/logger"
	"github.com/zifrone/contact/internal/metrics"
	"github.com/zifrone/contact/internal/middleware"
)

// Version is set at build time
var Version = "dev"

const (
	csrfTokenRequests = 30
	csrfTokenWindow   = time.Minute
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	log := logger.New(cfg.Logger())
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bootCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	svc, err := app.Build(bootCtx, cfg, log)
	cancel()
	if err != nil {
		log.Error("Failed to build service", slog.Any("error", err))
		os.Exit(1)
	}
	defer svc.Close()
	svc.Start(ctx)

	healthHandler := health.NewHandler(health.Config{Checks: svc.Checks, Version: Version})

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      newRouter(svc, healthHandler, log),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("Starting server",
			slog.String("addr", srv.Addr),
			slog.String("contact_path", cfg.Server.ContactPath),
			slog.String("environment", cfg.Environment),
			slog.String("version", Version),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()

	log.Info("Shutting down server")
	healthHandler.SetReady(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", slog.Any("error", err))
	}
	log.Info("Server exited")
}

func newRouter(svc *app.Service, hh *health.Handler, log *slog.Logger) http.Handler {
	cfg := svc.Config

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	if cfg.Server.TrustForwardedFor {
		r.Use(chimw.RealIP)
	}
	r.Use(middleware.StructuredLogger(log))
	r.Use(chimw.Recoverer)
	r.Use(metrics.Middleware)

	r.Get("/health", hh.Health)
	r.Get("/health/ready", hh.Readiness)
	r.Get("/health/live", hh.Liveness)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	// the intake handler answers every method itself, including OPTIONS
	r.Handle(cfg.Server.ContactPath, svc.Handler)

	if svc.CSRF != nil {
		r.Group(func(r chi.Router) {
			r.Use(cors.Handler(cors.Options{
				AllowedOrigins: []string{cfg.AllowedOrigin()},
				AllowedMethods: []string{http.MethodGet, http.MethodOptions},
				AllowedHeaders: []string{"Accept", "Content-Type", "X-Requested-With"},
				MaxAge:         300,
			}))
			r.Use(middleware.RateLimit(middleware.RateLimitConfig{
				Limiter:     svc.Limiter,
				MaxRequests: csrfTokenRequests,
				Window:      csrfTokenWindow,
				Scope:       "csrf",
				Key:         middleware.ClientIPKey(cfg.Server.TrustForwardedFor),
				Logger:      log,
			}))
			r.Get("/api/csrf-token", csrfTokenHandler(svc, log))
		})
	}

	return r
}

func csrfTokenHandler(svc *app.Service, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")

		token, err := svc.CSRF.Issue()
		if err != nil {
			logger.WithCorrelationID(r.Context(), log).Error("Failed to issue CSRF token", slog.Any("error", err))
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "Internal server error"})
			return
		}
		_ = json.NewEncoder(w).Encode(token)
	}
}
