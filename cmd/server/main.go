package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/jwtauth/v5"
	"github.com/go-chi/render"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bookvault/bookvault/internal/api"
	"github.com/bookvault/bookvault/pkg/bookvault/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Environment)
	slog.SetDefault(logger)

	ctx := context.Background()
	app, err := cfg.BuildApp(ctx, logger)
	if err != nil {
		logger.Error("failed to build service", "error", err)
		os.Exit(1)
	}

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Port),
		Handler: routes(cfg, app, logger),
	}

	go func() {
		logger.Info("bookvault server starting",
			"port", cfg.Port,
			"env", cfg.Environment,
			"storage", cfg.StorageBackend)

		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	// Let in-flight cover jobs drain before the process exits.
	app.Close()
	logger.Info("server exiting")
}

func newLogger(environment string) *slog.Logger {
	if environment == "production" {
		return slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      slog.LevelDebug,
		TimeFormat: time.Kitchen,
	}))
}

func routes(cfg *config.ServerConfig, app *config.App, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	limits, _ := cfg.Limits()
	booksHandler := api.NewBooksHandler(app.Service, limits.MaxFileBytes, logger)

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.JWTSecret != "" {
			tokenAuth := jwtauth.New("HS256", []byte(cfg.JWTSecret), nil)
			r.Use(jwtauth.Verifier(tokenAuth))
			r.Use(jwtauth.Authenticator(tokenAuth))
		} else {
			logger.Warn("JWT_SECRET not set; API accepts owner_id parameter (development only)")
		}
		r.Mount("/books", booksHandler.Routes())
	})

	// Signed downloads only exist for the filesystem backend.
	if app.FSStore != nil {
		r.Mount("/download", api.NewDownloadHandler(app.FSStore, logger).Routes())
	}

	return r
}
