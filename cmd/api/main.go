package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/statement-import/internal/api/handlers"
	"github.com/dvloznov/statement-import/internal/api/middleware"
	"github.com/dvloznov/statement-import/internal/app"
	"github.com/dvloznov/statement-import/internal/config"
	"github.com/dvloznov/statement-import/internal/logger"
)

func main() {
	configFile := flag.String("config", "", "Path to a config file (default: ./config.yaml)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.Configure(os.Stdout, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()

	a, err := app.New(ctx, cfg, log, app.Options{})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build service")
	}
	defer a.Close()

	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	if err := a.Start(workerCtx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start workers")
	}

	mux := http.NewServeMux()
	handlers.NewUploadsHandler(a.Coordinator, a.Documents, a.Queue, a.Parsers, log).Register(mux)
	handlers.NewJobsHandler(a.JobStore, log).Register(mux)
	handlers.NewCategoriesHandler(a.Categories, log).Register(mux)

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"store":  cfg.Store.Driver,
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	handler := middleware.Recovery(log)(
		middleware.Logger(log)(
			middleware.RequestID(
				middleware.CORS(
					middleware.Identity(mux),
				),
			),
		),
	)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Str("store", cfg.Store.Driver).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Stop accepting new work before waiting on the workers.
	cancelWorkers()
	if err := a.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping workers")
	}

	log.Info().Msg("Server exited")
}
