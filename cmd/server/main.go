package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Forest904/beathub/internal/broker"
	"github.com/Forest904/beathub/internal/config"
	"github.com/Forest904/beathub/internal/constants"
	"github.com/Forest904/beathub/internal/engine"
	httpapp "github.com/Forest904/beathub/internal/http"
	"github.com/Forest904/beathub/internal/logger"
	"github.com/Forest904/beathub/internal/queue"
	"github.com/Forest904/beathub/internal/store"
)

func main() {
	cfg := config.Load()

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	appLogger := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})

	db, err := store.NewSQLiteDB(cfg.DBPath)
	if err != nil {
		appLogger.Error("Failed to init DB", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// The engine is thread-affine: the handle owns its one instance and the
	// goroutine that drives it. Construction blocks until it is ready.
	handle, err := engine.NewHandle(func() (engine.Engine, error) {
		return engine.NewHifiEngine(cfg.EngineURL, cfg.Quality, cfg.DownloadsDir, appLogger)
	}, appLogger)
	if err != nil {
		appLogger.Error("Failed to start engine", "error", err)
		os.Exit(1)
	}
	defer handle.Close()

	progressBroker := broker.New(appLogger)

	jobQueue := queue.New(handle, progressBroker, appLogger, queue.Options{
		Workers:        cfg.WorkerCount,
		MaxAttempts:    cfg.MaxAttempts,
		OutputTemplate: cfg.SubdirTemplate,
		Credentials: func(ownerID int64) bool {
			return cfg.ArlToken != ""
		},
		Persist: db.SaveResult,
	})
	jobQueue.Start()
	defer jobQueue.Stop()

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	h := httpapp.NewHandler(jobQueue, progressBroker, db, cfg.HeartbeatInterval, appLogger)
	h.RegisterRoutes(r)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		log.Printf("Server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exiting")
}
