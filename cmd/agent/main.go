package main

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/focus-coach/companion/api/handlers"
	"github.com/focus-coach/companion/internal/background"
	"github.com/focus-coach/companion/internal/buffer"
	"github.com/focus-coach/companion/internal/clock"
	"github.com/focus-coach/companion/internal/config"
	"github.com/focus-coach/companion/internal/db"
	"github.com/focus-coach/companion/internal/logger"
	"github.com/focus-coach/companion/internal/notify"
	"github.com/focus-coach/companion/internal/repository"
	"github.com/focus-coach/companion/internal/timers"
	"github.com/focus-coach/companion/internal/ws"
)

const shutdownTimeout = 5 * time.Second

func main() {
	configPath := getEnv("COACH_CONFIG", "coach.yaml")

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	// Keep recent log output for GET /api/logs
	journal := buffer.NewJournal(cfg.LogLines)
	log.SetOutput(io.MultiWriter(os.Stderr, journal))

	// Ensure data directory exists
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
		log.Fatalf("Failed to create database directory: %v", err)
	}

	// Initialize database
	database, err := db.InitDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.CloseDB()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stateRepo := repository.NewStateRepository(database)
	if err := stateRepo.Hydrate(ctx); err != nil {
		log.Fatalf("Failed to hydrate state: %v", err)
	}

	notifier, err := notify.FromCommand(cfg.NotifyCommand)
	if err != nil {
		log.Fatalf("Failed to create notifier: %v", err)
	}

	controller := background.NewController(stateRepo, notifier, clock.Real{})

	var opts []ws.Option
	var transcript *logger.Transcript
	if cfg.Transcript != "" {
		transcript, err = logger.NewTranscript(cfg.Transcript)
		if err != nil {
			log.Fatalf("Failed to open transcript: %v", err)
		}
		defer transcript.Close()
		opts = append(opts, ws.WithRecorder(transcript))
	}

	manager, err := ws.NewManager(cfg.Connection, ws.NewWebSocketDialer(), controller.Callbacks(), opts...)
	if err != nil {
		log.Fatalf("Failed to create connection manager: %v", err)
	}
	if transcript != nil {
		if err := transcript.WriteHeader(manager.URL()); err != nil {
			log.Printf("Failed to write transcript header: %v", err)
		}
	}

	reconciler := timers.NewReconciler(cfg.Timers, stateRepo, clock.Real{}, controller.ShowReminder)
	controller.Attach(manager, reconciler)

	reconciler.Start(ctx)
	manager.Connect()

	// Initialize Gin router
	r := gin.Default()

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":     "ok",
			"connection": manager.State().String(),
		})
	})

	agentHandler := handlers.NewAgentHandler(controller, journal)
	api := r.Group("/api")
	{
		agentHandler.RegisterRoutes(api)
	}

	srv := &http.Server{
		Addr:    cfg.Listen,
		Handler: h2c.NewHandler(r, &http2.Server{}),
	}

	go func() {
		log.Printf("Starting control API on %s", cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down agent...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Failed to shut down server: %v", err)
	}

	manager.Close()
	reconciler.Stop()
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
