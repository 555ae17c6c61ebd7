package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"textml-orchestrator/api/rest/routes"
	"textml-orchestrator/config"
	"textml-orchestrator/core/queue"
	"textml-orchestrator/core/repository"
	"textml-orchestrator/core/service"
	"textml-orchestrator/pkg/logger"
	"textml-orchestrator/storage"

	"github.com/gorilla/mux"
	amqp "github.com/rabbitmq/amqp091-go"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	// Initialize database
	db, err := repository.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("Failed to connect to database", "error", err)
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.Migrate(ctx); err != nil {
		log.Fatal("Failed to run migrations", "error", err)
	}
	log.Info("Database connected successfully")

	// Initialize blob store
	blobs, err := storage.NewArtifactStore(ctx, cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioSecure)
	if err != nil {
		log.Fatal("Failed to connect to blob store", "error", err)
	}

	// Initialize queue publisher
	conn, err := amqp.Dial(cfg.AMQPURL)
	if err != nil {
		log.Fatal("Failed to connect to message broker", "error", err)
	}
	defer conn.Close()

	publisher, err := queue.NewPublisher(conn, cfg.QueueExchange, cfg.QueueRoutingKey)
	if err != nil {
		log.Fatal("Failed to create publisher", "error", err)
	}
	defer publisher.Close()

	// Initialize repositories and service
	jobRepo := repository.NewJobRepository(db)
	exampleRepo := repository.NewExampleRepository(db)
	svc := service.NewTrainingService(jobRepo, exampleRepo, blobs, publisher, log)
	svc.GridSearchDefault = cfg.GridSearch

	// Setup routes
	r := mux.NewRouter()
	routes.SetupRoutes(r, svc, db, log)

	// Health check endpoint
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	// Start server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		log.Info("Starting server", "port", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed to start", "error", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown", "error", err)
	}
	log.Info("Server exited")
}
