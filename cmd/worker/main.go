package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"textml-orchestrator/config"
	"textml-orchestrator/core/monitoring"
	"textml-orchestrator/core/progress"
	"textml-orchestrator/core/queue"
	"textml-orchestrator/core/repository"
	"textml-orchestrator/core/worker"
	"textml-orchestrator/pkg/logger"
	"textml-orchestrator/storage"
	"textml-orchestrator/training"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	db, err := repository.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("Failed to connect to database", "error", err)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		log.Fatal("Failed to run migrations", "error", err)
	}

	// Initialize blob store
	blobs, err := storage.NewArtifactStore(ctx, cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioSecure)
	if err != nil {
		log.Fatal("Failed to connect to blob store", "error", err)
	}

	// Initialize progress cache
	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	})
	defer redisClient.Close()
	tracker := progress.NewTracker(redisClient)

	// Initialize worker
	jobRepo := repository.NewJobRepository(db)
	w := worker.New(jobRepo, blobs, blobs, tracker, training.NewTrainer(), cfg.MaxConcurrentJobs, log)

	// Initialize queue consumer
	conn, err := amqp.Dial(cfg.AMQPURL)
	if err != nil {
		log.Fatal("Failed to connect to message broker", "error", err)
	}
	defer conn.Close()

	// Prefetch one past the concurrency cap so a delivery is already local
	// when a slot frees up.
	consumer, err := queue.NewConsumer(conn, cfg.QueueExchange, cfg.QueueRoutingKey, cfg.QueueName, cfg.MaxConcurrentJobs+1, cfg.AckDeadline, w, log)
	if err != nil {
		log.Fatal("Failed to create consumer", "error", err)
	}
	defer consumer.Close()

	// Staleness watchdog
	watchdog := monitoring.NewStalenessWatchdog(jobRepo, cfg.StaleThreshold, cfg.WatchdogInterval, log)
	go watchdog.Start(ctx)

	go func() {
		if err := consumer.Start(ctx); err != nil {
			log.Fatal("Consumer stopped", "error", err)
		}
	}()

	log.Info("Worker started", "maxConcurrentJobs", cfg.MaxConcurrentJobs)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down worker...")
	cancel()
	log.Info("Worker exited")
}
