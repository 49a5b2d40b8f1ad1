package main

import (
	"context"
	"log"
	"time"

	"asesoria-chatbot-platform/internal/ai"
	"asesoria-chatbot-platform/internal/config"
	"asesoria-chatbot-platform/internal/logger"
	"asesoria-chatbot-platform/internal/queue"
	"asesoria-chatbot-platform/internal/telemetry"
	"asesoria-chatbot-platform/services"

	"github.com/hibiken/asynq"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	logger.InitLogger(cfg)

	metrics, err := telemetry.InitMetrics()
	if err != nil {
		log.Fatal("Failed to init metrics:", err)
	}

	// Connect to MongoDB
	mongoClient, err := config.ConnectMongoDB(cfg)
	if err != nil {
		log.Fatal("Failed to connect to MongoDB:", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		mongoClient.Disconnect(ctx)
	}()
	db := mongoClient.Database(cfg.DBName)

	// The worker ingests documents, so it needs a working encoder; unlike
	// the API it cannot run usefully without one.
	ctx := context.Background()
	var encoder ai.Encoder
	if cfg.GeminiAPIKey != "" {
		geminiEncoder, err := ai.NewGeminiEncoder(ctx, cfg)
		if err != nil {
			log.Fatal("Failed to initialize embeddings encoder:", err)
		}
		defer geminiEncoder.Close()
		encoder = geminiEncoder
	} else {
		logger.Warn("GEMINI_API_KEY not set, ingestion tasks will fail until it is configured")
	}

	// The worker holds its own index replicas; rebuild tasks from the API
	// keep them current between scheduled sweeps.
	chunkStore := services.NewMongoChunkStore(db)
	cacheStore := services.NewMongoCacheStore(db)
	rag := services.NewRAGService(encoder, chunkStore, cfg,
		services.WithRAGMetrics(metrics))
	cache := services.NewSemanticCacheService(encoder, cacheStore, cfg,
		services.WithCacheMetrics(metrics))

	if err := rag.Reload(ctx); err != nil {
		logger.Error("Initial knowledge index build failed", "error", err)
	}
	if err := cache.Reload(ctx); err != nil {
		logger.Error("Initial cache index build failed", "error", err)
	}

	// Queue weights: ingestion ahead of maintenance rebuilds
	queues := map[string]int{
		cfg.IngestQueueName: 6,
		"low":               1,
	}

	// Create Asynq server
	server := asynq.NewServer(
		config.AsynqRedisOpt(cfg),
		asynq.Config{
			Concurrency: 10,
			Queues:      queues,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("Task failed", "type", task.Type(), "error", err)
			}),
		},
	)

	// Create task processor
	processor := queue.NewTaskProcessor(db, rag, cache)

	// Create mux and register handlers
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TaskIngestDocument, processor.HandleIngestDocument)
	mux.HandleFunc(queue.TaskRebuildIndexes, processor.HandleRebuildIndexes)

	logger.Info("Starting worker", "queues", queues)

	// Start the server
	if err := server.Run(mux); err != nil {
		log.Fatal("Failed to start worker:", err)
	}
}
