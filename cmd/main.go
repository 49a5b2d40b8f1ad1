package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"asesoria-chatbot-platform/internal/ai"
	"asesoria-chatbot-platform/internal/config"
	"asesoria-chatbot-platform/internal/logger"
	"asesoria-chatbot-platform/internal/telemetry"
	"asesoria-chatbot-platform/middleware"
	"asesoria-chatbot-platform/routes"
	"asesoria-chatbot-platform/services"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	logger.InitLogger(cfg)

	// Telemetry
	if cfg.TracingEnabled {
		shutdownTracer, err := telemetry.InitTracer("asesoria-chatbot-api", cfg.OTLPEndpoint)
		if err != nil {
			logger.Warn("Tracing disabled", "error", err)
		} else {
			defer shutdownTracer()
		}
	}
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

	// Connect to Redis (rate limiting, token revocation, task broker)
	rdb, err := config.NewRedisClient(cfg)
	if err != nil {
		log.Fatal("Failed to connect to Redis:", err)
	}
	defer rdb.Close()

	asynqClient := asynq.NewClient(config.AsynqRedisOpt(cfg))
	defer asynqClient.Close()

	// AI backends. A missing API key leaves both nil: retrieval degrades
	// to empty context and the cache stops answering, but uploads and
	// document management keep working.
	ctx := context.Background()
	var encoder ai.Encoder
	var generator *ai.Generator
	if cfg.GeminiAPIKey != "" {
		geminiEncoder, err := ai.NewGeminiEncoder(ctx, cfg)
		if err != nil {
			log.Fatal("Failed to initialize embeddings encoder:", err)
		}
		defer geminiEncoder.Close()
		encoder = geminiEncoder

		generator, err = ai.NewGenerator(ctx, cfg)
		if err != nil {
			log.Fatal("Failed to initialize generator:", err)
		}
		defer generator.Close()
	} else {
		logger.Warn("GEMINI_API_KEY not set, running in degraded mode without embeddings or generation")
	}

	// Retrieval core
	chunkStore := services.NewMongoChunkStore(db)
	cacheStore := services.NewMongoCacheStore(db)
	rag := services.NewRAGService(encoder, chunkStore, cfg,
		services.WithRAGMetrics(metrics))
	cache := services.NewSemanticCacheService(encoder, cacheStore, cfg,
		services.WithCacheMetrics(metrics))

	// Warm the in-memory indexes before taking traffic
	if err := rag.Reload(ctx); err != nil {
		logger.Error("Initial knowledge index build failed", "error", err)
	}
	if err := cache.Reload(ctx); err != nil {
		logger.Error("Initial cache index build failed", "error", err)
	}

	// Periodic rebuilds pick up writes from other processes and heal
	// entries missing embeddings
	scheduler := services.NewRebuildScheduler(rag, cache, metrics,
		time.Duration(cfg.RebuildIntervalMins)*time.Minute)
	scheduler.Start()
	defer scheduler.Stop()

	extractor := services.NewTextExtractor(cfg.MaxFileSize)

	// Initialize Gin router
	if cfg.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	if cfg.TracingEnabled {
		router.Use(middleware.TracingMiddleware())
		router.Use(middleware.EnrichTrace())
	}
	router.Use(middleware.MetricsMiddleware(metrics))
	router.Use(middleware.RateLimitMiddleware(rdb, cfg))

	// CORS configuration
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.CORSOrigins
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With"}
	corsConfig.AllowCredentials = true
	router.Use(cors.New(corsConfig))

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":           "healthy",
			"timestamp":        time.Now(),
			"kb_index_size":    rag.IndexSize(),
			"cache_index_size": cache.IndexSize(),
		})
	})

	// Initialize middleware
	authMiddleware := middleware.NewAuthMiddleware(cfg, rdb)

	// Setup routes
	routes.SetupKnowledgeRoutes(router, cfg, db, rag, cache, chunkStore, extractor, asynqClient, authMiddleware)
	routes.SetupChatRoutes(router, cfg, db, rag, cache, generator, metrics, authMiddleware)

	// Create HTTP server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("Server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	logger.Info("Server exited")
}
