package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	MongoURI    string
	DBName      string
	Port        string
	GinMode     string
	CORSOrigins []string

	// Auth (token issuance lives in the account service; we only verify)
	AccessSecret string

	// Redis (asynq backing + request rate limiting)
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// Rate limiting
	RateLimitReqs   int
	RateLimitWindow int

	// Upload handling
	MaxFileSize  int64
	AllowedTypes []string

	// Chunking: chunk size is a token budget, converted to characters at
	// ~4 chars/token inside the chunker
	ChunkTokenBudget int
	ChunkOverlap     int

	// Embeddings
	GeminiAPIKey          string
	EmbeddingsProvider    string // "google" (default)
	GoogleEmbeddingsModel string // e.g. "text-embedding-004"
	VectorDimensions      int
	GeminiTier            string

	// Generation
	GenerationModel string

	// Retrieval / semantic cache tuning. Both are configuration, not
	// load-bearing constants: override per deployment.
	RetrievalTopK        int
	RetrievalOversample  int
	CacheThreshold       float64
	RebuildIntervalMins  int
	SyncProcessingLimit  int64
	IngestQueueName      string

	// Telemetry
	OTLPEndpoint   string
	TracingEnabled bool
}

func LoadConfig() (*Config, error) {
	// Load .env file if exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("error loading .env file: %v", err)
		}
	}

	cfg := &Config{
		MongoURI:    getEnv("MONGO_URI", "mongodb://localhost:27017/asesoria_chatbot"),
		DBName:      getEnv("DB_NAME", "asesoria_chatbot"),
		Port:        getEnv("PORT", "8080"),
		GinMode:     getEnv("GIN_MODE", "debug"),
		CORSOrigins: strings.Split(getEnv("CORS_ORIGINS", "http://localhost:3000,http://localhost:8080"), ","),

		AccessSecret: getEnv("ACCESS_SECRET", ""),

		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		RateLimitReqs:   getEnvInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow: getEnvInt("RATE_LIMIT_WINDOW", 60),

		MaxFileSize:  getEnvInt64("MAX_FILE_SIZE", 52428800), // 50MB
		AllowedTypes: strings.Split(getEnv("ALLOWED_FILE_TYPES", "application/pdf"), ","),

		ChunkTokenBudget: getEnvInt("CHUNK_TOKEN_BUDGET", 500),
		ChunkOverlap:     getEnvInt("CHUNK_OVERLAP", 200),

		GeminiAPIKey:          getEnv("GEMINI_API_KEY", ""),
		EmbeddingsProvider:    getEnv("EMBEDDINGS_PROVIDER", "google"),
		GoogleEmbeddingsModel: getEnv("GOOGLE_EMBEDDINGS_MODEL", "text-embedding-004"),
		VectorDimensions:      getEnvInt("VECTOR_DIM", 384),
		GeminiTier:            getEnv("GEMINI_TIER", "free"),

		GenerationModel: getEnv("GENERATION_MODEL", "gemini-2.0-flash"),

		RetrievalTopK:       getEnvInt("RETRIEVAL_TOP_K", 5),
		RetrievalOversample: getEnvInt("RETRIEVAL_OVERSAMPLE", 20),
		CacheThreshold:      getEnvFloat64("CACHE_SIMILARITY_THRESHOLD", 0.85),
		RebuildIntervalMins: getEnvInt("REBUILD_INTERVAL_MINUTES", 30),
		SyncProcessingLimit: getEnvInt64("SYNC_PROCESSING_LIMIT", 1048576), // 1MB: larger uploads go through the worker
		IngestQueueName:     getEnv("INGEST_QUEUE", "critical"),

		OTLPEndpoint:   getEnv("OTLP_ENDPOINT", "localhost:4317"),
		TracingEnabled: getEnvBool("TRACING_ENABLED", false),
	}

	if cfg.AccessSecret == "" {
		return nil, fmt.Errorf("ACCESS_SECRET is required - set it in .env file")
	}
	if cfg.VectorDimensions <= 0 {
		return nil, fmt.Errorf("VECTOR_DIM must be positive, got %d", cfg.VectorDimensions)
	}
	if cfg.ChunkOverlap >= cfg.ChunkTokenBudget*4 {
		return nil, fmt.Errorf("CHUNK_OVERLAP (%d chars) must be smaller than the chunk window (%d chars)",
			cfg.ChunkOverlap, cfg.ChunkTokenBudget*4)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}
