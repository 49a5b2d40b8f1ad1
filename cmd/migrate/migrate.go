package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"asesoria-chatbot-platform/internal/ai"
	"asesoria-chatbot-platform/internal/config"
	"asesoria-chatbot-platform/internal/vector"
	"asesoria-chatbot-platform/services"

	"go.mongodb.org/mongo-driver/mongo"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run cmd/migrate/migrate.go <command>")
		fmt.Println("Commands:")
		fmt.Println("  create-indexes       - Create MongoDB indexes for all collections")
		fmt.Println("  backfill-embeddings  - Re-embed chunks and cache entries missing a usable embedding")
		os.Exit(1)
	}

	command := os.Args[1]

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Connect to MongoDB
	client, err := config.ConnectMongoDB(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	defer client.Disconnect(context.Background())

	switch command {
	case "create-indexes":
		if err := config.CreateIndexes(client, cfg.DBName); err != nil {
			log.Fatalf("Index creation failed: %v", err)
		}
		fmt.Println("Indexes created successfully!")

	case "backfill-embeddings":
		if err := backfillEmbeddings(cfg, client); err != nil {
			log.Fatalf("Backfill failed: %v", err)
		}
		fmt.Println("Embedding backfill completed successfully!")

	default:
		fmt.Printf("Unknown command: %s\n", command)
		os.Exit(1)
	}
}

// backfillEmbeddings re-embeds every chunk and cache entry whose stored
// embedding is absent, undecodable, or produced by a different encoder.
// The rebuild path does this lazily; running it offline avoids paying the
// encoding cost on the first request after a model change.
func backfillEmbeddings(cfg *config.Config, client *mongo.Client) error {
	if cfg.GeminiAPIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is required for backfill")
	}

	ctx := context.Background()
	encoder, err := ai.NewGeminiEncoder(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialize encoder: %w", err)
	}
	defer encoder.Close()

	db := client.Database(cfg.DBName)
	chunkStore := services.NewMongoChunkStore(db)
	cacheStore := services.NewMongoCacheStore(db)

	chunks, err := chunkStore.ListChunks(ctx)
	if err != nil {
		return fmt.Errorf("list chunks: %w", err)
	}
	repaired := 0
	for _, ch := range chunks {
		if embeddingUsable(ch.Embedding, ch.EmbeddingModel, encoder.Model(), cfg.VectorDimensions) {
			continue
		}
		vec, err := encoder.Encode(ctx, ch.Content)
		if err != nil {
			return fmt.Errorf("encode chunk %s: %w", ch.ID.Hex(), err)
		}
		blob, err := vector.MarshalBlob(vec)
		if err != nil {
			return fmt.Errorf("marshal chunk %s: %w", ch.ID.Hex(), err)
		}
		if err := chunkStore.SetChunkEmbedding(ctx, ch.ID, blob, encoder.Model()); err != nil {
			return fmt.Errorf("store chunk %s: %w", ch.ID.Hex(), err)
		}
		repaired++
	}
	fmt.Printf("Chunks: %d total, %d re-embedded\n", len(chunks), repaired)

	entries, err := cacheStore.ListEntries(ctx)
	if err != nil {
		return fmt.Errorf("list cache entries: %w", err)
	}
	repaired = 0
	for _, entry := range entries {
		if embeddingUsable(entry.Embedding, entry.EmbeddingModel, encoder.Model(), cfg.VectorDimensions) {
			continue
		}
		vec, err := encoder.Encode(ctx, entry.Query)
		if err != nil {
			return fmt.Errorf("encode cache entry %s: %w", entry.ID.Hex(), err)
		}
		blob, err := vector.MarshalBlob(vec)
		if err != nil {
			return fmt.Errorf("marshal cache entry %s: %w", entry.ID.Hex(), err)
		}
		if err := cacheStore.SetEntryEmbedding(ctx, entry.ID, blob, encoder.Model()); err != nil {
			return fmt.Errorf("store cache entry %s: %w", entry.ID.Hex(), err)
		}
		repaired++
	}
	fmt.Printf("Cache entries: %d total, %d re-embedded\n", len(entries), repaired)

	return nil
}

func embeddingUsable(blob []byte, model, wantModel string, dim int) bool {
	if len(blob) == 0 || model != wantModel {
		return false
	}
	_, err := vector.UnmarshalBlob(blob, dim)
	return err == nil
}
