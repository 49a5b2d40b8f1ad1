package services

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"asesoria-chatbot-platform/models"
)

// ChunkStore is the persistence boundary of the RAG service. The Mongo
// implementation below is the production one; tests substitute in-memory
// fakes.
type ChunkStore interface {
	InsertChunks(ctx context.Context, chunks []models.Chunk) error
	DeleteDocumentChunks(ctx context.Context, documentID primitive.ObjectID) error
	ListChunks(ctx context.Context) ([]models.Chunk, error)
	GetChunk(ctx context.Context, id primitive.ObjectID) (*models.Chunk, error)
	SetChunkEmbedding(ctx context.Context, id primitive.ObjectID, blob []byte, model string) error
	// FindChunksByContent does an exact substring search for any of the
	// given literal markers (keyword-boost stage of hybrid retrieval).
	FindChunksByContent(ctx context.Context, terms []string) ([]models.Chunk, error)
	// DocumentTenants resolves chunk ownership: document id -> tenant id.
	DocumentTenants(ctx context.Context) (map[primitive.ObjectID]primitive.ObjectID, error)
}

// CacheStore is the persistence boundary of the semantic cache. Entries are
// append-only; the only update ever issued is the self-healing embedding
// backfill.
type CacheStore interface {
	InsertEntry(ctx context.Context, entry *models.CacheEntry) error
	ListEntries(ctx context.Context) ([]models.CacheEntry, error)
	SetEntryEmbedding(ctx context.Context, id primitive.ObjectID, blob []byte, model string) error
}

// MongoChunkStore persists chunks in kb_chunks and resolves tenants through
// the documents collection.
type MongoChunkStore struct {
	chunks    *mongo.Collection
	documents *mongo.Collection
}

func NewMongoChunkStore(db *mongo.Database) *MongoChunkStore {
	return &MongoChunkStore{
		chunks:    db.Collection("kb_chunks"),
		documents: db.Collection("documents"),
	}
}

func (s *MongoChunkStore) InsertChunks(ctx context.Context, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	docs := make([]interface{}, len(chunks))
	for i := range chunks {
		docs[i] = chunks[i]
	}
	if _, err := s.chunks.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("insert chunks: %w", err)
	}
	return nil
}

func (s *MongoChunkStore) DeleteDocumentChunks(ctx context.Context, documentID primitive.ObjectID) error {
	if _, err := s.chunks.DeleteMany(ctx, bson.M{"document_id": documentID}); err != nil {
		return fmt.Errorf("delete chunks for document %s: %w", documentID.Hex(), err)
	}
	return nil
}

func (s *MongoChunkStore) ListChunks(ctx context.Context) ([]models.Chunk, error) {
	cursor, err := s.chunks.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	defer cursor.Close(ctx)

	var chunks []models.Chunk
	if err := cursor.All(ctx, &chunks); err != nil {
		return nil, fmt.Errorf("decode chunks: %w", err)
	}
	return chunks, nil
}

func (s *MongoChunkStore) GetChunk(ctx context.Context, id primitive.ObjectID) (*models.Chunk, error) {
	var chunk models.Chunk
	err := s.chunks.FindOne(ctx, bson.M{"_id": id}).Decode(&chunk)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get chunk %s: %w", id.Hex(), err)
	}
	return &chunk, nil
}

func (s *MongoChunkStore) SetChunkEmbedding(ctx context.Context, id primitive.ObjectID, blob []byte, model string) error {
	_, err := s.chunks.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"embedding": blob, "embedding_model": model}},
	)
	if err != nil {
		return fmt.Errorf("set chunk embedding %s: %w", id.Hex(), err)
	}
	return nil
}

func (s *MongoChunkStore) FindChunksByContent(ctx context.Context, terms []string) ([]models.Chunk, error) {
	if len(terms) == 0 {
		return nil, nil
	}
	ors := make([]bson.M, len(terms))
	for i, term := range terms {
		ors[i] = bson.M{"content": bson.M{
			"$regex":   regexp.QuoteMeta(term),
			"$options": "i",
		}}
	}
	cursor, err := s.chunks.Find(ctx, bson.M{"$or": ors})
	if err != nil {
		return nil, fmt.Errorf("keyword chunk search: %w", err)
	}
	defer cursor.Close(ctx)

	var chunks []models.Chunk
	if err := cursor.All(ctx, &chunks); err != nil {
		return nil, fmt.Errorf("decode keyword chunks: %w", err)
	}
	return chunks, nil
}

func (s *MongoChunkStore) DocumentTenants(ctx context.Context) (map[primitive.ObjectID]primitive.ObjectID, error) {
	cursor, err := s.documents.Find(ctx, bson.M{},
		options.Find().SetProjection(bson.M{"tenant_id": 1}))
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer cursor.Close(ctx)

	tenants := make(map[primitive.ObjectID]primitive.ObjectID)
	for cursor.Next(ctx) {
		var doc struct {
			ID       primitive.ObjectID `bson:"_id"`
			TenantID primitive.ObjectID `bson:"tenant_id"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode document: %w", err)
		}
		tenants[doc.ID] = doc.TenantID
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return tenants, nil
}

// MongoCacheStore persists semantic cache entries in cache_entries.
type MongoCacheStore struct {
	entries *mongo.Collection
}

func NewMongoCacheStore(db *mongo.Database) *MongoCacheStore {
	return &MongoCacheStore{entries: db.Collection("cache_entries")}
}

func (s *MongoCacheStore) InsertEntry(ctx context.Context, entry *models.CacheEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	res, err := s.entries.InsertOne(ctx, entry)
	if err != nil {
		return fmt.Errorf("insert cache entry: %w", err)
	}
	if oid, ok := res.InsertedID.(primitive.ObjectID); ok {
		entry.ID = oid
	}
	return nil
}

func (s *MongoCacheStore) ListEntries(ctx context.Context) ([]models.CacheEntry, error) {
	cursor, err := s.entries.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("list cache entries: %w", err)
	}
	defer cursor.Close(ctx)

	var entries []models.CacheEntry
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, fmt.Errorf("decode cache entries: %w", err)
	}
	return entries, nil
}

func (s *MongoCacheStore) SetEntryEmbedding(ctx context.Context, id primitive.ObjectID, blob []byte, model string) error {
	_, err := s.entries.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"embedding": blob, "embedding_model": model}},
	)
	if err != nil {
		return fmt.Errorf("set cache entry embedding %s: %w", id.Hex(), err)
	}
	return nil
}
