package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// CacheEntry is a previously answered (query, response) pair. Entries are
// immutable once written: near-duplicate rows from racing misses are
// accepted, never deduplicated.
type CacheEntry struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	TenantID       primitive.ObjectID `bson:"tenant_id" json:"tenant_id"`
	Query          string             `bson:"query" json:"query"`
	Response       string             `bson:"response" json:"response"`
	Embedding      []byte             `bson:"embedding,omitempty" json:"-"`
	EmbeddingModel string             `bson:"embedding_model,omitempty" json:"-"`
	CreatedAt      time.Time          `bson:"created_at" json:"created_at"`
}

// CachedAnswer is the detached snapshot held by the in-memory cache index
// so that serving a hit never touches the store.
type CachedAnswer struct {
	ID       primitive.ObjectID
	TenantID primitive.ObjectID
	Response string
}
