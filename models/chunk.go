package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Chunk is a bounded, overlapping window over one document's text and the
// unit of retrieval. Tenant ownership is derived through DocumentID.
// Embedding holds the versioned blob produced by internal/vector; it may be
// temporarily absent (legacy rows, partial migrations) and is backfilled
// during the next index rebuild.
type Chunk struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	DocumentID     primitive.ObjectID `bson:"document_id" json:"document_id"`
	Content        string             `bson:"content" json:"content"`
	Embedding      []byte             `bson:"embedding,omitempty" json:"-"`
	EmbeddingModel string             `bson:"embedding_model,omitempty" json:"-"`
	SequenceIndex  int                `bson:"sequence_index" json:"sequence_index"`
	CreatedAt      time.Time          `bson:"created_at" json:"created_at"`
}
