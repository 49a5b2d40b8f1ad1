package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Document processing statuses
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusIngested   = "ingested"
	StatusFailed     = "failed"
)

// Document is the source of truth for a tenant's knowledge base entry.
// RawText is stored compressed (see utils/compression.go) and re-read
// whenever the document is re-ingested; chunks are derived data.
type Document struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	TenantID     primitive.ObjectID `bson:"tenant_id" json:"tenant_id"`
	Filename     string             `bson:"filename" json:"filename"`
	RawText      []byte             `bson:"raw_text" json:"-"`
	Compression  string             `bson:"compression,omitempty" json:"-"`
	Size         int64              `bson:"size" json:"size"`
	Status       string             `bson:"status" json:"status"`
	ErrorMessage string             `bson:"error_message,omitempty" json:"error_message,omitempty"`
	UploadedAt   time.Time          `bson:"uploaded_at" json:"uploaded_at"`
	IngestedAt   *time.Time         `bson:"ingested_at,omitempty" json:"ingested_at,omitempty"`
}
