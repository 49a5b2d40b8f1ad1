package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"asesoria-chatbot-platform/internal/logger"
	"asesoria-chatbot-platform/models"
	"asesoria-chatbot-platform/services"
	"asesoria-chatbot-platform/utils"
)

const (
	TaskIngestDocument = "document:ingest"
	TaskRebuildIndexes = "index:rebuild"
)

type IngestDocumentPayload struct {
	DocumentID string `json:"document_id"`
	TenantID   string `json:"tenant_id"`
}

// NewIngestDocumentTask enqueues chunking + embedding + index rebuild for
// one uploaded document.
func NewIngestDocumentTask(documentID, tenantID, queueName string) (*asynq.Task, error) {
	payload, err := json.Marshal(IngestDocumentPayload{
		DocumentID: documentID,
		TenantID:   tenantID,
	})
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(
		TaskIngestDocument,
		payload,
		asynq.MaxRetry(3),
		asynq.Timeout(10*time.Minute),
		asynq.Queue(queueName),
	), nil
}

// NewRebuildIndexesTask asks the worker for an out-of-schedule full rebuild
// of both in-memory indices.
func NewRebuildIndexesTask() *asynq.Task {
	return asynq.NewTask(
		TaskRebuildIndexes,
		nil,
		asynq.MaxRetry(1),
		asynq.Timeout(10*time.Minute),
		asynq.Queue("low"),
	)
}

// TaskProcessor executes background tasks against the retrieval core.
type TaskProcessor struct {
	documents *mongo.Collection
	rag       *services.RAGService
	cache     *services.SemanticCacheService
}

func NewTaskProcessor(db *mongo.Database, rag *services.RAGService, cache *services.SemanticCacheService) *TaskProcessor {
	return &TaskProcessor{
		documents: db.Collection("documents"),
		rag:       rag,
		cache:     cache,
	}
}

// HandleIngestDocument loads the stored raw text and runs it through the
// ingestion pipeline. The document status records the outcome; a failed
// ingestion leaves the document un-ingested with no partial chunk set.
func (p *TaskProcessor) HandleIngestDocument(ctx context.Context, t *asynq.Task) error {
	var payload IngestDocumentPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal failed: %w", asynq.SkipRetry)
	}

	docID, err := primitive.ObjectIDFromHex(payload.DocumentID)
	if err != nil {
		return fmt.Errorf("bad document id %q: %w", payload.DocumentID, asynq.SkipRetry)
	}
	tenantID, err := primitive.ObjectIDFromHex(payload.TenantID)
	if err != nil {
		return fmt.Errorf("bad tenant id %q: %w", payload.TenantID, asynq.SkipRetry)
	}

	logger.Info("Ingesting document", "document_id", payload.DocumentID, "tenant_id", payload.TenantID)

	var doc models.Document
	if err := p.documents.FindOne(ctx, bson.M{"_id": docID}).Decode(&doc); err != nil {
		return fmt.Errorf("load document %s: %w", payload.DocumentID, err)
	}

	p.setStatus(ctx, docID, models.StatusProcessing, "")

	text, err := utils.DecompressText(doc.RawText, utils.CompressionAlgorithm(doc.Compression))
	if err != nil {
		p.setStatus(ctx, docID, models.StatusFailed, err.Error())
		return fmt.Errorf("decompress document %s: %w", payload.DocumentID, asynq.SkipRetry)
	}

	if err := p.rag.IngestDocument(ctx, docID, tenantID, text); err != nil {
		p.setStatus(ctx, docID, models.StatusFailed, err.Error())
		return err // will retry
	}

	now := time.Now()
	_, err = p.documents.UpdateOne(ctx,
		bson.M{"_id": docID},
		bson.M{"$set": bson.M{
			"status":        models.StatusIngested,
			"error_message": "",
			"ingested_at":   now,
		}},
	)
	if err != nil {
		logger.Error("Could not mark document ingested", "document_id", payload.DocumentID, "error", err)
	}

	logger.Info("Document ingested", "document_id", payload.DocumentID)
	return nil
}

// HandleRebuildIndexes rebuilds both indices from their stores.
func (p *TaskProcessor) HandleRebuildIndexes(ctx context.Context, t *asynq.Task) error {
	if err := p.rag.Reload(ctx); err != nil {
		return fmt.Errorf("rebuild rag index: %w", err)
	}
	if err := p.cache.Reload(ctx); err != nil {
		return fmt.Errorf("rebuild cache index: %w", err)
	}
	return nil
}

func (p *TaskProcessor) setStatus(ctx context.Context, id primitive.ObjectID, status, errMsg string) {
	_, err := p.documents.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"status": status, "error_message": errMsg}},
	)
	if err != nil {
		logger.Error("Could not update document status", "document_id", id.Hex(), "error", err)
	}
}
