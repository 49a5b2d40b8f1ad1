package routes

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"asesoria-chatbot-platform/internal/config"
	"asesoria-chatbot-platform/internal/logger"
	"asesoria-chatbot-platform/internal/queue"
	"asesoria-chatbot-platform/middleware"
	"asesoria-chatbot-platform/models"
	"asesoria-chatbot-platform/services"
	"asesoria-chatbot-platform/utils"
)

// QueryRequest asks for grounding context for a query.
type QueryRequest struct {
	Query string `json:"query" binding:"required"`
	TopK  int    `json:"top_k,omitempty"`
}

// SetupKnowledgeRoutes wires the tenant knowledge-base surface: document
// lifecycle, context retrieval and index reloads.
func SetupKnowledgeRoutes(
	router *gin.Engine,
	cfg *config.Config,
	db *mongo.Database,
	rag *services.RAGService,
	cache *services.SemanticCacheService,
	chunkStore services.ChunkStore,
	extractor *services.TextExtractor,
	asynqClient *asynq.Client,
	authMiddleware *middleware.AuthMiddleware,
) {
	knowledge := router.Group("/knowledge")
	knowledge.Use(authMiddleware.RequireAuth())

	documentsCollection := db.Collection("documents")

	// Upload a document: extract text, persist it compressed, then ingest.
	// Small files are ingested inline; larger ones go through the worker.
	knowledge.POST("/documents", func(c *gin.Context) {
		tenantID, ok := middleware.TenantID(c)
		if !ok {
			utils.RespondWithUnauthorized(c, "Missing tenant")
			return
		}

		fileHeader, err := c.FormFile("file")
		if err != nil {
			utils.RespondWithBadRequest(c, "Missing file upload", gin.H{"error": err.Error()})
			return
		}
		if fileHeader.Size > cfg.MaxFileSize {
			utils.RespondWithBadRequest(c, "File too large", gin.H{"max_bytes": cfg.MaxFileSize})
			return
		}

		file, err := fileHeader.Open()
		if err != nil {
			utils.RespondWithInternalError(c, "Could not open upload", nil)
			return
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			utils.RespondWithInternalError(c, "Could not read upload", nil)
			return
		}

		text, err := extractor.ExtractText(c.Request.Context(), fileHeader.Filename, data)
		if err != nil {
			utils.RespondWithBadRequest(c, "Could not extract text from file", gin.H{"error": err.Error()})
			return
		}

		compressed, algorithm, err := utils.CompressText(text)
		if err != nil {
			utils.RespondWithInternalError(c, "Could not store document text", nil)
			return
		}

		doc := models.Document{
			TenantID:    tenantID,
			Filename:    fileHeader.Filename,
			RawText:     compressed,
			Compression: string(algorithm),
			Size:        fileHeader.Size,
			Status:      models.StatusPending,
			UploadedAt:  time.Now(),
		}
		res, err := documentsCollection.InsertOne(c.Request.Context(), doc)
		if err != nil {
			utils.RespondWithUnavailable(c, "Document store unavailable")
			return
		}
		docID := res.InsertedID.(primitive.ObjectID)

		if fileHeader.Size <= cfg.SyncProcessingLimit {
			if err := rag.IngestDocument(c.Request.Context(), docID, tenantID, text); err != nil {
				logger.Error("Inline ingestion failed", "document_id", docID.Hex(), "error", err)
				markDocumentFailed(c, documentsCollection, docID, err)
				utils.RespondWithUnavailable(c, "Document stored but ingestion failed; it will be retried")
				return
			}
			now := time.Now()
			if _, err := documentsCollection.UpdateOne(c.Request.Context(),
				bson.M{"_id": docID},
				bson.M{"$set": bson.M{"status": models.StatusIngested, "ingested_at": now}}); err != nil {
				logger.Error("Could not mark document ingested", "document_id", docID.Hex(), "error", err)
			}
			c.JSON(http.StatusCreated, gin.H{"id": docID.Hex(), "status": models.StatusIngested})
			return
		}

		task, err := queue.NewIngestDocumentTask(docID.Hex(), tenantID.Hex(), cfg.IngestQueueName)
		if err != nil {
			utils.RespondWithInternalError(c, "Could not schedule ingestion", nil)
			return
		}
		if _, err := asynqClient.Enqueue(task); err != nil {
			utils.RespondWithUnavailable(c, "Ingestion queue unavailable")
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"id": docID.Hex(), "status": models.StatusPending})
	})

	// List the tenant's documents, newest first.
	knowledge.GET("/documents", func(c *gin.Context) {
		tenantID, ok := middleware.TenantID(c)
		if !ok {
			utils.RespondWithUnauthorized(c, "Missing tenant")
			return
		}

		cursor, err := documentsCollection.Find(c.Request.Context(),
			bson.M{"tenant_id": tenantID},
			options.Find().SetSort(bson.M{"uploaded_at": -1}))
		if err != nil {
			utils.RespondWithUnavailable(c, "Document store unavailable")
			return
		}
		defer cursor.Close(c.Request.Context())

		var docs []models.Document
		if err := cursor.All(c.Request.Context(), &docs); err != nil {
			utils.RespondWithInternalError(c, "Could not decode documents", nil)
			return
		}
		c.JSON(http.StatusOK, gin.H{"documents": docs})
	})

	// Delete a document. Chunks cascade, and the index is rebuilt so the
	// removed content stops being retrievable in this process immediately.
	knowledge.DELETE("/documents/:id", func(c *gin.Context) {
		tenantID, ok := middleware.TenantID(c)
		if !ok {
			utils.RespondWithUnauthorized(c, "Missing tenant")
			return
		}
		docID, err := primitive.ObjectIDFromHex(c.Param("id"))
		if err != nil {
			utils.RespondWithBadRequest(c, "Malformed document id", nil)
			return
		}

		res, err := documentsCollection.DeleteOne(c.Request.Context(),
			bson.M{"_id": docID, "tenant_id": tenantID})
		if err != nil {
			utils.RespondWithUnavailable(c, "Document store unavailable")
			return
		}
		if res.DeletedCount == 0 {
			utils.RespondWithNotFound(c, "Document not found")
			return
		}

		if err := chunkStore.DeleteDocumentChunks(c.Request.Context(), docID); err != nil {
			utils.RespondWithUnavailable(c, "Chunk store unavailable")
			return
		}
		if err := rag.Reload(c.Request.Context()); err != nil {
			logger.Error("Index rebuild after delete failed", "error", err)
		}
		// Other processes pick the deletion up on their next rebuild.
		if _, err := asynqClient.Enqueue(queue.NewRebuildIndexesTask()); err != nil {
			logger.Error("Could not enqueue index rebuild", "error", err)
		}

		c.JSON(http.StatusOK, gin.H{"deleted": docID.Hex()})
	})

	// Retrieve grounding context for a query without generating an answer.
	knowledge.POST("/query", func(c *gin.Context) {
		tenantID, ok := middleware.TenantID(c)
		if !ok {
			utils.RespondWithUnauthorized(c, "Missing tenant")
			return
		}
		var req QueryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, "Invalid request data", gin.H{"error": err.Error()})
			return
		}

		contextBlock, err := rag.RetrieveContext(c.Request.Context(), req.Query, tenantID, req.TopK)
		if err != nil {
			utils.RespondWithUnavailable(c, "Retrieval temporarily unavailable")
			return
		}
		// Empty context is a valid "nothing relevant" answer, not an error.
		c.JSON(http.StatusOK, gin.H{"context": contextBlock})
	})

	// Force a rebuild of both in-memory indices in this process and ask the
	// worker to do the same with its own replicas.
	knowledge.POST("/reload", func(c *gin.Context) {
		if err := rag.Reload(c.Request.Context()); err != nil {
			utils.RespondWithUnavailable(c, "Knowledge index rebuild failed")
			return
		}
		if err := cache.Reload(c.Request.Context()); err != nil {
			utils.RespondWithUnavailable(c, "Cache index rebuild failed")
			return
		}
		if _, err := asynqClient.Enqueue(queue.NewRebuildIndexesTask()); err != nil {
			logger.Error("Could not enqueue index rebuild", "error", err)
		}
		c.JSON(http.StatusOK, gin.H{
			"rag_index_size":   rag.IndexSize(),
			"cache_index_size": cache.IndexSize(),
		})
	})
}

func markDocumentFailed(c *gin.Context, col *mongo.Collection, id primitive.ObjectID, cause error) {
	_, err := col.UpdateOne(c.Request.Context(),
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"status": models.StatusFailed, "error_message": cause.Error()}})
	if err != nil {
		logger.Error("Could not mark document failed", "document_id", id.Hex(), "error", err)
	}
}
