package routes

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/mongo"

	"asesoria-chatbot-platform/internal/ai"
	"asesoria-chatbot-platform/internal/config"
	"asesoria-chatbot-platform/internal/logger"
	"asesoria-chatbot-platform/internal/telemetry"
	"asesoria-chatbot-platform/middleware"
	"asesoria-chatbot-platform/models"
	"asesoria-chatbot-platform/services"
	"asesoria-chatbot-platform/utils"
)

// SetupChatRoutes wires the answer path: semantic cache first, then hybrid
// retrieval feeding the generator, then cache write-back.
func SetupChatRoutes(
	router *gin.Engine,
	cfg *config.Config,
	db *mongo.Database,
	rag *services.RAGService,
	cache *services.SemanticCacheService,
	generator *ai.Generator,
	metrics *telemetry.Metrics,
	authMiddleware *middleware.AuthMiddleware,
) {
	chat := router.Group("/chat")
	chat.Use(authMiddleware.RequireAuth())

	messagesCollection := db.Collection("messages")

	chat.POST("/send", func(c *gin.Context) {
		tenantID, ok := middleware.TenantID(c)
		if !ok {
			utils.RespondWithUnauthorized(c, "Missing tenant")
			return
		}

		var req models.ChatRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, "Invalid request data", gin.H{"error": err.Error()})
			return
		}
		conversationID := req.ConversationID
		if conversationID == "" {
			conversationID = uuid.NewString()
		}

		ctx := c.Request.Context()

		// A threshold hit short-circuits generation entirely.
		if reply, hit, err := cache.Get(ctx, req.Message, tenantID); err == nil && hit {
			persistMessage(c, messagesCollection, models.Message{
				TenantID:       tenantID,
				ConversationID: conversationID,
				Prompt:         req.Message,
				Reply:          reply,
				Cached:         true,
				Timestamp:      time.Now(),
			})
			c.JSON(http.StatusOK, models.ChatResponse{
				Reply:          reply,
				ConversationID: conversationID,
				Cached:         true,
			})
			return
		} else if err != nil {
			logger.Warn("Cache lookup failed, falling through to generation", "error", err)
		}

		start := time.Now()
		contextBlock, err := rag.RetrieveContext(ctx, req.Message, tenantID, req.TopK)
		if err != nil {
			utils.RespondWithUnavailable(c, "Retrieval temporarily unavailable")
			return
		}
		if metrics != nil {
			metrics.RecordRetrieval(ctx, time.Since(start).Seconds())
		}

		if generator == nil {
			utils.RespondWithUnavailable(c, "Generation backend not configured")
			return
		}
		reply, err := generator.GenerateAnswer(ctx, req.Message, contextBlock)
		if err != nil {
			utils.RespondWithUnavailable(c, "Generation temporarily unavailable")
			return
		}

		// Write-back so the next near-identical question is served from the
		// cache. Racing misses may both land here; duplicates are accepted.
		if err := cache.Put(ctx, req.Message, reply, tenantID); err != nil {
			logger.Warn("Cache write-back failed", "error", err)
		}

		persistMessage(c, messagesCollection, models.Message{
			TenantID:       tenantID,
			ConversationID: conversationID,
			Prompt:         req.Message,
			Reply:          reply,
			Timestamp:      time.Now(),
		})
		c.JSON(http.StatusOK, models.ChatResponse{
			Reply:          reply,
			ConversationID: conversationID,
		})
	})
}

func persistMessage(c *gin.Context, col *mongo.Collection, msg models.Message) {
	if _, err := col.InsertOne(c.Request.Context(), msg); err != nil {
		logger.Error("Could not persist chat message", "error", err)
	}
}
