package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ChatRequest is the inbound payload for /chat/send
type ChatRequest struct {
	Message        string `json:"message" binding:"required"`
	ConversationID string `json:"conversation_id,omitempty"`
	TopK           int    `json:"top_k,omitempty"`
}

// ChatResponse is returned to the widget/frontend
type ChatResponse struct {
	Reply          string `json:"reply"`
	ConversationID string `json:"conversation_id"`
	Cached         bool   `json:"cached"`
}

// Message persists one exchange inside a conversation
type Message struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	TenantID       primitive.ObjectID `bson:"tenant_id" json:"tenant_id"`
	ConversationID string             `bson:"conversation_id" json:"conversation_id"`
	Prompt         string             `bson:"prompt" json:"prompt"`
	Reply          string             `bson:"reply" json:"reply"`
	Cached         bool               `bson:"cached" json:"cached"`
	Timestamp      time.Time          `bson:"timestamp" json:"timestamp"`
}
