package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"asesoria-chatbot-platform/internal/auth"
	"asesoria-chatbot-platform/internal/config"
	"asesoria-chatbot-platform/utils"
)

type AuthMiddleware struct {
	config *config.Config
	rdb    *redis.Client
}

func NewAuthMiddleware(cfg *config.Config, rdb *redis.Client) *AuthMiddleware {
	return &AuthMiddleware{
		config: cfg,
		rdb:    rdb,
	}
}

// RequireAuth verifies the bearer token and injects the caller's claims and
// tenant id into the request context. Every knowledge/chat handler depends
// on the tenant id set here: requests without a tenant never reach the
// retrieval core.
func (a *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := extractBearer(c.GetHeader("Authorization"))
		if tokenString == "" {
			if cookie, err := c.Cookie("access_token"); err == nil {
				tokenString = cookie
			}
		}
		if tokenString == "" {
			utils.RespondWithUnauthorized(c, "Authentication token is required")
			c.Abort()
			return
		}

		claims, err := auth.ValidateAccessToken(tokenString, []byte(a.config.AccessSecret))
		if err != nil {
			utils.RespondWithUnauthorized(c, "Invalid or expired token")
			c.Abort()
			return
		}
		if err := auth.CheckRevocation(c.Request.Context(), a.rdb, claims); err != nil {
			utils.RespondWithUnauthorized(c, "Token has been revoked")
			c.Abort()
			return
		}

		tenantID, err := primitive.ObjectIDFromHex(claims.TenantID)
		if err != nil {
			utils.RespondWithUnauthorized(c, "Token carries a malformed tenant")
			c.Abort()
			return
		}

		c.Set("claims", claims)
		c.Set("tenant_id", tenantID)
		c.Next()
	}
}

// TenantID returns the tenant injected by RequireAuth.
func TenantID(c *gin.Context) (primitive.ObjectID, bool) {
	v, ok := c.Get("tenant_id")
	if !ok {
		return primitive.NilObjectID, false
	}
	id, ok := v.(primitive.ObjectID)
	return id, ok
}

func extractBearer(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}
