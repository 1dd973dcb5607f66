package middleware

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pixelprogress/server/cache"
	"github.com/pixelprogress/server/config"
)

const (
	UserIDKey = "user_id"
	EmailKey  = "email"
	TokenKey  = "token"
)

// SessionKey is the cache key that keeps a token alive.
func SessionKey(token string) string { return "session:" + token }

// UserSessionsKey is the cache set of a user's live tokens.
func UserSessionsKey(userID int64) string {
	return "sessions:" + strconv.FormatInt(userID, 10)
}

// bearer extracts the token from the Authorization header. EventSource cannot
// set headers, so the token query parameter is accepted as a fallback.
func bearer(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return c.Query("token")
}

// Auth validates the bearer JWT and checks the session cache.
func Auth(sec config.SecurityConfig, c cache.Cache) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		tokenStr := bearer(ctx)
		if tokenStr == "" {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}

		claims, err := ParseToken(tokenStr, sec.JWTSecret)
		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		cacheCtx, cancel := context.WithTimeout(ctx.Request.Context(), 2*time.Second)
		defer cancel()
		exists, err := c.Exists(cacheCtx, SessionKey(tokenStr))
		if err != nil || !exists {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "session expired"})
			return
		}

		ctx.Set(UserIDKey, claims.UserID)
		ctx.Set(EmailKey, claims.Email)
		ctx.Set(TokenKey, tokenStr)
		ctx.Next()
	}
}

// GetUserID retrieves the authenticated user ID from the Gin context.
func GetUserID(c *gin.Context) int64 {
	if v, exists := c.Get(UserIDKey); exists {
		return v.(int64)
	}
	return 0
}

// GetToken returns the bearer token that authenticated the request.
func GetToken(c *gin.Context) string {
	return c.GetString(TokenKey)
}
