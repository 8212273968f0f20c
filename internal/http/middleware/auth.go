// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements API-key authentication. Every tenant-scoped route
// requires an X-API-Key header whose value resolves to an active session row;
// the resolved session is stashed in the Gin context for handlers and for the
// rate limiter's per-identity bucketing.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-wa-gateway/internal/domain"
)

// HeaderAPIKey is the request header carrying the per-session API key.
const HeaderAPIKey = "X-API-Key"

// Context keys set by APIKeyAuth.
const (
	ctxKeySession   = "session"
	ctxKeySessionID = "sessionID"
)

// SessionResolver maps an API key to its active session, or an error when the
// key is unknown or the session has been deactivated.
type SessionResolver func(ctx context.Context, apiKey string) (*domain.Session, error)

// SessionFrom returns the authenticated session stashed by APIKeyAuth.
func SessionFrom(c *gin.Context) (*domain.Session, bool) {
	v, ok := c.Get(ctxKeySession)
	if !ok {
		return nil, false
	}
	s, ok := v.(*domain.Session)
	return s, ok
}

// APIKeyAuth authenticates requests via the X-API-Key header. Missing or
// unresolvable keys abort with 401; on success the session is stashed in the
// context, along with "userID" so the rate limiter buckets per session rather
// than per client IP.
func APIKeyAuth(resolve SessionResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := strings.TrimSpace(c.GetHeader(HeaderAPIKey))
		if key == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    "unauthorized",
				"message": "missing X-API-Key header",
			})
			return
		}

		sess, err := resolve(c.Request.Context(), key)
		if err != nil || sess == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    "unauthorized",
				"message": "invalid API key",
			})
			return
		}

		c.Set(ctxKeySession, sess)
		c.Set(ctxKeySessionID, sess.ID)
		c.Set("userID", sess.ID)
		c.Next()
	}
}
