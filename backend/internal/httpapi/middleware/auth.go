package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"neodocs/backend/internal/authservice"
)

const (
	CtxUserID = "userId"
	CtxEmail  = "email"
)

// AuthMiddleware rejects requests without a valid bearer credential before
// any handler runs. The token comes from the Authorization header or, for
// browsers opening a websocket, from ?token=.
func AuthMiddleware(verifier authservice.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := extractBearer(c.Request.Header.Get("Authorization"))
		if tokenString == "" {
			tokenString = strings.TrimSpace(c.Query("token"))
		}
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    "UNAUTHENTICATED",
				"message": "Authorization header is missing or invalid",
			})
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 1200*time.Millisecond)
		defer cancel()

		id, err := verifier.Verify(ctx, tokenString)
		if err != nil {
			if errors.Is(err, authservice.ErrInvalidToken) || errors.Is(err, authservice.ErrMissingToken) {
				log.Debug().Err(err).Str("path", c.FullPath()).Msg("authentication failed")
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"code":    "UNAUTHENTICATED",
					"message": "Invalid authentication token",
				})
				return
			}
			log.Error().Err(err).Msg("auth verify failed")
			c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{
				"code":    "AUTH_UPSTREAM_ERROR",
				"message": "auth-service verify failed",
			})
			return
		}

		c.Set(CtxUserID, id.UserID)
		c.Set(CtxEmail, id.Email)
		c.Next()
	}
}

// UserID returns the id AuthMiddleware stored on the request.
func UserID(c *gin.Context) string {
	return c.GetString(CtxUserID)
}

func extractBearer(header string) string {
	if header == "" {
		return ""
	}
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}
