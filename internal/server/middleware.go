package server

import (
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/stayledger/internal/auth"
)

// AuthRequired resolves the bearer token into an actor on the request
// context.
func (s *Server) AuthRequired() gin.HandlerFunc {
	return auth.Middleware(s.verifier, AbortWithError)
}

// CronAuthRequired guards the internal trigger endpoints with the shared
// cron secret. An unset secret rejects every call.
func (s *Server) CronAuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		secret := strings.TrimSpace(s.cfg.CronSecret)
		raw, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || secret == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(raw)), []byte(secret)) != 1 {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		c.Next()
	}
}
