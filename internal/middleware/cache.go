package middleware

import (
	"fmt"

	"github.com/gin-gonic/gin"
)

// CacheControl lets the student's browser reuse a response for maxAgeSeconds. It overrides a
// NoStore set earlier in the chain.
func CacheControl(maxAgeSeconds int) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", fmt.Sprintf("private, max-age=%d", maxAgeSeconds))
		c.Next()
	}
}

// NoStore marks attempt and result responses as uncacheable; they carry per-student state.
func NoStore() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", "no-store")
		c.Next()
	}
}
