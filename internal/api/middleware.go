package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// MaxBodySize bounds request bodies. Permission configurations are small;
// anything beyond this is abuse or a mistake.
const MaxBodySize int64 = 1 << 20

// securityHeaders sets headers appropriate for a local JSON-only API.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Cache-Control", "no-store, no-cache, must-revalidate")
		c.Header("Pragma", "no-cache")
		c.Next()
	}
}

// bodySizeLimit rejects oversized requests up front and caps the reader so a
// client cannot lie about Content-Length.
func bodySizeLimit(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxSize {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"error": fmt.Sprintf("request body too large, maximum is %d bytes", maxSize),
			})
			c.Abort()
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// success sends a JSON success response.
func success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, data)
}

// fail sends a JSON error response.
func fail(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"error": message})
}
