package middleware

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"cloutopia/internal/transport/http/response"
)

// BodyLimit refuses requests whose declared Content-Length exceeds limit
// before any handler reads the body, and caps undeclared bodies.
func BodyLimit(limit int64) gin.HandlerFunc {
	detail := fmt.Sprintf("Request body too large. Maximum size is %d MB.", limit>>20)
	return func(c *gin.Context) {
		if limit <= 0 || c.Request.Body == nil || c.Request.Body == http.NoBody {
			c.Next()
			return
		}
		if c.Request.ContentLength > limit {
			response.Error(c, http.StatusRequestEntityTooLarge, response.CodeTooLarge, detail)
			c.Abort()
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Next()
	}
}
