package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	HeaderRequestedWith = "X-Requested-With"
	RequestedWithXHR    = "XMLHttpRequest"
)

// RequireXHR rejects requests that were not made by the client's XHR layer, the
// way the JSON endpoints of the web backend do.
func RequireXHR() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader(HeaderRequestedWith) != RequestedWithXHR {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}
		c.Next()
	}
}
