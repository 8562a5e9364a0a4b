package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ValidParam rejects the request with 400 when a path parameter fails check.
// It belongs in front of Admission so bad input never takes a lease.
func ValidParam(name string, check func(string) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := check(c.Param(name)); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.Next()
	}
}
