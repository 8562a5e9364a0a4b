package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/OldStager01/egress-gateway/internal/logger"
)

// quietPrefixes are polled by probes and scrapers; successful hits log at debug.
var quietPrefixes = []string{"/health", "/metrics"}

// RequestLogger logs one line per request. Trace and lease ids come from the
// request context, so admitted requests can be joined with gateway logs.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		entry := logger.FromContext(c.Request.Context()).WithFields(logrus.Fields{
			"status":     status,
			"method":     c.Request.Method,
			"path":       path,
			"latency_ms": time.Since(start).Milliseconds(),
			"ip":         c.ClientIP(),
		})
		if q := c.Request.URL.RawQuery; q != "" {
			entry = entry.WithField("query", q)
		}
		if member, ok := MemberFromContext(c); ok {
			entry = entry.WithField("member_id", member.ID)
		}
		if verdict := admissionVerdict(status); verdict != "" {
			entry = entry.WithField("admission", verdict)
		}
		if len(c.Errors) > 0 {
			entry = entry.WithField("errors", c.Errors.String())
		}

		switch {
		case status >= 500 && status != http.StatusServiceUnavailable:
			entry.Error("server error")
		case status >= 400:
			entry.Warn("request not served")
		case isQuiet(path):
			entry.Debug("request completed")
		default:
			entry.Info("request completed")
		}
	}
}

func admissionVerdict(status int) string {
	switch status {
	case http.StatusTooManyRequests:
		return "rejected"
	case http.StatusServiceUnavailable:
		return "unavailable"
	}
	return ""
}

func isQuiet(path string) bool {
	for _, p := range quietPrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}
