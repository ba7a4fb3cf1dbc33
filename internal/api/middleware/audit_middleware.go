// Package middleware provides the gin middleware in front of the relay
// routes: bearer auth with permission/rate/concurrency gates, and the
// audit trail recorder.
package middleware

import (
	"bytes"
	"io"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"

	"github.com/axiomrelay/gateway/internal/audit"
)

// AuditMiddleware records every relay request into the trail after the
// handler chain finishes. Only dialect and model-list routes are audited;
// health, metrics, the websocket feed, /usage and /key-info are skipped.
func AuditMiddleware(trail *audit.Trail) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if !auditedPath(path) {
			c.Next()
			return
		}

		// The body is consumed twice (here for the model field, later by
		// the handler), so it is buffered back onto the request.
		var body []byte
		if c.Request.Body != nil {
			body, _ = io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(bytes.NewReader(body))
		}

		start := time.Now()
		c.Next()

		e := audit.Entry{
			Time:      start,
			Platform:  platformForPath(path),
			Model:     gjson.GetBytes(body, "model").String(),
			Path:      path,
			Method:    c.Request.Method,
			Status:    c.Writer.Status(),
			LatencyMs: time.Since(start).Milliseconds(),
			Streaming: gjson.GetBytes(body, "stream").Bool() || strings.Contains(path, ":streamGenerateContent"),
			ClientIP:  c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
		}
		if key, ok := KeyFromContext(c); ok {
			e.ApiKeyID = key.ID
		}
		if len(c.Errors) > 0 {
			e.Error = c.Errors.Last().Error()
		}
		trail.Record(e)
	}
}

// auditedPath keeps the trail to dialect and model-list routes.
func auditedPath(path string) bool {
	switch {
	case strings.HasPrefix(path, "/v1/"),
		strings.HasPrefix(path, "/v1beta/"),
		strings.HasPrefix(path, "/v1internal:"),
		path == "/messages",
		path == "/models",
		strings.HasPrefix(path, "/responses"):
		return true
	default:
		return false
	}
}

// platformForPath maps a route onto the provider family it dispatches to;
// the OpenAI-chat route may actually bridge to Gemini, which the trail
// accepts as an approximation rather than re-resolving bindings here.
func platformForPath(path string) string {
	switch {
	case strings.HasSuffix(path, "/messages"):
		return "claude"
	case strings.Contains(path, "/v1beta/"), strings.HasPrefix(path, "/v1internal:"):
		return "gemini"
	case strings.Contains(path, "/responses"), strings.Contains(path, "/chat/completions"):
		return "openai"
	default:
		return ""
	}
}
