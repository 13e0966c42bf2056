// Package middleware holds the Gin middleware shared by the supportd HTTP
// layer: correlation IDs, PII-scrubbed access logs, panic recovery, metrics,
// idempotency keys, rate limiting and security headers.
//
// Every request gets a zerolog.Logger carrying its request ID, route and,
// when known, the chat session and tool it targets. Handlers fetch it with
// LoggerFrom; services reach the same logger through zerolog.Ctx on the
// request context, so tool and chat logs correlate with the access line.
//
// Recommended order: RequestID, RedactingLogger, Recovery.
package middleware

import (
	"net/http"
	"regexp"
	"runtime/debug"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	requestIDKey    = "requestID"
	requestIDHeader = "X-Request-ID"
	loggerKey       = "logger"

	maxRequestIDLen = 128
)

var requestIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:\-]+$`)

// RequestID reuses a caller-supplied X-Request-ID when it is a short token
// and otherwise mints a UUIDv4. The ID is echoed on the response and stored
// in the Gin context.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(requestIDHeader)
		if !validRequestID(rid) {
			rid = uuid.NewString()
		}
		c.Set(requestIDKey, rid)
		c.Writer.Header().Set(requestIDHeader, rid)
		c.Next()
	}
}

func validRequestID(s string) bool {
	return s != "" && len(s) <= maxRequestIDLen && requestIDPattern.MatchString(s)
}

// Recovery converts a panic into a 500 with the standard error body and logs
// the stack through the request-scoped logger. If the handler already wrote
// a response, only the status is forced.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			rid := requestIDOf(c)
			LoggerFrom(c).Error().
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Str("request_id", rid).
				Msg("panic recovered")

			if c.Writer.Written() {
				c.AbortWithStatus(http.StatusInternalServerError)
				return
			}
			c.Header(requestIDHeader, rid)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"request_id": rid,
				"code":       "internal_error",
				"message":    "internal error",
			})
		}()
		c.Next()
	}
}

// LoggerFrom returns the request-scoped logger, or a copy of the global
// logger when none was attached.
func LoggerFrom(c *gin.Context) *zerolog.Logger {
	if v, ok := c.Get(loggerKey); ok {
		if lg, ok := v.(*zerolog.Logger); ok {
			return lg
		}
	}
	l := log.With().Logger()
	return &l
}

// attachLogger stores l in the Gin context and on the request context.
func attachLogger(c *gin.Context, l *zerolog.Logger) {
	c.Set(loggerKey, l)
	c.Request = c.Request.WithContext(l.WithContext(c.Request.Context()))
}

// requestLogger derives the per-request logger from the global one.
func requestLogger(c *gin.Context, route string) zerolog.Logger {
	lc := log.With().
		Str("request_id", requestIDOf(c)).
		Str("path", route)
	if sid := sessionIDOf(c, route); sid != "" {
		lc = lc.Str("session_id", sid)
	}
	if tool := toolOf(c, route); tool != "" {
		lc = lc.Str("tool", tool)
	}
	return lc.Logger()
}

// requestIDOf prefers the ID minted by RequestID, then an upstream response
// header, then the raw request header.
func requestIDOf(c *gin.Context) string {
	if rid := c.GetString(requestIDKey); rid != "" {
		return rid
	}
	if rid := c.Writer.Header().Get(requestIDHeader); rid != "" {
		return rid
	}
	return c.GetHeader(requestIDHeader)
}

// sessionIDOf reads the session from X-Session-ID or from the :id segment of
// a /chat/sessions/:id route.
func sessionIDOf(c *gin.Context, route string) string {
	if sid := c.GetHeader(HeaderSessionID); sid != "" {
		return sid
	}
	if strings.Contains(route, "/chat/sessions/:id") {
		return c.Param("id")
	}
	return ""
}

// toolOf extracts the tool name from a /tools/<name>[/...] route. A
// parameter segment such as :name resolves to the matched path value.
func toolOf(c *gin.Context, route string) string {
	const marker = "/tools/"
	i := strings.LastIndex(route, marker)
	if i < 0 {
		return ""
	}
	name := route[i+len(marker):]
	if j := strings.IndexByte(name, '/'); j >= 0 {
		name = name[:j]
	}
	if strings.HasPrefix(name, ":") || strings.HasPrefix(name, "*") {
		return c.Param(name[1:])
	}
	return name
}

// truncate caps s at max bytes and appends an ellipsis. max <= 0 disables it.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
