package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-support-agent/internal/http/middleware"
)

// ErrorResponse is the error envelope of every endpoint.
//
//	HTTP/1.1 422 Unprocessable Entity
//	{"request_id":"7c1d…","code":"policy_denied","message":"return window elapsed"}
type ErrorResponse struct {
	// Echo of X-Request-ID; quote it when contacting support.
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable machine-readable code, see the ErrCode constants.
	Code string `json:"code" example:"not_found"`
	// Customer-safe message.
	Message string `json:"message" example:"order not found"`
}

// fail aborts with the error envelope.
func fail(c *gin.Context, status int, code, msg string) {
	failCause(c, status, code, msg, nil)
}

// failCause aborts with the envelope and logs through the request logger.
// Server-side failures log at error with their cause; policy outcomes log at
// info so denials can be traced per case without scraping responses.
func failCause(c *gin.Context, status int, code, msg string, cause error) {
	lg := middleware.LoggerFrom(c)
	switch {
	case status >= http.StatusInternalServerError:
		lg.Error().Err(cause).Int("status", status).Str("code", code).Msg("api error")
	case status == http.StatusUnprocessableEntity:
		lg.Info().Str("code", code).Str("reason", msg).Msg("request refused by policy")
	}
	c.AbortWithStatusJSON(status, ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
	})
}

// Fail writes the envelope for callers outside this package, such as the
// router's NoRoute handler.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}
