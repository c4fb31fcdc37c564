// Package handlers implements the lead exchange HTTP endpoints: partner
// uploads and ledger, marketplace listing and downloads, buyer purchases,
// workspace credits and the payment webhook.
//
// Every failure is written as an ErrorResponse with a stable code, e.g.
//
//	HTTP/1.1 409 Conflict
//	{"request_id":"4f0c…","code":"lead_unavailable","message":"lead is no longer available"}
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-lead-exchange/internal/http/middleware"
)

// ErrorResponse is the error envelope of every endpoint.
type ErrorResponse struct {
	// Echo of X-Request-ID, for matching a client error to server logs.
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Code is stable and machine-readable (see errors.go).
	Code    string `json:"code" example:"lead_unavailable"`
	Message string `json:"message" example:"lead is no longer available"`
}

// fail aborts with an ErrorResponse. Server errors are logged with the
// request-scoped logger; client errors are left to the access log.
func fail(c *gin.Context, status int, code, msg string) {
	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("errors", c.Errors.String()).
			Msg(msg)
	}
	c.AbortWithStatusJSON(status, ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
	})
}

// Fail lets the router write the same envelope for its fallbacks.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

func noContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}
