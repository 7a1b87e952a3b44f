package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"papertrade-core/pkg/apperr"
)

// statusFor maps an error kind to its HTTP status.
func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindUnauthorized:
		return http.StatusUnauthorized
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindInsufficientFunds:
		return http.StatusUnprocessableEntity
	case apperr.KindUpstream:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes {"code","error"} with the status for err's kind.
// Internal failures are logged and their details withheld.
func (s *Server) respondError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	status := statusFor(kind)
	msg := apperr.MessageOf(err)
	switch kind {
	case apperr.KindInternal:
		s.log.Error("request failed",
			zap.String("request_id", c.GetString(requestIDKey)),
			zap.String("path", c.Request.URL.Path),
			zap.Error(err))
		msg = "internal server error"
	case apperr.KindUpstream:
		s.log.Warn("upstream unavailable",
			zap.String("request_id", c.GetString(requestIDKey)),
			zap.Error(err))
	}
	c.AbortWithStatusJSON(status, gin.H{
		"code":  apperr.CodeOf(err),
		"error": msg,
	})
}

// badRequest reports a malformed payload or query.
func (s *Server) badRequest(c *gin.Context, msg string) {
	s.respondError(c, apperr.Validation("%s", msg))
}

// respondData wraps market payloads as {"status":"ok","data":...}.
func respondData(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "data": data})
}
