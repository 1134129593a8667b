package middleware

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/liliang-cn/groundchat/internal/domain"
	"go.uber.org/zap"
)

// WriteError classifies err, logs it and aborts with the error response.
// Internal details are only logged; callers get the stable message.
func WriteError(c *gin.Context, err error) {
	ce := domain.AsChatError(err)
	logger := Logger(c)
	fields := []zap.Field{
		zap.String("code", ce.Code),
		zap.String("kind", string(ce.Kind)),
		zap.String("path", c.Request.URL.Path),
		zap.Error(err),
	}

	switch {
	case ce.Kind == domain.KindInternal:
		logger.Error("unhandled error", fields...)
	case ce.Status >= 500:
		logger.Warn("request failed", fields...)
	default:
		logger.Debug("request rejected", fields...)
	}

	if ce.Kind == domain.KindRateLimited {
		if secs, ok := ce.Details["retry_after_seconds"].(int); ok {
			c.Header("Retry-After", strconv.Itoa(secs))
		}
	}
	c.AbortWithStatusJSON(ce.Status, ce.Response())
}
