package middleware

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/liliang-cn/groundchat/internal/domain"
	"go.uber.org/zap"
)

// Recovery turns a panic in a later handler into the internal error
// response. It must run after RequestLogger so the stack is logged with the
// correlation id.
func Recovery() gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, rec any) {
		Logger(c).Error("panic recovered",
			zap.Any("panic", rec),
			zap.Stack("stack"),
		)
		WriteError(c, domain.NewInternalError(fmt.Errorf("panic: %v", rec)))
	})
}
