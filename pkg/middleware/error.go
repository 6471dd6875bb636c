package middleware

import (
	"errors"
	"net/http"

	"fleetops-controlplane/pkg/errutil"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Error renders the last error attached to the gin context.
func Error() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		last := c.Errors.Last()
		if last == nil || c.Writer.Written() {
			return
		}

		var base errutil.BaseError
		if errors.As(last.Err, &base) {
			c.JSON(base.Code.HTTPStatus(), base.JSON())
			return
		}

		var failure *errutil.Failure
		if errors.As(last.Err, &failure) {
			c.JSON(failure.Status().HTTPStatus(), gin.H{
				"error": gin.H{
					"code":     failure.Reason,
					"category": failure.Reason.Category(),
					"message":  failure.Error(),
				},
			})
			return
		}

		zap.L().Error("unhandled request error", zap.String("path", c.FullPath()), zap.Error(last.Err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{"code": errutil.StatusInternal, "message": "internal error"},
		})
	}
}
