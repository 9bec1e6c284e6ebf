package middleware

import (
	"rangeview/pkg/errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorHandlerMiddleware turns errors attached with c.Error into JSON
// responses. Session layer errors are classified by pkg/errors.
func ErrorHandlerMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last().Err
		code := errors.Classify(err)
		status := errors.HTTPStatus(err)

		body := gin.H{
			"error":   string(code),
			"message": err.Error(),
		}
		if appErr := errors.GetAppError(err); appErr != nil {
			body["message"] = appErr.Message
			if len(appErr.Context) > 0 {
				body["details"] = appErr.Context
			}
		}

		fields := []interface{}{
			"code", code,
			"status", status,
			"path", c.Request.URL.Path,
			"method", c.Request.Method,
			"error", err,
		}
		if status >= 500 {
			logger.Errorw("request failed", fields...)
			body["message"] = "Internal server error"
		} else {
			logger.Debugw("request rejected", fields...)
		}

		c.JSON(status, body)
	}
}

// RecoveryMiddleware recovers from panics and returns proper error responses
func RecoveryMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Errorw("panic recovered",
					"error", err,
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
				)

				appErr := errors.NewInternalError("Internal server error")
				c.AbortWithStatusJSON(appErr.HTTPStatus, gin.H{
					"error":   string(appErr.Code),
					"message": appErr.Message,
				})
			}
		}()

		c.Next()
	}
}
