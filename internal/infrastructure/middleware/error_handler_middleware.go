package middleware

import (
	stderrors "errors"
	"net/http"

	"rtclink/internal/core/domain"
	"rtclink/pkg/errors"
	logging "rtclink/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AppErrorOf maps err onto an API error. Session status errors keep their
// numeric status in the response.
func AppErrorOf(err error) *errors.AppError {
	if appErr := errors.GetAppError(err); appErr != nil {
		return appErr
	}
	var se *domain.StatusError
	if stderrors.As(err, &se) {
		return errors.FromStatus(int(se.Status), se.Message, err)
	}
	return errors.WrapError(err, errors.ErrCodeInternal, "Internal server error", http.StatusInternalServerError)
}

func errorBody(appErr *errors.AppError) gin.H {
	body := gin.H{
		"error":   string(appErr.Code),
		"message": appErr.Message,
	}
	if appErr.Status != 0 {
		body["status"] = appErr.Status
	}
	if len(appErr.Context) > 0 {
		body["details"] = appErr.Context
	}
	return body
}

// ErrorHandlerMiddleware handles application errors and returns appropriate
// HTTP responses. Log lines carry whatever ids TracingMiddleware put on the
// request context.
func ErrorHandlerMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	clog := logging.NewContextLogger(logger.Desugar())
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last().Err
		appErr := AppErrorOf(err)
		logger := clog.Sugar(c.Request.Context())

		if appErr.HTTPStatus >= http.StatusInternalServerError {
			logger.Errorw("request failed",
				"code", appErr.Code,
				"status", appErr.Status,
				"error", err,
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
			)
		} else {
			logger.Infow("request rejected",
				"code", appErr.Code,
				"status", appErr.Status,
				"message", appErr.Message,
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
			)
		}
		c.JSON(appErr.HTTPStatus, errorBody(appErr))
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

				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error":   string(errors.ErrCodeInternal),
					"message": "Internal server error",
				})
			}
		}()

		c.Next()
	}
}
