package middleware

import (
	"errors"
	"net/http"
	"strings"

	"rtclink/internal/core/services"
	apperrors "rtclink/pkg/errors"

	"github.com/gin-gonic/gin"
)

// ProjectAuthHeader carries the project JWT on API calls.
const ProjectAuthHeader = "X-RTCLINK-AUTH"

// ProjectAuthMiddleware admits requests that carry a valid project token,
// either in ProjectAuthHeader or as an Authorization bearer token.
func ProjectAuthMiddleware(auth *services.ProjectAuth) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader(ProjectAuthHeader)
		if token == "" {
			authHeader := c.GetHeader("Authorization")
			if authHeader == "" {
				abortWith(c, apperrors.NewUnauthorizedError("authorization header required"))
				return
			}
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				abortWith(c, apperrors.NewUnauthorizedError("invalid authorization header format"))
				return
			}
			token = parts[1]
		}

		if err := auth.VerifyProjectToken(token); err != nil {
			msg := "invalid project token"
			if errors.Is(err, services.ErrExpiredToken) {
				msg = "project token expired"
			}
			abortWith(c, apperrors.WrapError(err, apperrors.ErrCodeUnauthorized, msg, http.StatusUnauthorized))
			return
		}
		c.Next()
	}
}

func abortWith(c *gin.Context, appErr *apperrors.AppError) {
	c.AbortWithStatusJSON(appErr.HTTPStatus, errorBody(appErr))
}
