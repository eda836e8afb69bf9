package http

import (
	"net/http"
	"strings"

	"rtclink/internal/core/domain"
	"rtclink/internal/core/ports"
	"rtclink/pkg/errors"

	"github.com/gin-gonic/gin"
)

// AuthHandler issues connection tokens for existing sessions.
type AuthHandler struct {
	tokens ports.TokenIssuer
	admin  ports.SessionAdmin
}

func NewAuthHandler(tokens ports.TokenIssuer, admin ports.SessionAdmin) *AuthHandler {
	return &AuthHandler{
		tokens: tokens,
		admin:  admin,
	}
}

func (h *AuthHandler) SetupRoutes(api *gin.RouterGroup) {
	api.POST("/sessions/:id/tokens", h.IssueToken)
}

type IssueTokenRequest struct {
	Role string `json:"role" binding:"omitempty,oneof=publisher subscriber moderator"`
	Data string `json:"data" binding:"max=1000"`
}

type IssueTokenResponse struct {
	Token     string           `json:"token"`
	SessionID domain.SessionID `json:"session_id"`
	Role      domain.Role      `json:"role"`
}

func (h *AuthHandler) IssueToken(c *gin.Context) {
	sessionID := domain.SessionID(c.Param("id"))

	var req IssueTokenRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.Error(errors.NewInvalidInputError("invalid request format"))
			return
		}
	}

	// Tokens are only handed out for sessions this router knows.
	if _, err := h.admin.SessionInfo(c.Request.Context(), sessionID); err != nil {
		c.Error(err)
		return
	}

	role := domain.Role(strings.TrimSpace(req.Role))
	if role == "" {
		role = domain.RolePublisher
	}
	token, err := h.tokens.IssueToken(sessionID, role, req.Data)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, IssueTokenResponse{
		Token:     token,
		SessionID: sessionID,
		Role:      role,
	})
}
