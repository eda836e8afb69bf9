package http

import (
	"net/http"

	"rtclink/internal/core/domain"
	"rtclink/internal/core/ports"
	"rtclink/pkg/errors"

	"github.com/gin-gonic/gin"
)

// SessionHandler is the moderation surface: sessions, archives and forced
// removal of connections and streams.
type SessionHandler struct {
	admin ports.SessionAdmin
}

func NewSessionHandler(admin ports.SessionAdmin) *SessionHandler {
	return &SessionHandler{admin: admin}
}

func (h *SessionHandler) SetupRoutes(api *gin.RouterGroup) {
	api.POST("/sessions", h.CreateSession)
	api.GET("/sessions/:id", h.GetSession)
	api.POST("/sessions/:id/archives", h.StartArchive)
	api.POST("/sessions/:id/archives/:archive_id/stop", h.StopArchive)
	api.DELETE("/sessions/:id/connections/:connection_id", h.ForceDisconnect)
	api.DELETE("/sessions/:id/streams/:stream_id", h.ForceUnpublish)
}

func (h *SessionHandler) CreateSession(c *gin.Context) {
	id, err := h.admin.CreateSession(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"session_id": id})
}

func (h *SessionHandler) GetSession(c *gin.Context) {
	info, err := h.admin.SessionInfo(c.Request.Context(), domain.SessionID(c.Param("id")))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, info)
}

type StartArchiveRequest struct {
	Name string `json:"name" binding:"max=200"`
}

func (h *SessionHandler) StartArchive(c *gin.Context) {
	var req StartArchiveRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.Error(errors.NewInvalidInputError("invalid request format"))
			return
		}
	}

	archive, err := h.admin.StartArchive(c.Request.Context(), domain.SessionID(c.Param("id")), req.Name)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, archive)
}

func (h *SessionHandler) StopArchive(c *gin.Context) {
	err := h.admin.StopArchive(c.Request.Context(), domain.SessionID(c.Param("id")), c.Param("archive_id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *SessionHandler) ForceDisconnect(c *gin.Context) {
	err := h.admin.ForceDisconnect(c.Request.Context(),
		domain.SessionID(c.Param("id")),
		domain.ConnectionID(c.Param("connection_id")),
	)
	if err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *SessionHandler) ForceUnpublish(c *gin.Context) {
	err := h.admin.ForceUnpublish(c.Request.Context(),
		domain.SessionID(c.Param("id")),
		domain.StreamID(c.Param("stream_id")),
	)
	if err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}
