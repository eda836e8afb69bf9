package ports

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type SessionHTTPHandler interface {
	CreateSession(c *gin.Context)
	GetSession(c *gin.Context)
	CreateToken(c *gin.Context)
	StartArchive(c *gin.Context)
	StopArchive(c *gin.Context)
	ForceDisconnect(c *gin.Context)
}

type WebSocketHandler interface {
	HandleWebSocket(w http.ResponseWriter, r *http.Request)
}
