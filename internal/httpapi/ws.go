package httpapi

import (
	"net/http"

	"telehealth-platform/internal/auth"
	"telehealth-platform/internal/events"
	"telehealth-platform/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browsers send Origin on websocket upgrades; cross-origin policy is
	// handled at the gateway in front of this service.
	CheckOrigin: func(*http.Request) bool { return true },
}

// EventChannel upgrades the connection and attaches it to the hub.
// MUST run behind auth.RequireWebSocketToken; after the upgrade there is no
// way to return an HTTP error.
func EventChannel(hub *events.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		userID, err := auth.UserID(ctx)
		if err != nil {
			fail(c, http.StatusUnauthorized, "not authenticated")
			return
		}
		role, _ := auth.Role(ctx)
		name := auth.DisplayName(ctx)

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.From(ctx).Warn("websocket upgrade failed", "user_id", userID, "err", err)
			return
		}
		hub.Attach(conn, events.Sender{UserID: userID, Role: role, Name: name})
	}
}
