package handler

import (
	"net/http"

	"studysphere/internal/commands"
	"studysphere/internal/realtime"
	"studysphere/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// WebSocketHandler upgrades authenticated requests into realtime sessions.
type WebSocketHandler struct {
	hub      *realtime.Hub
	commands *commands.Bus
	logger   *realtime.SessionLogger
	opts     realtime.ClientOptions
	upgrader websocket.Upgrader
}

func NewWebSocketHandler(hub *realtime.Hub, bus *commands.Bus, l *realtime.SessionLogger, opts realtime.ClientOptions, allowedOrigin string) *WebSocketHandler {
	return &WebSocketHandler{
		hub:      hub,
		commands: bus,
		logger:   l,
		opts:     opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return allowedOrigin == "" || allowedOrigin == "*" || origin == "" || origin == allowedOrigin
			},
		},
	}
}

// Handle blocks for the lifetime of the session.
func (h *WebSocketHandler) Handle(c *gin.Context) {
	userID, ok := services.UserIDFromContext(c.Request.Context())
	if !ok {
		unauthorized(c)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", userID, "", err)
		return
	}

	realtime.NewClient(h.hub, conn, h.commands, userID, h.logger, h.opts).Serve()
}
