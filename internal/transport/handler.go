package transport

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/trakwell-ai/websocket-notify/internal/logger"
	"github.com/trakwell-ai/websocket-notify/internal/session"
)

const storeTimeout = 5 * time.Second

// Handler upgrades inbound connections and ties their lifecycle to the
// session store: register on connect, remove on disconnect.
type Handler struct {
	hub      *Hub
	store    *session.Store
	token    string
	upgrader websocket.Upgrader
}

func NewHandler(hub *Hub, store *session.Store, token string) *Handler {
	return &Handler{
		hub:   hub,
		store: store,
		token: token,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Clients are native apps and server-side integrations, not
			// browsers with an origin to verify.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// ServeRoom returns the connection endpoint for one room. The handshake
// carries userid and authtoken query params; a bad token terminates the
// connection and register is never called.
func (h *Handler) ServeRoom(room session.Room) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Query("userid")
		authToken := c.Query("authtoken")

		if authToken != h.token || userID == "" {
			logger.Warn("connection rejected", map[string]any{
				"userid": userID,
				"room":   string(room),
			})
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}

		conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Error("websocket upgrade failed", map[string]any{
				"error": err.Error(),
			})
			return
		}

		connectionID := uuid.NewString()
		client := newClient(connectionID, userID, room, h.hub, conn)
		h.hub.add(client)

		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		err = h.store.Register(ctx, userID, room, connectionID)
		cancel()
		if err != nil {
			// Not durable: drop the connection and let the client retry.
			logger.Error("session register failed", map[string]any{
				"userid": userID,
				"room":   string(room),
				"error":  err.Error(),
			})
			h.hub.remove(client)
			_ = conn.Close()
			return
		}

		client.onClose = func() {
			ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
			defer cancel()
			res, err := h.store.Remove(ctx, connectionID)
			if err != nil {
				logger.Error("session remove failed", map[string]any{
					"userid": userID,
					"error":  err.Error(),
				})
				return
			}
			logger.Debug("session removed", map[string]any{
				"userid":  userID,
				"removed": res.Removed,
				"reason":  res.Reason,
			})
		}

		logger.Info("client connected", map[string]any{
			"userid": userID,
			"room":   string(room),
		})

		go client.writePump()
		go client.readPump()
	}
}
