package transport

import (
	"time"

	"github.com/gorilla/websocket"

	"github.com/trakwell-ai/websocket-notify/internal/session"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 50 * time.Second
	pingPeriod     = 10 * time.Second
	maxMessageSize = 512
)

// Client is one live websocket connection. Inbound messages are not part of
// the protocol; the read pump exists only to detect disconnects and answer
// keepalives.
type Client struct {
	ID     string
	UserID string
	Room   session.Room

	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	// onClose runs once when the connection goes away, after the client has
	// left the hub.
	onClose func()
}

func newClient(id, userID string, room session.Room, hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		ID:     id,
		UserID: userID,
		Room:   room,
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, 16),
	}
}

func (c *Client) close() {
	c.hub.remove(c)
	_ = c.conn.Close()
	if c.onClose != nil {
		c.onClose()
		c.onClose = nil
	}
}

func (c *Client) readPump() {
	defer c.close()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
