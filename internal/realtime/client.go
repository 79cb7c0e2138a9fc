package realtime

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
)

// Client is one websocket connection subscribed to a recipient key.
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	recipient string
	send      chan []byte
}

// Upgrader upgrades HTTP requests to websocket connections.
type Upgrader struct {
	hub      *Hub
	upgrader websocket.Upgrader
}

// NewUpgrader returns an upgrader bound to hub. An empty origin list accepts any origin.
func NewUpgrader(hub *Hub, allowedOrigins []string) *Upgrader {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = struct{}{}
	}
	return &Upgrader{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(allowed) == 0 {
					return true
				}
				_, ok := allowed[r.Header.Get("Origin")]
				return ok
			},
		},
	}
}

// Serve upgrades the request and streams payloads for recipient until the peer disconnects.
func (u *Upgrader) Serve(w http.ResponseWriter, r *http.Request, recipient string) error {
	conn, err := u.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	c := &Client{hub: u.hub, conn: conn, recipient: recipient, send: make(chan []byte, 32)}
	if !u.hub.add(c) {
		_ = conn.Close()
		return nil
	}
	go c.writePump()
	c.readPump()
	return nil
}

// readPump only services control frames; clients never send application messages.
func (c *Client) readPump() {
	defer func() {
		c.hub.remove(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("realtime read failed", zap.String("recipient", c.recipient), zap.Error(err))
			}
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
