package server

import (
	"time"

	"github.com/gorilla/websocket"

	"github.com/congdt22-beep/stock-game/internal/game"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512

	// Outbound queue per connection; a client that falls this far
	// behind is dropped.
	sendBuffer = 64
)

// client is one websocket connection. Outbound messages go through the
// buffered send channel so that the enqueue order chosen under the
// server lock is the order the peer observes.
type client struct {
	id   game.PlayerID
	conn *websocket.Conn
	send chan []byte
}

func newClient(id game.PlayerID, conn *websocket.Conn) *client {
	return &client{id: id, conn: conn, send: make(chan []byte, sendBuffer)}
}

// writePump drains the send channel onto the wire, one message per
// frame, and keeps the connection alive with pings. It owns all writes
// to the connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
