package ws

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"comm_core/internal/event"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Client is one authenticated websocket connection. It satisfies
// presence.Conn; Emit enqueues frames for the write pump and never blocks.
type Client struct {
	hub  *Hub
	conn *websocket.Conn

	id     string
	userID int64
	phone  string

	send chan []byte

	mu     sync.Mutex
	closed bool
}

func (c *Client) ID() string    { return c.id }
func (c *Client) UserID() int64 { return c.userID }

// Emit frames payload in the wire envelope and queues it. A full send buffer
// means the consumer is not keeping up; the connection is torn down and the
// client is expected to reconnect.
func (c *Client) Emit(name string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		c.hub.log.Error("marshal payload failed",
			slog.String("event", name),
			slog.String("err", err.Error()))
		return
	}
	frame, err := json.Marshal(event.Envelope{Event: name, Data: data})
	if err != nil {
		c.hub.log.Error("marshal envelope failed",
			slog.String("event", name),
			slog.String("err", err.Error()))
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- frame:
	default:
		// Writer is not keeping up; drop the connection.
		c.closed = true
		close(c.send)
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// readPump is the single logical event stream for this connection. Each
// inbound frame is handled to completion before the next is read.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Debug("read failed",
					slog.Int64("user_id", c.userID),
					slog.String("err", err.Error()))
			}
			return
		}

		var env event.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.hub.log.Debug("bad frame",
				slog.Int64("user_id", c.userID),
				slog.String("err", err.Error()))
			continue
		}
		c.hub.route(c, env)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
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
