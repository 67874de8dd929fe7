package server

import (
	"encoding/json"
	"sync"
	"time"

	"kimchi-observer/src/models"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// -----------------------------------------------------------------------------
// Constants
// -----------------------------------------------------------------------------

const (
	defaultWriteWait = 2 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = (pongWait * 9) / 10
	maxMessageSize   = 4096
)

// -----------------------------------------------------------------------------
// Client Structure
// -----------------------------------------------------------------------------

// Client is one websocket subscriber. It implements interfaces.ISubscriber.
type Client struct {
	id        string
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	writeWait time.Duration
	closeOnce sync.Once
}

// -----------------------------------------------------------------------------

func NewClient(hub *Hub, conn *websocket.Conn, buffer int, writeWait time.Duration) *Client {
	if buffer <= 0 {
		buffer = 16
	}
	if writeWait <= 0 {
		writeWait = defaultWriteWait
	}
	return &Client{
		id:        uuid.NewString(),
		hub:       hub,
		conn:      conn,
		send:      make(chan []byte, buffer),
		writeWait: writeWait,
	}
}

// -----------------------------------------------------------------------------

func (c *Client) ID() string {
	return c.id
}

// -----------------------------------------------------------------------------

// Send is called only from the hub loop.
func (c *Client) Send(message interface{}) bool {
	data, ok := message.([]byte)
	if !ok {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// -----------------------------------------------------------------------------

// Close ends the write pump, which sends a close frame and drops the connection.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.send) })
}

// -----------------------------------------------------------------------------

// Serve runs both pumps; it returns when the connection is done.
func (c *Client) Serve() {
	go c.writePump()
	c.readPump()
}

// -----------------------------------------------------------------------------
// readPump - handles incoming messages from client
// Act as a Watchdog for the connection
// -----------------------------------------------------------------------------

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
		c.hub.Logger.Debug("Client %s disconnected", c.id)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.Logger.Info("WebSocket error: %v", err)
			}
			return
		}

		var cmd models.MClientCommand
		if err := json.Unmarshal(message, &cmd); err != nil {
			c.hub.Logger.Debug("Client %s sent an unreadable command: %v", c.id, err)
			continue
		}
		if cmd.Command == models.CommandSnapshot {
			c.hub.RequestSnapshot(c)
		}
	}
}

// -----------------------------------------------------------------------------
// writePump - sends messages to client. Closing the connection on error
// makes readPump unregister the client.
// -----------------------------------------------------------------------------

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if !ok {
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.hub.Logger.Info("Write to %s failed: %v", c.id, err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
