package relay

import (
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// Client is one websocket connection to the relay.
type Client struct {
	// ID is assigned by the server and never reused.
	ID string

	hub  *Hub
	conn *websocket.Conn

	// send carries encoded frames to WritePump. Only the hub writes to it
	// and only the hub closes it.
	send chan []byte

	// rooms is owned by the hub goroutine.
	rooms map[string]*Room
}

// NewClient wraps conn for use with hub.
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		ID:    uuid.NewString(),
		hub:   hub,
		conn:  conn,
		send:  make(chan []byte, hub.opts.SendBuffer),
		rooms: make(map[string]*Room),
	}
}

func (c *Client) remoteAddr() string {
	if c.conn == nil {
		return ""
	}
	return c.conn.RemoteAddr().String()
}

// ReadPump pumps frames from the websocket connection to the hub. It must run
// in its own goroutine and is the only reader of the connection. Returning
// unregisters the client.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.hub.opts.MaxMessageBytes)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Warn("connection read failed", "conn", c.ID, "error", err)
			}
			return
		}
		if !c.hub.dispatch(c, data) {
			return
		}
	}
}

// WritePump pumps queued frames to the websocket connection and keeps it alive
// with pings. It is the only writer of the connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.hub.log.Debug("connection write failed", "conn", c.ID, "error", err)
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
