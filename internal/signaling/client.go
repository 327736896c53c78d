package signaling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sivaratrisrinivas/TabTalk/internal/dns"
	"github.com/sivaratrisrinivas/TabTalk/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

var ErrClosed = errors.New("signaling connection closed")

// Client manages the WebSocket connection to the relay server.
type Client struct {
	conn      *websocket.Conn
	serverURL string
	log       *slog.Logger

	mu   sync.Mutex
	room string

	incoming chan protocol.Frame
	outgoing chan []byte

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient creates a client for serverURL. Call Connect before use.
func NewClient(serverURL string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		serverURL: serverURL,
		log:       logger.With("component", "signaling"),
		incoming:  make(chan protocol.Frame, 32),
		outgoing:  make(chan []byte, 64),
		done:      make(chan struct{}),
	}
}

// Connect establishes the WebSocket connection to the server.
func (c *Client) Connect(ctx context.Context) error {
	u, err := url.Parse(c.serverURL)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}

	dialer := *websocket.DefaultDialer
	dialer.NetDialContext = dns.DialContext

	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	c.conn = conn

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go c.readPump()
	go c.writePump()

	c.log.Debug("connected to relay", "url", u.String())
	return nil
}

// readPump delivers decoded frames on incoming until the connection ends.
func (c *Client) readPump() {
	defer func() {
		c.conn.Close()
		close(c.incoming)
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.log.Debug("relay read ended", "error", err)
			}
			return
		}

		frame, err := protocol.DecodeFrame(data)
		if err != nil {
			c.log.Warn("dropping malformed frame from relay", "error", err)
			continue
		}

		select {
		case c.incoming <- frame:
		case <-c.done:
			return
		}
	}
}

// writePump writes queued frames and sends periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data := <-c.outgoing:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.log.Debug("relay write failed", "error", err)
				c.Close()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// SendFrame queues a frame for the server.
func (c *Client) SendFrame(f protocol.Frame) error {
	data, err := protocol.EncodeFrame(f)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.outgoing <- data:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

// Join asks the relay to add this connection to room. Signals sent afterwards
// are stamped with that room.
func (c *Client) Join(room string) error {
	c.mu.Lock()
	c.room = room
	c.mu.Unlock()
	return c.SendFrame(protocol.JoinFrame(room))
}

// SendSignal wraps msg into a message frame. An empty msg.Room is filled with
// the joined room.
func (c *Client) SendSignal(msg protocol.SignalMessage) error {
	if msg.Room == "" {
		c.mu.Lock()
		msg.Room = c.room
		c.mu.Unlock()
	}
	f, err := protocol.MessageFrame(msg)
	if err != nil {
		return err
	}
	return c.SendFrame(f)
}

// Incoming returns the channel of frames from the server. It is closed when
// the connection ends.
func (c *Client) Incoming() <-chan protocol.Frame {
	return c.incoming
}

// Done is closed after Close.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close closes the WebSocket connection. It is safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
