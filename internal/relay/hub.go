package relay

import (
	"context"
	"errors"
	"log/slog"

	"github.com/sivaratrisrinivas/TabTalk/internal/metrics"
	"github.com/sivaratrisrinivas/TabTalk/internal/protocol"
)

const (
	DefaultMaxMessageBytes = 64 * 1024
	DefaultSendBuffer      = 256
)

var ErrHubClosed = errors.New("relay hub closed")

// Options tunes hub behavior. Zero values select the defaults.
type Options struct {
	// StrictRooms rejects messages without a room instead of broadcasting
	// them to every other connection.
	StrictRooms bool

	// MaxMessageBytes caps a single inbound websocket message.
	MaxMessageBytes int64

	// SendBuffer is the per-connection outbound queue length. A recipient
	// whose queue is full misses the message.
	SendBuffer int
}

// inbound is a frame read from a connection, queued for the hub loop.
type inbound struct {
	client *Client
	frame  protocol.Frame
	raw    []byte
	err    error
}

// Hub owns all rooms and connections. Every mutation and membership read
// happens on the goroutine running Run.
type Hub struct {
	rooms   map[string]*Room
	clients map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	inbound    chan inbound
	queries    chan func()
	done       chan struct{}

	opts    Options
	metrics *metrics.Metrics
	log     *slog.Logger
}

// NewHub creates a hub. Call Run to start processing.
func NewHub(opts Options, m *metrics.Metrics, logger *slog.Logger) *Hub {
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = DefaultMaxMessageBytes
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = DefaultSendBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		rooms:      make(map[string]*Room),
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inbound),
		queries:    make(chan func()),
		done:       make(chan struct{}),
		opts:       opts,
		metrics:    m,
		log:        logger.With("component", "relay"),
	}
}

// Run processes hub events until ctx is cancelled. On exit every connection's
// send queue is closed, which makes its write pump close the socket.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		for c := range h.clients {
			h.disconnect(c)
		}
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			h.log.Info("relay hub stopping", "connections", len(h.clients), "rooms", len(h.rooms))
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.metrics.Inc(metrics.ConnectionsOpened)
			h.log.Info("connection registered", "conn", c.ID, "remote", c.remoteAddr())

		case c := <-h.unregister:
			if _, ok := h.clients[c]; !ok {
				continue
			}
			h.disconnect(c)
			h.log.Info("connection unregistered", "conn", c.ID)

		case in := <-h.inbound:
			h.handle(in)

		case q := <-h.queries:
			q()
		}
	}
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// Register adds a connection to the hub.
func (h *Hub) Register(c *Client) error {
	select {
	case h.register <- c:
		return nil
	case <-h.done:
		return ErrHubClosed
	}
}

// Unregister removes a connection from every room. It is safe to call more
// than once.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// dispatch decodes a raw websocket payload and queues it for the hub loop.
// It reports false once the hub has stopped.
func (h *Hub) dispatch(c *Client, data []byte) bool {
	frame, err := protocol.DecodeFrame(data)
	select {
	case h.inbound <- inbound{client: c, frame: frame, raw: data, err: err}:
		return true
	case <-h.done:
		return false
	}
}

// Members returns the sorted connection ids in room, or nil if the room does
// not exist.
func (h *Hub) Members(room string) []string {
	var ids []string
	h.query(func() {
		if r, ok := h.rooms[room]; ok {
			ids = r.memberIDs()
		}
	})
	return ids
}

// RoomCount returns the number of live rooms.
func (h *Hub) RoomCount() int {
	var n int
	h.query(func() { n = len(h.rooms) })
	return n
}

func (h *Hub) query(fn func()) {
	finished := make(chan struct{})
	select {
	case h.queries <- func() { fn(); close(finished) }:
		<-finished
	case <-h.done:
	}
}

func (h *Hub) handle(in inbound) {
	c := in.client
	if _, ok := h.clients[c]; !ok {
		return
	}

	if in.err != nil {
		h.metrics.Inc(metrics.InvalidFrames)
		h.log.Warn("invalid frame", "conn", c.ID, "error", in.err)
		h.reply(c, protocol.ErrorFrame("invalid frame"))
		return
	}

	switch in.frame.Event {
	case protocol.EventJoin:
		h.join(c, in.frame.Room)

	case protocol.EventMessage:
		env, err := protocol.PeekEnvelope(in.frame.Message)
		if err != nil {
			h.metrics.Inc(metrics.InvalidFrames)
			h.log.Warn("invalid message body", "conn", c.ID, "error", err)
			h.reply(c, protocol.ErrorFrame("invalid message"))
			return
		}
		h.relay(c, env, in.raw)

	default:
		h.metrics.Inc(metrics.InvalidFrames)
		h.log.Warn("unexpected event from client", "conn", c.ID, "event", in.frame.Event)
		h.reply(c, protocol.ErrorFrame("unexpected event"))
	}
}

// join is idempotent. The ack goes to the requester only.
func (h *Hub) join(c *Client, id string) {
	room, ok := h.rooms[id]
	if !ok {
		room = newRoom(id)
		h.rooms[id] = room
		h.log.Debug("room created", "room", id)
	}
	if room.add(c) {
		c.rooms[id] = room
		h.log.Info("connection joined room", "conn", c.ID, "room", id, "members", len(room.members))
	}
	h.metrics.Inc(metrics.Joins)
	h.reply(c, protocol.JoinedFrame(id))
}

// relay forwards raw to the other members of env.Room. The sender never
// receives its own message.
func (h *Hub) relay(sender *Client, env protocol.Envelope, raw []byte) {
	h.metrics.Inc(metrics.MessagesReceived)
	h.log.Debug("received message", "type", env.Type, "room", env.Room, "conn", sender.ID)

	if env.Room == "" {
		if h.opts.StrictRooms {
			h.metrics.Inc(metrics.RoomlessRejected)
			h.log.Warn("rejected message without room", "conn", sender.ID, "type", env.Type)
			h.reply(sender, protocol.ErrorFrame("room required"))
			return
		}
		h.metrics.Inc(metrics.RoomlessBroadcasts)
		for c := range h.clients {
			if c != sender {
				h.deliver(c, raw)
			}
		}
		return
	}

	room, ok := h.rooms[env.Room]
	if !ok {
		return
	}
	for c := range room.members {
		if c != sender {
			h.deliver(c, raw)
		}
	}
}

// deliver never blocks the hub; a full queue drops the message.
func (h *Hub) deliver(c *Client, raw []byte) {
	select {
	case c.send <- raw:
		h.metrics.Inc(metrics.MessagesDelivered)
	default:
		h.metrics.Inc(metrics.DeliveriesDropped)
		h.log.Warn("recipient queue full, message dropped", "conn", c.ID)
	}
}

func (h *Hub) reply(c *Client, f protocol.Frame) {
	data, err := protocol.EncodeFrame(f)
	if err != nil {
		h.log.Error("encode reply", "conn", c.ID, "error", err)
		return
	}
	h.deliver(c, data)
}

func (h *Hub) disconnect(c *Client) {
	for id, room := range c.rooms {
		room.remove(c)
		if room.empty() {
			delete(h.rooms, id)
			h.log.Debug("room deleted", "room", id)
		}
	}
	c.rooms = nil
	delete(h.clients, c)
	close(c.send)
	h.metrics.Inc(metrics.ConnectionsClosed)
}
