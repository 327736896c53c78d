package signaling

import (
	"log/slog"

	"github.com/sivaratrisrinivas/TabTalk/internal/protocol"
)

// Handler routes incoming frames to typed channels. All channels are closed
// once the connection ends.
type Handler struct {
	client *Client
	log    *slog.Logger

	Joined chan string
	Signal chan protocol.SignalMessage
	Error  chan string
}

// NewHandler creates a new message handler.
func NewHandler(client *Client) *Handler {
	return &Handler{
		client: client,
		log:    client.log,
		Joined: make(chan string, 1),
		Signal: make(chan protocol.SignalMessage, 64),
		Error:  make(chan string, 4),
	}
}

// Start routes frames until the client's incoming channel closes. Run it in
// its own goroutine.
func (h *Handler) Start() {
	defer func() {
		close(h.Joined)
		close(h.Signal)
		close(h.Error)
	}()

	for frame := range h.client.Incoming() {
		switch frame.Event {
		case protocol.EventJoined:
			select {
			case h.Joined <- frame.Room:
			default:
				h.log.Debug("extra join ack ignored", "room", frame.Room)
			}

		case protocol.EventMessage:
			h.handleSignal(frame)

		case protocol.EventError:
			select {
			case h.Error <- frame.Error:
			default:
				h.log.Warn("relay error dropped", "error", frame.Error)
			}

		default:
			h.log.Debug("ignoring frame", "event", frame.Event)
		}
	}
}

func (h *Handler) handleSignal(frame protocol.Frame) {
	msg, err := protocol.DecodeSignal(frame.Message)
	if err != nil {
		h.log.Warn("failed to parse signal payload", "error", err)
		return
	}
	select {
	case h.Signal <- msg:
	case <-h.client.Done():
		h.log.Debug("signal dropped after close", "type", msg.Type)
	}
}
