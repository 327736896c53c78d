package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Event names a websocket frame between a participant and the relay.
type Event string

// Frame events.
const (
	EventJoin    Event = "join"
	EventJoined  Event = "joined"
	EventMessage Event = "message"
	EventError   Event = "error"
)

// Frame is the envelope of every websocket message in both directions.
// Message is kept raw so the relay can forward it without re-encoding.
type Frame struct {
	Event   Event           `json:"event"`
	Room    string          `json:"room,omitempty"`
	Message json.RawMessage `json:"message,omitempty"`
	Error   string          `json:"error,omitempty"`
}

var (
	ErrUnknownEvent   = errors.New("unknown event")
	ErrMissingMessage = errors.New("message event without message body")
)

// DecodeFrame parses a websocket payload into a Frame.
func DecodeFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}

	switch f.Event {
	case EventJoin, EventJoined, EventError:
	case EventMessage:
		if len(f.Message) == 0 || string(f.Message) == "null" {
			return Frame{}, ErrMissingMessage
		}
	default:
		return Frame{}, fmt.Errorf("%w: %q", ErrUnknownEvent, f.Event)
	}
	return f, nil
}

// EncodeFrame serializes a Frame for the wire.
func EncodeFrame(f Frame) ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return data, nil
}

func JoinFrame(room string) Frame {
	return Frame{Event: EventJoin, Room: room}
}

func JoinedFrame(room string) Frame {
	return Frame{Event: EventJoined, Room: room}
}

func ErrorFrame(reason string) Frame {
	return Frame{Event: EventError, Error: reason}
}

// MessageFrame wraps a signaling message into a message frame.
func MessageFrame(msg SignalMessage) (Frame, error) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return Frame{}, fmt.Errorf("encode signal: %w", err)
	}
	return Frame{Event: EventMessage, Message: raw}, nil
}
