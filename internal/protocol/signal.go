package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// SignalType is the kind of negotiation payload a SignalMessage carries.
type SignalType string

const (
	TypeOffer     SignalType = "offer"
	TypeAnswer    SignalType = "answer"
	TypeCandidate SignalType = "candidate"
)

// SignalMessage is the opaque payload routed by the relay. Exactly one of
// Offer, Answer or Candidate is set, matching Type.
type SignalMessage struct {
	Room      string                     `json:"room"`
	Type      SignalType                 `json:"type"`
	Offer     *webrtc.SessionDescription `json:"offer,omitempty"`
	Answer    *webrtc.SessionDescription `json:"answer,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
}

var ErrInvalidSignal = errors.New("invalid signal message")

// Validate checks that the payload field matching Type is present.
func (m SignalMessage) Validate() error {
	switch m.Type {
	case TypeOffer:
		if m.Offer == nil {
			return fmt.Errorf("%w: offer without sdp", ErrInvalidSignal)
		}
	case TypeAnswer:
		if m.Answer == nil {
			return fmt.Errorf("%w: answer without sdp", ErrInvalidSignal)
		}
	case TypeCandidate:
		if m.Candidate == nil {
			return fmt.Errorf("%w: candidate without body", ErrInvalidSignal)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidSignal, m.Type)
	}
	return nil
}

// DecodeSignal parses the message body of a message frame.
func DecodeSignal(raw json.RawMessage) (SignalMessage, error) {
	var msg SignalMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return SignalMessage{}, fmt.Errorf("decode signal: %w", err)
	}
	return msg, nil
}

// Envelope is the part of a SignalMessage the relay reads for routing.
type Envelope struct {
	Room string     `json:"room"`
	Type SignalType `json:"type"`
}

// PeekEnvelope reads room and type from a raw message body, ignoring the rest.
func PeekEnvelope(raw json.RawMessage) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	return env, nil
}
