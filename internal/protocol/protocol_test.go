package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/pion/webrtc/v4"
)

func TestDecodeFrame(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantErr error
		want    Event
	}{
		{name: "join", in: `{"event":"join","room":"r1"}`, want: EventJoin},
		{name: "message", in: `{"event":"message","message":{"room":"r1","type":"offer"}}`, want: EventMessage},
		{name: "message without body", in: `{"event":"message"}`, wantErr: ErrMissingMessage},
		{name: "message with null body", in: `{"event":"message","message":null}`, wantErr: ErrMissingMessage},
		{name: "unknown event", in: `{"event":"leave"}`, wantErr: ErrUnknownEvent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := DecodeFrame([]byte(tt.in))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeFrame: %v", err)
			}
			if f.Event != tt.want {
				t.Fatalf("event = %q, want %q", f.Event, tt.want)
			}
		})
	}

	if _, err := DecodeFrame([]byte("not json")); err == nil {
		t.Fatalf("expected error for malformed frame")
	}
}

func TestSignalMessageWireShape(t *testing.T) {
	msg := SignalMessage{
		Room:  "room-1",
		Type:  TypeOffer,
		Offer: &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"},
	}
	f, err := MessageFrame(msg)
	if err != nil {
		t.Fatalf("MessageFrame: %v", err)
	}

	var body map[string]any
	if err := json.Unmarshal(f.Message, &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["room"] != "room-1" || body["type"] != "offer" {
		t.Fatalf("unexpected body: %v", body)
	}
	offer, ok := body["offer"].(map[string]any)
	if !ok || offer["type"] != "offer" || offer["sdp"] != "v=0" {
		t.Fatalf("unexpected offer: %v", body["offer"])
	}
	if _, ok := body["answer"]; ok {
		t.Fatalf("answer should be omitted: %v", body)
	}

	env, err := PeekEnvelope(f.Message)
	if err != nil {
		t.Fatalf("PeekEnvelope: %v", err)
	}
	if env.Room != "room-1" || env.Type != TypeOffer {
		t.Fatalf("envelope = %+v", env)
	}
}

func TestSignalMessageValidate(t *testing.T) {
	sdp := &webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0"}
	cand := &webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 10.0.0.1 5000 typ host"}

	tests := []struct {
		name string
		msg  SignalMessage
		ok   bool
	}{
		{name: "answer", msg: SignalMessage{Type: TypeAnswer, Answer: sdp}, ok: true},
		{name: "candidate", msg: SignalMessage{Type: TypeCandidate, Candidate: cand}, ok: true},
		{name: "offer missing", msg: SignalMessage{Type: TypeOffer, Answer: sdp}},
		{name: "candidate missing", msg: SignalMessage{Type: TypeCandidate}},
		{name: "unknown type", msg: SignalMessage{Type: "bye"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if tt.ok && err != nil {
				t.Fatalf("Validate: %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidSignal) {
				t.Fatalf("err = %v, want ErrInvalidSignal", err)
			}
		})
	}
}
