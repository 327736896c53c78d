package negotiation

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/sivaratrisrinivas/TabTalk/internal/protocol"
)

// Intent events carry a reply channel the loop answers exactly once.
type (
	startCallEvent struct {
		ctx   context.Context
		reply chan error
	}
	hangupEvent struct {
		reply chan error
	}
	restartICEEvent struct {
		ctx   context.Context
		reply chan error
	}
	toggleEvent struct {
		kind  webrtc.RTPCodecType
		reply chan toggleResult
	}
	shareScreenEvent struct {
		ctx   context.Context
		reply chan error
	}
	snapshotEvent struct {
		reply chan Snapshot
	}
)

type toggleResult struct {
	enabled bool
	err     error
}

// Inbound signaling.
type remoteSignalEvent struct {
	msg protocol.SignalMessage
}

// Peer and media callbacks are tagged with the session that produced them so
// the loop can drop events from a superseded session.
type (
	localCandidateEvent struct {
		session   uint64
		candidate webrtc.ICECandidateInit
	}
	remoteTrackEvent struct {
		session uint64
		track   RemoteTrack
	}
	connectionStateEvent struct {
		session uint64
		state   webrtc.PeerConnectionState
	}
	remoteMediaStateEvent struct {
		session uint64
		state   MediaState
	}
	displayEndedEvent struct {
		session uint64
		track   LocalTrack
	}
)

// mailbox is an unbounded FIFO. post never blocks, so peer callbacks running
// on pion goroutines cannot stall while the loop is inside a pion call.
type mailbox struct {
	mu     sync.Mutex
	items  []any
	notify chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{notify: make(chan struct{}, 1)}
}

func (m *mailbox) post(ev any) {
	m.mu.Lock()
	m.items = append(m.items, ev)
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// drain takes every queued event in arrival order.
func (m *mailbox) drain() []any {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.items
	m.items = nil
	return items
}
