package peer

import (
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// TrackStats counts what a remote track has delivered so far.
type TrackStats struct {
	Packets      uint64
	Bytes        uint64
	LastSequence uint16
}

// RemoteTrack is an inbound track whose RTP is consumed and counted.
type RemoteTrack struct {
	track *webrtc.TrackRemote

	packets atomic.Uint64
	bytes   atomic.Uint64
	lastSeq atomic.Uint32
	done    chan struct{}
}

func newRemoteTrack(track *webrtc.TrackRemote) *RemoteTrack {
	return &RemoteTrack{track: track, done: make(chan struct{})}
}

func (t *RemoteTrack) ID() string                { return t.track.ID() }
func (t *RemoteTrack) StreamID() string          { return t.track.StreamID() }
func (t *RemoteTrack) Kind() webrtc.RTPCodecType { return t.track.Kind() }

func (t *RemoteTrack) Stats() TrackStats {
	return TrackStats{
		Packets:      t.packets.Load(),
		Bytes:        t.bytes.Load(),
		LastSequence: uint16(t.lastSeq.Load()),
	}
}

// Done is closed when the track stops delivering, usually because the peer
// connection closed.
func (t *RemoteTrack) Done() <-chan struct{} {
	return t.done
}

func (t *RemoteTrack) readLoop() {
	defer close(t.done)
	for {
		pkt, _, err := t.track.ReadRTP()
		if err != nil {
			return
		}
		t.observe(pkt)
	}
}

func (t *RemoteTrack) observe(pkt *rtp.Packet) {
	t.packets.Add(1)
	t.bytes.Add(uint64(len(pkt.Payload)))
	t.lastSeq.Store(uint32(pkt.SequenceNumber))
}
