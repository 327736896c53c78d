package negotiation

import (
	"context"

	"github.com/pion/webrtc/v4"

	"github.com/sivaratrisrinivas/TabTalk/internal/protocol"
)

// PeerConnection is the part of a WebRTC peer connection the controller
// drives. Implementations report asynchronous happenings through the
// PeerEvents they were created with.
type PeerConnection interface {
	AddTrack(track LocalTrack) error
	ReplaceTrack(kind webrtc.RTPCodecType, track LocalTrack) error

	CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error)
	CreateAnswer(options *webrtc.AnswerOptions) (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	RemoteDescription() *webrtc.SessionDescription
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	SignalingState() webrtc.SignalingState

	// RestartICE marks the connection so the next offer carries fresh ICE
	// credentials.
	RestartICE() error

	// AnnounceMediaState tells the remote peer which local tracks are live.
	AnnounceMediaState(state MediaState) error

	Close() error
}

// PeerEvents are callbacks a PeerConnection invokes from its own goroutines.
// The controller's callbacks only enqueue and never block.
type PeerEvents struct {
	ICECandidate    func(candidate webrtc.ICECandidateInit)
	Track           func(track RemoteTrack)
	ConnectionState func(state webrtc.PeerConnectionState)
	MediaState      func(state MediaState)
}

// PeerFactory creates a fresh peer connection.
type PeerFactory func(events PeerEvents) (PeerConnection, error)

// RemoteTrack is an inbound media track.
type RemoteTrack interface {
	ID() string
	StreamID() string
	Kind() webrtc.RTPCodecType
}

// LocalTrack is an outbound media track that can be muted and stopped.
type LocalTrack interface {
	webrtc.TrackLocal

	Enabled() bool
	SetEnabled(enabled bool)

	// Stop releases the source. Done is closed afterwards.
	Stop()
	Done() <-chan struct{}
}

// LocalStream groups the captured tracks. Video is nil for audio-only capture.
type LocalStream struct {
	Audio LocalTrack
	Video LocalTrack
}

// Tracks returns the non-nil tracks, video first.
func (s *LocalStream) Tracks() []LocalTrack {
	var out []LocalTrack
	if s.Video != nil {
		out = append(out, s.Video)
	}
	if s.Audio != nil {
		out = append(out, s.Audio)
	}
	return out
}

func (s *LocalStream) Stop() {
	for _, t := range s.Tracks() {
		t.Stop()
	}
}

// AudioConstraints are capture preferences for the microphone.
type AudioConstraints struct {
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
	ChannelCount     int
	SampleRate       int
	SampleSize       int
}

// Constraints select what AcquireLocalMedia captures.
type Constraints struct {
	Audio AudioConstraints
	Video bool
}

// DefaultConstraints are tuned for voice: mono 48 kHz with echo cancellation
// and noise suppression, and no automatic gain.
func DefaultConstraints() Constraints {
	return Constraints{
		Audio: AudioConstraints{
			EchoCancellation: true,
			NoiseSuppression: true,
			AutoGainControl:  false,
			ChannelCount:     1,
			SampleRate:       48000,
			SampleSize:       16,
		},
		Video: true,
	}
}

// MediaSource captures local media.
type MediaSource interface {
	AcquireLocalMedia(ctx context.Context, constraints Constraints) (*LocalStream, error)
	AcquireDisplayMedia(ctx context.Context) (LocalTrack, error)
}

// MediaState is what one side announces about its outgoing media.
type MediaState struct {
	Audio  bool `msgpack:"audio"`
	Video  bool `msgpack:"video"`
	Screen bool `msgpack:"screen"`
}

// Transport sends signaling messages to the other participants of the room.
type Transport interface {
	SendSignal(msg protocol.SignalMessage) error
}

// Observer receives UI-facing notifications. Calls come from the controller
// loop and must return quickly.
type Observer interface {
	StatusChanged(status Status, text string)
	RemoteTrack(track RemoteTrack)
	RemoteMediaState(state MediaState)
}

type nopObserver struct{}

func (nopObserver) StatusChanged(Status, string) {}
func (nopObserver) RemoteTrack(RemoteTrack)      {}
func (nopObserver) RemoteMediaState(MediaState)  {}
