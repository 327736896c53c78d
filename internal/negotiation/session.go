package negotiation

import (
	"github.com/pion/webrtc/v4"
)

// session is one peer connection plus the media attached to it. A new remote
// offer replaces the whole value; it is never reused across offers.
type session struct {
	id     uint64
	pc     PeerConnection
	stream *LocalStream

	// screen is the display track currently replacing the camera, if any.
	screen LocalTrack

	// pending holds remote candidates that arrived before a remote
	// description; they are applied right after one is set.
	pending []webrtc.ICECandidateInit

	// localOffer is the origin session id of the last offer we created.
	localOffer uint64

	closed chan struct{}
}

func (s *session) mediaState() MediaState {
	var st MediaState
	if s.stream == nil {
		return st
	}
	if s.stream.Audio != nil {
		st.Audio = s.stream.Audio.Enabled()
	}
	if s.stream.Video != nil {
		st.Video = s.stream.Video.Enabled()
	}
	st.Screen = s.screen != nil
	if st.Screen {
		st.Video = true
	}
	return st
}

// close releases the peer connection and, unless keepMedia is set, the local
// tracks.
func (s *session) close(keepMedia bool) {
	select {
	case <-s.closed:
		return
	default:
	}
	close(s.closed)

	if s.screen != nil {
		s.screen.Stop()
		s.screen = nil
	}
	if s.stream != nil && !keepMedia {
		s.stream.Stop()
	}
	if s.pc != nil {
		s.pc.Close()
	}
}
