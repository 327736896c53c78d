package negotiation

import (
	"github.com/pion/sdp/v3"
)

// glareRecord remembers that we abandoned our own pending offer because the
// remote side offered at the same time.
type glareRecord struct {
	localOffer  uint64
	remoteOffer uint64
}

// shouldReoffer reports whether this side restarts negotiation after the
// crossed offers. Exactly one side decides yes: the one whose abandoned offer
// had the lower origin session id.
func (g *glareRecord) shouldReoffer() bool {
	return g.localOffer != 0 && g.remoteOffer != 0 && g.localOffer < g.remoteOffer
}

// originSessionID returns the o= session id of an SDP blob, or 0 if it cannot
// be parsed.
func originSessionID(raw string) uint64 {
	var desc sdp.SessionDescription
	if err := desc.Unmarshal([]byte(raw)); err != nil {
		return 0
	}
	return desc.Origin.SessionID
}
