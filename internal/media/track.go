package media

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
)

// Codecs the synthetic tracks are created with.
var (
	AudioCodec = webrtc.RTPCodecCapability{
		MimeType:    webrtc.MimeTypeOpus,
		ClockRate:   48000,
		Channels:    2,
		SDPFmtpLine: "minptime=10;useinbandfec=1;maxaveragebitrate=64000",
	}
	VideoCodec = webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeVP8,
		ClockRate: 90000,
	}
)

// Track is a local sample track that can be muted and stopped.
type Track struct {
	*webrtc.TrackLocalStaticSample

	enabled  atomic.Bool
	done     chan struct{}
	stopOnce sync.Once
}

func newTrack(codec webrtc.RTPCodecCapability, id, streamID string) (*Track, error) {
	sample, err := webrtc.NewTrackLocalStaticSample(codec, id, streamID)
	if err != nil {
		return nil, fmt.Errorf("create %s track: %w", codec.MimeType, err)
	}
	t := &Track{TrackLocalStaticSample: sample, done: make(chan struct{})}
	t.enabled.Store(true)
	return t, nil
}

func (t *Track) Enabled() bool {
	return t.enabled.Load()
}

// SetEnabled mutes or unmutes the track. A muted track keeps its sender but
// writes no samples.
func (t *Track) SetEnabled(enabled bool) {
	t.enabled.Store(enabled)
}

func (t *Track) Stop() {
	t.stopOnce.Do(func() {
		t.enabled.Store(false)
		close(t.done)
	})
}

func (t *Track) Done() <-chan struct{} {
	return t.done
}
