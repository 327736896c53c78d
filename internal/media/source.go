package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"

	"github.com/sivaratrisrinivas/TabTalk/internal/negotiation"
)

var ErrOverconstrained = errors.New("media constraints cannot be satisfied")

const frameDuration = 20 * time.Millisecond

// opusSilence is a single 20 ms Opus frame of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// Source is a synthetic capture device. Audio tracks carry Opus silence while
// enabled; camera and display tracks carry no frames.
type Source struct {
	log *slog.Logger
}

func NewSource(logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{log: logger.With("component", "media")}
}

func (s *Source) AcquireLocalMedia(ctx context.Context, constraints negotiation.Constraints) (*negotiation.LocalStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateAudio(constraints.Audio); err != nil {
		return nil, err
	}

	streamID := uuid.NewString()
	audio, err := newTrack(AudioCodec, "audio-"+uuid.NewString(), streamID)
	if err != nil {
		return nil, err
	}
	stream := &negotiation.LocalStream{Audio: audio}

	if constraints.Video {
		video, err := newTrack(VideoCodec, "video-"+uuid.NewString(), streamID)
		if err != nil {
			audio.Stop()
			return nil, err
		}
		stream.Video = video
	}

	go s.writeSilence(audio)
	s.log.Debug("local media acquired", "stream", streamID, "video", constraints.Video)
	return stream, nil
}

func (s *Source) AcquireDisplayMedia(ctx context.Context) (negotiation.LocalTrack, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return newTrack(VideoCodec, "screen-"+uuid.NewString(), "screen-"+uuid.NewString())
}

func (s *Source) writeSilence(t *Track) {
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-t.Done():
			return
		case <-ticker.C:
			if !t.Enabled() {
				continue
			}
			if err := t.WriteSample(pionmedia.Sample{Data: opusSilence, Duration: frameDuration}); err != nil {
				s.log.Debug("audio sample dropped", "track", t.ID(), "error", err)
			}
		}
	}
}

func validateAudio(c negotiation.AudioConstraints) error {
	if c.SampleRate != 0 && c.SampleRate != int(AudioCodec.ClockRate) {
		return fmt.Errorf("%w: sample rate %d", ErrOverconstrained, c.SampleRate)
	}
	if c.ChannelCount < 0 || c.ChannelCount > int(AudioCodec.Channels) {
		return fmt.Errorf("%w: channel count %d", ErrOverconstrained, c.ChannelCount)
	}
	if c.SampleSize != 0 && c.SampleSize != 16 {
		return fmt.Errorf("%w: sample size %d", ErrOverconstrained, c.SampleSize)
	}
	return nil
}
