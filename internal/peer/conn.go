package peer

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/transport/v4"
	"github.com/pion/webrtc/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/sivaratrisrinivas/TabTalk/internal/media"
	"github.com/sivaratrisrinivas/TabTalk/internal/negotiation"
)

// StateChannelLabel is the negotiated data channel carrying media state.
const StateChannelLabel = "state"

const stateChannelID uint16 = 0

const opusPayloadType webrtc.PayloadType = 111

var ErrNoSender = errors.New("no sender for track kind")

// Option adjusts the SettingEngine before the API is built.
type Option func(*webrtc.SettingEngine)

// WithNet makes ICE gather and dial on n, typically a vnet network in tests.
func WithNet(n transport.Net) Option {
	return func(se *webrtc.SettingEngine) {
		se.SetNet(n)
	}
}

// NewAPI builds a pion API with the default codecs and interceptors, logging
// through logger.
func NewAPI(logger *slog.Logger, opts ...Option) (*webrtc.API, error) {
	if logger == nil {
		logger = slog.Default()
	}

	m := &webrtc.MediaEngine{}
	// Registered ahead of the defaults so payload type 111 carries the 64 kbps
	// maxaveragebitrate cap.
	opus := webrtc.RTPCodecParameters{RTPCodecCapability: media.AudioCodec, PayloadType: opusPayloadType}
	if err := m.RegisterCodec(opus, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("register opus: %w", err)
	}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, ir); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	se := webrtc.SettingEngine{LoggerFactory: newLoggerFactory(logger)}
	for _, opt := range opts {
		opt(&se)
	}

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(ir),
		webrtc.WithSettingEngine(se),
	), nil
}

// Factory returns a PeerFactory creating connections from api and cfg.
func Factory(api *webrtc.API, cfg webrtc.Configuration, logger *slog.Logger) negotiation.PeerFactory {
	return func(events negotiation.PeerEvents) (negotiation.PeerConnection, error) {
		return New(api, cfg, events, logger)
	}
}

// Conn adapts a pion PeerConnection to negotiation.PeerConnection.
type Conn struct {
	pc     *webrtc.PeerConnection
	state  *webrtc.DataChannel
	events negotiation.PeerEvents
	log    *slog.Logger

	mu        sync.Mutex
	senders   map[webrtc.RTPCodecType]*webrtc.RTPSender
	restart   bool
	lastState *negotiation.MediaState
}

func New(api *webrtc.API, cfg webrtc.Configuration, events negotiation.PeerEvents, logger *slog.Logger) (*Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pc, err := api.NewPeerConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	c := &Conn{
		pc:      pc,
		events:  events,
		log:     logger.With("component", "peer"),
		senders: make(map[webrtc.RTPCodecType]*webrtc.RTPSender),
	}

	negotiated := true
	ordered := true
	id := stateChannelID
	dc, err := pc.CreateDataChannel(StateChannelLabel, &webrtc.DataChannelInit{
		Ordered:    &ordered,
		Negotiated: &negotiated,
		ID:         &id,
	})
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("create state channel: %w", err)
	}
	c.state = dc
	dc.OnOpen(c.onStateOpen)
	dc.OnMessage(c.onStateMessage)

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil || events.ICECandidate == nil {
			return
		}
		events.ICECandidate(cand.ToJSON())
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		c.log.Debug("connection state changed", "state", state.String())
		if events.ConnectionState != nil {
			events.ConnectionState(state)
		}
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		c.log.Info("remote track", "kind", track.Kind().String(), "codec", track.Codec().MimeType)
		rt := newRemoteTrack(track)
		go rt.readLoop()
		if events.Track != nil {
			events.Track(rt)
		}
	})

	return c, nil
}

func (c *Conn) AddTrack(track negotiation.LocalTrack) error {
	sender, err := c.pc.AddTrack(track)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.senders[track.Kind()] = sender
	c.mu.Unlock()

	go drainRTCP(sender)
	return nil
}

// ReplaceTrack swaps the track on the existing sender of that kind without
// renegotiating.
func (c *Conn) ReplaceTrack(kind webrtc.RTPCodecType, track negotiation.LocalTrack) error {
	c.mu.Lock()
	sender := c.senders[kind]
	c.mu.Unlock()
	if sender == nil {
		return fmt.Errorf("%w: %s", ErrNoSender, kind)
	}
	return sender.ReplaceTrack(track)
}

func (c *Conn) CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	c.mu.Lock()
	if c.restart {
		var opts webrtc.OfferOptions
		if options != nil {
			opts = *options
		}
		opts.ICERestart = true
		options = &opts
		c.restart = false
	}
	c.mu.Unlock()
	return c.pc.CreateOffer(options)
}

func (c *Conn) CreateAnswer(options *webrtc.AnswerOptions) (webrtc.SessionDescription, error) {
	return c.pc.CreateAnswer(options)
}

func (c *Conn) SetLocalDescription(desc webrtc.SessionDescription) error {
	return c.pc.SetLocalDescription(desc)
}

func (c *Conn) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(desc)
}

func (c *Conn) RemoteDescription() *webrtc.SessionDescription {
	return c.pc.RemoteDescription()
}

func (c *Conn) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(candidate)
}

func (c *Conn) SignalingState() webrtc.SignalingState {
	return c.pc.SignalingState()
}

func (c *Conn) ConnectionState() webrtc.PeerConnectionState {
	return c.pc.ConnectionState()
}

// RestartICE makes the next CreateOffer request fresh ICE credentials.
func (c *Conn) RestartICE() error {
	c.mu.Lock()
	c.restart = true
	c.mu.Unlock()
	return nil
}

// AnnounceMediaState sends state on the state channel, or remembers it until
// the channel opens.
func (c *Conn) AnnounceMediaState(state negotiation.MediaState) error {
	c.mu.Lock()
	c.lastState = &state
	c.mu.Unlock()

	if c.state.ReadyState() != webrtc.DataChannelStateOpen {
		return nil
	}
	return c.sendState(state)
}

func (c *Conn) Close() error {
	return c.pc.Close()
}

func (c *Conn) sendState(state negotiation.MediaState) error {
	b, err := msgpack.Marshal(&state)
	if err != nil {
		return fmt.Errorf("encode media state: %w", err)
	}
	return c.state.Send(b)
}

func (c *Conn) onStateOpen() {
	c.mu.Lock()
	last := c.lastState
	c.mu.Unlock()
	if last == nil {
		return
	}
	if err := c.sendState(*last); err != nil {
		c.log.Debug("media state not sent", "error", err)
	}
}

func (c *Conn) onStateMessage(msg webrtc.DataChannelMessage) {
	var state negotiation.MediaState
	if err := msgpack.Unmarshal(msg.Data, &state); err != nil {
		c.log.Warn("invalid media state message", "error", err)
		return
	}
	if c.events.MediaState != nil {
		c.events.MediaState(state)
	}
}

// drainRTCP reads and discards RTCP so the sender's interceptors keep running.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}
