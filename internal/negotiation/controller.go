package negotiation

import (
	"context"
	"errors"
	"log/slog"

	"github.com/pion/webrtc/v4"

	"github.com/sivaratrisrinivas/TabTalk/internal/protocol"
)

var ErrNoTrack = errors.New("no local track of that kind")

// Config wires a Controller to its collaborators.
type Config struct {
	Room      string
	Transport Transport
	Media     MediaSource
	NewPeer   PeerFactory

	// Observer is optional.
	Observer Observer

	// Constraints defaults to DefaultConstraints.
	Constraints *Constraints

	Logger *slog.Logger
}

// Snapshot is a consistent view of controller state, taken on the loop.
type Snapshot struct {
	Status         Status
	StatusText     string
	HasSession     bool
	SessionID      uint64
	SignalingState webrtc.SignalingState
	Media          MediaState
	StaleAnswers   int
}

// Controller drives one call through offer, answer and candidate exchange.
// All work happens on the goroutine running Run; the exported methods post
// events to it and wait for the result.
type Controller struct {
	room        string
	transport   Transport
	media       MediaSource
	newPeer     PeerFactory
	observer    Observer
	constraints Constraints
	log         *slog.Logger

	mbox *mailbox
	done chan struct{}

	// Loop-owned state.
	runCtx       context.Context
	sess         *session
	nextID       uint64
	status       Status
	statusText   string
	glare        *glareRecord
	staleAnswers int
}

func New(cfg Config) *Controller {
	observer := cfg.Observer
	if observer == nil {
		observer = nopObserver{}
	}
	constraints := DefaultConstraints()
	if cfg.Constraints != nil {
		constraints = *cfg.Constraints
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		room:        cfg.Room,
		transport:   cfg.Transport,
		media:       cfg.Media,
		newPeer:     cfg.NewPeer,
		observer:    observer,
		constraints: constraints,
		log:         logger.With("component", "negotiation", "room", cfg.Room),
		mbox:        newMailbox(),
		done:        make(chan struct{}),
		status:      StatusDisconnected,
	}
}

// Run processes events until ctx is cancelled, then tears down any session.
func (c *Controller) Run(ctx context.Context) error {
	defer close(c.done)
	c.runCtx = ctx
	c.setStatus(StatusDisconnected, TextReady)

	for {
		select {
		case <-ctx.Done():
			c.closeSession(false)
			return ctx.Err()
		case <-c.mbox.notify:
			for _, ev := range c.mbox.drain() {
				c.handle(ev)
			}
		}
	}
}

// Done is closed once Run has returned.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// StartCall captures media and sends an offer. It fails with ErrSessionActive
// while a session exists.
func (c *Controller) StartCall(ctx context.Context) error {
	reply := make(chan error, 1)
	return c.await(ctx, startCallEvent{ctx: ctx, reply: reply}, reply)
}

// Hangup ends the call. It is valid in any state.
func (c *Controller) Hangup(ctx context.Context) error {
	reply := make(chan error, 1)
	return c.await(ctx, hangupEvent{reply: reply}, reply)
}

// RestartICE sends a new offer with fresh ICE credentials on the current
// session.
func (c *Controller) RestartICE(ctx context.Context) error {
	reply := make(chan error, 1)
	return c.await(ctx, restartICEEvent{ctx: ctx, reply: reply}, reply)
}

// ShareScreen swaps the outgoing camera track for a display capture, or stops
// an ongoing share.
func (c *Controller) ShareScreen(ctx context.Context) error {
	reply := make(chan error, 1)
	return c.await(ctx, shareScreenEvent{ctx: ctx, reply: reply}, reply)
}

// ToggleMute flips the local audio track and returns whether it is enabled.
func (c *Controller) ToggleMute(ctx context.Context) (bool, error) {
	return c.toggleTrack(ctx, webrtc.RTPCodecTypeAudio)
}

// ToggleVideo flips the local camera track and returns whether it is enabled.
func (c *Controller) ToggleVideo(ctx context.Context) (bool, error) {
	return c.toggleTrack(ctx, webrtc.RTPCodecTypeVideo)
}

func (c *Controller) toggleTrack(ctx context.Context, kind webrtc.RTPCodecType) (bool, error) {
	reply := make(chan toggleResult, 1)
	if !c.post(toggleEvent{kind: kind, reply: reply}) {
		return false, ErrControllerStopped
	}
	select {
	case res := <-reply:
		return res.enabled, res.err
	case <-ctx.Done():
		return false, ctx.Err()
	case <-c.done:
		return false, ErrControllerStopped
	}
}

// Snapshot returns the controller state after every earlier event has been
// processed.
func (c *Controller) Snapshot(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	if !c.post(snapshotEvent{reply: reply}) {
		return Snapshot{}, ErrControllerStopped
	}
	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	case <-c.done:
		return Snapshot{}, ErrControllerStopped
	}
}

// HandleSignal queues an inbound signaling message. It never blocks.
func (c *Controller) HandleSignal(msg protocol.SignalMessage) {
	c.post(remoteSignalEvent{msg: msg})
}

func (c *Controller) post(ev any) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	c.mbox.post(ev)
	return true
}

func (c *Controller) await(ctx context.Context, ev any, reply <-chan error) error {
	if !c.post(ev) {
		return ErrControllerStopped
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrControllerStopped
	}
}

func (c *Controller) handle(ev any) {
	switch ev := ev.(type) {
	case startCallEvent:
		ev.reply <- c.startCall(ev.ctx)
	case hangupEvent:
		c.hangup()
		ev.reply <- nil
	case restartICEEvent:
		ev.reply <- c.restartICE()
	case shareScreenEvent:
		ev.reply <- c.shareScreen(ev.ctx)
	case toggleEvent:
		enabled, err := c.toggle(ev.kind)
		ev.reply <- toggleResult{enabled: enabled, err: err}
	case snapshotEvent:
		ev.reply <- c.snapshot()

	case remoteSignalEvent:
		c.onSignal(ev.msg)

	case localCandidateEvent:
		if c.current(ev.session) {
			c.onLocalCandidate(ev.candidate)
		}
	case remoteTrackEvent:
		if c.current(ev.session) {
			c.log.Info("remote track", "session", ev.session, "kind", ev.track.Kind().String(), "track", ev.track.ID())
			c.setStatus(StatusConnected, TextConnected)
			c.observer.RemoteTrack(ev.track)
		}
	case connectionStateEvent:
		if c.current(ev.session) {
			c.onConnectionState(ev.state)
		}
	case remoteMediaStateEvent:
		if c.current(ev.session) {
			c.observer.RemoteMediaState(ev.state)
		}
	case displayEndedEvent:
		if c.current(ev.session) {
			c.onDisplayEnded(ev.track)
		}
	default:
		c.log.Error("unknown controller event", "event", ev)
	}
}

func (c *Controller) current(id uint64) bool {
	return c.sess != nil && c.sess.id == id
}

func (c *Controller) startCall(ctx context.Context) error {
	if c.sess != nil {
		return ErrSessionActive
	}
	c.glare = nil

	c.setStatus(StatusConnecting, TextRequestingMedia)
	stream, err := c.media.AcquireLocalMedia(ctx, c.constraints)
	if err != nil {
		c.log.Warn("local media unavailable", "error", err)
		c.setStatus(StatusDisconnected, TextPermissionBlocked)
		return &MediaAcquisitionError{Op: "start call", Err: err}
	}

	return c.offerWith(stream)
}

// offerWith creates a fresh session around stream and sends its offer.
func (c *Controller) offerWith(stream *LocalStream) error {
	s, err := c.newSession()
	if err != nil {
		stream.Stop()
		c.setStatus(StatusDisconnected, TextSetupFailed)
		return err
	}
	c.sess = s

	if err := c.attachMedia(s, stream); err != nil {
		c.abort(err)
		return err
	}

	c.setStatus(StatusConnecting, TextCreatingOffer)
	if err := c.sendOffer(s, nil); err != nil {
		c.abort(err)
		return err
	}
	c.setStatus(StatusConnecting, TextCalling)
	return nil
}

func (c *Controller) onSignal(msg protocol.SignalMessage) {
	if msg.Room != "" && c.room != "" && msg.Room != c.room {
		c.log.Debug("ignoring signal for another room", "signal_room", msg.Room)
		return
	}
	if err := msg.Validate(); err != nil {
		c.log.Warn("ignoring malformed signal", "error", err)
		return
	}

	var err error
	switch msg.Type {
	case protocol.TypeOffer:
		err = c.onRemoteOffer(c.runCtx, *msg.Offer)
	case protocol.TypeAnswer:
		err = c.onRemoteAnswer(*msg.Answer)
	case protocol.TypeCandidate:
		c.onRemoteCandidate(*msg.Candidate)
	}
	if err != nil {
		c.log.Error("signal handling error", "type", msg.Type, "error", err)
	}
}

// onRemoteOffer always wins: any existing session is torn down and a fresh one
// answers.
func (c *Controller) onRemoteOffer(ctx context.Context, offer webrtc.SessionDescription) error {
	c.setStatus(StatusConnecting, TextIncomingCall)

	if prev := c.sess; prev != nil && prev.pc.SignalingState() == webrtc.SignalingStateHaveLocalOffer {
		c.glare = &glareRecord{localOffer: prev.localOffer, remoteOffer: originSessionID(offer.SDP)}
		c.log.Info("offer collision, answering remote offer", "session", prev.id)
	} else {
		c.glare = nil
	}
	c.closeSession(false)

	s, err := c.newSession()
	if err != nil {
		c.setStatus(StatusDisconnected, TextSetupFailed)
		return err
	}
	c.sess = s

	if err := s.pc.SetRemoteDescription(offer); err != nil {
		err = negotiationError("set remote offer", err)
		c.abort(err)
		return err
	}
	c.flushPending(s)

	c.setStatus(StatusConnecting, TextRequestingMedia)
	stream, err := c.media.AcquireLocalMedia(ctx, c.constraints)
	if err != nil {
		c.closeSession(false)
		c.glare = nil
		c.setStatus(StatusDisconnected, TextPermissionBlocked)
		return &MediaAcquisitionError{Op: "answer call", Err: err}
	}
	if err := c.attachMedia(s, stream); err != nil {
		c.abort(err)
		return err
	}

	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		err = negotiationError("create answer", err)
		c.abort(err)
		return err
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		err = negotiationError("set local answer", err)
		c.abort(err)
		return err
	}
	c.announce(s)

	if err := c.send(protocol.SignalMessage{Type: protocol.TypeAnswer, Answer: &answer}); err != nil {
		c.abort(err)
		return err
	}
	return nil
}

// onRemoteAnswer applies an answer only while our offer is outstanding.
func (c *Controller) onRemoteAnswer(answer webrtc.SessionDescription) error {
	s := c.sess
	state := webrtc.SignalingStateStable
	if s != nil {
		state = s.pc.SignalingState()
	}

	if s == nil || state != webrtc.SignalingStateHaveLocalOffer {
		c.staleAnswers++
		c.log.Warn("answer ignored, expected have-local-offer", "state", state.String())

		if g := c.glare; g != nil && s != nil {
			c.glare = nil
			if g.shouldReoffer() {
				c.log.Info("re-offering after offer collision", "session", s.id)
				return c.reoffer()
			}
		}
		return nil
	}

	if err := s.pc.SetRemoteDescription(answer); err != nil {
		err = negotiationError("set remote answer", err)
		c.abort(err)
		return err
	}
	c.flushPending(s)
	return nil
}

// reoffer replaces the current session with a fresh offering one that keeps
// the captured media.
func (c *Controller) reoffer() error {
	old := c.sess
	stream := old.stream
	old.close(true)
	c.sess = nil

	if stream == nil {
		c.setStatus(StatusDisconnected, TextSetupFailed)
		return ErrNoSession
	}
	return c.offerWith(stream)
}

func (c *Controller) onRemoteCandidate(candidate webrtc.ICECandidateInit) {
	s := c.sess
	if s == nil {
		c.log.Debug("candidate ignored, no session")
		return
	}
	if s.pc.RemoteDescription() == nil {
		s.pending = append(s.pending, candidate)
		return
	}
	c.applyCandidate(s, candidate)
}

func (c *Controller) flushPending(s *session) {
	pending := s.pending
	s.pending = nil
	for _, cand := range pending {
		c.applyCandidate(s, cand)
	}
}

func (c *Controller) applyCandidate(s *session, candidate webrtc.ICECandidateInit) {
	if err := s.pc.AddICECandidate(candidate); err != nil {
		c.log.Warn("addIceCandidate failed", "session", s.id, "error", err)
	}
}

func (c *Controller) onLocalCandidate(candidate webrtc.ICECandidateInit) {
	cand := candidate
	if err := c.send(protocol.SignalMessage{Type: protocol.TypeCandidate, Candidate: &cand}); err != nil {
		c.log.Warn("failed to send local candidate", "error", err)
	}
}

func (c *Controller) onConnectionState(state webrtc.PeerConnectionState) {
	c.log.Debug("peer connection state", "state", state.String())
	switch state {
	case webrtc.PeerConnectionStateConnected:
		c.glare = nil
		c.setStatus(StatusConnected, TextConnected)
	case webrtc.PeerConnectionStateFailed:
		c.setStatus(StatusDisconnected, TextConnectionFailed)
	case webrtc.PeerConnectionStateDisconnected:
		c.log.Warn("peer connection interrupted")
	}
}

func (c *Controller) restartICE() error {
	s := c.sess
	if s == nil {
		return ErrNoSession
	}
	if err := s.pc.RestartICE(); err != nil {
		return negotiationError("restart ice", err)
	}
	c.setStatus(StatusConnecting, TextRenegotiating)
	if err := c.sendOffer(s, &webrtc.OfferOptions{ICERestart: true}); err != nil {
		c.log.Error("ICE restart failed", "error", err)
		return err
	}
	return nil
}

func (c *Controller) hangup() {
	c.glare = nil
	c.closeSession(false)
	c.setStatus(StatusDisconnected, TextCallEnded)
}

func (c *Controller) toggle(kind webrtc.RTPCodecType) (bool, error) {
	s := c.sess
	if s == nil || s.stream == nil {
		return false, ErrNoSession
	}
	track := s.stream.Audio
	if kind == webrtc.RTPCodecTypeVideo {
		track = s.stream.Video
	}
	if track == nil {
		return false, ErrNoTrack
	}
	track.SetEnabled(!track.Enabled())
	c.announce(s)
	return track.Enabled(), nil
}

func (c *Controller) shareScreen(ctx context.Context) error {
	s := c.sess
	if s == nil {
		return ErrNoSession
	}
	if s.screen != nil {
		// Restoring the camera happens when the display track reports done.
		s.screen.Stop()
		return nil
	}
	if s.stream == nil || s.stream.Video == nil {
		return ErrNoVideoSender
	}

	display, err := c.media.AcquireDisplayMedia(ctx)
	if err != nil {
		c.log.Warn("screen share canceled/failed", "error", err)
		return &MediaAcquisitionError{Op: "share screen", Err: err}
	}
	if err := s.pc.ReplaceTrack(webrtc.RTPCodecTypeVideo, display); err != nil {
		display.Stop()
		return negotiationError("replace video track", err)
	}
	s.screen = display
	c.announce(s)

	id, closed := s.id, s.closed
	go func() {
		select {
		case <-display.Done():
			c.post(displayEndedEvent{session: id, track: display})
		case <-closed:
		}
	}()
	return nil
}

func (c *Controller) onDisplayEnded(track LocalTrack) {
	s := c.sess
	if s == nil || s.screen != track {
		return
	}
	s.screen = nil
	if s.stream != nil && s.stream.Video != nil {
		if err := s.pc.ReplaceTrack(webrtc.RTPCodecTypeVideo, s.stream.Video); err != nil {
			c.log.Warn("failed to restore camera track", "error", err)
		}
	}
	c.announce(s)
}

func (c *Controller) snapshot() Snapshot {
	snap := Snapshot{
		Status:         c.status,
		StatusText:     c.statusText,
		SignalingState: webrtc.SignalingStateStable,
		StaleAnswers:   c.staleAnswers,
	}
	if s := c.sess; s != nil {
		snap.HasSession = true
		snap.SessionID = s.id
		snap.SignalingState = s.pc.SignalingState()
		snap.Media = s.mediaState()
	}
	return snap
}

func (c *Controller) newSession() (*session, error) {
	c.nextID++
	id := c.nextID

	pc, err := c.newPeer(PeerEvents{
		ICECandidate: func(cand webrtc.ICECandidateInit) {
			c.post(localCandidateEvent{session: id, candidate: cand})
		},
		Track: func(track RemoteTrack) {
			c.post(remoteTrackEvent{session: id, track: track})
		},
		ConnectionState: func(state webrtc.PeerConnectionState) {
			c.post(connectionStateEvent{session: id, state: state})
		},
		MediaState: func(state MediaState) {
			c.post(remoteMediaStateEvent{session: id, state: state})
		},
	})
	if err != nil {
		return nil, negotiationError("create peer connection", err)
	}
	return &session{id: id, pc: pc, closed: make(chan struct{})}, nil
}

func (c *Controller) attachMedia(s *session, stream *LocalStream) error {
	s.stream = stream
	for _, track := range stream.Tracks() {
		if err := s.pc.AddTrack(track); err != nil {
			return negotiationError("add "+track.Kind().String()+" track", err)
		}
	}
	return nil
}

func (c *Controller) sendOffer(s *session, options *webrtc.OfferOptions) error {
	offer, err := s.pc.CreateOffer(options)
	if err != nil {
		return negotiationError("create offer", err)
	}
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return negotiationError("set local offer", err)
	}
	s.localOffer = originSessionID(offer.SDP)
	c.announce(s)
	return c.send(protocol.SignalMessage{Type: protocol.TypeOffer, Offer: &offer})
}

func (c *Controller) send(msg protocol.SignalMessage) error {
	msg.Room = c.room
	if err := c.transport.SendSignal(msg); err != nil {
		return negotiationError("send "+string(msg.Type), err)
	}
	return nil
}

func (c *Controller) announce(s *session) {
	if err := s.pc.AnnounceMediaState(s.mediaState()); err != nil {
		c.log.Debug("media state not announced", "error", err)
	}
}

// abort tears down the current session after a failed negotiation step.
func (c *Controller) abort(err error) {
	c.log.Error("call setup failed", "error", err)
	c.glare = nil
	c.closeSession(false)
	c.setStatus(StatusDisconnected, TextSetupFailed)
}

func (c *Controller) closeSession(keepMedia bool) {
	if c.sess == nil {
		return
	}
	c.log.Debug("closing session", "session", c.sess.id)
	c.sess.close(keepMedia)
	c.sess = nil
}

func (c *Controller) setStatus(status Status, text string) {
	c.status = status
	c.statusText = text
	c.log.Info("call status", "status", string(status), "text", text)
	c.observer.StatusChanged(status, text)
}
