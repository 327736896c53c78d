package negotiation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/sivaratrisrinivas/TabTalk/internal/protocol"
)

var errFakeState = errors.New("fake: invalid signaling state")

// fakeSDP builds the smallest description the sdp package will parse. Answers
// carry the origin id of the offer they answer.
func fakeSDP(sid, answers uint64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "v=0\r\no=- %d 1 IN IP4 0.0.0.0\r\ns=-\r\nt=0 0\r\n", sid)
	if answers != 0 {
		fmt.Fprintf(&b, "a=fake-answers:%d\r\n", answers)
	}
	return b.String()
}

func answeredOffer(raw string) uint64 {
	for _, line := range strings.Split(raw, "\r\n") {
		if v, ok := strings.CutPrefix(line, "a=fake-answers:"); ok {
			id, _ := strconv.ParseUint(v, 10, 64)
			return id
		}
	}
	return 0
}

// fakeNet hands out fakePeers and connects an offerer to its answerer once
// a matching answer is applied.
type fakeNet struct {
	mu      sync.Mutex
	next    uint64
	peers   map[uint64]*fakePeer
	all     []*fakePeer
	failNew error
}

func newFakeNet(base uint64) *fakeNet {
	return &fakeNet{next: base, peers: make(map[uint64]*fakePeer)}
}

func (n *fakeNet) factory(events PeerEvents) (PeerConnection, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failNew != nil {
		return nil, n.failNew
	}
	n.next++
	p := &fakePeer{
		net:    n,
		sid:    n.next,
		events: events,
		state:  webrtc.SignalingStateStable,
		tracks: make(map[webrtc.RTPCodecType]LocalTrack),
	}
	n.peers[p.sid] = p
	n.all = append(n.all, p)
	return p, nil
}

func (n *fakeNet) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.all)
}

func (n *fakeNet) peer(i int) *fakePeer {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.all[i]
}

func (n *fakeNet) connect(offerer *fakePeer, answerer uint64) {
	n.mu.Lock()
	other := n.peers[answerer]
	n.mu.Unlock()

	offerer.events.ConnectionState(webrtc.PeerConnectionStateConnected)
	if other != nil {
		other.events.ConnectionState(webrtc.PeerConnectionStateConnected)
	}
}

type fakePeer struct {
	net    *fakeNet
	sid    uint64
	events PeerEvents

	mu             sync.Mutex
	state          webrtc.SignalingState
	remote         *webrtc.SessionDescription
	tracks         map[webrtc.RTPCodecType]LocalTrack
	candidates     []webrtc.ICECandidateInit
	announced      []MediaState
	restartPending bool
	iceRestarts    int
	failCandidates error
	closed         bool
	localSent      int
}

func (p *fakePeer) AddTrack(track LocalTrack) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.tracks[track.Kind()]; ok {
		return fmt.Errorf("fake: %s track already added", track.Kind())
	}
	p.tracks[track.Kind()] = track
	return nil
}

func (p *fakePeer) ReplaceTrack(kind webrtc.RTPCodecType, track LocalTrack) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.tracks[kind]; !ok {
		return fmt.Errorf("fake: no %s sender", kind)
	}
	p.tracks[kind] = track
	return nil
}

func (p *fakePeer) CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return webrtc.SessionDescription{}, webrtc.ErrConnectionClosed
	}
	if options != nil && options.ICERestart && p.restartPending {
		p.iceRestarts++
		p.restartPending = false
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fakeSDP(p.sid, 0)}, nil
}

func (p *fakePeer) CreateAnswer(*webrtc.AnswerOptions) (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != webrtc.SignalingStateHaveRemoteOffer {
		return webrtc.SessionDescription{}, errFakeState
	}
	return webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  fakeSDP(p.sid, originSessionID(p.remote.SDP)),
	}, nil
}

func (p *fakePeer) SetLocalDescription(desc webrtc.SessionDescription) error {
	p.mu.Lock()
	switch {
	case desc.Type == webrtc.SDPTypeOffer && (p.state == webrtc.SignalingStateStable || p.state == webrtc.SignalingStateHaveLocalOffer):
		p.state = webrtc.SignalingStateHaveLocalOffer
	case desc.Type == webrtc.SDPTypeAnswer && p.state == webrtc.SignalingStateHaveRemoteOffer:
		p.state = webrtc.SignalingStateStable
	default:
		p.mu.Unlock()
		return errFakeState
	}
	p.localSent++
	cand := webrtc.ICECandidateInit{
		Candidate: fmt.Sprintf("candidate:%d 1 udp 2130706431 127.0.0.1 %d typ host", p.sid, 40000+p.localSent),
	}
	p.mu.Unlock()

	go p.events.ICECandidate(cand)
	return nil
}

func (p *fakePeer) SetRemoteDescription(desc webrtc.SessionDescription) error {
	p.mu.Lock()
	connect := false
	switch {
	case desc.Type == webrtc.SDPTypeOffer && p.state == webrtc.SignalingStateStable:
		p.state = webrtc.SignalingStateHaveRemoteOffer
	case desc.Type == webrtc.SDPTypeAnswer && p.state == webrtc.SignalingStateHaveLocalOffer:
		p.state = webrtc.SignalingStateStable
		connect = answeredOffer(desc.SDP) == p.sid
	default:
		p.mu.Unlock()
		return errFakeState
	}
	d := desc
	p.remote = &d
	p.mu.Unlock()

	if connect {
		go p.net.connect(p, originSessionID(desc.SDP))
	}
	return nil
}

func (p *fakePeer) RemoteDescription() *webrtc.SessionDescription {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remote
}

func (p *fakePeer) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failCandidates != nil {
		return p.failCandidates
	}
	if p.remote == nil {
		return errFakeState
	}
	p.candidates = append(p.candidates, candidate)
	return nil
}

func (p *fakePeer) SignalingState() webrtc.SignalingState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *fakePeer) RestartICE() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.restartPending = true
	return nil
}

func (p *fakePeer) AnnounceMediaState(state MediaState) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.announced = append(p.announced, state)
	return nil
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.state = webrtc.SignalingStateClosed
	return nil
}

func (p *fakePeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePeer) appliedCandidates() []webrtc.ICECandidateInit {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]webrtc.ICECandidateInit(nil), p.candidates...)
}

func (p *fakePeer) track(kind webrtc.RTPCodecType) LocalTrack {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tracks[kind]
}

func (p *fakePeer) lastAnnounced() (MediaState, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.announced) == 0 {
		return MediaState{}, false
	}
	return p.announced[len(p.announced)-1], true
}

func (p *fakePeer) restarts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.iceRestarts
}

// fakeTrack satisfies LocalTrack. The embedded TrackLocal is nil; only the
// identity methods are ever called on it by the fakes.
type fakeTrack struct {
	webrtc.TrackLocal

	id   string
	kind webrtc.RTPCodecType

	mu      sync.Mutex
	enabled bool
	done    chan struct{}
	once    sync.Once
}

func newFakeTrack(id string, kind webrtc.RTPCodecType) *fakeTrack {
	return &fakeTrack{id: id, kind: kind, enabled: true, done: make(chan struct{})}
}

func (t *fakeTrack) ID() string                { return t.id }
func (t *fakeTrack) RID() string               { return "" }
func (t *fakeTrack) StreamID() string          { return "fake-stream" }
func (t *fakeTrack) Kind() webrtc.RTPCodecType { return t.kind }

func (t *fakeTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *fakeTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
}

func (t *fakeTrack) Stop() {
	t.once.Do(func() { close(t.done) })
}

func (t *fakeTrack) Done() <-chan struct{} {
	return t.done
}

func (t *fakeTrack) stopped() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

type fakeMedia struct {
	mu         sync.Mutex
	err        error
	displayErr error
	streams    []*LocalStream
	displays   []*fakeTrack
}

func (m *fakeMedia) AcquireLocalMedia(ctx context.Context, constraints Constraints) (*LocalStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	n := len(m.streams)
	stream := &LocalStream{Audio: newFakeTrack(fmt.Sprintf("audio-%d", n), webrtc.RTPCodecTypeAudio)}
	if constraints.Video {
		stream.Video = newFakeTrack(fmt.Sprintf("video-%d", n), webrtc.RTPCodecTypeVideo)
	}
	m.streams = append(m.streams, stream)
	return stream, nil
}

func (m *fakeMedia) AcquireDisplayMedia(context.Context) (LocalTrack, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.displayErr != nil {
		return nil, m.displayErr
	}
	track := newFakeTrack(fmt.Sprintf("screen-%d", len(m.displays)), webrtc.RTPCodecTypeVideo)
	m.displays = append(m.displays, track)
	return track, nil
}

func (m *fakeMedia) stream(i int) *LocalStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streams[i]
}

func (m *fakeMedia) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.streams)
}

type fakeTransport struct {
	mu      sync.Mutex
	sent    []protocol.SignalMessage
	err     error
	deliver func(protocol.SignalMessage)
}

func (t *fakeTransport) SendSignal(msg protocol.SignalMessage) error {
	t.mu.Lock()
	if t.err != nil {
		t.mu.Unlock()
		return t.err
	}
	t.sent = append(t.sent, msg)
	deliver := t.deliver
	t.mu.Unlock()

	if deliver != nil {
		deliver(msg)
	}
	return nil
}

func (t *fakeTransport) messages(typ protocol.SignalType) []protocol.SignalMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []protocol.SignalMessage
	for _, m := range t.sent {
		if m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

// switchboard relays between two controllers and can hold traffic to force
// offers to cross.
type switchboard struct {
	mu    sync.Mutex
	held  bool
	queue []func()
}

func (s *switchboard) link(from *fakeTransport, to *Controller) {
	from.mu.Lock()
	defer from.mu.Unlock()
	from.deliver = func(msg protocol.SignalMessage) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.held {
			s.queue = append(s.queue, func() { to.HandleSignal(msg) })
			return
		}
		to.HandleSignal(msg)
	}
}

func (s *switchboard) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.held = false
	for _, f := range s.queue {
		f()
	}
	s.queue = nil
}

type statusChange struct {
	status Status
	text   string
}

type recorder struct {
	mu       sync.Mutex
	statuses []statusChange
	tracks   []RemoteTrack
	states   []MediaState
}

func (r *recorder) StatusChanged(status Status, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, statusChange{status, text})
}

func (r *recorder) RemoteTrack(track RemoteTrack) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tracks = append(r.tracks, track)
}

func (r *recorder) RemoteMediaState(state MediaState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
}

func (r *recorder) trackCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tracks)
}

func (r *recorder) texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.statuses))
	for i, s := range r.statuses {
		out[i] = s.text
	}
	return out
}

func (r *recorder) last() statusChange {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.statuses) == 0 {
		return statusChange{}
	}
	return r.statuses[len(r.statuses)-1]
}

type remoteTrackStub struct {
	id   string
	kind webrtc.RTPCodecType
}

func (r remoteTrackStub) ID() string                { return r.id }
func (r remoteTrackStub) StreamID() string          { return "remote-stream" }
func (r remoteTrackStub) Kind() webrtc.RTPCodecType { return r.kind }

type harness struct {
	net       *fakeNet
	media     *fakeMedia
	transport *fakeTransport
	observer  *recorder
	ctrl      *Controller
}

func newHarness(t *testing.T, base uint64) *harness {
	t.Helper()
	return newHarnessOn(t, newFakeNet(base))
}

// newHarnessOn runs a controller whose peers come from n. Controllers sharing
// n get distinct origin ids and can connect to each other.
func newHarnessOn(t *testing.T, n *fakeNet) *harness {
	t.Helper()
	h := &harness{
		net:       n,
		media:     &fakeMedia{},
		transport: &fakeTransport{},
		observer:  &recorder{},
	}
	h.ctrl = New(Config{
		Room:      "main",
		Transport: h.transport,
		Media:     h.media,
		NewPeer:   h.net.factory,
		Observer:  h.observer,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	ctx, cancel := context.WithCancel(context.Background())
	go h.ctrl.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-h.ctrl.Done()
	})
	return h
}

func (h *harness) snapshot(t *testing.T) Snapshot {
	t.Helper()
	snap, err := h.ctrl.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	return snap
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func remoteOffer(sid uint64) protocol.SignalMessage {
	return protocol.SignalMessage{
		Room:  "main",
		Type:  protocol.TypeOffer,
		Offer: &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fakeSDP(sid, 0)},
	}
}

func remoteAnswer(sid, answers uint64) protocol.SignalMessage {
	return protocol.SignalMessage{
		Room:   "main",
		Type:   protocol.TypeAnswer,
		Answer: &webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: fakeSDP(sid, answers)},
	}
}

func remoteCandidate(c string) protocol.SignalMessage {
	return protocol.SignalMessage{
		Room:      "main",
		Type:      protocol.TypeCandidate,
		Candidate: &webrtc.ICECandidateInit{Candidate: c},
	}
}
