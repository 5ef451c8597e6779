package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/qrave1/RoomMesh/internal/domain/events"
	"github.com/qrave1/RoomMesh/internal/domain/peer"
)

const fakeSDP = "v=0\r\no=- 4215775240449105457 2 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n"

var errDial = errors.New("connection refused")

// fakeCerts нумерует сертификаты соединений во всех фабриках теста
var fakeCerts atomic.Int64

// sdpWithFingerprint - fakeSDP с DTLS отпечатком
func sdpWithFingerprint(fp string) string {
	return fakeSDP + "a=fingerprint:sha-256 " + fp + "\r\n"
}

// fakeFactory - соединения без сети: состояние connected наступает, как только
// обе стороны обменялись описаниями
type fakeFactory struct {
	mu  sync.Mutex
	pcs []*fakePC
}

func (f *fakeFactory) NewPeerConnection() (peer.PeerConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	pc := &fakePC{
		id:          len(f.pcs),
		fingerprint: fmt.Sprintf("FA:KE:%02X", fakeCerts.Add(1)),
		conn:        webrtc.PeerConnectionStateNew,
		signaling:   webrtc.SignalingStateStable,
	}
	f.pcs = append(f.pcs, pc)

	return pc, nil
}

func (f *fakeFactory) all() []*fakePC {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]*fakePC(nil), f.pcs...)
}

func (f *fakeFactory) open() int {
	n := 0
	for _, pc := range f.all() {
		if !pc.isClosed() {
			n++
		}
	}

	return n
}

func (f *fakeFactory) last() *fakePC {
	pcs := f.all()
	if len(pcs) == 0 {
		return nil
	}

	return pcs[len(pcs)-1]
}

type fakePC struct {
	id          int
	fingerprint string

	mu         sync.Mutex
	signaling  webrtc.SignalingState
	conn       webrtc.PeerConnectionState
	local      bool
	remote     bool
	closed     bool
	iceRestart int
	offers     int
	applied    []webrtc.ICECandidateInit
	rejected   int
	senders    map[webrtc.RTPCodecType]*fakeSender

	onCandidate func(webrtc.ICECandidateInit)
	onState     func(webrtc.PeerConnectionState)
}

func (p *fakePC) CreateOffer(iceRestart bool) (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return webrtc.SessionDescription{}, webrtc.ErrConnectionClosed
	}

	if iceRestart {
		p.iceRestart++
	}

	p.offers++

	p.signaling = webrtc.SignalingStateHaveLocalOffer
	p.local = true
	p.gather()

	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdpWithFingerprint(p.fingerprint)}, nil
}

func (p *fakePC) CreateAnswer() (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.signaling != webrtc.SignalingStateHaveRemoteOffer {
		return webrtc.SessionDescription{}, fmt.Errorf("create answer in %s", p.signaling)
	}

	p.signaling = webrtc.SignalingStateStable
	p.local = true
	p.gather()
	p.maybeConnect()

	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdpWithFingerprint(p.fingerprint)}, nil
}

func (p *fakePC) SetRemoteDescription(desc webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch desc.Type {
	case webrtc.SDPTypeOffer:
		if p.signaling != webrtc.SignalingStateStable {
			return fmt.Errorf("remote offer in %s", p.signaling)
		}
		p.signaling = webrtc.SignalingStateHaveRemoteOffer
	case webrtc.SDPTypeAnswer:
		if p.signaling != webrtc.SignalingStateHaveLocalOffer {
			return fmt.Errorf("remote answer in %s", p.signaling)
		}
		p.signaling = webrtc.SignalingStateStable
	}

	p.remote = true
	p.maybeConnect()

	return nil
}

func (p *fakePC) AddICECandidate(c webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.remote {
		p.rejected++
		return errors.New("remote description is not set")
	}

	p.applied = append(p.applied, c)

	return nil
}

func (p *fakePC) SignalingState() webrtc.SignalingState {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.signaling
}

func (p *fakePC) ConnectionState() webrtc.PeerConnectionState {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.conn
}

func (p *fakePC) HasRemoteDescription() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.remote
}

func (p *fakePC) AddSender(kind webrtc.RTPCodecType, track webrtc.TrackLocal) (peer.TrackSender, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.senders == nil {
		p.senders = make(map[webrtc.RTPCodecType]*fakeSender)
	}

	s := &fakeSender{track: track}
	p.senders[kind] = s

	return s, nil
}

func (p *fakePC) sender(kind webrtc.RTPCodecType) *fakeSender {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.senders[kind]
}

func (p *fakePC) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	p.mu.Lock()
	p.onCandidate = fn
	p.mu.Unlock()
}

func (p *fakePC) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	p.mu.Lock()
	p.onState = fn
	p.mu.Unlock()
}

func (p *fakePC) OnTrack(func(peer.RemoteTrack)) {}

func (p *fakePC) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	p.conn = webrtc.PeerConnectionStateClosed

	return nil
}

func (p *fakePC) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.closed
}

func (p *fakePC) appliedCandidates() ([]webrtc.ICECandidateInit, int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]webrtc.ICECandidateInit(nil), p.applied...), p.rejected
}

func (p *fakePC) offered() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.offers
}

func (p *fakePC) restarts() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.iceRestart
}

// fail переводит соединение в failed, как при потере ICE
func (p *fakePC) fail() {
	p.mu.Lock()
	p.conn = webrtc.PeerConnectionStateFailed
	fn := p.onState
	p.mu.Unlock()

	if fn != nil {
		go fn(webrtc.PeerConnectionStateFailed)
	}
}

// gather выдает один host кандидат, вызывается под mu
func (p *fakePC) gather() {
	if p.onCandidate == nil {
		return
	}

	mid := "0"
	idx := uint16(0)
	fn := p.onCandidate
	c := webrtc.ICECandidateInit{
		Candidate:     fmt.Sprintf("candidate:%d 1 udp 2130706431 127.0.0.1 5000 typ host", p.id),
		SDPMid:        &mid,
		SDPMLineIndex: &idx,
	}

	go fn(c)
}

// maybeConnect вызывается под mu
func (p *fakePC) maybeConnect() {
	if p.closed || !p.local || !p.remote || p.signaling != webrtc.SignalingStateStable {
		return
	}

	if p.conn == webrtc.PeerConnectionStateConnected {
		return
	}

	p.conn = webrtc.PeerConnectionStateConnected
	if fn := p.onState; fn != nil {
		go fn(webrtc.PeerConnectionStateConnected)
	}
}

type fakeSender struct {
	mu    sync.Mutex
	track webrtc.TrackLocal
}

func (s *fakeSender) ReplaceTrack(track webrtc.TrackLocal) error {
	s.mu.Lock()
	s.track = track
	s.mu.Unlock()

	return nil
}

func (s *fakeSender) current() webrtc.TrackLocal {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.track
}

// fakeTransport - relay, которым управляет тест
type fakeTransport struct {
	in chan events.Event

	mu     sync.Mutex
	sent   []events.Event
	closed bool
	once   sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{in: make(chan events.Event, 64)}
}

func (f *fakeTransport) Send(ev events.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return errors.New("transport closed")
	}

	f.sent = append(f.sent, ev)

	return nil
}

func (f *fakeTransport) Incoming() <-chan events.Event {
	return f.in
}

func (f *fakeTransport) Close() error {
	f.drop()
	return nil
}

// drop имитирует обрыв соединения relay
func (f *fakeTransport) drop() {
	f.once.Do(func() {
		f.mu.Lock()
		f.closed = true
		f.mu.Unlock()

		close(f.in)
	})
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.closed
}

func (f *fakeTransport) all() []events.Event {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]events.Event(nil), f.sent...)
}

func (f *fakeTransport) count(typ events.Type) int {
	n := 0
	for _, ev := range f.all() {
		if ev.Type() == typ {
			n++
		}
	}

	return n
}

// waitSent ждет n-е (с единицы) отправленное событие типа typ
func (f *fakeTransport) waitSent(t *testing.T, typ events.Type, n int) events.Event {
	t.Helper()

	var found events.Event

	eventually(t, fmt.Sprintf("%d %s sent", n, typ), func() bool {
		seen := 0
		for _, ev := range f.all() {
			if ev.Type() != typ {
				continue
			}

			if seen++; seen == n {
				found = ev
				return true
			}
		}

		return false
	})

	return found
}

type fakeDialer struct {
	mu         sync.Mutex
	transports []*fakeTransport
	calls      int
}

func (d *fakeDialer) dial(context.Context) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.calls++

	if len(d.transports) == 0 {
		return nil, errDial
	}

	t := d.transports[0]
	d.transports = d.transports[1:]

	return t, nil
}

func (d *fakeDialer) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.calls
}

// recorder собирает вызовы Handlers
type recorder struct {
	mu     sync.Mutex
	calls  []string
	states []State
	chat   []events.ChatMessage
	room   []RoomEvent
}

func (r *recorder) handlers() Handlers {
	return Handlers{
		OnStateChange: func(s State) {
			r.mu.Lock()
			r.states = append(r.states, s)
			r.mu.Unlock()
		},
		OnParticipantJoined: func(id, name string) { r.add("joined:" + id) },
		OnParticipantLeft:   func(id string) { r.add("left:" + id) },
		OnRemoteStreamAdded: func(id string, _ peer.RemoteTrack) {
			r.add("stream:" + id)
		},
		OnRemoteStreamRemoved: func(id string) { r.add("removed:" + id) },
		OnMessageReceived: func(m events.ChatMessage) {
			r.mu.Lock()
			r.chat = append(r.chat, m)
			r.mu.Unlock()
		},
		OnRoomEvent: func(e RoomEvent) {
			r.mu.Lock()
			r.room = append(r.room, e)
			r.mu.Unlock()
		},
	}
}

func (r *recorder) add(call string) {
	r.mu.Lock()
	r.calls = append(r.calls, call)
	r.mu.Unlock()
}

func (r *recorder) has(call string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range r.calls {
		if c == call {
			return true
		}
	}

	return false
}

func (r *recorder) stateHistory() []State {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]State(nil), r.states...)
}

func (r *recorder) messages() []events.ChatMessage {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]events.ChatMessage(nil), r.chat...)
}

func (r *recorder) roomEvents() []RoomEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]RoomEvent(nil), r.room...)
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

	t.Fatalf("timeout waiting for %s", what)
}
