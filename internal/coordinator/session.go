package coordinator

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/sethvargo/go-retry"

	"github.com/qrave1/RoomMesh/internal/application/constant"
	"github.com/qrave1/RoomMesh/internal/domain/events"
	"github.com/qrave1/RoomMesh/internal/domain/media"
	"github.com/qrave1/RoomMesh/internal/domain/peer"
)

// session - соединение с одним участником. Все действия над PeerConnection
// выполняются по очереди в горутине run, колбэки pion только ставят задачи
type session struct {
	c             *Coordinator
	participantID string
	// polite уступает при встречных offer
	polite bool
	log    *slog.Logger

	mu     sync.Mutex
	queue  []func()
	state  SessionState
	connID string

	wake      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	// поколение PeerConnection, колбэки старых соединений игнорируются
	gen       atomic.Uint64
	hasStream atomic.Bool

	// закрытие PeerConnection, читается после wg.Wait
	closeErr error

	// дальше только из горутины run
	pc           peer.PeerConnection
	senders      map[webrtc.RTPCodecType]peer.TrackSender
	pending      []webrtc.ICECandidateInit
	offerer      bool
	iceRestarted bool
	retries      retry.Backoff
	attempt      uint64
	connectTimer *time.Timer
	graceTimer   *time.Timer
	retryTimer   *time.Timer

	// отпечаток примененного remote description
	remoteFingerprint string
}

func newSession(c *Coordinator, p events.ParticipantInfo) *session {
	return &session{
		c:             c,
		participantID: p.UserID,
		polite:        c.cfg.UserID > p.UserID,
		log:           c.log.With(slog.String(constant.ParticipantID, p.UserID)),
		connID:        p.ConnectionID,
		wake:          make(chan struct{}, 1),
		done:          make(chan struct{}),
	}
}

func (s *session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

func (s *session) setState(st SessionState) {
	s.mu.Lock()
	changed := s.state != st
	s.state = st
	s.mu.Unlock()

	if changed {
		s.log.Debug("session state", slog.String(constant.State, st.String()))
	}
}

// connection - id соединения участника с relay, по нему адресуются сигналы
func (s *session) connection() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.connID
}

func (s *session) setConnection(id string) {
	s.mu.Lock()
	s.connID = id
	s.mu.Unlock()
}

func (s *session) enqueue(task func()) {
	s.mu.Lock()
	s.queue = append(s.queue, task)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *session) take() []func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks := s.queue
	s.queue = nil

	return tasks
}

func (s *session) close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *session) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *session) run() {
	defer s.c.wg.Done()
	defer s.teardown()

	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}

		for _, task := range s.take() {
			if s.closed() {
				return
			}

			task()
		}
	}
}

func (s *session) teardown() {
	s.stopTimers()
	s.hasStream.Store(false)
	s.closeErr = s.closePeerConnection()
	s.setState(SessionClosed)
}

func (s *session) start(initiator bool) {
	if err := s.newPeerConnection(); err != nil {
		s.fail(err)
		return
	}

	if initiator {
		s.offer(false)
	}
}

// newPeerConnection заменяет текущее соединение новым. Очередь ранних
// кандидатов сохраняется
func (s *session) newPeerConnection() error {
	if err := s.closePeerConnection(); err != nil {
		s.log.Warn("close replaced peer connection", slog.Any(constant.Error, err))
	}

	pc, err := s.c.factory.NewPeerConnection()
	if err != nil {
		return fmt.Errorf("new peer connection: %w", err)
	}

	senders := make(map[webrtc.RTPCodecType]peer.TrackSender, len(media.Kinds))
	for _, kind := range media.Kinds {
		sender, err := pc.AddSender(kind, s.c.outgoingTrack(kind))
		if err != nil {
			pc.Close()
			return fmt.Errorf("add %s sender: %w", kind, err)
		}

		senders[kind] = sender
	}

	gen := s.gen.Add(1)

	pc.OnICECandidate(func(candidate webrtc.ICECandidateInit) {
		s.enqueue(func() {
			if s.gen.Load() == gen {
				s.sendCandidate(candidate)
			}
		})
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		s.enqueue(func() {
			if s.gen.Load() == gen {
				s.onConnectionState(state)
			}
		})
	})

	pc.OnTrack(func(track peer.RemoteTrack) {
		if s.gen.Load() != gen || s.closed() {
			return
		}

		s.log.Info("remote track", slog.String(constant.Kind, track.Kind().String()))
		s.hasStream.Store(true)
		s.c.handlers.remoteStreamAdded(s.participantID, track)
	})

	s.pc = pc
	s.senders = senders
	s.remoteFingerprint = ""
	s.offerer = false
	s.iceRestarted = false
	s.armConnectTimer(gen)

	return nil
}

func (s *session) closePeerConnection() error {
	if s.pc == nil {
		return nil
	}

	s.gen.Add(1)

	pc := s.pc
	s.pc = nil
	s.senders = nil
	s.remoteFingerprint = ""

	if s.hasStream.Swap(false) {
		s.c.handlers.remoteStreamRemoved(s.participantID)
	}

	if err := pc.Close(); err != nil {
		return fmt.Errorf("close peer connection with %s: %w", s.participantID, err)
	}

	return nil
}

func (s *session) offer(iceRestart bool) {
	desc, err := s.pc.CreateOffer(iceRestart)
	if err != nil {
		s.fail(fmt.Errorf("create offer: %w", err))
		return
	}

	s.offerer = true
	s.setState(SessionNegotiating)

	s.sendSignal(events.Offer{
		To:                 s.connection(),
		From:               s.c.cfg.UserID,
		SessionDescription: events.SessionDescription{Type: desc.Type.String(), SDP: desc.SDP},
	})
}

func (s *session) handleOffer(d events.Description) {
	sameConnection := d.FromConnectionID == "" || d.FromConnectionID == s.connection()
	if d.FromConnectionID != "" {
		s.setConnection(d.FromConnectionID)
	}

	desc := webrtc.SessionDescription{
		Type: webrtc.NewSDPType(d.SessionDescription.Type),
		SDP:  d.SessionDescription.SDP,
	}

	if err := peer.ValidateDescription(desc); err != nil {
		s.fail(fmt.Errorf("apply offer: %w", err))
		return
	}

	if desc.Type != webrtc.SDPTypeOffer {
		s.fail(fmt.Errorf("apply offer: %w: got %s", peer.ErrMalformedDescription, desc.Type))
		return
	}

	var inPlace bool

	switch {
	case s.pc == nil:
		// ждали повторной попытки, участник успел первым
		stopTimer(&s.retryTimer)
		if err := s.newPeerConnection(); err != nil {
			s.fail(err)
			return
		}

	case s.pc.SignalingState() == webrtc.SignalingStateHaveLocalOffer:
		if !s.polite {
			s.log.Debug("ignore colliding offer")
			return
		}

		s.log.Debug("colliding offer, yielding")
		if err := s.newPeerConnection(); err != nil {
			s.fail(err)
			return
		}

	case s.pc.SignalingState() == webrtc.SignalingStateStable && !s.pc.HasRemoteDescription():

	case s.pc.SignalingState() == webrtc.SignalingStateStable &&
		sameConnection && peer.Fingerprint(desc) == s.remoteFingerprint:
		// ICE restart или повторное согласование того же удаленного соединения
		inPlace = true

	default:
		s.log.Debug("renegotiation from scratch", slog.String(constant.State, s.pc.SignalingState().String()))
		if err := s.newPeerConnection(); err != nil {
			s.fail(err)
			return
		}
	}

	err := s.pc.SetRemoteDescription(desc)
	if err != nil && inPlace {
		s.log.Warn("apply offer to current connection, replacing", slog.Any(constant.Error, err))

		if err = s.newPeerConnection(); err == nil {
			err = s.pc.SetRemoteDescription(desc)
		}
	}

	if err != nil {
		s.fail(fmt.Errorf("apply offer: %w", err))
		return
	}

	s.remoteFingerprint = peer.Fingerprint(desc)
	s.flushCandidates()

	answer, err := s.pc.CreateAnswer()
	if err != nil {
		s.fail(fmt.Errorf("create answer: %w", err))
		return
	}

	s.offerer = false
	if s.pc.ConnectionState() != webrtc.PeerConnectionStateConnected {
		s.setState(SessionNegotiating)
	}

	s.sendSignal(events.Answer{
		To:                 s.connection(),
		From:               s.c.cfg.UserID,
		SessionDescription: events.SessionDescription{Type: answer.Type.String(), SDP: answer.SDP},
	})
}

func (s *session) handleAnswer(d events.Description) {
	if s.pc == nil || s.pc.SignalingState() != webrtc.SignalingStateHaveLocalOffer {
		s.log.Debug("unexpected answer")
		return
	}

	if d.FromConnectionID != "" {
		s.setConnection(d.FromConnectionID)
	}

	desc := webrtc.SessionDescription{
		Type: webrtc.NewSDPType(d.SessionDescription.Type),
		SDP:  d.SessionDescription.SDP,
	}

	if err := peer.ValidateDescription(desc); err != nil {
		s.fail(fmt.Errorf("apply answer: %w", err))
		return
	}

	if err := s.pc.SetRemoteDescription(desc); err != nil {
		s.fail(fmt.Errorf("apply answer: %w", err))
		return
	}

	s.remoteFingerprint = peer.Fingerprint(desc)
	s.flushCandidates()
}

// handleCandidate применяет кандидата или откладывает его до remote description
func (s *session) handleCandidate(e events.Candidate) {
	candidate := webrtc.ICECandidateInit{
		Candidate:        e.Candidate.Candidate,
		SDPMid:           e.Candidate.SDPMid,
		SDPMLineIndex:    e.Candidate.SDPMLineIndex,
		UsernameFragment: e.Candidate.UsernameFragment,
	}

	if s.pc == nil || !s.pc.HasRemoteDescription() {
		s.pending = append(s.pending, candidate)
		return
	}

	if err := s.pc.AddICECandidate(candidate); err != nil {
		s.log.Warn("add ice candidate", slog.Any(constant.Error, err))
	}
}

func (s *session) flushCandidates() {
	pending := s.pending
	s.pending = nil

	for _, candidate := range pending {
		if err := s.pc.AddICECandidate(candidate); err != nil {
			s.log.Warn("add queued ice candidate", slog.Any(constant.Error, err))
		}
	}
}

func (s *session) sendCandidate(c webrtc.ICECandidateInit) {
	s.sendSignal(events.Candidate{
		To:   s.connection(),
		From: s.c.cfg.UserID,
		Candidate: events.ICECandidate{
			Candidate:        c.Candidate,
			SDPMid:           c.SDPMid,
			SDPMLineIndex:    c.SDPMLineIndex,
			UsernameFragment: c.UsernameFragment,
		},
	})
}

func (s *session) sendSignal(ev events.Event) {
	if err := s.c.send(ev); err != nil {
		s.log.Warn("send signal", slog.String(constant.MessageType, string(ev.Type())), slog.Any(constant.Error, err))
	}
}

func (s *session) onConnectionState(state webrtc.PeerConnectionState) {
	s.log.Debug("peer connection state", slog.String(constant.State, state.String()))

	switch state {
	case webrtc.PeerConnectionStateConnected:
		stopTimer(&s.connectTimer)
		stopTimer(&s.graceTimer)
		s.iceRestarted = false
		s.retries = nil
		s.attempt = 0
		s.setState(SessionConnected)

	case webrtc.PeerConnectionStateFailed:
		s.setState(SessionFailed)

		if s.graceTimer != nil {
			return
		}

		if !s.iceRestarted {
			s.iceRestarted = true

			if s.offerer {
				s.log.Info("ice restart")
				s.offer(true)
			}
		}

		s.armGraceTimer()
	}
}

func (s *session) armConnectTimer(gen uint64) {
	stopTimer(&s.connectTimer)

	if s.c.cfg.PeerConnectTimeout <= 0 {
		return
	}

	s.connectTimer = time.AfterFunc(s.c.cfg.PeerConnectTimeout, func() {
		s.enqueue(func() {
			if s.gen.Load() != gen || s.pc == nil {
				return
			}

			switch s.pc.ConnectionState() {
			case webrtc.PeerConnectionStateNew, webrtc.PeerConnectionStateConnecting:
				s.log.Warn("peer connection timeout", slog.Duration("timeout", s.c.cfg.PeerConnectTimeout))
				s.c.dropSession(s)
			}
		})
	})
}

func (s *session) armGraceTimer() {
	gen := s.gen.Load()

	s.graceTimer = time.AfterFunc(s.c.cfg.FailureGrace, func() {
		s.enqueue(func() {
			s.graceTimer = nil

			if s.gen.Load() != gen || s.pc == nil {
				return
			}

			if s.pc.ConnectionState() != webrtc.PeerConnectionStateConnected {
				s.recreate()
			}
		})
	})
}

// recreate закрывает соединение и после паузы начинает согласование заново
// как инициатор. Число попыток ограничено MaxSessionRetries
func (s *session) recreate() {
	if s.retries == nil {
		s.retries = retry.WithMaxRetries(
			s.c.cfg.MaxSessionRetries,
			retry.NewExponential(max(s.c.cfg.SessionRetryDelay, time.Millisecond)),
		)
	}

	delay, stop := s.retries.Next()
	if stop {
		s.log.Error("peer session retries exhausted", slog.Uint64(constant.Attempt, s.attempt))
		s.c.dropSession(s)

		return
	}

	s.attempt++
	s.log.Warn(
		"recreate peer connection",
		slog.Uint64(constant.Attempt, s.attempt),
		slog.Duration("delay", delay),
	)

	s.stopTimers()
	if err := s.closePeerConnection(); err != nil {
		s.log.Warn("close failed peer connection", slog.Any(constant.Error, err))
	}

	s.pending = nil
	s.setState(SessionNew)

	s.retryTimer = time.AfterFunc(delay, func() {
		s.enqueue(func() {
			s.retryTimer = nil

			if s.pc != nil {
				return
			}

			s.start(true)
		})
	})
}

func (s *session) fail(err error) {
	s.log.Error("peer negotiation", slog.Any(constant.Error, err))
	s.setState(SessionFailed)
	s.recreate()
}

func (s *session) syncTracks() {
	for kind, sender := range s.senders {
		if err := sender.ReplaceTrack(s.c.outgoingTrack(kind)); err != nil {
			s.log.Warn("replace track", slog.String(constant.Kind, kind.String()), slog.Any(constant.Error, err))
		}
	}
}

func (s *session) stopTimers() {
	stopTimer(&s.connectTimer)
	stopTimer(&s.graceTimer)
	stopTimer(&s.retryTimer)
}

func stopTimer(t **time.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}
