package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/sethvargo/go-retry"
	"go.uber.org/multierr"

	"github.com/qrave1/RoomMesh/internal/application/config"
	"github.com/qrave1/RoomMesh/internal/application/constant"
	"github.com/qrave1/RoomMesh/internal/domain/events"
	"github.com/qrave1/RoomMesh/internal/domain/media"
	"github.com/qrave1/RoomMesh/internal/domain/peer"
)

var (
	ErrClosed           = errors.New("coordinator closed")
	ErrAlreadyConnected = errors.New("already connected")
	ErrNotConnected     = errors.New("not connected to relay")
	ErrConnectTimeout   = errors.New("relay connect timeout")
	ErrInvalidIdentity  = errors.New("room id, user id and user name are required")
)

// Coordinator - клиентская сторона комнаты: держит соединение с relay и по
// одному PeerConnection на каждого участника
type Coordinator struct {
	cfg      *config.ClientConfig
	dial     DialFunc
	factory  peer.Factory
	policy   *media.Policy
	handlers Handlers
	log      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	state       State
	closed      bool
	transport   Transport
	sessions    map[string]*session
	localStream *media.Stream

	// участники, о которых сообщил OnParticipantJoined
	members map[string]struct{}
}

func New(
	cfg *config.ClientConfig,
	dial DialFunc,
	factory peer.Factory,
	policy *media.Policy,
	handlers Handlers,
) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())

	return &Coordinator{
		cfg:      cfg,
		dial:     dial,
		factory:  factory,
		policy:   policy,
		handlers: handlers,
		log: slog.With(
			slog.String(constant.RoomID, cfg.RoomID),
			slog.String(constant.UserID, cfg.UserID),
		),
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*session),
		members:  make(map[string]struct{}),
	}
}

// Connect подключается к relay и входит в комнату. Ограничен ConnectTimeout,
// неудачные попытки повторяются DialRetries раз
func (c *Coordinator) Connect(ctx context.Context) error {
	if c.cfg.RoomID == "" || c.cfg.UserID == "" || c.cfg.UserName == "" {
		return ErrInvalidIdentity
	}

	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return ErrClosed
	case c.state == StateConnecting || c.state == StateConnected:
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.state = StateConnecting
	c.mu.Unlock()

	c.handlers.stateChange(StateConnecting)

	ctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	stop := context.AfterFunc(c.ctx, cancel)
	defer stop()

	t, err := c.dialRelay(ctx)
	if err == nil {
		if err = t.Send(c.join()); err != nil {
			t.Close()
			err = fmt.Errorf("send join: %w", err)
		}
	}

	if err != nil {
		if c.ctx.Err() != nil {
			return ErrClosed
		}

		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %w", ErrConnectTimeout, err)
		}

		c.log.Error("connect relay", slog.Any(constant.Error, err))
		c.transition(StateError)

		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		t.Close()

		return ErrClosed
	}
	c.transport = t
	c.state = StateConnected
	c.wg.Add(1)
	c.mu.Unlock()

	c.log.Info("joined room")
	c.handlers.stateChange(StateConnected)

	go c.run(t)

	return nil
}

// Disconnect закрывает все соединения с участниками, выходит из комнаты и
// ждет завершения фоновых горутин. После него Connect возвращает ErrClosed
func (c *Coordinator) Disconnect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	t := c.transport
	c.transport = nil
	c.localStream = nil
	c.mu.Unlock()

	c.cancel()

	sessions := c.closeSessions()

	var err error

	if t != nil {
		if sendErr := t.Send(events.LeaveRoom{}); sendErr != nil {
			c.log.Debug("send leave", slog.Any(constant.Error, sendErr))
		}

		err = multierr.Append(err, t.Close())
	}

	c.wg.Wait()

	for _, s := range sessions {
		err = multierr.Append(err, s.closeErr)
	}

	c.transition(StateDisconnected)
	c.log.Info("left room")

	return err
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// Sessions - снимок состояний соединений по id участника
func (c *Coordinator) Sessions() map[string]SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]SessionState, len(c.sessions))
	for id, s := range c.sessions {
		out[id] = s.State()
	}

	return out
}

func (c *Coordinator) LocalStream() *media.Stream {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.localStream
}

// SetLocalStream подменяет исходящие дорожки во всех соединениях без
// повторного согласования. nil выключает отправку
func (c *Coordinator) SetLocalStream(stream *media.Stream) {
	c.mu.Lock()
	c.localStream = stream
	c.mu.Unlock()

	c.syncTracks()
}

// GrantMedia разрешает отправку дорожки вида kind
func (c *Coordinator) GrantMedia(kind webrtc.RTPCodecType) {
	if c.policy == nil || !c.policy.Grant(kind) {
		return
	}

	c.log.Info("media granted", slog.String(constant.Kind, kind.String()))
	c.syncTracks()
}

// RevokeMedia запрещает отправку дорожки вида kind
func (c *Coordinator) RevokeMedia(kind webrtc.RTPCodecType) {
	if c.policy == nil || !c.policy.Revoke(kind) {
		return
	}

	c.log.Info("media revoked", slog.String(constant.Kind, kind.String()))
	c.syncTracks()
}

// SendChat отправляет сообщение всей комнате. Отправитель тоже его получит
func (c *Coordinator) SendChat(content string, kind events.ChatKind) (events.ChatMessage, error) {
	if kind == "" {
		kind = events.ChatKindUser
	}

	msg := events.ChatMessage{
		ID:         uuid.NewString(),
		SenderID:   c.cfg.UserID,
		SenderName: c.cfg.UserName,
		Content:    content,
		Timestamp:  time.Now().UTC(),
		Kind:       kind,
	}

	if err := c.send(events.Chat{RoomID: c.cfg.RoomID, Message: msg}); err != nil {
		return events.ChatMessage{}, fmt.Errorf("send chat: %w", err)
	}

	return msg, nil
}

func (c *Coordinator) SendDiceRoll(payload json.RawMessage) error {
	return c.broadcast(events.DiceRoll(c.roomAction(payload)))
}

func (c *Coordinator) SendDiceConfig(payload json.RawMessage) error {
	return c.broadcast(events.DiceConfig(c.roomAction(payload)))
}

func (c *Coordinator) SendGameAction(payload json.RawMessage) error {
	return c.broadcast(events.GameAction(c.roomAction(payload)))
}

func (c *Coordinator) roomAction(payload json.RawMessage) events.RoomAction {
	return events.RoomAction{RoomID: c.cfg.RoomID, Payload: payload, UserID: c.cfg.UserID}
}

func (c *Coordinator) broadcast(ev events.RoomBroadcast) error {
	if err := c.send(ev); err != nil {
		return fmt.Errorf("send %s: %w", ev.Type(), err)
	}

	return nil
}

func (c *Coordinator) send(ev events.Event) error {
	c.mu.Lock()
	t := c.transport
	c.mu.Unlock()

	if t == nil {
		return ErrNotConnected
	}

	return t.Send(ev)
}

func (c *Coordinator) join() events.JoinRoom {
	return events.JoinRoom{RoomID: c.cfg.RoomID, UserID: c.cfg.UserID, UserName: c.cfg.UserName}
}

func (c *Coordinator) transition(s State) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.mu.Unlock()

	c.log.Debug("relay state", slog.String(constant.State, s.String()))
	c.handlers.stateChange(s)
}

func (c *Coordinator) dialRelay(ctx context.Context) (Transport, error) {
	var attempt int

	b := retry.WithMaxRetries(c.cfg.DialRetries, retry.NewConstant(max(c.cfg.RetryDelay, time.Millisecond)))

	return retry.DoValue(ctx, b, func(ctx context.Context) (Transport, error) {
		attempt++

		t, err := c.dial(ctx)
		if err != nil {
			c.log.Warn("dial relay", slog.Int(constant.Attempt, attempt), slog.Any(constant.Error, err))
			return nil, retry.RetryableError(err)
		}

		return t, nil
	})
}

// run читает relay до Disconnect. При обрыве переподключается и заново входит
// в комнату, исчерпав попытки переходит в Disconnected
func (c *Coordinator) run(t Transport) {
	defer c.wg.Done()

	for {
		if !c.consume(t) {
			return
		}

		if t = c.reconnect(); t == nil {
			return
		}
	}
}

// consume возвращает true, если relay оборвал соединение
func (c *Coordinator) consume(t Transport) bool {
	for {
		select {
		case <-c.ctx.Done():
			return false
		case ev, ok := <-t.Incoming():
			if !ok {
				return c.ctx.Err() == nil
			}

			c.dispatch(ev)
		}
	}
}

func (c *Coordinator) reconnect() Transport {
	c.log.Warn("relay connection lost")

	c.mu.Lock()
	old := c.transport
	c.transport = nil
	c.mu.Unlock()

	if old != nil {
		old.Close()
	}

	// relay уже разослал user-left, участники переподключатся к нам заново
	c.closeSessions()
	c.transition(StateConnecting)

	t, err := c.dialRelay(c.ctx)
	if err == nil {
		if err = t.Send(c.join()); err != nil {
			t.Close()
		}
	}

	if err != nil {
		if c.ctx.Err() != nil {
			return nil
		}

		c.log.Error("reconnect relay", slog.Any(constant.Error, err))
		c.transition(StateDisconnected)

		return nil
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		t.Close()

		return nil
	}
	c.transport = t
	c.mu.Unlock()

	c.log.Info("rejoined room")
	c.transition(StateConnected)

	return t
}

func (c *Coordinator) dispatch(ev events.Event) {
	switch e := ev.(type) {
	case events.ExistingParticipants:
		for _, p := range e {
			c.participantJoined(p)
		}

	case events.UserJoined:
		c.participantJoined(events.ParticipantInfo(e))

	case events.UserLeft:
		c.participantLeft(e.UserID)

	case events.Offer:
		c.handleOffer(events.Description(e))

	case events.Answer:
		d := events.Description(e)
		if s := c.session(d.From); s != nil {
			s.enqueue(func() { s.handleAnswer(d) })
		} else {
			c.log.Debug("answer from unknown participant", slog.String(constant.ParticipantID, d.From))
		}

	case events.Candidate:
		if s := c.session(e.From); s != nil {
			s.enqueue(func() { s.handleCandidate(e) })
		} else {
			c.log.Debug("candidate from unknown participant", slog.String(constant.ParticipantID, e.From))
		}

	case events.Chat:
		c.handlers.messageReceived(e.Message)

	case events.DiceRoll:
		c.handlers.roomEvent(RoomEvent{Type: e.Type(), RoomID: e.RoomID, UserID: e.UserID, Payload: e.Payload})

	case events.DiceConfig:
		c.handlers.roomEvent(RoomEvent{Type: e.Type(), RoomID: e.RoomID, UserID: e.UserID, Payload: e.Payload})

	case events.GameAction:
		c.handlers.roomEvent(RoomEvent{Type: e.Type(), RoomID: e.RoomID, UserID: e.UserID, Payload: e.Payload})

	case events.Ping:
		if err := c.send(events.Pong{}); err != nil {
			c.log.Debug("send pong", slog.Any(constant.Error, err))
		}

	case events.Pong:

	default:
		c.log.Debug("unexpected relay message", slog.String(constant.MessageType, string(ev.Type())))
	}
}

func (c *Coordinator) participantJoined(p events.ParticipantInfo) {
	if p.UserID == c.cfg.UserID {
		return
	}

	if _, created := c.openSession(p, true); created {
		c.mu.Lock()
		c.members[p.UserID] = struct{}{}
		c.mu.Unlock()

		c.log.Info(
			"participant joined",
			slog.String(constant.ParticipantID, p.UserID),
			slog.String(constant.UserName, p.UserName),
		)
		c.handlers.participantJoined(p.UserID, p.UserName)
	}
}

func (c *Coordinator) participantLeft(id string) {
	c.mu.Lock()
	s, ok := c.sessions[id]
	delete(c.sessions, id)
	_, announced := c.members[id]
	delete(c.members, id)
	c.mu.Unlock()

	if ok {
		s.close()
		c.handlers.remoteStreamRemoved(id)
	}

	if !ok && !announced {
		c.log.Debug("unknown participant left", slog.String(constant.ParticipantID, id))
		return
	}

	c.log.Info("participant left", slog.String(constant.ParticipantID, id))
	c.handlers.participantLeft(id)
}

func (c *Coordinator) handleOffer(d events.Description) {
	if d.From == "" || d.From == c.cfg.UserID {
		return
	}

	s, _ := c.openSession(events.ParticipantInfo{UserID: d.From, ConnectionID: d.FromConnectionID}, false)
	if s == nil {
		return
	}

	s.enqueue(func() { s.handleOffer(d) })
}

// openSession создает сессию или возвращает существующую. Сессия с другим id
// соединения заменяется: участник переподключился к relay
func (c *Coordinator) openSession(p events.ParticipantInfo, initiator bool) (*session, bool) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, false
	}

	old, exists := c.sessions[p.UserID]
	if exists && (p.ConnectionID == "" || old.connection() == p.ConnectionID) {
		c.mu.Unlock()
		return old, false
	}

	s := newSession(c, p)
	c.sessions[p.UserID] = s
	c.wg.Add(1)
	c.mu.Unlock()

	if exists {
		c.log.Info(
			"participant reconnected",
			slog.String(constant.ParticipantID, p.UserID),
			slog.String(constant.ConnectionID, p.ConnectionID),
		)
		old.close()
		c.handlers.remoteStreamRemoved(p.UserID)
	}

	go s.run()
	s.enqueue(func() { s.start(initiator) })

	return s, !exists
}

func (c *Coordinator) session(id string) *session {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.sessions[id]
}

// dropSession убирает сессию, если она еще текущая для участника
func (c *Coordinator) dropSession(s *session) {
	c.mu.Lock()
	if c.sessions[s.participantID] != s {
		c.mu.Unlock()
		return
	}
	delete(c.sessions, s.participantID)
	c.mu.Unlock()

	s.close()
	c.handlers.remoteStreamRemoved(s.participantID)
}

// closeSessions закрывает все сессии и сообщает об уходе всех известных
// участников. Возвращает закрытые сессии
func (c *Coordinator) closeSessions() map[string]*session {
	c.mu.Lock()
	sessions := c.sessions
	members := c.members
	c.sessions = make(map[string]*session)
	c.members = make(map[string]struct{})
	c.mu.Unlock()

	for id, s := range sessions {
		s.close()
		c.handlers.remoteStreamRemoved(id)
		c.handlers.participantLeft(id)

		delete(members, id)
	}

	for id := range members {
		c.handlers.participantLeft(id)
	}

	return sessions
}

func (c *Coordinator) syncTracks() {
	c.mu.Lock()
	sessions := make([]*session, 0, len(c.sessions))
	for _, s := range c.sessions {
		sessions = append(sessions, s)
	}
	c.mu.Unlock()

	for _, s := range sessions {
		s.enqueue(s.syncTracks)
	}
}

// outgoingTrack - что отправлять в дорожке вида kind с учетом политики
func (c *Coordinator) outgoingTrack(kind webrtc.RTPCodecType) webrtc.TrackLocal {
	if !c.policy.Allowed(kind) {
		return nil
	}

	c.mu.Lock()
	stream := c.localStream
	c.mu.Unlock()

	return stream.Track(kind)
}
