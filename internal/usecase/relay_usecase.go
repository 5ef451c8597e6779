package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/qrave1/RoomMesh/internal/application/constant"
	"github.com/qrave1/RoomMesh/internal/application/metric"
	"github.com/qrave1/RoomMesh/internal/domain/events"
	"github.com/qrave1/RoomMesh/internal/domain/models"
	"github.com/qrave1/RoomMesh/internal/infra/adapters/memory"
)

var (
	ErrInvalidJoin = errors.New("roomId and userId are required")
	ErrNotJoined   = errors.New("connection has not joined a room")
)

// RelayUsecase - rendezvous relay: членство в комнатах и пересылка сигнальных сообщений.
// Сообщения одного соединения обрабатываются последовательно
type RelayUsecase interface {
	Connect(ctx context.Context, connectionID string, s memory.Sender)
	Disconnect(ctx context.Context, connectionID string)

	HandleJoin(ctx context.Context, connectionID string, join events.JoinRoom) error
	HandleLeave(ctx context.Context, connectionID string)

	// HandleSignal пересылает offer, answer и ice-candidate адресату
	HandleSignal(ctx context.Context, connectionID string, ev events.Event) error
	HandleBroadcast(ctx context.Context, connectionID string, ev events.RoomBroadcast) error
	HandlePing(ctx context.Context, connectionID string)

	RoomCount() int
}

type relayUsecase struct {
	roomRepo       memory.RoomRepository
	membershipRepo memory.MembershipRepository
	wsRepo         memory.WebsocketConnectionRepository
}

func NewRelayUsecase(
	roomRepo memory.RoomRepository,
	membershipRepo memory.MembershipRepository,
	wsRepo memory.WebsocketConnectionRepository,
) RelayUsecase {
	return &relayUsecase{
		roomRepo:       roomRepo,
		membershipRepo: membershipRepo,
		wsRepo:         wsRepo,
	}
}

func (r *relayUsecase) Connect(ctx context.Context, connectionID string, s memory.Sender) {
	r.wsRepo.Add(connectionID, s)
}

// Disconnect - обрыв или закрытие соединения равносильно leave-room
func (r *relayUsecase) Disconnect(ctx context.Context, connectionID string) {
	r.HandleLeave(ctx, connectionID)

	r.wsRepo.Remove(connectionID)
}

func (r *relayUsecase) HandleJoin(ctx context.Context, connectionID string, join events.JoinRoom) error {
	if join.RoomID == "" || join.UserID == "" {
		return ErrInvalidJoin
	}

	if current, ok := r.membershipRepo.Get(ctx, connectionID); ok {
		if current.RoomID != join.RoomID || current.ParticipantID != join.UserID {
			r.HandleLeave(ctx, connectionID)
		}
	}

	participant := models.NewParticipant(join.UserID, join.UserName, connectionID)

	// снимок и user-joined ставятся в очереди вместе с изменением комнаты
	others, _ := r.roomRepo.Join(ctx, join.RoomID, participant, func(others []models.Participant, replaced *models.Participant) {
		snapshot := make(events.ExistingParticipants, 0, len(others))
		for _, other := range others {
			snapshot = append(snapshot, other.Info())
		}

		r.write(connectionID, snapshot)

		// повторный join того же соединения не анонсируется
		if replaced != nil && replaced.ConnectionID == connectionID {
			return
		}

		joined := events.UserJoined(participant.Info())
		for _, other := range others {
			r.write(other.ConnectionID, joined)
		}
	})

	r.membershipRepo.Set(ctx, connectionID, memory.Membership{
		RoomID:        join.RoomID,
		ParticipantID: join.UserID,
		Name:          join.UserName,
	})

	slog.Info(
		"Participant joined room",
		slog.String(constant.RoomID, join.RoomID),
		slog.String(constant.UserID, join.UserID),
		slog.String(constant.UserName, join.UserName),
		slog.String(constant.ConnectionID, connectionID),
		slog.Int("others", len(others)),
	)

	return nil
}

func (r *relayUsecase) HandleLeave(ctx context.Context, connectionID string) {
	membership, ok := r.membershipRepo.Remove(ctx, connectionID)
	if !ok {
		return
	}

	left, _, ok := r.roomRepo.Leave(ctx, membership.RoomID, membership.ParticipantID, connectionID, func(left models.Participant, remaining []models.Participant) {
		userLeft := events.UserLeft{UserID: left.ID, UserName: left.Name}

		for _, member := range remaining {
			r.write(member.ConnectionID, userLeft)
		}
	})
	if !ok {
		// запись уже принадлежит более новому соединению этого участника
		return
	}

	slog.Info(
		"Participant left room",
		slog.String(constant.RoomID, membership.RoomID),
		slog.String(constant.UserID, left.ID),
		slog.String(constant.ConnectionID, connectionID),
	)
}

func (r *relayUsecase) HandleSignal(ctx context.Context, connectionID string, ev events.Event) error {
	var (
		to      string
		stamped events.Event
	)

	switch e := ev.(type) {
	case events.Offer:
		e.FromConnectionID = connectionID
		to, stamped = e.To, e
	case events.Answer:
		e.FromConnectionID = connectionID
		to, stamped = e.To, e
	case events.Candidate:
		e.FromConnectionID = connectionID
		to, stamped = e.To, e
	default:
		return fmt.Errorf("relay %s: not a signal", ev.Type())
	}

	target, ok := r.resolve(ctx, connectionID, to)
	if !ok {
		metric.IncrementDropped(string(ev.Type()), metric.DropNoRecipient)

		slog.Debug(
			"Drop undeliverable signal",
			slog.String(constant.MessageType, string(ev.Type())),
			slog.String(constant.ConnectionID, connectionID),
			slog.String(constant.To, to),
		)

		return nil
	}

	r.write(target, stamped)

	return nil
}

// resolve ищет адресата сначала среди соединений, затем среди участников комнаты отправителя
func (r *relayUsecase) resolve(ctx context.Context, connectionID, to string) (string, bool) {
	if to == "" {
		return "", false
	}

	if r.wsRepo.Exists(to) {
		return to, true
	}

	membership, ok := r.membershipRepo.Get(ctx, connectionID)
	if !ok {
		return "", false
	}

	participant, ok := r.roomRepo.Get(ctx, membership.RoomID, to)
	if !ok {
		return "", false
	}

	return participant.ConnectionID, true
}

func (r *relayUsecase) HandleBroadcast(ctx context.Context, connectionID string, ev events.RoomBroadcast) error {
	roomID := ev.Room()

	if roomID == "" {
		membership, ok := r.membershipRepo.Get(ctx, connectionID)
		if !ok {
			metric.IncrementDropped(string(ev.Type()), metric.DropNotJoined)

			return ErrNotJoined
		}

		roomID = membership.RoomID
		ev = ev.InRoom(roomID)
	}

	members := r.roomRepo.Members(ctx, roomID)
	if len(members) == 0 {
		metric.IncrementDropped(string(ev.Type()), metric.DropNoRecipient)

		return nil
	}

	for _, member := range members {
		r.write(member.ConnectionID, ev)
	}

	return nil
}

func (r *relayUsecase) HandlePing(ctx context.Context, connectionID string) {
	r.write(connectionID, events.Pong{})
}

func (r *relayUsecase) RoomCount() int {
	return r.roomRepo.Count()
}

func (r *relayUsecase) write(connectionID string, ev events.Event) {
	if !r.wsRepo.Write(connectionID, ev) {
		metric.IncrementDropped(string(ev.Type()), metric.DropQueueFull)

		slog.Warn(
			"Drop message for slow or closed connection",
			slog.String(constant.MessageType, string(ev.Type())),
			slog.String(constant.ConnectionID, connectionID),
		)

		return
	}

	metric.IncrementRelayed(string(ev.Type()))
}
