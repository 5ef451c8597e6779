package memory

import (
	"context"
	"sync"

	"github.com/qrave1/RoomMesh/internal/application/metric"
	"github.com/qrave1/RoomMesh/internal/domain/models"
)

// JoinFunc и LeaveFunc вызываются под блокировкой репозитория. Рассылки,
// поставленные в очереди из них, не обгоняют рассылки следующего изменения.
// Внутри нельзя обращаться к RoomRepository
type (
	JoinFunc  func(others []models.Participant, replaced *models.Participant)
	LeaveFunc func(left models.Participant, remaining []models.Participant)
)

// RoomRepository - комнаты relay. Комната создается при первом входе и удаляется,
// когда из нее выходит последний участник
type RoomRepository interface {
	// Join добавляет участника и атомарно с этим возвращает остальных участников
	// и замененную запись с тем же ID, если она была
	Join(ctx context.Context, roomID string, p models.Participant, fn JoinFunc) (others []models.Participant, replaced *models.Participant)

	// Leave удаляет участника, если запись принадлежит connectionID.
	// Возвращает оставшихся участников
	Leave(ctx context.Context, roomID, participantID, connectionID string, fn LeaveFunc) (left models.Participant, remaining []models.Participant, ok bool)

	Get(ctx context.Context, roomID, participantID string) (models.Participant, bool)
	Members(ctx context.Context, roomID string) []models.Participant

	Count() int
	ParticipantCount() int
}

type roomRepository struct {
	rooms        map[string]*models.Room
	participants int
	mu           sync.RWMutex
}

func NewRoomRepository() RoomRepository {
	return &roomRepository{
		rooms: make(map[string]*models.Room),
	}
}

func (r *roomRepository) Join(ctx context.Context, roomID string, p models.Participant, fn JoinFunc) ([]models.Participant, *models.Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		room = models.NewRoom(roomID)
		r.rooms[roomID] = room
	}

	var replaced *models.Participant

	if prev, ok := room.Put(p); ok {
		replaced = &prev
	} else {
		r.participants++
	}

	r.updateStats()

	others := room.Others(p.ID)
	if fn != nil {
		fn(others, replaced)
	}

	return others, replaced
}

func (r *roomRepository) Leave(ctx context.Context, roomID, participantID, connectionID string, fn LeaveFunc) (models.Participant, []models.Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return models.Participant{}, nil, false
	}

	left, ok := room.Remove(participantID, connectionID)
	if !ok {
		return models.Participant{}, nil, false
	}

	r.participants--

	if room.Empty() {
		delete(r.rooms, roomID)
	}

	r.updateStats()

	remaining := room.Members()
	if fn != nil {
		fn(left, remaining)
	}

	return left, remaining, true
}

func (r *roomRepository) Get(ctx context.Context, roomID, participantID string) (models.Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return models.Participant{}, false
	}

	return room.Get(participantID)
}

func (r *roomRepository) Members(ctx context.Context, roomID string) []models.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return nil
	}

	return room.Members()
}

func (r *roomRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.rooms)
}

func (r *roomRepository) ParticipantCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.participants
}

// вызывается под r.mu
func (r *roomRepository) updateStats() {
	metric.SetRoomStats(len(r.rooms), r.participants)
}
