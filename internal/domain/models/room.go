package models

import (
	"time"

	"github.com/qrave1/RoomMesh/internal/domain/events"
)

// Participant - участник комнаты. ConnectionID меняется при каждом переподключении
type Participant struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	ConnectionID string    `json:"connection_id"`
	JoinedAt     time.Time `json:"joined_at"`
}

func NewParticipant(id, name, connectionID string) Participant {
	return Participant{
		ID:           id,
		Name:         name,
		ConnectionID: connectionID,
		JoinedAt:     time.Now(),
	}
}

func (p Participant) Info() events.ParticipantInfo {
	return events.ParticipantInfo{
		UserID:       p.ID,
		UserName:     p.Name,
		ConnectionID: p.ConnectionID,
	}
}

// Room - комната. Один участник на ID, порядок входа сохраняется
type Room struct {
	ID      string
	members []Participant
}

func NewRoom(id string) *Room {
	return &Room{ID: id}
}

// Put добавляет участника или заменяет запись с тем же ID (последний вход побеждает).
// Возвращает замененную запись.
func (r *Room) Put(p Participant) (Participant, bool) {
	for i, m := range r.members {
		if m.ID == p.ID {
			r.members = append(r.members[:i], r.members[i+1:]...)
			r.members = append(r.members, p)

			return m, true
		}
	}

	r.members = append(r.members, p)

	return Participant{}, false
}

// Remove удаляет участника, только если запись принадлежит connectionID
func (r *Room) Remove(participantID, connectionID string) (Participant, bool) {
	for i, m := range r.members {
		if m.ID == participantID && m.ConnectionID == connectionID {
			r.members = append(r.members[:i], r.members[i+1:]...)

			return m, true
		}
	}

	return Participant{}, false
}

func (r *Room) Get(participantID string) (Participant, bool) {
	for _, m := range r.members {
		if m.ID == participantID {
			return m, true
		}
	}

	return Participant{}, false
}

// Others - все участники, кроме participantID, в порядке входа
func (r *Room) Others(participantID string) []Participant {
	others := make([]Participant, 0, len(r.members))

	for _, m := range r.members {
		if m.ID != participantID {
			others = append(others, m)
		}
	}

	return others
}

func (r *Room) Members() []Participant {
	return append([]Participant(nil), r.members...)
}

func (r *Room) Len() int {
	return len(r.members)
}

func (r *Room) Empty() bool {
	return len(r.members) == 0
}
