package coordinator

import (
	"encoding/json"

	"github.com/qrave1/RoomMesh/internal/domain/events"
	"github.com/qrave1/RoomMesh/internal/domain/peer"
)

// RoomEvent - кубики и игровые действия, полученные от комнаты
type RoomEvent struct {
	Type    events.Type
	RoomID  string
	UserID  string
	Payload json.RawMessage
}

// Handlers - колбэки координатора. Любой может быть nil. Вызываются из разных
// горутин, OnRemoteStreamAdded - из горутины входящей дорожки, ее можно читать
// прямо в колбэке
type Handlers struct {
	OnStateChange         func(State)
	OnParticipantJoined   func(participantID, name string)
	OnParticipantLeft     func(participantID string)
	OnRemoteStreamAdded   func(participantID string, track peer.RemoteTrack)
	OnRemoteStreamRemoved func(participantID string)
	OnMessageReceived     func(events.ChatMessage)
	OnRoomEvent           func(RoomEvent)
}

func (h Handlers) stateChange(s State) {
	if h.OnStateChange != nil {
		h.OnStateChange(s)
	}
}

func (h Handlers) participantJoined(id, name string) {
	if h.OnParticipantJoined != nil {
		h.OnParticipantJoined(id, name)
	}
}

func (h Handlers) participantLeft(id string) {
	if h.OnParticipantLeft != nil {
		h.OnParticipantLeft(id)
	}
}

func (h Handlers) remoteStreamAdded(id string, track peer.RemoteTrack) {
	if h.OnRemoteStreamAdded != nil {
		h.OnRemoteStreamAdded(id, track)
	}
}

func (h Handlers) remoteStreamRemoved(id string) {
	if h.OnRemoteStreamRemoved != nil {
		h.OnRemoteStreamRemoved(id)
	}
}

func (h Handlers) messageReceived(m events.ChatMessage) {
	if h.OnMessageReceived != nil {
		h.OnMessageReceived(m)
	}
}

func (h Handlers) roomEvent(e RoomEvent) {
	if h.OnRoomEvent != nil {
		h.OnRoomEvent(e)
	}
}
