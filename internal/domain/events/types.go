package events

import (
	"encoding/json"
	"time"
)

// Type - тип сигнального сообщения
type Type string

const (
	TypeJoinRoom             Type = "join-room"
	TypeExistingParticipants Type = "existing-participants"
	TypeUserJoined           Type = "user-joined"
	TypeUserLeft             Type = "user-left"
	TypeOffer                Type = "offer"
	TypeAnswer               Type = "answer"
	TypeICECandidate         Type = "ice-candidate"
	TypeLeaveRoom            Type = "leave-room"
	TypeChatMessage          Type = "chat-message"
	TypeDiceRoll             Type = "dice-roll"
	TypeDiceConfig           Type = "dice-config"
	TypeGameAction           Type = "game-action"
	TypePing                 Type = "ping"
	TypePong                 Type = "pong"
)

// Event - сообщение протокола. Набор закрыт: реализуют его только типы
// из этого файла.
type Event interface {
	Type() Type
	event()
}

// JoinRoom - запрос на вход в комнату
type JoinRoom struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

// ParticipantInfo - участник комнаты в том виде, в котором его видят остальные
type ParticipantInfo struct {
	UserID       string `json:"userId"`
	UserName     string `json:"userName"`
	ConnectionID string `json:"connectionId"`
}

// ExistingParticipants - остальные участники комнаты в порядке входа, отправляется вошедшему
type ExistingParticipants []ParticipantInfo

// UserJoined - рассылается участникам, которые уже в комнате
type UserJoined ParticipantInfo

// UserLeft - рассылается оставшимся участникам
type UserLeft struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

// SessionDescription - SDP offer или answer
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// ICECandidate - ICE кандидат
type ICECandidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// Description - адресованный SDP. To - id соединения или id участника,
// FromConnectionID проставляет relay.
type Description struct {
	To                 string             `json:"to"`
	From               string             `json:"from"`
	FromConnectionID   string             `json:"fromConnectionId,omitempty"`
	SessionDescription SessionDescription `json:"sessionDescription"`
}

type Offer Description

type Answer Description

// Candidate - адресованный ICE кандидат
type Candidate struct {
	To               string       `json:"to"`
	From             string       `json:"from"`
	FromConnectionID string       `json:"fromConnectionId,omitempty"`
	Candidate        ICECandidate `json:"candidate"`
}

type LeaveRoom struct{}

// ChatKind - вид сообщения чата
type ChatKind string

const (
	ChatKindUser   ChatKind = "user"
	ChatKindSystem ChatKind = "system"
	ChatKindEmoji  ChatKind = "emoji"
)

type ChatMessage struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"senderId"`
	SenderName string    `json:"senderName"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
	Kind       ChatKind  `json:"type"`
}

// Chat - сообщение чата или эмодзи-реакция для всей комнаты
type Chat struct {
	RoomID  string      `json:"roomId"`
	Message ChatMessage `json:"message"`
}

// RoomAction - рассылка по комнате (кубики, игра). Payload relay не разбирает
type RoomAction struct {
	RoomID  string          `json:"roomId"`
	Payload json.RawMessage `json:"payload"`
	UserID  string          `json:"userId"`
}

type DiceRoll RoomAction

type DiceConfig RoomAction

type GameAction RoomAction

type Ping struct{}

type Pong struct{}

func (JoinRoom) Type() Type             { return TypeJoinRoom }
func (ExistingParticipants) Type() Type { return TypeExistingParticipants }
func (UserJoined) Type() Type           { return TypeUserJoined }
func (UserLeft) Type() Type             { return TypeUserLeft }
func (Offer) Type() Type                { return TypeOffer }
func (Answer) Type() Type               { return TypeAnswer }
func (Candidate) Type() Type            { return TypeICECandidate }
func (LeaveRoom) Type() Type            { return TypeLeaveRoom }
func (Chat) Type() Type                 { return TypeChatMessage }
func (DiceRoll) Type() Type             { return TypeDiceRoll }
func (DiceConfig) Type() Type           { return TypeDiceConfig }
func (GameAction) Type() Type           { return TypeGameAction }
func (Ping) Type() Type                 { return TypePing }
func (Pong) Type() Type                 { return TypePong }

func (JoinRoom) event()             {}
func (ExistingParticipants) event() {}
func (UserJoined) event()           {}
func (UserLeft) event()             {}
func (Offer) event()                {}
func (Answer) event()               {}
func (Candidate) event()            {}
func (LeaveRoom) event()            {}
func (Chat) event()                 {}
func (DiceRoll) event()             {}
func (DiceConfig) event()           {}
func (GameAction) event()           {}
func (Ping) event()                 {}
func (Pong) event()                 {}

// RoomBroadcast - события, которые relay пересылает всей комнате без хранения
type RoomBroadcast interface {
	Event
	Room() string
	InRoom(roomID string) RoomBroadcast
}

func (c Chat) Room() string       { return c.RoomID }
func (d DiceRoll) Room() string   { return d.RoomID }
func (d DiceConfig) Room() string { return d.RoomID }
func (g GameAction) Room() string { return g.RoomID }

func (c Chat) InRoom(roomID string) RoomBroadcast {
	c.RoomID = roomID
	return c
}

func (d DiceRoll) InRoom(roomID string) RoomBroadcast {
	d.RoomID = roomID
	return d
}

func (d DiceConfig) InRoom(roomID string) RoomBroadcast {
	d.RoomID = roomID
	return d
}

func (g GameAction) InRoom(roomID string) RoomBroadcast {
	g.RoomID = roomID
	return g
}
