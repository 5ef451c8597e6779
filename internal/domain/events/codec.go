package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Websocket subprotocol определяет формат кадров
const (
	SubprotocolJSON    = "roommesh.json"
	SubprotocolMsgpack = "roommesh.msgpack"
)

var ErrUnknownType = errors.New("unknown message type")

// Codec - кодирование событий в кадры websocket и обратно
type Codec interface {
	Name() string
	// Binary - кадры отправляются как binary message
	Binary() bool
	Encode(Event) ([]byte, error)
	Decode([]byte) (Event, error)
}

var (
	JSON    Codec = jsonCodec{}
	Msgpack Codec = msgpackCodec{}
)

// CodecFor - кодек по согласованному subprotocol, по умолчанию JSON
func CodecFor(subprotocol string) Codec {
	if subprotocol == SubprotocolMsgpack {
		return Msgpack
	}

	return JSON
}

// Message - общее событие
type Message struct {
	Type Type            `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type jsonCodec struct{}

func (jsonCodec) Name() string { return SubprotocolJSON }

func (jsonCodec) Binary() bool { return false }

func (jsonCodec) Encode(ev Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", ev.Type(), err)
	}

	return json.Marshal(Message{Type: ev.Type(), Data: data})
}

func (jsonCodec) Decode(raw []byte) (Event, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}

	return decode(msg.Type, msg.Data, json.Unmarshal)
}

type msgpackEnvelope struct {
	Type Type               `msgpack:"type"`
	Data msgpack.RawMessage `msgpack:"data,omitempty"`
}

type msgpackCodec struct{}

func (msgpackCodec) Name() string { return SubprotocolMsgpack }

func (msgpackCodec) Binary() bool { return true }

func (msgpackCodec) Encode(ev Event) ([]byte, error) {
	data, err := msgpackMarshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", ev.Type(), err)
	}

	return msgpack.Marshal(msgpackEnvelope{Type: ev.Type(), Data: data})
}

func (msgpackCodec) Decode(raw []byte) (Event, error) {
	var env msgpackEnvelope
	if err := msgpack.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}

	return decode(env.Type, env.Data, msgpackUnmarshal)
}

// msgpack использует json теги, чтобы имена полей совпадали в обоих форматах
func msgpackMarshal(v any) ([]byte, error) {
	var buf bytes.Buffer

	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")

	if err := enc.Encode(v); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func msgpackUnmarshal(data []byte, v any) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")

	return dec.Decode(v)
}

type unmarshalFunc func([]byte, any) error

func decode(t Type, data []byte, unmarshal unmarshalFunc) (Event, error) {
	switch t {
	case TypeJoinRoom:
		return decodeAs[JoinRoom](data, unmarshal)
	case TypeExistingParticipants:
		return decodeAs[ExistingParticipants](data, unmarshal)
	case TypeUserJoined:
		return decodeAs[UserJoined](data, unmarshal)
	case TypeUserLeft:
		return decodeAs[UserLeft](data, unmarshal)
	case TypeOffer:
		return decodeAs[Offer](data, unmarshal)
	case TypeAnswer:
		return decodeAs[Answer](data, unmarshal)
	case TypeICECandidate:
		return decodeAs[Candidate](data, unmarshal)
	case TypeLeaveRoom:
		return LeaveRoom{}, nil
	case TypeChatMessage:
		return decodeAs[Chat](data, unmarshal)
	case TypeDiceRoll:
		return decodeAs[DiceRoll](data, unmarshal)
	case TypeDiceConfig:
		return decodeAs[DiceConfig](data, unmarshal)
	case TypeGameAction:
		return decodeAs[GameAction](data, unmarshal)
	case TypePing:
		return Ping{}, nil
	case TypePong:
		return Pong{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
}

func decodeAs[T Event](data []byte, unmarshal unmarshalFunc) (Event, error) {
	var ev T

	if len(data) == 0 {
		return ev, nil
	}

	if err := unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", ev.Type(), err)
	}

	return ev, nil
}
