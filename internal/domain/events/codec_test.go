package events

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestJSONDecodeWireShapes(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Type
	}{
		{"join", `{"type":"join-room","data":{"roomId":"r1","userId":"u1","userName":"Ann"}}`, TypeJoinRoom},
		{"roster", `{"type":"existing-participants","data":[{"userId":"u2","userName":"Bob","connectionId":"c2"}]}`, TypeExistingParticipants},
		{"leave without data", `{"type":"leave-room"}`, TypeLeaveRoom},
		{"ping", `{"type":"ping"}`, TypePing},
		{"candidate", `{"type":"ice-candidate","data":{"to":"c2","from":"u1","candidate":{"candidate":"candidate:1 1 udp 1 127.0.0.1 5000 typ host","sdpMid":"0","sdpMLineIndex":0}}}`, TypeICECandidate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := JSON.Decode([]byte(tt.raw))
			if err != nil {
				t.Fatalf("decode: %v", err)
			}

			if ev.Type() != tt.want {
				t.Fatalf("type = %s, want %s", ev.Type(), tt.want)
			}
		})
	}
}

func TestJSONDecodeRoster(t *testing.T) {
	ev, err := JSON.Decode([]byte(`{"type":"existing-participants","data":[{"userId":"u2","userName":"Bob","connectionId":"c2"},{"userId":"u3","userName":"Eve","connectionId":"c3"}]}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	roster, ok := ev.(ExistingParticipants)
	if !ok {
		t.Fatalf("unexpected event %T", ev)
	}

	if len(roster) != 2 || roster[0].UserID != "u2" || roster[1].ConnectionID != "c3" {
		t.Fatalf("unexpected roster %+v", roster)
	}
}

func TestJSONEncodeOmitsSenderConnection(t *testing.T) {
	raw, err := JSON.Encode(Offer{To: "c2", From: "u1", SessionDescription: SessionDescription{Type: "offer", SDP: "v=0"}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	var msg struct {
		Type string         `json:"type"`
		Data map[string]any `json:"data"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if msg.Type != "offer" {
		t.Fatalf("type = %q", msg.Type)
	}

	if _, ok := msg.Data["fromConnectionId"]; ok {
		t.Fatalf("fromConnectionId must be omitted when empty: %s", raw)
	}

	if msg.Data["to"] != "c2" {
		t.Fatalf("to = %v", msg.Data["to"])
	}
}

func TestUnknownType(t *testing.T) {
	for _, codec := range []Codec{JSON, Msgpack} {
		t.Run(codec.Name(), func(t *testing.T) {
			raw := []byte(`{"type":"teleport"}`)

			if codec.Binary() {
				var err error

				raw, err = msgpackMarshal(msgpackEnvelope{Type: "teleport"})
				if err != nil {
					t.Fatalf("marshal: %v", err)
				}
			}

			if _, err := codec.Decode(raw); !errors.Is(err, ErrUnknownType) {
				t.Fatalf("err = %v, want ErrUnknownType", err)
			}
		})
	}
}

func TestMsgpackCarriesPayloads(t *testing.T) {
	mid := "0"
	idx := uint16(1)
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	in := []Event{
		Candidate{To: "c2", From: "u1", FromConnectionID: "c1", Candidate: ICECandidate{Candidate: "candidate:1", SDPMid: &mid, SDPMLineIndex: &idx}},
		Chat{RoomID: "r1", Message: ChatMessage{ID: "m1", SenderID: "u1", SenderName: "Ann", Content: "hi", Timestamp: ts, Kind: ChatKindEmoji}},
		DiceRoll{RoomID: "r1", UserID: "u1", Payload: json.RawMessage(`{"sides":20}`)},
	}

	for _, ev := range in {
		raw, err := Msgpack.Encode(ev)
		if err != nil {
			t.Fatalf("encode %s: %v", ev.Type(), err)
		}

		out, err := Msgpack.Decode(raw)
		if err != nil {
			t.Fatalf("decode %s: %v", ev.Type(), err)
		}

		switch got := out.(type) {
		case Candidate:
			if got.FromConnectionID != "c1" || got.Candidate.SDPMid == nil || *got.Candidate.SDPMLineIndex != 1 {
				t.Fatalf("candidate lost fields: %+v", got)
			}
		case Chat:
			if !got.Message.Timestamp.Equal(ts) || got.Message.Kind != ChatKindEmoji {
				t.Fatalf("chat lost fields: %+v", got)
			}
		case DiceRoll:
			if string(got.Payload) != `{"sides":20}` {
				t.Fatalf("payload = %s", got.Payload)
			}
		default:
			t.Fatalf("unexpected event %T", out)
		}
	}
}

func TestCodecFor(t *testing.T) {
	if CodecFor(SubprotocolMsgpack) != Msgpack {
		t.Fatal("msgpack subprotocol must select msgpack codec")
	}

	if CodecFor("") != JSON {
		t.Fatal("json must be the default codec")
	}
}
