package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/qrave1/RoomMesh/internal/domain/events"
	"github.com/qrave1/RoomMesh/internal/infra/adapters/memory"
)

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Send(ev events.Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, ev)

	return true
}

func (r *recorder) take() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := r.events
	r.events = nil

	return out
}

func newRelay(t *testing.T, connIDs ...string) (RelayUsecase, map[string]*recorder) {
	t.Helper()

	relay := NewRelayUsecase(
		memory.NewRoomRepository(),
		memory.NewMembershipRepository(),
		memory.NewWSConnectionRepository(),
	)

	recorders := make(map[string]*recorder, len(connIDs))
	for _, id := range connIDs {
		recorders[id] = &recorder{}
		relay.Connect(context.Background(), id, recorders[id])
	}

	return relay, recorders
}

func join(t *testing.T, relay RelayUsecase, connID, roomID, userID string) {
	t.Helper()

	err := relay.HandleJoin(context.Background(), connID, events.JoinRoom{RoomID: roomID, UserID: userID, UserName: userID})
	if err != nil {
		t.Fatalf("join %s: %v", userID, err)
	}
}

func TestJoinSendsSnapshotAndAnnounces(t *testing.T) {
	relay, rec := newRelay(t, "c1", "c2")

	join(t, relay, "c1", "r1", "alice")

	first := rec["c1"].take()
	if len(first) != 1 {
		t.Fatalf("alice got %d events", len(first))
	}

	if roster, ok := first[0].(events.ExistingParticipants); !ok || len(roster) != 0 {
		t.Fatalf("expected empty roster, got %#v", first[0])
	}

	join(t, relay, "c2", "r1", "bob")

	roster, ok := rec["c2"].take()[0].(events.ExistingParticipants)
	if !ok || len(roster) != 1 || roster[0].UserID != "alice" || roster[0].ConnectionID != "c1" {
		t.Fatalf("unexpected roster %#v", roster)
	}

	announced := rec["c1"].take()
	if len(announced) != 1 {
		t.Fatalf("alice got %d events", len(announced))
	}

	joined, ok := announced[0].(events.UserJoined)
	if !ok || joined.UserID != "bob" || joined.ConnectionID != "c2" {
		t.Fatalf("unexpected announce %#v", announced[0])
	}
}

func TestJoinRequiresIdentity(t *testing.T) {
	relay, _ := newRelay(t, "c1")

	err := relay.HandleJoin(context.Background(), "c1", events.JoinRoom{RoomID: "r1"})
	if !errors.Is(err, ErrInvalidJoin) {
		t.Fatalf("err = %v", err)
	}
}

func TestSignalAddressing(t *testing.T) {
	relay, rec := newRelay(t, "c1", "c2")
	ctx := context.Background()

	join(t, relay, "c1", "r1", "alice")
	join(t, relay, "c2", "r1", "bob")
	rec["c1"].take()
	rec["c2"].take()

	tests := []struct {
		name string
		to   string
	}{
		{"by connection id", "c2"},
		{"by participant id", "bob"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			offer := events.Offer{To: tt.to, From: "alice", SessionDescription: events.SessionDescription{Type: "offer", SDP: "v=0"}}
			if err := relay.HandleSignal(ctx, "c1", offer); err != nil {
				t.Fatalf("signal: %v", err)
			}

			got := rec["c2"].take()
			if len(got) != 1 {
				t.Fatalf("bob got %d events", len(got))
			}

			fwd, ok := got[0].(events.Offer)
			if !ok || fwd.From != "alice" || fwd.FromConnectionID != "c1" {
				t.Fatalf("unexpected forward %#v", got[0])
			}
		})
	}

	t.Run("unknown recipient is dropped", func(t *testing.T) {
		answer := events.Answer{To: "nobody", From: "alice"}
		if err := relay.HandleSignal(ctx, "c1", answer); err != nil {
			t.Fatalf("signal: %v", err)
		}

		if got := rec["c2"].take(); len(got) != 0 {
			t.Fatalf("unexpected delivery %#v", got)
		}
	})
}

func TestLeaveBroadcastsAndDeletesRoom(t *testing.T) {
	relay, rec := newRelay(t, "c1", "c2")
	ctx := context.Background()

	join(t, relay, "c1", "r1", "alice")
	join(t, relay, "c2", "r1", "bob")
	rec["c1"].take()

	relay.Disconnect(ctx, "c2")

	got := rec["c1"].take()
	if len(got) != 1 {
		t.Fatalf("alice got %d events", len(got))
	}

	if left, ok := got[0].(events.UserLeft); !ok || left.UserID != "bob" {
		t.Fatalf("unexpected event %#v", got[0])
	}

	relay.HandleLeave(ctx, "c1")
	relay.HandleLeave(ctx, "c1")

	if relay.RoomCount() != 0 {
		t.Fatalf("room count = %d", relay.RoomCount())
	}
}

func TestStaleConnectionKeepsNewerEntry(t *testing.T) {
	relay, rec := newRelay(t, "old", "new", "watcher")
	ctx := context.Background()

	join(t, relay, "watcher", "r1", "carol")
	join(t, relay, "old", "r1", "alice")
	join(t, relay, "new", "r1", "alice")
	rec["watcher"].take()

	relay.Disconnect(ctx, "old")

	if got := rec["watcher"].take(); len(got) != 0 {
		t.Fatalf("stale close must not announce user-left, got %#v", got)
	}

	relay.Disconnect(ctx, "new")

	got := rec["watcher"].take()
	if len(got) != 1 || got[0].Type() != events.TypeUserLeft {
		t.Fatalf("expected user-left, got %#v", got)
	}
}

func TestRejoinDifferentRoomLeavesFirst(t *testing.T) {
	relay, rec := newRelay(t, "c1", "c2")

	join(t, relay, "c2", "r1", "bob")
	join(t, relay, "c1", "r1", "alice")
	rec["c2"].take()

	join(t, relay, "c1", "r2", "alice")

	got := rec["c2"].take()
	if len(got) != 1 || got[0].Type() != events.TypeUserLeft {
		t.Fatalf("expected user-left in r1, got %#v", got)
	}

	if relay.RoomCount() != 2 {
		t.Fatalf("room count = %d", relay.RoomCount())
	}
}

func TestBroadcastIncludesSenderAndFallsBackToRoom(t *testing.T) {
	relay, rec := newRelay(t, "c1", "c2", "c3")
	ctx := context.Background()

	for i, user := range []string{"alice", "bob", "carol"} {
		join(t, relay, []string{"c1", "c2", "c3"}[i], "r1", user)
	}
	for _, r := range rec {
		r.take()
	}

	chat := events.Chat{Message: events.ChatMessage{ID: "m1", SenderID: "alice", Content: "hi", Kind: events.ChatKindUser}}
	if err := relay.HandleBroadcast(ctx, "c1", chat); err != nil {
		t.Fatalf("broadcast: %v", err)
	}

	for id, r := range rec {
		got := r.take()
		if len(got) != 1 {
			t.Fatalf("%s got %d events", id, len(got))
		}

		if c, ok := got[0].(events.Chat); !ok || c.RoomID != "r1" || c.Message.Content != "hi" {
			t.Fatalf("%s got %#v", id, got[0])
		}
	}
}

func TestBroadcastBeforeJoin(t *testing.T) {
	relay, _ := newRelay(t, "c1")

	err := relay.HandleBroadcast(context.Background(), "c1", events.DiceRoll{UserID: "alice"})
	if !errors.Is(err, ErrNotJoined) {
		t.Fatalf("err = %v", err)
	}
}

func TestPing(t *testing.T) {
	relay, rec := newRelay(t, "c1")

	relay.HandlePing(context.Background(), "c1")

	got := rec["c1"].take()
	if len(got) != 1 || got[0].Type() != events.TypePong {
		t.Fatalf("expected pong, got %#v", got)
	}
}

// hookedMembership вызывает after после записи членства соединения
type hookedMembership struct {
	memory.MembershipRepository
	after func(connectionID string)
}

func (h *hookedMembership) Set(ctx context.Context, connectionID string, m memory.Membership) {
	h.MembershipRepository.Set(ctx, connectionID, m)

	if h.after != nil {
		h.after(connectionID)
	}
}

func TestLeaveDuringJoinIsDeliveredAfterSnapshot(t *testing.T) {
	ctx := context.Background()
	membership := &hookedMembership{MembershipRepository: memory.NewMembershipRepository()}

	relay := NewRelayUsecase(memory.NewRoomRepository(), membership, memory.NewWSConnectionRepository())

	alice, bob := &recorder{}, &recorder{}
	relay.Connect(ctx, "c-alice", alice)
	relay.Connect(ctx, "c-bob", bob)

	join(t, relay, "c-alice", "r1", "alice")

	// alice отключается, пока relay еще обрабатывает вход bob
	membership.after = func(connectionID string) {
		if connectionID == "c-bob" {
			relay.Disconnect(ctx, "c-alice")
		}
	}

	join(t, relay, "c-bob", "r1", "bob")

	got := bob.take()
	if len(got) != 2 {
		t.Fatalf("bob got %d events: %v", len(got), got)
	}

	snapshot, ok := got[0].(events.ExistingParticipants)
	if !ok || len(snapshot) != 1 || snapshot[0].UserID != "alice" {
		t.Fatalf("first event = %#v, want snapshot with alice", got[0])
	}

	if left, ok := got[1].(events.UserLeft); !ok || left.UserID != "alice" {
		t.Fatalf("second event = %#v, want user-left alice", got[1])
	}
}
