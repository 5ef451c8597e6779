package models

import "testing"

func TestRoomLastJoinWins(t *testing.T) {
	room := NewRoom("r1")

	room.Put(NewParticipant("u1", "Ann", "c1"))
	room.Put(NewParticipant("u2", "Bob", "c2"))

	prev, replaced := room.Put(NewParticipant("u1", "Ann", "c3"))
	if !replaced || prev.ConnectionID != "c1" {
		t.Fatalf("expected replacement of c1, got %+v %v", prev, replaced)
	}

	if room.Len() != 2 {
		t.Fatalf("len = %d", room.Len())
	}

	others := room.Others("u2")
	if len(others) != 1 || others[0].ConnectionID != "c3" {
		t.Fatalf("unexpected others %+v", others)
	}
}

func TestRoomRemoveIgnoresStaleConnection(t *testing.T) {
	room := NewRoom("r1")

	room.Put(NewParticipant("u1", "Ann", "c1"))
	room.Put(NewParticipant("u1", "Ann", "c2"))

	if _, ok := room.Remove("u1", "c1"); ok {
		t.Fatal("stale connection must not remove the newer entry")
	}

	if _, ok := room.Remove("u1", "c2"); !ok {
		t.Fatal("current connection must remove its entry")
	}

	if !room.Empty() {
		t.Fatal("room must be empty")
	}
}

func TestRoomOthersKeepsJoinOrder(t *testing.T) {
	room := NewRoom("r1")

	for _, id := range []string{"a", "b", "c", "d"} {
		room.Put(NewParticipant(id, id, "conn-"+id))
	}

	others := room.Others("c")

	want := []string{"a", "b", "d"}
	for i, p := range others {
		if p.ID != want[i] {
			t.Fatalf("others[%d] = %s, want %s", i, p.ID, want[i])
		}
	}
}
