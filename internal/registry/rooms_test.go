package registry

import (
	"math/rand"
	"testing"
)

func p(h, u string) Participant { return Participant{Handle: Handle(h), UserID: u} }

func TestRooms_JoinLifecycle(t *testing.T) {
	r := NewRooms()

	res := r.Join("r1", p("a", "alice"))
	if res.Status != JoinWaiting || !res.Created {
		t.Fatalf("first join=%+v, want waiting+created", res)
	}

	res = r.Join("r1", p("b", "bob"))
	if res.Status != JoinReady || res.Created {
		t.Fatalf("second join=%+v, want ready", res)
	}
	if res.InitiatorUserID != "alice" {
		t.Fatalf("InitiatorUserID=%q, want alice", res.InitiatorUserID)
	}
	if len(res.Participants) != 2 {
		t.Fatalf("participants=%v", res.Participants)
	}

	res = r.Join("r1", p("c", "carol"))
	if res.Status != JoinFull {
		t.Fatalf("third join=%+v, want full", res)
	}
	room, _ := r.Get("r1")
	if len(room.Participants) != 2 {
		t.Fatalf("full room mutated: %v", room.Participants)
	}
	if len(r.RoomsOf("c")) != 0 {
		t.Fatalf("rejected joiner recorded as member")
	}
}

func TestRooms_DuplicateJoinIsNoop(t *testing.T) {
	r := NewRooms()
	r.Join("r1", p("a", "alice"))

	res := r.Join("r1", p("a", "alice"))
	if res.Status != JoinAlreadyJoined {
		t.Fatalf("duplicate join=%v, want already joined", res.Status)
	}
	room, _ := r.Get("r1")
	if len(room.Participants) != 1 {
		t.Fatalf("participants=%v, want 1", room.Participants)
	}

	// Capacity wins over membership: a member re-joining a full room is told
	// it is full, and the room is left untouched.
	r.Join("r1", p("b", "bob"))
	if res := r.Join("r1", p("b", "bob")); res.Status != JoinFull {
		t.Fatalf("member re-join of full room=%v, want full", res.Status)
	}
	room, _ = r.Get("r1")
	if len(room.Participants) != 2 {
		t.Fatalf("participants=%v, want 2", room.Participants)
	}
}

func TestRooms_LeaveResults(t *testing.T) {
	r := NewRooms()
	r.Join("r1", p("a", "alice"))
	r.Join("r1", p("b", "bob"))

	if res := r.Leave("nope", "a"); res.Status != LeaveNotPresent {
		t.Fatalf("leave unknown room=%v", res.Status)
	}
	if res := r.Leave("r1", "zzz"); res.Status != LeaveNotPresent {
		t.Fatalf("leave by non-member=%v", res.Status)
	}

	res := r.Leave("r1", "b")
	if res.Status != LeaveRemaining || res.Remaining != p("a", "alice") || res.Departed != p("b", "bob") {
		t.Fatalf("leave=%+v", res)
	}

	res = r.Leave("r1", "a")
	if res.Status != LeaveRoomGone {
		t.Fatalf("last leave=%+v, want room gone", res)
	}
	if _, ok := r.Get("r1"); ok {
		t.Fatalf("empty room retained")
	}
	if r.Len() != 0 {
		t.Fatalf("Len=%d", r.Len())
	}
}

func TestRooms_InitiatorFixedUntilRoomDeleted(t *testing.T) {
	r := NewRooms()
	r.Join("r1", p("a", "alice"))
	r.Join("r1", p("b", "bob"))

	// Initiator leaves; the room survives with bob and keeps alice as initiator.
	r.Leave("r1", "a")
	res := r.Join("r1", p("c", "carol"))
	if res.Status != JoinReady || res.InitiatorUserID != "alice" {
		t.Fatalf("rejoin=%+v, want ready with initiator alice", res)
	}

	// Once the room empties, the next first joiner becomes initiator.
	r.Leave("r1", "b")
	r.Leave("r1", "c")
	r.Join("r1", p("d", "dave"))
	res = r.Join("r1", p("e", "erin"))
	if res.InitiatorUserID != "dave" {
		t.Fatalf("InitiatorUserID=%q, want dave", res.InitiatorUserID)
	}
}

func TestRooms_LeaveAll(t *testing.T) {
	r := NewRooms()
	r.Join("r2", p("a", "alice"))
	r.Join("r1", p("a", "alice"))
	r.Join("r1", p("b", "bob"))

	deps := r.LeaveAll("a")
	if len(deps) != 2 {
		t.Fatalf("departures=%+v", deps)
	}
	if deps[0].RoomID != "r1" || deps[0].Status != LeaveRemaining || deps[0].Remaining.UserID != "bob" {
		t.Fatalf("deps[0]=%+v", deps[0])
	}
	if deps[1].RoomID != "r2" || deps[1].Status != LeaveRoomGone {
		t.Fatalf("deps[1]=%+v", deps[1])
	}
	if len(r.RoomsOf("a")) != 0 {
		t.Fatalf("handle still indexed: %v", r.RoomsOf("a"))
	}
	if r.LeaveAll("a") != nil {
		t.Fatalf("second LeaveAll should be empty")
	}
}

func TestRooms_RandomOperationsKeepInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	r := NewRooms()
	handles := []Handle{"h0", "h1", "h2", "h3", "h4", "h5"}
	roomIDs := []string{"r0", "r1", "r2"}
	firstJoiner := map[string]string{}

	for i := 0; i < 5000; i++ {
		h := handles[rng.Intn(len(handles))]
		id := roomIDs[rng.Intn(len(roomIDs))]
		switch rng.Intn(3) {
		case 0, 1:
			_, existed := r.Get(id)
			res := r.Join(id, Participant{Handle: h, UserID: "u-" + string(h)})
			if !existed && res.Status == JoinWaiting {
				firstJoiner[id] = "u-" + string(h)
			}
			if res.Status == JoinReady && res.InitiatorUserID != firstJoiner[id] {
				t.Fatalf("step %d: initiator=%q, want %q", i, res.InitiatorUserID, firstJoiner[id])
			}
		case 2:
			if rng.Intn(2) == 0 {
				r.Leave(id, h)
			} else {
				r.LeaveAll(h)
			}
		}

		for _, id := range roomIDs {
			room, ok := r.Get(id)
			if !ok {
				continue
			}
			if n := len(room.Participants); n == 0 || n > RoomCapacity {
				t.Fatalf("step %d: room %s has %d participants", i, id, n)
			}
			seen := map[Handle]bool{}
			for _, part := range room.Participants {
				if seen[part.Handle] {
					t.Fatalf("step %d: duplicate participant %s in %s", i, part.Handle, id)
				}
				seen[part.Handle] = true
			}
		}
		for _, h := range handles {
			for _, id := range r.RoomsOf(h) {
				room, ok := r.Get(id)
				if !ok {
					t.Fatalf("step %d: %s indexed in deleted room %s", i, h, id)
				}
				found := false
				for _, part := range room.Participants {
					found = found || part.Handle == h
				}
				if !found {
					t.Fatalf("step %d: index says %s in %s but it is not", i, h, id)
				}
			}
		}
	}
}
