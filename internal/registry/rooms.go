package registry

import "sort"

// RoomCapacity is the fixed number of participants in a room.
const RoomCapacity = 2

// Participant is a connection in a room together with the user id it was
// registered as when it joined.
type Participant struct {
	Handle Handle
	UserID string
}

// Room is a snapshot of one room's state.
type Room struct {
	ID           string
	Participants []Participant
	// Initiator is the first joiner. It is fixed for the lifetime of the room
	// object, even after that participant leaves; a room that empties is
	// deleted, and a later join starts over with a new initiator.
	Initiator Participant
}

type JoinStatus int

const (
	JoinWaiting JoinStatus = iota
	JoinReady
	JoinFull
	JoinAlreadyJoined
)

func (s JoinStatus) String() string {
	switch s {
	case JoinWaiting:
		return "waiting"
	case JoinReady:
		return "ready"
	case JoinFull:
		return "full"
	case JoinAlreadyJoined:
		return "already_joined"
	default:
		return "unknown"
	}
}

type JoinResult struct {
	Status JoinStatus
	// Created is set when this join created the room.
	Created bool
	// InitiatorUserID is set for JoinReady.
	InitiatorUserID string
	// Participants is the membership after the join.
	Participants []Participant
}

type LeaveStatus int

const (
	// LeaveNotPresent: the room doesn't exist or h wasn't in it.
	LeaveNotPresent LeaveStatus = iota
	// LeaveRemaining: h left and one participant remains.
	LeaveRemaining
	// LeaveRoomGone: h was the last participant; the room was deleted.
	LeaveRoomGone
)

type LeaveResult struct {
	Status    LeaveStatus
	Departed  Participant
	Remaining Participant
}

// Departure is one room left by LeaveAll.
type Departure struct {
	RoomID string
	LeaveResult
}

type room struct {
	participants []Participant
	initiator    Participant
}

// Rooms maps room ids to their participants. Empty rooms are never retained.
type Rooms struct {
	rooms    map[string]*room
	memberOf map[Handle]map[string]struct{}
}

func NewRooms() *Rooms {
	return &Rooms{
		rooms:    make(map[string]*room),
		memberOf: make(map[Handle]map[string]struct{}),
	}
}

// Join adds p to roomID, creating the room if needed. Capacity is checked
// first: a full room reports JoinFull even to one of its own members. A
// repeated join into a room with space is a no-op.
func (r *Rooms) Join(roomID string, p Participant) JoinResult {
	rm, ok := r.rooms[roomID]
	if ok {
		if len(rm.participants) >= RoomCapacity {
			return JoinResult{Status: JoinFull, Participants: cloneParticipants(rm.participants)}
		}
		for _, existing := range rm.participants {
			if existing.Handle == p.Handle {
				return JoinResult{Status: JoinAlreadyJoined, Participants: cloneParticipants(rm.participants)}
			}
		}
	} else {
		rm = &room{initiator: p}
		r.rooms[roomID] = rm
	}

	rm.participants = append(rm.participants, p)
	set := r.memberOf[p.Handle]
	if set == nil {
		set = make(map[string]struct{})
		r.memberOf[p.Handle] = set
	}
	set[roomID] = struct{}{}

	res := JoinResult{Created: !ok, Participants: cloneParticipants(rm.participants)}
	if len(rm.participants) == RoomCapacity {
		res.Status = JoinReady
		res.InitiatorUserID = rm.initiator.UserID
	} else {
		res.Status = JoinWaiting
	}
	return res
}

// Leave removes h from roomID, deleting the room if it becomes empty.
func (r *Rooms) Leave(roomID string, h Handle) LeaveResult {
	rm, ok := r.rooms[roomID]
	if !ok {
		return LeaveResult{Status: LeaveNotPresent}
	}

	idx := -1
	for i, p := range rm.participants {
		if p.Handle == h {
			idx = i
			break
		}
	}
	if idx < 0 {
		return LeaveResult{Status: LeaveNotPresent}
	}

	res := LeaveResult{Departed: rm.participants[idx]}
	rm.participants = append(rm.participants[:idx], rm.participants[idx+1:]...)
	if set := r.memberOf[h]; set != nil {
		delete(set, roomID)
		if len(set) == 0 {
			delete(r.memberOf, h)
		}
	}

	if len(rm.participants) == 0 {
		delete(r.rooms, roomID)
		res.Status = LeaveRoomGone
		return res
	}
	res.Status = LeaveRemaining
	res.Remaining = rm.participants[0]
	return res
}

// LeaveAll removes h from every room it occupies, in room id order.
func (r *Rooms) LeaveAll(h Handle) []Departure {
	set := r.memberOf[h]
	if len(set) == 0 {
		return nil
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]Departure, 0, len(ids))
	for _, id := range ids {
		if res := r.Leave(id, h); res.Status != LeaveNotPresent {
			out = append(out, Departure{RoomID: id, LeaveResult: res})
		}
	}
	return out
}

// Get returns a snapshot of roomID.
func (r *Rooms) Get(roomID string) (Room, bool) {
	rm, ok := r.rooms[roomID]
	if !ok {
		return Room{}, false
	}
	return Room{ID: roomID, Participants: cloneParticipants(rm.participants), Initiator: rm.initiator}, true
}

// RoomsOf returns the ids of the rooms h occupies, sorted.
func (r *Rooms) RoomsOf(h Handle) []string {
	set := r.memberOf[h]
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len is the number of live rooms.
func (r *Rooms) Len() int {
	return len(r.rooms)
}

func cloneParticipants(ps []Participant) []Participant {
	return append([]Participant(nil), ps...)
}
