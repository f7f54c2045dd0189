// Package metrics holds the relay's in-process event counters.
package metrics

import "sync"

// Counter names. Each is exposed as an `event` label value.
const (
	ConnectionsOpened = "connections_opened"
	ConnectionsClosed = "connections_closed"

	Registered             = "registered"
	RegistrationSuperseded = "registration_superseded"

	RoomsCreated  = "rooms_created"
	RoomsDeleted  = "rooms_deleted"
	RoomFull      = "room_full"
	JoinDuplicate = "join_duplicate"
	ReadyForCall  = "ready_for_call"

	RelayDelivered       = "relay_delivered"
	RelayTargetOffline   = "relay_target_offline"
	CallEnd              = "call_end"
	OpponentDisconnected = "opponent_disconnected"

	InvalidPayload = "invalid_payload"
	NotRegistered  = "not_registered"
	SendQueueFull  = "send_queue_full"
	RateLimited    = "rate_limited"

	UploadsAccepted = "uploads_accepted"
	UploadsRejected = "uploads_rejected"
)

// Events lists every counter the relay and upload service increment, in
// exposition order.
var Events = []string{
	ConnectionsOpened, ConnectionsClosed,
	Registered, RegistrationSuperseded,
	RoomsCreated, RoomsDeleted, RoomFull, JoinDuplicate, ReadyForCall,
	RelayDelivered, RelayTargetOffline, CallEnd, OpponentDisconnected,
	InvalidPayload, NotRegistered, SendQueueFull, RateLimited,
	UploadsAccepted, UploadsRejected,
}

// Metrics is a concurrency-safe counter registry.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{m: make(map[string]uint64)}
}

func (m *Metrics) Inc(name string) { m.Add(name, 1) }

func (m *Metrics) Add(name string, n uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.m[name] += n
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
