package signaling

import (
	"context"
	"errors"
	"log/slog"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/protocol"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/registry"
)

// ErrHubStopped is returned by hub calls made after Run has returned.
var ErrHubStopped = errors.New("signaling: hub stopped")

type eventKind int

const (
	evConnect eventKind = iota
	evMessage
	evReject
	evDisconnect
	evQuery
)

type event struct {
	kind   eventKind
	conn   *Conn
	data   []byte
	reject *protocol.Error
	query  func()
}

// Stats is a point-in-time view of hub state.
type Stats struct {
	Connections int
	Users       int
	Rooms       int
}

type Hub struct {
	log     *slog.Logger
	metrics *metrics.Metrics

	events chan event
	done   chan struct{}

	// Everything below is owned by the Run goroutine.
	conns map[registry.Handle]*Conn
	users *registry.Conns
	rooms *registry.Rooms
	relay *Relay
}

func NewHub(logger *slog.Logger, m *metrics.Metrics) *Hub {
	if m == nil {
		m = metrics.New()
	}
	h := &Hub{
		log:     logger,
		metrics: m,
		events:  make(chan event, 256),
		done:    make(chan struct{}),
		conns:   make(map[registry.Handle]*Conn),
		users:   registry.NewConns(),
		rooms:   registry.NewRooms(),
	}
	h.relay = NewRelay(h.users, h.send, logger, m)
	return h
}

// Run processes events one at a time until ctx is done, then closes every
// connection's send queue.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		close(h.done)
		for handle, c := range h.conns {
			c.setClose(closeGoingAway, "server shutting down")
			close(c.send)
			delete(h.conns, handle)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			h.log.Info("signaling hub stopping", "connections", len(h.conns), "rooms", h.rooms.Len())
			return
		case ev := <-h.events:
			h.handle(ev)
		}
	}
}

// Stats asks the event loop for its current counts.
func (h *Hub) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := h.do(ctx, func() {
		s = Stats{Connections: len(h.conns), Users: h.users.Len(), Rooms: h.rooms.Len()}
	})
	return s, err
}

// Room returns a snapshot of roomID as seen by the event loop.
func (h *Hub) Room(ctx context.Context, roomID string) (registry.Room, bool, error) {
	var (
		room registry.Room
		ok   bool
	)
	err := h.do(ctx, func() { room, ok = h.rooms.Get(roomID) })
	return room, ok, err
}

func (h *Hub) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if err := h.submit(ctx, event{kind: evQuery, query: func() { fn(); close(finished) }}); err != nil {
		return err
	}
	select {
	case <-finished:
		return nil
	case <-h.done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) submit(ctx context.Context, ev event) error {
	select {
	case h.events <- ev:
		return nil
	case <-h.done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) handle(ev event) {
	switch ev.kind {
	case evConnect:
		h.onConnect(ev.conn)
	case evMessage:
		if _, live := h.conns[ev.conn.handle]; live {
			h.onMessage(ev.conn, ev.data)
		}
	case evReject:
		if _, live := h.conns[ev.conn.handle]; live {
			h.reply(ev.conn, ev.reject.Frame())
		}
	case evDisconnect:
		h.onDisconnect(ev.conn)
	case evQuery:
		ev.query()
	}
}

func (h *Hub) onConnect(c *Conn) {
	h.conns[c.handle] = c
	h.metrics.Inc(metrics.ConnectionsOpened)
	c.log.Debug("connection opened")
}

func (h *Hub) onMessage(c *Conn, data []byte) {
	in, err := protocol.Decode(data)
	if err != nil {
		h.metrics.Inc(metrics.InvalidPayload)
		c.log.Debug("invalid signaling message", "err", err)
		h.reply(c, protocol.AsError(err).Frame())
		return
	}

	if in.Type == protocol.EventRegister {
		h.onRegister(c, in.UserID)
		return
	}

	userID, ok := h.users.UserOf(c.handle)
	if !ok {
		h.metrics.Inc(metrics.NotRegistered)
		c.log.Debug("message from unregistered connection", "event", in.Type)
		h.reply(c, protocol.NotRegistered(in.Type).Frame())
		return
	}

	switch {
	case in.Type == protocol.EventJoinRoom:
		h.onJoinRoom(c, userID, in.Join)
	case in.Type.IsRelay():
		h.relay.Forward(userID, in.Relay)
	case in.Type == protocol.EventCallEnd:
		h.onCallEnd(c, userID, in.CallEnd)
	}
}

func (h *Hub) onRegister(c *Conn, userID string) {
	reg := h.users.Register(userID, c.handle)
	h.metrics.Inc(metrics.Registered)
	c.log.Info("user registered", "user_id", userID)

	if reg.Previous != "" {
		// The superseded connection stays open and still acts as userID, but
		// nothing can be relayed to it any more.
		h.metrics.Inc(metrics.RegistrationSuperseded)
		c.log.Warn("registration superseded an existing connection", "user_id", userID, "previous_conn", reg.Previous)
	}
	if reg.PreviousUserID != "" {
		c.log.Info("connection re-registered under a new user id", "user_id", userID, "previous_user_id", reg.PreviousUserID)
	}
}

func (h *Hub) onJoinRoom(c *Conn, userID string, req protocol.JoinRoom) {
	if req.UserID != userID {
		c.log.Debug("joinRoom userId differs from registered user; using registered", "user_id", userID, "payload_user_id", req.UserID)
	}

	res := h.rooms.Join(req.RoomID, registry.Participant{Handle: c.handle, UserID: userID})
	log := c.log.With("user_id", userID, "room_id", req.RoomID)
	if res.Created {
		h.metrics.Inc(metrics.RoomsCreated)
	}

	switch res.Status {
	case registry.JoinFull:
		h.metrics.Inc(metrics.RoomFull)
		log.Info("room full")
		h.reply(c, protocol.MustEncode(protocol.EventRoomFull, nil))

	case registry.JoinAlreadyJoined:
		h.metrics.Inc(metrics.JoinDuplicate)
		log.Debug("duplicate join ignored")

	case registry.JoinWaiting:
		log.Info("waiting for opponent")
		h.reply(c, protocol.MustEncode(protocol.EventWaitingForOpponent, nil))

	case registry.JoinReady:
		h.metrics.Inc(metrics.ReadyForCall)
		log.Info("room ready", "caller_id", res.InitiatorUserID)
		frame := protocol.MustEncode(protocol.EventReadyForCall, protocol.ReadyForCall{CallerID: res.InitiatorUserID})
		for _, p := range res.Participants {
			h.send(p.Handle, frame)
		}
	}
}

func (h *Hub) onCallEnd(c *Conn, userID string, req protocol.CallEndRequest) {
	h.metrics.Inc(metrics.CallEnd)
	h.relay.EndCall(userID, req.ToUserID)

	res := h.rooms.Leave(req.RoomID, c.handle)
	switch res.Status {
	case registry.LeaveRoomGone:
		h.metrics.Inc(metrics.RoomsDeleted)
		c.log.Info("call ended; room deleted", "user_id", userID, "room_id", req.RoomID)
	case registry.LeaveRemaining:
		c.log.Info("call ended; left room", "user_id", userID, "room_id", req.RoomID)
	default:
		c.log.Debug("callEnd for a room the connection is not in", "user_id", userID, "room_id", req.RoomID)
	}
}

func (h *Hub) onDisconnect(c *Conn) {
	if _, live := h.conns[c.handle]; !live {
		return
	}
	delete(h.conns, c.handle)
	close(c.send)
	h.metrics.Inc(metrics.ConnectionsClosed)

	userID, registered := h.users.Unregister(c.handle)
	departures := h.rooms.LeaveAll(c.handle)
	if !registered {
		c.log.Info("unregistered connection closed", "rooms_left", len(departures))
	} else {
		c.log.Info("user disconnected", "user_id", userID, "rooms_left", len(departures))
	}

	for _, d := range departures {
		switch d.Status {
		case registry.LeaveRoomGone:
			h.metrics.Inc(metrics.RoomsDeleted)
		case registry.LeaveRemaining:
			h.metrics.Inc(metrics.OpponentDisconnected)
			h.send(d.Remaining.Handle, protocol.MustEncode(protocol.EventOpponentDisconnected, protocol.OpponentDisconnected{
				RoomID:             d.RoomID,
				DisconnectedUserID: d.Departed.UserID,
			}))
		}
	}
}

func (h *Hub) reply(c *Conn, frame []byte) {
	h.send(c.handle, frame)
}

// send queues frame for handle without blocking. It reports whether the
// frame was queued.
func (h *Hub) send(handle registry.Handle, frame []byte) bool {
	c, ok := h.conns[handle]
	if !ok {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		h.metrics.Inc(metrics.SendQueueFull)
		c.log.Warn("send queue full; dropping event")
		return false
	}
}

// connect registers c with the event loop.
func (h *Hub) connect(ctx context.Context, c *Conn) error {
	return h.submit(ctx, event{kind: evConnect, conn: c})
}

func (h *Hub) message(c *Conn, data []byte) bool {
	return h.submit(context.Background(), event{kind: evMessage, conn: c, data: data}) == nil
}

func (h *Hub) rejectMessage(c *Conn, perr *protocol.Error) bool {
	return h.submit(context.Background(), event{kind: evReject, conn: c, reject: perr}) == nil
}

func (h *Hub) disconnect(c *Conn) {
	_ = h.submit(context.Background(), event{kind: evDisconnect, conn: c})
}
