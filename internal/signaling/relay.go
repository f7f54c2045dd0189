package signaling

import (
	"log/slog"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/protocol"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/registry"
)

// deliverFunc queues a frame for a connection without blocking.
type deliverFunc func(registry.Handle, []byte) bool

// Relay forwards negotiation messages one hop, from a registered user to the
// connection currently registered for the target user id. Delivery is fire
// and forget: a sender is never told whether its message arrived.
type Relay struct {
	users   *registry.Conns
	deliver deliverFunc
	log     *slog.Logger
	metrics *metrics.Metrics
}

func NewRelay(users *registry.Conns, deliver deliverFunc, logger *slog.Logger, m *metrics.Metrics) *Relay {
	return &Relay{users: users, deliver: deliver, log: logger, metrics: m}
}

// Forward delivers an offer, answer or ICE candidate to req.ToUserID under
// the same event name, with the blob untouched.
func (r *Relay) Forward(fromUserID string, req protocol.RelayRequest) {
	frame, err := protocol.Encode(req.Kind, protocol.Relayed{
		Kind:       req.Kind,
		FromUserID: fromUserID,
		RoomID:     req.RoomID,
		Blob:       req.Blob,
	})
	if err != nil {
		r.log.Error("encode relay frame", "event", req.Kind, "user_id", fromUserID, "err", err)
		return
	}
	r.to(req.Kind, fromUserID, req.ToUserID, req.RoomID, frame)
}

// EndCall notifies toUserID that fromUserID hung up.
func (r *Relay) EndCall(fromUserID, toUserID string) {
	frame := protocol.MustEncode(protocol.EventCallEnd, protocol.CallEnded{FromUserID: fromUserID})
	r.to(protocol.EventCallEnd, fromUserID, toUserID, "", frame)
}

// to queues frame for toUserID's connection. Misses are logged and counted
// here; the sender is never told.
func (r *Relay) to(kind protocol.EventType, fromUserID, toUserID, roomID string, frame []byte) {
	handle, err := r.users.Resolve(toUserID)
	if err != nil {
		r.metrics.Inc(metrics.RelayTargetOffline)
		r.log.Warn("relay target offline", "event", kind, "user_id", fromUserID, "to_user_id", toUserID, "room_id", roomID)
		return
	}
	if r.deliver(handle, frame) {
		r.metrics.Inc(metrics.RelayDelivered)
		r.log.Debug("relayed", "event", kind, "user_id", fromUserID, "to_user_id", toUserID, "room_id", roomID)
	}
}
