// Package signaling pairs two browsers into a room and relays their WebRTC
// negotiation messages (offer, answer, ICE candidates) over WebSocket.
//
// A single Hub goroutine owns all state: the user ⇄ connection registry, the
// rooms and the set of live connections. Each WebSocket has a read pump that
// feeds events to the hub in arrival order and a write pump that drains a
// bounded send queue. The hub never blocks on a slow client; when a queue is
// full the event is dropped.
package signaling
