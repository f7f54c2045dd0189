// Package registry holds the signaling relay's in-memory state: which user
// is reachable on which connection (Conns) and which connections are paired
// in which room (Rooms).
//
// Neither type is safe for concurrent use. Both are owned by the signaling
// hub's event loop, which is the only writer.
package registry
