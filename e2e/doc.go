// Package e2e holds end-to-end tests that run real pion PeerConnections on a
// virtual network and negotiate them through the signaling relay.
package e2e
