package registry

import "errors"

// ErrTargetOffline is returned when a user id has no live connection.
var ErrTargetOffline = errors.New("target offline")

// Handle identifies one live transport connection. Handles are never reused.
type Handle string

// Conns is the bidirectional userId ⇄ connection handle map. A user id maps
// to at most one handle; the latest registration wins.
type Conns struct {
	byUser   map[string]Handle
	byHandle map[Handle]string
}

func NewConns() *Conns {
	return &Conns{
		byUser:   make(map[string]Handle),
		byHandle: make(map[Handle]string),
	}
}

// Registration describes what a Register call replaced.
type Registration struct {
	// Previous is the handle userID was bound to before, if it was a
	// different connection. That connection is no longer addressable but
	// keeps its user id, so it can still act as that user.
	Previous Handle
	// PreviousUserID is the user id h was registered as before, if different.
	PreviousUserID string
}

// Register binds userID to h, replacing any prior mapping for either side.
func (c *Conns) Register(userID string, h Handle) Registration {
	var reg Registration

	if oldUser, ok := c.byHandle[h]; ok && oldUser != userID {
		reg.PreviousUserID = oldUser
		if c.byUser[oldUser] == h {
			delete(c.byUser, oldUser)
		}
	}
	if prev, ok := c.byUser[userID]; ok && prev != h {
		reg.Previous = prev
	}

	c.byUser[userID] = h
	c.byHandle[h] = userID
	return reg
}

// Resolve returns the live handle for userID or ErrTargetOffline.
func (c *Conns) Resolve(userID string) (Handle, error) {
	h, ok := c.byUser[userID]
	if !ok {
		return "", ErrTargetOffline
	}
	return h, nil
}

// UserOf returns the user id h is registered as.
func (c *Conns) UserOf(h Handle) (string, bool) {
	u, ok := c.byHandle[h]
	return u, ok
}

// Unregister removes h. The user id mapping is only dropped while it still
// points at h, so a superseded connection leaving never evicts its successor.
// It reports h's user id, or false if h never registered.
func (c *Conns) Unregister(h Handle) (string, bool) {
	userID, ok := c.byHandle[h]
	if !ok {
		return "", false
	}
	delete(c.byHandle, h)
	if c.byUser[userID] == h {
		delete(c.byUser, userID)
	}
	return userID, true
}

// Len is the number of registered users.
func (c *Conns) Len() int {
	return len(c.byUser)
}
