// Package signalclient is a Go client for the signaling WebSocket, used by
// signalctl and the end-to-end tests to drive real peer connections.
package signalclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 1 << 20
	incomingBuffer = 64
)

// ErrNotRegistered is returned by calls that need a prior Register.
var ErrNotRegistered = errors.New("signalclient: not registered")

// Event is one decoded server event. Only the fields for Type are set.
type Event struct {
	Type protocol.EventType

	// offer, answer, iceCandidate
	Relayed protocol.Relayed
	// readyForCall
	CallerID string
	// callEnd
	FromUserID string
	// opponentDisconnected
	Disconnected protocol.OpponentDisconnected
	// error
	Err *protocol.Error
}

// SessionDescription decodes the blob of an offer or answer.
func (e Event) SessionDescription() (webrtc.SessionDescription, error) {
	var sd webrtc.SessionDescription
	if e.Type != protocol.EventOffer && e.Type != protocol.EventAnswer {
		return sd, fmt.Errorf("signalclient: %s carries no session description", e.Type)
	}
	err := json.Unmarshal(e.Relayed.Blob, &sd)
	return sd, err
}

// Candidate decodes the blob of an iceCandidate.
func (e Event) Candidate() (webrtc.ICECandidateInit, error) {
	var c webrtc.ICECandidateInit
	if e.Type != protocol.EventICECandidate {
		return c, fmt.Errorf("signalclient: %s carries no candidate", e.Type)
	}
	err := json.Unmarshal(e.Relayed.Blob, &c)
	return c, err
}

type Client struct {
	conn *websocket.Conn

	writeMu sync.Mutex
	userID  string

	incoming chan Event
	readErr  error
	closed   chan struct{}
	once     sync.Once
}

// Dial connects to a signaling endpoint such as ws://host:8080/ws.
func Dial(ctx context.Context, url string, header http.Header) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("dial signaling server: %w", err)
	}
	conn.SetReadLimit(maxMessageSize)

	c := &Client{
		conn:     conn,
		incoming: make(chan Event, incomingBuffer),
		closed:   make(chan struct{}),
	}
	go c.readPump()
	return c, nil
}

// readPump decodes server events until the connection fails. The default
// ping handler answers the server's keepalive pings while this runs.
func (c *Client) readPump() {
	defer close(c.incoming)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.readErr = err
			return
		}
		ev, err := decodeEvent(data)
		if err != nil {
			c.readErr = err
			return
		}
		select {
		case c.incoming <- ev:
		case <-c.closed:
			return
		}
	}
}

func decodeEvent(data []byte) (Event, error) {
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Event{}, fmt.Errorf("signalclient: decode envelope: %w", err)
	}

	ev := Event{Type: env.Type}
	var err error
	switch {
	case env.Type.IsRelay():
		ev.Relayed, err = protocol.DecodeRelayed(env.Type, env.Payload)
	case env.Type == protocol.EventReadyForCall:
		var p protocol.ReadyForCall
		err = json.Unmarshal(env.Payload, &p)
		ev.CallerID = p.CallerID
	case env.Type == protocol.EventCallEnd:
		var p protocol.CallEnded
		err = json.Unmarshal(env.Payload, &p)
		ev.FromUserID = p.FromUserID
	case env.Type == protocol.EventOpponentDisconnected:
		err = json.Unmarshal(env.Payload, &ev.Disconnected)
	case env.Type == protocol.EventError:
		ev.Err = &protocol.Error{}
		err = json.Unmarshal(env.Payload, ev.Err)
	}
	if err != nil {
		return Event{}, fmt.Errorf("signalclient: decode %s: %w", env.Type, err)
	}
	return ev, nil
}

// Events is closed when the connection ends; Err then reports why.
func (c *Client) Events() <-chan Event {
	return c.incoming
}

// Err returns the error that ended the read loop. It is only meaningful after
// Events has been closed.
func (c *Client) Err() error {
	return c.readErr
}

// Next waits for the next event.
func (c *Client) Next(ctx context.Context) (Event, error) {
	select {
	case ev, ok := <-c.incoming:
		if !ok {
			if c.readErr != nil {
				return Event{}, c.readErr
			}
			return Event{}, websocket.ErrCloseSent
		}
		return ev, nil
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

// NextOf waits for an event of type t, discarding others.
func (c *Client) NextOf(ctx context.Context, t protocol.EventType) (Event, error) {
	for {
		ev, err := c.Next(ctx)
		if err != nil {
			return Event{}, err
		}
		if ev.Type == t {
			return ev, nil
		}
	}
}

func (c *Client) UserID() string {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.userID
}

func (c *Client) Register(userID string) error {
	frame, err := protocol.Encode(protocol.EventRegister, userID)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.writeLocked(frame); err != nil {
		return err
	}
	c.userID = userID
	return nil
}

// JoinRoom joins roomID as the registered user.
func (c *Client) JoinRoom(roomID string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.userID == "" {
		return ErrNotRegistered
	}
	return c.writeLocked(protocol.MustEncode(protocol.EventJoinRoom, protocol.JoinRoom{RoomID: roomID, UserID: c.userID}))
}

func (c *Client) SendOffer(toUserID, roomID string, offer webrtc.SessionDescription) error {
	return c.relay(protocol.EventOffer, toUserID, roomID, offer)
}

func (c *Client) SendAnswer(toUserID, roomID string, answer webrtc.SessionDescription) error {
	return c.relay(protocol.EventAnswer, toUserID, roomID, answer)
}

func (c *Client) SendCandidate(toUserID, roomID string, candidate webrtc.ICECandidateInit) error {
	return c.relay(protocol.EventICECandidate, toUserID, roomID, candidate)
}

func (c *Client) CallEnd(toUserID, roomID string) error {
	return c.send(protocol.EventCallEnd, protocol.CallEndRequest{ToUserID: toUserID, RoomID: roomID})
}

func (c *Client) relay(kind protocol.EventType, toUserID, roomID string, blob any) error {
	raw, err := json.Marshal(blob)
	if err != nil {
		return fmt.Errorf("signalclient: encode %s: %w", kind, err)
	}
	return c.send(kind, protocol.RelayRequest{Kind: kind, ToUserID: toUserID, RoomID: roomID, Blob: raw})
}

func (c *Client) send(t protocol.EventType, payload any) error {
	frame, err := protocol.Encode(t, payload)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.userID == "" {
		return ErrNotRegistered
	}
	return c.writeLocked(frame)
}

func (c *Client) writeLocked(frame []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

// Close sends a normal close frame and tears down the connection.
func (c *Client) Close() error {
	var err error
	c.once.Do(func() {
		close(c.closed)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}
