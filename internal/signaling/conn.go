package signaling

import (
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/protocol"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/ratelimit"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/registry"
)

const (
	writeWait = 10 * time.Second

	closeNormal    = websocket.CloseNormalClosure
	closeGoingAway = websocket.CloseGoingAway
)

// Conn is one client WebSocket. The read pump is the only reader and the
// write pump the only writer; the hub only touches send.
type Conn struct {
	handle registry.Handle
	ws     *websocket.Conn
	hub    *Hub
	send   chan []byte
	log    *slog.Logger

	limiter      *ratelimit.TokenBucket
	idleTimeout  time.Duration
	pingInterval time.Duration
	metrics      *metrics.Metrics

	closeMu     sync.Mutex
	closeSet    bool
	closeCode   int
	closeReason string
}

// setClose records the close frame the write pump sends. The first caller
// wins.
func (c *Conn) setClose(code int, reason string) {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closeSet {
		return
	}
	c.closeSet = true
	c.closeCode = code
	c.closeReason = reason
}

func (c *Conn) closeFrame() (int, string) {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if !c.closeSet {
		return closeNormal, ""
	}
	return c.closeCode, c.closeReason
}

// readPump feeds inbound frames to the hub until the connection fails, then
// reports the disconnect.
func (c *Conn) readPump() {
	defer c.hub.disconnect(c)

	_ = c.ws.SetReadDeadline(time.Now().Add(c.idleTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.idleTimeout))
	})

	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			c.recordReadError(err)
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(c.idleTimeout))

		if msgType != websocket.TextMessage {
			c.setClose(websocket.CloseUnsupportedData, "expected text message")
			return
		}

		// Rate limit after reading so we don't hold unread data in the socket.
		if !c.limiter.Allow(1) {
			c.metrics.Inc(metrics.RateLimited)
			c.log.Warn("signaling rate limit exceeded")
			c.hub.rejectMessage(c, &protocol.Error{Code: protocol.CodeRateLimited, Message: "too many messages"})
			c.setClose(websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}

		if !c.hub.message(c, data) {
			return
		}
	}
}

func (c *Conn) recordReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Info("signaling message too large")
		c.setClose(websocket.CloseMessageTooBig, "message too large")
	case isTimeout(err):
		c.log.Info("signaling connection idle timeout")
		c.setClose(closeNormal, "idle timeout")
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		c.log.Debug("client closed connection")
	default:
		c.log.Debug("signaling read failed", "err", err)
	}
}

// writePump drains the send queue and pings the client. It exits when the
// hub closes the queue, the hub stops or a write fails.
func (c *Conn) writePump() {
	ticker := time.NewTicker(c.pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if !ok {
				code, reason := c.closeFrame()
				writeClose(c.ws, code, reason)
				return
			}
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.log.Debug("signaling write failed", "err", err)
				return
			}

		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.log.Debug("signaling ping failed", "err", err)
				return
			}

		case <-c.hub.done:
			c.setClose(closeGoingAway, "server shutting down")
			code, reason := c.closeFrame()
			writeClose(c.ws, code, reason)
			return
		}
	}
}

func writeClose(ws *websocket.Conn, code int, reason string) {
	_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
