package signaling

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/origin"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/ratelimit"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/registry"
)

// Config holds the per-connection limits of the WebSocket endpoint.
type Config struct {
	IdleTimeout          time.Duration
	PingInterval         time.Duration
	MaxMessageBytes      int64
	MaxMessagesPerSecond int
	SendQueueSize        int

	Origins origin.Policy
	// Clock drives the per-connection rate limiter; nil means wall time.
	Clock ratelimit.Clock
}

func ConfigFrom(cfg config.Config) Config {
	return Config{
		IdleTimeout:          cfg.SignalingWSIdleTimeout,
		PingInterval:         cfg.SignalingWSPingInterval,
		MaxMessageBytes:      cfg.MaxSignalingMessageBytes,
		MaxMessagesPerSecond: cfg.MaxSignalingMessagesPerSecond,
		SendQueueSize:        cfg.SignalingSendQueueSize,
		Origins:              origin.Policy{AllowedOrigins: cfg.AllowedOrigins},
	}
}

func (c Config) withDefaults() Config {
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = config.DefaultSignalingWSIdleTimeout
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.IdleTimeout {
		c.PingInterval = c.IdleTimeout / 3
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = config.DefaultMaxSignalingMessageBytes
	}
	if c.MaxMessagesPerSecond <= 0 {
		c.MaxMessagesPerSecond = config.DefaultMaxSignalingMessagesPerSecond
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = config.DefaultSignalingSendQueueSize
	}
	return c
}

// Server upgrades HTTP requests to signaling WebSockets and attaches them to
// a Hub.
type Server struct {
	hub      *Hub
	cfg      Config
	log      *slog.Logger
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader
}

func NewServer(hub *Hub, cfg Config, logger *slog.Logger) *Server {
	cfg = cfg.withDefaults()
	return &Server{
		hub:     hub,
		cfg:     cfg,
		log:     logger,
		metrics: hub.metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     cfg.Origins.Check,
		},
	}
}

// RegisterRoutes mounts the WebSocket endpoint at /ws and /socket.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("GET /ws", s)
	mux.Handle("GET /socket", s)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error response.
		s.log.Debug("websocket upgrade failed", "err", err, "origin", r.Header.Get("Origin"))
		return
	}
	ws.SetReadLimit(s.cfg.MaxMessageBytes)

	handle := registry.Handle(uuid.NewString())
	c := &Conn{
		handle:       handle,
		ws:           ws,
		hub:          s.hub,
		send:         make(chan []byte, s.cfg.SendQueueSize),
		log:          s.log.With("conn", string(handle)),
		limiter:      ratelimit.PerSecond(s.cfg.Clock, s.cfg.MaxMessagesPerSecond),
		idleTimeout:  s.cfg.IdleTimeout,
		pingInterval: s.cfg.PingInterval,
		metrics:      s.metrics,
	}

	if err := s.hub.connect(r.Context(), c); err != nil {
		writeClose(ws, closeGoingAway, "server shutting down")
		_ = ws.Close()
		return
	}

	go c.writePump()
	c.readPump()
}

// Shutdown waits for the hub to stop after its context was cancelled.
func (s *Server) Shutdown(ctx context.Context) error {
	select {
	case <-s.hub.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
