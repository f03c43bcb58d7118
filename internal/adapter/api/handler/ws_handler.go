package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/V4T54L/schoolpulse/internal/adapter/api/middleware"
	"github.com/V4T54L/schoolpulse/internal/domain"
	"github.com/V4T54L/schoolpulse/internal/usecase"
)

// WSConfig tunes websocket sessions.
type WSConfig struct {
	WriteTimeout time.Duration
	PongTimeout  time.Duration
	MaxMessage   int64
	InboundRate  float64 // messages per second
	InboundBurst int
	DevMode      bool
}

func (c WSConfig) withDefaults() WSConfig {
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = 60 * time.Second
	}
	if c.MaxMessage <= 0 {
		c.MaxMessage = 64 << 10
	}
	if c.InboundRate <= 0 {
		c.InboundRate = 20
	}
	if c.InboundBurst <= 0 {
		c.InboundBurst = 40
	}
	return c
}

// InboundMessage is a client-to-server websocket frame.
type InboundMessage struct {
	Type    string          `json:"type"` // join, leave or test
	Group   string          `json:"group,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// WSHandler upgrades requests to websocket sessions registered in the caller's tenant scope.
type WSHandler struct {
	binder   sessionBinder
	logger   *slog.Logger
	cfg      WSConfig
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(hub *usecase.SessionHub, resolver TenantResolver, logger *slog.Logger, cfg WSConfig) *WSHandler {
	return &WSHandler{
		binder: sessionBinder{hub: hub, resolver: resolver},
		logger: logger.With("component", "ws_handler"),
		cfg:    cfg.withDefaults(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// origins are enforced by the CORS layer and token verification
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
	}
}

// ServeHTTP handles GET /ws.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	scope, owner, err := h.binder.bind(r)
	if err != nil {
		middleware.WriteRoutingError(w, err, h.cfg.DevMode)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", "error", err, "remote_addr", r.RemoteAddr)
		return
	}

	sessionID := uuid.NewString()
	session := scope.Registry.Register(sessionID, owner)
	log := h.logger.With("session_id", sessionID, "tenant", scope.Tenant)
	log.Info("WebSocket session opened", "remote_addr", r.RemoteAddr)

	replies := make(chan domain.Event, 16)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writeLoop(conn, session, replies, log)
	}()

	h.readLoop(conn, scope, session, replies, log)

	scope.Registry.Unregister(sessionID)
	<-writerDone
	conn.Close()
	log.Info("WebSocket session closed", "dropped_events", session.Dropped())
}

// readLoop processes inbound frames in arrival order until the connection fails.
func (h *WSHandler) readLoop(conn *websocket.Conn, scope *usecase.Scope, session *usecase.Session, replies chan<- domain.Event, log *slog.Logger) {
	conn.SetReadLimit(h.cfg.MaxMessage)
	_ = conn.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))
	})

	limiter := rate.NewLimiter(rate.Limit(h.cfg.InboundRate), h.cfg.InboundBurst)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("WebSocket read error", "error", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))

		if !limiter.Allow() {
			h.reply(replies, "error", map[string]string{"error": "rate_limited"}, log)
			continue
		}

		var msg InboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.reply(replies, "error", map[string]string{"error": "invalid_message"}, log)
			continue
		}
		h.handleInbound(scope, session, msg, replies, log)
	}
}

func (h *WSHandler) handleInbound(scope *usecase.Scope, session *usecase.Session, msg InboundMessage, replies chan<- domain.Event, log *slog.Logger) {
	switch msg.Type {
	case "join":
		if err := scope.Registry.Join(session.ID, msg.Group); err != nil {
			h.reply(replies, "error", map[string]string{"error": groupErrorCode(err), "group": msg.Group}, log)
			return
		}
		h.reply(replies, "joined", map[string]string{"group": msg.Group}, log)
	case "leave":
		if err := scope.Registry.Leave(session.ID, msg.Group); err != nil {
			h.reply(replies, "error", map[string]string{"error": groupErrorCode(err), "group": msg.Group}, log)
			return
		}
		h.reply(replies, "left", map[string]string{"group": msg.Group}, log)
	case "test":
		var payload any
		if len(msg.Payload) > 0 {
			payload = msg.Payload
		}
		h.reply(replies, "test", payload, log)
	default:
		h.reply(replies, "error", map[string]string{"error": "unknown_type", "type": msg.Type}, log)
	}
}

// reply queues a response for this session only. Replies are dropped when the writer falls behind.
func (h *WSHandler) reply(replies chan<- domain.Event, name string, payload any, log *slog.Logger) {
	ev, err := usecase.NewEvent(name, payload)
	if err != nil {
		log.Error("failed to build reply", "event", name, "error", err)
		return
	}
	select {
	case replies <- ev:
	default:
		log.Warn("reply queue full, dropping reply", "event", name)
	}
}

// writeLoop is the only goroutine writing to conn.
func (h *WSHandler) writeLoop(conn *websocket.Conn, session *usecase.Session, replies <-chan domain.Event, log *slog.Logger) {
	ticker := time.NewTicker(h.cfg.PongTimeout * 9 / 10)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-session.Outbound():
			if !ok {
				// unregistered, e.g. on shutdown
				deadline := time.Now().Add(h.cfg.WriteTimeout)
				_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), deadline)
				conn.Close()
				return
			}
			if err := h.write(conn, ev); err != nil {
				log.Warn("WebSocket write failed, closing session", "error", err)
				conn.Close()
				return
			}
		case ev := <-replies:
			if err := h.write(conn, ev); err != nil {
				log.Warn("WebSocket write failed, closing session", "error", err)
				conn.Close()
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.cfg.WriteTimeout)); err != nil {
				log.Debug("WebSocket ping failed", "error", err)
				conn.Close()
				return
			}
		}
	}
}

func (h *WSHandler) write(conn *websocket.Conn, ev domain.Event) error {
	if err := conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(ev)
}

func groupErrorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrReservedGroup):
		return "reserved_group"
	case errors.Is(err, domain.ErrInvalidGroup):
		return "invalid_group"
	case errors.Is(err, domain.ErrSessionNotFound):
		return "session_closed"
	default:
		return "internal_error"
	}
}
